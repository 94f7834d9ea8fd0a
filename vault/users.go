package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	Role string

	User struct {
		ID           string
		Username     string
		Email        string
		FullName     string
		Role         Role
		PasswordHash []byte
		CreatedAt    time.Time

		// Credential is nil unless biometric login is enabled
		Credential *Credential
	}

	Stats struct {
		Users          int64 `json:"users"`
		Admins         int64 `json:"admins"`
		BiometricUsers int64 `json:"biometricUsers"`
		Files          int64 `json:"files"`
		Bytes          int64 `json:"bytes"`
	}
)

const (
	RoleAdmin  = Role("admin")
	RoleMember = Role("member")
)

const selectUser = `select u.user_id, u.username, u.email, u.full_name, u.role, u.password_hash, u.created_at,
	c.credential_id, c.public_key, c.attestation_type, c.aaguid, c.sign_count, c.created_at
	from users u left join credentials c on c.user_id = u.user_id`

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

// BiometricEnabled is derived from the presence of a credential,
// so the flag can never disagree with the stored key material.
func (u *User) BiometricEnabled() bool {
	return u.Credential != nil
}

// UserExists performs a single lookup matching either value against both
// username and email, an identifier never resolves to two users.
func (c *Control) UserExists(ctx context.Context, username, email string) (bool, error) {
	n, err := countIdentifiers(ctx, c.db, username, email)
	if err != nil {
		return false, fmt.Errorf("unable to check for existing users, cause %w", err)
	}
	return n > 0, nil
}

// CreateUser assigns a new id to u and persists it.
func (c *Control) CreateUser(ctx context.Context, u *User) error {
	if !u.Role.Valid() {
		return fmt.Errorf("invalid role %q", u.Role)
	}
	u.ID = uuid.NewString()
	u.CreatedAt = c.now().UTC().Truncate(time.Second)
	u.Credential = nil
	return c.withTx(ctx, func(tx *sql.Tx) error {
		// the unique constraints only cover one column each
		n, err := countIdentifiers(ctx, tx, u.Username, u.Email)
		if err != nil {
			return fmt.Errorf("unable to check for existing users, cause %w", err)
		} else if n > 0 {
			return DuplicateUser{}
		}
		_, err = tx.ExecContext(ctx, `insert into users(user_id, username, email, full_name, role, password_hash, created_at)
			values (?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.Username, u.Email, u.FullName, string(u.Role), u.PasswordHash, u.CreatedAt.Unix())
		if isUniqueViolation(err) {
			return DuplicateUser{}
		} else if err != nil {
			return fmt.Errorf("unable to store user %v, cause %w", u.Username, err)
		}
		return nil
	})
}

// FindUser returns the user whose username or email matches identifier exactly.
// An email match wins over a username match.
func (c *Control) FindUser(ctx context.Context, identifier string) (*User, error) {
	return c.loadUser(ctx, identifier, selectUser+` where u.username = ? or u.email = ?
		order by (u.email = ?) desc, u.created_at limit 1`, identifier, identifier, identifier)
}

func (c *Control) UserByID(ctx context.Context, id string) (*User, error) {
	return c.loadUser(ctx, id, selectUser+` where u.user_id = ?`, id)
}

func (c *Control) SetRole(ctx context.Context, userID string, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	res, err := c.db.ExecContext(ctx, `update users set role = ? where user_id = ?`, string(role), userID)
	if err != nil {
		return fmt.Errorf("unable to change role of %v, cause %w", userID, err)
	}
	return expectOne(res, UserNotFound{Key: userID})
}

func (c *Control) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.db.QueryRowContext(ctx, `select
		(select count(*) from users),
		(select count(*) from users where role = 'admin'),
		(select count(*) from credentials),
		(select count(*) from files),
		(select coalesce(sum(size), 0) from files)`).Scan(&s.Users, &s.Admins, &s.BiometricUsers, &s.Files, &s.Bytes)
	if err != nil {
		return Stats{}, fmt.Errorf("unable to compute vault stats, cause %w", err)
	}
	return s, nil
}

func (c *Control) loadUser(ctx context.Context, key string, query string, args ...interface{}) (*User, error) {
	var u User
	var role string
	var created int64
	var credID, attType sql.NullString
	var pubKey, aaguid []byte
	var signCount, credCreated sql.NullInt64
	err := c.db.QueryRowContext(ctx, query, args...).Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &role, &u.PasswordHash, &created,
		&credID, &pubKey, &attType, &aaguid, &signCount, &credCreated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, UserNotFound{Key: key}
	} else if err != nil {
		return nil, fmt.Errorf("unable to load user %v, cause %w", key, err)
	}
	u.Role = Role(role)
	u.CreatedAt = time.Unix(created, 0).UTC()
	if credID.Valid {
		u.Credential = &Credential{
			ID:              credID.String,
			PublicKey:       pubKey,
			AttestationType: attType.String,
			AAGUID:          aaguid,
			SignCount:       uint32(signCount.Int64),
			CreatedAt:       time.Unix(credCreated.Int64, 0).UTC(),
		}
	}
	return &u, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func countIdentifiers(ctx context.Context, q queryer, username, email string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `select count(*) from users where username in (?, ?) or email in (?, ?)`,
		username, email, username, email).Scan(&n)
	return n, err
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to check affected rows, cause %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
