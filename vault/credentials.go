package vault

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type (
	// Credential is the public half of a biometric (WebAuthn) key.
	Credential struct {
		// ID is the base64url (no padding) form of the authenticator raw id
		ID              string
		PublicKey       []byte
		AttestationType string
		AAGUID          []byte
		SignCount       uint32
		CreatedAt       time.Time
	}
)

// SetCredential replaces whatever credential userID had with cred.
func (c *Control) SetCredential(ctx context.Context, userID string, cred *Credential) error {
	cred.CreatedAt = c.now().UTC().Truncate(time.Second)
	return c.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		err := tx.QueryRowContext(ctx, `select count(*) from users where user_id = ?`, userID).Scan(&n)
		if err != nil {
			return fmt.Errorf("unable to lookup user %v, cause %w", userID, err)
		} else if n == 0 {
			return UserNotFound{Key: userID}
		}
		_, err = tx.ExecContext(ctx, `delete from credentials where user_id = ?`, userID)
		if err != nil {
			return fmt.Errorf("unable to remove previous credential of %v, cause %w", userID, err)
		}
		_, err = tx.ExecContext(ctx, `insert into credentials(user_id, credential_id, public_key, attestation_type, aaguid, sign_count, created_at)
			values (?, ?, ?, ?, ?, ?, ?)`,
			userID, cred.ID, cred.PublicKey, cred.AttestationType, cred.AAGUID, int64(cred.SignCount), cred.CreatedAt.Unix())
		if isUniqueViolation(err) {
			return CredentialInUse{ID: cred.ID}
		} else if err != nil {
			return fmt.Errorf("unable to store credential of %v, cause %w", userID, err)
		}
		return nil
	})
}

// DeleteCredential disables biometric login for userID.
// Deleting a credential that does not exist is not an error.
func (c *Control) DeleteCredential(ctx context.Context, userID string) error {
	_, err := c.db.ExecContext(ctx, `delete from credentials where user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("unable to delete credential of %v, cause %w", userID, err)
	}
	return nil
}

func (c *Control) UpdateSignCount(ctx context.Context, userID string, count uint32) error {
	res, err := c.db.ExecContext(ctx, `update credentials set sign_count = ? where user_id = ?`, int64(count), userID)
	if err != nil {
		return fmt.Errorf("unable to update sign count of %v, cause %w", userID, err)
	}
	return expectOne(res, UserNotFound{Key: userID})
}
