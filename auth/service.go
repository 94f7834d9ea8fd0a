// Package auth decides who is talking to the vault and what they are
// allowed to read.
//
// Users prove who they are either with a password or with a platform
// authenticator (WebAuthn). Both paths end the same way: the session is
// promoted with the user id and a cached copy of the user role.
//
// Biometric ceremonies are two step state machines driven by the session:
// the first step stores a single-use challenge in the session, the second
// step consumes it (successful or not) and verifies the authenticator
// response against it. A challenge is never accepted after ChallengeTTL.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andrebq/famvault/session"
	"github.com/andrebq/famvault/vault"
	"github.com/go-webauthn/webauthn/webauthn"
	"golang.org/x/crypto/bcrypt"
)

type (
	// UserStore is the subset of the vault used by the auth service
	UserStore interface {
		UserExists(ctx context.Context, username, email string) (bool, error)
		CreateUser(ctx context.Context, u *vault.User) error
		FindUser(ctx context.Context, identifier string) (*vault.User, error)
		UserByID(ctx context.Context, id string) (*vault.User, error)
		SetRole(ctx context.Context, userID string, role vault.Role) error
		SetCredential(ctx context.Context, userID string, cred *vault.Credential) error
		DeleteCredential(ctx context.Context, userID string) error
		UpdateSignCount(ctx context.Context, userID string, count uint32) error
	}

	Options struct {
		RPID          string
		RPDisplayName string
		RPOrigins     []string

		ChallengeTTL time.Duration
		BcryptCost   int

		Now func() time.Time
	}

	Service struct {
		users      UserStore
		webauthn   *webauthn.WebAuthn
		challenges challengeIssuer
		bcryptCost int
		// compared against when the user does not exist,
		// keeps unknown users as slow as wrong passwords
		dummyHash []byte
	}
)

func New(users UserStore, opts Options) (*Service, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ChallengeTTL <= 0 {
		opts.ChallengeTTL = time.Minute
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          opts.RPID,
		RPDisplayName: opts.RPDisplayName,
		RPOrigins:     opts.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: invalid relying party configuration, cause %w", err)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("famvault-dummy-password"), opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("auth: unable to prepare password hashing, cause %w", err)
	}
	return &Service{
		users:    users,
		webauthn: wa,
		challenges: challengeIssuer{
			ttl: opts.ChallengeTTL,
			now: opts.Now,
		},
		bcryptCost: opts.BcryptCost,
		dummyHash:  dummy,
	}, nil
}

// CurrentUser loads the user behind an authenticated session from the store.
func (s *Service) CurrentUser(ctx context.Context, sess *session.Session) (*vault.User, error) {
	if !sess.Authenticated() {
		return nil, ErrUnauthenticated
	}
	return s.userByID(ctx, sess.UserID)
}

func (s *Service) User(ctx context.Context, id string) (*vault.User, error) {
	return s.userByID(ctx, id)
}

func (s *Service) userByID(ctx context.Context, id string) (*vault.User, error) {
	u, err := s.users.UserByID(ctx, id)
	if errors.As(err, &vault.UserNotFound{}) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, storeError(err)
	}
	return u, nil
}

// Lookup returns the user whose username or email is identifier.
func (s *Service) Lookup(ctx context.Context, identifier string) (*vault.User, error) {
	u, err := s.users.FindUser(ctx, identifier)
	if errors.As(err, &vault.UserNotFound{}) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, storeError(err)
	}
	return u, nil
}
