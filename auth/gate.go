package auth

import (
	"context"
	"errors"

	"github.com/andrebq/famvault/session"
	"github.com/andrebq/famvault/vault"
)

// CanAccess is the ownership-or-admin rule applied to the cached session
// state only. It never touches the store.
func CanAccess(sess *session.Session, ownerID string) bool {
	if !sess.Authenticated() {
		return false
	}
	return sess.UserID == ownerID || vault.Role(sess.Role) == vault.RoleAdmin
}

// Authorize applies the same rule as CanAccess, except that non-owners
// have their role read back from the store: a demoted admin loses access
// right away and a promoted member gains it without logging in again.
func (s *Service) Authorize(ctx context.Context, sess *session.Session, ownerID string) error {
	if !sess.Authenticated() {
		return ErrUnauthenticated
	}
	live := *sess
	if sess.UserID != ownerID {
		u, err := s.CurrentUser(ctx, sess)
		if errors.Is(err, ErrUserNotFound) {
			return ErrForbidden
		} else if err != nil {
			return err
		}
		live.Role = string(u.Role)
	}
	if !CanAccess(&live, ownerID) {
		return ErrForbidden
	}
	return nil
}

// RequireRole checks the stored role of the session user.
func (s *Service) RequireRole(ctx context.Context, sess *session.Session, role vault.Role) error {
	u, err := s.CurrentUser(ctx, sess)
	if errors.Is(err, ErrUserNotFound) {
		// account removed while the session was alive
		return ErrForbidden
	} else if err != nil {
		return err
	}
	if u.Role != role {
		return ErrForbidden
	}
	return nil
}
