package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/andrebq/famvault/session"
	"github.com/andrebq/famvault/vault"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

type (
	SignupRequest struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"fullName"`
		Role     string `json:"role,omitempty"`
	}

	LoginRequest struct {
		// Identifier is either the username or the email
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
)

// Signup creates a member account and promotes sess to it.
//
// Self registration never grants admin, asking for it is ErrForbidden.
func (s *Service) Signup(ctx context.Context, sess *session.Session, req SignupRequest) (*vault.User, error) {
	u, err := s.createUser(ctx, req, false)
	if err != nil {
		return nil, err
	}
	sess.Promote(u.ID, string(u.Role))
	return u, nil
}

// CreateUser is the administrative path to add accounts, the only one that
// can create other admins.
func (s *Service) CreateUser(ctx context.Context, req SignupRequest) (*vault.User, error) {
	return s.createUser(ctx, req, true)
}

// Login checks username (or email) and password, and on success promotes sess.
//
// Unknown users and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, sess *session.Session, req LoginRequest) (*vault.User, error) {
	if req.Identifier == "" {
		return nil, ValidationError{Field: "identifier", Reason: "is required"}
	}
	if req.Password == "" {
		return nil, ValidationError{Field: "password", Reason: "is required"}
	}
	u, err := s.users.FindUser(ctx, req.Identifier)
	if errors.As(err, &vault.UserNotFound{}) {
		bcrypt.CompareHashAndPassword(s.dummyHash, []byte(req.Password))
		return nil, ErrInvalidCredentials
	} else if err != nil {
		return nil, storeError(err)
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(req.Password)) != nil {
		return nil, ErrInvalidCredentials
	}
	sess.Promote(u.ID, string(u.Role))
	return u, nil
}

// SetRole changes the stored role of userID. Sessions already promoted keep
// their cached role until they log in again.
func (s *Service) SetRole(ctx context.Context, userID string, role vault.Role) error {
	if !role.Valid() {
		return ValidationError{Field: "role", Reason: "must be admin or member"}
	}
	err := s.users.SetRole(ctx, userID, role)
	if errors.As(err, &vault.UserNotFound{}) {
		return ErrUserNotFound
	} else if err != nil {
		return storeError(err)
	}
	return nil
}

func (s *Service) createUser(ctx context.Context, req SignupRequest, allowAdmin bool) (*vault.User, error) {
	role, err := req.validate(allowAdmin)
	if err != nil {
		return nil, err
	}
	username, email := strings.TrimSpace(req.Username), strings.TrimSpace(req.Email)
	exists, err := s.users.UserExists(ctx, username, email)
	if err != nil {
		return nil, storeError(err)
	} else if exists {
		return nil, ErrDuplicateUser
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, ValidationError{Field: "password", Reason: "is too long"}
		}
		return nil, err
	}
	u := &vault.User{
		Username:     username,
		Email:        email,
		FullName:     strings.TrimSpace(req.FullName),
		Role:         role,
		PasswordHash: hash,
	}
	err = s.users.CreateUser(ctx, u)
	if errors.As(err, &vault.DuplicateUser{}) {
		// lost a race against another signup
		return nil, ErrDuplicateUser
	} else if err != nil {
		return nil, storeError(err)
	}
	return u, nil
}

func (r SignupRequest) validate(allowAdmin bool) (vault.Role, error) {
	switch {
	case strings.TrimSpace(r.Username) == "":
		return "", ValidationError{Field: "username", Reason: "is required"}
	case strings.TrimSpace(r.Email) == "":
		return "", ValidationError{Field: "email", Reason: "is required"}
	case r.Password == "":
		return "", ValidationError{Field: "password", Reason: "is required"}
	case strings.TrimSpace(r.FullName) == "":
		return "", ValidationError{Field: "fullName", Reason: "is required"}
	}
	if strings.Contains(r.Username, "@") {
		return "", ValidationError{Field: "username", Reason: "cannot contain @"}
	}
	if len(r.Password) < minPasswordLength {
		return "", ValidationError{Field: "password", Reason: fmt.Sprintf("must have at least %v characters", minPasswordLength)}
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(r.Email)); err != nil {
		return "", ValidationError{Field: "email", Reason: "is not a valid address"}
	}
	role := vault.Role(r.Role)
	if role == "" {
		role = vault.RoleMember
	}
	if !role.Valid() {
		return "", ValidationError{Field: "role", Reason: "must be admin or member"}
	}
	if role == vault.RoleAdmin && !allowAdmin {
		return "", ErrForbidden
	}
	return role, nil
}
