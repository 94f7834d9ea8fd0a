package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/andrebq/famvault/session"
	"github.com/andrebq/famvault/vault"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"
)

type (
	BiometricStatus struct {
		Enabled      bool   `json:"biometricEnabled"`
		CredentialID string `json:"credentialId,omitempty"`
	}

	webauthnUser struct {
		u *vault.User
	}
)

var credentialParameters = []protocol.CredentialParameter{
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgEdDSA},
}

func (w webauthnUser) WebAuthnID() []byte {
	return []byte(w.u.ID)
}

func (w webauthnUser) WebAuthnName() string {
	return w.u.Email
}

func (w webauthnUser) WebAuthnDisplayName() string {
	if w.u.FullName == "" {
		return w.u.Username
	}
	return w.u.FullName
}

func (w webauthnUser) WebAuthnIcon() string {
	return ""
}

func (w webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	c := w.u.Credential
	if c == nil {
		return nil
	}
	id, err := base64.RawURLEncoding.DecodeString(c.ID)
	if err != nil {
		return nil
	}
	return []webauthn.Credential{{
		ID:              id,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       []protocol.AuthenticatorTransport{protocol.Internal},
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.SignCount,
		},
	}}
}

// BeginRegistration starts binding a platform authenticator to the user
// behind sess. Any ceremony already pending on sess is replaced.
func (s *Service) BeginRegistration(ctx context.Context, sess *session.Session) (*protocol.CredentialCreation, error) {
	if !sess.Authenticated() {
		return nil, ErrUnauthenticated
	}
	u, err := s.userByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	opts, data, err := s.webauthn.BeginRegistration(webauthnUser{u},
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			UserVerification:        protocol.VerificationRequired,
		}),
		webauthn.WithCredentialParameters(credentialParameters),
		webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
	)
	if err != nil {
		return nil, fmt.Errorf("%w, cause %w", ErrVerification, err)
	}
	if err := s.challenges.issue(sess, ceremonyRegistration, data); err != nil {
		return nil, err
	}
	return opts, nil
}

// FinishRegistration verifies the authenticator answer against the pending
// registration challenge and stores the resulting credential, replacing the
// previous one.
func (s *Service) FinishRegistration(ctx context.Context, sess *session.Session, payload []byte) (*BiometricStatus, error) {
	if !sess.Authenticated() {
		return nil, ErrUnauthenticated
	}
	data, _, err := s.challenges.consume(sess, ceremonyRegistration)
	if err != nil {
		return nil, err
	}
	u, err := s.userByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	cred, err := ParseRegistrationCredential(payload)
	if err != nil {
		return nil, err
	}
	parsed, err := cred.parse()
	if err != nil {
		return nil, rejected(err)
	}
	created, err := s.webauthn.CreateCredential(webauthnUser{u}, *data, parsed)
	if err != nil {
		return nil, rejected(err)
	}
	stored := &vault.Credential{
		ID:              base64.RawURLEncoding.EncodeToString(created.ID),
		PublicKey:       created.PublicKey,
		AttestationType: created.AttestationType,
		AAGUID:          created.Authenticator.AAGUID,
		SignCount:       created.Authenticator.SignCount,
	}
	err = s.users.SetCredential(ctx, u.ID, stored)
	if errors.As(err, &vault.UserNotFound{}) {
		return nil, ErrUserNotFound
	} else if errors.As(err, &vault.CredentialInUse{}) {
		return nil, rejected(err)
	} else if err != nil {
		return nil, storeError(err)
	}
	return &BiometricStatus{Enabled: true, CredentialID: stored.ID}, nil
}

// BeginLogin starts a biometric login for the user named by identifier
// (username or email). The session stays anonymous until FinishLogin.
func (s *Service) BeginLogin(ctx context.Context, sess *session.Session, identifier string) (*protocol.CredentialAssertion, error) {
	if identifier == "" {
		return nil, ValidationError{Field: "identifier", Reason: "is required"}
	}
	u, err := s.users.FindUser(ctx, identifier)
	if errors.As(err, &vault.UserNotFound{}) {
		return nil, ErrNotRegistered
	} else if err != nil {
		return nil, storeError(err)
	}
	if !u.BiometricEnabled() {
		return nil, ErrNotRegistered
	}
	opts, data, err := s.webauthn.BeginLogin(webauthnUser{u},
		webauthn.WithUserVerification(protocol.VerificationRequired))
	if err != nil {
		return nil, fmt.Errorf("%w, cause %w", ErrVerification, err)
	}
	if err := s.challenges.issue(sess, ceremonyLogin, data); err != nil {
		return nil, err
	}
	sess.PendingLoginUserID = u.ID
	return opts, nil
}

// FinishLogin verifies the assertion against the pending login challenge
// and, on success, promotes sess to the user that started the login.
//
// The signature counter must move forward, a counter that stays put or goes
// back means the credential was cloned and the assertion is rejected.
func (s *Service) FinishLogin(ctx context.Context, sess *session.Session, payload []byte) (*vault.User, error) {
	data, pendingUser, err := s.challenges.consume(sess, ceremonyLogin)
	switch {
	case errors.Is(err, ErrNoPendingCeremony):
		return nil, ErrNoPendingLogin
	case err != nil:
		return nil, err
	case pendingUser == "":
		return nil, ErrNoPendingLogin
	}
	u, err := s.userByID(ctx, pendingUser)
	if err != nil {
		return nil, err
	}
	if !u.BiometricEnabled() {
		return nil, ErrNotRegistered
	}
	cred, err := ParseAssertionCredential(payload)
	if err != nil {
		return nil, err
	}
	parsed, err := cred.parse()
	if err != nil {
		return nil, rejected(err)
	}
	validated, err := s.webauthn.ValidateLogin(webauthnUser{u}, *data, parsed)
	if err != nil {
		return nil, rejected(err)
	}
	if validated.Authenticator.CloneWarning {
		return nil, rejected(errors.New("signature counter did not increase"))
	}
	err = s.users.UpdateSignCount(ctx, u.ID, validated.Authenticator.SignCount)
	if err != nil {
		return nil, storeError(err)
	}
	u.Credential.SignCount = validated.Authenticator.SignCount
	sess.Promote(u.ID, string(u.Role))
	return u, nil
}

func (s *Service) BiometricStatus(ctx context.Context, sess *session.Session) (*BiometricStatus, error) {
	u, err := s.CurrentUser(ctx, sess)
	if err != nil {
		return nil, err
	}
	st := &BiometricStatus{Enabled: u.BiometricEnabled()}
	if st.Enabled {
		st.CredentialID = u.Credential.ID
	}
	return st, nil
}

// DisableBiometric removes the credential of the user behind sess.
// Disabling twice is not an error.
func (s *Service) DisableBiometric(ctx context.Context, sess *session.Session) error {
	if !sess.Authenticated() {
		return ErrUnauthenticated
	}
	if err := s.users.DeleteCredential(ctx, sess.UserID); err != nil {
		return storeError(err)
	}
	return nil
}
