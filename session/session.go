// Package session keeps the server side state bound to the session cookie.
//
// A session starts anonymous, gets promoted once the user proves who they
// are (password, signup or biometric assertion) and carries at most one
// pending biometric challenge at a time.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

type (
	Session struct {
		ID string `json:"-"`

		UserID string `json:"userId,omitempty"`
		// Role is a cached copy of the user role taken when the session was promoted
		Role string `json:"role,omitempty"`

		Pending            *Challenge `json:"pending,omitempty"`
		PendingLoginUserID string     `json:"pendingLoginUserId,omitempty"`

		CreatedAt time.Time `json:"createdAt"`
		ExpiresAt time.Time `json:"expiresAt"`

		rotate bool
	}

	// Challenge is a ceremony waiting for its verification step.
	Challenge struct {
		Ceremony string          `json:"ceremony"`
		Value    string          `json:"value"`
		Data     json.RawMessage `json:"data,omitempty"`
		IssuedAt time.Time       `json:"issuedAt"`
	}
)

const idSize = 32

func (s *Session) Authenticated() bool {
	return s.UserID != ""
}

// Promote marks the session as authenticated for userID.
//
// Any pending login is dropped and the session id is replaced
// once the session is saved.
func (s *Session) Promote(userID, role string) {
	s.UserID = userID
	s.Role = role
	s.PendingLoginUserID = ""
	s.rotate = true
}

// TakeChallenge returns the pending challenge (if any) and clears it,
// together with the pending login.
func (s *Session) TakeChallenge() (*Challenge, string) {
	c, pending := s.Pending, s.PendingLoginUserID
	s.Pending = nil
	s.PendingLoginUserID = ""
	return c, pending
}

func (s *Session) clone() *Session {
	cp := *s
	if s.Pending != nil {
		p := *s.Pending
		cp.Pending = &p
	}
	return &cp
}

func (s *Session) encode() ([]byte, error) {
	return json.Marshal(s)
}

func decode(id string, buf []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(buf, &s); err != nil {
		return nil, fmt.Errorf("session: unable to decode session state, cause %w", err)
	}
	s.ID = id
	return &s, nil
}

func newID() (string, error) {
	var buf [idSize]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("session: unable to generate session id, cause %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

func validID(id string) bool {
	buf, err := base64.RawURLEncoding.DecodeString(id)
	return err == nil && len(buf) == idSize
}
