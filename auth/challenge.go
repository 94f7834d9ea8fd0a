package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/andrebq/famvault/session"
	"github.com/go-webauthn/webauthn/webauthn"
)

type (
	challengeIssuer struct {
		ttl time.Duration
		now func() time.Time
	}
)

const (
	ceremonyRegistration = "registration"
	ceremonyLogin        = "login"

	minChallengeSize = 32
)

// issue stores the ceremony state in the session, replacing whatever
// ceremony was pending before.
func (c challengeIssuer) issue(sess *session.Session, ceremony string, data *webauthn.SessionData) error {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data.Challenge, "="))
	if err != nil || len(raw) < minChallengeSize {
		return fmt.Errorf("%w, cause challenge is shorter than %v bytes", ErrVerification, minChallengeSize)
	}
	buf, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w, cause %w", ErrVerification, err)
	}
	sess.TakeChallenge()
	sess.Pending = &session.Challenge{
		Ceremony: ceremony,
		Value:    data.Challenge,
		Data:     buf,
		IssuedAt: c.now().UTC(),
	}
	return nil
}

// consume removes the pending challenge from the session. The challenge is
// gone after this call no matter what the outcome of the ceremony is.
func (c challengeIssuer) consume(sess *session.Session, ceremony string) (*webauthn.SessionData, string, error) {
	ch, pendingUser := sess.TakeChallenge()
	if ch == nil || ch.Ceremony != ceremony {
		return nil, "", ErrNoPendingCeremony
	}
	if c.now().Sub(ch.IssuedAt) > c.ttl {
		return nil, "", ErrChallengeExpired
	}
	var data webauthn.SessionData
	if err := json.Unmarshal(ch.Data, &data); err != nil {
		return nil, "", fmt.Errorf("%w, cause unable to decode ceremony state %w", ErrVerification, err)
	}
	if data.Challenge != ch.Value {
		return nil, "", fmt.Errorf("%w, cause ceremony state does not match the issued challenge", ErrVerification)
	}
	return &data, pendingUser, nil
}
