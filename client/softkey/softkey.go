// Package softkey is a software platform authenticator.
//
// It speaks just enough WebAuthn to answer the challenges issued by a
// famvault server: "none" attestation, a single ES256 key, user presence
// and user verification always asserted. Useful for tests and scripted
// clients, never as a replacement for a real authenticator.
package softkey

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/andrebq/famvault/auth"
	"github.com/fxamacker/cbor/v2"
)

type (
	Authenticator struct {
		sync.Mutex

		origin string
		key    *ecdsa.PrivateKey

		credID     []byte
		rpID       string
		userHandle []byte
		counter    uint32
	}

	creationOptions struct {
		PublicKey struct {
			Challenge string `json:"challenge"`
			RP        struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"rp"`
			User struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"user"`
			PubKeyCredParams []struct {
				Type string `json:"type"`
				Alg  int    `json:"alg"`
			} `json:"pubKeyCredParams"`
		} `json:"publicKey"`
	}

	requestOptions struct {
		PublicKey struct {
			Challenge        string `json:"challenge"`
			RPID             string `json:"rpId"`
			AllowCredentials []struct {
				Type string `json:"type"`
				ID   string `json:"id"`
			} `json:"allowCredentials"`
		} `json:"publicKey"`
	}

	clientData struct {
		Type        string `json:"type"`
		Challenge   string `json:"challenge"`
		Origin      string `json:"origin"`
		CrossOrigin bool   `json:"crossOrigin"`
	}

	attestationObject struct {
		Fmt      string                 `cbor:"fmt"`
		AttStmt  map[string]interface{} `cbor:"attStmt"`
		AuthData []byte                 `cbor:"authData"`
	}
)

const (
	flagUserPresent  = 0x01
	flagUserVerified = 0x04
	flagAttestedData = 0x40

	algES256 = -7
)

var (
	ErrNoCredential      = errors.New("softkey: authenticator holds no credential")
	ErrUnknownCredential = errors.New("softkey: none of the allowed credentials belong to this authenticator")
	ErrUnsupportedAlg    = errors.New("softkey: relying party does not accept ES256")

	encMode = mustEncMode()
)

// New returns an authenticator that claims to run inside a browser
// displaying origin.
func New(origin string) (*Authenticator, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("softkey: unable to generate key, cause %w", err)
	}
	return &Authenticator{origin: origin, key: key}, nil
}

// Register answers a registration challenge (the JSON returned by the
// register/start endpoint). A fresh credential replaces the previous one.
func (a *Authenticator) Register(options []byte) (*auth.RegistrationCredential, error) {
	var opts creationOptions
	if err := json.Unmarshal(options, &opts); err != nil {
		return nil, fmt.Errorf("softkey: invalid creation options, cause %w", err)
	}
	pk := opts.PublicKey
	if !acceptsES256(pk.PubKeyCredParams) {
		return nil, ErrUnsupportedAlg
	}
	userHandle, err := decode(pk.User.ID)
	if err != nil {
		return nil, fmt.Errorf("softkey: invalid user handle, cause %w", err)
	}

	a.Lock()
	defer a.Unlock()

	credID := make([]byte, 32)
	if _, err := rand.Read(credID); err != nil {
		return nil, fmt.Errorf("softkey: unable to generate credential id, cause %w", err)
	}
	a.credID = credID
	a.rpID = pk.RP.ID
	a.userHandle = userHandle
	a.counter = 0

	cose, err := encMode.Marshal(map[int]interface{}{
		1:  2, // kty: EC2
		3:  algES256,
		-1: 1, // crv: P-256
		-2: pad32(a.key.X.Bytes()),
		-3: pad32(a.key.Y.Bytes()),
	})
	if err != nil {
		return nil, fmt.Errorf("softkey: unable to encode public key, cause %w", err)
	}
	authData := a.authData(flagUserPresent | flagUserVerified | flagAttestedData)
	authData = append(authData, make([]byte, 16)...) // aaguid
	authData = binary.BigEndian.AppendUint16(authData, uint16(len(credID)))
	authData = append(authData, credID...)
	authData = append(authData, cose...)

	attObj, err := encMode.Marshal(attestationObject{
		Fmt:      "none",
		AttStmt:  map[string]interface{}{},
		AuthData: authData,
	})
	if err != nil {
		return nil, fmt.Errorf("softkey: unable to encode attestation, cause %w", err)
	}
	cdata, err := a.clientData("webauthn.create", pk.Challenge)
	if err != nil {
		return nil, err
	}

	var out auth.RegistrationCredential
	out.ID = encode(credID)
	out.RawID = out.ID
	out.Type = "public-key"
	out.AuthenticatorAttachment = "platform"
	out.Response.ClientDataJSON = encode(cdata)
	out.Response.AttestationObject = encode(attObj)
	out.Response.Transports = []string{"internal"}
	return &out, nil
}

// Assert answers a login challenge (the JSON returned by the login/start
// endpoint). Every assertion moves the signature counter forward.
func (a *Authenticator) Assert(options []byte) (*auth.AssertionCredential, error) {
	var opts requestOptions
	if err := json.Unmarshal(options, &opts); err != nil {
		return nil, fmt.Errorf("softkey: invalid request options, cause %w", err)
	}

	a.Lock()
	defer a.Unlock()

	if a.credID == nil {
		return nil, ErrNoCredential
	}
	pk := opts.PublicKey
	if !a.allowed(pk.AllowCredentials) {
		return nil, ErrUnknownCredential
	}
	if pk.RPID != "" {
		a.rpID = pk.RPID
	}
	a.counter++
	authData := a.authData(flagUserPresent | flagUserVerified)
	cdata, err := a.clientData("webauthn.get", pk.Challenge)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(cdata)
	signed := sha256.Sum256(append(append([]byte(nil), authData...), digest[:]...))
	sig, err := ecdsa.SignASN1(rand.Reader, a.key, signed[:])
	if err != nil {
		return nil, fmt.Errorf("softkey: unable to sign assertion, cause %w", err)
	}

	var out auth.AssertionCredential
	out.ID = encode(a.credID)
	out.RawID = out.ID
	out.Type = "public-key"
	out.AuthenticatorAttachment = "platform"
	out.Response.ClientDataJSON = encode(cdata)
	out.Response.AuthenticatorData = encode(authData)
	out.Response.Signature = encode(sig)
	out.Response.UserHandle = encode(a.userHandle)
	return &out, nil
}

// SetCounter overrides the signature counter, the next assertion
// uses n+1.
func (a *Authenticator) SetCounter(n uint32) {
	a.Lock()
	a.counter = n
	a.Unlock()
}

func (a *Authenticator) Counter() uint32 {
	a.Lock()
	defer a.Unlock()
	return a.counter
}

// CredentialID returns the base64url id of the current credential,
// empty if Register was never called.
func (a *Authenticator) CredentialID() string {
	a.Lock()
	defer a.Unlock()
	if a.credID == nil {
		return ""
	}
	return encode(a.credID)
}

func (a *Authenticator) authData(flags byte) []byte {
	rpHash := sha256.Sum256([]byte(a.rpID))
	buf := make([]byte, 0, 37)
	buf = append(buf, rpHash[:]...)
	buf = append(buf, flags)
	return binary.BigEndian.AppendUint32(buf, a.counter)
}

func (a *Authenticator) clientData(kind, challenge string) ([]byte, error) {
	buf, err := json.Marshal(clientData{
		Type:      kind,
		Challenge: challenge,
		Origin:    a.origin,
	})
	if err != nil {
		return nil, fmt.Errorf("softkey: unable to encode client data, cause %w", err)
	}
	return buf, nil
}

func (a *Authenticator) allowed(list []struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}) bool {
	if len(list) == 0 {
		return true
	}
	mine := encode(a.credID)
	for _, c := range list {
		if strings.TrimRight(c.ID, "=") == mine {
			return true
		}
	}
	return false
}

func acceptsES256(params []struct {
	Type string `json:"type"`
	Alg  int    `json:"alg"`
}) bool {
	for _, p := range params {
		if p.Type == "public-key" && p.Alg == algES256 {
			return true
		}
	}
	return false
}

func encode(buf []byte) string {
	return base64.RawURLEncoding.EncodeToString(buf)
}

func decode(v string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(v, "="))
}

func pad32(buf []byte) []byte {
	if len(buf) >= 32 {
		return buf
	}
	out := make([]byte, 32)
	copy(out[32-len(buf):], buf)
	return out
}

func mustEncMode() cbor.EncMode {
	em, err := cbor.CTAP2EncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}
