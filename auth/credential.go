package auth

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
)

type (
	// RegistrationCredential is the authenticator answer to a registration
	// challenge, as produced by navigator.credentials.create.
	RegistrationCredential struct {
		ID                      string `json:"id"`
		RawID                   string `json:"rawId"`
		Type                    string `json:"type"`
		AuthenticatorAttachment string `json:"authenticatorAttachment,omitempty"`
		Response                struct {
			ClientDataJSON    string   `json:"clientDataJSON"`
			AttestationObject string   `json:"attestationObject"`
			Transports        []string `json:"transports,omitempty"`
		} `json:"response"`
	}

	// AssertionCredential is the authenticator answer to a login
	// challenge, as produced by navigator.credentials.get.
	AssertionCredential struct {
		ID                      string `json:"id"`
		RawID                   string `json:"rawId"`
		Type                    string `json:"type"`
		AuthenticatorAttachment string `json:"authenticatorAttachment,omitempty"`
		Response                struct {
			ClientDataJSON    string `json:"clientDataJSON"`
			AuthenticatorData string `json:"authenticatorData"`
			Signature         string `json:"signature"`
			UserHandle        string `json:"userHandle,omitempty"`
		} `json:"response"`
	}

	field struct {
		name  string
		value string
	}
)

const publicKeyType = "public-key"

// ParseRegistrationCredential decodes and structurally validates a
// registration payload. Nothing cryptographic is checked here.
func ParseRegistrationCredential(payload []byte) (*RegistrationCredential, error) {
	var c RegistrationCredential
	if err := decodeStrict(payload, &c); err != nil {
		return nil, err
	}
	err := validateFields(c.ID, c.RawID, c.Type,
		field{"response.clientDataJSON", c.Response.ClientDataJSON},
		field{"response.attestationObject", c.Response.AttestationObject})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ParseAssertionCredential decodes and structurally validates an
// assertion payload. Nothing cryptographic is checked here.
func ParseAssertionCredential(payload []byte) (*AssertionCredential, error) {
	var c AssertionCredential
	if err := decodeStrict(payload, &c); err != nil {
		return nil, err
	}
	err := validateFields(c.ID, c.RawID, c.Type,
		field{"response.clientDataJSON", c.Response.ClientDataJSON},
		field{"response.authenticatorData", c.Response.AuthenticatorData},
		field{"response.signature", c.Response.Signature})
	if err != nil {
		return nil, err
	}
	if c.Response.UserHandle != "" && !isBase64URL(c.Response.UserHandle) {
		return nil, ValidationError{Field: "credential.response.userHandle", Reason: "must be base64url encoded"}
	}
	return &c, nil
}

func (c *RegistrationCredential) parse() (*protocol.ParsedCredentialCreationData, error) {
	buf, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return protocol.ParseCredentialCreationResponseBody(bytes.NewReader(buf))
}

func (c *AssertionCredential) parse() (*protocol.ParsedCredentialAssertionData, error) {
	buf, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return protocol.ParseCredentialRequestResponseBody(bytes.NewReader(buf))
}

func decodeStrict(payload []byte, out interface{}) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return ValidationError{Field: "credential", Reason: "is required"}
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(out); err != nil {
		return ValidationError{Field: "credential", Reason: "is not a valid credential object"}
	}
	return nil
}

func validateFields(id, rawID, kind string, fields ...field) error {
	if kind != publicKeyType {
		return ValidationError{Field: "credential.type", Reason: "must be public-key"}
	}
	fields = append([]field{{"id", id}, {"rawId", rawID}}, fields...)
	for _, f := range fields {
		if f.value == "" {
			return ValidationError{Field: "credential." + f.name, Reason: "is required"}
		}
		if !isBase64URL(f.value) {
			return ValidationError{Field: "credential." + f.name, Reason: "must be base64url encoded"}
		}
	}
	if strings.TrimRight(id, "=") != strings.TrimRight(rawID, "=") {
		return ValidationError{Field: "credential.rawId", Reason: "must match id"}
	}
	return nil
}

func isBase64URL(v string) bool {
	_, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(v, "="))
	return err == nil
}
