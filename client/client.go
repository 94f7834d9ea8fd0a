// Package client talks to a famvault server over HTTP.
//
// A Client keeps the session cookie between calls, so a sequence like
// Signup, RegisterBiometric, Logout, LoginBiometric behaves exactly like a
// browser tab would.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/andrebq/famvault/auth"
	"github.com/andrebq/famvault/vault"
)

type (
	// Authenticator answers WebAuthn challenges, see softkey for an
	// implementation that lives in memory.
	Authenticator interface {
		Register(options []byte) (*auth.RegistrationCredential, error)
		Assert(options []byte) (*auth.AssertionCredential, error)
	}

	Client struct {
		base *url.URL
		http *http.Client
	}

	// APIError is any non 2xx answer from the server
	APIError struct {
		Status  int
		Message string `json:"error"`
		Detail  string `json:"detail"`
	}

	userBody struct {
		User auth.Profile `json:"user"`
	}

	fileBody struct {
		File vault.File `json:"file"`
	}

	fileListBody struct {
		Files []vault.File `json:"files"`
	}
)

func (a APIError) Error() string {
	if a.Detail != "" {
		return fmt.Sprintf("famvault: %v %v (%v)", a.Status, a.Message, a.Detail)
	}
	return fmt.Sprintf("famvault: %v %v", a.Status, a.Message)
}

// New returns a client for the server at baseURL (eg.: http://localhost:7020).
// When hc is nil a fresh http.Client is used, either way the client
// gets its own cookie jar.
func New(baseURL string, hc *http.Client) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("famvault: invalid base url %v, cause %w", baseURL, err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	cp := http.Client{}
	if hc != nil {
		cp = *hc
	}
	cp.Jar = jar
	return &Client{base: base, http: &cp}, nil
}

func (c *Client) Signup(ctx context.Context, req auth.SignupRequest) (*auth.Profile, error) {
	var out userBody
	if err := c.do(ctx, "POST", "/api/auth/signup", req, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

func (c *Client) Login(ctx context.Context, identifier, password string) (*auth.Profile, error) {
	var out userBody
	err := c.do(ctx, "POST", "/api/auth/login", auth.LoginRequest{Identifier: identifier, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	return &out.User, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, "POST", "/api/auth/logout", nil, nil)
}

func (c *Client) Me(ctx context.Context) (*auth.Profile, error) {
	var out userBody
	if err := c.do(ctx, "GET", "/api/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// RegisterBiometric runs both steps of the registration ceremony using key
// to answer the challenge.
func (c *Client) RegisterBiometric(ctx context.Context, key Authenticator) (*auth.BiometricStatus, error) {
	var options json.RawMessage
	if err := c.do(ctx, "POST", "/api/auth/biometric/register", nil, &options); err != nil {
		return nil, err
	}
	cred, err := key.Register(options)
	if err != nil {
		return nil, err
	}
	var status auth.BiometricStatus
	err = c.do(ctx, "POST", "/api/auth/biometric/register/verify", map[string]interface{}{"credential": cred}, &status)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// LoginBiometric runs both steps of the authentication ceremony for identifier.
func (c *Client) LoginBiometric(ctx context.Context, identifier string, key Authenticator) (*auth.Profile, error) {
	var options json.RawMessage
	err := c.do(ctx, "POST", "/api/auth/biometric/login", map[string]string{"identifier": identifier}, &options)
	if err != nil {
		return nil, err
	}
	cred, err := key.Assert(options)
	if err != nil {
		return nil, err
	}
	var out userBody
	err = c.do(ctx, "POST", "/api/auth/biometric/login/verify", map[string]interface{}{"credential": cred}, &out)
	if err != nil {
		return nil, err
	}
	return &out.User, nil
}

func (c *Client) BiometricStatus(ctx context.Context) (*auth.BiometricStatus, error) {
	var status auth.BiometricStatus
	if err := c.do(ctx, "GET", "/api/auth/biometric/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) DisableBiometric(ctx context.Context) error {
	return c.do(ctx, "POST", "/api/auth/biometric/disable", nil, nil)
}

func (c *Client) Stats(ctx context.Context) (*vault.Stats, error) {
	var st vault.Stats
	if err := c.do(ctx, "GET", "/api/admin/stats", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Upload sends content as name, the server picks the stored file name.
func (c *Client) Upload(ctx context.Context, name string, content io.Reader) (*vault.File, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, "POST", "/uploads", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out fileBody
	if err := c.send(req, &out); err != nil {
		return nil, err
	}
	return &out.File, nil
}

func (c *Client) Files(ctx context.Context) ([]vault.File, error) {
	var out fileListBody
	if err := c.do(ctx, "GET", "/api/files", nil, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// Download writes the content of the stored file name to out.
func (c *Client) Download(ctx context.Context, name string, out io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, "GET", "/uploads/"+url.PathEscape(name), nil)
	if err != nil {
		return 0, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return 0, readError(res)
	}
	return io.Copy(out, res.Body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) send(req *http.Request, out interface{}) error {
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return readError(res)
	}
	if out == nil {
		io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("famvault: unable to decode response from %v, cause %w", req.URL.Path, err)
	}
	return nil
}

func readError(res *http.Response) error {
	apiErr := APIError{Status: res.StatusCode}
	buf, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if json.Unmarshal(buf, &apiErr) != nil || apiErr.Message == "" {
		apiErr.Message = http.StatusText(res.StatusCode)
	}
	return apiErr
}
