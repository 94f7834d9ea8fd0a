// Package config holds the runtime settings of the famvault server.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type (
	Config struct {
		Bind  string
		Vault string
		// Dev relaxes cookie security and exposes error details in responses
		Dev bool

		RPID          string
		RPDisplayName string
		RPOrigins     []string

		CookieName   string
		SessionTTL   time.Duration
		ChallengeTTL time.Duration

		BcryptCost int

		MaxUploadSize int64

		// Frontend, when set, receives every request famvault does not handle
		Frontend string
	}
)

// LoadDefaults populates c with values suitable for a local development instance.
func (c *Config) LoadDefaults() {
	c.Bind = "localhost:7020"
	c.Vault = "famvault"
	c.Dev = false
	c.RPID = "localhost"
	c.RPDisplayName = "Family Vault"
	c.RPOrigins = []string{"http://localhost:5173"}
	c.CookieName = "famvault.sid"
	c.SessionTTL = 24 * time.Hour
	c.ChallengeTTL = time.Minute
	c.BcryptCost = bcrypt.DefaultCost
	c.MaxUploadSize = 10 << 20
}

func (c *Config) Validate() error {
	if c.Bind == "" {
		return errors.New("config: missing bind address")
	}
	if c.Vault == "" {
		return errors.New("config: missing vault path")
	}
	if c.RPID == "" || c.RPDisplayName == "" {
		return errors.New("config: relying party id and name are required")
	}
	if len(c.RPOrigins) == 0 {
		return errors.New("config: at least one relying party origin is required")
	}
	for _, o := range c.RPOrigins {
		u, err := url.Parse(o)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: invalid relying party origin %q", o)
		}
	}
	if c.CookieName == "" {
		return errors.New("config: missing cookie name")
	}
	if c.SessionTTL <= 0 || c.ChallengeTTL <= 0 {
		return errors.New("config: session and challenge ttl must be positive")
	}
	if c.ChallengeTTL > c.SessionTTL {
		return fmt.Errorf("config: challenge ttl %v cannot exceed session ttl %v", c.ChallengeTTL, c.SessionTTL)
	}
	if c.BcryptCost < 10 || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("config: bcrypt cost must be between 10 and %v, got %v", bcrypt.MaxCost, c.BcryptCost)
	}
	if c.MaxUploadSize <= 0 {
		return errors.New("config: max upload size must be positive")
	}
	if c.Frontend != "" {
		u, err := url.Parse(c.Frontend)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: invalid frontend url %q", c.Frontend)
		}
	}
	return nil
}
