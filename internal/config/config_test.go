package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	var c Config
	c.LoadDefaults()
	require.NoError(t, c.Validate())
	require.Equal(t, 24*time.Hour, c.SessionTTL)
	require.Equal(t, time.Minute, c.ChallengeTTL)
	require.Equal(t, 10, c.BcryptCost)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
	}{
		{"no origins", func(c *Config) { c.RPOrigins = nil }},
		{"bad origin", func(c *Config) { c.RPOrigins = []string{"localhost"} }},
		{"weak bcrypt", func(c *Config) { c.BcryptCost = 4 }},
		{"challenge outlives session", func(c *Config) { c.ChallengeTTL = 48 * time.Hour }},
		{"no rp id", func(c *Config) { c.RPID = "" }},
		{"no vault", func(c *Config) { c.Vault = "" }},
		{"relative frontend", func(c *Config) { c.Frontend = "/ui" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()
			tc.mutate(&c)
			require.Error(t, c.Validate())
		})
	}
}
