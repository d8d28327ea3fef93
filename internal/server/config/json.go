package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/agriflow/internal/flagx"
	"github.com/dmitrijs2005/agriflow/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations accept
// both "15m" strings and integer nanoseconds.
type JsonConfig struct {
	EndpointAddrHTTP             string         `json:"endpoint_addr_http"`
	DatabaseDSN                  string         `json:"database_dsn"`
	SecretKey                    string         `json:"secret_key"`
	SessionKey                   string         `json:"session_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	MaxConcurrentHashes          int64          `json:"max_concurrent_hashes"`
	SecureCookies                *bool          `json:"secure_cookies"`
}

// parseJson overlays the file named by -c/-config onto config. Only keys
// present in the file replace the current values. A missing flag loads
// nothing; an unreadable or invalid file panics.
func parseJson(config *Config, args []string) {
	path := flagx.ConfigPath(args)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.EndpointAddrHTTP != "" {
		config.EndpointAddrHTTP = c.EndpointAddrHTTP
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.SessionKey != "" {
		config.SessionKey = c.SessionKey
	}
	if c.AccessTokenValidityDuration.Duration > 0 {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.RefreshTokenValidityDuration.Duration > 0 {
		config.RefreshTokenValidityDuration = c.RefreshTokenValidityDuration.Duration
	}
	if c.MaxConcurrentHashes > 0 {
		config.MaxConcurrentHashes = c.MaxConcurrentHashes
	}
	if c.SecureCookies != nil {
		config.SecureCookies = *c.SecureCookies
	}
}
