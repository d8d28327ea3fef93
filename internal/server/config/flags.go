package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/agriflow/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
//	-a string   HTTP bind address (e.g. ":5000")
//	-d string   PostgreSQL DSN
//	-s string   access token HMAC secret
//	-k string   session cookie key
//	-t int      access token validity, minutes
//	-r int      refresh token validity, minutes
//	-m int      max concurrent password hashes
//	-secure     mark the session cookie Secure
//
// Arguments that are not listed above are filtered out first, so -c/-config
// can share the command line. A malformed value panics.
func parseFlags(config *Config, args []string) {
	args = flagx.FilterArgs(args, []string{"-a", "-d", "-s", "-k", "-t", "-r", "-m", "-secure"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "access token secret key")
	fs.StringVar(&config.SessionKey, "k", config.SessionKey, "session cookie key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")
	refreshTokenValidityDuration := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh_token_validity_duration (in minutes)")

	fs.Int64Var(&config.MaxConcurrentHashes, "m", config.MaxConcurrentHashes, "max concurrent password hashes")
	fs.BoolVar(&config.SecureCookies, "secure", config.SecureCookies, "secure session cookie")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	config.RefreshTokenValidityDuration = time.Duration(*refreshTokenValidityDuration) * time.Minute
}
