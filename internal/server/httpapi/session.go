package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/agriflow/internal/server/config"
	"github.com/gorilla/sessions"
)

const (
	sessionUserID      = "user_id"
	sessionCredVersion = "cred_version"
)

// NewCookieStore returns the session store for cfg. Sessions live as long as
// refresh tokens.
func NewCookieStore(cfg *config.Config) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(cfg.SessionKey))
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(cfg.RefreshTokenValidityDuration.Seconds()),
	}
	return store
}
