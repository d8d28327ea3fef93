package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/agriflow/internal/common"
	"github.com/dmitrijs2005/agriflow/internal/server/models"
)

type ctxKey string

const userKey ctxKey = "user"

func userFromContext(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(userKey).(*models.User)
	return u, ok
}

// requireAuth resolves the caller from a bearer token or, failing that, the
// session cookie. Either must still match the current credential version.
func (s *HTTPServer) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var (
			user *models.User
			err  error
		)

		if token, ok := bearerToken(r); ok {
			user, err = s.users.AuthenticateToken(ctx, token)
		} else {
			user, err = s.sessionUser(r)
		}

		if err != nil {
			if errors.Is(err, common.ErrorUnauthorized) {
				writeMessage(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			s.logger.Error(ctx, "authentication failed", "error", err)
			writeMessage(w, http.StatusInternalServerError, "internal error")
			return
		}

		next(w, r.WithContext(context.WithValue(ctx, userKey, user)))
	}
}

func (s *HTTPServer) sessionUser(r *http.Request) (*models.User, error) {
	// a cookie that fails to decode yields a fresh empty session
	session, _ := s.store.Get(r, common.SessionName)

	userID, ok1 := session.Values[sessionUserID].(string)
	version, ok2 := session.Values[sessionCredVersion].(int64)
	if !ok1 || !ok2 || userID == "" {
		return nil, common.ErrorUnauthorized
	}

	return s.users.Authenticate(r.Context(), userID, version)
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Info(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
