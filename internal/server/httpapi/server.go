// Package httpapi exposes the auth service over JSON/HTTP with cookie
// sessions and bearer access tokens.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/agriflow/internal/logging"
	"github.com/dmitrijs2005/agriflow/internal/server/models"
	"github.com/dmitrijs2005/agriflow/internal/server/services"
	"github.com/dmitrijs2005/agriflow/internal/validator"
	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
)

const shutdownTimeout = 10 * time.Second

// Users is the part of services.UserService the handlers call.
type Users interface {
	Register(ctx context.Context, in services.RegisterInput) (*models.User, error)
	Login(ctx context.Context, email, password string) (*services.Session, error)
	Logout(ctx context.Context, refreshToken string) error
	ChangePassword(ctx context.Context, userID, current, next string) (int64, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Authenticate(ctx context.Context, userID string, credentialVersion int64) (*models.User, error)
	AuthenticateToken(ctx context.Context, accessToken string) (*models.User, error)
}

type HTTPServer struct {
	address   string
	users     Users
	store     sessions.Store
	validator *validator.Validator
	logger    logging.Logger
}

func NewHTTPServer(address string, l logging.Logger, us Users, store sessions.Store, v *validator.Validator) *HTTPServer {
	return &HTTPServer{
		address:   address,
		users:     us,
		store:     store,
		validator: v,
		logger:    l.With("module", "http_server"),
	}
}

// Handler returns the routed API.
func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/register", s.register).Methods(http.MethodPost)
	api.HandleFunc("/login", s.login).Methods(http.MethodPost)
	api.HandleFunc("/logout", s.logout).Methods(http.MethodPost)
	api.HandleFunc("/auth/refresh", s.refresh).Methods(http.MethodPost)
	api.HandleFunc("/auth/user", s.requireAuth(s.currentUser)).Methods(http.MethodGet)
	api.HandleFunc("/auth/password", s.requireAuth(s.changePassword)).Methods(http.MethodPost)

	return r
}

// Run serves until ctx is cancelled, then stops accepting connections and
// waits for in-flight requests to finish before returning. Request contexts
// are not derived from ctx, so a stop does not abort them.
func (s *HTTPServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	drained := make(chan struct{})

	go func() {
		defer close(drained)

		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "HTTP server shutdown error", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	// Serve returns as soon as Shutdown starts
	<-drained
	return nil
}
