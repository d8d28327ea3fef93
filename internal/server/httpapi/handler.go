package httpapi

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/agriflow/internal/common"
	"github.com/dmitrijs2005/agriflow/internal/server/models"
	"github.com/dmitrijs2005/agriflow/internal/server/services"
	"github.com/dmitrijs2005/agriflow/internal/validator"
)

// Every credential failure gets this body so callers cannot tell which
// part was wrong.
const msgInvalidCredentials = "invalid email or password"

// registerRequest has no role: self-registered accounts get the default one.
type registerRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,password"`
	FirstName string `json:"firstName" validate:"max=100"`
	LastName  string `json:"lastName" validate:"max=100"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	User *models.User `json:"user"`
	*services.TokenPair
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,password,nefield=CurrentPassword"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// bind decodes and validates the body into dst, writing a 400 on failure.
func (s *HTTPServer) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}

	if err := s.validator.Validate(dst); err != nil {
		var ve validator.ValidationError
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusBadRequest, messageResponse{Message: "validation failed", Errors: ve})
			return false
		}
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *HTTPServer) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.bind(w, r, &req) {
		return
	}

	user, err := s.users.Register(r.Context(), services.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			writeMessage(w, http.StatusConflict, "user already exists")
			return
		}
		s.logger.Error(r.Context(), "registration failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

func (s *HTTPServer) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.bind(w, r, &req) {
		return
	}

	sess, err := s.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			writeMessage(w, http.StatusUnauthorized, msgInvalidCredentials)
			return
		}
		writeMessage(w, http.StatusInternalServerError, "internal error")
		return
	}

	session, _ := s.store.Get(r, common.SessionName)
	session.Values[sessionUserID] = sess.User.ID
	session.Values[sessionCredVersion] = sess.User.CredentialVersion
	if err := session.Save(r, w); err != nil {
		s.logger.Error(r.Context(), "session save failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{User: sess.User, TokenPair: sess.Tokens})
}

// logout drops the session cookie and, when a refresh token is supplied,
// revokes it. The body is optional.
func (s *HTTPServer) logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.users.Logout(r.Context(), req.RefreshToken); err != nil {
		s.logger.Error(r.Context(), "refresh token revocation failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal error")
		return
	}

	session, _ := s.store.Get(r, common.SessionName)
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		writeMessage(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeMessage(w, http.StatusOK, "logged out")
}

func (s *HTTPServer) currentUser(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) changePassword(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	var req changePasswordRequest
	if !s.bind(w, r, &req) {
		return
	}

	version, err := s.users.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			writeMessage(w, http.StatusUnauthorized, msgInvalidCredentials)
			return
		}
		s.logger.Error(r.Context(), "password change failed", "user_id", user.ID, "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal error")
		return
	}

	// keep the caller's own cookie session valid
	session, _ := s.store.Get(r, common.SessionName)
	if id, _ := session.Values[sessionUserID].(string); id == user.ID {
		session.Values[sessionCredVersion] = version
		if err := session.Save(r, w); err != nil {
			s.logger.Warn(r.Context(), "session save failed", "error", err)
		}
	}

	writeMessage(w, http.StatusOK, "password changed")
}

func (s *HTTPServer) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.bind(w, r, &req) {
		return
	}

	tokens, err := s.users.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) || errors.Is(err, common.ErrRefreshTokenExpired) {
			writeMessage(w, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		s.logger.Error(r.Context(), "token refresh failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}
