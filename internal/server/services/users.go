// Package services holds the server use cases built on the repositories.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/agriflow/internal/common"
	"github.com/dmitrijs2005/agriflow/internal/dbx"
	"github.com/dmitrijs2005/agriflow/internal/logging"
	"github.com/dmitrijs2005/agriflow/internal/server/auth"
	"github.com/dmitrijs2005/agriflow/internal/server/config"
	"github.com/dmitrijs2005/agriflow/internal/server/models"
	"github.com/dmitrijs2005/agriflow/internal/server/repositories/repomanager"
	"golang.org/x/sync/semaphore"
)

// Hasher is the credential primitive the service needs; *credential.Hasher
// satisfies it.
type Hasher interface {
	Derive(plaintext string) (string, error)
	Check(plaintext, stored string) (bool, error)
}

// TokenPair is handed to API clients: a short-lived JWT access token and an
// opaque single-use refresh token.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Session is the outcome of a successful login.
type Session struct {
	User   *models.User
	Tokens *TokenPair
}

// RegisterInput carries a new account. Email is normalised and an empty
// Role becomes models.RoleFarmManager.
type RegisterInput struct {
	Email           string
	Password        string
	FirstName       string
	LastName        string
	ProfileImageURL string
	Role            string
}

// UserService implements registration, login and token handling on top of
// the credential verifier. KDF runs are bounded by a weighted semaphore.
type UserService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	hasher                       Hasher
	limiter                      *semaphore.Weighted
	logger                       logging.Logger
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration

	// dummyHash is checked when the account does not exist, so an unknown
	// email costs the same KDF run as a wrong password.
	dummyHash string
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, hasher Hasher, cfg *config.Config, logger logging.Logger) (*UserService, error) {
	dummy, err := hasher.Derive("agriflow-dummy-password")
	if err != nil {
		return nil, fmt.Errorf("error preparing dummy credential: %w", err)
	}

	n := cfg.MaxConcurrentHashes
	if n < 1 {
		n = 1
	}

	return &UserService{
		db:                           db,
		repomanager:                  m,
		hasher:                       hasher,
		limiter:                      semaphore.NewWeighted(n),
		logger:                       logger.With("module", "user_service"),
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		dummyHash:                    dummy,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// derive runs the KDF under the concurrency limit.
func (s *UserService) derive(ctx context.Context, plaintext string) (string, error) {
	if err := s.limiter.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer s.limiter.Release(1)

	return s.hasher.Derive(plaintext)
}

// verify runs the KDF under the concurrency limit. The returned error only
// reports a failed acquire; credential failures are logged and folded into
// the boolean.
func (s *UserService) verify(ctx context.Context, userID, plaintext, stored string) (bool, error) {
	if err := s.limiter.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer s.limiter.Release(1)

	ok, err := s.hasher.Check(plaintext, stored)
	if err != nil {
		s.logger.Warn(ctx, "stored credential rejected", "user_id", userID, "error", err)
		return false, nil
	}
	return ok, nil
}

// Register hashes the password and stores a new user. Hashing failures abort
// the registration; a taken email yields common.ErrorAlreadyExists.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	hash, err := s.derive(ctx, in.Password)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	role := in.Role
	if role == "" {
		role = models.RoleFarmManager
	}

	user := &models.User{
		Email:           normalizeEmail(in.Email),
		PasswordHash:    hash,
		FirstName:       in.FirstName,
		LastName:        in.LastName,
		ProfileImageURL: in.ProfileImageURL,
		Role:            role,
	}

	user, err = s.repomanager.Users(s.db).Create(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID)
	return user, nil
}

// Login checks the password of the account behind email. Unknown accounts,
// wrong passwords and corrupted stored hashes all yield
// common.ErrorUnauthorized.
func (s *UserService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			if _, err := s.verify(ctx, "", password, s.dummyHash); err != nil {
				return nil, common.ErrorInternal
			}
			return nil, common.ErrorUnauthorized
		}
		s.logger.Error(ctx, "user lookup failed", "error", err)
		return nil, common.ErrorInternal
	}

	ok, err := s.verify(ctx, user.ID, password, user.PasswordHash)
	if err != nil {
		return nil, common.ErrorInternal
	}
	if !ok {
		return nil, common.ErrorUnauthorized
	}

	tokens, err := s.generateTokenPair(ctx, s.db, user)
	if err != nil {
		return nil, err
	}

	return &Session{User: user, Tokens: tokens}, nil
}

// Logout revokes refreshToken. An empty token is a no-op.
func (s *UserService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.repomanager.RefreshTokens(s.db).Delete(ctx, refreshToken); err != nil {
		return fmt.Errorf("error deleting refresh token: %w", err)
	}
	return nil
}

// ChangePassword replaces the stored hash after checking current. The new
// hash and the revocation of all refresh tokens commit together. It returns
// the new credential version.
func (s *UserService) ChangePassword(ctx context.Context, userID, current, next string) (int64, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return 0, common.ErrorUnauthorized
		}
		return 0, common.ErrorInternal
	}

	ok, err := s.verify(ctx, user.ID, current, user.PasswordHash)
	if err != nil {
		return 0, common.ErrorInternal
	}
	if !ok {
		return 0, common.ErrorUnauthorized
	}

	hash, err := s.derive(ctx, next)
	if err != nil {
		return 0, fmt.Errorf("error hashing password: %w", err)
	}

	var version int64
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		version, err = s.repomanager.Users(tx).UpdatePassword(ctx, user.ID, hash)
		if err != nil {
			return fmt.Errorf("error updating password: %w", err)
		}
		if err := s.repomanager.RefreshTokens(tx).DeleteByUser(ctx, user.ID); err != nil {
			return fmt.Errorf("error revoking refresh tokens: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info(ctx, "password changed", "user_id", user.ID)
	return version, nil
}

// RefreshToken rotates refreshToken into a new token pair. The old token is
// consumed inside the transaction, so concurrent calls with the same token
// yield at most one new pair. An expired token is removed and rejected with
// common.ErrRefreshTokenExpired.
func (s *UserService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	var (
		tokenPair *TokenPair
		expired   bool
	)

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		token, err := s.repomanager.RefreshTokens(tx).Consume(ctx, refreshToken)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrorUnauthorized
			}
			return fmt.Errorf("error consuming refresh token: %w", err)
		}

		// commit the removal of the dead row
		if token.Expires.Before(time.Now()) {
			expired = true
			return nil
		}

		user, err := s.repomanager.Users(tx).GetByID(ctx, token.UserID)
		if err != nil {
			return fmt.Errorf("error loading user: %w", err)
		}

		tokenPair, err = s.generateTokenPair(ctx, tx, user)
		if err != nil {
			return fmt.Errorf("error generating token pair: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if expired {
		return nil, common.ErrRefreshTokenExpired
	}
	return tokenPair, nil
}

// Authenticate resolves an already established identity (session cookie or
// access token). Identities issued before the last password change are
// rejected.
func (s *UserService) Authenticate(ctx context.Context, userID string, credentialVersion int64) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}

	if user.CredentialVersion != credentialVersion {
		return nil, common.ErrorUnauthorized
	}

	return user, nil
}

// AuthenticateToken parses a bearer access token and resolves its user.
func (s *UserService) AuthenticateToken(ctx context.Context, accessToken string) (*models.User, error) {
	claims, err := auth.ParseToken(accessToken, s.jwtSecret)
	if err != nil {
		return nil, common.ErrorUnauthorized
	}
	return s.Authenticate(ctx, claims.UserID, claims.CredentialVersion)
}

func (s *UserService) generateTokenPair(ctx context.Context, db dbx.DBTX, user *models.User) (*TokenPair, error) {
	accessToken, err := auth.GenerateToken(user.ID, user.CredentialVersion, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}

	refreshToken, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, common.ErrorInternal
	}

	if err := s.repomanager.RefreshTokens(db).Create(ctx, user.ID, refreshToken, s.refreshTokenValidityDuration); err != nil {
		return nil, common.ErrorInternal
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}
