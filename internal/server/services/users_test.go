package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/agriflow/internal/common"
	"github.com/dmitrijs2005/agriflow/internal/credential"
	"github.com/dmitrijs2005/agriflow/internal/dbx"
	"github.com/dmitrijs2005/agriflow/internal/logging"
	"github.com/dmitrijs2005/agriflow/internal/server/auth"
	"github.com/dmitrijs2005/agriflow/internal/server/config"
	"github.com/dmitrijs2005/agriflow/internal/server/models"
	refreshtokensrepo "github.com/dmitrijs2005/agriflow/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/agriflow/internal/server/repositories/repomanager"
	usersrepo "github.com/dmitrijs2005/agriflow/internal/server/repositories/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func testConfig() *config.Config {
	return &config.Config{
		SecretKey:                    "k",
		AccessTokenValidityDuration:  time.Hour,
		RefreshTokenValidityDuration: 2 * time.Hour,
		MaxConcurrentHashes:          2,
	}
}

// countingHasher wraps a cheap credential hasher and counts KDF calls.
type countingHasher struct {
	h         *credential.Hasher
	deriveErr error
	checks    atomic.Int32
}

func newCountingHasher() *countingHasher {
	return &countingHasher{h: credential.New(credential.WithCost(16), credential.WithBlockSize(1))}
}

func (c *countingHasher) Derive(p string) (string, error) {
	if c.deriveErr != nil {
		return "", c.deriveErr
	}
	return c.h.Derive(p)
}

func (c *countingHasher) Check(p, stored string) (bool, error) {
	c.checks.Add(1)
	return c.h.Check(p, stored)
}

type fakeUsersRepo struct {
	byEmail   map[string]*models.User
	getErr    error
	createErr error
	updateErr error
}

func newFakeUsersRepo(users ...*models.User) *fakeUsersRepo {
	f := &fakeUsersRepo{byEmail: map[string]*models.User{}}
	for _, u := range users {
		f.byEmail[u.Email] = u
	}
	return f
}

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if _, ok := f.byEmail[u.Email]; ok {
		return nil, common.ErrorAlreadyExists
	}
	if u.ID == "" {
		u.ID = "id-" + u.Email
	}
	f.byEmail[u.Email] = u
	return u, nil
}

func (f *fakeUsersRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byEmail[email]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

func (f *fakeUsersRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) UpdatePassword(ctx context.Context, id, hash string) (int64, error) {
	if f.updateErr != nil {
		return 0, f.updateErr
	}
	u, err := f.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	u.PasswordHash = hash
	u.CredentialVersion++
	return u.CredentialVersion, nil
}

func (f *fakeUsersRepo) DeleteByEmail(_ context.Context, email string) error {
	delete(f.byEmail, email)
	return nil
}

type fakeRefreshRepo struct {
	tokens    map[string]*models.RefreshToken
	createErr error
	delErr    error
}

func newFakeRefreshRepo() *fakeRefreshRepo {
	return &fakeRefreshRepo{tokens: map[string]*models.RefreshToken{}}
}

func (f *fakeRefreshRepo) Create(_ context.Context, userID, token string, validity time.Duration) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.tokens[token] = &models.RefreshToken{UserID: userID, Token: token, Expires: time.Now().Add(validity)}
	return nil
}

func (f *fakeRefreshRepo) Consume(_ context.Context, token string) (*models.RefreshToken, error) {
	if f.delErr != nil {
		return nil, f.delErr
	}
	t, ok := f.tokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	delete(f.tokens, token)
	return t, nil
}

func (f *fakeRefreshRepo) Delete(_ context.Context, token string) error {
	if f.delErr != nil {
		return f.delErr
	}
	delete(f.tokens, token)
	return nil
}

func (f *fakeRefreshRepo) DeleteByUser(_ context.Context, userID string) error {
	if f.delErr != nil {
		return f.delErr
	}
	for k, t := range f.tokens {
		if t.UserID == userID {
			delete(f.tokens, k)
		}
	}
	return nil
}

type fakeRepoManager struct {
	u *fakeUsersRepo
	r *fakeRefreshRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error        { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) usersrepo.Repository                 { return m.u }
func (m *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokensrepo.Repository { return m.r }

type fixture struct {
	svc    *UserService
	rm     *fakeRepoManager
	hasher *countingHasher
	logs   *bytes.Buffer
	mock   sqlmock.Sqlmock
}

func newFixture(t *testing.T, users ...*models.User) *fixture {
	t.Helper()
	db, mock := newSQLMockDB(t)
	rm := &fakeRepoManager{u: newFakeUsersRepo(users...), r: newFakeRefreshRepo()}
	h := newCountingHasher()
	logs := &bytes.Buffer{}

	svc, err := NewUserService(db, rm, h, testConfig(), logging.NewJSONLogger(logs, slog.LevelDebug))
	require.NoError(t, err)
	h.checks.Store(0)

	return &fixture{svc: svc, rm: rm, hasher: h, logs: logs, mock: mock}
}

func userWithPassword(t *testing.T, id, email, password string) *models.User {
	t.Helper()
	hash, err := newCountingHasher().Derive(password)
	require.NoError(t, err)
	return &models.User{ID: id, Email: email, PasswordHash: hash, Role: models.RoleFarmManager}
}

// --- constructor ---

func TestNewUserService_DeriveError(t *testing.T) {
	db, _ := newSQLMockDB(t)
	h := newCountingHasher()
	h.deriveErr = credential.ErrSaltGeneration

	_, err := NewUserService(db, &fakeRepoManager{}, h, testConfig(), logging.Discard())
	assert.ErrorIs(t, err, credential.ErrSaltGeneration)
}

// --- Register ---

func TestRegister_Success(t *testing.T) {
	f := newFixture(t)

	u, err := f.svc.Register(context.Background(), RegisterInput{
		Email:     "  Manager@AgriFlow.rw ",
		Password:  "password123",
		FirstName: "Jean Claude",
		LastName:  "Uwimana",
	})
	require.NoError(t, err)
	assert.Equal(t, "manager@agriflow.rw", u.Email)
	assert.Equal(t, models.RoleFarmManager, u.Role)
	assert.Regexp(t, `^[0-9a-f]{128}\.[0-9a-f]{32}$`, u.PasswordHash)

	stored := f.rm.u.byEmail["manager@agriflow.rw"]
	require.NotNil(t, stored)
	assert.True(t, f.hasher.h.Verify("password123", stored.PasswordHash))
}

func TestRegister_KeepsRole(t *testing.T) {
	f := newFixture(t)

	u, err := f.svc.Register(context.Background(), RegisterInput{Email: "s@agriflow.rw", Password: "x", Role: models.RoleSupervisor})
	require.NoError(t, err)
	assert.Equal(t, models.RoleSupervisor, u.Role)
}

func TestRegister_DeriveErrorAborts(t *testing.T) {
	f := newFixture(t)
	f.hasher.deriveErr = credential.ErrKeyDerivation

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "a@b.c", Password: "pw"})
	require.Error(t, err)
	assert.ErrorIs(t, err, credential.ErrKeyDerivation)
	assert.Contains(t, err.Error(), "error hashing password")
	assert.Empty(t, f.rm.u.byEmail)
}

func TestRegister_Duplicate(t *testing.T) {
	f := newFixture(t, userWithPassword(t, "u1", "a@b.c", "pw"))

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "A@b.c", Password: "pw"})
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)
}

func TestRegister_CreateError(t *testing.T) {
	f := newFixture(t)
	f.rm.u.createErr = errBoom

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "a@b.c", Password: "pw"})
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "error creating user")
}

// --- Login ---

func TestLogin_Success(t *testing.T) {
	f := newFixture(t, userWithPassword(t, "u1", "manager@agriflow.rw", "password123"))

	sess, err := f.svc.Login(context.Background(), "Manager@agriflow.rw", "password123")
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.User.ID)
	require.NotNil(t, sess.Tokens)

	claims, err := auth.ParseToken(sess.Tokens.AccessToken, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, int64(0), claims.CredentialVersion)

	tok, ok := f.rm.r.tokens[sess.Tokens.RefreshToken]
	require.True(t, ok)
	assert.Equal(t, "u1", tok.UserID)
}

func TestLogin_Failures(t *testing.T) {
	good := userWithPassword(t, "u1", "manager@agriflow.rw", "password123")
	corrupt := &models.User{ID: "u2", Email: "corrupt@agriflow.rw", PasswordHash: "not-a-valid-hash"}
	noPassword := &models.User{ID: "u3", Email: "oidc@agriflow.rw"}

	tests := []struct {
		name     string
		email    string
		password string
		warn     bool
	}{
		{"wrong password", "manager@agriflow.rw", "wrongpass", false},
		{"unknown email", "ghost@agriflow.rw", "password123", false},
		{"malformed stored hash", "corrupt@agriflow.rw", "password123", true},
		{"no password set", "oidc@agriflow.rw", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, good, corrupt, noPassword)

			sess, err := f.svc.Login(context.Background(), tt.email, tt.password)
			assert.Nil(t, sess)
			assert.ErrorIs(t, err, common.ErrorUnauthorized)
			assert.Equal(t, int32(1), f.hasher.checks.Load(), "KDF must run exactly once")
			assert.Empty(t, f.rm.r.tokens)

			if tt.warn {
				assert.Contains(t, f.logs.String(), "stored credential rejected")
				assert.Contains(t, f.logs.String(), credential.ErrMalformedHash.Error())
			} else {
				assert.NotContains(t, f.logs.String(), "stored credential rejected")
			}
		})
	}
}

func TestLogin_LookupError(t *testing.T) {
	f := newFixture(t)
	f.rm.u.getErr = errBoom

	_, err := f.svc.Login(context.Background(), "a@b.c", "pw")
	assert.ErrorIs(t, err, common.ErrorInternal)
	assert.Equal(t, int32(0), f.hasher.checks.Load())
}

func TestLogin_CancelledContext(t *testing.T) {
	f := newFixture(t, userWithPassword(t, "u1", "a@b.c", "pw"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Login(ctx, "a@b.c", "pw")
	assert.ErrorIs(t, err, common.ErrorInternal)
	assert.Equal(t, int32(0), f.hasher.checks.Load())
}

func TestLogin_RefreshStoreError(t *testing.T) {
	f := newFixture(t, userWithPassword(t, "u1", "a@b.c", "pw"))
	f.rm.r.createErr = errBoom

	_, err := f.svc.Login(context.Background(), "a@b.c", "pw")
	assert.ErrorIs(t, err, common.ErrorInternal)
}

// --- Logout ---

func TestLogout(t *testing.T) {
	f := newFixture(t)
	f.rm.r.tokens["r1"] = &models.RefreshToken{UserID: "u1", Token: "r1"}

	require.NoError(t, f.svc.Logout(context.Background(), ""))
	require.NoError(t, f.svc.Logout(context.Background(), "r1"))
	assert.Empty(t, f.rm.r.tokens)

	f.rm.r.delErr = errBoom
	assert.ErrorIs(t, f.svc.Logout(context.Background(), "r2"), errBoom)
}

// --- ChangePassword ---

func TestChangePassword_Success(t *testing.T) {
	u := userWithPassword(t, "u1", "a@b.c", "old")
	f := newFixture(t, u)
	f.rm.r.tokens["r1"] = &models.RefreshToken{UserID: "u1", Token: "r1", Expires: time.Now().Add(time.Hour)}
	f.rm.r.tokens["r2"] = &models.RefreshToken{UserID: "other", Token: "r2", Expires: time.Now().Add(time.Hour)}

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	v, err := f.svc.ChangePassword(context.Background(), "u1", "old", "new")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.True(t, f.hasher.h.Verify("new", u.PasswordHash))
	assert.False(t, f.hasher.h.Verify("old", u.PasswordHash))

	assert.NotContains(t, f.rm.r.tokens, "r1")
	assert.Contains(t, f.rm.r.tokens, "r2")
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	u := userWithPassword(t, "u1", "a@b.c", "old")
	f := newFixture(t, u)
	before := u.PasswordHash

	_, err := f.svc.ChangePassword(context.Background(), "u1", "nope", "new")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	assert.Equal(t, before, u.PasswordHash)
}

func TestChangePassword_UnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ChangePassword(context.Background(), "ghost", "a", "b")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestChangePassword_DeriveError(t *testing.T) {
	f := newFixture(t, userWithPassword(t, "u1", "a@b.c", "old"))
	f.hasher.deriveErr = credential.ErrSaltGeneration

	_, err := f.svc.ChangePassword(context.Background(), "u1", "old", "new")
	assert.ErrorIs(t, err, credential.ErrSaltGeneration)
}

func TestChangePassword_RevokeErrorRollsBack(t *testing.T) {
	f := newFixture(t, userWithPassword(t, "u1", "a@b.c", "old"))
	f.rm.r.delErr = errBoom

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.ChangePassword(context.Background(), "u1", "old", "new")
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "error revoking refresh tokens")
}

func TestChangePassword_UpdateErrorRollsBack(t *testing.T) {
	f := newFixture(t, userWithPassword(t, "u1", "a@b.c", "old"))
	f.rm.u.updateErr = errBoom

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.ChangePassword(context.Background(), "u1", "old", "new")
	assert.ErrorIs(t, err, errBoom)
}

// --- RefreshToken ---

func TestRefreshToken_Success(t *testing.T) {
	f := newFixture(t, userWithPassword(t, "u1", "a@b.c", "pw"))
	f.rm.r.tokens["refresh-xyz"] = &models.RefreshToken{UserID: "u1", Token: "refresh-xyz", Expires: time.Now().Add(10 * time.Minute)}

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	pair, err := f.svc.RefreshToken(context.Background(), "refresh-xyz")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEqual(t, "refresh-xyz", pair.RefreshToken)
	assert.NotContains(t, f.rm.r.tokens, "refresh-xyz")
	assert.Contains(t, f.rm.r.tokens, pair.RefreshToken)
}

func TestRefreshToken_Expired(t *testing.T) {
	f := newFixture(t)
	f.rm.r.tokens["r"] = &models.RefreshToken{UserID: "u1", Token: "r", Expires: time.Now().Add(-time.Minute)}

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	_, err := f.svc.RefreshToken(context.Background(), "r")
	assert.ErrorIs(t, err, common.ErrRefreshTokenExpired)
	assert.Empty(t, f.rm.r.tokens, "expired token must be removed")
}

func TestRefreshToken_NotFound(t *testing.T) {
	f := newFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.RefreshToken(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestRefreshToken_SecondUseRejected(t *testing.T) {
	f := newFixture(t, userWithPassword(t, "u1", "a@b.c", "pw"))
	f.rm.r.tokens["r"] = &models.RefreshToken{UserID: "u1", Token: "r", Expires: time.Now().Add(time.Minute)}

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	pair, err := f.svc.RefreshToken(context.Background(), "r")
	require.NoError(t, err)

	again, err := f.svc.RefreshToken(context.Background(), "r")
	assert.Nil(t, again)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	assert.Len(t, f.rm.r.tokens, 1)
	assert.Contains(t, f.rm.r.tokens, pair.RefreshToken)
}

// A concurrent refresh already deleted the row: the DELETE ... RETURNING
// matches nothing and no new pair may be issued.
func TestRefreshToken_AlreadyConsumedInDatabase(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	svc, err := NewUserService(db, repomanager.NewPostgresRepositoryManager(), newCountingHasher(), testConfig(), logging.Discard())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)^DELETE\s+FROM\s+refresh_tokens\s+WHERE\s+token\s*=\s*\$1\s+RETURNING\s+user_id,\s*expires_at\s*$`).
		WithArgs("stolen").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at"}))
	mock.ExpectRollback()

	pair, err := svc.RefreshToken(context.Background(), "stolen")
	assert.Nil(t, pair)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	// no SELECT of the user and no INSERT of a new refresh token
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshToken_DeleteErrorRollsBack(t *testing.T) {
	f := newFixture(t, userWithPassword(t, "u1", "a@b.c", "pw"))
	f.rm.r.tokens["r"] = &models.RefreshToken{UserID: "u1", Token: "r", Expires: time.Now().Add(time.Minute)}
	f.rm.r.delErr = errBoom

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.RefreshToken(context.Background(), "r")
	assert.ErrorIs(t, err, errBoom)
}

// --- Authenticate ---

func TestAuthenticate(t *testing.T) {
	u := userWithPassword(t, "u1", "a@b.c", "pw")
	u.CredentialVersion = 2
	f := newFixture(t, u)

	got, err := f.svc.Authenticate(context.Background(), "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	_, err = f.svc.Authenticate(context.Background(), "u1", 1)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	_, err = f.svc.Authenticate(context.Background(), "ghost", 0)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	f.rm.u.getErr = errBoom
	_, err = f.svc.Authenticate(context.Background(), "u1", 2)
	assert.ErrorIs(t, err, common.ErrorInternal)
}

func TestAuthenticateToken(t *testing.T) {
	u := userWithPassword(t, "u1", "a@b.c", "pw")
	f := newFixture(t, u)

	tok, err := auth.GenerateToken("u1", 0, []byte("k"), time.Minute)
	require.NoError(t, err)

	got, err := f.svc.AuthenticateToken(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	u.CredentialVersion = 1
	_, err = f.svc.AuthenticateToken(context.Background(), tok)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	_, err = f.svc.AuthenticateToken(context.Background(), "garbage")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	other, err := auth.GenerateToken("u1", 1, []byte("other-secret"), time.Minute)
	require.NoError(t, err)
	_, err = f.svc.AuthenticateToken(context.Background(), other)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}
