package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/geocrypt/internal/common"
	"github.com/dmitrijs2005/geocrypt/internal/cryptox"
	"github.com/dmitrijs2005/geocrypt/internal/dbx"
	"github.com/dmitrijs2005/geocrypt/internal/server/auth"
	"github.com/dmitrijs2005/geocrypt/internal/server/config"
	"github.com/dmitrijs2005/geocrypt/internal/server/models"
	filesrepo "github.com/dmitrijs2005/geocrypt/internal/server/repositories/files"
	usersrepo "github.com/dmitrijs2005/geocrypt/internal/server/repositories/users"
)

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func testConfig() *config.Config {
	return &config.Config{
		SecretKey:                   "k",
		AccessTokenValidityDuration: time.Hour,
	}
}

type fakeUsersRepo struct {
	created   *models.User
	createErr error

	getOut *models.User
	getErr error
}

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	u.ID = "42"
	f.created = u
	return u, nil
}

func (f *fakeUsersRepo) GetUserByLogin(context.Context, string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getOut, nil
}

type fakeRepoManager struct {
	u *fakeUsersRepo
	f *fakeFilesRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) usersrepo.Repository           { return m.u }
func (m *fakeRepoManager) Files(dbx.DBTX) filesrepo.Repository           { return m.f }

func TestRegister_StoresVerifierNotPassword(t *testing.T) {
	db, _ := newSQLMockDB(t)
	repo := &fakeUsersRepo{}
	s := NewUserService(db, &fakeRepoManager{u: repo}, testConfig())

	u, err := s.Register(context.Background(), "  alice ", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "42", u.ID)
	assert.Equal(t, "alice", repo.created.UserName)
	assert.Len(t, repo.created.Salt, cryptox.SaltSize)
	assert.Equal(t, cryptox.PasswordVerifier([]byte("correct horse"), repo.created.Salt), repo.created.Verifier)
	assert.NotContains(t, string(repo.created.Verifier), "correct horse")
}

func TestRegister_Validation(t *testing.T) {
	db, _ := newSQLMockDB(t)
	s := NewUserService(db, &fakeRepoManager{u: &fakeUsersRepo{}}, testConfig())

	tests := []struct {
		name, user, pass string
	}{
		{"empty username", "   ", "password123"},
		{"long username", strings.Repeat("a", MaxUserNameLength+1), "password123"},
		{"short password", "alice", "short"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Register(context.Background(), tt.user, tt.pass)
			assert.ErrorIs(t, err, common.ErrorValidation)
		})
	}
}

func TestRegister_RepoErrors(t *testing.T) {
	db, _ := newSQLMockDB(t)

	s := NewUserService(db, &fakeRepoManager{u: &fakeUsersRepo{createErr: common.ErrorAlreadyExists}}, testConfig())
	_, err := s.Register(context.Background(), "alice", "password123")
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)

	s = NewUserService(db, &fakeRepoManager{u: &fakeUsersRepo{createErr: errBoom{}}}, testConfig())
	_, err = s.Register(context.Background(), "alice", "password123")
	assert.ErrorContains(t, err, "error creating user: boom")
}

func TestLogin_Flows(t *testing.T) {
	db, _ := newSQLMockDB(t)
	salt := []byte("0123456789abcdef0123456789abcdef")
	stored := &models.User{ID: "u1", UserName: "alice", Salt: salt, Verifier: cryptox.PasswordVerifier([]byte("right password"), salt)}

	// not found → unauthorized
	sNF := NewUserService(db, &fakeRepoManager{u: &fakeUsersRepo{getErr: common.ErrorNotFound}}, testConfig())
	_, err := sNF.Login(context.Background(), "ghost", "whatever1")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	// internal error
	sIE := NewUserService(db, &fakeRepoManager{u: &fakeUsersRepo{getErr: errBoom{}}}, testConfig())
	_, err = sIE.Login(context.Background(), "alice", "whatever1")
	assert.ErrorIs(t, err, common.ErrorInternal)

	// wrong password → unauthorized
	s := NewUserService(db, &fakeRepoManager{u: &fakeUsersRepo{getOut: stored}}, testConfig())
	_, err = s.Login(context.Background(), "alice", "wrong password")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	tok, err := s.Login(context.Background(), "alice", "right password")
	require.NoError(t, err)
	id, err := auth.GetUserIDFromToken(tok, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "u1", id)

	id, err = s.Authenticate(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", id)
}

func TestAuthenticate_Rejects(t *testing.T) {
	db, _ := newSQLMockDB(t)
	s := NewUserService(db, &fakeRepoManager{u: &fakeUsersRepo{}}, testConfig())

	expired, err := auth.GenerateToken("u1", []byte("k"), -time.Second)
	require.NoError(t, err)

	_, err = s.Authenticate(expired)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	assert.ErrorIs(t, err, common.ErrTokenExpired)

	_, err = s.Authenticate("garbage")
	assert.True(t, errors.Is(err, common.ErrorUnauthorized))
}
