package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/geocrypt/internal/server/repositories/files"
	"github.com/dmitrijs2005/geocrypt/internal/server/repositories/users"
)

func newDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestFactories_ReturnConcreteRepos(t *testing.T) {
	db := newDB(t)
	m := NewPostgresRepositoryManager()

	var u users.Repository = m.Users(db)
	var f files.Repository = m.Files(db)
	assert.NotNil(t, u)
	assert.NotNil(t, f)
}

func TestRunMigrations_Success(t *testing.T) {
	db := newDB(t)

	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })

	var gotDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}

	require.NoError(t, NewPostgresRepositoryManager().RunMigrations(context.Background(), db))
	assert.Equal(t, ".", gotDir)
}

func TestRunMigrations_UpError(t *testing.T) {
	db := newDB(t)

	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })
	boom := errors.New("boom")
	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		return boom
	}

	err := NewPostgresRepositoryManager().RunMigrations(context.Background(), db)
	assert.ErrorIs(t, err, boom)
}

func TestRunMigrations_DialectError(t *testing.T) {
	db := newDB(t)

	orig := gooseSetDialect
	t.Cleanup(func() { gooseSetDialect = orig })
	gooseSetDialect = func(string) error { return errors.New("unknown dialect") }

	err := NewPostgresRepositoryManager().RunMigrations(context.Background(), db)
	assert.ErrorContains(t, err, "unknown dialect")
}
