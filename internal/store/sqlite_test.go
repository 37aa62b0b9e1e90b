package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trades-exec/internal/config"
)

func TestNewSQLite_InMemory(t *testing.T) {
	s, err := NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 4})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Migrate(ctx, `CREATE TABLE t (v INTEGER)`, `INSERT INTO t (v) VALUES (7)`))

	var v int
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT v FROM t`).Scan(&v))
	assert.Equal(t, 7, v)
}

func TestNewSQLite_FileCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "exec.db")
	s, err := NewSQLite(config.DatabaseConfig{Path: path, MaxOpenConns: 2, MaxIdleConns: 2})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Ping(context.Background()))
	assert.FileExists(t, path)
}

func TestMigrate_InvalidStatement(t *testing.T) {
	s, err := NewSQLite(config.DatabaseConfig{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.Migrate(context.Background(), `CREATE TABL broken`))
}
