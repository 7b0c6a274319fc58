package db

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mrag/internal/config"
)

func TestBuildDSN(t *testing.T) {
	require.Equal(t, "postgres://x", BuildDSN(config.DatabaseConfig{DSN: "postgres://x", Host: "ignored"}))
	require.Equal(t,
		"host=db port=5432 user=u password=p dbname=mrag sslmode=disable",
		BuildDSN(config.DatabaseConfig{Host: "db", User: "u", Password: "p", DBName: "mrag"}))
	require.Equal(t,
		"host=db port=6543 user=u password=p dbname=mrag sslmode=require",
		BuildDSN(config.DatabaseConfig{Host: "db", Port: 6543, User: "u", Password: "p", DBName: "mrag", SSLMode: "require"}))
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	require.NoError(t, err)
	require.Equal(t, []string{"migrations/0001_init.sql", "migrations/0002_chunk_vectors.sql", "migrations/0003_query_log_query_id.sql"}, names)
}
