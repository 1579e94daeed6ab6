// Package testutil provides helpers for tests that need a live PostgreSQL.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vrflottery/lottery/log"
	"github.com/vrflottery/lottery/storage/postgres"
)

// ConnStringEnv names the variable holding the test database URL.
const ConnStringEnv = "CI_TEST_CONN_STRING"

// SkipUnlessDatabase skips t in short mode or when no test database is
// configured.
func SkipUnlessDatabase(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping test in short mode")
	}
	connString := os.Getenv(ConnStringEnv)
	if connString == "" {
		t.Skipf("%s not set", ConnStringEnv)
	}
	return connString
}

// NewTestClient returns a postgres client used in CI tests.
func NewTestClient(t *testing.T) *postgres.Client {
	connString := SkipUnlessDatabase(t)
	logger, err := log.NewLogger("postgres-test", os.Stdout, log.FmtJSON, log.LevelError)
	require.Nil(t, err, "log.NewLogger")

	client, err := postgres.NewClient(context.Background(), connString, logger)
	require.Nil(t, err, "postgres.NewClient")
	return client
}
