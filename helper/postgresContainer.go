package helper

import (
	"context"
	"fmt"
	"net/url"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testDatabaseName     = "database"
	testDatabaseUser     = "user"
	testDatabasePassword = "password"
	testDatabaseImage    = "pgvector/pgvector:pg17"
)

// MustStartPostgresContainer starts a pgvector enabled PostgreSQL container.
// It returns the terminate function and the mapped host port.
func MustStartPostgresContainer() (func(ctx context.Context, opts ...testcontainers.TerminateOption) error, string, error) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(
		ctx,
		testDatabaseImage,
		postgres.WithDatabase(testDatabaseName),
		postgres.WithUsername(testDatabaseUser),
		postgres.WithPassword(testDatabasePassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
		),
	)
	if err != nil {
		return nil, "", fmt.Errorf("error starting postgres container: %w", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return pgContainer.Terminate, "", fmt.Errorf("error getting connection string: %w", err)
	}

	u, err := url.Parse(connStr)
	if err != nil {
		return pgContainer.Terminate, "", fmt.Errorf("error parsing connection string: %w", err)
	}

	return pgContainer.Terminate, u.Port(), nil
}

// SetTestDatabaseConfigEnvs points the database environment at the test container.
func SetTestDatabaseConfigEnvs(t *testing.T, dbPort string) {
	t.Setenv(envDBHost, "localhost")
	t.Setenv(envDBPort, dbPort)
	t.Setenv(envDBDatabase, testDatabaseName)
	t.Setenv(envDBUsername, testDatabaseUser)
	t.Setenv(envDBPassword, testDatabasePassword)
	t.Setenv(envDBSchema, "public")
	t.Setenv(envDBSSLMode, "disable")
}
