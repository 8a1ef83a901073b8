package database

import (
	"context"
	"flag"
	"log"
	"os"
	"testing"

	"github.com/rifatrzn/tax-assistant/helper"
	loadSql "github.com/rifatrzn/tax-assistant/sql"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

var dbPort string

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	var teardown func(ctx context.Context, opts ...testcontainers.TerminateOption) error
	var err error
	teardown, dbPort, err = helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("error starting postgres container: %v", err)
	}

	code := m.Run()

	if teardown != nil {
		if err := teardown(context.Background()); err != nil {
			log.Fatalf("error tearing down postgres container: %v", err)
		}
	}

	os.Exit(code)
}

func initDB(t *testing.T) *helper.Database {
	if dbPort == "" {
		t.Skip("postgres container not started in short mode")
	}

	helper.SetTestDatabaseConfigEnvs(t, dbPort)
	dbConfig, err := helper.NewDatabaseConfiguration()
	require.NoError(t, err, "failed to create database configuration")
	database := helper.NewTestDatabase(dbConfig)

	err = loadSql.Init(database.Instance)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = database.Instance.Exec(`DROP TABLE IF EXISTS records;`)
		database.Close()
	})

	return database
}

// unitVector returns a vector of the given dimension pointing along axis,
// tilted towards the next axis by tilt.
func unitVector(dimension, axis int, tilt float32) []float32 {
	v := make([]float32, dimension)
	v[axis%dimension] = 1
	v[(axis+1)%dimension] = tilt
	return v
}
