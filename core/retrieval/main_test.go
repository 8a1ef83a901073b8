package retrieval

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
	db := helper.NewTestDatabase(dbConfig)

	err = loadSql.Init(db.Instance)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = db.Instance.Exec(`DROP TABLE IF EXISTS records;`)
		db.Close()
	})

	return db
}
