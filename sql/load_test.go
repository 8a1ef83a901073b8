package sql

import (
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	db := initDB(t)

	t.Run("Initialize database extensions", func(t *testing.T) {
		err := Init(db.Instance)
		assert.NoError(t, err)

		var exists bool
		err = db.Instance.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector');").Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "pgvector extension should be created")
	})

	t.Run("Initialize database extensions is idempotent", func(t *testing.T) {
		err := Init(db.Instance)
		assert.NoError(t, err)

		err = Init(db.Instance)
		assert.NoError(t, err)
	})
}

func TestLoadRecordsSql(t *testing.T) {
	db := initDB(t)

	t.Run("Load records SQL functions", func(t *testing.T) {
		err := LoadRecordsSql(db.Instance, false)
		assert.NoError(t, err)

		for _, funcName := range RecordsFunctions {
			var exists bool
			err = db.Instance.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_proc WHERE proname = $1);", funcName).Scan(&exists)
			require.NoError(t, err)
			assert.True(t, exists, "Function %s should exist", funcName)
		}
	})

	t.Run("Load records SQL is idempotent without force", func(t *testing.T) {
		err := LoadRecordsSql(db.Instance, false)
		assert.NoError(t, err)
	})

	t.Run("Load records SQL with force reloads", func(t *testing.T) {
		err := LoadRecordsSql(db.Instance, true)
		assert.NoError(t, err)

		exist, err := checkFunctions(db.Instance, RecordsFunctions)
		require.NoError(t, err)
		assert.True(t, exist, "Functions should exist after force reload")
	})

	t.Run("Init records rejects a different dimension", func(t *testing.T) {
		_, err := db.Instance.Exec(`SELECT init_records($1);`, 8)
		require.NoError(t, err)

		_, err = db.Instance.Exec(`SELECT init_records($1);`, 8)
		assert.NoError(t, err, "Same dimension should be accepted again")

		_, err = db.Instance.Exec(`SELECT init_records($1);`, 16)
		assert.Error(t, err, "Different dimension should be rejected")

		_, err = db.Instance.Exec(`DROP TABLE IF EXISTS records;`)
		require.NoError(t, err)
	})
}

func TestCheckFunctions(t *testing.T) {
	db := initDB(t)

	t.Run("Missing function is reported", func(t *testing.T) {
		exist, err := checkFunctions(db.Instance, []string{"function_that_does_not_exist"})
		require.NoError(t, err)
		assert.False(t, exist)
	})
}
