package sql

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
)

//go:embed init.sql
var initSQL string

//go:embed records.sql
var recordsSQL string

// RecordsFunctions lists the functions records.sql must define.
var RecordsFunctions = []string{
	"init_records",
	"insert_record",
	"select_record",
	"select_records_by_similarity",
	"delete_all_records",
	"count_records",
}

// Init intializes db extensions
func Init(db *sql.DB) error {
	_, err := db.Exec(initSQL)
	if err != nil {
		return fmt.Errorf("error executing schema SQL: %w", err)
	}

	log.Println("Database extensions initialized successfully")
	return nil
}

// LoadRecordsSql loads the record related SQL functions.
// Without force the functions are only created when one of them is missing.
func LoadRecordsSql(db *sql.DB, force bool) error {
	if !force {
		exist, err := checkFunctions(db, RecordsFunctions)
		if err != nil {
			return fmt.Errorf("error checking existing records functions: %w", err)
		}
		if exist {
			return nil
		}
	}

	_, err := db.Exec(recordsSQL)
	if err != nil {
		return fmt.Errorf("error executing records SQL: %w", err)
	}

	exist, err := checkFunctions(db, RecordsFunctions)
	if err != nil {
		return fmt.Errorf("error checking existing functions: %w", err)
	}
	if !exist {
		return fmt.Errorf("not all required SQL functions were created")
	}

	log.Println("SQL records functions loaded successfully")
	return nil
}

// LoadAllSql loads all SQL functions
func LoadAllSql(db *sql.DB, force bool) error {
	return LoadRecordsSql(db, force)
}

// checkFunctions verifies that all required functions exist in the database
func checkFunctions(db *sql.DB, sqlFunctions []string) (bool, error) {
	for _, f := range sqlFunctions {
		var exists bool
		err := db.QueryRow(
			`SELECT EXISTS(SELECT 1 FROM pg_proc WHERE proname = $1);`,
			f,
		).Scan(&exists)
		if err != nil {
			return false, fmt.Errorf("error checking existence of function %s: %w", f, err)
		}
		if !exists {
			log.Printf("Function %s does not exist", f)
			return false, nil
		}
	}
	return true, nil
}
