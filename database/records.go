package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rifatrzn/tax-assistant/helper"
	"github.com/rifatrzn/tax-assistant/model"
	loadSql "github.com/rifatrzn/tax-assistant/sql"
)

// RecordsDBHandlerFunctions defines the interface for records database operations.
type RecordsDBHandlerFunctions interface {
	VectorStore
	SelectRecord(ctx context.Context, id string) (*model.StoredRecord, error)
	CountRecords(ctx context.Context) (int64, error)
	ChangeIndexType(ctx context.Context, indexType string, params map[string]interface{}) error
}

// RecordsDBHandler is the PostgreSQL/pgvector VectorStore.
type RecordsDBHandler struct {
	db        *helper.Database
	dimension int
}

// NewRecordsDBHandler creates a new records database handler.
// It loads the record SQL functions and creates the table for the given
// embedding dimension. If force is true, the SQL functions are reloaded even
// if they already exist.
func NewRecordsDBHandler(db *helper.Database, embeddingDim int, force bool) (*RecordsDBHandler, error) {
	if db == nil || db.Instance == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}
	if embeddingDim <= 0 {
		return nil, helper.NewError("records handler", fmt.Errorf("%w: dimension must be positive, got %d", model.ErrInvalidConfiguration, embeddingDim))
	}

	recordsDbHandler := &RecordsDBHandler{
		db:        db,
		dimension: embeddingDim,
	}

	err := loadSql.LoadRecordsSql(recordsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load records sql", err)
	}

	err = recordsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized RecordsDBHandler", "dimension", embeddingDim)

	return recordsDbHandler, nil
}

// CreateTable creates the 'records' table if it does not exist yet.
// An existing table with a different embedding dimension is an error.
func (h *RecordsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_records($1);`, h.dimension)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Class() == "22" {
			return fmt.Errorf("%w: %s", model.ErrDimensionMismatch, pqErr.Message)
		}
		return err
	}

	h.db.Logger.Info("Checked/created table records")

	return nil
}

// Put inserts a record. The id must not exist yet.
func (h *RecordsDBHandler) Put(ctx context.Context, record *model.StoredRecord) error {
	if err := validateRecord(record, h.dimension); err != nil {
		return err
	}

	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM insert_record($1, $2, $3, $4)`,
		record.ID,
		record.Content,
		record.Metadata,
		pgvector.NewVector(record.Embedding),
	)

	stored, err := scanRecord(row)
	if err != nil {
		return &model.StoreError{RecordID: record.ID, Err: classifyPostgresError(ctx, err)}
	}
	record.CreatedAt = stored.CreatedAt

	return nil
}

// Query returns the closest records by cosine similarity.
func (h *RecordsDBHandler) Query(ctx context.Context, embedding []float32, threshold float64, topK int) ([]*model.RetrievalResult, error) {
	if err := validateQuery(embedding, h.dimension, topK); err != nil {
		return nil, err
	}

	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM select_records_by_similarity($1, $2, $3)`,
		pgvector.NewVector(embedding),
		threshold,
		topK,
	)
	if err != nil {
		return nil, helper.NewError("query", classifyPostgresError(ctx, err))
	}
	defer rows.Close()

	var results []*model.RetrievalResult
	for rows.Next() {
		record := &model.StoredRecord{}
		var vector pgvector.Vector
		var score float64
		err := rows.Scan(
			&record.ID,
			&record.Content,
			&record.Metadata,
			&vector,
			&record.CreatedAt,
			&score,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		record.Embedding = vector.Slice()
		results = append(results, &model.RetrievalResult{Record: record, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, helper.NewError("rows", classifyPostgresError(ctx, err))
	}

	return results, nil
}

// SelectRecord retrieves a record by id.
func (h *RecordsDBHandler) SelectRecord(ctx context.Context, id string) (*model.StoredRecord, error) {
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM select_record($1)`,
		id,
	)

	record, err := scanRecord(row)
	if err != nil {
		return nil, helper.NewError("scan", classifyPostgresError(ctx, err))
	}

	return record, nil
}

// Lookup is SelectRecord with a missing id reported as nil.
func (h *RecordsDBHandler) Lookup(ctx context.Context, id string) (*model.StoredRecord, error) {
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM select_record($1)`,
		id,
	)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, helper.NewError("lookup", classifyPostgresError(ctx, err))
	}

	return record, nil
}

// CountRecords returns the number of stored records.
func (h *RecordsDBHandler) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	err := h.db.Instance.QueryRowContext(ctx, `SELECT count_records()`).Scan(&count)
	if err != nil {
		return 0, helper.NewError("count", classifyPostgresError(ctx, err))
	}
	return count, nil
}

// Reset deletes every record.
func (h *RecordsDBHandler) Reset(ctx context.Context) error {
	var deleted int64
	err := h.db.Instance.QueryRowContext(ctx, `SELECT delete_all_records()`).Scan(&deleted)
	if err != nil {
		return helper.NewError("delete all records", classifyPostgresError(ctx, err))
	}

	h.db.Logger.Info("Deleted records", "count", deleted)

	return nil
}

func (h *RecordsDBHandler) Dimension() int {
	return h.dimension
}

// Close closes the underlying database connection.
func (h *RecordsDBHandler) Close() error {
	return h.db.Close()
}

func scanRecord(row *sql.Row) (*model.StoredRecord, error) {
	record := &model.StoredRecord{}
	var vector pgvector.Vector
	err := row.Scan(
		&record.ID,
		&record.Content,
		&record.Metadata,
		&vector,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.Embedding = vector.Slice()
	return record, nil
}

// classifyPostgresError maps driver errors onto the store error taxonomy.
func classifyPostgresError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return fmt.Errorf("%w: %s", model.ErrDuplicateID, pqErr.Message)
		case pqErr.Code.Class() == "22" && strings.Contains(pqErr.Message, "dimensions"):
			return fmt.Errorf("%w: %s", model.ErrDimensionMismatch, pqErr.Message)
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57", pqErr.Code.Class() == "53":
			return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
		}
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return model.ClassifyContextError(ctx, ctx, err)
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}

	return err
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

var _ RecordsDBHandlerFunctions = (*RecordsDBHandler)(nil)

func unixUTC(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
