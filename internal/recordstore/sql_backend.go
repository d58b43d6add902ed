package recordstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	sqlRecordsTableName = "appliflow_records"
	sqlOperationTimeout = 5 * time.Second
	sqlTimestampLayout  = time.RFC3339Nano
	driverNamePostgres  = "postgres"
	driverNameSQLite    = "sqlite"
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// SQLStore persists records in a single table: one row per record, the
// collection fields serialized as JSON. Filtering and sorting happen in
// process after loading the collection, which keeps filter semantics
// identical across backends.
type SQLStore struct {
	driver string
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*SQLStore, error) {
	return newSQLStore(driverNamePostgres, dsn)
}

func NewSQLiteStore(dsn string) (*SQLStore, error) {
	return newSQLStore(driverNameSQLite, dsn)
}

func newSQLStore(driver, dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &SQLStore{
		driver: driver,
		dsn:    dsn,
		openDB: sql.Open,
	}, nil
}

func (s *SQLStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB(s.driver, s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()

		createTable := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				collection TEXT NOT NULL,
				data TEXT NOT NULL,
				created TEXT NOT NULL,
				updated TEXT NOT NULL
			)`, sqlRecordsTableName)
		if _, err := db.ExecContext(ctx, createTable); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		createIndex := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s_collection_idx ON %s (collection)",
			sqlRecordsTableName, sqlRecordsTableName)
		if _, err := db.ExecContext(ctx, createIndex); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

// bind rewrites ? placeholders to the $n form lib/pq expects.
func (s *SQLStore) bind(query string) string {
	if s.driver != driverNamePostgres {
		return query
	}
	var out strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			out.WriteString(fmt.Sprintf("$%d", n))
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}

func (s *SQLStore) Create(ctx context.Context, collection string, data map[string]any) (Record, error) {
	if strings.TrimSpace(collection) == "" {
		return Record{}, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return Record{}, err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return Record{}, err
	}
	now := time.Now().UTC()
	rec := Record{
		ID:         uuid.NewString(),
		Collection: collection,
		Created:    now,
		Updated:    now,
	}
	opCtx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	query := s.bind(fmt.Sprintf(
		"INSERT INTO %s (id, collection, data, created, updated) VALUES (?, ?, ?, ?, ?)",
		sqlRecordsTableName))
	if _, err := s.db.ExecContext(opCtx, query, rec.ID, collection, string(payload),
		now.Format(sqlTimestampLayout), now.Format(sqlTimestampLayout)); err != nil {
		return Record{}, err
	}
	rec.Data = decodeData(payload)
	return rec, nil
}

func (s *SQLStore) Update(ctx context.Context, collection, id string, patch map[string]any) (Record, error) {
	if err := s.ensureReady(); err != nil {
		return Record{}, err
	}
	current, err := s.GetOne(ctx, collection, id)
	if err != nil {
		return Record{}, err
	}
	data := cloneData(current.Data)
	for key, value := range patch {
		data[key] = value
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return Record{}, err
	}
	now := time.Now().UTC()
	opCtx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	query := s.bind(fmt.Sprintf(
		"UPDATE %s SET data = ?, updated = ? WHERE id = ? AND collection = ?",
		sqlRecordsTableName))
	if _, err := s.db.ExecContext(opCtx, query, string(payload),
		now.Format(sqlTimestampLayout), id, collection); err != nil {
		return Record{}, err
	}
	current.Data = decodeData(payload)
	current.Updated = now
	return current, nil
}

func (s *SQLStore) Delete(ctx context.Context, collection, id string) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	query := s.bind(fmt.Sprintf(
		"DELETE FROM %s WHERE id = ? AND collection = ?", sqlRecordsTableName))
	result, err := s.db.ExecContext(opCtx, query, id, collection)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) GetOne(ctx context.Context, collection, id string) (Record, error) {
	if err := s.ensureReady(); err != nil {
		return Record{}, err
	}
	opCtx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	query := s.bind(fmt.Sprintf(
		"SELECT id, collection, data, created, updated FROM %s WHERE id = ? AND collection = ?",
		sqlRecordsTableName))
	row := s.db.QueryRowContext(opCtx, query, id, collection)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (s *SQLStore) GetFirstMatching(ctx context.Context, collection string, filter Filter, sortBy string) (Record, error) {
	records, err := s.GetFullList(ctx, collection, filter, sortBy)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, ErrNoMatch
	}
	return records[0], nil
}

func (s *SQLStore) GetFullList(ctx context.Context, collection string, filter Filter, sortBy string) ([]Record, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	query := s.bind(fmt.Sprintf(
		"SELECT id, collection, data, created, updated FROM %s WHERE collection = ? ORDER BY created",
		sqlRecordsTableName))
	rows, err := s.db.QueryContext(opCtx, query, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if filter.matches(rec) {
			records = append(records, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortRecords(records, sortBy)
	return records, nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var payload, created, updated string
	if err := row.Scan(&rec.ID, &rec.Collection, &payload, &created, &updated); err != nil {
		return Record{}, err
	}
	rec.Data = decodeData([]byte(payload))
	if ts, err := time.Parse(sqlTimestampLayout, created); err == nil {
		rec.Created = ts
	}
	if ts, err := time.Parse(sqlTimestampLayout, updated); err == nil {
		rec.Updated = ts
	}
	return rec, nil
}

func decodeData(payload []byte) map[string]any {
	data := map[string]any{}
	_ = json.Unmarshal(payload, &data)
	return data
}
