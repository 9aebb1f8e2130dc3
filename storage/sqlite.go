package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"motionbus.dev/gtfs/model"
)

type SQLiteConfig struct {
	OnDisk    bool
	Directory string
}

type SQLiteStorage struct {
	SQLiteConfig
	sqlStorage
}

type sqliteDialect struct{}

type sqliteStopTimeWriter struct {
	stmt *sql.Stmt
}

// Creates a SQLite backed Storage. In memory unless configured
// otherwise. Tables are created if missing.
func NewSQLiteStorage(cfg ...SQLiteConfig) (*SQLiteStorage, error) {
	onDisk := false
	directory := ""
	if len(cfg) > 0 {
		onDisk = cfg[0].OnDisk
		directory = cfg[0].Directory
	}

	sourceName := "file::memory:?_foreign_keys=1"
	if onDisk {
		sourceName = "file:" + filepath.Join(directory, "gtfs.db") + "?_foreign_keys=1&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every connection to :memory: is its own database, and
	// SQLite only has one writer anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{
		SQLiteConfig: SQLiteConfig{
			OnDisk:    onDisk,
			Directory: directory,
		},
		sqlStorage: sqlStorage{
			db:      db,
			dialect: sqliteDialect{},
		},
	}

	err = s.createTables(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (sqliteDialect) rebind(query string) string {
	return query
}

func (sqliteDialect) inInts(column string, ids []int) (string, []interface{}) {
	if len(ids) == 0 {
		return "1 = 0", nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	return fmt.Sprintf("%s IN (%s)", column, placeholders), args
}

func (sqliteDialect) stopTimeWriter(ctx context.Context, tx *sql.Tx) (stopTimeWriter, error) {
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO stop_times (trip_id, stop_sequence, stop_id, arrival_time, departure_time)
VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("preparing stop_time insert: %w", err)
	}
	return &sqliteStopTimeWriter{stmt: stmt}, nil
}

func (w *sqliteStopTimeWriter) write(ctx context.Context, st model.StopTime) error {
	_, err := w.stmt.ExecContext(ctx, st.TripID, st.StopSequence, st.StopID, st.Arrival, st.Departure)
	if err != nil {
		return fmt.Errorf("inserting stop_time: %w", err)
	}
	return nil
}

func (w *sqliteStopTimeWriter) close(ctx context.Context) error {
	return w.stmt.Close()
}
