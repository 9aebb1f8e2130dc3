package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"motionbus.dev/gtfs/model"
)

const (
	PSQLStopTimeBatchSize = 5000
)

type PSQLStorage struct {
	sqlStorage
}

type psqlDialect struct{}

type psqlStopTimeWriter struct {
	tx  *sql.Tx
	buf []model.StopTime
}

// Creates a new Postgres Storage using the provided connection string.
//
// If clearDB is true, all tables will be dropped on startup. You
// probably only want this for testing.
func NewPSQLStorage(connStr string, clearDB bool) (*PSQLStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	ctx := context.Background()

	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	s := &PSQLStorage{
		sqlStorage: sqlStorage{
			db:      db,
			dialect: psqlDialect{},
		},
	}

	if clearDB {
		err = s.Reset(ctx)
	} else {
		err = s.createTables(ctx)
	}
	if err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (psqlDialect) rebind(query string) string {
	return rebindDollar(query)
}

func (psqlDialect) inInts(column string, ids []int) (string, []interface{}) {
	arr := make(pq.Int64Array, len(ids))
	for i, id := range ids {
		arr[i] = int64(id)
	}
	return fmt.Sprintf("%s = ANY(?)", column), []interface{}{arr}
}

func (psqlDialect) stopTimeWriter(ctx context.Context, tx *sql.Tx) (stopTimeWriter, error) {
	return &psqlStopTimeWriter{tx: tx}, nil
}

func (w *psqlStopTimeWriter) write(ctx context.Context, st model.StopTime) error {
	w.buf = append(w.buf, st)

	if len(w.buf) >= PSQLStopTimeBatchSize {
		err := w.flush(ctx)
		if err != nil {
			return fmt.Errorf("flushing stop_times: %w", err)
		}
	}

	return nil
}

func (w *psqlStopTimeWriter) close(ctx context.Context) error {
	if len(w.buf) > 0 {
		err := w.flush(ctx)
		if err != nil {
			return fmt.Errorf("flushing stop_times: %w", err)
		}
	}
	return nil
}

func (w *psqlStopTimeWriter) flush(ctx context.Context) error {
	stmt, err := w.tx.PrepareContext(ctx, pq.CopyIn(
		"stop_times", "trip_id", "stop_sequence", "stop_id", "arrival_time", "departure_time",
	))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, st := range w.buf {
		_, err = stmt.ExecContext(ctx, st.TripID, st.StopSequence, st.StopID, st.Arrival, st.Departure)
		if err != nil {
			return fmt.Errorf("COPY stop_time: %w", err)
		}
	}

	_, err = stmt.ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}

	w.buf = nil

	return nil
}
