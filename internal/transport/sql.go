package transport

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"thermopoll/internal/db"
)

const insertReading = `INSERT INTO readings
	(batch_id, dataset_id, table_id, sensor, mac, home_id, day, ts, temperature, humidity, location)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SQLPublisher inserts batches into the migrated readings table, one
// transaction per batch. A batch ID already present is skipped.
type SQLPublisher struct {
	conn      *sql.DB
	insertSQL string
	existsSQL string
	logger    *slog.Logger
}

func NewSQLPublisher(conn *sql.DB, driverName string, logger *slog.Logger) *SQLPublisher {
	return &SQLPublisher{
		conn:      conn,
		insertSQL: db.Rebind(driverName, insertReading),
		existsSQL: db.Rebind(driverName, `SELECT COUNT(*) FROM readings WHERE batch_id = ?`),
		logger:    logger.With("component", "sql_sink"),
	}
}

func (s *SQLPublisher) Publish(ctx context.Context, b Batch) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	if err := tx.QueryRowContext(ctx, s.existsSQL, b.ID).Scan(&existing); err != nil {
		return fmt.Errorf("check batch %s: %w", b.ID, err)
	}
	if existing > 0 {
		s.logger.Warn("batch already stored", "batch_id", b.ID)
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, s.insertSQL)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range b.Records {
		_, err := stmt.ExecContext(ctx,
			b.ID, b.Dataset, b.Table, b.Sensor,
			int64(r.Data.MAC), r.Data.HomeID,
			r.Day, r.Timestamp,
			r.Data.Temperature, r.Data.Humidity,
			r.Data.Location,
		)
		if err != nil {
			return fmt.Errorf("insert record %d of batch %s: %w", i, b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch %s: %w", b.ID, err)
	}
	s.logger.Debug("stored batch", "batch_id", b.ID, "records", len(b.Records))
	return nil
}

// Close is a no-op; the connection belongs to the caller.
func (s *SQLPublisher) Close() error { return nil }
