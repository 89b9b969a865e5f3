package store

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/uyouii/xsec-errprop/events"
	"github.com/uyouii/xsec-errprop/utils"
	"go.uber.org/zap"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS events (
	id        INTEGER PRIMARY KEY,
	signal    INTEGER NOT NULL,
	d1        REAL NOT NULL,
	d2        REAL NOT NULL,
	enu       REAL NOT NULL,
	weight_mc REAL NOT NULL
)`

const insertEvent = `
INSERT INTO events (id, signal, d1, d2, enu, weight_mc)
VALUES (:id, :signal, :d1, :d2, :enu, :weight_mc)`

// ReadEvents loads every event of an event store in id order.
func ReadEvents(ctx context.Context, path string) ([]events.Record, error) {
	logger := utils.GetLogger(ctx)

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open events %s: %w", path, err)
	}
	db, err := sqlx.ConnectContext(ctx, "sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open events %s: %w", path, err)
	}
	defer db.Close()

	recs := []events.Record{}
	err = db.SelectContext(ctx, &recs, "SELECT id, signal, d1, d2, enu, weight_mc FROM events ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("read events %s: %w", path, err)
	}

	logger.Info("read events", zap.String("path", path), zap.Int("events", len(recs)))
	return recs, nil
}

// WriteEvents recreates the event store at path holding recs.
func WriteEvents(ctx context.Context, path string, recs []events.Record) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	db, err := sqlx.ConnectContext(ctx, "sqlite3", path)
	if err != nil {
		return fmt.Errorf("create events %s: %w", path, err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, createEventsTable); err != nil {
		return fmt.Errorf("create events %s: %w", path, err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	for i := range recs {
		if _, err := tx.NamedExecContext(ctx, insertEvent, &recs[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("write event %d: %w", recs[i].ID, err)
		}
	}
	return tx.Commit()
}
