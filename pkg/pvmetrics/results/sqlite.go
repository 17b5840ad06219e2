package results

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"k8s.io/klog/v2"
)

// SQLiteStore keeps forecast result rows in a local SQLite database
type SQLiteStore struct {
	db       *sql.DB
	dbPath   string
	mutex    sync.RWMutex
	prepared map[string]*sql.Stmt
}

// Open opens or creates the database at dbPath
func Open(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	store := &SQLiteStore{
		db:       db,
		dbPath:   dbPath,
		prepared: make(map[string]*sql.Stmt),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %v", err)
	}

	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %v", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS forecast_results (
		row_id INTEGER PRIMARY KEY AUTOINCREMENT,
		unit TEXT NOT NULL,
		t0_datetime_utc TEXT NOT NULL,
		target_datetime_utc TEXT NOT NULL,
		id TEXT NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		forecast_pv_outturn REAL NOT NULL,
		actual_pv_outturn REAL NOT NULL,
		t0_actual_pv_outturn REAL NOT NULL,
		capacity REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_unit ON forecast_results(unit);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	statements := map[string]string{
		"insert": `
			INSERT INTO forecast_results (
				unit, t0_datetime_utc, target_datetime_utc, id, latitude, longitude,
				forecast_pv_outturn, actual_pv_outturn, t0_actual_pv_outturn, capacity
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
		"select_unit": `
			SELECT t0_datetime_utc, target_datetime_utc, id, latitude, longitude,
				   forecast_pv_outturn, actual_pv_outturn, t0_actual_pv_outturn, capacity
			FROM forecast_results
			WHERE unit = ?
			ORDER BY row_id ASC
		`,
	}

	for name, query := range statements {
		stmt, err := s.db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %v", name, err)
		}
		s.prepared[name] = stmt
	}

	return nil
}

// Insert appends every row of frame in a single transaction
func (s *SQLiteStore) Insert(ctx context.Context, frame Frame) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	stmt := tx.StmtContext(ctx, s.prepared["insert"])

	for i, r := range frame.Rows {
		_, err := stmt.ExecContext(ctx,
			frame.Unit,
			r.T0.UTC().Format(time.RFC3339Nano),
			r.TargetTime.UTC().Format(time.RFC3339Nano),
			r.ID,
			r.Latitude,
			r.Longitude,
			r.Forecast,
			r.Actual,
			r.T0Actual,
			r.Capacity,
		)
		if err != nil {
			tx.Rollback()
			klog.V(2).InfoS("Failed to store forecast result", "error", err, "row", i, "id", r.ID)
			return fmt.Errorf("failed to store row %d: %v", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit forecast results: %v", err)
	}

	klog.V(2).InfoS("Stored forecast results",
		"db", s.dbPath,
		"unit", frame.Unit,
		"rows", len(frame.Rows))

	return nil
}

// Load returns every stored row for unit, in insertion order
func (s *SQLiteStore) Load(ctx context.Context, unit string) (Frame, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rows, err := s.prepared["select_unit"].QueryContext(ctx, unit)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to query forecast results: %v", err)
	}
	defer rows.Close()

	frame := Frame{Unit: unit}
	for rows.Next() {
		var (
			r              Row
			t0, targetTime string
		)
		err := rows.Scan(
			&t0,
			&targetTime,
			&r.ID,
			&r.Latitude,
			&r.Longitude,
			&r.Forecast,
			&r.Actual,
			&r.T0Actual,
			&r.Capacity,
		)
		if err != nil {
			return Frame{}, fmt.Errorf("failed to scan row: %v", err)
		}
		if r.T0, err = time.Parse(time.RFC3339Nano, t0); err != nil {
			return Frame{}, fmt.Errorf("bad t0_datetime_utc %q: %v", t0, err)
		}
		if r.TargetTime, err = time.Parse(time.RFC3339Nano, targetTime); err != nil {
			return Frame{}, fmt.Errorf("bad target_datetime_utc %q: %v", targetTime, err)
		}
		frame.Rows = append(frame.Rows, r)
	}

	if err := rows.Err(); err != nil {
		return Frame{}, fmt.Errorf("error iterating rows: %v", err)
	}

	klog.V(2).InfoS("Loaded forecast results", "db", s.dbPath, "unit", unit, "rows", len(frame.Rows))
	return frame, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, stmt := range s.prepared {
		stmt.Close()
	}

	return s.db.Close()
}
