// Package store keeps the last fetched review records of each assignment in
// sqlite so the page can still show a matrix when the backend is down.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"

	"peer-review-matrix/matrix"
)

// ErrNoSnapshot is returned when nothing was stored for an assignment.
var ErrNoSnapshot = errors.New("store: no snapshot")

// Snapshot is one successful matrix fetch. Principal identifies the
// credentials the records were fetched with; snapshots are only read back
// for the same principal.
type Snapshot struct {
	ID              string
	Principal       string
	CourseID        string
	AssignmentIndex int
	Records         []matrix.ReviewRecord
	FetchedAt       time.Time
}

// Store is a sqlite-backed snapshot store.
type Store struct {
	db *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS matrix_snapshots (
        id TEXT PRIMARY KEY,
        principal TEXT NOT NULL,
        course_id TEXT NOT NULL,
        assignment_index INTEGER NOT NULL,
        records TEXT NOT NULL,
        fetched_at INTEGER NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_matrix_snapshots_lookup
        ON matrix_snapshots (principal, course_id, assignment_index, fetched_at)`,
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: ensure dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: apply schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a snapshot, assigning an ID and fetch time when missing.
func (s *Store) Save(ctx context.Context, snap Snapshot) (Snapshot, error) {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now()
	}
	records := snap.Records
	if records == nil {
		records = []matrix.ReviewRecord{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return Snapshot{}, fmt.Errorf("store: encode records: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO matrix_snapshots (id, principal, course_id, assignment_index, records, fetched_at) VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Principal, snap.CourseID, snap.AssignmentIndex, string(payload), snap.FetchedAt.UnixNano())
	if err != nil {
		return Snapshot{}, fmt.Errorf("store: insert snapshot: %w", err)
	}
	return snap, nil
}

// Latest returns the most recent snapshot of an assignment fetched by principal.
func (s *Store) Latest(ctx context.Context, principal, courseID string, assignmentIndex int) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, records, fetched_at FROM matrix_snapshots
         WHERE principal = ? AND course_id = ? AND assignment_index = ?
         ORDER BY fetched_at DESC LIMIT 1`,
		principal, courseID, assignmentIndex)

	var (
		snap      = Snapshot{Principal: principal, CourseID: courseID, AssignmentIndex: assignmentIndex}
		payload   string
		fetchedAt int64
	)
	if err := row.Scan(&snap.ID, &payload, &fetchedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, ErrNoSnapshot
		}
		return Snapshot{}, fmt.Errorf("store: query snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &snap.Records); err != nil {
		return Snapshot{}, fmt.Errorf("store: decode records: %w", err)
	}
	snap.FetchedAt = time.Unix(0, fetchedAt)
	return snap, nil
}

// Prune deletes all but the newest keep snapshots of an assignment fetched
// by principal and reports how many rows were removed.
func (s *Store) Prune(ctx context.Context, principal, courseID string, assignmentIndex, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM matrix_snapshots
         WHERE principal = ? AND course_id = ? AND assignment_index = ?
           AND id NOT IN (
               SELECT id FROM matrix_snapshots
               WHERE principal = ? AND course_id = ? AND assignment_index = ?
               ORDER BY fetched_at DESC LIMIT ?
           )`,
		principal, courseID, assignmentIndex, principal, courseID, assignmentIndex, keep)
	if err != nil {
		return 0, fmt.Errorf("store: prune snapshots: %w", err)
	}
	return res.RowsAffected()
}
