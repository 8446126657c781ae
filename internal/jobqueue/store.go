package jobqueue

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema
// changes; operators clear the queue database after schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store is the durable FIFO job queue plus dead-letter registry, backed by
// SQLite. Claiming is atomic: a single conditional UPDATE means at most one
// worker ever holds a given job.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the job queue database inside dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "jobs.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_version").Scan(&count); err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	delay := busyRetryInitialBackoff
	var (
		res     sql.Result
		execErr error
	)
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		if execErr == nil || !isSQLiteBusy(execErr) {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	if execErr != nil {
		return nil, execErr
	}
	return res, nil
}

// EnqueueOnce inserts a job for the business key unless any job for that key
// is already in flight on any queue. The single guarded INSERT keeps the
// chain invariant: a record never has two jobs concurrently in flight.
func (s *Store) EnqueueOnce(ctx context.Context, queue, businessKey string) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`INSERT INTO jobs (id, queue, business_key, enqueued_at)
         SELECT ?, ?, ?, ?
         WHERE NOT EXISTS (SELECT 1 FROM jobs WHERE business_key = ?)`,
		uuid.NewString(), queue, businessKey,
		time.Now().UTC().Format(time.RFC3339Nano),
		businessKey,
	)
	if err != nil {
		return false, fmt.Errorf("enqueue job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Claim atomically pops the oldest unclaimed job from the queue. Returns nil
// when the queue is empty.
func (s *Store) Claim(ctx context.Context, queue string) (*Job, error) {
	token := uuid.NewString()
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET claimed_at = ?, claim_token = ?
         WHERE id = (
             SELECT id FROM jobs
             WHERE queue = ? AND claimed_at IS NULL
             ORDER BY enqueued_at, id LIMIT 1
         ) AND claimed_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), token, queue,
	)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, queue, business_key, enqueued_at, claimed_at
         FROM jobs WHERE claim_token = ?`, token)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("load claimed job: %w", err)
	}
	return job, nil
}

// Complete discards a finished job.
func (s *Store) Complete(ctx context.Context, jobID string) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, jobID); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Fail moves a job to the dead-letter registry with its final error.
func (s *Store) Fail(ctx context.Context, job *Job, jobErr error) error {
	message := "unknown failure"
	if jobErr != nil {
		message = jobErr.Error()
	}
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO dead_letters (id, queue, business_key, error, enqueued_at, failed_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.Queue, job.BusinessKey, message,
		job.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("record dead letter: %w", err)
	}
	if _, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, job.ID); err != nil {
		return fmt.Errorf("remove failed job: %w", err)
	}
	return nil
}

// DeadLetters returns the registry contents, oldest first.
func (s *Store) DeadLetters(ctx context.Context) ([]*DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, queue, business_key, error, enqueued_at, failed_at
         FROM dead_letters ORDER BY failed_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var letters []*DeadLetter
	for rows.Next() {
		var (
			dl                   DeadLetter
			enqueuedAt, failedAt string
		)
		if err := rows.Scan(&dl.ID, &dl.Queue, &dl.BusinessKey, &dl.Error, &enqueuedAt, &failedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		dl.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, enqueuedAt)
		dl.FailedAt, _ = time.Parse(time.RFC3339Nano, failedAt)
		letters = append(letters, &dl)
	}
	return letters, rows.Err()
}

// Requeue moves a dead letter back onto its original queue for another
// attempt. It refuses when another job for the record is already in flight.
func (s *Store) Requeue(ctx context.Context, deadLetterID string) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, queue, business_key FROM dead_letters WHERE id = ?`, deadLetterID)
	var id, queue, businessKey string
	if err := row.Scan(&id, &queue, &businessKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("load dead letter: %w", err)
	}

	inserted, err := s.EnqueueOnce(ctx, queue, businessKey)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, fmt.Errorf("record %s already has a job in flight", businessKey)
	}
	if _, err := s.execWithRetry(ctx, `DELETE FROM dead_letters WHERE id = ?`, deadLetterID); err != nil {
		return false, fmt.Errorf("remove dead letter: %w", err)
	}
	return true, nil
}

// ClearDeadLetters drains the registry and returns how many entries were removed.
func (s *Store) ClearDeadLetters(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM dead_letters`)
	if err != nil {
		return 0, fmt.Errorf("clear dead letters: %w", err)
	}
	return res.RowsAffected()
}

// Counts reports per-queue pending and claimed job totals.
func (s *Store) Counts(ctx context.Context) ([]QueueCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT queue,
            SUM(CASE WHEN claimed_at IS NULL THEN 1 ELSE 0 END),
            SUM(CASE WHEN claimed_at IS NOT NULL THEN 1 ELSE 0 END)
         FROM jobs GROUP BY queue ORDER BY queue`)
	if err != nil {
		return nil, fmt.Errorf("query queue counts: %w", err)
	}
	defer rows.Close()

	var counts []QueueCounts
	for rows.Next() {
		var qc QueueCounts
		if err := rows.Scan(&qc.Queue, &qc.Pending, &qc.Claimed); err != nil {
			return nil, fmt.Errorf("scan queue counts: %w", err)
		}
		counts = append(counts, qc)
	}
	return counts, rows.Err()
}

// ReleaseStaleClaims unclaims jobs whose worker died mid-flight: claimed
// before the cutoff and never completed or failed. The job returns to the
// head of its queue for another worker.
func (s *Store) ReleaseStaleClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET claimed_at = NULL, claim_token = NULL
         WHERE claimed_at IS NOT NULL AND claimed_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return res.RowsAffected()
}

func scanJob(row *sql.Row) (*Job, error) {
	var (
		job        Job
		enqueuedAt string
		claimedAt  sql.NullString
	)
	if err := row.Scan(&job.ID, &job.Queue, &job.BusinessKey, &enqueuedAt, &claimedAt); err != nil {
		return nil, err
	}
	job.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, enqueuedAt)
	if claimedAt.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, claimedAt.String); err == nil {
			job.ClaimedAt = &ts
		}
	}
	return &job, nil
}
