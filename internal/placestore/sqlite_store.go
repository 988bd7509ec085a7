// Package placestore provides persistent storage for placement job state and
// results using SQLite.
package placestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/junayed-hasan/life-trajectory-embeddings/internal/lifeapi"
)

// JobStatus represents the current state of a placement job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// PlacementJob tracks one generate-embedding request through its lifetime.
type PlacementJob struct {
	ID         string               `json:"job_id"`
	Status     JobStatus            `json:"status"`
	Params     lifeapi.EmbedRequest `json:"params"`
	Phase      string               `json:"phase,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	StartedAt  *time.Time           `json:"started_at,omitempty"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// Store provides persistent storage for placement jobs using SQLite. Result
// payloads are stored zstd-compressed.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewStore creates a new SQLite-based placement store.
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	s := &Store{db: db, enc: enc, dec: dec}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS placement_jobs (
		job_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		params_json TEXT NOT NULL,
		phase TEXT DEFAULT '',
		error TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_placement_jobs_status ON placement_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_placement_jobs_finished ON placement_jobs(finished_at);

	CREATE TABLE IF NOT EXISTS placement_results (
		job_id TEXT PRIMARY KEY,
		result_blob BLOB NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (job_id) REFERENCES placement_jobs(job_id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateJob creates a new job record with status=queued.
func (s *Store) CreateJob(job *PlacementJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO placement_jobs (job_id, status, params_json, phase, error, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		string(job.Status),
		string(paramsJSON),
		job.Phase,
		job.Error,
		job.CreatedAt.Format(time.RFC3339),
		nil,
		nil,
	)
	return err
}

// GetJob retrieves a job by ID. A missing job returns (nil, nil).
func (s *Store) GetJob(jobID string) (*PlacementJob, error) {
	row := s.db.QueryRow(`
		SELECT job_id, status, params_json, phase, error, created_at, started_at, finished_at
		FROM placement_jobs WHERE job_id = ?
	`, jobID)

	job, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateJobStatus updates the job status; terminal states stamp finished_at.
func (s *Store) UpdateJobStatus(jobID string, status JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finishedAt *string
	if status == JobStatusCompleted || status == JobStatusFailed || status == JobStatusCancelled {
		t := time.Now().Format(time.RFC3339)
		finishedAt = &t
	}

	_, err := s.db.Exec(`
		UPDATE placement_jobs SET status = ?, error = ?, finished_at = COALESCE(?, finished_at)
		WHERE job_id = ?
	`, string(status), errMsg, finishedAt, jobID)
	return err
}

// UpdateJobStarted marks a job as running with start time.
func (s *Store) UpdateJobStarted(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE placement_jobs SET status = ?, started_at = ?
		WHERE job_id = ?
	`, string(JobStatusRunning), now, jobID)
	return err
}

// UpdateJobPhase updates the progress phase shown by the loading indicator.
func (s *Store) UpdateJobPhase(jobID string, phase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE placement_jobs SET phase = ?
		WHERE job_id = ?
	`, phase, jobID)
	return err
}

// SaveResult stores the placement result as a zstd-compressed JSON blob.
func (s *Store) SaveResult(jobID string, resp *lifeapi.EmbedResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	blob := s.enc.EncodeAll(raw, nil)

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO placement_results (job_id, result_blob, created_at)
		VALUES (?, ?, ?)
	`, jobID, blob, time.Now().Format(time.RFC3339))
	return err
}

// GetResult retrieves and decompresses a placement result. A missing result
// returns (nil, nil).
func (s *Store) GetResult(jobID string) (*lifeapi.EmbedResponse, error) {
	var blob []byte
	err := s.db.QueryRow(`
		SELECT result_blob FROM placement_results WHERE job_id = ?
	`, jobID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	raw, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress result: %w", err)
	}

	var resp lifeapi.EmbedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &resp, nil
}

// ListQueuedJobs returns all queued jobs (for restart recovery).
func (s *Store) ListQueuedJobs() ([]*PlacementJob, error) {
	rows, err := s.db.Query(`
		SELECT job_id, status, params_json, phase, error, created_at, started_at, finished_at
		FROM placement_jobs WHERE status = ?
		ORDER BY created_at ASC
	`, string(JobStatusQueued))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*PlacementJob
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// MarkRunningAsFailed marks all running jobs as failed (for restart recovery).
func (s *Store) MarkRunningAsFailed(errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE placement_jobs SET status = ?, error = ?, finished_at = ?
		WHERE status = ?
	`, string(JobStatusFailed), errMsg, now, string(JobStatusRunning))
	return err
}

// DeleteExpiredJobs deletes finished jobs older than retentionDays.
func (s *Store) DeleteExpiredJobs(retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays).Format(time.RFC3339)

	// Delete results first (foreign key)
	_, err := s.db.Exec(`
		DELETE FROM placement_results WHERE job_id IN (
			SELECT job_id FROM placement_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
		)
	`, cutoff)
	if err != nil {
		return 0, err
	}

	result, err := s.db.Exec(`
		DELETE FROM placement_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// DeleteJob deletes a job and its result.
func (s *Store) DeleteJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Delete the result first
	_, err := s.db.Exec("DELETE FROM placement_results WHERE job_id = ?", jobID)
	if err != nil {
		return err
	}

	_, err = s.db.Exec("DELETE FROM placement_jobs WHERE job_id = ?", jobID)
	return err
}

func scanJob(scan func(dest ...any) error) (*PlacementJob, error) {
	var job PlacementJob
	var paramsJSON string
	var createdAtStr string
	var startedAtStr, finishedAtStr sql.NullString

	err := scan(
		&job.ID,
		&job.Status,
		&paramsJSON,
		&job.Phase,
		&job.Error,
		&createdAtStr,
		&startedAtStr,
		&finishedAtStr,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal params: %w", err)
	}

	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	if startedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339, startedAtStr.String)
		job.StartedAt = &t
	}
	if finishedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339, finishedAtStr.String)
		job.FinishedAt = &t
	}

	return &job, nil
}
