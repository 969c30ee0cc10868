/**
 * PostgreSQL Client for the OCR Diff Worker
 *
 * Handles database operations for job persistence and diff result storage.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/adverant/nexus/ocrdiff-worker/internal/diff"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	UserID           string
	Status           string
	Progress         int
	ResultID         string
	TotalDifferences int
	ProcessingTimeMs int64
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// DiffResultRecord is one stored comparison
type DiffResultRecord struct {
	ID        string           `json:"id"`
	JobID     string           `json:"job_id"`
	UserID    string           `json:"user_id"`
	Result    *diff.DiffResult `json:"result"`
	PointIDs  []string         `json:"point_ids"`
	CreatedAt time.Time        `json:"created_at"`
}

const schemaSQL = `
	CREATE SCHEMA IF NOT EXISTS ocrdiff;

	CREATE TABLE IF NOT EXISTS ocrdiff.diff_jobs (
		id                 TEXT PRIMARY KEY,
		user_id            TEXT NOT NULL DEFAULT 'anonymous',
		status             TEXT NOT NULL,
		progress           INTEGER NOT NULL DEFAULT 0,
		result_id          UUID,
		total_differences  INTEGER,
		processing_time_ms BIGINT,
		error_code         TEXT,
		error_message      TEXT,
		metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS ocrdiff.diff_results (
		id                UUID PRIMARY KEY,
		job_id            TEXT NOT NULL,
		user_id           TEXT NOT NULL DEFAULT 'anonymous',
		pdf_a_path        TEXT NOT NULL DEFAULT '',
		pdf_b_path        TEXT NOT NULL DEFAULT '',
		total_pages_a     INTEGER NOT NULL,
		total_pages_b     INTEGER NOT NULL,
		total_differences INTEGER NOT NULL,
		inserts           INTEGER NOT NULL DEFAULT 0,
		deletes           INTEGER NOT NULL DEFAULT 0,
		replaces          INTEGER NOT NULL DEFAULT 0,
		result            JSONB NOT NULL,
		point_ids         TEXT[] NOT NULL DEFAULT '{}',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS diff_results_job_id_idx ON ocrdiff.diff_results (job_id);
`

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	// Connect to database
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the ocrdiff schema and tables if missing
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// UpdateJobStatus upserts the job row so the worker can create it on first update
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	// Convert metadata to JSONB
	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	metadataJSON = sanitizeJSONForPostgres(metadataJSON)

	query := `
		INSERT INTO ocrdiff.diff_jobs (
			id, user_id, status, progress, result_id, total_differences,
			processing_time_ms, error_code, error_message, metadata,
			created_at, updated_at
		) VALUES (
			$1, COALESCE(NULLIF($2, ''), 'anonymous'), $3, $4,
			NULLIF($5, '')::uuid,
			NULLIF($6, -1), NULLIF($7, 0), NULLIF($8, ''), NULLIF($9, ''),
			COALESCE($10::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = GREATEST(EXCLUDED.progress, ocrdiff.diff_jobs.progress),
			result_id = COALESCE(EXCLUDED.result_id, ocrdiff.diff_jobs.result_id),
			total_differences = COALESCE(EXCLUDED.total_differences, ocrdiff.diff_jobs.total_differences),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, ocrdiff.diff_jobs.processing_time_ms),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = ocrdiff.diff_jobs.metadata || EXCLUDED.metadata,
			user_id = CASE WHEN $2 = '' THEN ocrdiff.diff_jobs.user_id ELSE EXCLUDED.user_id END,
			updated_at = NOW()
		RETURNING id
	`

	// -1 keeps the stored count when the update does not carry one
	totalDifferences := update.TotalDifferences
	if update.ResultID == "" && totalDifferences == 0 {
		totalDifferences = -1
	}

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,                   // $1
		update.UserID,                  // $2
		update.Status,                  // $3
		clampProgress(update.Progress), // $4
		update.ResultID,                // $5
		totalDifferences,               // $6
		update.ProcessingTimeMs,        // $7
		update.ErrorCode,               // $8
		update.ErrorMessage,            // $9
		string(metadataJSON),           // $10
	).Scan(&returnedID)

	if err == sql.ErrNoRows {
		return fmt.Errorf("job not found: %s", update.JobID)
	}

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w",
			update.JobID, update.Status, err)
	}

	return nil
}

// InsertDiffResult stores a comparison result row
func (p *PostgresClient) InsertDiffResult(ctx context.Context, rec *DiffResultRecord) (time.Time, error) {
	if rec.ID == "" || rec.JobID == "" {
		return time.Time{}, fmt.Errorf("result ID and job ID are required")
	}
	if rec.Result == nil {
		return time.Time{}, fmt.Errorf("result is required")
	}

	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to marshal diff result: %w", err)
	}
	resultJSON = sanitizeJSONForPostgres(resultJSON)

	counts := rec.Result.Counts()
	pointIDs := rec.PointIDs
	if pointIDs == nil {
		pointIDs = []string{}
	}

	query := `
		INSERT INTO ocrdiff.diff_results (
			id, job_id, user_id, pdf_a_path, pdf_b_path,
			total_pages_a, total_pages_b, total_differences,
			inserts, deletes, replaces, result, point_ids, created_at
		) VALUES ($1, $2, COALESCE(NULLIF($3, ''), 'anonymous'), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		RETURNING created_at
	`

	var createdAt time.Time
	err = p.db.QueryRowContext(
		ctx,
		query,
		rec.ID,
		rec.JobID,
		rec.UserID,
		rec.Result.PDFAPath,
		rec.Result.PDFBPath,
		rec.Result.TotalPagesA,
		rec.Result.TotalPagesB,
		rec.Result.TotalDifferences,
		counts[diff.OpInsert],
		counts[diff.OpDelete],
		counts[diff.OpReplace],
		string(resultJSON),
		pq.Array(pointIDs),
	).Scan(&createdAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to store diff result: %w", err)
	}

	return createdAt, nil
}

// GetDiffResult retrieves a stored comparison by ID
func (p *PostgresClient) GetDiffResult(ctx context.Context, resultID string) (*DiffResultRecord, error) {
	if resultID == "" {
		return nil, fmt.Errorf("result ID is required")
	}

	query := `
		SELECT id, job_id, user_id, result, point_ids, created_at
		FROM ocrdiff.diff_results
		WHERE id = $1::uuid
	`

	var (
		rec        DiffResultRecord
		resultJSON []byte
		pointIDs   pq.StringArray
	)
	err := p.db.QueryRowContext(ctx, query, resultID).Scan(
		&rec.ID, &rec.JobID, &rec.UserID, &resultJSON, &pointIDs, &rec.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("diff result not found: %s", resultID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get diff result: %w", err)
	}

	var result diff.DiffResult
	if err := json.Unmarshal(resultJSON, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal diff result: %w", err)
	}
	rec.Result = &result
	rec.PointIDs = []string(pointIDs)

	return &rec, nil
}

// DeleteDiffResult removes a stored comparison
func (p *PostgresClient) DeleteDiffResult(ctx context.Context, resultID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM ocrdiff.diff_results WHERE id = $1::uuid`, resultID); err != nil {
		return fmt.Errorf("failed to delete diff result: %w", err)
	}
	return nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id,
			user_id,
			status,
			progress,
			result_id,
			total_differences,
			processing_time_ms,
			error_code,
			error_message,
			metadata,
			created_at,
			updated_at
		FROM ocrdiff.diff_jobs
		WHERE id = $1
	`

	var (
		id, userID, status      string
		progress                int
		resultID                sql.NullString
		totalDifferences        sql.NullInt64
		processingTimeMs        sql.NullInt64
		errorCode, errorMessage sql.NullString
		metadataJSON            []byte
		createdAt, updatedAt    time.Time
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&id, &userID, &status, &progress, &resultID, &totalDifferences,
		&processingTimeMs, &errorCode, &errorMessage,
		&metadataJSON, &createdAt, &updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	// Parse metadata
	var metadata map[string]interface{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	// Build result map
	result := map[string]interface{}{
		"id":        id,
		"userId":    userID,
		"status":    status,
		"progress":  progress,
		"createdAt": createdAt,
		"updatedAt": updatedAt,
		"metadata":  metadata,
	}

	if resultID.Valid {
		result["resultId"] = resultID.String
	}
	if totalDifferences.Valid {
		result["totalDifferences"] = totalDifferences.Int64
	}
	if processingTimeMs.Valid {
		result["processingTimeMs"] = processingTimeMs.Int64
	}
	if errorCode.Valid {
		result["errorCode"] = errorCode.String
	}
	if errorMessage.Valid {
		result["errorMessage"] = errorMessage.String
	}

	return result, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}

func clampProgress(progress int) int {
	return max(0, min(100, progress))
}
