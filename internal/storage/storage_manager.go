/**
 * Storage Manager for the OCR Diff Worker
 *
 * Coordinates storage operations across PostgreSQL (diff results, jobs) and
 * Qdrant (change fingerprints). A result is written to Qdrant first and the
 * points are rolled back if the PostgreSQL insert fails.
 */

package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/ocrdiff-worker/internal/diff"
)

// StorageManager coordinates PostgreSQL and Qdrant operations
type StorageManager struct {
	postgres *PostgresClient
	qdrant   *QdrantClient // nil when the change index is disabled
}

// StorageConfig selects the backends the manager connects to
type StorageConfig struct {
	PostgresURL          string
	QdrantAddress        string
	QdrantCollection     string
	FingerprintDimension int
	ChangeIndexEnabled   bool
}

// DiffResultInput represents a comparison to persist. Vectors, when the
// change index is enabled, holds one fingerprint per diff item.
type DiffResultInput struct {
	JobID   string
	UserID  string
	Result  *diff.DiffResult
	Vectors [][]float32
}

// DiffResultOutput represents a stored comparison with all IDs
type DiffResultOutput struct {
	ID        string
	JobID     string
	PointIDs  []string
	CreatedAt time.Time
}

// ChangeSearchResult is one indexed diff item similar to a query
type ChangeSearchResult struct {
	ResultID        string         `json:"result_id"`
	JobID           string         `json:"job_id"`
	PointID         string         `json:"point_id"`
	ItemIndex       int            `json:"item_index"`
	Operation       diff.Operation `json:"operation"`
	PageA           *int           `json:"page_a"`
	PageB           *int           `json:"page_b"`
	TextA           *string        `json:"text_a"`
	TextB           *string        `json:"text_b"`
	SimilarityScore float64        `json:"similarity_score"`
}

var errChangeIndexDisabled = fmt.Errorf("change index is disabled")

// NewStorageManager creates a new storage manager
func NewStorageManager(cfg StorageConfig) (*StorageManager, error) {
	postgres, err := NewPostgresClient(cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	sm := &StorageManager{postgres: postgres}

	if cfg.ChangeIndexEnabled {
		qdrant, err := NewQdrantClient(cfg.QdrantAddress, cfg.QdrantCollection, cfg.FingerprintDimension)
		if err != nil {
			postgres.Close() // Cleanup on failure
			return nil, fmt.Errorf("failed to initialize Qdrant client: %w", err)
		}
		sm.qdrant = qdrant
	}

	return sm, nil
}

// EnsureSchema creates the PostgreSQL tables the worker writes to
func (sm *StorageManager) EnsureSchema(ctx context.Context) error {
	return sm.postgres.EnsureSchema(ctx)
}

// ChangeIndexEnabled reports whether diff items are indexed in Qdrant
func (sm *StorageManager) ChangeIndexEnabled() bool {
	return sm.qdrant != nil
}

// StoreDiffResult stores a comparison across Qdrant and PostgreSQL
func (sm *StorageManager) StoreDiffResult(ctx context.Context, input *DiffResultInput) (*DiffResultOutput, error) {
	if input == nil || input.Result == nil {
		return nil, fmt.Errorf("input is required")
	}

	if input.JobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	// Step 1: Generate the result ID and index points
	resultID := uuid.New().String()
	var pointIDs []string

	if sm.qdrant != nil && len(input.Result.DiffItems) > 0 {
		if len(input.Vectors) != len(input.Result.DiffItems) {
			return nil, fmt.Errorf("expected %d fingerprints, got %d",
				len(input.Result.DiffItems), len(input.Vectors))
		}

		points := changePoints(resultID, input.JobID, input.Result.DiffItems, input.Vectors, time.Now().Unix())

		// Step 2: Store vectors in Qdrant first (fails fast if a vector is invalid)
		if err := sm.qdrant.UpsertVectors(ctx, points); err != nil {
			return nil, fmt.Errorf("failed to store change vectors in Qdrant: %w", err)
		}

		pointIDs = make([]string, len(points))
		for i, p := range points {
			pointIDs[i] = p.ID
		}
	}

	// Step 3: Store the result in PostgreSQL
	createdAt, err := sm.postgres.InsertDiffResult(ctx, &DiffResultRecord{
		ID:       resultID,
		JobID:    input.JobID,
		UserID:   input.UserID,
		Result:   input.Result,
		PointIDs: pointIDs,
	})
	if err != nil {
		// Rollback: delete Qdrant points
		if len(pointIDs) > 0 {
			sm.qdrant.DeleteVectors(context.WithoutCancel(ctx), pointIDs)
		}
		return nil, fmt.Errorf("failed to store diff result in PostgreSQL: %w", err)
	}

	return &DiffResultOutput{
		ID:        resultID,
		JobID:     input.JobID,
		PointIDs:  pointIDs,
		CreatedAt: createdAt,
	}, nil
}

// GetDiffResult retrieves a stored comparison
func (sm *StorageManager) GetDiffResult(ctx context.Context, resultID string) (*DiffResultRecord, error) {
	return sm.postgres.GetDiffResult(ctx, resultID)
}

// DeleteDiffResult removes a comparison and its indexed changes
func (sm *StorageManager) DeleteDiffResult(ctx context.Context, resultID string) error {
	rec, err := sm.postgres.GetDiffResult(ctx, resultID)
	if err != nil {
		return err
	}

	if sm.qdrant != nil && len(rec.PointIDs) > 0 {
		if err := sm.qdrant.DeleteVectors(ctx, rec.PointIDs); err != nil {
			return fmt.Errorf("failed to delete change vectors: %w", err)
		}
	}

	return sm.postgres.DeleteDiffResult(ctx, resultID)
}

// SearchSimilarChanges finds indexed diff items close to the query vector.
// An empty operation matches every kind of change.
func (sm *StorageManager) SearchSimilarChanges(ctx context.Context, queryVector []float32, limit int, operation diff.Operation) ([]*ChangeSearchResult, error) {
	if sm.qdrant == nil {
		return nil, errChangeIndexDisabled
	}

	var match map[string]string
	if operation != "" {
		match = map[string]string{"operation": string(operation)}
	}

	points, err := sm.qdrant.SearchVectors(ctx, queryVector, limit, match)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	results := make([]*ChangeSearchResult, 0, len(points))
	for _, point := range points {
		if r, ok := changeFromPoint(point); ok {
			results = append(results, r)
		}
	}

	return results, nil
}

// SearchLikeChange finds indexed changes close to an already indexed one.
// The change itself is not part of the results.
func (sm *StorageManager) SearchLikeChange(ctx context.Context, pointID string, limit int, operation diff.Operation) ([]*ChangeSearchResult, error) {
	if sm.qdrant == nil {
		return nil, errChangeIndexDisabled
	}
	if limit <= 0 {
		limit = 10
	}

	point, err := sm.qdrant.GetVector(ctx, pointID)
	if err != nil {
		return nil, err
	}
	if len(point.Vector) == 0 {
		return nil, fmt.Errorf("change %s has no stored vector", pointID)
	}

	results, err := sm.SearchSimilarChanges(ctx, point.Vector, limit+1, operation)
	if err != nil {
		return nil, err
	}
	return withoutPoint(results, pointID, limit), nil
}

// withoutPoint drops one point from search results and caps the rest at limit
func withoutPoint(results []*ChangeSearchResult, pointID string, limit int) []*ChangeSearchResult {
	out := make([]*ChangeSearchResult, 0, min(len(results), limit))
	for _, r := range results {
		if r.PointID == pointID {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, r)
	}
	return out
}

// UpdateJobStatus updates job status in PostgreSQL
func (sm *StorageManager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	return sm.postgres.UpdateJobStatus(ctx, update)
}

// GetJobByID retrieves job by ID
func (sm *StorageManager) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	return sm.postgres.GetJobByID(ctx, jobID)
}

// GetStats returns statistics from both systems
func (sm *StorageManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	pgStats := sm.postgres.GetStats()

	stats := map[string]interface{}{
		"postgres": map[string]interface{}{
			"max_open_connections": pgStats.MaxOpenConnections,
			"open_connections":     pgStats.OpenConnections,
			"in_use":               pgStats.InUse,
			"idle":                 pgStats.Idle,
			"wait_count":           pgStats.WaitCount,
			"wait_duration":        pgStats.WaitDuration.String(),
		},
	}

	if sm.qdrant != nil {
		qdrantStats, err := sm.qdrant.GetCollectionInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get Qdrant stats: %w", err)
		}
		stats["qdrant"] = qdrantStats
	}

	return stats, nil
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	var pgErr, qdErr error

	if sm.postgres != nil {
		pgErr = sm.postgres.Close()
	}

	if sm.qdrant != nil {
		qdErr = sm.qdrant.Close()
	}

	if pgErr != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", pgErr)
	}

	if qdErr != nil {
		return fmt.Errorf("failed to close Qdrant: %w", qdErr)
	}

	return nil
}

// changePoints builds one Qdrant point per diff item
func changePoints(resultID, jobID string, items []diff.DiffItem, vectors [][]float32, now int64) []*VectorPoint {
	points := make([]*VectorPoint, len(items))
	for i, item := range items {
		metadata := map[string]interface{}{
			"result_id":  resultID,
			"job_id":     jobID,
			"item_index": int64(i),
			"operation":  string(item.Operation),
			"created_at": now,
		}
		if item.PageA != nil {
			metadata["page_a"] = int64(*item.PageA)
		}
		if item.PageB != nil {
			metadata["page_b"] = int64(*item.PageB)
		}
		if item.TextA != nil {
			metadata["text_a"] = *item.TextA
		}
		if item.TextB != nil {
			metadata["text_b"] = *item.TextB
		}

		points[i] = &VectorPoint{
			ID:        uuid.New().String(),
			Vector:    vectors[i],
			Metadata:  metadata,
			Timestamp: now,
		}
	}
	return points
}

// changeFromPoint reads a search hit back; points without a result ID are skipped
func changeFromPoint(point *VectorPoint) (*ChangeSearchResult, bool) {
	resultID, ok := point.Metadata["result_id"].(string)
	if !ok || resultID == "" {
		return nil, false
	}

	r := &ChangeSearchResult{
		ResultID:        resultID,
		PointID:         point.ID,
		SimilarityScore: point.Score,
	}
	r.JobID, _ = point.Metadata["job_id"].(string)
	if op, ok := point.Metadata["operation"].(string); ok {
		r.Operation = diff.Operation(op)
	}
	if idx, ok := point.Metadata["item_index"].(int64); ok {
		r.ItemIndex = int(idx)
	}
	if page, ok := point.Metadata["page_a"].(int64); ok {
		v := int(page)
		r.PageA = &v
	}
	if page, ok := point.Metadata["page_b"].(int64); ok {
		v := int(page)
		r.PageB = &v
	}
	if text, ok := point.Metadata["text_a"].(string); ok {
		r.TextA = &text
	}
	if text, ok := point.Metadata["text_b"].(string); ok {
		r.TextB = &text
	}

	return r, true
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sanitizeJSONForPostgres rewrites escapes PostgreSQL JSONB rejects.
// \u0000 is dropped and the other C0 control escapes become a space.
// Escaped backslashes are skipped, so a literal `\\u0000` is left alone.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	out := make([]byte, 0, len(jsonBytes))
	for i := 0; i < len(jsonBytes); i++ {
		c := jsonBytes[i]
		if c != '\\' || i+1 >= len(jsonBytes) {
			out = append(out, c)
			continue
		}

		next := jsonBytes[i+1]
		if next == 'u' && i+5 < len(jsonBytes) && isControlEscape(jsonBytes[i+2:i+6]) {
			if string(jsonBytes[i+2:i+6]) != "0000" {
				out = append(out, ' ')
			}
			i += 5
			continue
		}

		out = append(out, c, next)
		i++
	}
	return out
}

// isControlEscape matches the hex digits of \u0000 through \u001F
func isControlEscape(hex []byte) bool {
	if hex[0] != '0' || hex[1] != '0' || (hex[2] != '0' && hex[2] != '1') {
		return false
	}
	h := hex[3]
	return (h >= '0' && h <= '9') || (h >= 'a' && h <= 'f') || (h >= 'A' && h <= 'F')
}
