package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adverant/nexus/ocrdiff-worker/internal/config"
	"github.com/adverant/nexus/ocrdiff-worker/internal/diff"
	"github.com/adverant/nexus/ocrdiff-worker/internal/processor"
	"github.com/adverant/nexus/ocrdiff-worker/internal/storage"
)

type fakeStore struct {
	indexEnabled bool
	jobs         map[string]map[string]interface{}
	results      map[string]*storage.DiffResultRecord
	updates      []*storage.JobUpdate
	deleted      []string
	searchVector []float32
	searchLimit  int
	searchOp     diff.Operation
	likePoint    string
	closed       bool
}

func (s *fakeStore) StoreDiffResult(ctx context.Context, input *storage.DiffResultInput) (*storage.DiffResultOutput, error) {
	return nil, fmt.Errorf("not used")
}

func (s *fakeStore) UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error {
	s.updates = append(s.updates, update)
	return nil
}

func (s *fakeStore) ChangeIndexEnabled() bool { return s.indexEnabled }

func (s *fakeStore) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	return job, nil
}

func (s *fakeStore) GetDiffResult(ctx context.Context, resultID string) (*storage.DiffResultRecord, error) {
	rec, ok := s.results[resultID]
	if !ok {
		return nil, fmt.Errorf("diff result not found: %s", resultID)
	}
	return rec, nil
}

func (s *fakeStore) DeleteDiffResult(ctx context.Context, resultID string) error {
	if _, ok := s.results[resultID]; !ok {
		return fmt.Errorf("diff result not found: %s", resultID)
	}
	s.deleted = append(s.deleted, resultID)
	return nil
}

func (s *fakeStore) SearchSimilarChanges(ctx context.Context, queryVector []float32, limit int, operation diff.Operation) ([]*storage.ChangeSearchResult, error) {
	s.searchVector, s.searchLimit, s.searchOp = queryVector, limit, operation
	return []*storage.ChangeSearchResult{{PointID: "p2", Operation: diff.OpInsert, SimilarityScore: 0.9}}, nil
}

func (s *fakeStore) SearchLikeChange(ctx context.Context, pointID string, limit int, operation diff.Operation) ([]*storage.ChangeSearchResult, error) {
	s.likePoint, s.searchLimit, s.searchOp = pointID, limit, operation
	return []*storage.ChangeSearchResult{{PointID: "p3", Operation: diff.OpReplace, SimilarityScore: 0.7}}, nil
}

func (s *fakeStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"postgres": map[string]interface{}{"open_connections": 1}}, nil
}

func (s *fakeStore) Close() error {
	s.closed = true
	return nil
}

type fakeQueue struct {
	proc     processor.DiffProcessorInterface
	enqueued []*processor.ProcessRequest
	closed   bool
}

func (q *fakeQueue) Enqueue(ctx context.Context, req *processor.ProcessRequest) (string, error) {
	q.enqueued = append(q.enqueued, req)
	if err := q.proc.UpdateJobStatus(ctx, req.JobID, "queued", 0, map[string]interface{}{"userId": req.UserID}); err != nil {
		return "", err
	}
	return req.JobID, nil
}

func (q *fakeQueue) Stats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"backend": "redis", "waiting": 2}, nil
}

func (q *fakeQueue) Close() error {
	q.closed = true
	return nil
}

func fakeServices(store *fakeStore, q *fakeQueue) *services {
	return &services{
		loadConfig: func() (*config.Config, error) {
			return &config.Config{
				QueueBackend:         "redis",
				QueueName:            "ocrdiff:jobs",
				FingerprintDimension: 64,
				LineToleranceRatio:   0.5,
				CharCleanup:          true,
			}, nil
		},
		openStore: func(cfg *config.Config) (resultStore, error) { return store, nil },
		openQueue: func(cfg *config.Config, proc processor.DiffProcessorInterface) (jobQueue, error) {
			q.proc = proc
			return q, nil
		},
	}
}

func executeWith(t *testing.T, svc *services, args ...string) (string, error) {
	t.Helper()
	root := newRootCmdWith(svc)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

func TestSubmitTokenDocuments(t *testing.T) {
	dir := t.TempDir()
	a := writeDoc(t, dir, "a", "Hello", "world")
	b := writeDoc(t, dir, "b", "Hello", "there")
	store, q := &fakeStore{}, &fakeQueue{}

	out, err := executeWith(t, fakeServices(store, q), "submit", a, b, "--job-id", "job-1", "--user", "u1")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	var printed map[string]string
	if err := json.Unmarshal([]byte(out), &printed); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, out)
	}
	if printed["job_id"] != "job-1" || printed["queue"] != "ocrdiff:jobs" || printed["backend"] != "redis" {
		t.Fatalf("unexpected output %v", printed)
	}

	if len(q.enqueued) != 1 {
		t.Fatalf("expected one job, got %d", len(q.enqueued))
	}
	req := q.enqueued[0]
	if req.JobID != "job-1" || req.UserID != "u1" || req.DocumentA.Path != "a.pdf" || req.DocumentB.Path != "b.pdf" {
		t.Fatalf("unexpected request %+v", req)
	}
	if len(req.DocumentB.Pages) != 1 || len(req.DocumentB.Pages[0].Tokens) != 2 || req.DocumentB.Pages[0].Tokens[1].Text != "there" {
		t.Fatalf("unexpected pages %+v", req.DocumentB.Pages)
	}

	if len(store.updates) != 1 || store.updates[0].Status != "queued" || store.updates[0].UserID != "u1" {
		t.Fatalf("expected a queued status update, got %+v", store.updates)
	}
	if !store.closed || !q.closed {
		t.Fatal("store and queue must be closed")
	}
}

func TestSubmitRequestFileGeneratesJobID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.json")
	body := `{
		"document_a": {"path": "a.pdf", "pages": [{"page": 1, "image_url": "https://example.com/a1.png"}]},
		"document_b": {"path": "b.pdf", "total_pages": 2, "pages": [{"page": 2, "tokens": []}]}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	req, err := buildRequest([]string{path}, "", "")
	if err != nil {
		t.Fatalf("buildRequest failed: %v", err)
	}
	if len(req.JobID) != 36 {
		t.Fatalf("expected a generated UUID job ID, got %q", req.JobID)
	}
	if req.DocumentA.Pages[0].ImageURL == "" || req.DocumentB.PageCount() != 2 {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	dir := t.TempDir()
	a := writeDoc(t, dir, "a", "x")
	twoSources := filepath.Join(dir, "two.json")
	body := `{"job_id": "j", "document_a": {"pages": [{"page": 1, "image": "aGk=", "image_url": "https://x"}]}, "document_b": {"pages": []}}`
	if err := os.WriteFile(twoSources, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	garbage := filepath.Join(dir, "garbage.json")
	if err := os.WriteFile(garbage, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := map[string][]string{
		"no arguments":       {"submit"},
		"too many arguments": {"submit", a, a, a},
		"two page sources":   {"submit", twoSources},
		"malformed request":  {"submit", garbage},
		"missing document":   {"submit", a, filepath.Join(dir, "nope.json")},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			q := &fakeQueue{}
			if _, err := executeWith(t, fakeServices(&fakeStore{}, q), args...); err == nil {
				t.Fatal("expected error")
			}
			if len(q.enqueued) != 0 {
				t.Fatal("invalid requests must not be queued")
			}
		})
	}
}

func TestRequestFromDocumentsSkipsEmptyPages(t *testing.T) {
	box := diff.BoundingBox{X: 1, Y: 1, Width: 10, Height: 10}
	docA := diff.Document{Path: "a.pdf", Pages: 3, Tokens: []diff.Token{{Text: "x", Page: 2, BoundingBox: box}}}
	docB := diff.Document{Path: "b.pdf", Pages: 0}

	req, err := requestFromDocuments(docA, docB)
	if err != nil {
		t.Fatal(err)
	}
	if req.DocumentA.TotalPages != 3 || len(req.DocumentA.Pages) != 1 || req.DocumentA.Pages[0].Page != 2 {
		t.Fatalf("unexpected document A %+v", req.DocumentA)
	}
	if len(req.DocumentB.Pages) != 0 {
		t.Fatalf("empty document must list no pages, got %+v", req.DocumentB.Pages)
	}

	docA.Tokens[0].Page = 4
	if _, err := requestFromDocuments(docA, docB); err == nil {
		t.Fatal("expected error for a token past total_pages")
	}
}

func TestResultCommand(t *testing.T) {
	store := &fakeStore{
		jobs: map[string]map[string]interface{}{
			"done":    {"id": "done", "status": "completed", "resultId": "r1"},
			"pending": {"id": "pending", "status": "queued"},
		},
		results: map[string]*storage.DiffResultRecord{
			"r1": {ID: "r1", JobID: "done", Result: &diff.DiffResult{TotalDifferences: 3}},
		},
	}
	svc := fakeServices(store, &fakeQueue{})

	out, err := executeWith(t, svc, "result", "done")
	if err != nil {
		t.Fatalf("result failed: %v", err)
	}
	var report jobReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatal(err)
	}
	if report.Job["status"] != "completed" || report.Result == nil || report.Result.Result.TotalDifferences != 3 {
		t.Fatalf("unexpected report %s", out)
	}

	out, err = executeWith(t, svc, "result", "pending")
	if err != nil {
		t.Fatalf("result failed: %v", err)
	}
	if strings.Contains(out, `"result"`) {
		t.Fatalf("a job without a result must not print one, got %s", out)
	}

	if _, err := executeWith(t, svc, "result", "missing"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestResultCommandReportsMissingResult(t *testing.T) {
	store := &fakeStore{jobs: map[string]map[string]interface{}{
		"orphan": {"id": "orphan", "status": "completed", "resultId": "gone"},
	}}
	_, err := executeWith(t, fakeServices(store, &fakeQueue{}), "result", "orphan")
	if err == nil || !strings.Contains(err.Error(), "job orphan") {
		t.Fatalf("expected error naming the job, got %v", err)
	}
}

func TestDeleteCommand(t *testing.T) {
	store := &fakeStore{results: map[string]*storage.DiffResultRecord{"r1": {ID: "r1"}}}
	svc := fakeServices(store, &fakeQueue{})

	out, err := executeWith(t, svc, "delete", "r1")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if out != "deleted r1\n" || len(store.deleted) != 1 {
		t.Fatalf("unexpected output %q, deleted %v", out, store.deleted)
	}

	if _, err := executeWith(t, svc, "delete", "r2"); err == nil {
		t.Fatal("expected error for unknown result")
	}
}

func TestSearchCommand(t *testing.T) {
	store := &fakeStore{indexEnabled: true}
	svc := fakeServices(store, &fakeQueue{})

	out, err := executeWith(t, svc, "search", "total", "due", "--op", "INSERT", "--limit", "5")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(store.searchVector) != 64 || store.searchLimit != 5 || store.searchOp != diff.OpInsert {
		t.Fatalf("unexpected query: %d dims, limit %d, op %q", len(store.searchVector), store.searchLimit, store.searchOp)
	}
	var hits []storage.ChangeSearchResult
	if err := json.Unmarshal([]byte(out), &hits); err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].PointID != "p2" {
		t.Fatalf("unexpected hits %s", out)
	}

	fp, _ := processor.NewFingerprinter(64)
	want, _ := fp.Fingerprint("total due")
	for i := range want {
		if want[i] != store.searchVector[i] {
			t.Fatal("search text must be fingerprinted the way changes are")
		}
	}

	out, err = executeWith(t, svc, "search", "--like", "p1")
	if err != nil {
		t.Fatalf("search --like failed: %v", err)
	}
	if store.likePoint != "p1" || store.searchLimit != 10 || store.searchOp != "" || !strings.Contains(out, `"p3"`) {
		t.Fatalf("unexpected --like query %q limit %d op %q: %s", store.likePoint, store.searchLimit, store.searchOp, out)
	}
}

func TestSearchRequiresChangeIndex(t *testing.T) {
	_, err := executeWith(t, fakeServices(&fakeStore{}, &fakeQueue{}), "search", "anything")
	if err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Fatalf("expected disabled index error, got %v", err)
	}
}

func TestSearchFlagsValidate(t *testing.T) {
	tests := []struct {
		name    string
		flags   searchFlags
		args    []string
		want    diff.Operation
		wantErr bool
	}{
		{"text", searchFlags{limit: 10}, []string{"x"}, "", false},
		{"like", searchFlags{limit: 10, like: "p1", operation: "Replace"}, nil, diff.OpReplace, false},
		{"neither", searchFlags{limit: 10}, nil, "", true},
		{"both", searchFlags{limit: 10, like: "p1"}, []string{"x"}, "", true},
		{"equal is not indexed", searchFlags{limit: 10, operation: "equal"}, []string{"x"}, "", true},
		{"zero limit", searchFlags{limit: 0}, []string{"x"}, "", true},
		{"limit too large", searchFlags{limit: 101}, []string{"x"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := tt.flags.validate(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if op != tt.want {
				t.Fatalf("validate() = %q, want %q", op, tt.want)
			}
		})
	}
}

func TestStatsCommand(t *testing.T) {
	q := &fakeQueue{}
	out, err := executeWith(t, fakeServices(&fakeStore{}, q), "stats")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	var stats map[string]map[string]interface{}
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatal(err)
	}
	if stats["queue"]["waiting"] != float64(2) || stats["storage"]["postgres"] == nil {
		t.Fatalf("unexpected stats %s", out)
	}
	if !q.closed {
		t.Fatal("queue must be closed")
	}
}

func TestServiceCommandsReportConfigErrors(t *testing.T) {
	svc := fakeServices(&fakeStore{}, &fakeQueue{})
	svc.loadConfig = func() (*config.Config, error) {
		return nil, errors.New("DATABASE_URL is required")
	}

	for _, args := range [][]string{{"result", "j"}, {"delete", "r"}, {"stats"}, {"search", "x"}} {
		if _, err := executeWith(t, svc, args...); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
			t.Fatalf("%v: expected config error, got %v", args, err)
		}
	}
}
