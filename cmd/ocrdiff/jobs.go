package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/ocrdiff-worker/internal/config"
	"github.com/adverant/nexus/ocrdiff-worker/internal/diff"
	"github.com/adverant/nexus/ocrdiff-worker/internal/processor"
	"github.com/adverant/nexus/ocrdiff-worker/internal/storage"
)

// withStore loads the worker configuration and opens its storage for one command
func (s *services) withStore(fn func(cfg *config.Config, store resultStore) error) error {
	cfg, err := s.loadConfig()
	if err != nil {
		return err
	}
	store, err := s.openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

func newSubmitCmd(s *services) *cobra.Command {
	var jobID, userID string

	cmd := &cobra.Command{
		Use:   "submit (REQUEST.json | A.json B.json)",
		Short: "Queue a comparison job for the worker",
		Long: "Queues a job on the worker's configured backend. Takes either one job request " +
			"({job_id, document_a, document_b, options}) or two token documents.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(args, jobID, userID)
			if err != nil {
				return err
			}

			return s.withStore(func(cfg *config.Config, store resultStore) error {
				proc, err := statusProcessor(cfg, store)
				if err != nil {
					return err
				}
				q, err := s.openQueue(cfg, proc)
				if err != nil {
					return fmt.Errorf("failed to connect to queue: %w", err)
				}
				defer q.Close()

				id, err := q.Enqueue(cmd.Context(), req)
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), "", map[string]string{
					"job_id":  id,
					"queue":   cfg.QueueName,
					"backend": cfg.QueueBackend,
				})
			})
		},
	}

	cmd.Flags().StringVar(&jobID, "job-id", "", "Job ID (generated when neither the flag nor the request sets one)")
	cmd.Flags().StringVar(&userID, "user", "", "User the job is recorded for")
	return cmd
}

// buildRequest reads a job request file, or two token documents, into a
// validated request
func buildRequest(args []string, jobID, userID string) (*processor.ProcessRequest, error) {
	var req *processor.ProcessRequest

	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		req = &processor.ProcessRequest{}
		if err := json.Unmarshal(data, req); err != nil {
			return nil, fmt.Errorf("failed to parse job request %s: %w", args[0], err)
		}
	} else {
		docA, err := readDocument(args[0])
		if err != nil {
			return nil, err
		}
		docB, err := readDocument(args[1])
		if err != nil {
			return nil, err
		}
		if req, err = requestFromDocuments(docA, docB); err != nil {
			return nil, err
		}
	}

	if jobID != "" {
		req.JobID = jobID
	}
	if req.JobID == "" {
		req.JobID = uuid.New().String()
	}
	if userID != "" {
		req.UserID = userID
	}

	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job request: %w", err)
	}
	return req, nil
}

// requestFromDocuments lists the tokens of each page as that page's source.
// Pages without tokens stay unlisted and count as empty.
func requestFromDocuments(docA, docB diff.Document) (*processor.ProcessRequest, error) {
	a, err := documentInput(docA, diff.SideA)
	if err != nil {
		return nil, err
	}
	b, err := documentInput(docB, diff.SideB)
	if err != nil {
		return nil, err
	}
	return &processor.ProcessRequest{DocumentA: a, DocumentB: b}, nil
}

func documentInput(doc diff.Document, side diff.Side) (processor.DocumentInput, error) {
	byPage, err := doc.TokensByPage(side)
	if err != nil {
		return processor.DocumentInput{}, err
	}

	in := processor.DocumentInput{Path: doc.Path, TotalPages: doc.Pages}
	for i, tokens := range byPage {
		if len(tokens) == 0 {
			continue
		}
		in.Pages = append(in.Pages, processor.PageInput{Page: i + 1, Tokens: tokens})
	}
	return in, nil
}

// jobReport is what `result` prints
type jobReport struct {
	Job    map[string]interface{}    `json:"job"`
	Result *storage.DiffResultRecord `json:"result,omitempty"`
}

func newResultCmd(s *services) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "result JOB_ID",
		Short: "Show a job's status and, once completed, its diff result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withStore(func(cfg *config.Config, store resultStore) error {
				report, err := loadJobReport(cmd, store, args[0])
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), output, report)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the report to this file instead of stdout")
	return cmd
}

func loadJobReport(cmd *cobra.Command, store resultStore, jobID string) (*jobReport, error) {
	job, err := store.GetJobByID(cmd.Context(), jobID)
	if err != nil {
		return nil, err
	}

	report := &jobReport{Job: job}
	if resultID, ok := job["resultId"].(string); ok && resultID != "" {
		if report.Result, err = store.GetDiffResult(cmd.Context(), resultID); err != nil {
			return nil, fmt.Errorf("job %s: %w", jobID, err)
		}
	}
	return report, nil
}

func newDeleteCmd(s *services) *cobra.Command {
	return &cobra.Command{
		Use:   "delete RESULT_ID",
		Short: "Delete a stored diff result and its indexed changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withStore(func(cfg *config.Config, store resultStore) error {
				if err := store.DeleteDiffResult(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

type searchFlags struct {
	limit     int
	operation string
	like      string
}

func newSearchCmd(s *services) *cobra.Command {
	var f searchFlags

	cmd := &cobra.Command{
		Use:   "search [TEXT...]",
		Short: "Find indexed changes similar to a text or to another change",
		Long: "Fingerprints TEXT the way the worker fingerprints changes and searches the " +
			"change index. With --like, searches for changes close to an indexed change instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := f.validate(args)
			if err != nil {
				return err
			}

			return s.withStore(func(cfg *config.Config, store resultStore) error {
				if !store.ChangeIndexEnabled() {
					return fmt.Errorf("change index is disabled (CHANGE_INDEX_ENABLED=false)")
				}

				var hits []*storage.ChangeSearchResult
				if f.like != "" {
					hits, err = store.SearchLikeChange(cmd.Context(), f.like, f.limit, op)
				} else {
					hits, err = searchText(cmd, cfg, store, strings.Join(args, " "), f.limit, op)
				}
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), "", hits)
			})
		},
	}

	cmd.Flags().IntVar(&f.limit, "limit", 10, "Maximum number of changes returned")
	cmd.Flags().StringVar(&f.operation, "op", "", "Only return insert, delete or replace changes")
	cmd.Flags().StringVar(&f.like, "like", "", "Point ID of an indexed change to search around")
	return cmd
}

// validate checks the flag combination and returns the operation filter
func (f *searchFlags) validate(args []string) (diff.Operation, error) {
	if f.limit < 1 || f.limit > 100 {
		return "", fmt.Errorf("--limit must be between 1 and 100, got %d", f.limit)
	}
	if (f.like == "") == (len(args) == 0) {
		return "", fmt.Errorf("give either search text or --like, not both")
	}

	op := diff.Operation(strings.ToLower(f.operation))
	switch op {
	case "", diff.OpInsert, diff.OpDelete, diff.OpReplace:
		return op, nil
	default:
		return "", fmt.Errorf("--op must be insert, delete or replace, got %q", f.operation)
	}
}

func searchText(cmd *cobra.Command, cfg *config.Config, store resultStore, text string, limit int, op diff.Operation) ([]*storage.ChangeSearchResult, error) {
	fp, err := processor.NewFingerprinter(cfg.FingerprintDimension)
	if err != nil {
		return nil, err
	}
	vec, err := fp.Fingerprint(text)
	if err != nil {
		return nil, err
	}
	return store.SearchSimilarChanges(cmd.Context(), vec, limit, op)
}

func newStatsCmd(s *services) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue and storage statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withStore(func(cfg *config.Config, store resultStore) error {
				storageStats, err := store.GetStats(cmd.Context())
				if err != nil {
					return err
				}

				proc, err := statusProcessor(cfg, store)
				if err != nil {
					return err
				}
				q, err := s.openQueue(cfg, proc)
				if err != nil {
					return fmt.Errorf("failed to connect to queue: %w", err)
				}
				defer q.Close()

				queueStats, err := q.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), "", map[string]interface{}{
					"queue":   queueStats,
					"storage": storageStats,
				})
			})
		},
	}
}
