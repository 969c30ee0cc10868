package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/ocrdiff-worker/internal/diff"
	"github.com/adverant/nexus/ocrdiff-worker/internal/logging"
)

type compareFlags struct {
	output         string
	toleranceRatio float64
	tolerancePx    int
	maxWordGap     int
	pageWorkers    int
	noCharCleanup  bool
}

func newCompareCmd() *cobra.Command {
	var f compareFlags
	defaults := diff.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "compare A.json B.json",
		Short: "Diff two token documents",
		Long: "Reads two token documents ({path, total_pages, tokens}) and prints the " +
			"DiffResult JSON of document A against document B.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(cmd, args, &f)
		},
	}

	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Write the result to this file instead of stdout")
	cmd.Flags().Float64Var(&f.toleranceRatio, "tolerance-ratio", defaults.Grouping.ToleranceRatio, "Line tolerance as a fraction of token height")
	cmd.Flags().IntVar(&f.tolerancePx, "tolerance-px", 0, "Fixed line tolerance in pixels (overrides the ratio when > 0)")
	cmd.Flags().IntVar(&f.maxWordGap, "max-word-gap", 0, "Split lines at horizontal gaps wider than this many pixels (0 = off)")
	cmd.Flags().IntVar(&f.pageWorkers, "page-workers", 1, "Page pairs diffed concurrently")
	cmd.Flags().BoolVar(&f.noCharCleanup, "no-char-cleanup", false, "Keep single-character matches inside replaced text")
	return cmd
}

func (f *compareFlags) options() (diff.Options, error) {
	if f.toleranceRatio <= 0 {
		return diff.Options{}, fmt.Errorf("--tolerance-ratio must be positive, got %g", f.toleranceRatio)
	}
	if f.tolerancePx < 0 || f.maxWordGap < 0 {
		return diff.Options{}, fmt.Errorf("--tolerance-px and --max-word-gap must not be negative")
	}
	if f.pageWorkers < 1 {
		return diff.Options{}, fmt.Errorf("--page-workers must be at least 1, got %d", f.pageWorkers)
	}

	opts := diff.DefaultOptions()
	opts.Grouping = diff.GroupOptions{
		ToleranceRatio: f.toleranceRatio,
		TolerancePx:    f.tolerancePx,
		MaxWordGap:     f.maxWordGap,
	}
	opts.CharCleanup = !f.noCharCleanup
	opts.PageWorkers = f.pageWorkers
	return opts, nil
}

func runCompare(cmd *cobra.Command, args []string, f *compareFlags) error {
	logger := logging.NewLoggerTo(cmd.ErrOrStderr(), "ocrdiff")

	opts, err := f.options()
	if err != nil {
		return err
	}

	docA, err := readDocument(args[0])
	if err != nil {
		return err
	}
	docB, err := readDocument(args[1])
	if err != nil {
		return err
	}

	result, err := diff.Compare(cmd.Context(), docA, docB, opts)
	if err != nil {
		return fmt.Errorf("comparison failed: %w", err)
	}
	logger.Info("Comparison complete",
		"pagesA", result.TotalPagesA, "pagesB", result.TotalPagesB, "differences", result.TotalDifferences)

	return writeOutput(cmd.OutOrStdout(), f.output, result)
}

func readDocument(path string) (diff.Document, error) {
	var doc diff.Document
	data, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("failed to parse token document %s: %w", path, err)
	}
	if doc.Path == "" {
		doc.Path = path
	}
	return doc, nil
}

// writeOutput writes v as indented JSON to path, or to stdout when path is empty
func writeOutput(stdout io.Writer, path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	data = append(data, '\n')

	if path == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
