/**
 * ocrdiff - command line front end for the comparison pipeline
 *
 * compare: diff two token documents and print the DiffResult JSON
 * ocr:     run Tesseract over page images and write a token document
 *
 * The remaining commands talk to the worker's backends using the worker's
 * environment (DATABASE_URL, REDIS_URL, QDRANT_URL, QUEUE_BACKEND, ...):
 *
 * submit:  queue a comparison job
 * result:  show a job's status and stored diff result
 * delete:  delete a stored diff result
 * search:  search the change index
 * stats:   queue and storage statistics
 */

package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/ocrdiff-worker/internal/logging"
)

func newRootCmd() *cobra.Command {
	return newRootCmdWith(defaultServices())
}

func newRootCmdWith(svc *services) *cobra.Command {
	root := &cobra.Command{
		Use:          "ocrdiff",
		Short:        "Compare the OCR output of two document versions",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env is fine for the CLI
			_ = godotenv.Load()
			logging.SetLevel(logging.ParseLevel(os.Getenv("LOG_LEVEL")))
		},
	}
	root.AddCommand(
		newCompareCmd(),
		newOCRCmd(),
		newSubmitCmd(svc),
		newResultCmd(svc),
		newDeleteCmd(svc),
		newSearchCmd(svc),
		newStatsCmd(svc),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
