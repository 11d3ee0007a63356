package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/carmmmm/RadiologyTrustLayer/internal/archive"
	"github.com/carmmmm/RadiologyTrustLayer/internal/worker"
)

var (
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <archive.zip|dir>",
	Short: "Audit every case in an archive under a worker pool",
	Long: `Batch audits a collection of cases, each an (image, report) pair,
laid out flat (image and report sharing a file stem) or one folder per
case. Cases run concurrently under a bounded worker pool; one case's
failure never blocks the rest.

Example:
  rtl batch cases.zip
  rtl batch ./cases --concurrency 8 --db ./rtl.db
  rtl batch cases.zip --provider openai --output-dir ./reports`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", 4, "number of concurrent workers")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./rtl-reports", "output directory for per-case JSON")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")

	batchCmd.Flags().StringVar(&provider, "provider", "mock", "inference provider (openai, ollama, mock)")
	batchCmd.Flags().StringVar(&modelName, "model", "gpt-4o-mini", "model name")
	batchCmd.Flags().StringVar(&promptVersion, "prompt-version", "v1", "prompt template version")
	batchCmd.Flags().DurationVar(&inferTimeout, "scan-timeout", 90*time.Second, "timeout per inference call")
	batchCmd.Flags().StringVar(&storePath, "db", "", "SQLite database path (default: in-memory)")
}

func runBatch(cmd *cobra.Command, args []string) error {
	path := args[0]
	ctx, cancel := context.WithTimeout(cmd.Context(), batchTimeout)
	defer cancel()

	cases, failures, err := archive.Load(path)
	if err != nil {
		return fmt.Errorf("load archive: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Input:    %s\n", path)
	fmt.Fprintf(os.Stderr, "Cases:    %d valid, %d malformed\n", len(cases), len(failures))
	fmt.Fprintf(os.Stderr, "Workers:  %d\n\n", concurrency)

	cfg := buildConfig()
	cfg.Concurrency.Workers = concurrency
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	runner := worker.NewBatchRunner(rt.pipeline, rt.store, rt.recorder, concurrency, rt.logger)
	batch, err := runner.Run(ctx, cases, failures, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: batch result could not be persisted: %v\n", err)
	}

	for caseID, outcome := range batch.Cases {
		if outcome.Result == nil {
			fmt.Fprintf(os.Stderr, "✗ %s: [%s] %s\n", caseID, outcome.ErrorCode, outcome.Error)
			continue
		}
		result := outcome.Result
		name := result.CaseLabel
		if name == "" {
			name = caseID
		}
		if err := writeJSON(filepath.Join(outputDir, name+".json"), result); err != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: failed to write JSON: %v\n", name, err)
			continue
		}
		if outcome.Failed() {
			fmt.Fprintf(os.Stderr, "✗ %s: [%s] %s\n", name, result.ErrorCode, result.ErrorDetail)
		} else {
			fmt.Fprintf(os.Stderr, "✓ %s (score: %d/100, %s)\n", name, result.Score, result.Severity)
		}
	}

	fmt.Fprintf(os.Stderr, "\nBatch %s complete\n", batch.BatchID)
	fmt.Fprintf(os.Stderr, "  Total:   %d\n", batch.Total)
	fmt.Fprintf(os.Stderr, "  Done:    %d\n", batch.Done)
	fmt.Fprintf(os.Stderr, "  Failed:  %d\n", batch.Failed)
	if batch.Done > 0 {
		fmt.Fprintf(os.Stderr, "  Avg score: %.1f, needing review: %.0f%%\n",
			batch.Summary.AvgScore, batch.Summary.PctNeedingReview)
	}
	fmt.Fprintf(os.Stderr, "  Output:  %s\n", outputDir)

	return nil
}
