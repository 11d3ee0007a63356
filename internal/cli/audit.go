package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/carmmmm/RadiologyTrustLayer/internal/model"
	"github.com/carmmmm/RadiologyTrustLayer/internal/pipeline"
)

var (
	provider      string
	modelName     string
	promptVersion string
	inferTimeout  time.Duration
	storePath     string
	outJSON       string
	caseLabel     string
)

// auditCmd represents the audit command
var auditCmd = &cobra.Command{
	Use:   "audit <image> <report.txt>",
	Short: "Audit a single radiology report against its image",
	Long: `Audit runs the six-step pipeline on one (image, report) pair and
prints the trust score, severity, and per-claim labels.

Example:
  rtl audit scan.png report.txt
  rtl audit scan.png report.txt --provider openai --model gpt-4o
  rtl audit scan.png report.txt --json result.json --db ./rtl.db`,
	Args: cobra.ExactArgs(2),
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().StringVar(&provider, "provider", "mock", "inference provider (openai, ollama, mock)")
	auditCmd.Flags().StringVar(&modelName, "model", "gpt-4o-mini", "model name")
	auditCmd.Flags().StringVar(&promptVersion, "prompt-version", "v1", "prompt template version")
	auditCmd.Flags().DurationVar(&inferTimeout, "timeout", 90*time.Second, "timeout per inference call")
	auditCmd.Flags().StringVar(&storePath, "db", "", "SQLite database path (default: in-memory)")
	auditCmd.Flags().StringVar(&outJSON, "json", "", "write full result JSON to this path")
	auditCmd.Flags().StringVar(&caseLabel, "label", "", "optional case label")
}

func runAudit(cmd *cobra.Command, args []string) error {
	imagePath, reportPath := args[0], args[1]

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	reportBytes, err := os.ReadFile(reportPath)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	reportText := strings.TrimSpace(string(reportBytes))
	if reportText == "" {
		return fmt.Errorf("report %s is empty", reportPath)
	}

	cfg := buildConfig()
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	label := caseLabel
	if label == "" {
		label = strings.TrimSuffix(filepath.Base(reportPath), filepath.Ext(reportPath))
	}

	onProgress := func(p pipeline.Progress) {
		if verbose {
			fmt.Fprintf(os.Stderr, "⚙️  [%s] %s (%.1fs)\n", p.CaseID[:8], p.State, p.Elapsed.Seconds())
		}
	}

	result, err := rt.pipeline.Run(ctx, pipeline.CaseInput{
		Label:      label,
		Image:      image,
		ReportText: reportText,
	}, onProgress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: result could not be persisted: %v\n", err)
	}

	printResult(result)

	if outJSON != "" {
		if err := writeJSON(outJSON, result); err != nil {
			return fmt.Errorf("write JSON: %w", err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ Wrote JSON: %s\n", outJSON)
		}
	}

	if result.Status == model.StatusFailed {
		return fmt.Errorf("audit failed at %s: %s", lastFailedStep(result), result.ErrorDetail)
	}
	return nil
}

func buildConfig() *model.Config {
	cfg := model.DefaultConfig()
	cfg.Inference.Provider = provider
	cfg.Inference.Model = modelName
	cfg.Inference.Timeout = inferTimeout
	cfg.Prompts.Version = promptVersion
	cfg.Storage.Path = storePath
	cfg.Output.Verbose = verbose
	return cfg
}

func printResult(result *model.CaseResult) {
	fmt.Printf("\nCase %s (%s)\n", result.CaseID, result.Status)
	fmt.Printf("  Score:     %d/100 (%s)\n", result.Score, result.Severity)
	fmt.Printf("  Claims:    %d extracted, %d flagged\n",
		len(result.Claims), result.FlagCounts.Uncertain+result.FlagCounts.NeedsReview)
	fmt.Printf("  Findings:  %d\n", len(result.Findings))

	for _, a := range result.Alignments {
		marker := "✓"
		if a.Label.Flagged() {
			marker = "!"
		} else if a.Label == model.LabelNotAssessable {
			marker = "?"
		}
		fmt.Printf("  %s [%s] %s\n", marker, a.Label, a.ClaimText)
	}

	for _, rw := range result.Rewrites {
		fmt.Printf("  ✎ %s\n    → %s\n", rw.OriginalText, rw.SuggestedText)
	}

	if result.Status != model.StatusCompleted {
		fmt.Printf("  Error:     [%s] %s\n", result.ErrorCode, result.ErrorDetail)
	}
}

func lastFailedStep(result *model.CaseResult) string {
	for i := len(result.Steps) - 1; i >= 0; i-- {
		if result.Steps[i].Error != "" {
			return result.Steps[i].Name
		}
	}
	return "unknown step"
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
