// Package main implements the forgectl CLI for driving the coding pipeline
// and inspecting the shared usage ledger.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/config"
	"github.com/fyrsmithlabs/forged/internal/logging"
	"github.com/fyrsmithlabs/forged/internal/orchestrator"
	"github.com/fyrsmithlabs/forged/internal/usage"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "forgectl",
	Short: "CLI for the forged coding pipeline",
	Long: `forgectl drives the multi-agent coding pipeline: it spawns the four
agent endpoints, walks requirements through architecture, coding, testing,
and debugging, and reports what came out.`,
	Version: version,
}

var (
	runBinary  string
	runOutput  string
	runVerbose bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(usageCmd)

	runCmd.Flags().StringVar(&runBinary, "binary", orchestrator.DefaultBinary, "endpoint executable to spawn per role")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "directory to write the resulting files into")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "list each endpoint's tools during startup")
}

// runCmd executes the pipeline for one requirements document
var runCmd = &cobra.Command{
	Use:   "run [requirements-file]",
	Short: "Run the pipeline on a requirements document",
	Long: `Run the full pipeline on a requirements document, read from the given
file or from stdin.

Examples:
  # Run on a file and write the result next to it
  forgectl run requirements.txt -o ./out

  # Run on stdin
  echo "build a CSV deduplicator" | forgectl run -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPipeline,
}

// usageCmd summarizes the shared token ledger
var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Summarize recorded token usage",
	Long: `Summarize the shared API usage ledger: total calls and tokens, broken
down per agent role.`,
	RunE: runUsage,
}

func runPipeline(cmd *cobra.Command, args []string) error {
	requirements, err := readRequirements(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger, err := logging.New(cfg.Log.Logging(), "forgectl")
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline := orchestrator.NewPipeline(cfg, logger)
	pipeline.Binary = runBinary
	pipeline.Verbose = runVerbose

	result, err := pipeline.Run(ctx, requirements)
	if err != nil {
		return err
	}

	printResult(cmd, result)

	if runOutput != "" && result.Package != nil {
		if err := writePackage(runOutput, result.Package.Files); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		cmd.Printf("Files written to %s\n", runOutput)
	}

	if !result.Succeeded() {
		logger.Warn("pipeline did not produce passing code", zap.String("error", result.Err))
		return fmt.Errorf("pipeline failed: %s", result.Err)
	}
	return nil
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	records, err := usage.ReadLedger(cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("reading ledger %s: %w", cfg.Ledger.Path, err)
	}
	if len(records) == 0 {
		cmd.Println("No usage recorded.")
		return nil
	}

	summary := usage.Summarize(records)
	cmd.Printf("Calls:  %d\n", summary.Calls)
	cmd.Printf("Tokens: %d\n", summary.TotalTokens)
	cmd.Println("\nPer agent:")
	for _, agent := range summary.Agents() {
		cmd.Printf("  %-12s %d\n", agent, summary.ByAgent[agent])
	}
	return nil
}

func readRequirements(args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading requirements from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("reading requirements: %w", err)
	}
	return string(data), nil
}

func printResult(cmd *cobra.Command, result *orchestrator.Result) {
	cmd.Printf("State:    %s\n", result.State)
	cmd.Printf("Duration: %s\n", result.Duration.Round(10*time.Millisecond))
	if result.Plan != nil {
		cmd.Printf("Plan:     %s\n", strings.Join(result.Plan.Components, ", "))
	}
	if result.Package != nil {
		cmd.Printf("Files:    %s\n", strings.Join(result.Package.FileNames(), ", "))
	}
	if result.Report != nil {
		cmd.Printf("Fix attempts: %d\n", len(result.Report.Attempts))
	}
	if result.Err != "" {
		cmd.Printf("Error:    %s\n", result.Err)
	}
}

func writePackage(dir string, files map[string]string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for name, content := range files {
		if !filepath.IsLocal(name) {
			return fmt.Errorf("refusing to write non-local path %q", name)
		}
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}
