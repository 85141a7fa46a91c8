package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/naka-gawa/org-harvest/internal/config"
	"github.com/naka-gawa/org-harvest/internal/gateway"
	"github.com/naka-gawa/org-harvest/internal/ledger"
	"github.com/naka-gawa/org-harvest/internal/ratelimit"
	"github.com/naka-gawa/org-harvest/internal/store"
	"github.com/naka-gawa/org-harvest/internal/usecase"
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Harvests the GitHub organizations of a list of companies",
	Long: `Reads one company name per line, resolves each to a GitHub organization and
writes every public repository of accepted organizations as JSON under the
output directory. Re-running with the same output directory resumes where the
previous run stopped. A summary per company is printed as JSON.`,
	RunE: runHarvest,
}

func init() {
	rootCmd.AddCommand(harvestCmd)
	addHarvestFlags(harvestCmd.Flags())
}

func addHarvestFlags(flags *pflag.FlagSet) {
	flags.StringP("input", "i", "", "File with one company name per line (default companies.txt)")
	flags.StringP("output", "o", "", "Output directory (default json_data)")
	flags.Int("concurrency", 0, "Repositories enriched in parallel per organization (default 1)")
	flags.String("pr-count", "", "Pull request total strategy: rest or graphql (default rest)")
	flags.Bool("re-resolve", false, "Resolve companies again even if a resolution is stored")
	flags.String("ledger", "", "Path of the run ledger database (default <output>/harvest.db)")
	flags.Bool("no-ledger", false, "Do not record the run in a ledger")
	flags.Float64("pace", 0, "Maximum requests per second, 0 for no pacing")
}

// loadHarvestConfig reads --config and applies the flags that were set explicitly.
func loadHarvestConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("input") {
		cfg.Input, _ = flags.GetString("input")
	}
	if flags.Changed("output") {
		cfg.Output, _ = flags.GetString("output")
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("pr-count") {
		cfg.PRCount, _ = flags.GetString("pr-count")
	}
	if flags.Changed("re-resolve") {
		cfg.ReResolve, _ = flags.GetBool("re-resolve")
	}
	if flags.Changed("ledger") {
		cfg.Ledger, _ = flags.GetString("ledger")
	}
	if flags.Changed("no-ledger") {
		cfg.NoLedger, _ = flags.GetBool("no-ledger")
	}
	if flags.Changed("pace") {
		cfg.Pace, _ = flags.GetFloat64("pace")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// readCompanies returns the input lines as is. Blank lines are kept so that
// log messages can point at line numbers.
func readCompanies(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	var companies []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		companies = append(companies, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	return companies, nil
}

func runHarvest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cmd)
	cfg, err := loadHarvestConfig(cmd)
	if err != nil {
		return err
	}
	companies, err := readCompanies(cfg.Input)
	if err != nil {
		return err
	}

	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		fmt.Fprintf(os.Stderr, "Warning: GITHUB_TOKEN is not set; using anonymous access (%d requests/hour).\n", ratelimit.AnonymousCeiling)
	}

	var budgetOpts []ratelimit.Option
	if cfg.Pace > 0 {
		budgetOpts = append(budgetOpts, ratelimit.WithPace(cfg.Pace))
	}
	budget := ratelimit.NewBudget(ratelimit.CeilingFor(token), budgetOpts...)

	// Validate has already checked both.
	policy, _ := cfg.Policy()
	sleepLimit, _ := cfg.SecondarySleepLimit()

	// Inject dependencies and run the main business logic.
	githubGateway, err := gateway.NewGitHubGateway(gateway.Options{
		Token:               token,
		PRCount:             gateway.PRCountStrategy(cfg.PRCount),
		Policy:              policy,
		SecondarySleepLimit: sleepLimit,
	}, budget, logger)
	if err != nil {
		return fmt.Errorf("failed to create GitHub gateway: %w", err)
	}
	fileStore, err := store.New(cfg.Output, logger)
	if err != nil {
		return err
	}

	var recorder usecase.Recorder
	if path := cfg.LedgerPath(); path != "" {
		runLedger, err := ledger.Open(path)
		if err != nil {
			return err
		}
		defer runLedger.Close()
		runID, err := runLedger.StartRun(ctx, cfg.Input, cfg.Output)
		if err != nil {
			return err
		}
		logger.Printf("Recording run %s in %s", runID, path)
		defer func() {
			// The run context may already be cancelled.
			if err := runLedger.FinishRun(context.Background(), runID); err != nil {
				logger.Printf("Failed to finish run %s: %v", runID, err)
			}
		}()
		recorder = runLedger.ForRun(runID)
	}

	orchestrator := usecase.NewOrchestrator(githubGateway, fileStore, recorder, usecase.Options{
		Concurrency: cfg.Concurrency,
		ReResolve:   cfg.ReResolve,
	}, logger)
	reports, runErr := orchestrator.Run(ctx, companies)

	// Marshal the results into a pretty-printed JSON string.
	jsonData, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results to JSON: %w", err)
	}
	fmt.Println(string(jsonData))

	if runErr != nil {
		return fmt.Errorf("harvest stopped: %w", runErr)
	}
	return nil
}
