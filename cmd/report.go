package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/org-harvest/internal/config"
	"github.com/naka-gawa/org-harvest/internal/ledger"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Prints the recorded outcome of a harvest run as JSON",
	Long: `Reads the run ledger written by harvest and prints the outcome of every
company and every degraded repository metric of a run. Without --run the most
recent run is shown; --list prints the recorded runs instead.`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().String("ledger", "", "Path of the run ledger database (default <output>/harvest.db)")
	reportCmd.Flags().String("run", "", "Run id to show (default: most recent run)")
	reportCmd.Flags().Bool("list", false, "List recorded runs")
}

func runReport(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	path := cfg.LedgerPath()
	if cmd.Flags().Changed("ledger") {
		path, _ = cmd.Flags().GetString("ledger")
	}
	if path == "" {
		return errors.New("no ledger configured: pass --ledger")
	}

	runLedger, err := ledger.Open(path)
	if err != nil {
		return err
	}
	defer runLedger.Close()

	var result any
	if list, _ := cmd.Flags().GetBool("list"); list {
		runs, err := runLedger.Runs(cmd.Context())
		if err != nil {
			return err
		}
		result = runs
	} else {
		runID, _ := cmd.Flags().GetString("run")
		report, err := runLedger.Report(cmd.Context(), runID)
		if err != nil {
			return fmt.Errorf("failed to load report: %w", err)
		}
		result = report
	}

	jsonData, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report to JSON: %w", err)
	}
	fmt.Println(string(jsonData))
	return nil
}
