package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bloomrisk/internal/clean"
	"bloomrisk/internal/config"
	"bloomrisk/internal/models"
	"bloomrisk/internal/services"
)

func newCleanCmd(a *app) *cobra.Command {
	var (
		input      string
		configPath string
		snapshotID string
		runID      string
		out        string
		reports    string
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Harmonise a raw observation snapshot into a clean long table",
		Example: `  bloomrisk clean --input raw/wq_2024.csv --snapshot-id wq_2024
  bloomrisk clean --input raw.csv --config clean.yaml --run-id 2024_10_01`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				return &models.ConfigError{Field: "input", Message: "is required"}
			}
			cleanCfg, err := config.LoadYAML(configPath, clean.DefaultConfig())
			if err != nil {
				return err
			}
			if snapshotID != "" {
				cleanCfg.SnapshotID = &snapshotID
			}
			if out == "" {
				out = a.cfg.Paths.CleanDir
			}
			if reports == "" {
				reports = a.cfg.Paths.ReportsDir
			}

			result, err := services.NewCleanService(a.logger, a.metrics).Clean(cmd.Context(), services.CleanRequest{
				InputPath:  input,
				Config:     cleanCfg,
				OutputDir:  out,
				ReportsDir: reports,
				RunID:      runID,
			})
			if err != nil {
				return err
			}

			r := result.Report
			banner("CLEAN COMPLETE")
			fmt.Printf("Data:               %s\n", result.DataPath)
			fmt.Printf("Report:             %s\n", result.ReportPath)
			fmt.Printf("Rows In:            %d\n", r.Rows.In)
			fmt.Printf("Rows Out:           %d\n", r.Rows.Out)
			fmt.Printf("Duplicates:         %d\n", r.Drops.Duplicates)
			fmt.Printf("Fingerprint:        %s\n", r.ConfigFingerprint)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&input, "input", "", "Raw observations (.csv or .parquet)")
	f.StringVar(&configPath, "config", "", "YAML clean configuration overlaid on the defaults")
	f.StringVar(&snapshotID, "snapshot-id", "", "Snapshot identifier, also names the outputs")
	f.StringVar(&runID, "run-id", "", "Run identifier naming the outputs")
	f.StringVar(&out, "out", "", "Clean data directory (default CLEAN_DIR)")
	f.StringVar(&reports, "reports", "", "Report directory (default REPORTS_DIR)")
	return cmd
}
