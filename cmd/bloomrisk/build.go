package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bloomrisk/internal/config"
	"bloomrisk/internal/matrix"
	"bloomrisk/internal/models"
	"bloomrisk/internal/services"
)

func newBuildCmd(a *app) *cobra.Command {
	var (
		input      string
		configPath string
		snapshotID string
		lookback   int
		out        string
		fromDB     bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a point-in-time feature matrix from clean observations",
		Example: `  bloomrisk build --input data/clean/wq_2024.parquet --snapshot-id wq_2024
  bloomrisk build --from-db --snapshot-id wq_2024 --lookback 60
  bloomrisk build --input clean.csv --config build.yaml --out /tmp/features`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			defaults := matrix.DefaultConfig()
			defaults.OutputDir = a.cfg.Paths.FeaturesDir
			buildCfg, err := config.LoadYAML(configPath, defaults)
			if err != nil {
				return err
			}
			if snapshotID != "" {
				buildCfg.SnapshotID = &snapshotID
			}
			if cmd.Flags().Changed("lookback") {
				buildCfg.LookbackDays = lookback
			}
			if out != "" {
				buildCfg.OutputDir = out
			}

			req := services.BuildRequest{InputPath: input, Config: buildCfg}
			switch {
			case fromDB:
				if snapshotID == "" {
					return &models.ConfigError{Field: "snapshot-id", Message: "is required with --from-db"}
				}
				db, err := a.openDB(ctx)
				if err != nil {
					return err
				}
				defer db.Close()

				loader := services.NewLoadService(a.repository(db), a.logger, a.metrics)
				req.Table, err = loader.FetchTable(ctx, services.SnapshotFilter(snapshotID, buildCfg), buildCfg.ColumnNames)
				if err != nil {
					return err
				}
				req.InputPath = "postgres:" + snapshotID
			case input == "":
				return &models.ConfigError{Field: "input", Message: "is required unless --from-db is set"}
			}

			result, err := services.NewBuildService(a.logger, a.metrics).Build(ctx, req)
			if err != nil {
				return err
			}

			meta := result.Metadata
			banner("FEATURE MATRIX BUILT")
			fmt.Printf("Run ID:             %s\n", result.RunID)
			fmt.Printf("Data:               %s\n", result.Paths.Data)
			fmt.Printf("Metadata:           %s\n", result.Paths.Meta)
			fmt.Printf("Fingerprint:        %s\n", meta.FeatureConfigFingerprint)
			fmt.Printf("Rows:               %d\n", meta.NRows)
			fmt.Printf("Positives:          %d\n", meta.NPos)
			if meta.PosRate != nil {
				fmt.Printf("Positive Rate:      %.4f\n", *meta.PosRate)
			}
			fmt.Printf("Duration:           %v\n", result.Duration)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&input, "input", "", "Clean observations (.csv or .parquet)")
	f.StringVar(&configPath, "config", "", "YAML build configuration overlaid on the defaults")
	f.StringVar(&snapshotID, "snapshot-id", "", "Snapshot identifier recorded in the output")
	f.IntVar(&lookback, "lookback", 30, "Predictor lookback in days")
	f.StringVar(&out, "out", "", "Output directory (default FEATURES_DIR)")
	f.BoolVar(&fromDB, "from-db", false, "Read the snapshot from PostgreSQL instead of --input")
	return cmd
}
