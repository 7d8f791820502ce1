package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"bloomrisk/internal/config"
	"bloomrisk/internal/matrix"
	"bloomrisk/internal/models"
	"bloomrisk/internal/services"
	"bloomrisk/pkg/database"
)

func newLoadCmd(a *app) *cobra.Command {
	var input, configPath, snapshotID string
	var list bool

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Replace a snapshot in PostgreSQL with a clean observation file",
		Example: `  bloomrisk load --input data/clean/wq_2024.parquet --snapshot-id wq_2024
  bloomrisk load --list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			repo := a.repository(db)

			if list {
				snapshots, err := repo.Snapshots(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "SNAPSHOT\tROWS\tSITES\tFIRST\tLAST")
				for _, s := range snapshots {
					fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", s.SnapshotID, s.Rows, s.Sites,
						s.FirstTime.Format("2006-01-02"), s.LastTime.Format("2006-01-02"))
				}
				return w.Flush()
			}

			if input == "" {
				return &models.ConfigError{Field: "input", Message: "is required"}
			}
			buildCfg, err := config.LoadYAML(configPath, matrix.DefaultConfig())
			if err != nil {
				return err
			}

			result, err := services.NewLoadService(repo, a.logger, a.metrics).LoadFile(ctx, input, buildCfg.ColumnNames, snapshotID)
			if err != nil {
				return err
			}

			banner("LOAD COMPLETE")
			fmt.Printf("Snapshot:           %s\n", result.SnapshotID)
			fmt.Printf("Rows Loaded:        %d\n", result.Rows)
			fmt.Printf("Rows Skipped:       %d\n", result.Skipped)
			fmt.Printf("Duration:           %v\n", result.Duration)
			if secs := result.Duration.Seconds(); secs > 0 {
				fmt.Printf("Records/Second:     %.2f\n", float64(result.Rows)/secs)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&input, "input", "", "Clean observations (.csv or .parquet)")
	f.StringVar(&configPath, "config", "", "YAML build configuration supplying column names")
	f.StringVar(&snapshotID, "snapshot-id", "", "Snapshot to replace")
	f.BoolVar(&list, "list", false, "List stored snapshots instead of loading")
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	var direction string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the observation schema migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := database.MigrationFile(a.cfg.Paths.MigrationsDir, direction); err != nil {
				return err
			}
			ctx := cmd.Context()
			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			fmt.Println("Connected to database successfully")
			if err := db.Migrate(ctx, a.cfg.Paths.MigrationsDir, direction); err != nil {
				return err
			}
			fmt.Println("Migration completed successfully")
			return nil
		},
	}

	cmd.Flags().StringVar(&direction, "direction", "up", "Migration direction: up or down")
	return cmd
}
