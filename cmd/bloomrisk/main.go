package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"bloomrisk/internal/config"
	"bloomrisk/internal/repository"
	"bloomrisk/pkg/database"
	"bloomrisk/pkg/logging"
	"bloomrisk/pkg/metrics"
)

var version = "1.0.0"

// app carries what every subcommand needs once configuration is loaded
type app struct {
	cfg     *config.Config
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logging.NewStructuredLogger("bloomrisk", version, level)
	a.metrics = metrics.NewCollector("bloomrisk")
	return nil
}

func (a *app) openDB(ctx context.Context) (*database.PostgresDB, error) {
	db := a.cfg.Database
	return database.NewPostgresDB(ctx, &database.Config{
		Host:            db.Host,
		Port:            db.Port,
		User:            db.User,
		Password:        db.Password,
		Database:        db.Database,
		SSLMode:         db.SSLMode,
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
		ConnMaxIdleTime: db.ConnMaxIdleTime,
	}, a.logger, a.metrics)
}

func (a *app) repository(db *database.PostgresDB) repository.ObservationRepository {
	return repository.NewObservationRepository(db, a.logger, a.metrics)
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "bloomrisk",
		Short: "Leakage-safe feature matrices for algal bloom exceedance",
		Long: `bloomrisk turns long-format water quality observations into
point-in-time feature matrices for chlorophyll-a exceedance risk.

Pipeline example:
  bloomrisk clean --input raw.csv --snapshot-id wq_2024
  bloomrisk build --input data/clean/wq_2024.parquet --snapshot-id wq_2024
  bloomrisk baselines --input data/features/features_wq_2024_lb30_FEAT_V1.parquet`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	root.AddCommand(
		newBuildCmd(a),
		newCleanCmd(a),
		newLabelsCmd(a),
		newFrameCmd(a),
		newBaselinesCmd(a),
		newLoadCmd(a),
		newMigrateCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root
}

func banner(title string) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println(title)
	fmt.Println(strings.Repeat("=", 80))
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
