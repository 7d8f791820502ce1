package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"bloomrisk/internal/baselines"
	"bloomrisk/internal/config"
	"bloomrisk/internal/derive"
	"bloomrisk/internal/labels"
	"bloomrisk/internal/matrix"
	"bloomrisk/internal/models"
	"bloomrisk/internal/series"
	"bloomrisk/internal/services"
)

func stem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func newLabelsCmd(a *app) *cobra.Command {
	var input, configPath, out, report string

	cmd := &cobra.Command{
		Use:     "labels",
		Short:   "Label a table carrying the chlorophyll value column",
		Example: `  bloomrisk labels --input anchors.csv --out labelled.parquet --report reports/labels.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				return &models.ConfigError{Field: "input", Message: "is required"}
			}
			labelCfg, err := config.LoadYAML(configPath, labels.DefaultConfig())
			if err != nil {
				return err
			}
			if out == "" {
				out = filepath.Join(a.cfg.Paths.FeaturesDir, stem(input)+"_labelled.parquet")
			}

			result, err := services.NewAnalysisService(a.logger, a.metrics).Label(cmd.Context(), services.LabelRequest{
				InputPath:  input,
				Config:     labelCfg,
				OutputPath: out,
				ReportPath: report,
			})
			if err != nil {
				return err
			}

			audit := result.Audit
			banner("LABELS WRITTEN")
			fmt.Printf("Output:             %s\n", result.OutputPath)
			fmt.Printf("Rows:               %d\n", audit.N)
			fmt.Printf("Positives:          %d\n", audit.Positives)
			fmt.Printf("Fingerprint:        %s\n", audit.Fingerprint)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&input, "input", "", "Table with the value column (.csv or .parquet)")
	f.StringVar(&configPath, "config", "", "YAML label configuration overlaid on the defaults")
	f.StringVar(&out, "out", "", "Labelled output (.parquet or .csv)")
	f.StringVar(&report, "report", "", "Optional audit summary JSON")
	return cmd
}

// frameConfig is the YAML shape of a wide-frame run
type frameConfig struct {
	models.ColumnNames `yaml:",inline"`

	DeterminandCast string                 `yaml:"determinand_cast"`
	WindowStartYear int                    `yaml:"window_start_year"`
	WindowEndYear   int                    `yaml:"window_end_year"`
	Analytes        []derive.AnalyteColumn `yaml:"analytes"`
	Features        derive.FrameConfig     `yaml:"features"`
}

func defaultFrameConfig() frameConfig {
	m := matrix.DefaultConfig()
	return frameConfig{
		ColumnNames:     m.ColumnNames,
		DeterminandCast: m.DeterminandCast,
		WindowStartYear: m.WindowStartYear,
		WindowEndYear:   m.WindowEndYear,
		Analytes:        derive.DefaultAnalyteColumns(),
		Features:        derive.DefaultFrameConfig(),
	}
}

func newFrameCmd(a *app) *cobra.Command {
	var input, configPath, out string

	cmd := &cobra.Command{
		Use:     "frame",
		Short:   "Pivot clean observations to a wide frame and derive lag features",
		Example: `  bloomrisk frame --input data/clean/wq_2024.parquet --config frame.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				return &models.ConfigError{Field: "input", Message: "is required"}
			}
			frameCfg, err := config.LoadYAML(configPath, defaultFrameConfig())
			if err != nil {
				return err
			}
			mode, err := series.ParseIDMode(frameCfg.DeterminandCast)
			if err != nil {
				return err
			}
			if out == "" {
				out = filepath.Join(a.cfg.Paths.FeaturesDir, "frame_"+stem(input)+".parquet")
			}

			result, err := services.NewAnalysisService(a.logger, a.metrics).Frame(cmd.Context(), services.FrameRequest{
				InputPath: input,
				Pivot: derive.PivotSpec{
					Columns:  frameCfg.ColumnNames,
					Mode:     mode,
					Window:   series.Window{StartYear: frameCfg.WindowStartYear, EndYear: frameCfg.WindowEndYear},
					Analytes: frameCfg.Analytes,
				},
				Config:     frameCfg.Features,
				OutputPath: out,
			})
			if err != nil {
				return err
			}

			banner("FEATURE FRAME WRITTEN")
			fmt.Printf("Output:             %s\n", result.OutputPath)
			fmt.Printf("Rows:               %d\n", result.Rows)
			fmt.Printf("Features:           %s\n", strings.Join(result.Columns, ", "))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&input, "input", "", "Clean long observations (.csv or .parquet)")
	f.StringVar(&configPath, "config", "", "YAML frame configuration overlaid on the defaults")
	f.StringVar(&out, "out", "", "Output Parquet file")
	return cmd
}

func newBaselinesCmd(a *app) *cobra.Command {
	req := services.BaselineRequest{}

	cmd := &cobra.Command{
		Use:   "baselines",
		Short: "Evaluate persistence, seasonal and prior baselines on a labelled table",
		Example: `  bloomrisk baselines --input data/features/features_wq_2024_lb30_FEAT_V1.parquet
  bloomrisk baselines --input labelled.csv --train-end-year 2015 --alert-rate 0.05`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.InputPath == "" {
				return &models.ConfigError{Field: "input", Message: "is required"}
			}
			if req.ReportPath == "" {
				req.ReportPath = filepath.Join(a.cfg.Paths.ReportsDir, "baselines_"+stem(req.InputPath)+".json")
			}

			report, err := services.NewAnalysisService(a.logger, a.metrics).Baselines(cmd.Context(), req)
			if err != nil {
				return err
			}

			banner("BASELINES")
			fmt.Printf("Train (<= %d):      %d\n", report.TrainEndYear, report.NTrain)
			fmt.Printf("Test:               %d\n", report.NTest)
			fmt.Printf("Report:             %s\n\n", req.ReportPath)
			return printMetrics(report.Metrics, req.AlertRate)
		},
	}

	f := cmd.Flags()
	d := matrix.DefaultConfig()
	f.StringVar(&req.InputPath, "input", "", "Labelled table (.csv or .parquet)")
	f.StringVar(&req.SiteColumn, "site-col", d.Site, "Site identifier column")
	f.StringVar(&req.TimeColumn, "time-col", d.Time, "Timestamp column")
	f.StringVar(&req.LabelColumn, "label-col", matrix.LabelColumn, "Binary label column")
	f.IntVar(&req.TrainEndYear, "train-end-year", 2018, "Last year of the training split")
	f.Float64Var(&req.AlertRate, "alert-rate", baselines.DefaultAlertRate, "Share of test rows flagged for recall and precision")
	f.StringVar(&req.ReportPath, "report", "", "Report JSON (default REPORTS_DIR/baselines_<input>.json)")
	return cmd
}

func printMetrics(ms []baselines.Metrics, rate float64) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "MODEL\tN\tN_POS\tPR_AUC\tBRIER\tRECALL@%.0f%%\tPRECISION@%.0f%%\n", rate*100, rate*100)
	for _, m := range ms {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
			m.Model, m.N, m.NPos, num(m.PRAUC), num(m.Brier), num(m.Recall), num(m.Precision))
	}
	return w.Flush()
}

func num(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", v)
}
