package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sertao-labs/sentinela/internal/aggregate"
	"github.com/sertao-labs/sentinela/internal/analysis"
	"github.com/sertao-labs/sentinela/internal/export"
	"github.com/sertao-labs/sentinela/internal/lens"
)

var analyzeFlags struct {
	name           string
	municipalities []int64
	lens           string
	preset         string
	date           string
	series         bool
	withAudit      bool
	csvPath        string
	xlsxPath       string
	geotiffPath    string
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run a change-detection analysis over one or more municipalities",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		refDate := time.Now().UTC()
		if analyzeFlags.date != "" {
			d, err := time.Parse("2006-01-02", analyzeFlags.date)
			if err != nil {
				return eris.Wrapf(err, "parse --date %q", analyzeFlags.date)
			}
			refDate = d
		}
		if len(analyzeFlags.municipalities) == 0 {
			return eris.New("at least one --municipality is required")
		}

		env, err := initAnalysis(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		req := analysis.Request{
			ROIName:       analyzeFlags.name,
			UnitIDs:       analyzeFlags.municipalities,
			Lens:          lens.Name(analyzeFlags.lens),
			Preset:        analyzeFlags.preset,
			ReferenceDate: refDate,
			WithSeries:    analyzeFlags.series || analyzeFlags.csvPath != "" || analyzeFlags.xlsxPath != "",
			WithAudit:     analyzeFlags.withAudit,
		}

		runID, result, err := env.Service.Execute(ctx, req)
		if err != nil {
			return err
		}

		printResult(runID, result)
		return writeExports(result, refDate)
	},
}

func printResult(runID string, r *analysis.Result) {
	fmt.Printf("Run %s: %s (%d municipalities)\n", runID, r.ROIName, r.UnitCount)

	if r.NoQualifyingScene {
		fmt.Println("No cloud-free scene in the search window. Try an earlier --date or a higher cloud threshold.")
		return
	}

	fmt.Printf("Scene %s, acquired %s, %.1f%% clouds\n",
		r.Scene.ID, r.Scene.AcquiredAt.Format("2006-01-02"), r.Scene.CloudCover)

	switch r.Area.Status {
	case aggregate.StatusOK:
		fmt.Printf("Detected area: %.2f ha (at %.0f m scale)\n", r.Area.Hectares, r.Area.ScaleM)
	case aggregate.StatusZero:
		fmt.Println("Detected area: none")
	case aggregate.StatusUnavailable:
		fmt.Println("Detected area: unavailable within the compute budget")
	}
	fmt.Printf("Mean index over ROI: %.3f\n", r.MeanIndex)

	if len(r.Series) > 0 {
		fmt.Printf("Series: %d scenes, %s to %s\n", len(r.Series),
			r.Series[0].At.Format("2006-01-02"),
			r.Series[len(r.Series)-1].At.Format("2006-01-02"))
	}
	if r.Audit != nil {
		fmt.Printf("Audit [%s]: %s\n", r.Audit.Verdict, r.Audit.Detail)
	}
}

func writeExports(r *analysis.Result, refDate time.Time) error {
	if analyzeFlags.csvPath != "" {
		f, err := os.Create(analyzeFlags.csvPath)
		if err != nil {
			return eris.Wrap(err, "create csv")
		}
		defer f.Close()
		if err := export.WriteSeriesCSV(f, string(r.Lens), r.Series); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", analyzeFlags.csvPath)
	}

	if analyzeFlags.xlsxPath != "" {
		f, err := os.Create(analyzeFlags.xlsxPath)
		if err != nil {
			return eris.Wrap(err, "create xlsx")
		}
		defer f.Close()
		summary := export.Summary{
			ROIName:       r.ROIName,
			Lens:          string(r.Lens),
			ReferenceDate: refDate,
			Area:          r.Area,
		}
		if r.Scene != nil {
			summary.SceneID = r.Scene.ID
			summary.CloudCover = r.Scene.CloudCover
		}
		if err := export.WriteXLSX(f, summary, r.Series); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", analyzeFlags.xlsxPath)
	}

	if analyzeFlags.geotiffPath != "" {
		if r.Index == nil {
			return eris.New("no raster to export (no qualifying scene or reduction unavailable)")
		}
		f, err := os.Create(analyzeFlags.geotiffPath)
		if err != nil {
			return eris.Wrap(err, "create geotiff")
		}
		defer f.Close()
		if err := export.WriteGeoTIFF(f, r.Index, r.Vis); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", analyzeFlags.geotiffPath)
	}

	return nil
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeFlags.name, "name", "", "display name for the region")
	analyzeCmd.Flags().Int64SliceVar(&analyzeFlags.municipalities, "municipality", nil, "IBGE municipality code (repeatable)")
	analyzeCmd.Flags().StringVar(&analyzeFlags.lens, "lens", "vegetation-loss", "detection lens: vegetation-loss, water, water-turbid, chlorophyll, burn")
	analyzeCmd.Flags().StringVar(&analyzeFlags.preset, "preset", "", "biome preset (caatinga, cerrado, or from the preset file)")
	analyzeCmd.Flags().StringVar(&analyzeFlags.date, "date", "", "reference date YYYY-MM-DD (default today)")
	analyzeCmd.Flags().BoolVar(&analyzeFlags.series, "series", false, "also compute the index time series")
	analyzeCmd.Flags().BoolVar(&analyzeFlags.withAudit, "audit", false, "ask the audit model whether the alert looks real")
	analyzeCmd.Flags().StringVar(&analyzeFlags.csvPath, "csv", "", "write the time series as CSV")
	analyzeCmd.Flags().StringVar(&analyzeFlags.xlsxPath, "xlsx", "", "write the summary report as XLSX")
	analyzeCmd.Flags().StringVar(&analyzeFlags.geotiffPath, "geotiff", "", "write the index raster as GeoTIFF")
	rootCmd.AddCommand(analyzeCmd)
}
