package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var roiFlags struct {
	name           string
	municipalities []int64
	out            string
}

var roiCmd = &cobra.Command{
	Use:   "roi",
	Short: "Resolve municipality boundaries into a region of interest",
	Long:  "Fetches each municipality's boundary, combines and simplifies them, and prints the result as GeoJSON.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if len(roiFlags.municipalities) == 0 {
			return eris.New("at least one --municipality is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		resolver := initResolver(st, initLocalities())
		region, err := resolver.Resolve(ctx, roiFlags.name, roiFlags.municipalities)
		if err != nil {
			return err
		}

		geojson, err := region.MarshalGeoJSON()
		if err != nil {
			return err
		}

		if roiFlags.out != "" {
			if err := os.WriteFile(roiFlags.out, geojson, 0o644); err != nil {
				return eris.Wrapf(err, "write %s", roiFlags.out)
			}
			minX, minY, maxX, maxY := region.Bounds()
			fmt.Fprintf(os.Stderr, "Wrote %s (%d units, bbox %.4f,%.4f,%.4f,%.4f)\n",
				roiFlags.out, region.UnitCount(), minX, minY, maxX, maxY)
			return nil
		}

		fmt.Println(string(geojson))
		return nil
	},
}

func init() {
	roiCmd.Flags().StringVar(&roiFlags.name, "name", "", "display name for the region")
	roiCmd.Flags().Int64SliceVar(&roiFlags.municipalities, "municipality", nil, "IBGE municipality code (repeatable)")
	roiCmd.Flags().StringVar(&roiFlags.out, "out", "", "write GeoJSON to a file instead of stdout")
	rootCmd.AddCommand(roiCmd)
}
