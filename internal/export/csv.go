// Package export renders analysis results into downloadable artifacts:
// time-series CSV and XLSX, a capped-resolution GeoTIFF of the index
// raster, and the signed links that gate access to them.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sertao-labs/sentinela/internal/aggregate"
)

// WriteSeriesCSV writes (timestamp, value) rows with a header.
func WriteSeriesCSV(w io.Writer, lens string, points []aggregate.Point) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"date", lens}); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, p := range points {
		rec := []string{
			p.At.UTC().Format(time.RFC3339),
			strconv.FormatFloat(p.Value, 'f', 6, 64),
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}
