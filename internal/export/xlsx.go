package export

import (
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sertao-labs/sentinela/internal/aggregate"
)

// Summary holds the header block of the XLSX report.
type Summary struct {
	ROIName       string
	Lens          string
	ReferenceDate time.Time
	SceneID       string
	CloudCover    float64
	Area          aggregate.AreaResult
}

// WriteXLSX writes a two-sheet workbook: a run summary and the time series.
func WriteXLSX(w io.Writer, s Summary, points []aggregate.Point) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet("Resumo")
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}
	addPair := func(key string, value any) {
		row := sheet.AddRow()
		row.AddCell().SetString(key)
		switch v := value.(type) {
		case string:
			row.AddCell().SetString(v)
		case float64:
			row.AddCell().SetFloat(v)
		case time.Time:
			row.AddCell().SetString(v.UTC().Format("2006-01-02"))
		}
	}

	addPair("Região", s.ROIName)
	addPair("Análise", s.Lens)
	addPair("Data de referência", s.ReferenceDate)
	addPair("Cena", s.SceneID)
	addPair("Cobertura de nuvens (%)", s.CloudCover)
	switch s.Area.Status {
	case aggregate.StatusUnavailable:
		addPair("Área detectada (ha)", "indisponível")
	default:
		addPair("Área detectada (ha)", s.Area.Hectares)
		addPair("Escala (m)", s.Area.ScaleM)
	}

	if len(points) > 0 {
		series, err := f.AddSheet("Série temporal")
		if err != nil {
			return eris.Wrap(err, "export: add series sheet")
		}
		header := series.AddRow()
		header.AddCell().SetString("data")
		header.AddCell().SetString(s.Lens)
		for _, p := range points {
			row := series.AddRow()
			row.AddCell().SetString(p.At.UTC().Format("2006-01-02"))
			row.AddCell().SetFloat(p.Value)
		}
	}

	return eris.Wrap(f.Write(w), "export: write xlsx")
}
