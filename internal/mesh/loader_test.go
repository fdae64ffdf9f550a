package mesh

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestShapefile writes a two-municipality mesh shapefile and returns
// the .shp path.
func writeTestShapefile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "PE_Municipios_2022.shp")

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("CD_MUN", 7),
		shp.StringField("NM_MUN", 60),
		shp.StringField("SIGLA_UF", 2),
	}))

	munis := []struct {
		code, name string
		poly       *shp.Polygon
	}{
		{"2611101", "Petrolina", municipalityPolygon()},
		{"2610707", "Paranatama", municipalityPolygon()},
	}
	for _, m := range munis {
		row := w.Write(m.poly)
		require.NoError(t, w.WriteAttribute(int(row), 0, m.code))
		require.NoError(t, w.WriteAttribute(int(row), 1, m.name))
		require.NoError(t, w.WriteAttribute(int(row), 2, "PE"))
	}
	w.Close()
	// go-shp v0.1.1's Writer names the attribute file "<base>dbf" (no dot),
	// while its Reader opens "<base>.dbf"; rename so the round trip works.
	base := path[:len(path)-4]
	require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
	return path
}

func TestParseShapefile(t *testing.T) {
	path := writeTestShapefile(t, t.TempDir())

	rows, err := ParseShapefile(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, int64(2611101), rows[0].Code)
	assert.Equal(t, "Petrolina", rows[0].Name)
	assert.Equal(t, "PE", rows[0].UF)
	assert.NotEmpty(t, rows[0].WKB)

	mp, err := DecodeWKB(rows[0].WKB)
	require.NoError(t, err)
	assert.Equal(t, 1, mp.NumPolygons())
}

func TestParseShapefileMissing(t *testing.T) {
	_, err := ParseShapefile(filepath.Join(t.TempDir(), "nope.shp"))
	assert.Error(t, err)
}

func TestExtractShapefile(t *testing.T) {
	srcDir := t.TempDir()
	shpPath := writeTestShapefile(t, srcDir)

	// Pack the sidecar files under a directory prefix, as the geoftp
	// archives do.
	zipPath := filepath.Join(t.TempDir(), "mesh.zip")
	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(zf)
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		data, err := os.ReadFile(shpPath[:len(shpPath)-4] + ext)
		require.NoError(t, err)
		member, err := zw.Create("PE/PE_Municipios_2022" + ext)
		require.NoError(t, err)
		_, err = member.Write(data)
		require.NoError(t, err)
	}
	// A stray member that must be ignored.
	member, err := zw.Create("PE/leia-me.txt")
	require.NoError(t, err)
	_, err = member.Write([]byte("malha municipal 2022"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, zf.Close())

	destDir := t.TempDir()
	extracted, err := extractShapefile(zipPath, destDir)
	require.NoError(t, err)

	rows, err := ParseShapefile(extracted)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestExtractShapefileNoShp(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "empty.zip")
	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(zf)
	member, err := zw.Create("readme.txt")
	require.NoError(t, err)
	_, err = member.Write([]byte("nothing here"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, zf.Close())

	_, err = extractShapefile(zipPath, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no .shp member")
}

func TestArchivePath(t *testing.T) {
	l := NewLoader(nil, nil, "/organizacao_do_territorio/malhas_territoriais/malhas_municipais/municipio_2022/UFs/")
	assert.Equal(t,
		"/organizacao_do_territorio/malhas_territoriais/malhas_municipais/municipio_2022/UFs/PE/PE_Municipios_2022.zip",
		l.archivePath("pe"),
	)
}
