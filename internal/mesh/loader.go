package mesh

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sertao-labs/sentinela/internal/store"
)

// Loader downloads, unpacks, and stores one state's municipal mesh.
type Loader struct {
	fetcher *FTPFetcher
	store   store.Store
	dir     string // remote directory holding the per-UF archives
}

// NewLoader creates a loader. dir is the geoftp directory with the per-UF
// municipality archives.
func NewLoader(fetcher *FTPFetcher, st store.Store, dir string) *Loader {
	return &Loader{fetcher: fetcher, store: st, dir: dir}
}

// archivePath builds the remote path for a state's archive, e.g.
// <dir>/PE/PE_Municipios_2022.zip.
func (l *Loader) archivePath(uf string) string {
	uf = strings.ToUpper(uf)
	return fmt.Sprintf("%s/%s/%s_Municipios_2022.zip", strings.TrimRight(l.dir, "/"), uf, uf)
}

// LoadUF downloads the state's mesh archive, parses the shapefile, and
// replaces the state's rows in the store. Returns the row count.
func (l *Loader) LoadUF(ctx context.Context, uf string) (int64, error) {
	tmpDir, err := os.MkdirTemp("", "sentinela-mesh-*")
	if err != nil {
		return 0, eris.Wrap(err, "mesh: temp dir")
	}
	defer os.RemoveAll(tmpDir)

	zipPath := filepath.Join(tmpDir, "mesh.zip")
	n, err := l.fetcher.DownloadToFile(ctx, l.archivePath(uf), zipPath)
	if err != nil {
		return 0, eris.Wrapf(err, "mesh: download %s", uf)
	}
	zap.L().Info("mesh: downloaded archive",
		zap.String("uf", uf),
		zap.Int64("bytes", n),
	)

	shpPath, err := extractShapefile(zipPath, tmpDir)
	if err != nil {
		return 0, err
	}

	rows, err := ParseShapefile(shpPath)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, eris.Errorf("mesh: archive for %s held no municipalities", uf)
	}

	count, err := l.store.ReplaceMeshes(ctx, strings.ToUpper(uf), rows)
	if err != nil {
		return 0, err
	}
	zap.L().Info("mesh: loaded state",
		zap.String("uf", uf),
		zap.Int64("municipalities", count),
	)
	return count, nil
}

// extractShapefile unpacks the .shp, .shx, and .dbf members next to each
// other and returns the .shp path.
func extractShapefile(zipPath, destDir string) (string, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrap(err, "mesh: open archive")
	}
	defer zr.Close()

	var shpPath string
	for _, f := range zr.File {
		ext := strings.ToLower(filepath.Ext(f.Name))
		if ext != ".shp" && ext != ".shx" && ext != ".dbf" {
			continue
		}

		// Flatten: archive members may carry directory prefixes.
		outPath := filepath.Join(destDir, filepath.Base(f.Name))
		if err := extractMember(f, outPath); err != nil {
			return "", err
		}
		if ext == ".shp" {
			shpPath = outPath
		}
	}

	if shpPath == "" {
		return "", eris.New("mesh: no .shp member in archive")
	}
	return shpPath, nil
}

func extractMember(f *zip.File, outPath string) error {
	rc, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "mesh: open member %s", f.Name)
	}
	defer rc.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return eris.Wrapf(err, "mesh: create %s", outPath)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return eris.Wrapf(err, "mesh: extract %s", f.Name)
	}
	return nil
}
