package mesh

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures the geoftp fetcher.
type FTPOptions struct {
	Host    string
	Timeout time.Duration
}

// FTPFetcher downloads mesh archives from the IBGE geoftp server.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates a fetcher for the given host.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &FTPFetcher{opts: opts}
}

// ftpConnReader wraps an FTP response and connection so that closing the reader
// also closes the FTP response and disconnects from the server.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "quit ftp connection")
	}
	return nil
}

// Download retrieves the file at path from the geoftp host. The caller
// must close the returned ReadCloser to release the FTP connection.
func (f *FTPFetcher) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	zap.L().Debug("geoftp: connecting",
		zap.String("host", f.opts.Host),
		zap.String("path", path),
	)

	conn, err := ftp.Dial(f.opts.Host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "geoftp: dial")
	}

	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		conn.Quit()
		return nil, eris.Wrap(err, "geoftp: login")
	}

	resp, err := conn.Retr(path)
	if err != nil {
		conn.Quit()
		return nil, eris.Wrapf(err, "geoftp: retrieve %s", path)
	}

	return &ftpConnReader{resp: resp, conn: conn}, nil
}

// DownloadToFile downloads path to a local file. Returns bytes written.
func (f *FTPFetcher) DownloadToFile(ctx context.Context, remotePath, localPath string) (int64, error) {
	rc, err := f.Download(ctx, remotePath)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	file, err := os.Create(localPath)
	if err != nil {
		return 0, eris.Wrap(err, "geoftp: create file")
	}
	defer file.Close()

	n, err := io.Copy(file, rc)
	if err != nil {
		return n, eris.Wrap(err, "geoftp: write file")
	}

	return n, nil
}
