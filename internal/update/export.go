package update

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/mverteuil/birdcore/internal/conf"
	"github.com/mverteuil/birdcore/internal/errors"
)

// Exporter copies the pre-update snapshot off-box during the
// snapshotting phase, so a box that fails its own rollback still leaves
// a recoverable copy elsewhere. Archiving and uploading happen
// best-effort: a failure here is logged but never blocks the update
// itself, since the on-box rollback path doesn't depend on it.
type Exporter struct {
	settings conf.ExportSettings
	dataDir  string
}

// NewExporter builds an Exporter, or nil if settings.Enabled is false.
func NewExporter(settings conf.ExportSettings, dataDir string) *Exporter {
	if !settings.Enabled {
		return nil
	}
	return &Exporter{settings: settings, dataDir: dataDir}
}

// Export archives dataDir and uploads it to the configured SFTP or FTP
// destination, named by the snapshot commit it corresponds to.
func (e *Exporter) Export(ctx context.Context, snapshotCommit string) error {
	archivePath, err := e.archive(snapshotCommit)
	if err != nil {
		return errors.New(err).Component("update").Category(errors.CategoryUpdate).
			Context("operation", "export_archive").Build()
	}
	defer os.Remove(archivePath)

	remoteName := fmt.Sprintf("birdcore-snapshot-%s.tar.gz", snapshotCommit)

	switch e.settings.Protocol {
	case "ftp":
		err = e.uploadFTP(ctx, archivePath, remoteName)
	case "sftp", "":
		err = e.uploadSFTP(ctx, archivePath, remoteName)
	default:
		return errors.Newf("unknown export protocol %q", e.settings.Protocol).
			Component("update").Category(errors.CategoryConfiguration).Build()
	}
	if err != nil {
		return errors.New(err).Component("update").Category(errors.CategoryNetwork).
			Context("operation", "export_upload").Context("protocol", e.settings.Protocol).Build()
	}
	return nil
}

// archive tars and gzips dataDir into a temp file, returning its path.
func (e *Exporter) archive(snapshotCommit string) (string, error) {
	tmp, err := os.CreateTemp("", "birdcore-snapshot-*.tar.gz")
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	gw := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gw)

	walkErr := filepath.WalkDir(e.dataDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(e.dataDir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if closeErr := tw.Close(); walkErr == nil {
		walkErr = closeErr
	}
	if closeErr := gw.Close(); walkErr == nil {
		walkErr = closeErr
	}
	if walkErr != nil {
		os.Remove(tmp.Name())
		return "", walkErr
	}
	return tmp.Name(), nil
}

func (e *Exporter) uploadSFTP(ctx context.Context, localPath, remoteName string) error {
	cfg := &ssh.ClientConfig{
		User:    e.settings.Username,
		Timeout: e.timeout(),
	}

	if e.settings.KnownHostFile != "" {
		cb, err := knownhosts.New(e.settings.KnownHostFile)
		if err != nil {
			return fmt.Errorf("loading known_hosts: %w", err)
		}
		cfg.HostKeyCallback = cb
	} else {
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	switch {
	case e.settings.KeyFile != "":
		key, err := os.ReadFile(e.settings.KeyFile)
		if err != nil {
			return fmt.Errorf("reading key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return fmt.Errorf("parsing private key: %w", err)
		}
		cfg.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case e.settings.Password != "":
		cfg.Auth = []ssh.AuthMethod{ssh.Password(e.settings.Password)}
	default:
		return fmt.Errorf("no sftp authentication method configured")
	}

	addr := fmt.Sprintf("%s:%d", e.settings.Host, e.port(22))
	conn, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return fmt.Errorf("starting sftp session: %w", err)
	}
	defer client.Close()

	remotePath := path.Join(e.settings.RemotePath, remoteName)
	if err := client.MkdirAll(e.settings.RemotePath); err != nil {
		return fmt.Errorf("creating remote dir %s: %w", e.settings.RemotePath, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("creating remote file %s: %w", remotePath, err)
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

func (e *Exporter) dialFTP(ctx context.Context) (*ftp.ServerConn, error) {
	addr := fmt.Sprintf("%s:%d", e.settings.Host, e.port(21))

	connCh := make(chan *ftp.ServerConn, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := ftp.Dial(addr, ftp.DialWithTimeout(e.timeout()))
		if err != nil {
			errCh <- fmt.Errorf("dialing %s: %w", addr, err)
			return
		}
		if err := conn.Login(e.settings.Username, e.settings.Password); err != nil {
			_ = conn.Quit()
			errCh <- fmt.Errorf("logging in: %w", err)
			return
		}
		connCh <- conn
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errCh:
		return nil, err
	case conn := <-connCh:
		return conn, nil
	}
}

func (e *Exporter) uploadFTP(ctx context.Context, localPath, remoteName string) error {
	conn, err := e.dialFTP(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit()

	if e.settings.RemotePath != "" {
		if err := conn.MakeDir(e.settings.RemotePath); err != nil {
			log.Debug("ftp mkdir (likely already exists)", "dir", e.settings.RemotePath, "error", err)
		}
	}

	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	remotePath := path.Join(e.settings.RemotePath, remoteName)
	return conn.Stor(remotePath, src)
}

func (e *Exporter) timeout() time.Duration {
	if e.settings.Timeout <= 0 {
		return 30 * time.Second
	}
	return e.settings.Timeout
}

func (e *Exporter) port(fallback int) int {
	if e.settings.Port <= 0 {
		return fallback
	}
	return e.settings.Port
}
