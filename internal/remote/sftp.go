package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/ignite/arukereso-extractor/internal/pkg/logger"
)

// SFTPConfig holds the session credentials. Key is PEM private key text.
type SFTPConfig struct {
	Server     string
	Port       int
	Username   string
	Password   string
	Key        string
	Passphrase string
	Timeout    time.Duration
}

// SFTPSource is a Source over one SSH connection and its SFTP subsystem.
type SFTPSource struct {
	conn   net.Conn
	ssh    *ssh.Client
	client *sftp.Client
	log    *logger.Logger
}

// ParseKey parses a PEM private key. The passphrase is only used when the
// key turns out to be encrypted; an unencrypted key ignores it.
func ParseKey(pemKey, passphrase string) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey([]byte(pemKey))
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) && passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(pemKey), []byte(passphrase))
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// DialSFTP opens the SSH transport and SFTP subsystem. If any step fails,
// whatever was already opened is closed before returning.
func DialSFTP(ctx context.Context, cfg SFTPConfig, log *logger.Logger) (src *SFTPSource, err error) {
	signer, err := ParseKey(cfg.Key, cfg.Passphrase)
	if err != nil {
		return nil, err
	}

	auth := []ssh.AuthMethod{ssh.PublicKeys(signer)}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	clientCfg := &ssh.ClientConfig{
		User: cfg.Username,
		Auth: auth,
		// host keys are not pinned for the feed server
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cfg.Timeout,
	}

	s := &SFTPSource{log: log}
	defer func() {
		if err != nil {
			if cerr := s.Close(); cerr != nil {
				log.Warn("teardown after failed connect", "error", cerr)
			}
			src = nil
		}
	}()

	addr := net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port))
	log.Info("establishing sftp connection", "addr", addr, "user", cfg.Username)

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	s.conn, err = dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnect, addr, err)
	}
	if cfg.Timeout > 0 {
		s.conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}

	c, chans, reqs, err := ssh.NewClientConn(s.conn, addr, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: ssh handshake: %w", ErrConnect, err)
	}
	s.ssh = ssh.NewClient(c, chans, reqs)
	s.conn.SetDeadline(time.Time{})

	s.client, err = sftp.NewClient(s.ssh)
	if err != nil {
		return nil, fmt.Errorf("%w: open sftp subsystem: %w", ErrConnect, err)
	}
	return s, nil
}

// NewSFTPSource wraps an already established SFTP client.
func NewSFTPSource(client *sftp.Client, log *logger.Logger) *SFTPSource {
	return &SFTPSource{client: client, log: log}
}

// List returns the entries of dir.
func (s *SFTPSource) List(ctx context.Context, dir string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := s.client.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	entries := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, Entry{
			Name:    fi.Name(),
			ModTime: ModTimeOf(fi.ModTime()),
			Size:    fi.Size(),
			IsDir:   fi.IsDir(),
		})
	}
	return entries, nil
}

// Fetch downloads remotePath to localPath, creating parent directories.
func (s *SFTPSource) Fetch(ctx context.Context, remotePath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := s.client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open remote %s: %w", remotePath, err)
	}
	defer src.Close()

	return writeLocal(localPath, src)
}

// Close shuts the SFTP subsystem and then the SSH transport. It is safe on a
// partially opened source.
func (s *SFTPSource) Close() error {
	var errs []error
	if s.client != nil {
		s.log.Info("closing sftp")
		if err := s.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sftp: %w", err))
		}
		s.client = nil
	}
	if s.ssh != nil {
		s.log.Info("closing ssh")
		if err := s.ssh.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close ssh: %w", err))
		}
		s.ssh = nil
		s.conn = nil
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close conn: %w", err))
		}
		s.conn = nil
	}
	return errors.Join(errs...)
}

func writeLocal(localPath string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		return fmt.Errorf("download to %s: %w", localPath, err)
	}
	return dst.Close()
}
