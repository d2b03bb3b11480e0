package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// SFTPSource polls a manifest file on a remote host. Connections are
// established per call; the poll interval is long enough that holding an
// idle SSH connection open would be waste.
type SFTPSource struct {
	config *Config
	logger zerolog.Logger

	mu           sync.Mutex
	lastModTime  time.Time
	lastSize     int64
	baselineHash string
}

// NewSFTPSource creates a source for the configured remote manifest.
func NewSFTPSource(config *Config, logger zerolog.Logger) (*SFTPSource, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &SFTPSource{
		config: config,
		logger: logger.With().Str("component", "sftp-source").Logger(),
	}, nil
}

// Seed records the currently deployed manifest content as the baseline. The
// updater re-seeds after each swap, so Matches always compares against what
// is actually installed.
func (s *SFTPSource) Seed(current []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := sha256.Sum256(current)
	s.baselineHash = hex.EncodeToString(sum[:])
}

// Check reports whether the remote manifest changed since the last fetch.
// The comparison uses the remote file's modification time and size, so no
// download happens on the steady path.
func (s *SFTPSource) Check(ctx context.Context) (bool, error) {
	client, closeFn, err := s.connect(ctx)
	if err != nil {
		return false, err
	}
	defer closeFn()

	info, err := client.Stat(s.config.RemotePath)
	if err != nil {
		return false, fmt.Errorf("failed to stat remote manifest: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastModTime.IsZero() {
		// Never fetched. Metadata alone cannot decide, so report a change
		// and let the updater's content match settle whether a swap happens.
		return true, nil
	}

	changed := info.ModTime().After(s.lastModTime) || info.Size() != s.lastSize
	if changed {
		s.logger.Info().
			Str("path", s.config.RemotePath).
			Time("mod_time", info.ModTime()).
			Int64("size", info.Size()).
			Msg("Remote manifest changed")
	}
	return changed, nil
}

// Fetch downloads the remote manifest and records its metadata so later
// checks go back to the cheap stat path. The deployed baseline is not
// touched here; only Seed moves it.
func (s *SFTPSource) Fetch(ctx context.Context) ([]byte, error) {
	client, closeFn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	f, err := client.Open(s.config.RemotePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote manifest: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote manifest: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat remote manifest: %w", err)
	}

	s.mu.Lock()
	s.lastModTime = info.ModTime()
	s.lastSize = info.Size()
	s.mu.Unlock()

	s.logger.Debug().
		Str("path", s.config.RemotePath).
		Int("bytes", len(data)).
		Msg("Remote manifest fetched")

	return data, nil
}

// Matches reports whether data equals the deployed baseline.
func (s *SFTPSource) Matches(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baselineHash == "" {
		return false
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) == s.baselineHash
}

// connect dials SSH and opens an SFTP client. The returned function closes
// both.
func (s *SFTPSource) connect(ctx context.Context) (*sftp.Client, func(), error) {
	clientConfig, err := s.config.BuildSSHClientConfig()
	if err != nil {
		return nil, nil, err
	}

	type dialResult struct {
		conn *ssh.Client
		err  error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		conn, err := ssh.Dial("tcp", s.config.Address(), clientConfig)
		resultCh <- dialResult{conn: conn, err: err}
	}()

	var conn *ssh.Client
	select {
	case <-ctx.Done():
		go func() {
			if r := <-resultCh; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, nil, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return nil, nil, fmt.Errorf("failed to dial %s: %w", s.config.Address(), r.err)
		}
		conn = r.conn
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open SFTP session: %w", err)
	}

	return client, func() {
		client.Close()
		conn.Close()
	}, nil
}
