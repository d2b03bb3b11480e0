package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// UpdateSource supplies newer method-manifest content. Check must be cheap;
// Fetch is only called when Check reports new content.
type UpdateSource interface {
	// Check reports whether content newer than the current manifest exists.
	Check(ctx context.Context) (bool, error)
	// Fetch returns the full replacement manifest.
	Fetch(ctx context.Context) ([]byte, error)
}

// ContentMatcher is implemented by sources that track the deployed manifest
// content. Matches lets the updater skip the swap when fetched content is
// identical to what is already installed; Seed moves the baseline after a
// successful swap.
type ContentMatcher interface {
	Matches(data []byte) bool
	Seed(current []byte)
}

// ManifestUpdater applies manifest updates all-or-nothing: the previous file
// is backed up, the replacement is written to a temp file, and the swap is a
// single rename. Any failure leaves the prior manifest active.
type ManifestUpdater struct {
	source   UpdateSource
	path     string
	validate func([]byte) error
	onApply  func()
	logger   zerolog.Logger
}

// NewManifestUpdater creates an updater for the manifest at path. validate
// rejects malformed replacement content before the swap; it may be nil.
func NewManifestUpdater(source UpdateSource, path string, validate func([]byte) error, logger zerolog.Logger) *ManifestUpdater {
	return &ManifestUpdater{
		source:   source,
		path:     path,
		validate: validate,
		logger:   logger.With().Str("component", "updater").Logger(),
	}
}

// OnApply registers a callback fired after a successful swap, typically to
// reload the method registry.
func (u *ManifestUpdater) OnApply(fn func()) {
	u.onApply = fn
}

// Apply checks for, validates, and atomically installs a manifest update.
func (u *ManifestUpdater) Apply(ctx context.Context) error {
	available, err := u.source.Check(ctx)
	if err != nil {
		return fmt.Errorf("update check failed: %w", err)
	}
	if !available {
		return nil
	}

	content, err := u.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("update fetch failed: %w", err)
	}
	if u.validate != nil {
		if err := u.validate(content); err != nil {
			return fmt.Errorf("update content rejected: %w", err)
		}
	}

	matcher, _ := u.source.(ContentMatcher)
	if matcher != nil && matcher.Matches(content) {
		u.logger.Debug().Str("path", u.path).Msg("Fetched manifest matches deployed content, skipping swap")
		return nil
	}

	if err := u.swap(content); err != nil {
		return err
	}
	if matcher != nil {
		matcher.Seed(content)
	}

	u.logger.Info().Str("path", u.path).Int("bytes", len(content)).Msg("Manifest updated")
	if u.onApply != nil {
		u.onApply()
	}
	return nil
}

// swap performs the backup-then-replace. The temp file lives in the target
// directory so the final rename stays on one filesystem and is atomic.
func (u *ManifestUpdater) swap(content []byte) error {
	if _, err := os.Stat(u.path); err == nil {
		backup := u.path + ".bak"
		current, err := os.ReadFile(u.path)
		if err != nil {
			return fmt.Errorf("failed to read current manifest for backup: %w", err)
		}
		if err := os.WriteFile(backup, current, 0o644); err != nil {
			return fmt.Errorf("failed to write backup: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(u.path), ".manifest-*")
	if err != nil {
		return fmt.Errorf("failed to create temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp manifest: %w", err)
	}
	if err := os.Rename(tmpName, u.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to install manifest: %w", err)
	}
	return nil
}
