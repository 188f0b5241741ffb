// Package diagnostics removes leftover diagnostic artifacts at the end of a run.
package diagnostics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Sweeper deletes files matching a glob inside one directory.
type Sweeper struct {
	fs  afero.Fs
	log *zap.Logger
}

// NewSweeper returns a Sweeper over fs. A nil fs means the OS file system.
func NewSweeper(fs afero.Fs, logger *zap.Logger) *Sweeper {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Sweeper{fs: fs, log: logger.Named("diagnostics")}
}

// Sweep deletes the regular files in dir whose base name matches pattern and
// returns their paths. A missing dir is not an error. Every file is
// attempted; the first removal failure is returned alongside what was removed.
func (s *Sweeper) Sweep(dir, pattern string) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	matches, err := afero.Glob(s.fs, filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	var (
		removed  []string
		firstErr error
	)
	for _, path := range matches {
		info, err := s.fs.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if err := s.fs.Remove(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			s.log.Warn("Could not delete file.", zap.String("path", path), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.log.Info("Deleted file.", zap.String("path", path))
		removed = append(removed, path)
	}
	return removed, firstErr
}
