// Package store persists run side-artifacts: per-account cookie snapshots on
// disk and, optionally, run outcomes in PostgreSQL.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/listfill/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrSnapshotNotFound is returned by Load when an account has no snapshot yet.
var ErrSnapshotNotFound = errors.New("session snapshot not found")

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._@-]`)

// SnapshotStore keeps one pretty-printed cookie file per account.
type SnapshotStore struct {
	fs  afero.Fs
	dir string
	log *zap.Logger
}

// NewSnapshotStore returns a store rooted at dir on fs. The directory is created on first save.
func NewSnapshotStore(fs afero.Fs, dir string, logger *zap.Logger) *SnapshotStore {
	return &SnapshotStore{fs: fs, dir: dir, log: logger.Named("snapshots")}
}

// Path returns the snapshot file for accountID.
func (s *SnapshotStore) Path(accountID string) string {
	name := unsafeFileChars.ReplaceAllString(accountID, "_")
	return filepath.Join(s.dir, fmt.Sprintf("cookies-%s.json", name))
}

// Save overwrites the snapshot for accountID.
func (s *SnapshotStore) Save(accountID string, cookies []browser.Cookie) error {
	if err := s.fs.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if cookies == nil {
		cookies = []browser.Cookie{}
	}
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}

	path := s.Path(accountID)
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	s.log.Info("Cookies saved.", zap.String("account", accountID), zap.String("path", path))
	return nil
}

// Load returns the cookies last saved for accountID.
func (s *SnapshotStore) Load(accountID string) ([]browser.Cookie, error) {
	data, err := afero.ReadFile(s.fs, s.Path(accountID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var cookies []browser.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return cookies, nil
}
