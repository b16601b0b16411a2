// Package local mirrors snapshots to a directory on the local filesystem,
// typically a mounted network share or a backup volume.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JakeFAU/pricewise/internal/fsutil"
	"github.com/JakeFAU/pricewise/internal/pricewise"
)

// Config captures the parameters for the local mirror.
type Config struct {
	// BaseDir is the mirror root; snapshots land in BaseDir/<Prefix>/snapshots.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	Prefix  string `mapstructure:"prefix" yaml:"prefix"`
}

// BlobStore mirrors snapshots into a directory tree.
type BlobStore struct {
	root string
	now  func() time.Time
}

// New validates the base directory, creating it when missing.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create mirror directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat mirror directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("mirror path %s is not a directory", cfg.BaseDir)
	}

	root := filepath.Join(cfg.BaseDir, filepath.FromSlash(strings.Trim(cfg.Prefix, "/")))
	if err := os.MkdirAll(filepath.Join(root, pricewise.MirrorSnapshotsDir), 0o750); err != nil {
		return nil, fmt.Errorf("mirror directory is not writable: %w", err)
	}
	probe := filepath.Join(root, ".writable_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return nil, fmt.Errorf("mirror directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("remove write probe: %w", err)
	}

	return &BlobStore{root: root, now: time.Now}, nil
}

// MirrorSnapshot writes doc to snapshots/<id>.json and then repoints latest.json.
// Both writes are atomic renames, so a reader of latest.json always finds the
// snapshot it names.
func (s *BlobStore) MirrorSnapshot(_ context.Context, id string, doc []byte) (string, error) {
	name, err := pricewise.MirrorObjectName(id)
	if err != nil {
		return "", err
	}
	target := filepath.Join(s.root, filepath.FromSlash(name))
	if err := fsutil.WriteFile(target, doc, 0o600); err != nil {
		return "", fmt.Errorf("write snapshot %s: %w", id, err)
	}
	uri := "file://" + target

	pointer, err := json.Marshal(pricewise.MirrorPointer{ID: id, URI: uri, MirroredAt: s.now().UTC()})
	if err != nil {
		return uri, fmt.Errorf("encode latest marker: %w", err)
	}
	if err := fsutil.WriteFile(filepath.Join(s.root, pricewise.MirrorLatestObject), pointer, 0o600); err != nil {
		return uri, fmt.Errorf("update latest marker: %w", err)
	}
	return uri, nil
}

// Latest reads the latest marker; ok is false when nothing has been mirrored.
func (s *BlobStore) Latest() (pricewise.MirrorPointer, bool, error) {
	var pointer pricewise.MirrorPointer
	data, err := fsutil.ReadFile(filepath.Join(s.root, pricewise.MirrorLatestObject))
	if err != nil || data == nil {
		return pointer, false, err
	}
	if err := json.Unmarshal(data, &pointer); err != nil {
		return pointer, false, fmt.Errorf("decode latest marker: %w", err)
	}
	return pointer, true, nil
}
