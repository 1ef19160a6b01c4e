package session

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/example/driver-agent/internal/models"
)

// FileStore keeps the snapshot and flags as JSON files under a directory,
// one file per key. This is the default backend when no Redis address is
// configured.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) snapshotPath() string { return filepath.Join(f.dir, "rideState.json") }
func (f *FileStore) flagPath(key string) string {
	return filepath.Join(f.dir, "flag_"+key+".json")
}

func (f *FileStore) SaveSnapshot(_ context.Context, snap *models.RideSnapshot) error {
	snap.SavedAt = time.Now()
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return writeFileAtomic(f.snapshotPath(), b)
}

func (f *FileStore) LoadSnapshot(_ context.Context) (*models.RideSnapshot, error) {
	b, err := os.ReadFile(f.snapshotPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap models.RideSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (f *FileStore) ClearSnapshot(_ context.Context) error {
	err := os.Remove(f.snapshotPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (f *FileStore) SetFlag(_ context.Context, key, value string) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return writeFileAtomic(f.flagPath(key), b)
}

func (f *FileStore) GetFlag(_ context.Context, key string) (string, error) {
	b, err := os.ReadFile(f.flagPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return "", err
	}
	return v, nil
}

func (f *FileStore) ClearAll(_ context.Context) error {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(f.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// writeFileAtomic writes via a temp file and rename so a crash mid-write
// never leaves a truncated snapshot behind.
func writeFileAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
