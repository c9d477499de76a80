package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/logflow/waitlens/pkg/export"
)

// LocalBackend keeps one JSON file per run in a directory.
type LocalBackend struct {
	dir string
}

// NewLocalBackend creates the directory if needed.
func NewLocalBackend(dir string) (*LocalBackend, error) {
	if dir == "" {
		dir = ".waitlens/runs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storeError(err, "local", "create directory", "")
	}
	return &LocalBackend{dir: dir}, nil
}

func (b *LocalBackend) path(id string) string {
	return filepath.Join(b.dir, id+".json")
}

// Save writes the report atomically.
func (b *LocalBackend) Save(ctx context.Context, rep *export.RunReport) error {
	var buf bytes.Buffer
	if err := export.WriteJSON(&buf, rep); err != nil {
		return storeError(err, "local", "encode", rep.RunID)
	}
	tmp := b.path(rep.RunID) + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return storeError(err, "local", "write", rep.RunID)
	}
	return storeError(os.Rename(tmp, b.path(rep.RunID)), "local", "rename", rep.RunID)
}

// Load reads a report.
func (b *LocalBackend) Load(ctx context.Context, id string) (*export.RunReport, error) {
	f, err := os.Open(b.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, storeError(ErrNotFound, "local", "load", id)
	}
	if err != nil {
		return nil, storeError(err, "local", "load", id)
	}
	defer f.Close()

	rep, err := export.ReadJSON(f)
	if err != nil {
		return nil, storeError(err, "local", "decode", id)
	}
	return rep, nil
}

// List reads every report in the directory. Unreadable files are skipped.
func (b *LocalBackend) List(ctx context.Context) ([]Entry, error) {
	dirEntries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, storeError(err, "local", "list", "")
	}

	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".json" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := strings.TrimSuffix(de.Name(), ".json")
		rep, err := b.Load(ctx, id)
		if err != nil {
			continue
		}
		var size int64
		if info, err := de.Info(); err == nil {
			size = info.Size()
		}
		entries = append(entries, entryOf(rep, size))
	}
	sortEntries(entries)
	return entries, nil
}

// Delete removes a report.
func (b *LocalBackend) Delete(ctx context.Context, id string) error {
	err := os.Remove(b.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return storeError(ErrNotFound, "local", "delete", id)
	}
	return storeError(err, "local", "delete", id)
}

// Name returns "local".
func (b *LocalBackend) Name() string {
	return "local"
}
