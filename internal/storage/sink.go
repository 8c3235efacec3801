package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExportSink persists an exported winner file and returns where it was stored.
type ExportSink interface {
	Save(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// LocalSink writes exports into a directory on disk.
type LocalSink struct {
	dir string
}

func NewLocalSink(dir string) (*LocalSink, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export directory %s: %w", dir, err)
	}
	return &LocalSink{dir: dir}, nil
}

// Save writes the file atomically: a temp file is renamed over the target.
func (s *LocalSink) Save(ctx context.Context, name, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}

	target := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("creating temp file for %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("moving %s into place: %w", name, err)
	}
	return target, nil
}

func cleanName(name string) (string, error) {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "", fmt.Errorf("invalid export file name %q", name)
	}
	return base, nil
}
