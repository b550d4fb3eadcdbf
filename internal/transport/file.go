package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FilePublisher writes each batch to <dir>/<dataset>/<table>/<time>-<id>.json.
type FilePublisher struct {
	dir    string
	logger *slog.Logger
}

func NewFilePublisher(dir string, logger *slog.Logger) (*FilePublisher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dir %s: %w", dir, err)
	}
	return &FilePublisher{dir: dir, logger: logger.With("component", "file_sink")}, nil
}

func (f *FilePublisher) Publish(ctx context.Context, b Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Join(f.dir, safeSegment(b.Dataset), safeSegment(b.Table))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	name := fmt.Sprintf("%s-%s.json", b.CreatedAt.UTC().Format("20060102-150405.000"), b.ID)
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}

	f.logger.Debug("stored batch", "path", path, "records", len(b.Records))
	return nil
}

func (f *FilePublisher) Close() error { return nil }

func safeSegment(s string) string {
	s = filepath.Base(filepath.Clean("/" + s))
	if s == "/" || s == "." || s == "" {
		return "_"
	}
	return s
}
