package platform

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// FileSaver writes payloads into a download directory.
type FileSaver struct {
	fs  afero.Fs
	dir string
}

// NewFileSaver creates a saver writing into dir on fs.
func NewFileSaver(fs afero.Fs, dir string) *FileSaver {
	return &FileSaver{fs: fs, dir: dir}
}

// Save writes data to dir/filename, replacing an existing file of the same name.
func (s *FileSaver) Save(ctx context.Context, data []byte, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || strings.TrimSpace(name) == "" {
		return fmt.Errorf("invalid filename %q", filename)
	}

	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	path := filepath.Join(s.dir, name)
	if err := afero.WriteFile(s.fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

// Dir returns the download directory.
func (s *FileSaver) Dir() string {
	return s.dir
}
