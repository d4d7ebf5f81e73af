package export

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"

	"github.com/banshee-data/scansim/internal/fsutil"
)

// WriteAtomic encodes into memory, then writes path.tmp and renames it into
// place. On any failure the temp file is removed and path is untouched.
// It returns the number of bytes written.
func WriteAtomic(fsys fsutil.FileSystem, path string, encode func(io.Writer) error) (int, error) {
	var buf bytes.Buffer
	if err := encode(&buf); err != nil {
		return 0, fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create output directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := fsys.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		_ = fsys.Remove(tmp)
		return 0, fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := fsys.Rename(tmp, path); err != nil {
		_ = fsys.Remove(tmp)
		return 0, fmt.Errorf("rename %s: %w", tmp, err)
	}
	return buf.Len(), nil
}
