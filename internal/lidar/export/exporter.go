package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/scansim/internal/fsutil"
	"github.com/banshee-data/scansim/internal/lidar"
	"github.com/banshee-data/scansim/internal/security"
	"github.com/banshee-data/scansim/internal/timeutil"
)

// Result reports the outcome of one format's export.
type Result struct {
	Format string
	Path   string
	Points int
	Bytes  int
	Err    error

	// Unavailable is set when the format's encoder is not compiled in,
	// as distinct from a write failure.
	Unavailable bool
}

// OK reports whether the file was written.
func (r Result) OK() bool { return r.Err == nil }

// Exporter writes point lists to every requested format under a project
// root. Formats are written concurrently; one format failing never stops
// the others.
type Exporter struct {
	fs    fsutil.FileSystem
	root  string
	clock timeutil.Clock
}

// NewExporter returns an exporter writing through fsys. Output paths
// starting with "//" resolve against projectRoot.
func NewExporter(fsys fsutil.FileSystem, projectRoot string) *Exporter {
	return &Exporter{fs: fsys, root: projectRoot, clock: timeutil.RealClock{}}
}

// SetClock sets the clock used for creation-date fields.
func (e *Exporter) SetClock(c timeutil.Clock) { e.clock = c }

// FilePath returns the file an encoder writes for the given output
// settings and optional frame number.
func (e *Exporter) FilePath(out lidar.OutputSettings, ext string, frame *int) (string, error) {
	dir, err := security.ResolveWithinRoot(out.Path, e.root)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName(out.Filename, ext, frame)), nil
}

// FileName returns "<base>.<ext>" or "<base>_<frame:04d>.<ext>".
func FileName(base, ext string, frame *int) string {
	base = security.SanitizeFilename(base)
	if frame != nil {
		base = fmt.Sprintf("%s_%04d", base, *frame)
	}
	return base + "." + ext
}

// Export writes points in each of out.Formats and returns one Result per
// distinct format, in request order. Points are shared read-only between
// the concurrent encoders.
func (e *Exporter) Export(ctx context.Context, points []lidar.ScanPoint, out lidar.OutputSettings, frame *int) []Result {
	formats := dedupe(out.Formats)
	results := make([]Result, len(formats))

	opts := OptionsFromOutput(out)
	opts.CreatedAt = e.clock.Now()

	var g errgroup.Group
	for i, format := range formats {
		i, format := i, format
		g.Go(func() error {
			results[i] = e.exportOne(ctx, points, out, frame, format, opts)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		switch {
		case r.Unavailable:
			opsf("format %s unavailable in this build, skipped", r.Format)
		case r.Err != nil:
			opsf("export %s failed: %v", r.Format, r.Err)
		default:
			diagf("exported %d points to %s (%d bytes)", r.Points, r.Path, r.Bytes)
		}
	}
	return results
}

func (e *Exporter) exportOne(ctx context.Context, points []lidar.ScanPoint, out lidar.OutputSettings, frame *int, format string, opts Options) Result {
	r := Result{Format: format, Points: len(points)}
	if err := ctx.Err(); err != nil {
		r.Err = err
		return r
	}

	enc, err := Lookup(format)
	if err != nil {
		r.Err = err
		r.Unavailable = errors.Is(err, ErrFormatUnavailable)
		return r
	}

	path, err := e.FilePath(out, enc.Extension(), frame)
	if err != nil {
		r.Err = err
		return r
	}
	r.Path = path

	tracef("encoding %d points as %s", len(points), format)
	r.Bytes, r.Err = WriteAtomic(e.fs, path, func(w io.Writer) error {
		return enc.Encode(w, points, opts)
	})
	return r
}

func dedupe(formats []string) []string {
	seen := make(map[string]bool, len(formats))
	out := make([]string, 0, len(formats))
	for _, f := range formats {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// Failed returns the results that did not produce a file.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}
