package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scansim/internal/fsutil"
	"github.com/banshee-data/scansim/internal/lidar"
	"github.com/banshee-data/scansim/internal/security"
	"github.com/banshee-data/scansim/internal/timeutil"
)

// faultyFS fails writes or renames for paths containing a marker.
type faultyFS struct {
	*fsutil.MemoryFileSystem
	failWrite  string
	failRename string
}

var errInjected = errors.New("injected failure")

func (f *faultyFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	if f.failWrite != "" && strings.Contains(name, f.failWrite) {
		return errInjected
	}
	return f.MemoryFileSystem.WriteFile(name, data, perm)
}

func (f *faultyFS) Rename(oldpath, newpath string) error {
	if f.failRename != "" && strings.Contains(newpath, f.failRename) {
		return errInjected
	}
	return f.MemoryFileSystem.Rename(oldpath, newpath)
}

func output(formats ...string) lidar.OutputSettings {
	return lidar.OutputSettings{
		Export:           true,
		Formats:          formats,
		Path:             "//scans/",
		Filename:         "scan_001",
		IncludeNormals:   true,
		IncludeIntensity: true,
		IncludeLabels:    true,
	}
}

func resultsByFormat(results []Result) map[string]Result {
	m := make(map[string]Result, len(results))
	for _, r := range results {
		m[r.Format] = r
	}
	return m
}

func TestFileName(t *testing.T) {
	t.Parallel()

	frame := 7
	assert.Equal(t, "scan_001.ply", FileName("scan_001", "ply", nil))
	assert.Equal(t, "scan_001_0007.ply", FileName("scan_001", "ply", &frame))
	big := 12345
	assert.Equal(t, "scan_12345.bin.ply", FileName("scan", "bin.ply", &big))
	assert.Equal(t, "my_scan.csv", FileName("my scan", "csv", nil))
}

func TestExporter_WritesAllFormats(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mfs := fsutil.NewMemoryFileSystem()
	e := NewExporter(mfs, root)

	frame := 12
	results := e.Export(context.Background(), samplePoints(), output("ply", "csv", "pcd", "xyz", "ply_binary", "ply"), &frame)
	require.Len(t, results, 5, "duplicate formats collapse")
	assert.Equal(t, []string{"ply", "csv", "pcd", "xyz", "ply_binary"},
		[]string{results[0].Format, results[1].Format, results[2].Format, results[3].Format, results[4].Format})

	dir := filepath.Join(root, "scans")
	for _, r := range results {
		require.NoError(t, r.Err, r.Format)
		assert.Equal(t, 2, r.Points)
		assert.Greater(t, r.Bytes, 0)
	}
	assert.Equal(t, []string{
		filepath.Join(dir, "scan_001_0012.bin.ply"),
		filepath.Join(dir, "scan_001_0012.csv"),
		filepath.Join(dir, "scan_001_0012.pcd"),
		filepath.Join(dir, "scan_001_0012.ply"),
		filepath.Join(dir, "scan_001_0012.xyz"),
	}, mfs.Files())
	assert.Empty(t, Failed(results))

	data, err := mfs.ReadFile(filepath.Join(dir, "scan_001_0012.xyz"))
	require.NoError(t, err)
	assert.Equal(t, string(encode(t, FormatXYZ, samplePoints(), allFields)), string(data))
}

func TestExporter_FailureIsolatedPerFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fs   *faultyFS
	}{
		{"write fails", &faultyFS{MemoryFileSystem: fsutil.NewMemoryFileSystem(), failWrite: ".csv"}},
		{"rename fails", &faultyFS{MemoryFileSystem: fsutil.NewMemoryFileSystem(), failRename: ".csv"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			root := t.TempDir()
			e := NewExporter(tt.fs, root)

			results := resultsByFormat(e.Export(context.Background(), samplePoints(), output("ply", "csv", "pcd"), nil))
			assert.ErrorIs(t, results["csv"].Err, errInjected)
			assert.False(t, results["csv"].Unavailable)
			assert.NoError(t, results["ply"].Err)
			assert.NoError(t, results["pcd"].Err)

			for _, f := range tt.fs.Files() {
				assert.False(t, strings.HasSuffix(f, ".tmp"), "leftover temp file %s", f)
				assert.False(t, strings.HasSuffix(f, ".csv"), "partial csv %s", f)
			}
			assert.Len(t, tt.fs.Files(), 2)
		})
	}
}

func TestExporter_FailedRewriteKeepsPreviousFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	ffs := &faultyFS{MemoryFileSystem: fsutil.NewMemoryFileSystem()}
	e := NewExporter(ffs, root)

	first := e.Export(context.Background(), samplePoints(), output("xyz"), nil)
	require.NoError(t, first[0].Err)
	before, err := ffs.ReadFile(first[0].Path)
	require.NoError(t, err)

	ffs.failRename = ".xyz"
	second := e.Export(context.Background(), samplePoints()[:1], output("xyz"), nil)
	require.ErrorIs(t, second[0].Err, errInjected)

	after, err := ffs.ReadFile(first[0].Path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestExporter_UnavailableFormatIsDistinct(t *testing.T) {
	restore := unregister(t, FormatPCD)
	defer restore()

	root := t.TempDir()
	mfs := fsutil.NewMemoryFileSystem()
	results := resultsByFormat(NewExporter(mfs, root).Export(context.Background(), samplePoints(), output("pcd", "ply"), nil))

	pcd := results["pcd"]
	assert.True(t, pcd.Unavailable)
	assert.ErrorIs(t, pcd.Err, ErrFormatUnavailable)
	assert.Empty(t, pcd.Path)
	assert.NoError(t, results["ply"].Err)
	assert.Len(t, mfs.Files(), 1)
}

func TestExporter_UnknownFormat(t *testing.T) {
	t.Parallel()

	results := NewExporter(fsutil.NewMemoryFileSystem(), t.TempDir()).
		Export(context.Background(), samplePoints(), output("obj"), nil)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrUnknownFormat)
	assert.False(t, results[0].Unavailable)
}

func TestExporter_PathEscape(t *testing.T) {
	t.Parallel()

	mfs := fsutil.NewMemoryFileSystem()
	out := output("ply", "csv")
	out.Path = "//../../elsewhere"
	results := NewExporter(mfs, t.TempDir()).Export(context.Background(), samplePoints(), out, nil)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, security.ErrPathEscapesRoot, r.Format)
	}
	assert.Empty(t, mfs.Files())
}

func TestExporter_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mfs := fsutil.NewMemoryFileSystem()
	results := NewExporter(mfs, t.TempDir()).Export(ctx, samplePoints(), output("ply"), nil)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
	assert.Empty(t, mfs.Files())
}

func TestExporter_OSFileSystem(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	e := NewExporter(fsutil.OSFileSystem{}, root)
	e.SetClock(timeutil.NewMockClock(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))

	out := output("ply", "pcd")
	out.Path = "//scans/run_001"
	results := e.Export(context.Background(), samplePoints(), out, nil)
	for _, r := range results {
		require.NoError(t, r.Err, r.Format)
		info, err := os.Stat(r.Path)
		require.NoError(t, err)
		assert.Equal(t, int64(r.Bytes), info.Size())
	}

	entries, err := os.ReadDir(filepath.Join(root, "scans", "run_001"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// unregister removes a format from the registry for the duration of a
// test. Callers must not run in parallel.
func unregister(t *testing.T, format string) func() {
	t.Helper()
	registryMu.Lock()
	defer registryMu.Unlock()
	enc, ok := registry[format]
	require.True(t, ok, "format %s not registered", format)
	delete(registry, format)
	return func() {
		registryMu.Lock()
		defer registryMu.Unlock()
		registry[format] = enc
	}
}
