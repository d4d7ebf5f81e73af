package sweep

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scansim/internal/fsutil"
	"github.com/banshee-data/scansim/internal/lidar"
	"github.com/banshee-data/scansim/internal/lidar/export"
	"github.com/banshee-data/scansim/internal/timeutil"
)

// wallScene is a set of infinite planes y = d facing the scanner.
type wallScene struct {
	walls []float64
	safe  bool
	casts atomic.Int64
}

func newWall(y ...float64) *wallScene { return &wallScene{walls: y} }

func (w *wallScene) hits(o, d r3.Vec, max int) []lidar.Hit {
	w.casts.Add(1)
	if d.Y <= 0 {
		return nil
	}
	var out []lidar.Hit
	for i, y := range w.walls {
		if len(out) == max {
			break
		}
		t := (y - o.Y) / d.Y
		if t <= 0 {
			continue
		}
		out = append(out, lidar.Hit{
			Position:   r3.Add(o, r3.Scale(t, d)),
			Normal:     r3.Vec{Y: -1},
			HasNormal:  true,
			ObjectName: []string{"near", "far", "back"}[i%3],
		})
	}
	return out
}

func (w *wallScene) Cast(o, d r3.Vec) (lidar.Hit, bool) {
	h := w.hits(o, d, 1)
	if len(h) == 0 {
		return lidar.Hit{}, false
	}
	return h[0], true
}

func (w *wallScene) ConcurrentSafe() bool { return w.safe }

// multiWallScene additionally enumerates further hits.
type multiWallScene struct{ *wallScene }

func (m multiWallScene) CastAll(o, d r3.Vec, max int) []lidar.Hit { return m.hits(o, d, max) }

// fakeFrames records every SetFrame call.
type fakeFrames struct {
	mu      sync.Mutex
	current int
	calls   []int
	fail    map[int]bool
	onSet   func(frame int)
}

func (f *fakeFrames) CurrentFrame() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeFrames) SetFrame(frame int) error {
	f.mu.Lock()
	f.calls = append(f.calls, frame)
	if f.fail[frame] {
		f.mu.Unlock()
		return errors.New("frame data corrupted")
	}
	f.current = frame
	hook := f.onSet
	f.mu.Unlock()
	if hook != nil {
		hook(frame)
	}
	return nil
}

// gatedScene blocks its first cast until release is closed.
type gatedScene struct {
	*wallScene
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedScene() *gatedScene {
	return &gatedScene{
		wallScene: newWall(10),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (g *gatedScene) Cast(o, d r3.Vec) (lidar.Hit, bool) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.wallScene.Cast(o, d)
}

type failingPose struct{}

func (failingPose) ScannerPose() (lidar.Pose, error) { return lidar.Pose{}, errors.New("object deleted") }

// baseSettings is an 11x11 ray grid straight ahead with noise off.
func baseSettings() lidar.ScanSettings {
	return lidar.ScanSettings{
		FOVH:        10,
		FOVV:        10,
		ResolutionH: 1,
		ResolutionV: 1,
		RangeMin:    0.1,
		RangeMax:    100,
		Weather:     lidar.WeatherSettings{Model: lidar.DefaultWeatherModel()},
	}
}

func withExport(s lidar.ScanSettings, formats ...string) lidar.ScanSettings {
	s.Output = lidar.OutputSettings{
		Export:   true,
		Formats:  formats,
		Path:     "//out",
		Filename: "scan",
	}
	return s
}

func TestScan_RowMajorPoints(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	clock.SetAutoAdvance(5 * time.Millisecond)
	r := NewRunner(newWall(10), WithClock(clock))

	res, err := r.Scan(context.Background(), baseSettings())
	require.NoError(t, err)

	rays := lidar.GeneratePattern(10, 10, 1, 1)
	require.Len(t, res.Points, len(rays))
	assert.Equal(t, len(rays), res.RaysCast)
	assert.Zero(t, res.Rejections.Total())
	assert.Nil(t, res.Frame)
	assert.Equal(t, 5*time.Millisecond, res.Elapsed)

	for i, p := range res.Points {
		assert.Equal(t, rays[i].AngleH, p.AngleH, "point %d", i)
		assert.Equal(t, rays[i].AngleV, p.AngleV, "point %d", i)
		assert.InDelta(t, 10, p.Position.Y, 1e-9)
		assert.GreaterOrEqual(t, p.Distance, 10.0)
		assert.Equal(t, 1, p.ReturnNumber)
		assert.Equal(t, 1.0, p.Intensity, "intensity model disabled")
	}
	assert.Equal(t, len(rays), res.Stats.TotalPoints)
	assert.Equal(t, 1, res.Stats.UniqueObjects)
	assert.InDelta(t, 10, res.Stats.MinDistance, 1e-9)
}

func TestScan_Rejections(t *testing.T) {
	t.Parallel()

	rays := lidar.PatternSize(10, 10, 1, 1)
	tests := []struct {
		name   string
		scene  lidar.Intersector
		mutate func(*lidar.ScanSettings)
		want   lidar.RejectionCounts
	}{
		{"all miss", newWall(-10), nil, lidar.RejectionCounts{Miss: rays}},
		{"beyond range", newWall(50), func(s *lidar.ScanSettings) { s.RangeMax = 20 }, lidar.RejectionCounts{Range: rays}},
		{"inside minimum range", newWall(0.5), func(s *lidar.ScanSettings) { s.RangeMin = 2 }, lidar.RejectionCounts{Range: rays}},
		{"certain dropout", newWall(10), func(s *lidar.ScanSettings) {
			s.Noise = lidar.NoiseSettings{Enabled: true, Dropout: 1}
		}, lidar.RejectionCounts{Dropout: rays}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := baseSettings()
			if tt.mutate != nil {
				tt.mutate(&s)
			}
			res, err := NewRunner(tt.scene).Scan(context.Background(), s)
			require.NoError(t, err)
			assert.Empty(t, res.Points)
			assert.Equal(t, tt.want, res.Rejections)
			assert.Equal(t, rays, res.RaysCast)
		})
	}
}

func TestScan_ParallelMatchesSequential(t *testing.T) {
	t.Parallel()

	s := baseSettings()
	s.FOVH, s.FOVV = 100, 40
	s.ResolutionH, s.ResolutionV = 0.5, 0.5
	s.Noise = lidar.NoiseSettings{Enabled: true, Kind: lidar.NoiseGaussian, RangeSigma: 0.05, AngularSigma: 0.05, Dropout: 0.1}
	s.Intensity = lidar.IntensitySettings{Enabled: true, Falloff: lidar.FalloffLinear}
	require.Greater(t, s.EstimatedRays(), 2*chunkSize)

	seq, err := NewRunner(newWall(10), WithSeed(42)).Scan(context.Background(), s)
	require.NoError(t, err)

	wall := newWall(10)
	wall.safe = true
	par, err := NewRunner(wall, WithSeed(42), WithWorkers(4)).Scan(context.Background(), s)
	require.NoError(t, err)

	assert.Greater(t, seq.Rejections.Dropout, 0)
	assert.Equal(t, seq.Rejections, par.Rejections)
	require.Equal(t, len(seq.Points), len(par.Points))
	assert.Equal(t, seq.Points, par.Points)

	other, err := NewRunner(newWall(10), WithSeed(43)).Scan(context.Background(), s)
	require.NoError(t, err)
	assert.NotEqual(t, seq.Points, other.Points, "seed changes the noise")
}

func TestScan_UnsafeSceneStaysSequential(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var calls []int
	s := baseSettings()
	s.FOVH, s.ResolutionH = 100, 0.1
	r := NewRunner(newWall(10), WithWorkers(8), WithProgress(func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, done)
		assert.Equal(t, s.EstimatedRays(), total)
	}))

	_, err := r.Scan(context.Background(), s)
	require.NoError(t, err)
	require.NotEmpty(t, calls)
	assert.IsIncreasing(t, calls)
	assert.Equal(t, s.EstimatedRays(), calls[len(calls)-1])
}

func TestScan_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	wall := newWall(10)
	_, err := NewRunner(wall, WithCancelCheckInterval(1)).Scan(ctx, baseSettings())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, wall.casts.Load())
}

func TestScan_BusyWhileRunActive(t *testing.T) {
	t.Parallel()

	scene := newGatedScene()
	r := NewRunner(scene)

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), baseSettings())
		done <- err
	}()
	<-scene.entered

	_, err := r.Scan(context.Background(), baseSettings())
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, SweepStatusRunning, r.State().Status)

	close(scene.release)
	require.NoError(t, <-done)
	assert.Equal(t, SweepStatusComplete, r.State().Status)

	res, err := r.Scan(context.Background(), baseSettings())
	require.NoError(t, err)
	assert.Equal(t, 121, res.RaysCast)
	assert.Equal(t, 1, r.State().CompletedFrames)
}

func TestScan_StopCancels(t *testing.T) {
	t.Parallel()

	scene := newGatedScene()
	r := NewRunner(scene, WithCancelCheckInterval(1))

	done := make(chan error, 1)
	go func() {
		_, err := r.Scan(context.Background(), baseSettings())
		done <- err
	}()
	<-scene.entered

	r.Stop()
	close(scene.release)

	assert.ErrorIs(t, <-done, context.Canceled)
	state := r.State()
	assert.Equal(t, SweepStatusError, state.Status)
	assert.Less(t, scene.casts.Load(), int64(121))
}

func TestScan_PoseProviderError(t *testing.T) {
	t.Parallel()

	s := baseSettings()
	s.PoseProvider = failingPose{}
	_, err := NewRunner(newWall(10)).Scan(context.Background(), s)
	assert.ErrorContains(t, err, "object deleted")
}

func TestScan_PoseTransformsRays(t *testing.T) {
	t.Parallel()

	// Yawing 180 degrees about Z points the scanner at -Y.
	s := baseSettings()
	s.RotationDeg = r3.Vec{Z: 180}
	res, err := NewRunner(newWall(10)).Scan(context.Background(), s)
	require.NoError(t, err)
	assert.Empty(t, res.Points)

	s.RotationDeg = r3.Vec{}
	s.Origin = r3.Vec{Y: 4}
	res, err = NewRunner(newWall(10)).Scan(context.Background(), s)
	require.NoError(t, err)
	assert.InDelta(t, 6, res.Stats.MinDistance, 1e-9)
}

func TestScan_MultiReturn(t *testing.T) {
	t.Parallel()

	s := baseSettings()
	s.MultiReturn = lidar.MultiReturnSettings{Enabled: true, MaxReturns: 2}
	rays := s.EstimatedRays()

	res, err := NewRunner(multiWallScene{newWall(10, 20, 30)}).Scan(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, res.Points, 2*rays)
	for i := 0; i < len(res.Points); i += 2 {
		first, second := res.Points[i], res.Points[i+1]
		assert.Equal(t, 1, first.ReturnNumber)
		assert.Equal(t, 2, second.ReturnNumber)
		assert.Equal(t, 2, first.NumReturns)
		assert.Equal(t, "near", first.ObjectName)
		assert.Equal(t, "far", second.ObjectName)
		assert.Less(t, first.Distance, second.Distance)
	}

	// The second wall is out of range, so each ray yields only its first return.
	s.RangeMax = 15
	res, err = NewRunner(multiWallScene{newWall(10, 20)}).Scan(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, res.Points, rays)
	assert.Equal(t, 1, res.Points[0].NumReturns)
	assert.Equal(t, rays, res.Rejections.Range)

	// A first-hit-only scene degrades to one return per ray.
	s.RangeMax = 100
	res, err = NewRunner(newWall(10, 20)).Scan(context.Background(), s)
	require.NoError(t, err)
	assert.Len(t, res.Points, rays)
}

func TestRun_PreflightRejectsBeforeCasting(t *testing.T) {
	t.Parallel()

	exp := export.NewExporter(fsutil.NewMemoryFileSystem(), t.TempDir())
	tests := []struct {
		name    string
		runner  func(*wallScene) *Runner
		want    error
		formats []string
	}{
		{"no formats", func(w *wallScene) *Runner { return NewRunner(w, WithExporter(exp)) }, ErrNoOutputFormats, nil},
		{"no exporter", func(w *wallScene) *Runner { return NewRunner(w) }, ErrNoExporter, []string{"ply"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			wall := newWall(10)
			_, err := tt.runner(wall).Run(context.Background(), withExport(baseSettings(), tt.formats...))
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, wall.casts.Load())
		})
	}
}

func TestRun_ExportsEveryFormat(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mfs := fsutil.NewMemoryFileSystem()
	r := NewRunner(newWall(10), WithExporter(export.NewExporter(mfs, root)))

	report, err := r.Run(context.Background(), withExport(baseSettings(), "xyz", "csv"))
	require.NoError(t, err)
	require.Len(t, report.Exports, 2)
	assert.Empty(t, export.Failed(report.Exports))
	assert.Equal(t, []string{
		filepath.Join(root, "out", "scan.csv"),
		filepath.Join(root, "out", "scan.xyz"),
	}, mfs.Files())

	state := r.State()
	assert.Equal(t, SweepStatusComplete, state.Status)
	assert.Equal(t, 1, state.CompletedFrames)
	assert.NotNil(t, state.CompletedAt)
}

func TestRun_ExportDisabled(t *testing.T) {
	t.Parallel()

	report, err := NewRunner(newWall(10)).Run(context.Background(), baseSettings())
	require.NoError(t, err)
	assert.Empty(t, report.Exports)
	assert.NotEmpty(t, report.Result.Points)
}

func animationSettings(single bool) lidar.ScanSettings {
	s := withExport(baseSettings(), "xyz")
	s.Animation = lidar.AnimationSettings{
		Enabled:          true,
		FrameStart:       1,
		FrameEnd:         5,
		FrameStep:        2,
		SingleFrameFiles: single,
	}
	return s
}

func TestAnimate_SkipsFailedFrameAndRestores(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		single    bool
		wantFiles []string
	}{
		{"single frame files", true, []string{"scan_0001.xyz", "scan_0005.xyz"}},
		{"combined", false, []string{"scan.xyz"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			root := t.TempDir()
			mfs := fsutil.NewMemoryFileSystem()
			frames := &fakeFrames{current: 42, fail: map[int]bool{3: true}}
			r := NewRunner(newWall(10),
				WithFrameController(frames),
				WithExporter(export.NewExporter(mfs, root)))

			res, err := r.Animate(context.Background(), animationSettings(tt.single))
			require.NoError(t, err)

			assert.Equal(t, []int{1, 3, 5, 42}, frames.calls, "frames visited in order, then restored")
			assert.Equal(t, 42, frames.CurrentFrame())
			assert.Equal(t, []int{3}, res.SkippedFrameNumbers())

			require.Len(t, res.Frames, 2)
			assert.Equal(t, 1, *res.Frames[0].Frame)
			assert.Equal(t, 5, *res.Frames[1].Frame)

			var want []string
			for _, f := range tt.wantFiles {
				want = append(want, filepath.Join(root, "out", f))
			}
			assert.Equal(t, want, mfs.Files())
			assert.Empty(t, export.Failed(res.Exports))

			if tt.single {
				assert.Nil(t, res.Combined)
			} else {
				require.NotNil(t, res.Combined)
				assert.Len(t, res.Combined.Points, len(res.Frames[0].Points)+len(res.Frames[1].Points))
				assert.Nil(t, res.Combined.Frame)
			}

			state := r.State()
			assert.Equal(t, SweepStatusComplete, state.Status)
			assert.Equal(t, 3, state.TotalFrames)
			assert.Equal(t, 2, state.CompletedFrames)
			assert.Equal(t, []int{3}, state.SkippedFrames)
			assert.Len(t, state.Warnings, 1)
		})
	}
}

func TestAnimate_RestoresFrameOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	frames := &fakeFrames{current: 9}
	frames.onSet = func(frame int) {
		if frame == 3 {
			cancel()
		}
	}
	s := animationSettings(true)
	s.Output.Export = false

	_, err := NewRunner(newWall(10), WithFrameController(frames), WithCancelCheckInterval(1)).Animate(ctx, s)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{1, 3, 9}, frames.calls)
	assert.Equal(t, 9, frames.CurrentFrame())
}

func TestAnimate_Validation(t *testing.T) {
	t.Parallel()

	frames := &fakeFrames{}
	tests := []struct {
		name   string
		scene  lidar.Intersector
		opts   []Option
		mutate func(*lidar.ScanSettings)
		want   error
	}{
		{"disabled", newWall(10), []Option{WithFrameController(frames)}, func(s *lidar.ScanSettings) { s.Animation.Enabled = false }, ErrAnimationDisabled},
		{"zero step", newWall(10), []Option{WithFrameController(frames)}, func(s *lidar.ScanSettings) { s.Animation.FrameStep = 0 }, ErrInvalidFrameRange},
		{"start after end", newWall(10), []Option{WithFrameController(frames)}, func(s *lidar.ScanSettings) { s.Animation.FrameStart = 10 }, ErrInvalidFrameRange},
		{"no frame controller", newWall(10), nil, nil, ErrNoFrameController},
		{"no formats", newWall(10), []Option{WithFrameController(frames)}, func(s *lidar.ScanSettings) { s.Output.Formats = nil }, ErrNoOutputFormats},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := animationSettings(true)
			if tt.mutate != nil {
				tt.mutate(&s)
			}
			_, err := NewRunner(tt.scene, tt.opts...).Animate(context.Background(), s)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAnimate_SingleFrameRange(t *testing.T) {
	t.Parallel()

	frames := &fakeFrames{current: 1}
	s := animationSettings(false)
	s.Output.Export = false
	s.Animation.FrameStart, s.Animation.FrameEnd = 4, 4

	res, err := NewRunner(newWall(10), WithFrameController(frames)).Animate(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, res.Frames, 1)
	assert.Equal(t, []int{4, 1}, frames.calls)
	assert.Empty(t, res.Exports)
}
