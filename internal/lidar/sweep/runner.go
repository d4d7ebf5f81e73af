package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scansim/internal/lidar"
	"github.com/banshee-data/scansim/internal/lidar/export"
	"github.com/banshee-data/scansim/internal/timeutil"
)

// SweepStatus represents the current state of a run
type SweepStatus string

const (
	SweepStatusIdle     SweepStatus = "idle"
	SweepStatusRunning  SweepStatus = "running"
	SweepStatusComplete SweepStatus = "complete"
	SweepStatusError    SweepStatus = "error"
)

var (
	// ErrNoOutputFormats is returned before any ray is cast when export is
	// requested but no format is enabled.
	ErrNoOutputFormats = errors.New("export requested with no output formats enabled")
	// ErrNoExporter is returned when export is requested from a runner
	// built without WithExporter.
	ErrNoExporter = errors.New("export requested but runner has no exporter")

	ErrAnimationDisabled = errors.New("animation is not enabled")
	ErrInvalidFrameRange = errors.New("invalid frame range")
	ErrNoFrameController = errors.New("scene cannot change frames")
	ErrBusy              = errors.New("a run is already in progress")
)

const (
	// chunkSize is the number of rays sharing one noise stream. Chunk
	// boundaries depend only on ray index, so sequential and parallel runs
	// draw identical noise.
	chunkSize = 4096

	defaultCancelCheckInterval = 1024
)

// SweepState holds the progress of the most recent Scan, Run or Animate call.
type SweepState struct {
	Status          SweepStatus `json:"status"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	TotalFrames     int         `json:"total_frames"`
	CompletedFrames int         `json:"completed_frames"`
	SkippedFrames   []int       `json:"skipped_frames,omitempty"`
	Error           string      `json:"error,omitempty"`
	Warnings        []string    `json:"warnings,omitempty"`
}

// Report is the outcome of a single sweep followed by export.
type Report struct {
	Result  *lidar.ScanResult
	Exports []export.Result
}

// SkippedFrame records a frame the scene could not be advanced to.
type SkippedFrame struct {
	Frame int
	Err   error
}

// AnimationResult is the outcome of a multi-frame sweep.
type AnimationResult struct {
	// Frames holds one result per successfully scanned frame, in order.
	Frames []*lidar.ScanResult
	// Combined is the concatenation of Frames. It is nil when each frame
	// was exported on its own.
	Combined *lidar.ScanResult
	Skipped  []SkippedFrame
	Exports  []export.Result
}

// SkippedFrameNumbers lists the frames that were not scanned.
func (a *AnimationResult) SkippedFrameNumbers() []int {
	out := make([]int, len(a.Skipped))
	for i, s := range a.Skipped {
		out[i] = s.Frame
	}
	return out
}

// Option configures a Runner.
type Option func(*Runner)

// WithFrameController sets the controller used by Animate. Without it,
// the scene itself is used when it implements lidar.FrameController.
func WithFrameController(fc lidar.FrameController) Option {
	return func(r *Runner) { r.frames = fc }
}

// WithExporter sets the exporter used by Run and Animate.
func WithExporter(e *export.Exporter) Option {
	return func(r *Runner) { r.exporter = e }
}

// WithClock sets the clock used for elapsed time and run state.
func WithClock(c timeutil.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithSeed sets the base seed of the noise streams.
func WithSeed(seed uint64) Option {
	return func(r *Runner) { r.seed = seed }
}

// WithWorkers sets the number of goroutines casting rays. Values above 1
// only take effect for scenes reporting ConcurrentSafe.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n < 1 {
			n = 1
		}
		r.workers = n
	}
}

// WithCancelCheckInterval sets how many rays are cast between context
// checks.
func WithCancelCheckInterval(n int) Option {
	return func(r *Runner) {
		if n < 1 {
			n = 1
		}
		r.checkEvery = n
	}
}

// WithProgress registers a callback invoked after each chunk of rays.
// Calls are serialised.
func WithProgress(fn func(done, total int)) Option {
	return func(r *Runner) { r.progress = fn }
}

// Runner drives sweeps against a scene.
type Runner struct {
	scene      lidar.Intersector
	frames     lidar.FrameController
	exporter   *export.Exporter
	clock      timeutil.Clock
	seed       uint64
	workers    int
	checkEvery int
	progress   func(done, total int)

	mu     sync.RWMutex
	state  SweepState
	cancel context.CancelFunc
}

// NewRunner creates a runner casting rays against scene.
func NewRunner(scene lidar.Intersector, opts ...Option) *Runner {
	r := &Runner{
		scene:      scene,
		clock:      timeutil.RealClock{},
		workers:    1,
		checkEvery: defaultCancelCheckInterval,
		state:      SweepState{Status: SweepStatusIdle},
	}
	if fc, ok := scene.(lidar.FrameController); ok {
		r.frames = fc
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns a copy of the current run state.
func (r *Runner) State() SweepState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state := r.state
	state.SkippedFrames = append([]int(nil), r.state.SkippedFrames...)
	state.Warnings = append([]string(nil), r.state.Warnings...)
	return state
}

// Stop cancels a running Scan, Run or Animate call.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// preflight rejects configuration misuse before any ray is cast.
func (r *Runner) preflight(s *lidar.ScanSettings) error {
	if !s.Output.Export {
		return nil
	}
	if len(s.Output.Formats) == 0 {
		return ErrNoOutputFormats
	}
	if r.exporter == nil {
		return ErrNoExporter
	}
	return nil
}

// Scan performs one sweep with the given settings snapshot. It does not
// export.
func (r *Runner) Scan(ctx context.Context, s lidar.ScanSettings) (*lidar.ScanResult, error) {
	ctx, err := r.begin(ctx, 1)
	if err != nil {
		return nil, err
	}
	res, err := r.scan(ctx, &s, nil)
	if err != nil {
		r.finish(err)
		return nil, err
	}
	r.frameDone()
	r.finish(nil)
	return res, nil
}

// Run performs one sweep and exports it to every enabled format. Export
// failures are reported per format in the Report and do not fail the run.
func (r *Runner) Run(ctx context.Context, s lidar.ScanSettings) (*Report, error) {
	if err := r.preflight(&s); err != nil {
		return nil, err
	}
	ctx, err := r.begin(ctx, 1)
	if err != nil {
		return nil, err
	}

	res, err := r.scan(ctx, &s, nil)
	if err != nil {
		r.finish(err)
		return nil, err
	}
	report := &Report{Result: res}
	if s.Output.Export {
		report.Exports = r.export(ctx, res.Points, s.Output, nil)
	}
	r.frameDone()
	r.finish(nil)
	return report, nil
}

// Animate scans every frame from FrameStart to FrameEnd inclusive in
// steps of FrameStep. A frame the scene cannot advance to is recorded as
// skipped and the sweep continues. The scene's original frame is restored
// before Animate returns, including on error or cancellation.
func (r *Runner) Animate(ctx context.Context, s lidar.ScanSettings) (*AnimationResult, error) {
	a := s.Animation
	if !a.Enabled {
		return nil, ErrAnimationDisabled
	}
	if a.FrameStep < 1 || a.FrameStart > a.FrameEnd {
		return nil, fmt.Errorf("%w: start=%d end=%d step=%d", ErrInvalidFrameRange, a.FrameStart, a.FrameEnd, a.FrameStep)
	}
	if r.frames == nil {
		return nil, ErrNoFrameController
	}
	if err := r.preflight(&s); err != nil {
		return nil, err
	}

	total := (a.FrameEnd-a.FrameStart)/a.FrameStep + 1
	ctx, err := r.begin(ctx, total)
	if err != nil {
		return nil, err
	}

	original := r.frames.CurrentFrame()
	defer func() {
		if err := r.frames.SetFrame(original); err != nil {
			opsf("failed to restore frame %d: %v", original, err)
		}
	}()

	out := &AnimationResult{}
	for i := 0; i < total; i++ {
		frame := a.FrameStart + i*a.FrameStep
		if err := ctx.Err(); err != nil {
			r.finish(err)
			return nil, err
		}
		if err := r.frames.SetFrame(frame); err != nil {
			opsf("skipping frame %d: %v", frame, err)
			out.Skipped = append(out.Skipped, SkippedFrame{Frame: frame, Err: err})
			r.skip(frame, err)
			continue
		}

		res, err := r.scan(ctx, &s, &frame)
		if err != nil {
			r.finish(err)
			return nil, err
		}
		out.Frames = append(out.Frames, res)
		if s.Output.Export && a.SingleFrameFiles {
			out.Exports = append(out.Exports, r.export(ctx, res.Points, s.Output, &frame)...)
		}
		r.frameDone()
	}

	if !a.SingleFrameFiles {
		out.Combined = lidar.Concat(out.Frames)
		if s.Output.Export {
			out.Exports = r.export(ctx, out.Combined.Points, s.Output, nil)
		}
	}
	if len(out.Skipped) > 0 {
		opsf("animation finished with %d of %d frames skipped: %v", len(out.Skipped), total, out.SkippedFrameNumbers())
	}
	r.finish(nil)
	return out, nil
}

func (r *Runner) export(ctx context.Context, points []lidar.ScanPoint, o lidar.OutputSettings, frame *int) []export.Result {
	results := r.exporter.Export(ctx, points, o, frame)
	for _, res := range export.Failed(results) {
		r.addWarning(fmt.Sprintf("export %s: %v", res.Format, res.Err))
	}
	return results
}

// begin marks the runner as running and returns a context cancelled by
// Stop.
func (r *Runner) begin(ctx context.Context, frames int) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status == SweepStatusRunning {
		return nil, ErrBusy
	}
	now := r.clock.Now()
	r.state = SweepState{
		Status:      SweepStatusRunning,
		StartedAt:   &now,
		TotalFrames: frames,
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	return runCtx, nil
}

func (r *Runner) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	r.state.CompletedAt = &now
	if err != nil {
		r.state.Status = SweepStatusError
		r.state.Error = err.Error()
	} else {
		r.state.Status = SweepStatusComplete
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *Runner) frameDone() {
	r.mu.Lock()
	r.state.CompletedFrames++
	r.mu.Unlock()
}

func (r *Runner) skip(frame int, err error) {
	r.mu.Lock()
	r.state.SkippedFrames = append(r.state.SkippedFrames, frame)
	r.state.Warnings = append(r.state.Warnings, fmt.Sprintf("frame %d skipped: %v", frame, err))
	r.mu.Unlock()
}

func (r *Runner) addWarning(msg string) {
	r.mu.Lock()
	r.state.Warnings = append(r.state.Warnings, msg)
	r.mu.Unlock()
}

// sweep holds the per-call values shared by every chunk.
type sweep struct {
	s          *lidar.ScanSettings
	pose       lidar.Pose
	origin     r3.Vec
	rays       []lidar.RaySample
	multi      lidar.MultiHitIntersector
	maxReturns int

	progressMu sync.Mutex
	done       int
}

type chunkResult struct {
	points     []lidar.ScanPoint
	rejections lidar.RejectionCounts
}

func (r *Runner) scan(ctx context.Context, s *lidar.ScanSettings, frame *int) (*lidar.ScanResult, error) {
	start := r.clock.Now()

	pose, err := s.ScannerPose()
	if err != nil {
		return nil, fmt.Errorf("resolve scanner pose: %w", err)
	}

	sw := &sweep{
		s:          s,
		pose:       pose,
		origin:     pose.Origin(),
		rays:       lidar.GeneratePattern(s.FOVH, s.FOVV, s.ResolutionH, s.ResolutionV),
		maxReturns: 1,
	}
	if s.MultiReturn.Enabled && s.MultiReturn.MaxReturns > 1 {
		if m, ok := r.scene.(lidar.MultiHitIntersector); ok {
			sw.multi = m
			sw.maxReturns = s.MultiReturn.MaxReturns
		} else {
			opsf("scene reports first hits only; multi-return limited to one return per ray")
		}
	}

	nChunks := (len(sw.rays) + chunkSize - 1) / chunkSize
	chunks := make([]chunkResult, nChunks)

	workers := 1
	if r.workers > 1 && lidar.IsConcurrentSafe(r.scene) {
		workers = r.workers
	}
	if workers == 1 {
		for i := range chunks {
			if err := r.scanChunk(ctx, sw, i, &chunks[i]); err != nil {
				return nil, err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i := range chunks {
			i := i
			g.Go(func() error {
				return r.scanChunk(gctx, sw, i, &chunks[i])
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	n := 0
	for _, c := range chunks {
		n += len(c.points)
	}
	res := &lidar.ScanResult{
		Frame:    frame,
		Points:   make([]lidar.ScanPoint, 0, n),
		RaysCast: len(sw.rays),
	}
	for _, c := range chunks {
		res.Points = append(res.Points, c.points...)
		res.Rejections.Merge(c.rejections)
	}
	res.Stats = lidar.ComputeStats(res.Points)
	res.Elapsed = r.clock.Since(start)

	if frame != nil {
		diagf("frame %d: %d rays, %d points, %d rejected in %v", *frame, res.RaysCast, len(res.Points), res.Rejections.Total(), res.Elapsed)
	} else {
		diagf("sweep: %d rays, %d points, %d rejected in %v", res.RaysCast, len(res.Points), res.Rejections.Total(), res.Elapsed)
	}
	return res, nil
}

// scanChunk casts and measures rays [idx*chunkSize, (idx+1)*chunkSize).
func (r *Runner) scanChunk(ctx context.Context, sw *sweep, idx int, out *chunkResult) error {
	lo := idx * chunkSize
	hi := min(lo+chunkSize, len(sw.rays))

	m := lidar.NewMeasurer(sw.s, lidar.NewNoiseSource(r.seed, uint64(idx)))
	out.points = make([]lidar.ScanPoint, 0, hi-lo)

	for i := lo; i < hi; i++ {
		if i%r.checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		ray := sw.rays[i]
		dir := m.Jitter(sw.pose.Direction(ray.Direction))

		if sw.multi == nil {
			hit, ok := r.scene.Cast(sw.origin, dir)
			if !ok {
				out.rejections.Add(lidar.RejectMiss)
				continue
			}
			p, rej := m.Measure(sw.origin, dir, hit, ray, 1)
			if rej != lidar.Accepted {
				out.rejections.Add(rej)
				continue
			}
			out.points = append(out.points, p)
			continue
		}

		hits := sw.multi.CastAll(sw.origin, dir, sw.maxReturns)
		if len(hits) == 0 {
			out.rejections.Add(lidar.RejectMiss)
			continue
		}
		first := len(out.points)
		for k, hit := range hits {
			p, rej := m.Measure(sw.origin, dir, hit, ray, k+1)
			if rej != lidar.Accepted {
				out.rejections.Add(rej)
				continue
			}
			out.points = append(out.points, p)
		}
		if last := len(out.points) - 1; last >= first {
			highest := out.points[last].ReturnNumber
			for j := first; j <= last; j++ {
				out.points[j].NumReturns = highest
			}
		}
	}

	tracef("chunk %d: rays %d-%d, %d points", idx, lo, hi-1, len(out.points))
	r.reportProgress(sw, hi-lo)
	return nil
}

func (r *Runner) reportProgress(sw *sweep, n int) {
	if r.progress == nil {
		return
	}
	sw.progressMu.Lock()
	defer sw.progressMu.Unlock()
	sw.done += n
	r.progress(sw.done, len(sw.rays))
}
