package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/banshee-data/scansim/internal/config"
	"github.com/banshee-data/scansim/internal/fsutil"
	"github.com/banshee-data/scansim/internal/lidar"
	"github.com/banshee-data/scansim/internal/lidar/export"
	"github.com/banshee-data/scansim/internal/lidar/monitor"
	"github.com/banshee-data/scansim/internal/lidar/scene"
	"github.com/banshee-data/scansim/internal/lidar/storage/sqlite"
	"github.com/banshee-data/scansim/internal/lidar/sweep"
)

type scanFlags struct {
	configPath string
	preset     string
	animate    bool
	reportDir  string
	label      string
	seed       uint64
	workers    int
	formats    []string
	noExport   bool
}

func newScanCmd(g *globalFlags) *cobra.Command {
	f := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a sweep (or animation) over the document's scene and export it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runScan(ctx, cmd, g, f)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "scan document (.json, .yaml)")
	cmd.Flags().StringVar(&f.preset, "preset", "", "sensor preset, overriding the document")
	cmd.Flags().BoolVar(&f.animate, "animate", false, "scan every frame of the animation range")
	cmd.Flags().StringVar(&f.reportDir, "report", "", "write PNG plots and an HTML report under this directory")
	cmd.Flags().StringVar(&f.label, "label", "", "label recorded with the run and used for the report directory")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "noise seed, overriding the document")
	cmd.Flags().IntVar(&f.workers, "workers", runtime.NumCPU(), "parallel ray workers")
	cmd.Flags().StringSliceVar(&f.formats, "format", nil,
		"output formats, overriding the document ("+strings.Join(export.KnownFormats, ", ")+")")
	cmd.Flags().BoolVar(&f.noExport, "no-export", false, "scan without writing point cloud files")
	return cmd
}

func runScan(ctx context.Context, cmd *cobra.Command, g *globalFlags, f *scanFlags) error {
	doc, err := loadDocument(f.configPath)
	if err != nil {
		return err
	}
	cfg, err := settingsFromDocument(doc, f.preset)
	if err != nil {
		return err
	}

	sc, err := scene.FromMap(doc.Scene)
	if err != nil {
		return fmt.Errorf("build scene: %w", err)
	}
	if name := doc.GetScannerObject(); name != "" {
		pp, err := sc.ObjectPose(name)
		if err != nil {
			return fmt.Errorf("scanner object: %w", err)
		}
		cfg.SetPoseProvider(pp)
	}

	s := cfg.Snapshot()
	if f.animate && !s.Animation.Enabled {
		a := s.Animation
		a.Enabled = true
		cfg.SetAnimation(a)
	}
	if len(f.formats) > 0 || f.noExport {
		out := s.Output
		if len(f.formats) > 0 {
			out.Formats = f.formats
		}
		out.Export = !f.noExport
		cfg.SetOutput(out)
	}
	s = cfg.Snapshot()

	seed := doc.GetSeed()
	if cmd.Flags().Changed("seed") {
		seed = f.seed
	}

	runner := sweep.NewRunner(sc,
		sweep.WithExporter(export.NewExporter(fsutil.OSFileSystem{}, g.root)),
		sweep.WithSeed(seed),
		sweep.WithWorkers(f.workers),
	)

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Scanning %s rays per frame (preset %s, %d objects)\n",
		humanize.Comma(int64(s.EstimatedRays())), s.Preset, sc.Len())

	var (
		summary *lidar.ScanResult
		frames  []*lidar.ScanResult
		exports []export.Result
		skipped []int
	)
	if s.Animation.Enabled {
		anim, err := runner.Animate(ctx, s)
		if err != nil {
			return err
		}
		frames = anim.Frames
		summary = anim.Combined
		if summary == nil {
			summary = lidar.Concat(anim.Frames)
		}
		exports = anim.Exports
		skipped = anim.SkippedFrameNumbers()
		for _, sk := range anim.Skipped {
			fmt.Fprintf(w, "skipped frame %d: %v\n", sk.Frame, sk.Err)
		}
	} else {
		report, err := runner.Run(ctx, s)
		if err != nil {
			return err
		}
		summary = report.Result
		exports = report.Exports
	}

	printSummary(w, summary, len(frames))
	printExports(w, exports)

	if f.reportDir != "" {
		if err := writeReport(w, f, s, summary, frames); err != nil {
			return err
		}
	}

	if g.dbPath != "" {
		rec := runRecord(runner.State(), s, summary, exports)
		rec.Label = f.label
		rec.Seed = seed
		if s.Animation.Enabled {
			rec.Animated = true
			rec.FramesScanned = len(frames)
			rec.FramesSkipped = skipped
		}
		if err := recordRun(g.dbPath, rec, s); err != nil {
			return err
		}
		fmt.Fprintf(w, "recorded run %s\n", rec.RunID)
	}

	if failed := export.Failed(exports); len(failed) > 0 {
		return fmt.Errorf("%d of %d exports failed", len(failed), len(exports))
	}
	return nil
}

func printSummary(w io.Writer, res *lidar.ScanResult, frames int) {
	if frames > 0 {
		fmt.Fprintf(w, "Frames: %d\n", frames)
	}
	r := res.Rejections
	fmt.Fprintf(w, "Rays: %s  Points: %s  Elapsed: %s\n",
		humanize.Comma(int64(res.RaysCast)), humanize.Comma(int64(res.Stats.TotalPoints)),
		res.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Rejected: miss %s, range %s, dropout %s, weather %s\n",
		humanize.Comma(int64(r.Miss)), humanize.Comma(int64(r.Range)),
		humanize.Comma(int64(r.Dropout)), humanize.Comma(int64(r.Weather)))
	if res.Stats.TotalPoints > 0 {
		st := res.Stats
		fmt.Fprintf(w, "Distance: %.2f to %.2f m (mean %.2f)  Intensity: mean %.3f  Objects: %d\n",
			st.MinDistance, st.MaxDistance, st.MeanDistance, st.MeanIntensity, st.UniqueObjects)
	}
}

func printExports(w io.Writer, results []export.Result) {
	for _, r := range results {
		switch {
		case r.Unavailable:
			fmt.Fprintf(w, "  %-7s unavailable in this build\n", r.Format)
		case r.Err != nil:
			fmt.Fprintf(w, "  %-7s FAILED: %v\n", r.Format, r.Err)
		default:
			fmt.Fprintf(w, "  %-7s %s (%s)\n", r.Format, r.Path, humanize.Bytes(uint64(r.Bytes)))
		}
	}
}

func writeReport(w io.Writer, f *scanFlags, s lidar.ScanSettings, summary *lidar.ScanResult, frames []*lidar.ScanResult) error {
	dir := monitor.MakeReportDir(f.reportDir, f.label, time.Now())
	files, err := monitor.NewScanPlotter(dir).GeneratePlots("scan", summary, frames)
	if err != nil {
		return fmt.Errorf("generate plots: %w", err)
	}
	title := "LiDAR Scan Report"
	if f.label != "" {
		title += ": " + f.label
	}
	htmlPath := filepath.Join(dir, "report.html")
	if err := monitor.WriteReportFile(htmlPath, monitor.ReportData{
		Title:    title,
		Settings: s,
		Result:   summary,
		Frames:   frames,
	}); err != nil {
		return err
	}
	fmt.Fprintf(w, "report: %s (%d plots)\n", htmlPath, len(files))

	if len(frames) == 0 {
		return nil
	}
	csvPath := filepath.Join(dir, "frames.csv")
	fh, err := os.Create(csvPath)
	if err != nil {
		return err
	}
	defer fh.Close()
	if err := sweep.WriteFrameSummary(fh, frames); err != nil {
		return fmt.Errorf("write frame summary: %w", err)
	}
	return fh.Close()
}

// runRecord summarises a finished sweep for the history database. The
// start time is taken from the runner, not from when the row is written.
func runRecord(state sweep.SweepState, s lidar.ScanSettings, summary *lidar.ScanResult, exports []export.Result) *sqlite.ScanRun {
	rec := sqlite.NewScanRun(s, summary, exports)
	if state.StartedAt != nil {
		rec.StartedAt = *state.StartedAt
	}
	return rec
}

func recordRun(path string, rec *sqlite.ScanRun, s lidar.ScanSettings) error {
	d, err := openStore(path, true)
	if err != nil {
		return err
	}
	defer d.Close()

	settings, err := json.Marshal(config.DocumentFromConfig(s, nil).Scan)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	rec.SettingsJSON = settings
	return sqlite.NewScanRunStore(d.DB).Insert(rec)
}
