package monitor

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/scansim/internal/lidar"
)

// ErrNoPoints is returned when a plot needs at least one point.
var ErrNoPoints = errors.New("no points to plot")

const (
	defaultHistogramBins = 40
	unlabelledObject     = "(unlabelled)"
)

// ScanPlotter renders PNG views of scan results into a directory.
type ScanPlotter struct {
	outputDir string

	Width         vg.Length
	Height        vg.Length
	HistogramBins int
}

// NewScanPlotter creates a plotter that writes into outputDir.
func NewScanPlotter(outputDir string) *ScanPlotter {
	return &ScanPlotter{
		outputDir:     outputDir,
		Width:         8 * vg.Inch,
		Height:        8 * vg.Inch,
		HistogramBins: defaultHistogramBins,
	}
}

// OutputDir returns the directory plots are written to.
func (sp *ScanPlotter) OutputDir() string {
	return sp.outputDir
}

// GeneratePlots writes the top-down scatter and range histogram for res,
// plus a per-frame series when frames holds more than one result. It
// returns the written file paths.
func (sp *ScanPlotter) GeneratePlots(prefix string, res *lidar.ScanResult, frames []*lidar.ScanResult) ([]string, error) {
	if res == nil {
		return nil, fmt.Errorf("nil scan result")
	}
	if err := os.MkdirAll(sp.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	var files []string
	path, err := sp.PlotTopDown(prefix+"_topdown.png", res.Points)
	if err != nil {
		return files, err
	}
	files = append(files, path)

	path, err = sp.PlotRangeHistogram(prefix+"_range_hist.png", res.Points)
	switch {
	case errors.Is(err, ErrNoPoints):
		opsf("skipping range histogram for %s: no points", prefix)
	case err != nil:
		return files, err
	default:
		files = append(files, path)
	}

	if len(frames) > 1 {
		path, err = sp.PlotFrameSeries(prefix+"_frames.png", frames)
		if err != nil {
			return files, err
		}
		files = append(files, path)
	}
	return files, nil
}

// PlotTopDown draws an X/Y scatter of points coloured by object, with
// symmetric axes so distances read true.
func (sp *ScanPlotter) PlotTopDown(name string, points []lidar.ScanPoint) (string, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Top-down view (%d points)", len(points))
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	byObject := make(map[string]plotter.XYs)
	maxAbs := 0.0
	for _, pt := range points {
		key := pt.ObjectName
		if key == "" {
			key = unlabelledObject
		}
		byObject[key] = append(byObject[key], plotter.XY{X: pt.Position.X, Y: pt.Position.Y})
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(pt.Position.X), math.Abs(pt.Position.Y)))
	}

	names := make([]string, 0, len(byObject))
	for n := range byObject {
		names = append(names, n)
	}
	sort.Strings(names)

	colors := generateColors(len(names))
	for i, n := range names {
		s, err := plotter.NewScatter(byObject[n])
		if err != nil {
			return "", fmt.Errorf("scatter %s: %w", n, err)
		}
		s.GlyphStyle.Color = colors[i]
		s.GlyphStyle.Radius = vg.Points(1)
		p.Add(s)
		p.Legend.Add(n, s)
	}

	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1
	}
	p.X.Min, p.X.Max = -pad, pad
	p.Y.Min, p.Y.Max = -pad, pad
	p.Legend.Top = true

	return sp.save(p, name, sp.Width, sp.Height)
}

// PlotRangeHistogram draws the distribution of point distances.
func (sp *ScanPlotter) PlotRangeHistogram(name string, points []lidar.ScanPoint) (string, error) {
	if len(points) == 0 {
		return "", ErrNoPoints
	}

	values := make(plotter.Values, len(points))
	for i, pt := range points {
		values[i] = pt.Distance
	}

	bins := sp.HistogramBins
	if bins <= 0 {
		bins = defaultHistogramBins
	}
	h, err := plotter.NewHist(values, bins)
	if err != nil {
		return "", fmt.Errorf("histogram: %w", err)
	}
	h.FillColor = color.RGBA{R: 49, G: 104, B: 142, A: 255}

	p := plot.New()
	p.Title.Text = "Range distribution"
	p.X.Label.Text = "Distance (m)"
	p.Y.Label.Text = "Points"
	p.Add(h)

	return sp.save(p, name, sp.Width, sp.Height/2)
}

// PlotFrameSeries draws point and rejection counts per animation frame.
func (sp *ScanPlotter) PlotFrameSeries(name string, frames []*lidar.ScanResult) (string, error) {
	p := plot.New()
	p.Title.Text = "Points per frame"
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Count"

	pointsXY := make(plotter.XYs, 0, len(frames))
	missXY := make(plotter.XYs, 0, len(frames))
	for i, f := range frames {
		if f == nil {
			continue
		}
		x := float64(i)
		if f.Frame != nil {
			x = float64(*f.Frame)
		}
		pointsXY = append(pointsXY, plotter.XY{X: x, Y: float64(len(f.Points))})
		missXY = append(missXY, plotter.XY{X: x, Y: float64(f.Rejections.Miss)})
	}
	if len(pointsXY) == 0 {
		return "", ErrNoPoints
	}

	colors := generateColors(2)
	for i, series := range []struct {
		label string
		xy    plotter.XYs
	}{{"points", pointsXY}, {"misses", missXY}} {
		line, err := plotter.NewLine(series.xy)
		if err != nil {
			return "", err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(series.label, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false

	return sp.save(p, name, 14*vg.Inch, 6*vg.Inch)
}

func (sp *ScanPlotter) save(p *plot.Plot, name string, w, h vg.Length) (string, error) {
	path := filepath.Join(sp.outputDir, name)
	if err := p.Save(w, h, path); err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}
	tracef("wrote %s", path)
	return path, nil
}

// generateColors creates a palette of distinct colors
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakeReportDir returns baseDir/<label>/<timestamp>, or
// baseDir/scan_<timestamp> when label is empty.
func MakeReportDir(baseDir, label string, now time.Time) string {
	ts := FormatTimestamp(now)
	if label != "" {
		return filepath.Join(baseDir, label, ts)
	}
	return filepath.Join(baseDir, "scan_"+ts)
}
