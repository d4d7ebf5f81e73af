package monitor

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/scansim/internal/lidar"
)

const defaultReportMaxPoints = 8000

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// ReportData is the input to an HTML scan report.
type ReportData struct {
	Title    string
	Settings lidar.ScanSettings

	// Result is the single sweep, or the combined cloud of an animation.
	Result *lidar.ScanResult
	Frames []*lidar.ScanResult

	// MaxPoints caps the scatter payload; points are strided above it.
	MaxPoints int
	// AssetsHost overrides where the echarts script is loaded from.
	AssetsHost string
}

// WriteReportFile renders the report to path, creating parent directories.
func WriteReportFile(path string, d ReportData) error {
	var buf bytes.Buffer
	if err := WriteReport(&buf, d); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create report dir: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	diagf("wrote report %s (%d bytes)", path, buf.Len())
	return nil
}

// WriteReport renders a page with a top-down scatter, rejection counts,
// points per object and, for animations, points per frame.
func WriteReport(w io.Writer, d ReportData) error {
	if d.Result == nil {
		return fmt.Errorf("nil scan result")
	}
	if d.Title == "" {
		d.Title = "LiDAR Scan Report"
	}

	page := components.NewPage()
	page.PageTitle = d.Title
	if d.AssetsHost != "" {
		page.SetAssetsHost(d.AssetsHost)
	}
	page.AddCharts(
		topDownChart(d),
		rejectionChart(d),
		objectChart(d),
	)
	if len(d.Frames) > 1 {
		page.AddCharts(frameChart(d))
	}

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

func initOpts(d ReportData, height string) opts.Initialization {
	return opts.Initialization{Width: "900px", Height: height, AssetsHost: d.AssetsHost}
}

func topDownChart(d ReportData) *charts.Scatter {
	points := d.Result.Points
	maxPoints := d.MaxPoints
	if maxPoints <= 0 {
		maxPoints = defaultReportMaxPoints
	}
	stride := 1
	if len(points) > maxPoints {
		stride = int(math.Ceil(float64(len(points)) / float64(maxPoints)))
	}

	data := make([]opts.ScatterData, 0, len(points)/stride+1)
	maxAbs := 0.0
	for i := 0; i < len(points); i += stride {
		p := points[i]
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(p.Position.X), math.Abs(p.Position.Y)))
		data = append(data, opts.ScatterData{Value: []interface{}{p.Position.X, p.Position.Y, p.Distance}})
	}

	// Pad so points at the edges are visible.
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	maxDist := d.Result.Stats.MaxDistance
	if maxDist == 0 {
		maxDist = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "900px", Height: "900px", AssetsHost: d.AssetsHost}),
		charts.WithTitleOpts(opts.Title{
			Title:    d.Title,
			Subtitle: fmt.Sprintf("preset=%s points=%d stride=%d", d.Settings.Preset, len(points), stride),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxDist),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries("points", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	return scatter
}

func rejectionChart(d ReportData) *charts.Bar {
	r := d.Result.Rejections
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(d, "400px")),
		charts.WithTitleOpts(opts.Title{Title: "Ray outcomes", Subtitle: fmt.Sprintf("rays=%d", d.Result.RaysCast)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis([]string{"points", "miss", "range", "dropout", "weather"}).
		AddSeries("count", []opts.BarData{
			{Value: len(d.Result.Points)},
			{Value: r.Miss},
			{Value: r.Range},
			{Value: r.Dropout},
			{Value: r.Weather},
		}, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))
	return bar
}

func objectChart(d ReportData) *charts.Bar {
	counts := make(map[string]int)
	for _, p := range d.Result.Points {
		name := p.ObjectName
		if name == "" {
			name = unlabelledObject
		}
		counts[name]++
	}
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	data := make([]opts.BarData, len(names))
	for i, n := range names {
		data[i] = opts.BarData{Value: counts[n]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(d, "400px")),
		charts.WithTitleOpts(opts.Title{Title: "Points per object", Subtitle: fmt.Sprintf("objects=%d", d.Result.Stats.UniqueObjects)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).AddSeries("points", data)
	return bar
}

func frameChart(d ReportData) *charts.Line {
	x := make([]string, 0, len(d.Frames))
	pts := make([]opts.LineData, 0, len(d.Frames))
	miss := make([]opts.LineData, 0, len(d.Frames))
	for i, f := range d.Frames {
		if f == nil {
			continue
		}
		label := strconv.Itoa(i)
		if f.Frame != nil {
			label = strconv.Itoa(*f.Frame)
		}
		x = append(x, label)
		pts = append(pts, opts.LineData{Value: len(f.Points)})
		miss = append(miss, opts.LineData{Value: f.Rejections.Miss})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(d, "400px")),
		charts.WithTitleOpts(opts.Title{Title: "Points per frame", Subtitle: fmt.Sprintf("frames=%d", len(x))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x).
		AddSeries("points", pts).
		AddSeries("misses", miss)
	return line
}
