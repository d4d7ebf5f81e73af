package sweep

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/scansim/internal/lidar"
)

var frameSummaryHeader = []string{
	"frame", "points", "rays_cast",
	"rejected_miss", "rejected_range", "rejected_dropout", "rejected_weather",
	"min_distance", "max_distance", "mean_distance",
	"min_intensity", "max_intensity", "mean_intensity",
	"unique_objects", "elapsed_ms",
}

// WriteFrameSummary writes one CSV row per scan result. Results without
// a frame number leave the frame column empty.
func WriteFrameSummary(w io.Writer, results []*lidar.ScanResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(frameSummaryHeader); err != nil {
		return err
	}
	for _, r := range results {
		if r == nil {
			continue
		}
		if err := cw.Write(frameSummaryRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func frameSummaryRow(r *lidar.ScanResult) []string {
	frame := ""
	if r.Frame != nil {
		frame = strconv.Itoa(*r.Frame)
	}
	st := r.Stats
	return []string{
		frame,
		strconv.Itoa(len(r.Points)),
		strconv.Itoa(r.RaysCast),
		strconv.Itoa(r.Rejections.Miss),
		strconv.Itoa(r.Rejections.Range),
		strconv.Itoa(r.Rejections.Dropout),
		strconv.Itoa(r.Rejections.Weather),
		fmt.Sprintf("%.4f", st.MinDistance),
		fmt.Sprintf("%.4f", st.MaxDistance),
		fmt.Sprintf("%.4f", st.MeanDistance),
		fmt.Sprintf("%.4f", st.MinIntensity),
		fmt.Sprintf("%.4f", st.MaxIntensity),
		fmt.Sprintf("%.4f", st.MeanIntensity),
		strconv.Itoa(st.UniqueObjects),
		strconv.FormatInt(r.Elapsed.Milliseconds(), 10),
	}
}
