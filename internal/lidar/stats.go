package lidar

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ScanStats summarises a point list.
type ScanStats struct {
	TotalPoints   int     `json:"total_points"`
	MinDistance   float64 `json:"min_distance"`
	MaxDistance   float64 `json:"max_distance"`
	MeanDistance  float64 `json:"mean_distance"`
	MinIntensity  float64 `json:"min_intensity"`
	MaxIntensity  float64 `json:"max_intensity"`
	MeanIntensity float64 `json:"mean_intensity"`
	UniqueObjects int     `json:"unique_objects"`
}

// ComputeStats derives summary statistics. An empty list yields zero values.
func ComputeStats(points []ScanPoint) ScanStats {
	if len(points) == 0 {
		return ScanStats{}
	}

	distances := make([]float64, len(points))
	intensities := make([]float64, len(points))
	objects := make(map[string]struct{})
	for i, p := range points {
		distances[i] = p.Distance
		intensities[i] = p.Intensity
		objects[p.ObjectName] = struct{}{}
	}

	return ScanStats{
		TotalPoints:   len(points),
		MinDistance:   floats.Min(distances),
		MaxDistance:   floats.Max(distances),
		MeanDistance:  stat.Mean(distances, nil),
		MinIntensity:  floats.Min(intensities),
		MaxIntensity:  floats.Max(intensities),
		MeanIntensity: stat.Mean(intensities, nil),
		UniqueObjects: len(objects),
	}
}

// Concat joins several frame results into one, recomputing statistics.
// The combined result carries no frame number.
func Concat(results []*ScanResult) *ScanResult {
	out := &ScanResult{}
	var elapsed time.Duration
	n := 0
	for _, r := range results {
		if r != nil {
			n += len(r.Points)
		}
	}
	out.Points = make([]ScanPoint, 0, n)
	for _, r := range results {
		if r == nil {
			continue
		}
		out.Points = append(out.Points, r.Points...)
		out.RaysCast += r.RaysCast
		out.Rejections.Merge(r.Rejections)
		elapsed += r.Elapsed
	}
	out.Elapsed = elapsed
	out.Stats = ComputeStats(out.Points)
	return out
}
