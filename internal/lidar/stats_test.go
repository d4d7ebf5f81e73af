package lidar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStats(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ScanStats{}, ComputeStats(nil))

	points := []ScanPoint{
		{Distance: 2, Intensity: 0.5, ObjectName: "Cube"},
		{Distance: 4, Intensity: 0.1, ObjectName: "Cube"},
		{Distance: 9, Intensity: 0.9, ObjectName: "Sphere"},
	}
	got := ComputeStats(points)
	assert.Equal(t, 3, got.TotalPoints)
	assert.Equal(t, 2.0, got.MinDistance)
	assert.Equal(t, 9.0, got.MaxDistance)
	assert.InDelta(t, 5.0, got.MeanDistance, 1e-12)
	assert.Equal(t, 0.1, got.MinIntensity)
	assert.Equal(t, 0.9, got.MaxIntensity)
	assert.InDelta(t, 0.5, got.MeanIntensity, 1e-12)
	assert.Equal(t, 2, got.UniqueObjects)
}

func TestConcat(t *testing.T) {
	t.Parallel()

	f1, f2 := 1, 2
	a := &ScanResult{
		Frame:      &f1,
		Points:     []ScanPoint{{Distance: 1, ObjectName: "a"}},
		Elapsed:    time.Second,
		RaysCast:   10,
		Rejections: RejectionCounts{Miss: 9},
	}
	b := &ScanResult{
		Frame:      &f2,
		Points:     []ScanPoint{{Distance: 3, ObjectName: "b"}, {Distance: 5, ObjectName: "b"}},
		Elapsed:    2 * time.Second,
		RaysCast:   10,
		Rejections: RejectionCounts{Miss: 7, Dropout: 1},
	}

	got := Concat([]*ScanResult{a, nil, b})
	require.Len(t, got.Points, 3)
	assert.Nil(t, got.Frame)
	assert.Equal(t, 3*time.Second, got.Elapsed)
	assert.Equal(t, 20, got.RaysCast)
	assert.Equal(t, RejectionCounts{Miss: 16, Dropout: 1}, got.Rejections)
	assert.Equal(t, 17, got.Rejections.Total())
	assert.InDelta(t, 3.0, got.Stats.MeanDistance, 1e-12)
	assert.Equal(t, 2, got.Stats.UniqueObjects)
}

func TestRejectionCounts_Add(t *testing.T) {
	t.Parallel()

	var c RejectionCounts
	for _, r := range []Rejection{Accepted, RejectMiss, RejectRange, RejectRange, RejectDropout, RejectWeather} {
		c.Add(r)
	}
	assert.Equal(t, RejectionCounts{Miss: 1, Range: 2, Dropout: 1, Weather: 1}, c)
	assert.Equal(t, "weather", RejectWeather.String())
}
