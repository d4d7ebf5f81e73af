package sweep

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scansim/internal/lidar"
)

func TestWriteFrameSummary(t *testing.T) {
	t.Parallel()

	frame := 3
	results := []*lidar.ScanResult{
		{
			Frame:      &frame,
			Points:     make([]lidar.ScanPoint, 2),
			RaysCast:   5,
			Rejections: lidar.RejectionCounts{Miss: 1, Range: 1, Weather: 1},
			Elapsed:    1500 * time.Millisecond,
			Stats: lidar.ScanStats{
				TotalPoints:   2,
				MinDistance:   1.5,
				MaxDistance:   2.25,
				MeanDistance:  1.875,
				MinIntensity:  0.1,
				MaxIntensity:  0.9,
				MeanIntensity: 0.5,
				UniqueObjects: 2,
			},
		},
		nil,
		{RaysCast: 4, Rejections: lidar.RejectionCounts{Miss: 4}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFrameSummary(&buf, results))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, frameSummaryHeader, rows[0])
	assert.Equal(t, []string{
		"3", "2", "5", "1", "1", "0", "1",
		"1.5000", "2.2500", "1.8750", "0.1000", "0.9000", "0.5000",
		"2", "1500",
	}, rows[1])
	assert.Equal(t, "", rows[2][0], "combined results carry no frame")
	assert.Equal(t, "4", rows[2][3])
}
