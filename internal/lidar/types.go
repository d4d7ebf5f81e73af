package lidar

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultNormal is reported for returns whose surface normal is unknown.
var DefaultNormal = r3.Vec{Z: 1}

// ScanPoint is one measured return.
type ScanPoint struct {
	Position  r3.Vec  // world frame, reflects range noise
	Distance  float64 // metres along the ray, after noise and weather
	Intensity float64 // 0-1
	Normal    r3.Vec

	ObjectName string
	CategoryID string

	// ReturnNumber is 1-based; NumReturns is the highest return number
	// emitted for the same ray.
	ReturnNumber int
	NumReturns   int

	AngleH float64 // degrees, sensor frame
	AngleV float64
}

// Rejection describes why a ray or return produced no point.
type Rejection int

const (
	Accepted Rejection = iota
	RejectMiss
	RejectRange
	RejectDropout
	RejectWeather
)

func (r Rejection) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case RejectMiss:
		return "miss"
	case RejectRange:
		return "range"
	case RejectDropout:
		return "dropout"
	case RejectWeather:
		return "weather"
	default:
		return "unknown"
	}
}

// RejectionCounts tallies per-ray outcomes that did not produce a point.
type RejectionCounts struct {
	Miss    int `json:"miss"`
	Range   int `json:"range"`
	Dropout int `json:"dropout"`
	Weather int `json:"weather"`
}

// Add records one rejection.
func (c *RejectionCounts) Add(r Rejection) {
	switch r {
	case RejectMiss:
		c.Miss++
	case RejectRange:
		c.Range++
	case RejectDropout:
		c.Dropout++
	case RejectWeather:
		c.Weather++
	}
}

// Merge adds the counts from o.
func (c *RejectionCounts) Merge(o RejectionCounts) {
	c.Miss += o.Miss
	c.Range += o.Range
	c.Dropout += o.Dropout
	c.Weather += o.Weather
}

// Total returns the number of rejected rays and returns.
func (c RejectionCounts) Total() int {
	return c.Miss + c.Range + c.Dropout + c.Weather
}

// ScanResult is the output of one sweep, or the concatenation of several
// animation frames.
type ScanResult struct {
	Frame      *int
	Points     []ScanPoint
	Elapsed    time.Duration
	Stats      ScanStats
	RaysCast   int
	Rejections RejectionCounts
}
