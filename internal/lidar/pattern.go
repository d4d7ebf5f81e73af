package lidar

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// boundaryTolerance snaps a computed angle onto +FOV/2 when accumulated
// floating-point error leaves it a hair away.
const boundaryTolerance = 1e-9

// RaySample is one ray of the sweep pattern in the sensor frame.
type RaySample struct {
	Index     int
	AngleH    float64 // degrees, azimuth
	AngleV    float64 // degrees, elevation
	Direction r3.Vec  // unit length
}

// PatternSize returns the number of rays GeneratePattern would produce.
func PatternSize(fovH, fovV, resH, resV float64) int {
	return (axisSteps(fovH, resH) + 1) * (axisSteps(fovV, resV) + 1)
}

// GeneratePattern returns the regular angular grid for one sweep. Angles
// run from -FOV/2 to +FOV/2 inclusive; rows (vertical) are the outer loop
// and columns (horizontal) the inner loop, so the result is row-major.
// Non-positive or NaN resolution is treated as MinResolution.
func GeneratePattern(fovH, fovV, resH, resV float64) []RaySample {
	hAngles := axisAngles(fovH, resH)
	vAngles := axisAngles(fovV, resV)

	out := make([]RaySample, 0, len(hAngles)*len(vAngles))
	for _, v := range vAngles {
		for _, h := range hAngles {
			out = append(out, RaySample{
				Index:     len(out),
				AngleH:    h,
				AngleV:    v,
				Direction: DirectionFromAngles(h, v),
			})
		}
	}
	tracef("pattern %gx%g deg at %gx%g: %d rays", fovH, fovV, resH, resV, len(out))
	return out
}

func axisAngles(fov, res float64) []float64 {
	if math.IsNaN(res) || res < MinResolution {
		res = MinResolution
	}
	if math.IsNaN(fov) || fov < 0 {
		fov = 0
	}
	steps := axisSteps(fov, res)
	start, end := -fov/2, fov/2

	angles := make([]float64, steps+1)
	for i := range angles {
		a := start + float64(i)*res
		if math.Abs(a-end) < boundaryTolerance {
			a = end
		}
		angles[i] = a
	}
	return angles
}
