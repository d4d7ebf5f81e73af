package lidar

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// SphericalToCartesian converts distance (meters), azimuth (degrees) and
// elevation (degrees) into Cartesian sensor-frame coordinates.
// Coordinate convention: X=right, Y=forward, Z=up.
func SphericalToCartesian(distance, azimuthDeg, elevationDeg float64) (x, y, z float64) {
	azimuthRad := azimuthDeg * math.Pi / 180.0
	elevationRad := elevationDeg * math.Pi / 180.0

	cosElevation := math.Cos(elevationRad)
	sinElevation := math.Sin(elevationRad)
	cosAzimuth := math.Cos(azimuthRad)
	sinAzimuth := math.Sin(azimuthRad)

	x = distance * cosElevation * sinAzimuth
	y = distance * cosElevation * cosAzimuth
	z = distance * sinElevation
	return
}

// DirectionFromAngles returns the unit sensor-frame direction for a ray at
// the given azimuth and elevation.
func DirectionFromAngles(azimuthDeg, elevationDeg float64) r3.Vec {
	x, y, z := SphericalToCartesian(1, azimuthDeg, elevationDeg)
	return r3.Vec{X: x, Y: y, Z: z}
}

// ApplyPose applies a 4x4 row-major transform T to point (x,y,z).
// T is expected as [16]float64 row-major: m00,m01,m02,m03, m10,...
func ApplyPose(x, y, z float64, T [16]float64) (wx, wy, wz float64) {
	wx = T[0]*x + T[1]*y + T[2]*z + T[3]
	wy = T[4]*x + T[5]*y + T[6]*z + T[7]
	wz = T[8]*x + T[9]*y + T[10]*z + T[11]
	return
}

// RotateByPose applies only the 3x3 rotation block of T, for directions.
func RotateByPose(x, y, z float64, T [16]float64) (wx, wy, wz float64) {
	wx = T[0]*x + T[1]*y + T[2]*z
	wy = T[4]*x + T[5]*y + T[6]*z
	wz = T[8]*x + T[9]*y + T[10]*z
	return
}

func degToRad(d float64) float64 { return d * math.Pi / 180.0 }
