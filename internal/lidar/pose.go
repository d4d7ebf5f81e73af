package lidar

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// MatrixValidationTolerance is the tolerance for checking rotation matrix validity.
const MatrixValidationTolerance = 0.01

// ErrInvalidPose is returned when a scanner pose is not a proper rigid transform.
var ErrInvalidPose = errors.New("invalid scanner pose")

// Pose is a sensor-to-world rigid transform stored row-major.
type Pose struct {
	T [16]float64
}

// IdentityPose returns a pose at the world origin with no rotation.
func IdentityPose() Pose {
	return Pose{T: [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}}
}

// PoseFromEuler builds a pose from a translation and an XYZ Euler rotation
// in degrees. The X rotation is applied first, then Y, then Z.
func PoseFromEuler(origin, rotationDeg r3.Vec) Pose {
	rot := eulerXYZ(degToRad(rotationDeg.X), degToRad(rotationDeg.Y), degToRad(rotationDeg.Z))
	ex := rot(r3.Vec{X: 1})
	ey := rot(r3.Vec{Y: 1})
	ez := rot(r3.Vec{Z: 1})
	return Pose{T: [16]float64{
		ex.X, ey.X, ez.X, origin.X,
		ex.Y, ey.Y, ez.Y, origin.Y,
		ex.Z, ey.Z, ez.Z, origin.Z,
		0, 0, 0, 1,
	}}
}

// eulerXYZ returns a function rotating a vector by X, then Y, then Z (radians).
func eulerXYZ(rx, ry, rz float64) func(r3.Vec) r3.Vec {
	qx := r3.NewRotation(rx, r3.Vec{X: 1})
	qy := r3.NewRotation(ry, r3.Vec{Y: 1})
	qz := r3.NewRotation(rz, r3.Vec{Z: 1})
	return func(v r3.Vec) r3.Vec {
		return qz.Rotate(qy.Rotate(qx.Rotate(v)))
	}
}

// Origin returns the translation component.
func (p Pose) Origin() r3.Vec {
	return r3.Vec{X: p.T[3], Y: p.T[7], Z: p.T[11]}
}

// Apply transforms a sensor-frame point into the world frame.
func (p Pose) Apply(v r3.Vec) r3.Vec {
	x, y, z := ApplyPose(v.X, v.Y, v.Z, p.T)
	return r3.Vec{X: x, Y: y, Z: z}
}

// Direction rotates a sensor-frame direction into the world frame and
// renormalises it.
func (p Pose) Direction(v r3.Vec) r3.Vec {
	x, y, z := RotateByPose(v.X, v.Y, v.Z, p.T)
	return r3.Unit(r3.Vec{X: x, Y: y, Z: z})
}

// ValidatePose reports whether p can be used to place the scanner.
func ValidatePose(p Pose) error {
	for _, v := range p.T {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite matrix element", ErrInvalidPose)
		}
	}
	if !IsValidTransformMatrix(p.T) {
		return fmt.Errorf("%w: not a proper rigid transform", ErrInvalidPose)
	}
	return nil
}

// IsValidTransformMatrix checks if a 4x4 matrix is a valid rigid transform.
// A valid rigid transform has:
// 1. Orthonormal rotation submatrix (det ≈ 1)
// 2. Last row is [0 0 0 1]
func IsValidTransformMatrix(T [16]float64) bool {
	r00, r01, r02 := T[0], T[1], T[2]
	r10, r11, r12 := T[4], T[5], T[6]
	r20, r21, r22 := T[8], T[9], T[10]

	// det ≈ 1 rules out reflections and scaled matrices
	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}

	if T[12] != 0 || T[13] != 0 || T[14] != 0 || math.Abs(T[15]-1.0) > 0.001 {
		return false
	}

	return true
}
