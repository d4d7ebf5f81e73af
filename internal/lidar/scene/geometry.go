package scene

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scansim/internal/lidar"
)

// hitEpsilon rejects self-intersections at the ray origin.
const hitEpsilon = 1e-9

// placement maps between world space and an object's unit-primitive space.
type placement struct {
	pose  lidar.Pose
	scale r3.Vec
}

func placementOf(o *Object, frame int) placement {
	return placement{
		pose:  lidar.PoseFromEuler(o.LocationAt(frame), o.RotationDeg),
		scale: o.Scale,
	}
}

// rotateInverse applies the transpose of the pose rotation.
func (pl placement) rotateInverse(v r3.Vec) r3.Vec {
	T := &pl.pose.T
	return r3.Vec{
		X: T[0]*v.X + T[4]*v.Y + T[8]*v.Z,
		Y: T[1]*v.X + T[5]*v.Y + T[9]*v.Z,
		Z: T[2]*v.X + T[6]*v.Y + T[10]*v.Z,
	}
}

func (pl placement) unscale(v r3.Vec) r3.Vec {
	return r3.Vec{X: v.X / pl.scale.X, Y: v.Y / pl.scale.Y, Z: v.Z / pl.scale.Z}
}

func (pl placement) pointToLocal(p r3.Vec) r3.Vec {
	return pl.unscale(pl.rotateInverse(r3.Sub(p, pl.pose.Origin())))
}

// dirToLocal keeps the ray parameter in world metres: a local hit at t is
// the world point origin + t*dir.
func (pl placement) dirToLocal(d r3.Vec) r3.Vec {
	return pl.unscale(pl.rotateInverse(d))
}

// normalToWorld uses the inverse transpose of R*S, which is R*S^-1.
func (pl placement) normalToWorld(n r3.Vec) r3.Vec {
	u := pl.unscale(n)
	if r3.Norm(u) == 0 {
		return lidar.DefaultNormal
	}
	return pl.pose.Direction(u)
}

// intersect returns the nearest positive ray parameter and local normal.
func intersect(k Kind, o, d r3.Vec) (float64, r3.Vec, bool) {
	switch k {
	case Cube:
		return intersectBox(o, d)
	case Sphere:
		return intersectSphere(o, d)
	case Cylinder:
		return intersectCylinder(o, d)
	case Plane:
		return intersectPlane(o, d)
	}
	return 0, r3.Vec{}, false
}

func component(v r3.Vec, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	}
	return v.Z
}

func axisNormal(axis int, sign float64) r3.Vec {
	switch axis {
	case 0:
		return r3.Vec{X: sign}
	case 1:
		return r3.Vec{Y: sign}
	}
	return r3.Vec{Z: sign}
}

// intersectBox is a slab test against [-1,1]^3. A ray starting inside the
// box reports its exit face.
func intersectBox(o, d r3.Vec) (float64, r3.Vec, bool) {
	tNear, tFar := math.Inf(-1), math.Inf(1)
	var nearN, farN r3.Vec
	for axis := 0; axis < 3; axis++ {
		oc, dc := component(o, axis), component(d, axis)
		if math.Abs(dc) < 1e-15 {
			if oc < -1 || oc > 1 {
				return 0, r3.Vec{}, false
			}
			continue
		}
		t1, t2 := (-1-oc)/dc, (1-oc)/dc
		n1, n2 := axisNormal(axis, -1), axisNormal(axis, 1)
		if t1 > t2 {
			t1, t2 = t2, t1
			n1, n2 = n2, n1
		}
		if t1 > tNear {
			tNear, nearN = t1, n1
		}
		if t2 < tFar {
			tFar, farN = t2, n2
		}
		if tNear > tFar {
			return 0, r3.Vec{}, false
		}
	}
	switch {
	case tNear > hitEpsilon:
		return tNear, nearN, true
	case tFar > hitEpsilon:
		return tFar, farN, true
	}
	return 0, r3.Vec{}, false
}

func intersectSphere(o, d r3.Vec) (float64, r3.Vec, bool) {
	a := r3.Dot(d, d)
	b := 2 * r3.Dot(o, d)
	c := r3.Dot(o, o) - 1
	disc := b*b - 4*a*c
	if a == 0 || disc < 0 {
		return 0, r3.Vec{}, false
	}
	sq := math.Sqrt(disc)
	for _, t := range [2]float64{(-b - sq) / (2 * a), (-b + sq) / (2 * a)} {
		if t > hitEpsilon {
			return t, r3.Add(o, r3.Scale(t, d)), true
		}
	}
	return 0, r3.Vec{}, false
}

// intersectCylinder tests the side x^2+y^2=1 for |z|<=1 and both caps.
func intersectCylinder(o, d r3.Vec) (float64, r3.Vec, bool) {
	best := math.Inf(1)
	var bestN r3.Vec
	consider := func(t float64, n r3.Vec) {
		if t > hitEpsilon && t < best {
			best, bestN = t, n
		}
	}

	a := d.X*d.X + d.Y*d.Y
	if a > 0 {
		b := 2 * (o.X*d.X + o.Y*d.Y)
		c := o.X*o.X + o.Y*o.Y - 1
		if disc := b*b - 4*a*c; disc >= 0 {
			sq := math.Sqrt(disc)
			for _, t := range [2]float64{(-b - sq) / (2 * a), (-b + sq) / (2 * a)} {
				p := r3.Add(o, r3.Scale(t, d))
				if p.Z >= -1 && p.Z <= 1 {
					consider(t, r3.Vec{X: p.X, Y: p.Y})
				}
			}
		}
	}
	if math.Abs(d.Z) > 1e-15 {
		for _, z := range [2]float64{-1, 1} {
			t := (z - o.Z) / d.Z
			p := r3.Add(o, r3.Scale(t, d))
			if p.X*p.X+p.Y*p.Y <= 1 {
				consider(t, r3.Vec{Z: z})
			}
		}
	}
	if math.IsInf(best, 1) {
		return 0, r3.Vec{}, false
	}
	return best, bestN, true
}

// intersectPlane tests the square |x|,|y|<=1 at z=0, normal +Z.
func intersectPlane(o, d r3.Vec) (float64, r3.Vec, bool) {
	if math.Abs(d.Z) < 1e-15 {
		return 0, r3.Vec{}, false
	}
	t := -o.Z / d.Z
	if t <= hitEpsilon {
		return 0, r3.Vec{}, false
	}
	p := r3.Add(o, r3.Scale(t, d))
	if math.Abs(p.X) > 1 || math.Abs(p.Y) > 1 {
		return 0, r3.Vec{}, false
	}
	return t, r3.Vec{Z: 1}, true
}
