package lidar

import "gonum.org/v1/gonum/spatial/r3"

// Hit is one geometric intersection reported by the scene.
type Hit struct {
	Position r3.Vec
	Normal   r3.Vec
	// HasNormal is false when the scene cannot report a surface normal.
	HasNormal bool

	ObjectName string
	Category   string

	// Reflectance in [0,1], usually the luma of the surface colour.
	Reflectance    float64
	HasReflectance bool
}

// Intersector casts world-space rays against scene geometry. Only the
// nearest hit along the ray is reported.
type Intersector interface {
	Cast(origin, dir r3.Vec) (Hit, bool)
}

// MultiHitIntersector is implemented by scenes that can enumerate further
// hits along the same ray, nearest first. It enables multi-return scans.
type MultiHitIntersector interface {
	Intersector
	CastAll(origin, dir r3.Vec, max int) []Hit
}

// ConcurrencyReporter is implemented by scenes that can be cast against
// from several goroutines at once. Scenes that do not implement it are
// treated as single-threaded.
type ConcurrencyReporter interface {
	ConcurrentSafe() bool
}

// PoseProvider resolves the scanner's world pose, for example from the
// transform of a tracked scene object.
type PoseProvider interface {
	ScannerPose() (Pose, error)
}

// FrameController advances and restores the scene's current frame for
// animation sweeps.
type FrameController interface {
	CurrentFrame() int
	SetFrame(frame int) error
}

// IsConcurrentSafe reports whether s declares itself safe for parallel casts.
func IsConcurrentSafe(s Intersector) bool {
	if r, ok := s.(ConcurrencyReporter); ok {
		return r.ConcurrentSafe()
	}
	return false
}
