// Package scene provides an analytic geometry service for scan simulation:
// unit primitives placed by location, XYZ Euler rotation and scale, with
// optional per-frame location keyframes. It implements the lidar
// intersection, multi-hit, frame and pose interfaces.
package scene

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scansim/internal/lidar"
)

var (
	// ErrUnsupportedObject is returned for object types the scene cannot model.
	ErrUnsupportedObject = errors.New("unsupported scene object")
	// ErrUnknownObject is returned when a named object does not exist.
	ErrUnknownObject = errors.New("unknown scene object")
	// ErrFrameOutOfRange is returned by SetFrame outside the scene's frame bounds.
	ErrFrameOutOfRange = errors.New("frame out of range")
)

// Kind is a primitive shape. All primitives match the default unit meshes
// of common 3D tools: a 2 m cube, a 1 m radius sphere, a 1 m radius
// cylinder 2 m tall, and a 2 m square plane in local XY.
type Kind string

const (
	Cube     Kind = "cube"
	Sphere   Kind = "sphere"
	Cylinder Kind = "cylinder"
	Plane    Kind = "plane"
)

func (k Kind) valid() bool {
	switch k {
	case Cube, Sphere, Cylinder, Plane:
		return true
	}
	return false
}

// Keyframe pins an object's location at a frame. Locations between
// keyframes are interpolated linearly and held constant outside them.
type Keyframe struct {
	Frame    int
	Location r3.Vec
}

// Object is one primitive in the scene.
type Object struct {
	Name        string
	Kind        Kind
	Location    r3.Vec
	RotationDeg r3.Vec
	Scale       r3.Vec

	// Color is linear RGB in [0,1]; reflectance is its luma.
	Color    [3]float64
	HasColor bool

	Category  string
	Keyframes []Keyframe
}

// Reflectance returns the luma of the object's colour.
func (o Object) Reflectance() (float64, bool) {
	if !o.HasColor {
		return 0, false
	}
	return 0.299*o.Color[0] + 0.587*o.Color[1] + 0.114*o.Color[2], true
}

// LocationAt returns the object's location at frame.
func (o Object) LocationAt(frame int) r3.Vec {
	kf := o.Keyframes
	if len(kf) == 0 {
		return o.Location
	}
	if frame <= kf[0].Frame {
		return kf[0].Location
	}
	for i := 1; i < len(kf); i++ {
		if frame <= kf[i].Frame {
			a, b := kf[i-1], kf[i]
			f := float64(frame-a.Frame) / float64(b.Frame-a.Frame)
			return r3.Add(a.Location, r3.Scale(f, r3.Sub(b.Location, a.Location)))
		}
	}
	return kf[len(kf)-1].Location
}

// Scene is a set of objects and a current frame. It is safe for
// concurrent casts; SetFrame takes an exclusive lock.
type Scene struct {
	mu       sync.RWMutex
	objects  []Object
	frame    int
	bounded  bool
	minFrame int
	maxFrame int
}

// New returns a scene at frame 1 holding the given objects.
func New(objects ...Object) (*Scene, error) {
	s := &Scene{frame: 1}
	for _, o := range objects {
		if err := s.Add(o); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add inserts an object. A zero scale component is replaced by 1.
func (s *Scene) Add(o Object) error {
	if !o.Kind.valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedObject, o.Kind)
	}
	if o.Scale.X == 0 {
		o.Scale.X = 1
	}
	if o.Scale.Y == 0 {
		o.Scale.Y = 1
	}
	if o.Scale.Z == 0 {
		o.Scale.Z = 1
	}
	kf := append([]Keyframe(nil), o.Keyframes...)
	sort.SliceStable(kf, func(i, j int) bool { return kf[i].Frame < kf[j].Frame })
	o.Keyframes = kf

	s.mu.Lock()
	defer s.mu.Unlock()
	if o.Name == "" {
		o.Name = s.uniqueName(o.Kind)
	}
	s.objects = append(s.objects, o)
	return nil
}

// uniqueName follows the "Cube", "Cube.001" convention. Caller holds mu.
func (s *Scene) uniqueName(k Kind) string {
	base := string(k)
	if base != "" {
		base = string(base[0]-'a'+'A') + base[1:]
	}
	taken := make(map[string]bool, len(s.objects))
	for _, o := range s.objects {
		taken[o.Name] = true
	}
	if !taken[base] {
		return base
	}
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s.%03d", base, i)
		if !taken[name] {
			return name
		}
	}
}

// Objects returns a copy of the scene's objects.
func (s *Scene) Objects() []Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Object(nil), s.objects...)
}

// Len returns the number of objects.
func (s *Scene) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// SetFrameBounds restricts SetFrame to [minFrame, maxFrame].
func (s *Scene) SetFrameBounds(minFrame, maxFrame int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bounded = true
	s.minFrame, s.maxFrame = minFrame, maxFrame
}

// CurrentFrame implements lidar.FrameController.
func (s *Scene) CurrentFrame() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame
}

// SetFrame implements lidar.FrameController.
func (s *Scene) SetFrame(frame int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bounded && (frame < s.minFrame || frame > s.maxFrame) {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrFrameOutOfRange, frame, s.minFrame, s.maxFrame)
	}
	s.frame = frame
	return nil
}

// ConcurrentSafe implements lidar.ConcurrencyReporter.
func (s *Scene) ConcurrentSafe() bool { return true }

// Cast implements lidar.Intersector.
func (s *Scene) Cast(origin, dir r3.Vec) (lidar.Hit, bool) {
	hits := s.CastAll(origin, dir, 1)
	if len(hits) == 0 {
		return lidar.Hit{}, false
	}
	return hits[0], true
}

// CastAll implements lidar.MultiHitIntersector. It reports the nearest
// surface of each object along the ray, nearest object first.
func (s *Scene) CastAll(origin, dir r3.Vec, max int) []lidar.Hit {
	if max < 1 {
		return nil
	}
	s.mu.RLock()
	frame := s.frame
	objects := s.objects
	s.mu.RUnlock()

	type candidate struct {
		t   float64
		hit lidar.Hit
	}
	var found []candidate
	for i := range objects {
		o := &objects[i]
		pl := placementOf(o, frame)
		t, nLocal, ok := intersect(o.Kind, pl.pointToLocal(origin), pl.dirToLocal(dir))
		if !ok {
			continue
		}
		h := lidar.Hit{
			Position:   r3.Add(origin, r3.Scale(t, dir)),
			Normal:     pl.normalToWorld(nLocal),
			HasNormal:  true,
			ObjectName: o.Name,
			Category:   o.Category,
		}
		h.Reflectance, h.HasReflectance = o.Reflectance()
		found = append(found, candidate{t: t, hit: h})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].t < found[j].t })
	if len(found) > max {
		found = found[:max]
	}
	out := make([]lidar.Hit, len(found))
	for i, c := range found {
		out[i] = c.hit
	}
	return out
}

// ObjectPose returns a pose provider that follows the named object's
// location and rotation. Scale is ignored.
func (s *Scene) ObjectPose(name string) (lidar.PoseProvider, error) {
	if _, ok := s.find(name); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownObject, name)
	}
	return objectPose{scene: s, name: name}, nil
}

func (s *Scene) find(name string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.objects {
		if o.Name == name {
			return o, true
		}
	}
	return Object{}, false
}

type objectPose struct {
	scene *Scene
	name  string
}

func (p objectPose) ScannerPose() (lidar.Pose, error) {
	o, ok := p.scene.find(p.name)
	if !ok {
		return lidar.Pose{}, fmt.Errorf("%w: %q", ErrUnknownObject, p.name)
	}
	return lidar.PoseFromEuler(o.LocationAt(p.scene.CurrentFrame()), o.RotationDeg), nil
}
