package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// ObjectSpec is the document form of an Object.
type ObjectSpec struct {
	Type        string         `json:"type" yaml:"type"`
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	AssetPath   string         `json:"asset_path,omitempty" yaml:"asset_path,omitempty"`
	Location    []float64      `json:"location,omitempty" yaml:"location,omitempty"`
	RotationDeg []float64      `json:"rotation_deg,omitempty" yaml:"rotation_deg,omitempty"`
	Scale       []float64      `json:"scale,omitempty" yaml:"scale,omitempty"`
	Color       []float64      `json:"color,omitempty" yaml:"color,omitempty"`
	CategoryID  string         `json:"category_id,omitempty" yaml:"category_id,omitempty"`
	Keyframes   []KeyframeSpec `json:"keyframes,omitempty" yaml:"keyframes,omitempty"`
}

// KeyframeSpec is the document form of a Keyframe.
type KeyframeSpec struct {
	Frame    int       `json:"frame" yaml:"frame"`
	Location []float64 `json:"location" yaml:"location"`
}

// Spec is the "scene" section of a scan document.
type Spec struct {
	CreateObject *ObjectSpec  `json:"create_object,omitempty" yaml:"create_object,omitempty"`
	Objects      []ObjectSpec `json:"objects,omitempty" yaml:"objects,omitempty"`
	FrameRange   []int        `json:"frame_range,omitempty" yaml:"frame_range,omitempty"`
}

// SpecFromMap decodes a loosely typed scene section, as held by a scan
// document decoded from JSON or YAML.
func SpecFromMap(m map[string]any) (Spec, error) {
	var spec Spec
	if len(m) == 0 {
		return spec, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return spec, fmt.Errorf("encode scene section: %w", err)
	}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return spec, fmt.Errorf("decode scene section: %w", err)
	}
	return spec, nil
}

// FromMap builds a scene from a loosely typed scene section.
func FromMap(m map[string]any) (*Scene, error) {
	spec, err := SpecFromMap(m)
	if err != nil {
		return nil, err
	}
	return Build(spec)
}

// Build creates a scene from spec. Objects whose type the scene cannot
// model (such as imported assets) are logged and skipped. Malformed
// vectors are errors.
func Build(spec Spec) (*Scene, error) {
	s, _ := New()
	if len(spec.FrameRange) == 2 {
		if spec.FrameRange[0] > spec.FrameRange[1] {
			return nil, fmt.Errorf("frame_range %v: start after end", spec.FrameRange)
		}
		s.SetFrameBounds(spec.FrameRange[0], spec.FrameRange[1])
		s.frame = spec.FrameRange[0]
	} else if len(spec.FrameRange) != 0 {
		return nil, fmt.Errorf("frame_range must have 2 elements, got %d", len(spec.FrameRange))
	}

	specs := spec.Objects
	if spec.CreateObject != nil {
		specs = append([]ObjectSpec{*spec.CreateObject}, specs...)
	}

	skipped := 0
	for i, objSpec := range specs {
		obj, err := objSpec.object()
		if errors.Is(err, ErrUnsupportedObject) {
			opsf("skipping scene object %d: %v", i, err)
			skipped++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scene object %d: %w", i, err)
		}
		if err := s.Add(obj); err != nil {
			return nil, fmt.Errorf("scene object %d: %w", i, err)
		}
		tracef("object %d: %s at %v", i, obj.Kind, obj.Location)
	}
	diagf("built scene: %d objects, %d skipped", s.Len(), skipped)
	return s, nil
}

func (o ObjectSpec) object() (Object, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(o.Type)))
	if kind == "" {
		kind = Cube
	}
	if !kind.valid() {
		if o.AssetPath != "" {
			return Object{}, fmt.Errorf("%w: %q (asset %s)", ErrUnsupportedObject, o.Type, o.AssetPath)
		}
		return Object{}, fmt.Errorf("%w: %q", ErrUnsupportedObject, o.Type)
	}

	obj := Object{Name: o.Name, Kind: kind, Category: o.CategoryID}
	var err error
	if obj.Location, err = vec("location", o.Location, r3.Vec{}); err != nil {
		return Object{}, err
	}
	if obj.RotationDeg, err = vec("rotation_deg", o.RotationDeg, r3.Vec{}); err != nil {
		return Object{}, err
	}
	if obj.Scale, err = vec("scale", o.Scale, r3.Vec{X: 1, Y: 1, Z: 1}); err != nil {
		return Object{}, err
	}
	if len(o.Color) > 0 {
		if len(o.Color) < 3 || len(o.Color) > 4 {
			return Object{}, fmt.Errorf("color must have 3 or 4 elements, got %d", len(o.Color))
		}
		for i := 0; i < 3; i++ {
			obj.Color[i] = clamp01(o.Color[i])
		}
		obj.HasColor = true
	}
	for _, kf := range o.Keyframes {
		loc, err := vec("keyframe location", kf.Location, obj.Location)
		if err != nil {
			return Object{}, err
		}
		obj.Keyframes = append(obj.Keyframes, Keyframe{Frame: kf.Frame, Location: loc})
	}
	return obj, nil
}

func vec(field string, v []float64, def r3.Vec) (r3.Vec, error) {
	switch len(v) {
	case 0:
		return def, nil
	case 3:
		return r3.Vec{X: v[0], Y: v[1], Z: v[2]}, nil
	}
	return r3.Vec{}, fmt.Errorf("%s must have 3 elements, got %d", field, len(v))
}

func clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
