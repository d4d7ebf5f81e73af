package lidar

import (
	"math"
	"strings"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// Clamp bounds applied when a configuration value is assigned.
const (
	MinFOVH       = 1.0
	MaxFOVH       = 360.0
	MinFOVV       = 1.0
	MaxFOVV       = 90.0
	MinResolution = 0.01
	MaxResolution = 5.0
	MinRangeMax   = 0.1
	MaxRange      = 500.0
	MaxRangeSigma = 0.5
	MaxAngular    = 1.0
	MaxDropout    = 0.3
	MinReturns    = 1
	MaxReturns    = 5
	MaxRainRate   = 100.0
	MaxFogDensity = 1.0
)

// NoiseKind selects the range-noise distribution.
type NoiseKind string

const (
	NoiseGaussian NoiseKind = "gaussian"
	NoiseUniform  NoiseKind = "uniform"
	NoiseRayleigh NoiseKind = "rayleigh"
)

// ParseNoiseKind parses s case-insensitively. Unknown values map to gaussian.
func ParseNoiseKind(s string) NoiseKind {
	switch NoiseKind(strings.ToLower(strings.TrimSpace(s))) {
	case NoiseUniform:
		return NoiseUniform
	case NoiseRayleigh:
		return NoiseRayleigh
	default:
		return NoiseGaussian
	}
}

// FalloffKind selects how intensity decays with distance.
type FalloffKind string

const (
	FalloffNone      FalloffKind = "none"
	FalloffLinear    FalloffKind = "linear"
	FalloffQuadratic FalloffKind = "quadratic"
)

// ParseFalloffKind parses s case-insensitively. Unknown values map to quadratic.
func ParseFalloffKind(s string) FalloffKind {
	switch FalloffKind(strings.ToLower(strings.TrimSpace(s))) {
	case FalloffNone:
		return FalloffNone
	case FalloffLinear:
		return FalloffLinear
	default:
		return FalloffQuadratic
	}
}

// NoiseSettings controls sensor-side measurement error.
type NoiseSettings struct {
	Enabled      bool
	Kind         NoiseKind
	RangeSigma   float64 // metres
	AngularSigma float64 // degrees
	Dropout      float64 // probability
}

// IntensitySettings controls the simulated return strength.
type IntensitySettings struct {
	Enabled bool
	Falloff FalloffKind
}

// MultiReturnSettings controls how many hits per ray are measured.
type MultiReturnSettings struct {
	Enabled    bool
	MaxReturns int
}

// WeatherModel holds the empirical weather constants. They are heuristics
// and not physically derived.
type WeatherModel struct {
	// FogCutoff rejects fog-attenuated returns whose intensity falls below it.
	FogCutoff float64
	// RainReturnScale scales rain rate times distance into the probability
	// of a partial rain return.
	RainReturnScale float64
	// A partial rain return scales the distance by U(RainPullMin, RainPullMax).
	RainPullMin float64
	RainPullMax float64
}

// DefaultWeatherModel returns the documented heuristic constants.
func DefaultWeatherModel() WeatherModel {
	return WeatherModel{
		FogCutoff:       0.05,
		RainReturnScale: 1e-4,
		RainPullMin:     0.3,
		RainPullMax:     0.9,
	}
}

// WeatherSettings controls rain and fog attenuation.
type WeatherSettings struct {
	Enabled    bool
	RainRate   float64 // mm/h
	FogDensity float64 // 0-1
	Model      WeatherModel
}

// AnimationSettings controls multi-frame sweeps.
type AnimationSettings struct {
	Enabled    bool
	FrameStart int
	FrameEnd   int
	FrameStep  int
	// SingleFrameFiles exports each frame as it is scanned instead of one
	// combined file after the last frame.
	SingleFrameFiles bool
}

// OutputSettings selects formats and destination.
type OutputSettings struct {
	Export   bool
	Formats  []string
	Path     string // "//" prefix is relative to the project root
	Filename string

	IncludeNormals   bool
	IncludeIntensity bool
	IncludeLabels    bool
}

// ScanSettings is an immutable snapshot of a ScanConfig consumed by one
// sweep. All values are already clamped.
type ScanSettings struct {
	Preset string

	Origin       r3.Vec
	RotationDeg  r3.Vec
	PoseProvider PoseProvider

	FOVH        float64
	FOVV        float64
	ResolutionH float64
	ResolutionV float64
	RangeMin    float64
	RangeMax    float64

	Noise       NoiseSettings
	Intensity   IntensitySettings
	MultiReturn MultiReturnSettings
	Weather     WeatherSettings
	Animation   AnimationSettings
	Output      OutputSettings
}

// ScannerPose resolves the sensor-to-world transform.
func (s *ScanSettings) ScannerPose() (Pose, error) {
	if s.PoseProvider != nil {
		p, err := s.PoseProvider.ScannerPose()
		if err != nil {
			return Pose{}, err
		}
		if err := ValidatePose(p); err != nil {
			return Pose{}, err
		}
		return p, nil
	}
	return PoseFromEuler(s.Origin, s.RotationDeg), nil
}

// EstimatedRays returns the ray count of one sweep with these settings.
func (s *ScanSettings) EstimatedRays() int {
	return EstimateRays(s.FOVH, s.FOVV, s.ResolutionH, s.ResolutionV)
}

// ScanConfig is the mutable scan configuration. Every setter clamps its
// inputs, so a Snapshot is always within bounds. ScanConfig is safe for
// concurrent use.
type ScanConfig struct {
	mu sync.RWMutex
	s  ScanSettings
}

// NewScanConfig returns a configuration with the default settings.
func NewScanConfig() *ScanConfig {
	return &ScanConfig{s: ScanSettings{
		Preset:      AutoPresetKey,
		Origin:      r3.Vec{Z: 1.8},
		FOVH:        360,
		FOVV:        30,
		ResolutionH: 0.2,
		ResolutionV: 1.0,
		RangeMin:    0.1,
		RangeMax:    100,
		Noise: NoiseSettings{
			Enabled:      true,
			Kind:         NoiseGaussian,
			RangeSigma:   0.02,
			AngularSigma: 0.01,
			Dropout:      0.02,
		},
		Intensity:   IntensitySettings{Enabled: true, Falloff: FalloffQuadratic},
		MultiReturn: MultiReturnSettings{MaxReturns: 2},
		Weather:     WeatherSettings{Model: DefaultWeatherModel()},
		Animation: AnimationSettings{
			FrameStart:       1,
			FrameEnd:         250,
			FrameStep:        1,
			SingleFrameFiles: true,
		},
		Output: OutputSettings{
			Export:           true,
			Formats:          []string{"ply"},
			Path:             "//scans/",
			Filename:         "scan_001",
			IncludeNormals:   true,
			IncludeIntensity: true,
			IncludeLabels:    true,
		},
	}}
}

// Snapshot returns a deep copy of the current settings.
func (c *ScanConfig) Snapshot() ScanSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.s
	s.Output.Formats = append([]string(nil), c.s.Output.Formats...)
	return s
}

// SetPose sets an explicit scanner origin and XYZ Euler rotation in
// degrees and clears any pose provider.
func (c *ScanConfig) SetPose(origin, rotationDeg r3.Vec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Origin = finiteVec(origin)
	c.s.RotationDeg = finiteVec(rotationDeg)
	c.s.PoseProvider = nil
}

// SetPoseProvider makes the scanner follow p. Passing nil reverts to the
// explicit origin and rotation.
func (c *ScanConfig) SetPoseProvider(p PoseProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.PoseProvider = p
}

// SetFOV sets the horizontal and vertical field of view in degrees.
func (c *ScanConfig) SetFOV(h, v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.FOVH = clamp(h, MinFOVH, MaxFOVH)
	c.s.FOVV = clamp(v, MinFOVV, MaxFOVV)
}

// SetResolution sets the angular step between rays in degrees.
func (c *ScanConfig) SetResolution(h, v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.ResolutionH = clamp(h, MinResolution, MaxResolution)
	c.s.ResolutionV = clamp(v, MinResolution, MaxResolution)
}

// SetRange sets the accepted return range in metres. The minimum is
// clamped so it never exceeds the maximum.
func (c *ScanConfig) SetRange(minM, maxM float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.RangeMax = clamp(maxM, MinRangeMax, MaxRange)
	c.s.RangeMin = clamp(minM, 0, c.s.RangeMax)
}

// SetNoise replaces the noise settings.
func (c *ScanConfig) SetNoise(n NoiseSettings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Noise = NoiseSettings{
		Enabled:      n.Enabled,
		Kind:         ParseNoiseKind(string(n.Kind)),
		RangeSigma:   clamp(n.RangeSigma, 0, MaxRangeSigma),
		AngularSigma: clamp(n.AngularSigma, 0, MaxAngular),
		Dropout:      clamp(n.Dropout, 0, MaxDropout),
	}
}

// SetIntensity replaces the intensity settings.
func (c *ScanConfig) SetIntensity(in IntensitySettings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Intensity = IntensitySettings{
		Enabled: in.Enabled,
		Falloff: ParseFalloffKind(string(in.Falloff)),
	}
}

// SetMultiReturn replaces the multi-return settings.
func (c *ScanConfig) SetMultiReturn(m MultiReturnSettings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.MultiReturn = MultiReturnSettings{
		Enabled:    m.Enabled,
		MaxReturns: clampInt(m.MaxReturns, MinReturns, MaxReturns),
	}
}

// SetWeather sets rain rate (mm/h) and fog density (0-1). The weather
// model constants are left unchanged.
func (c *ScanConfig) SetWeather(enabled bool, rainRate, fogDensity float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Weather.Enabled = enabled
	c.s.Weather.RainRate = clamp(rainRate, 0, MaxRainRate)
	c.s.Weather.FogDensity = clamp(fogDensity, 0, MaxFogDensity)
}

// SetWeatherModel overrides the heuristic weather constants.
func (c *ScanConfig) SetWeatherModel(m WeatherModel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lo := clamp(m.RainPullMin, 0, 1)
	hi := clamp(m.RainPullMax, lo, 1)
	c.s.Weather.Model = WeatherModel{
		FogCutoff:       clamp(m.FogCutoff, 0, 1),
		RainReturnScale: clamp(m.RainReturnScale, 0, 1),
		RainPullMin:     lo,
		RainPullMax:     hi,
	}
}

// SetAnimation replaces the animation settings. Frame numbers are floored
// at zero and the step at one. An inverted range is kept so the sweep can
// report it.
func (c *ScanConfig) SetAnimation(a AnimationSettings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Animation = AnimationSettings{
		Enabled:          a.Enabled,
		FrameStart:       max(a.FrameStart, 0),
		FrameEnd:         max(a.FrameEnd, 0),
		FrameStep:        max(a.FrameStep, 1),
		SingleFrameFiles: a.SingleFrameFiles,
	}
}

// SetOutput replaces the output settings. Format tags are lower-cased and
// de-duplicated; an empty filename keeps the current one.
func (c *ScanConfig) SetOutput(o OutputSettings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	formats := make([]string, 0, len(o.Formats))
	seen := make(map[string]bool, len(o.Formats))
	for _, f := range o.Formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		formats = append(formats, f)
	}
	o.Formats = formats
	if strings.TrimSpace(o.Filename) == "" {
		o.Filename = c.s.Output.Filename
	}
	c.s.Output = o
}

// ApplyPreset copies the preset's field of view, resolution, range and
// range accuracy into the configuration. AUTO and empty keys leave the
// configuration untouched. Unknown keys apply the default preset and
// return false.
func (c *ScanConfig) ApplyPreset(key string) bool {
	if k := strings.TrimSpace(key); k == "" || strings.EqualFold(k, AutoPresetKey) {
		c.mu.Lock()
		c.s.Preset = AutoPresetKey
		c.mu.Unlock()
		return false
	}
	p, found := LookupPreset(key)
	if !found {
		p = GetPreset(key)
		opsf("unknown sensor preset %q, using %s", key, p.Key)
	}

	c.SetFOV(p.FOVH, p.FOVV)
	c.SetResolution(p.ResolutionH, p.ResolutionV)
	c.SetRange(p.RangeMin, p.RangeMax)

	c.mu.Lock()
	c.s.Noise.RangeSigma = clamp(p.RangeAccuracy, 0, MaxRangeSigma)
	c.s.Preset = p.Key
	c.mu.Unlock()

	if found {
		diagf("applied sensor preset %s (%s)", p.Key, p.Name)
	}
	return found
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

func finiteVec(v r3.Vec) r3.Vec {
	fix := func(f float64) float64 {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	}
	return r3.Vec{X: fix(v.X), Y: fix(v.Y), Z: fix(v.Z)}
}
