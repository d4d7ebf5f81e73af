package lidar

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Measurer turns geometric hits into sensor measurements. A Measurer owns
// its noise source and is not safe for concurrent use.
type Measurer struct {
	s     *ScanSettings
	noise *NoiseSource
}

// NewMeasurer binds a settings snapshot to a noise source.
func NewMeasurer(s *ScanSettings, noise *NoiseSource) *Measurer {
	return &Measurer{s: s, noise: noise}
}

// Jitter perturbs a world-space ray direction by independent Gaussian
// rotations about X, Y and Z (applied in that order) before it is cast.
// Without noise, or with zero angular sigma, dir is returned unchanged.
func (m *Measurer) Jitter(dir r3.Vec) r3.Vec {
	if !m.s.Noise.Enabled || m.s.Noise.AngularSigma <= 0 {
		return dir
	}
	sigma := degToRad(m.s.Noise.AngularSigma)
	rx := m.noise.Normal(sigma)
	ry := m.noise.Normal(sigma)
	rz := m.noise.Normal(sigma)
	return r3.Unit(eulerXYZ(rx, ry, rz)(dir))
}

// Measure converts one hit along dir (the direction actually cast) into a
// ScanPoint. A non-Accepted rejection means no point was produced; it is
// an expected outcome, not an error.
func (m *Measurer) Measure(origin, dir r3.Vec, hit Hit, ray RaySample, returnNumber int) (ScanPoint, Rejection) {
	s := m.s
	trueDist := r3.Norm(r3.Sub(hit.Position, origin))
	if trueDist < s.RangeMin || trueDist > s.RangeMax {
		return ScanPoint{}, RejectRange
	}

	if s.Noise.Enabled && m.noise.Bernoulli(s.Noise.Dropout) {
		return ScanPoint{}, RejectDropout
	}

	dist := trueDist
	if s.Noise.Enabled {
		dist = math.Max(0, trueDist+m.noise.RangeNoise(s.Noise.Kind, s.Noise.RangeSigma))
	}

	intensity := m.intensity(trueDist, dir, hit)

	if s.Weather.Enabled {
		var ok bool
		dist, intensity, ok = m.weather(dist, intensity, s.Noise.Enabled)
		if !ok {
			return ScanPoint{}, RejectWeather
		}
	}

	normal := DefaultNormal
	if hit.HasNormal {
		normal = hit.Normal
	}

	category := hit.Category
	if category == "" {
		category = hit.ObjectName
	}

	return ScanPoint{
		Position:     r3.Add(origin, r3.Scale(dist, dir)),
		Distance:     dist,
		Intensity:    intensity,
		Normal:       normal,
		ObjectName:   hit.ObjectName,
		CategoryID:   category,
		ReturnNumber: returnNumber,
		NumReturns:   returnNumber,
		AngleH:       ray.AngleH,
		AngleV:       ray.AngleV,
	}, Accepted
}

// intensity combines surface reflectance, incidence angle and distance
// falloff, clamped to [0,1]. It uses the true geometric distance.
func (m *Measurer) intensity(dist float64, dir r3.Vec, hit Hit) float64 {
	if !m.s.Intensity.Enabled {
		return 1.0
	}

	base := 1.0
	if hit.HasReflectance {
		base = hit.Reflectance
	}

	angle := 1.0
	if hit.HasNormal {
		angle = math.Max(0.1, math.Abs(r3.Dot(hit.Normal, r3.Scale(-1, dir))))
	}

	falloff := 1.0
	switch m.s.Intensity.Falloff {
	case FalloffQuadratic:
		falloff = 100 / math.Max(1, dist*dist)
	case FalloffLinear:
		falloff = 10 / math.Max(1, dist)
	}

	return clamp(base*angle*falloff, 0, 1)
}

// weather attenuates intensity for rain and fog. The random rain
// pull-in and the fog cutoff only apply when stochastic is set, so a
// noiseless scan keeps every in-range point at its true distance. It
// returns ok=false when fog suppresses the return.
func (m *Measurer) weather(dist, intensity float64, stochastic bool) (float64, float64, bool) {
	w := m.s.Weather
	if w.RainRate > 0 {
		intensity *= math.Exp(-0.01 * w.RainRate * dist)
		if stochastic && m.noise.Bernoulli(w.RainRate*dist*w.Model.RainReturnScale) {
			dist *= m.noise.Uniform(w.Model.RainPullMin, w.Model.RainPullMax)
		}
	}
	if w.FogDensity > 0 {
		intensity *= math.Exp(-w.FogDensity * dist / 50)
		if stochastic && intensity < w.Model.FogCutoff {
			return dist, intensity, false
		}
	}
	return dist, intensity, true
}
