package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/scansim/internal/lidar"
)

// maxDocumentSize guards against loading something that is not a scan
// document.
const maxDocumentSize = 1 * 1024 * 1024 // 1MB

// ScanDocument is the JSON/YAML scan configuration document. Every field
// is optional; omitted fields leave the configuration unchanged when the
// document is applied.
type ScanDocument struct {
	// Scene is decoded by the scene package so that unsupported object
	// types can be skipped rather than failing the whole document.
	Scene map[string]any `json:"scene,omitempty" yaml:"scene,omitempty"`
	Scan  *ScanSection   `json:"scan,omitempty" yaml:"scan,omitempty"`
}

// ScanSection is the "scan" object of a scan document.
type ScanSection struct {
	SensorPreset  *string   `json:"sensor_preset,omitempty" yaml:"sensor_preset,omitempty"`
	Origin        []float64 `json:"origin,omitempty" yaml:"origin,omitempty"`
	RotationDeg   []float64 `json:"rotation_deg,omitempty" yaml:"rotation_deg,omitempty"`
	ScannerObject *string   `json:"scanner_object,omitempty" yaml:"scanner_object,omitempty"`

	FOVDeg        *AxisPair `json:"fov_deg,omitempty" yaml:"fov_deg,omitempty"`
	ResolutionDeg *AxisPair `json:"resolution_deg,omitempty" yaml:"resolution_deg,omitempty"`
	RangeM        *float64  `json:"range_m,omitempty" yaml:"range_m,omitempty"`
	RangeMinM     *float64  `json:"range_min_m,omitempty" yaml:"range_min_m,omitempty"`

	Noise       *NoiseSection       `json:"noise,omitempty" yaml:"noise,omitempty"`
	Intensity   *IntensitySection   `json:"intensity,omitempty" yaml:"intensity,omitempty"`
	MultiReturn *MultiReturnSection `json:"multi_return,omitempty" yaml:"multi_return,omitempty"`
	Weather     *WeatherSection     `json:"weather,omitempty" yaml:"weather,omitempty"`
	Animation   *AnimationSection   `json:"animation,omitempty" yaml:"animation,omitempty"`
	Output      *OutputSection      `json:"output,omitempty" yaml:"output,omitempty"`

	Seed *uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// AxisPair holds a horizontal and vertical value in degrees.
type AxisPair struct {
	H *float64 `json:"h,omitempty" yaml:"h,omitempty"`
	V *float64 `json:"v,omitempty" yaml:"v,omitempty"`
}

type NoiseSection struct {
	Enabled         *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Type            *string  `json:"type,omitempty" yaml:"type,omitempty"`
	RangeSigmaM     *float64 `json:"range_sigma_m,omitempty" yaml:"range_sigma_m,omitempty"`
	AngularSigmaDeg *float64 `json:"angular_sigma_deg,omitempty" yaml:"angular_sigma_deg,omitempty"`
	DropoutProb     *float64 `json:"dropout_prob,omitempty" yaml:"dropout_prob,omitempty"`
}

type IntensitySection struct {
	Enabled *bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Falloff *string `json:"falloff,omitempty" yaml:"falloff,omitempty"`
}

type MultiReturnSection struct {
	Enabled    *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	MaxReturns *int  `json:"max_returns,omitempty" yaml:"max_returns,omitempty"`
}

type WeatherSection struct {
	Enabled     *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	RainRateMMH *float64 `json:"rain_rate_mm_h,omitempty" yaml:"rain_rate_mm_h,omitempty"`
	FogDensity  *float64 `json:"fog_density,omitempty" yaml:"fog_density,omitempty"`
}

type AnimationSection struct {
	Enabled          *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	FrameStart       *int  `json:"frame_start,omitempty" yaml:"frame_start,omitempty"`
	FrameEnd         *int  `json:"frame_end,omitempty" yaml:"frame_end,omitempty"`
	FrameStep        *int  `json:"frame_step,omitempty" yaml:"frame_step,omitempty"`
	SingleFrameFiles *bool `json:"single_frame_files,omitempty" yaml:"single_frame_files,omitempty"`
}

type OutputSection struct {
	Export           *bool     `json:"export,omitempty" yaml:"export,omitempty"`
	Formats          *[]string `json:"formats,omitempty" yaml:"formats,omitempty"`
	Path             *string   `json:"path,omitempty" yaml:"path,omitempty"`
	Filename         *string   `json:"filename,omitempty" yaml:"filename,omitempty"`
	IncludeNormals   *bool     `json:"include_normals,omitempty" yaml:"include_normals,omitempty"`
	IncludeIntensity *bool     `json:"include_intensity,omitempty" yaml:"include_intensity,omitempty"`
	IncludeLabels    *bool     `json:"include_labels,omitempty" yaml:"include_labels,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// LoadScanDocument loads a scan document from a .json, .yaml or .yml file.
func LoadScanDocument(path string) (*ScanDocument, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("scan document must have a .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat scan document: %w", err)
	}
	if fileInfo.Size() > maxDocumentSize {
		return nil, fmt.Errorf("scan document too large: %d bytes (max %d)", fileInfo.Size(), maxDocumentSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read scan document: %w", err)
	}
	return ParseScanDocument(data, ext)
}

// ParseScanDocument decodes data as JSON, or as YAML when ext is ".yaml"
// or ".yml".
func ParseScanDocument(data []byte, ext string) (*ScanDocument, error) {
	doc := &ScanDocument{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("failed to parse scan document YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("failed to parse scan document JSON: %w", err)
		}
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scan document: %w", err)
	}
	return doc, nil
}

// Validate checks the document's structure. Out-of-range numbers are not
// errors; they are clamped when the document is applied.
func (d *ScanDocument) Validate() error {
	if d.Scan == nil {
		return nil
	}
	if err := checkVec("origin", d.Scan.Origin); err != nil {
		return err
	}
	if err := checkVec("rotation_deg", d.Scan.RotationDeg); err != nil {
		return err
	}
	return nil
}

func checkVec(field string, v []float64) error {
	if v != nil && len(v) != 3 {
		return fmt.Errorf("%s must have 3 components, got %d", field, len(v))
	}
	return nil
}

func toVec(v []float64) r3.Vec {
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}
}

// Apply writes the document's scan section into cfg. The sensor preset is
// applied first so that explicit fields override it. Every value passes
// through the ScanConfig setters and is clamped there.
func (d *ScanDocument) Apply(cfg *lidar.ScanConfig) error {
	if err := d.Validate(); err != nil {
		return err
	}
	sc := d.Scan
	if sc == nil {
		return nil
	}

	if sc.SensorPreset != nil {
		cfg.ApplyPreset(*sc.SensorPreset)
	}

	cur := cfg.Snapshot()
	if sc.Origin != nil || sc.RotationDeg != nil {
		origin, rot := cur.Origin, cur.RotationDeg
		if sc.Origin != nil {
			origin = toVec(sc.Origin)
		}
		if sc.RotationDeg != nil {
			rot = toVec(sc.RotationDeg)
		}
		cfg.SetPose(origin, rot)
	}

	if p := sc.FOVDeg; p != nil {
		cfg.SetFOV(orFloat(p.H, cur.FOVH), orFloat(p.V, cur.FOVV))
	}
	if p := sc.ResolutionDeg; p != nil {
		cfg.SetResolution(orFloat(p.H, cur.ResolutionH), orFloat(p.V, cur.ResolutionV))
	}
	if sc.RangeM != nil || sc.RangeMinM != nil {
		cfg.SetRange(orFloat(sc.RangeMinM, cur.RangeMin), orFloat(sc.RangeM, cur.RangeMax))
	}

	if n := sc.Noise; n != nil {
		noise := cur.Noise
		noise.Enabled = orBool(n.Enabled, noise.Enabled)
		if n.Type != nil {
			noise.Kind = lidar.ParseNoiseKind(*n.Type)
		}
		noise.RangeSigma = orFloat(n.RangeSigmaM, noise.RangeSigma)
		noise.AngularSigma = orFloat(n.AngularSigmaDeg, noise.AngularSigma)
		noise.Dropout = orFloat(n.DropoutProb, noise.Dropout)
		cfg.SetNoise(noise)
	}

	if in := sc.Intensity; in != nil {
		intensity := cur.Intensity
		intensity.Enabled = orBool(in.Enabled, intensity.Enabled)
		if in.Falloff != nil {
			intensity.Falloff = lidar.ParseFalloffKind(*in.Falloff)
		}
		cfg.SetIntensity(intensity)
	}

	if m := sc.MultiReturn; m != nil {
		cfg.SetMultiReturn(lidar.MultiReturnSettings{
			Enabled:    orBool(m.Enabled, cur.MultiReturn.Enabled),
			MaxReturns: orInt(m.MaxReturns, cur.MultiReturn.MaxReturns),
		})
	}

	if w := sc.Weather; w != nil {
		cfg.SetWeather(
			orBool(w.Enabled, cur.Weather.Enabled),
			orFloat(w.RainRateMMH, cur.Weather.RainRate),
			orFloat(w.FogDensity, cur.Weather.FogDensity),
		)
	}

	if a := sc.Animation; a != nil {
		cfg.SetAnimation(lidar.AnimationSettings{
			Enabled:          orBool(a.Enabled, cur.Animation.Enabled),
			FrameStart:       orInt(a.FrameStart, cur.Animation.FrameStart),
			FrameEnd:         orInt(a.FrameEnd, cur.Animation.FrameEnd),
			FrameStep:        orInt(a.FrameStep, cur.Animation.FrameStep),
			SingleFrameFiles: orBool(a.SingleFrameFiles, cur.Animation.SingleFrameFiles),
		})
	}

	if o := sc.Output; o != nil {
		out := cur.Output
		out.Export = orBool(o.Export, out.Export)
		if o.Formats != nil {
			out.Formats = *o.Formats
		}
		out.Path = orString(o.Path, out.Path)
		out.Filename = orString(o.Filename, out.Filename)
		out.IncludeNormals = orBool(o.IncludeNormals, out.IncludeNormals)
		out.IncludeIntensity = orBool(o.IncludeIntensity, out.IncludeIntensity)
		out.IncludeLabels = orBool(o.IncludeLabels, out.IncludeLabels)
		cfg.SetOutput(out)
	}
	return nil
}

// DocumentFromConfig captures settings as a complete document. Numbers
// are written as stored, so they are already clamped.
func DocumentFromConfig(s lidar.ScanSettings, scene map[string]any) *ScanDocument {
	formats := append([]string{}, s.Output.Formats...)
	return &ScanDocument{
		Scene: scene,
		Scan: &ScanSection{
			SensorPreset:  ptrString(s.Preset),
			Origin:        []float64{s.Origin.X, s.Origin.Y, s.Origin.Z},
			RotationDeg:   []float64{s.RotationDeg.X, s.RotationDeg.Y, s.RotationDeg.Z},
			FOVDeg:        &AxisPair{H: ptrFloat64(s.FOVH), V: ptrFloat64(s.FOVV)},
			ResolutionDeg: &AxisPair{H: ptrFloat64(s.ResolutionH), V: ptrFloat64(s.ResolutionV)},
			RangeM:        ptrFloat64(s.RangeMax),
			RangeMinM:     ptrFloat64(s.RangeMin),
			Noise: &NoiseSection{
				Enabled:         ptrBool(s.Noise.Enabled),
				Type:            ptrString(string(s.Noise.Kind)),
				RangeSigmaM:     ptrFloat64(s.Noise.RangeSigma),
				AngularSigmaDeg: ptrFloat64(s.Noise.AngularSigma),
				DropoutProb:     ptrFloat64(s.Noise.Dropout),
			},
			Intensity: &IntensitySection{
				Enabled: ptrBool(s.Intensity.Enabled),
				Falloff: ptrString(string(s.Intensity.Falloff)),
			},
			MultiReturn: &MultiReturnSection{
				Enabled:    ptrBool(s.MultiReturn.Enabled),
				MaxReturns: ptrInt(s.MultiReturn.MaxReturns),
			},
			Weather: &WeatherSection{
				Enabled:     ptrBool(s.Weather.Enabled),
				RainRateMMH: ptrFloat64(s.Weather.RainRate),
				FogDensity:  ptrFloat64(s.Weather.FogDensity),
			},
			Animation: &AnimationSection{
				Enabled:          ptrBool(s.Animation.Enabled),
				FrameStart:       ptrInt(s.Animation.FrameStart),
				FrameEnd:         ptrInt(s.Animation.FrameEnd),
				FrameStep:        ptrInt(s.Animation.FrameStep),
				SingleFrameFiles: ptrBool(s.Animation.SingleFrameFiles),
			},
			Output: &OutputSection{
				Export:           ptrBool(s.Output.Export),
				Formats:          &formats,
				Path:             ptrString(s.Output.Path),
				Filename:         ptrString(s.Output.Filename),
				IncludeNormals:   ptrBool(s.Output.IncludeNormals),
				IncludeIntensity: ptrBool(s.Output.IncludeIntensity),
				IncludeLabels:    ptrBool(s.Output.IncludeLabels),
			},
		},
	}
}

// WriteJSON writes the document as indented JSON.
func (d *ScanDocument) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// WriteYAML writes the document as YAML.
func (d *ScanDocument) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return err
	}
	return enc.Close()
}

// GetSeed returns the noise seed or the default of 0.
func (d *ScanDocument) GetSeed() uint64 {
	if d.Scan == nil || d.Scan.Seed == nil {
		return 0
	}
	return *d.Scan.Seed
}

// GetScannerObject returns the name of the scene object the scanner
// follows, or "" for an explicit pose.
func (d *ScanDocument) GetScannerObject() string {
	if d.Scan == nil || d.Scan.ScannerObject == nil {
		return ""
	}
	return *d.Scan.ScannerObject
}

// GetSensorPreset returns the preset key or AUTO.
func (d *ScanDocument) GetSensorPreset() string {
	if d.Scan == nil || d.Scan.SensorPreset == nil {
		return lidar.AutoPresetKey
	}
	return *d.Scan.SensorPreset
}

func orFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func orInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func orBool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func orString(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}
