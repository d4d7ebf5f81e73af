package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scansim/internal/lidar"
)

const sampleJSON = `{
  "scene": {"create_object": {"type": "cube", "location": [5, 0, 0]}},
  "scan": {
    "sensor_preset": "VELODYNE_VLP16",
    "origin": [0, 0, 2],
    "rotation_deg": [0, 0, 90],
    "fov_deg": {"h": 120},
    "resolution_deg": {"h": 0.5, "v": 1},
    "range_m": 80,
    "noise": {"range_sigma_m": 0.9, "dropout_prob": 0.05, "type": "uniform"},
    "output": {"formats": ["ply", "csv", "las"], "path": "//out/", "include_labels": false},
    "seed": 7
  }
}`

const sampleYAML = `
scene:
  create_object:
    type: cube
    location: [5, 0, 0]
scan:
  sensor_preset: VELODYNE_VLP16
  origin: [0, 0, 2]
  rotation_deg: [0, 0, 90]
  fov_deg:
    h: 120
  resolution_deg:
    h: 0.5
    v: 1
  range_m: 80
  noise:
    range_sigma_m: 0.9
    dropout_prob: 0.05
    type: uniform
  output:
    formats: [ply, csv, las]
    path: //out/
    include_labels: false
  seed: 7
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadScanDocument_JSONAndYAMLAgree(t *testing.T) {
	jsonDoc, err := LoadScanDocument(writeTemp(t, "scan.json", sampleJSON))
	if err != nil {
		t.Fatalf("Failed to load JSON: %v", err)
	}
	yamlDoc, err := LoadScanDocument(writeTemp(t, "scan.yml", sampleYAML))
	if err != nil {
		t.Fatalf("Failed to load YAML: %v", err)
	}

	if diff := cmp.Diff(jsonDoc.Scan, yamlDoc.Scan); diff != "" {
		t.Errorf("JSON and YAML scan sections differ (-json +yaml):\n%s", diff)
	}
	if jsonDoc.GetSeed() != 7 {
		t.Errorf("GetSeed() = %d, want 7", jsonDoc.GetSeed())
	}
	if _, ok := yamlDoc.Scene["create_object"]; !ok {
		t.Errorf("YAML scene section lost create_object: %v", yamlDoc.Scene)
	}
}

func TestLoadScanDocument_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"bad extension", "scan.txt", "{}", "extension"},
		{"bad json", "scan.json", "{", "parse scan document JSON"},
		{"bad yaml", "scan.yaml", "scan: [", "parse scan document YAML"},
		{"short origin", "scan.json", `{"scan": {"origin": [1, 2]}}`, "origin must have 3 components"},
		{"too large", "scan.json", `{"scene": {"pad": "` + strings.Repeat("x", maxDocumentSize) + `"}}`, "too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScanDocument(writeTemp(t, tt.file, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadScanDocument() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

	if _, err := LoadScanDocument(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApply_PresetThenExplicitFieldsClamped(t *testing.T) {
	doc, err := ParseScanDocument([]byte(sampleJSON), ".json")
	if err != nil {
		t.Fatalf("ParseScanDocument: %v", err)
	}

	cfg := lidar.NewScanConfig()
	if err := doc.Apply(cfg); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	s := cfg.Snapshot()

	if s.Preset != "VELODYNE_VLP16" {
		t.Errorf("Preset = %q", s.Preset)
	}
	// fov_deg.h overrides the preset; v is kept from it.
	if s.FOVH != 120 || s.FOVV != 30 {
		t.Errorf("FOV = %v x %v, want 120 x 30", s.FOVH, s.FOVV)
	}
	if s.ResolutionH != 0.5 || s.ResolutionV != 1 {
		t.Errorf("Resolution = %v x %v", s.ResolutionH, s.ResolutionV)
	}
	if s.RangeMax != 80 || s.RangeMin != 0.5 {
		t.Errorf("Range = [%v, %v], want [0.5, 80]", s.RangeMin, s.RangeMax)
	}
	if s.Noise.RangeSigma != lidar.MaxRangeSigma {
		t.Errorf("RangeSigma = %v, want clamped to %v", s.Noise.RangeSigma, lidar.MaxRangeSigma)
	}
	if s.Noise.Dropout != 0.05 || s.Noise.Kind != lidar.NoiseUniform {
		t.Errorf("Noise = %+v", s.Noise)
	}
	if s.Origin != (r3.Vec{Z: 2}) || s.RotationDeg != (r3.Vec{Z: 90}) {
		t.Errorf("Pose = %v %v", s.Origin, s.RotationDeg)
	}
	if diff := cmp.Diff([]string{"ply", "csv", "las"}, s.Output.Formats); diff != "" {
		t.Errorf("Formats (-want +got):\n%s", diff)
	}
	if s.Output.IncludeLabels {
		t.Error("IncludeLabels should be false")
	}
	if !s.Output.IncludeNormals || s.Output.Filename != "scan_001" {
		t.Errorf("omitted output fields changed: %+v", s.Output)
	}
}

func TestApply_EmptyDocumentKeepsDefaults(t *testing.T) {
	cfg := lidar.NewScanConfig()
	if err := (&ScanDocument{}).Apply(cfg); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if diff := cmp.Diff(lidar.NewScanConfig().Snapshot(), cfg.Snapshot()); diff != "" {
		t.Errorf("empty document changed settings (-want +got):\n%s", diff)
	}
}

func TestApply_Supplements(t *testing.T) {
	doc, err := ParseScanDocument([]byte(`
scan:
  range_min_m: 2
  intensity: {enabled: false, falloff: linear}
  multi_return: {enabled: true, max_returns: 9}
  weather: {enabled: true, rain_rate_mm_h: 25, fog_density: 0.4}
  animation: {enabled: true, frame_start: 10, frame_end: 20, frame_step: 5, single_frame_files: false}
  scanner_object: Drone
`), ".yaml")
	if err != nil {
		t.Fatalf("ParseScanDocument: %v", err)
	}
	cfg := lidar.NewScanConfig()
	if err := doc.Apply(cfg); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	s := cfg.Snapshot()

	if s.RangeMin != 2 || s.RangeMax != 100 {
		t.Errorf("Range = [%v, %v]", s.RangeMin, s.RangeMax)
	}
	if s.Intensity.Enabled || s.Intensity.Falloff != lidar.FalloffLinear {
		t.Errorf("Intensity = %+v", s.Intensity)
	}
	if !s.MultiReturn.Enabled || s.MultiReturn.MaxReturns != lidar.MaxReturns {
		t.Errorf("MultiReturn = %+v", s.MultiReturn)
	}
	if !s.Weather.Enabled || s.Weather.RainRate != 25 || s.Weather.FogDensity != 0.4 {
		t.Errorf("Weather = %+v", s.Weather)
	}
	want := lidar.AnimationSettings{Enabled: true, FrameStart: 10, FrameEnd: 20, FrameStep: 5}
	if s.Animation != want {
		t.Errorf("Animation = %+v, want %+v", s.Animation, want)
	}
	if doc.GetScannerObject() != "Drone" {
		t.Errorf("GetScannerObject() = %q", doc.GetScannerObject())
	}
	if doc.GetSensorPreset() != lidar.AutoPresetKey {
		t.Errorf("GetSensorPreset() = %q", doc.GetSensorPreset())
	}
}

func TestDocumentFromConfig_RoundTrip(t *testing.T) {
	cfg := lidar.NewScanConfig()
	cfg.ApplyPreset("OUSTER_OS1_64")
	cfg.SetFOV(720, 45)
	cfg.SetWeather(true, 10, 0.2)
	cfg.SetOutput(lidar.OutputSettings{Export: true, Formats: []string{"pcd", "xyz"}, Path: "//x/", Filename: "run"})
	original := cfg.Snapshot()

	scene := map[string]any{"create_object": map[string]any{"type": "sphere"}}
	var buf bytes.Buffer
	if err := DocumentFromConfig(original, scene).WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if !strings.Contains(buf.String(), "\n  \"scan\": {") {
		t.Errorf("expected two-space indentation:\n%s", buf.String())
	}

	var raw map[string]any
	if err := json.Unmarshal(buf.Bytes(), &raw); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	fov := raw["scan"].(map[string]any)["fov_deg"].(map[string]any)
	if fov["h"] != 360.0 {
		t.Errorf("exported fov_deg.h = %v, want clamped 360", fov["h"])
	}

	doc, err := ParseScanDocument(buf.Bytes(), ".json")
	if err != nil {
		t.Fatalf("ParseScanDocument: %v", err)
	}
	restored := lidar.NewScanConfig()
	if err := doc.Apply(restored); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if diff := cmp.Diff(original, restored.Snapshot()); diff != "" {
		t.Errorf("round trip changed settings (-want +got):\n%s", diff)
	}
}

func TestDocumentFromConfig_EmptyFormatsSurvive(t *testing.T) {
	cfg := lidar.NewScanConfig()
	cfg.SetOutput(lidar.OutputSettings{Formats: nil, Path: "//x/", Filename: "run"})
	original := cfg.Snapshot()
	if len(original.Output.Formats) != 0 {
		t.Fatalf("formats = %v, want empty", original.Output.Formats)
	}

	tests := []struct {
		name  string
		ext   string
		write func(*ScanDocument, *bytes.Buffer) error
	}{
		{"json", ".json", func(d *ScanDocument, b *bytes.Buffer) error { return d.WriteJSON(b) }},
		{"yaml", ".yaml", func(d *ScanDocument, b *bytes.Buffer) error { return d.WriteYAML(b) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := tt.write(DocumentFromConfig(original, nil), &buf); err != nil {
				t.Fatalf("write: %v", err)
			}
			if !strings.Contains(buf.String(), "formats") {
				t.Errorf("formats key dropped:\n%s", buf.String())
			}
			doc, err := ParseScanDocument(buf.Bytes(), tt.ext)
			if err != nil {
				t.Fatalf("ParseScanDocument: %v", err)
			}
			restored := lidar.NewScanConfig()
			if err := doc.Apply(restored); err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if got := restored.Snapshot().Output.Formats; len(got) != 0 {
				t.Errorf("restored formats = %v, want empty", got)
			}
		})
	}
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	doc := DocumentFromConfig(lidar.NewScanConfig().Snapshot(), nil)
	if err := doc.WriteYAML(&buf); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	parsed, err := ParseScanDocument(buf.Bytes(), ".yaml")
	if err != nil {
		t.Fatalf("ParseScanDocument: %v\n%s", err, buf.String())
	}
	if diff := cmp.Diff(doc.Scan, parsed.Scan); diff != "" {
		t.Errorf("YAML round trip (-want +got):\n%s", diff)
	}
}
