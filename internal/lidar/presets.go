package lidar

import (
	"math"
	"strings"
)

// PresetCatalogVersion identifies the revision of the built-in catalog.
const PresetCatalogVersion = "2024.1"

// DefaultPresetKey is used when a lookup misses.
const DefaultPresetKey = "GENERIC_32"

// AutoPresetKey leaves the scan configuration untouched.
const AutoPresetKey = "AUTO"

// SensorPreset describes a sensor model. Presets are read-only.
type SensorPreset struct {
	Key             string
	Name            string
	Manufacturer    string
	Channels        int
	FOVH            float64 // degrees
	FOVV            float64 // degrees
	ResolutionH     float64 // degrees
	ResolutionV     float64 // degrees
	RangeMin        float64 // metres
	RangeMax        float64 // metres
	PointsPerSecond int
	RotationRateHz  float64 // 0 for solid-state scanners
	RangeAccuracy   float64 // metres, 1 sigma
	Description     string
}

// EstimatedRays returns the number of rays one sweep with this preset casts.
func (p SensorPreset) EstimatedRays() int {
	return EstimateRays(p.FOVH, p.FOVV, p.ResolutionH, p.ResolutionV)
}

// 2D scanners with no vertical field of view are stored as one row
// (FOVV 1, ResolutionV 5) so the clamped configuration still sweeps once.
var presetCatalog = []SensorPreset{
	{Key: "VELODYNE_VLP16", Name: "Velodyne VLP-16 Puck", Manufacturer: "Velodyne", Channels: 16,
		FOVH: 360, FOVV: 30, ResolutionH: 0.2, ResolutionV: 2.0, RangeMin: 0.5, RangeMax: 100,
		PointsPerSecond: 300000, RotationRateHz: 10, RangeAccuracy: 0.03,
		Description: "16-channel low-cost spinning LiDAR"},
	{Key: "VELODYNE_VLP16_HI_RES", Name: "Velodyne VLP-16 Hi-Res", Manufacturer: "Velodyne", Channels: 16,
		FOVH: 360, FOVV: 20, ResolutionH: 0.1, ResolutionV: 1.33, RangeMin: 0.5, RangeMax: 100,
		PointsPerSecond: 600000, RotationRateHz: 10, RangeAccuracy: 0.03,
		Description: "16-channel high-resolution spinning LiDAR"},
	{Key: "VELODYNE_HDL32", Name: "Velodyne HDL-32E", Manufacturer: "Velodyne", Channels: 32,
		FOVH: 360, FOVV: 41.33, ResolutionH: 0.16, ResolutionV: 1.33, RangeMin: 1.0, RangeMax: 100,
		PointsPerSecond: 700000, RotationRateHz: 10, RangeAccuracy: 0.02,
		Description: "32-channel spinning LiDAR"},
	{Key: "VELODYNE_HDL64", Name: "Velodyne HDL-64E", Manufacturer: "Velodyne", Channels: 64,
		FOVH: 360, FOVV: 26.8, ResolutionH: 0.08, ResolutionV: 0.42, RangeMin: 1.0, RangeMax: 120,
		PointsPerSecond: 1300000, RotationRateHz: 10, RangeAccuracy: 0.02,
		Description: "64-channel high-end spinning LiDAR"},
	{Key: "VELODYNE_VLS128", Name: "Velodyne VLS-128 (Alpha Prime)", Manufacturer: "Velodyne", Channels: 128,
		FOVH: 360, FOVV: 40, ResolutionH: 0.1, ResolutionV: 0.31, RangeMin: 1.0, RangeMax: 300,
		PointsPerSecond: 2400000, RotationRateHz: 10, RangeAccuracy: 0.03,
		Description: "128-channel premium LiDAR"},

	{Key: "OUSTER_OS0_32", Name: "Ouster OS0-32", Manufacturer: "Ouster", Channels: 32,
		FOVH: 360, FOVV: 90, ResolutionH: 0.35, ResolutionV: 2.8, RangeMin: 0.3, RangeMax: 50,
		PointsPerSecond: 655360, RotationRateHz: 10, RangeAccuracy: 0.03,
		Description: "Wide FOV short-range LiDAR"},
	{Key: "OUSTER_OS1_32", Name: "Ouster OS1-32", Manufacturer: "Ouster", Channels: 32,
		FOVH: 360, FOVV: 45, ResolutionH: 0.35, ResolutionV: 1.4, RangeMin: 0.3, RangeMax: 120,
		PointsPerSecond: 655360, RotationRateHz: 10, RangeAccuracy: 0.03,
		Description: "32-channel mid-range LiDAR"},
	{Key: "OUSTER_OS1_64", Name: "Ouster OS1-64", Manufacturer: "Ouster", Channels: 64,
		FOVH: 360, FOVV: 45, ResolutionH: 0.35, ResolutionV: 0.7, RangeMin: 0.3, RangeMax: 120,
		PointsPerSecond: 1310720, RotationRateHz: 10, RangeAccuracy: 0.03,
		Description: "64-channel mid-range LiDAR"},
	{Key: "OUSTER_OS1_128", Name: "Ouster OS1-128", Manufacturer: "Ouster", Channels: 128,
		FOVH: 360, FOVV: 45, ResolutionH: 0.35, ResolutionV: 0.35, RangeMin: 0.3, RangeMax: 120,
		PointsPerSecond: 2621440, RotationRateHz: 10, RangeAccuracy: 0.03,
		Description: "128-channel mid-range LiDAR"},
	{Key: "OUSTER_OS2_64", Name: "Ouster OS2-64", Manufacturer: "Ouster", Channels: 64,
		FOVH: 360, FOVV: 22.5, ResolutionH: 0.18, ResolutionV: 0.35, RangeMin: 0.5, RangeMax: 240,
		PointsPerSecond: 1310720, RotationRateHz: 10, RangeAccuracy: 0.025,
		Description: "64-channel long-range LiDAR"},

	{Key: "LIVOX_MID40", Name: "Livox Mid-40", Manufacturer: "Livox", Channels: 1,
		FOVH: 38.4, FOVV: 38.4, ResolutionH: 0.05, ResolutionV: 0.05, RangeMin: 1.0, RangeMax: 260,
		PointsPerSecond: 100000, RangeAccuracy: 0.02,
		Description: "Non-repetitive solid-state LiDAR"},
	{Key: "LIVOX_MID70", Name: "Livox Mid-70", Manufacturer: "Livox", Channels: 1,
		FOVH: 70.4, FOVV: 77.2, ResolutionH: 0.05, ResolutionV: 0.05, RangeMin: 0.05, RangeMax: 260,
		PointsPerSecond: 100000, RangeAccuracy: 0.02,
		Description: "Wide-angle solid-state LiDAR"},
	{Key: "LIVOX_HORIZON", Name: "Livox Horizon", Manufacturer: "Livox", Channels: 6,
		FOVH: 81.7, FOVV: 25.1, ResolutionH: 0.03, ResolutionV: 0.03, RangeMin: 0.5, RangeMax: 260,
		PointsPerSecond: 240000, RangeAccuracy: 0.02,
		Description: "Automotive-grade solid-state LiDAR"},
	{Key: "LIVOX_AVIA", Name: "Livox Avia", Manufacturer: "Livox", Channels: 1,
		FOVH: 70.4, FOVV: 77.2, ResolutionH: 0.05, ResolutionV: 0.05, RangeMin: 1.0, RangeMax: 450,
		PointsPerSecond: 240000, RangeAccuracy: 0.02,
		Description: "Long-range solid-state LiDAR"},

	{Key: "HESAI_PANDAR40P", Name: "Hesai Pandar40P", Manufacturer: "Hesai", Channels: 40,
		FOVH: 360, FOVV: 40, ResolutionH: 0.2, ResolutionV: 1.0, RangeMin: 0.3, RangeMax: 200,
		PointsPerSecond: 720000, RotationRateHz: 10, RangeAccuracy: 0.02,
		Description: "40-channel spinning LiDAR"},
	{Key: "HESAI_PANDAR64", Name: "Hesai Pandar64", Manufacturer: "Hesai", Channels: 64,
		FOVH: 360, FOVV: 40, ResolutionH: 0.2, ResolutionV: 0.625, RangeMin: 0.3, RangeMax: 200,
		PointsPerSecond: 1152000, RotationRateHz: 10, RangeAccuracy: 0.02,
		Description: "64-channel spinning LiDAR"},
	{Key: "HESAI_PANDAR128", Name: "Hesai Pandar128", Manufacturer: "Hesai", Channels: 128,
		FOVH: 360, FOVV: 40, ResolutionH: 0.1, ResolutionV: 0.31, RangeMin: 0.3, RangeMax: 200,
		PointsPerSecond: 2304000, RotationRateHz: 10, RangeAccuracy: 0.02,
		Description: "128-channel spinning LiDAR"},
	{Key: "HESAI_AT128", Name: "Hesai AT128", Manufacturer: "Hesai", Channels: 128,
		FOVH: 120, FOVV: 25.4, ResolutionH: 0.1, ResolutionV: 0.2, RangeMin: 0.5, RangeMax: 200,
		PointsPerSecond: 1536000, RotationRateHz: 10, RangeAccuracy: 0.03,
		Description: "Solid-state automotive LiDAR"},

	{Key: "ROBOSENSE_RS16", Name: "RoboSense RS-16", Manufacturer: "RoboSense", Channels: 16,
		FOVH: 360, FOVV: 30, ResolutionH: 0.2, ResolutionV: 2.0, RangeMin: 0.4, RangeMax: 150,
		PointsPerSecond: 320000, RotationRateHz: 10, RangeAccuracy: 0.02,
		Description: "16-channel spinning LiDAR"},
	{Key: "ROBOSENSE_RS32", Name: "RoboSense RS-32", Manufacturer: "RoboSense", Channels: 32,
		FOVH: 360, FOVV: 40, ResolutionH: 0.2, ResolutionV: 1.25, RangeMin: 0.4, RangeMax: 200,
		PointsPerSecond: 640000, RotationRateHz: 10, RangeAccuracy: 0.03,
		Description: "32-channel spinning LiDAR"},
	{Key: "ROBOSENSE_RS128", Name: "RoboSense RS-128", Manufacturer: "RoboSense", Channels: 128,
		FOVH: 360, FOVV: 40, ResolutionH: 0.1, ResolutionV: 0.31, RangeMin: 0.4, RangeMax: 250,
		PointsPerSecond: 2304000, RotationRateHz: 10, RangeAccuracy: 0.03,
		Description: "128-channel high-end LiDAR"},

	{Key: "SICK_LMS511", Name: "SICK LMS511", Manufacturer: "SICK", Channels: 1,
		FOVH: 190, FOVV: 1, ResolutionH: 0.167, ResolutionV: 5, RangeMin: 0.7, RangeMax: 80,
		PointsPerSecond: 29000, RotationRateHz: 25, RangeAccuracy: 0.024,
		Description: "2D safety laser scanner"},

	{Key: "GENERIC_16", Name: "Generic 16-Channel", Manufacturer: "Generic", Channels: 16,
		FOVH: 360, FOVV: 30, ResolutionH: 0.2, ResolutionV: 2.0, RangeMin: 0.1, RangeMax: 100,
		PointsPerSecond: 300000, RotationRateHz: 10, RangeAccuracy: 0.02,
		Description: "Generic 16-channel configuration"},
	{Key: "GENERIC_32", Name: "Generic 32-Channel", Manufacturer: "Generic", Channels: 32,
		FOVH: 360, FOVV: 40, ResolutionH: 0.2, ResolutionV: 1.25, RangeMin: 0.1, RangeMax: 100,
		PointsPerSecond: 600000, RotationRateHz: 10, RangeAccuracy: 0.02,
		Description: "Generic 32-channel configuration"},
	{Key: "GENERIC_64", Name: "Generic 64-Channel", Manufacturer: "Generic", Channels: 64,
		FOVH: 360, FOVV: 26.8, ResolutionH: 0.1, ResolutionV: 0.42, RangeMin: 0.1, RangeMax: 120,
		PointsPerSecond: 1200000, RotationRateHz: 10, RangeAccuracy: 0.02,
		Description: "Generic 64-channel configuration"},
}

var presetAliases = map[string]string{
	"VELODYNE":  "VELODYNE_VLP16",
	"GENERIC32": "GENERIC_32",
}

var presetIndex = func() map[string]int {
	idx := make(map[string]int, len(presetCatalog))
	for i, p := range presetCatalog {
		idx[p.Key] = i
	}
	return idx
}()

// Presets returns the catalog in display order.
func Presets() []SensorPreset {
	out := make([]SensorPreset, len(presetCatalog))
	copy(out, presetCatalog)
	return out
}

// LookupPreset finds a preset by key, case-insensitively. Legacy aliases
// such as "Velodyne" and "Generic32" resolve to their catalog entries.
func LookupPreset(key string) (SensorPreset, bool) {
	k := strings.ToUpper(strings.TrimSpace(key))
	if alias, ok := presetAliases[k]; ok {
		k = alias
	}
	i, ok := presetIndex[k]
	if !ok {
		return SensorPreset{}, false
	}
	return presetCatalog[i], true
}

// GetPreset returns the preset for key, or the generic 32-channel preset
// when the key is unknown.
func GetPreset(key string) SensorPreset {
	if p, ok := LookupPreset(key); ok {
		return p
	}
	p, _ := LookupPreset(DefaultPresetKey)
	return p
}

// EstimateRays returns the number of rays a sweep casts for the given
// field of view and resolution. A zero vertical field of view counts as a
// single row.
func EstimateRays(fovH, fovV, resH, resV float64) int {
	h := axisSteps(fovH, resH) + 1
	v := 1
	if fovV > 0 {
		v = axisSteps(fovV, resV) + 1
	}
	return h * v
}

// axisSteps is floor(fov/res) with non-positive or NaN resolution replaced
// by the minimum resolution. A tiny epsilon absorbs representation error
// so that 30/0.1 counts 300 steps, not 299.
func axisSteps(fov, res float64) int {
	if math.IsNaN(res) || res < MinResolution {
		res = MinResolution
	}
	if math.IsNaN(fov) || fov <= 0 {
		return 0
	}
	return int(math.Floor(fov/res + 1e-9))
}
