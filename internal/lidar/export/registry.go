// Package export owns the point cloud codec bank: one encoder per
// interchange format, a registry keyed by format tag, and an Exporter that
// writes every requested format for a sweep atomically and independently.
package export

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/scansim/internal/lidar"
)

// Format tags.
const (
	FormatPLY       = "ply"
	FormatPLYBinary = "ply_binary"
	FormatCSV       = "csv"
	FormatPCD       = "pcd"
	FormatXYZ       = "xyz"
	FormatLAS       = "las"
)

// KnownFormats lists every format tag the codec bank defines, whether or
// not its encoder is compiled into this build.
var KnownFormats = []string{FormatPLY, FormatPLYBinary, FormatCSV, FormatPCD, FormatXYZ, FormatLAS}

var (
	// ErrFormatUnavailable is returned for a known format whose encoder is
	// not compiled in (LAS under the nolas build tag).
	ErrFormatUnavailable = errors.New("export format unavailable")
	// ErrUnknownFormat is returned for a tag the codec bank does not define.
	ErrUnknownFormat = errors.New("unknown export format")
)

// Options selects the optional field groups an encoder emits.
type Options struct {
	IncludeNormals   bool
	IncludeIntensity bool
	IncludeLabels    bool

	// CreatedAt stamps formats with a creation date field. Zero leaves it unset.
	CreatedAt time.Time
}

// OptionsFromOutput maps output settings onto encoder options.
func OptionsFromOutput(out lidar.OutputSettings) Options {
	return Options{
		IncludeNormals:   out.IncludeNormals,
		IncludeIntensity: out.IncludeIntensity,
		IncludeLabels:    out.IncludeLabels,
	}
}

// Encoder serialises a point list in one interchange format. Encoders must
// accept an empty slice and produce a valid zero-point file, and must not
// modify points.
type Encoder interface {
	Format() string
	Extension() string
	Encode(w io.Writer, points []lidar.ScanPoint, opts Options) error
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Encoder)
)

// Register makes an encoder available by its format tag. It panics if the
// tag is registered twice.
func Register(e Encoder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[e.Format()]; dup {
		panic("export: Register called twice for format " + e.Format())
	}
	registry[e.Format()] = e
}

// Lookup returns the encoder for a format tag.
func Lookup(format string) (Encoder, error) {
	registryMu.RLock()
	e, ok := registry[format]
	registryMu.RUnlock()
	if ok {
		return e, nil
	}
	for _, k := range KnownFormats {
		if k == format {
			return nil, fmt.Errorf("%w: %s", ErrFormatUnavailable, format)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Formats returns the registered format tags in sorted order.
func Formats() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
