package export

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/banshee-data/scansim/internal/lidar"
)

func init() {
	Register(plyASCII{})
	Register(plyBinary{})
}

// plyASCII writes "x y z [nx ny nz] [intensity distance] [red green blue]"
// with six decimals. Labels are rendered as an intensity greyscale.
type plyASCII struct{}

func (plyASCII) Format() string    { return FormatPLY }
func (plyASCII) Extension() string { return "ply" }

func (plyASCII) Encode(w io.Writer, points []lidar.ScanPoint, opts Options) error {
	bw := bufio.NewWriter(w)
	writePLYHeader(bw, "ascii", len(points), opts, true)

	line := make([]byte, 0, 160)
	for i := range points {
		p := &points[i]
		line = appendFloats(line[:0], p.Position.X, p.Position.Y, p.Position.Z)
		if opts.IncludeNormals {
			line = append(line, ' ')
			line = appendFloats(line, p.Normal.X, p.Normal.Y, p.Normal.Z)
		}
		if opts.IncludeIntensity {
			line = append(line, ' ')
			line = appendFloats(line, p.Intensity, p.Distance)
		}
		if opts.IncludeLabels {
			gray := strconv.Itoa(grey(p.Intensity))
			line = append(line, ' ')
			line = append(line, gray...)
			line = append(line, ' ')
			line = append(line, gray...)
			line = append(line, ' ')
			line = append(line, gray...)
		}
		line = append(line, '\n')
		if _, err := bw.Write(line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// plyBinary writes the same property set as plyASCII minus the colour
// channels, each as a little-endian float32 with no padding.
type plyBinary struct{}

func (plyBinary) Format() string    { return FormatPLYBinary }
func (plyBinary) Extension() string { return "bin.ply" }

func (plyBinary) Encode(w io.Writer, points []lidar.ScanPoint, opts Options) error {
	bw := bufio.NewWriter(w)
	writePLYHeader(bw, "binary_little_endian", len(points), opts, false)

	rec := make([]byte, 0, 8*4)
	for i := range points {
		p := &points[i]
		rec = appendFloat32LE(rec[:0], p.Position.X, p.Position.Y, p.Position.Z)
		if opts.IncludeNormals {
			rec = appendFloat32LE(rec, p.Normal.X, p.Normal.Y, p.Normal.Z)
		}
		if opts.IncludeIntensity {
			rec = appendFloat32LE(rec, p.Intensity, p.Distance)
		}
		if _, err := bw.Write(rec); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writePLYHeader(w *bufio.Writer, format string, n int, opts Options, colour bool) {
	fmt.Fprintf(w, "ply\nformat %s 1.0\nelement vertex %d\n", format, n)
	w.WriteString("property float x\nproperty float y\nproperty float z\n")
	if opts.IncludeNormals {
		w.WriteString("property float nx\nproperty float ny\nproperty float nz\n")
	}
	if opts.IncludeIntensity {
		w.WriteString("property float intensity\nproperty float distance\n")
	}
	if colour && opts.IncludeLabels {
		w.WriteString("property uchar red\nproperty uchar green\nproperty uchar blue\n")
	}
	w.WriteString("end_header\n")
}

// grey maps an intensity in [0,1] linearly onto 0..255, truncating.
func grey(intensity float64) int {
	g := int(intensity * 255)
	if g < 0 {
		return 0
	}
	if g > 255 {
		return 255
	}
	return g
}

// appendFloats appends space-separated values with six decimals.
func appendFloats(b []byte, vs ...float64) []byte {
	for i, v := range vs {
		if i > 0 {
			b = append(b, ' ')
		}
		b = strconv.AppendFloat(b, v, 'f', 6, 64)
	}
	return b
}

func appendFloat32LE(b []byte, vs ...float64) []byte {
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(v)))
	}
	return b
}
