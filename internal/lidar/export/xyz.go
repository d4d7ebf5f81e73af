package export

import (
	"bufio"
	"io"

	"github.com/banshee-data/scansim/internal/lidar"
)

func init() { Register(xyzEncoder{}) }

// xyzEncoder writes "x y z [intensity]" per line with no header.
type xyzEncoder struct{}

func (xyzEncoder) Format() string    { return FormatXYZ }
func (xyzEncoder) Extension() string { return "xyz" }

func (xyzEncoder) Encode(w io.Writer, points []lidar.ScanPoint, opts Options) error {
	bw := bufio.NewWriter(w)
	if err := writeXYZLines(bw, points, opts.IncludeIntensity); err != nil {
		return err
	}
	return bw.Flush()
}

// writeXYZLines is shared with the PCD body, which has the same layout.
func writeXYZLines(w *bufio.Writer, points []lidar.ScanPoint, intensity bool) error {
	line := make([]byte, 0, 64)
	for i := range points {
		p := &points[i]
		line = appendFloats(line[:0], p.Position.X, p.Position.Y, p.Position.Z)
		if intensity {
			line = append(line, ' ')
			line = appendFloats(line, p.Intensity)
		}
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
	return nil
}
