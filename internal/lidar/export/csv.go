package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/banshee-data/scansim/internal/lidar"
)

func init() { Register(csvEncoder{}) }

// csvEncoder writes one row per point. The angle and return columns are
// always present; angles use four decimals, everything else six.
type csvEncoder struct{}

func (csvEncoder) Format() string    { return FormatCSV }
func (csvEncoder) Extension() string { return "csv" }

func (csvEncoder) Encode(w io.Writer, points []lidar.ScanPoint, opts Options) error {
	cw := csv.NewWriter(w)

	header := []string{"x", "y", "z"}
	if opts.IncludeNormals {
		header = append(header, "nx", "ny", "nz")
	}
	if opts.IncludeIntensity {
		header = append(header, "intensity", "distance")
	}
	if opts.IncludeLabels {
		header = append(header, "object_name", "category_id")
	}
	header = append(header, "angle_h", "angle_v", "return_number")
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, 0, len(header))
	for i := range points {
		p := &points[i]
		row = append(row[:0], f6(p.Position.X), f6(p.Position.Y), f6(p.Position.Z))
		if opts.IncludeNormals {
			row = append(row, f6(p.Normal.X), f6(p.Normal.Y), f6(p.Normal.Z))
		}
		if opts.IncludeIntensity {
			row = append(row, f6(p.Intensity), f6(p.Distance))
		}
		if opts.IncludeLabels {
			row = append(row, p.ObjectName, p.CategoryID)
		}
		row = append(row,
			strconv.FormatFloat(p.AngleH, 'f', 4, 64),
			strconv.FormatFloat(p.AngleV, 'f', 4, 64),
			strconv.Itoa(p.ReturnNumber),
		)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func f6(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
