package export

import (
	"bufio"
	"fmt"
	"io"

	"github.com/banshee-data/scansim/internal/lidar"
)

func init() { Register(pcdEncoder{}) }

// pcdEncoder writes PCD v0.7 with ASCII data, as an unorganised cloud
// (HEIGHT 1) seen from the identity viewpoint.
type pcdEncoder struct{}

func (pcdEncoder) Format() string    { return FormatPCD }
func (pcdEncoder) Extension() string { return "pcd" }

func (pcdEncoder) Encode(w io.Writer, points []lidar.ScanPoint, opts Options) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("# .PCD v0.7 - Point Cloud Data file format\nVERSION 0.7\n")
	if opts.IncludeIntensity {
		bw.WriteString("FIELDS x y z intensity\nSIZE 4 4 4 4\nTYPE F F F F\nCOUNT 1 1 1 1\n")
	} else {
		bw.WriteString("FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n")
	}
	fmt.Fprintf(bw, "WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\nDATA ascii\n", len(points), len(points))

	if err := writeXYZLines(bw, points, opts.IncludeIntensity); err != nil {
		return err
	}
	return bw.Flush()
}
