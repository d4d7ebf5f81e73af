//go:build !nolas

package export

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/banshee-data/scansim/internal/lidar"
	"github.com/banshee-data/scansim/internal/version"
)

func init() { Register(lasEncoder{}) }

// LAS 1.4 layout constants for point data record format 3.
const (
	lasHeaderSize   = 375
	lasRecordFormat = 3
	lasRecordLength = 34
	lasScale        = 0.001
	lasMaxReturns   = 15
)

// lasEncoder writes LAS 1.4 with point data record format 3 and no VLRs.
// Coordinates are stored at millimetre scale with offsets at the floor of
// the cloud's minimum corner.
type lasEncoder struct{}

func (lasEncoder) Format() string    { return FormatLAS }
func (lasEncoder) Extension() string { return "las" }

func (lasEncoder) Encode(w io.Writer, points []lidar.ScanPoint, opts Options) error {
	h := newLASHeader(points, opts)

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(h.marshal()); err != nil {
		return err
	}

	rec := make([]byte, lasRecordLength)
	for i := range points {
		if err := h.putRecord(rec, &points[i], opts); err != nil {
			return fmt.Errorf("point %d: %w", i, err)
		}
		if _, err := bw.Write(rec); err != nil {
			return err
		}
	}
	return bw.Flush()
}

type lasHeader struct {
	dayOfYear, year uint16
	offset          [3]float64
	min, max        [3]float64
	count           uint64
	byReturn        [lasMaxReturns]uint64
}

func newLASHeader(points []lidar.ScanPoint, opts Options) *lasHeader {
	h := &lasHeader{count: uint64(len(points))}
	if !opts.CreatedAt.IsZero() {
		h.dayOfYear = uint16(opts.CreatedAt.YearDay())
		h.year = uint16(opts.CreatedAt.Year())
	}
	if len(points) == 0 {
		return h
	}

	for axis := 0; axis < 3; axis++ {
		h.min[axis] = math.Inf(1)
		h.max[axis] = math.Inf(-1)
	}
	for i := range points {
		c := coords(&points[i])
		for axis := 0; axis < 3; axis++ {
			h.min[axis] = math.Min(h.min[axis], c[axis])
			h.max[axis] = math.Max(h.max[axis], c[axis])
		}
		if r := points[i].ReturnNumber; r >= 1 && r <= lasMaxReturns {
			h.byReturn[r-1]++
		}
	}
	for axis := 0; axis < 3; axis++ {
		h.offset[axis] = math.Floor(h.min[axis])
	}
	return h
}

func coords(p *lidar.ScanPoint) [3]float64 {
	return [3]float64{p.Position.X, p.Position.Y, p.Position.Z}
}

func (h *lasHeader) marshal() []byte {
	b := make([]byte, lasHeaderSize)
	le := binary.LittleEndian

	copy(b[0:4], "LASF")
	// file source ID, global encoding and project GUID stay zero
	b[24], b[25] = 1, 4
	copy(b[26:58], "scansim")
	copy(b[58:90], truncate("scansim "+version.Version, 31))
	le.PutUint16(b[90:], h.dayOfYear)
	le.PutUint16(b[92:], h.year)
	le.PutUint16(b[94:], lasHeaderSize)
	le.PutUint32(b[96:], lasHeaderSize) // offset to point data
	le.PutUint32(b[100:], 0)            // VLR count
	b[104] = lasRecordFormat
	le.PutUint16(b[105:], lasRecordLength)

	// legacy 32-bit counts are zero when the totals do not fit
	if h.count <= math.MaxUint32 {
		le.PutUint32(b[107:], uint32(h.count))
		for i := 0; i < 5; i++ {
			le.PutUint32(b[111+4*i:], uint32(h.byReturn[i]))
		}
	}

	putF64 := func(off int, v float64) { le.PutUint64(b[off:], math.Float64bits(v)) }
	for axis := 0; axis < 3; axis++ {
		putF64(131+8*axis, lasScale)
		putF64(155+8*axis, h.offset[axis])
		putF64(179+16*axis, h.max[axis])
		putF64(187+16*axis, h.min[axis])
	}
	// waveform start (227), first EVLR (235) and EVLR count (243) stay zero
	le.PutUint64(b[247:], h.count)
	for i := 0; i < lasMaxReturns; i++ {
		le.PutUint64(b[255+8*i:], h.byReturn[i])
	}
	return b
}

func (h *lasHeader) putRecord(rec []byte, p *lidar.ScanPoint, opts Options) error {
	le := binary.LittleEndian
	for i := range rec {
		rec[i] = 0
	}
	c := coords(p)
	for axis := 0; axis < 3; axis++ {
		q := math.Round((c[axis] - h.offset[axis]) / lasScale)
		if q < math.MinInt32 || q > math.MaxInt32 || math.IsNaN(q) {
			return fmt.Errorf("coordinate %v out of LAS range", c[axis])
		}
		le.PutUint32(rec[4*axis:], uint32(int32(q)))
	}
	if opts.IncludeIntensity {
		le.PutUint16(rec[12:], lasIntensity(p.Intensity))
	}
	rec[14] = lasReturnByte(p.ReturnNumber, p.NumReturns)
	return nil
}

// lasIntensity rescales [0,1] onto the 16-bit range, truncating.
func lasIntensity(v float64) uint16 {
	switch {
	case v <= 0 || math.IsNaN(v):
		return 0
	case v >= 1:
		return math.MaxUint16
	}
	return uint16(v * 65535)
}

// lasReturnByte packs return number (bits 0-2) and number of returns
// (bits 3-5), each limited to the 3-bit range of the legacy formats.
func lasReturnByte(returnNumber, numReturns int) byte {
	clamp3 := func(v int) byte {
		if v < 0 {
			return 0
		}
		if v > 7 {
			return 7
		}
		return byte(v)
	}
	return clamp3(returnNumber) | clamp3(numReturns)<<3
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
