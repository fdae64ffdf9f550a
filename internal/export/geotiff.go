package export

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sertao-labs/sentinela/internal/lens"
	"github.com/sertao-labs/sentinela/internal/raster"
)

// MaxTIFFPixels caps the exported raster size; larger grids are coarsened
// before encoding.
const MaxTIFFPixels = 4_000_000

// WriteGeoTIFF colorizes the index grid through the lens palette and
// writes it as an uncompressed RGBA GeoTIFF in geographic WGS84
// coordinates. Nodata pixels come out fully transparent.
func WriteGeoTIFF(w io.Writer, g *raster.Grid, vis lens.Vis) error {
	if g == nil || g.Width == 0 || g.Height == 0 {
		return eris.New("export: empty grid")
	}

	for int64(g.Width)*int64(g.Height) > MaxTIFFPixels {
		g = raster.Coarsen(g, 2)
	}

	img, err := colorize(g, vis)
	if err != nil {
		return err
	}

	tags := map[uint16]any{
		tagModelPixelScale: []float64{g.PixelSize, g.PixelSize, 0},
		// Pixel (0,0) maps to the grid's top-left corner.
		tagModelTiepoint: []float64{0, 0, 0, g.OriginX, g.OriginY, 0},
		tagGeoKeyDirectory: []uint16{
			1, 1, 0, 3,
			1024, 0, 1, 2, // GTModelTypeGeoKey: geographic
			1025, 0, 1, 1, // GTRasterTypeGeoKey: pixel is area
			2048, 0, 1, 4326, // GeographicTypeGeoKey: WGS 84
		},
	}

	return encodeTIFF(w, img, tags)
}

// colorize maps grid values onto the palette, linearly interpolating
// between stops over [vis.Min, vis.Max].
func colorize(g *raster.Grid, vis lens.Vis) (*image.RGBA, error) {
	stops := make([]color.RGBA, len(vis.Palette))
	for i, hex := range vis.Palette {
		c, err := parseHexColor(hex)
		if err != nil {
			return nil, err
		}
		stops[i] = c
	}
	if len(stops) == 0 {
		stops = []color.RGBA{{A: 255}, {R: 255, G: 255, B: 255, A: 255}}
	}

	span := vis.Max - vis.Min
	if span == 0 {
		span = 1
	}

	img := image.NewRGBA(image.Rect(0, 0, g.Width, g.Height))
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			v := g.At(x, y)
			if math.IsNaN(v) {
				continue // transparent
			}
			t := (v - vis.Min) / span
			img.SetRGBA(x, y, sample(stops, t))
		}
	}
	return img, nil
}

func sample(stops []color.RGBA, t float64) color.RGBA {
	t = math.Max(0, math.Min(1, t))
	if len(stops) == 1 {
		return stops[0]
	}

	pos := t * float64(len(stops)-1)
	i := int(pos)
	if i >= len(stops)-1 {
		return stops[len(stops)-1]
	}
	f := pos - float64(i)
	a, b := stops[i], stops[i+1]
	lerp := func(x, y uint8) uint8 { return uint8(float64(x) + f*(float64(y)-float64(x))) }
	return color.RGBA{R: lerp(a.R, b.R), G: lerp(a.G, b.G), B: lerp(a.B, b.B), A: 255}
}

func parseHexColor(s string) (color.RGBA, error) {
	if len(s) != 7 || s[0] != '#' {
		return color.RGBA{}, eris.Errorf("export: bad palette color %q", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return color.RGBA{}, eris.Errorf("export: bad palette color %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// Minimal single-strip little-endian TIFF writer with GeoTIFF tags.

const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagExtraSamples    = 338

	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735

	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
)

var tiffOrder = binary.LittleEndian

type ifdEntry struct {
	tag      uint16
	datatype uint16
	count    uint32
	data     []byte
}

func encodeTIFF(w io.Writer, img *image.RGBA, extraTags map[uint16]any) error {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	pixels := make([]byte, 0, width*height*4)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		row := img.Pix[img.PixOffset(bounds.Min.X, y):img.PixOffset(bounds.Max.X, y)]
		pixels = append(pixels, row...)
	}

	var entries []ifdEntry
	add := func(tag uint16, datatype uint16, count uint32, data []byte) {
		entries = append(entries, ifdEntry{tag, datatype, count, data})
	}

	add(tagImageWidth, typeLong, 1, u32(uint32(width)))
	add(tagImageLength, typeLong, 1, u32(uint32(height)))
	add(tagBitsPerSample, typeShort, 4, u16s(8, 8, 8, 8))
	add(tagCompression, typeShort, 1, u16s(1))
	add(tagPhotometric, typeShort, 1, u16s(2)) // RGB
	add(tagStripOffsets, typeLong, 1, nil)     // fixed up below
	add(tagSamplesPerPixel, typeShort, 1, u16s(4))
	add(tagRowsPerStrip, typeLong, 1, u32(uint32(height)))
	add(tagStripByteCounts, typeLong, 1, u32(uint32(len(pixels))))
	add(tagExtraSamples, typeShort, 1, u16s(2)) // unassociated alpha

	for tag, val := range extraTags {
		switch v := val.(type) {
		case []uint16:
			add(tag, typeShort, uint32(len(v)), u16s(v...))
		case []float64:
			add(tag, typeDouble, uint32(len(v)), f64s(v))
		default:
			return eris.Errorf("export: unsupported tag value for %d", tag)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// Layout: 8-byte header, IFD, out-of-line values, pixel strip.
	ifdSize := 2 + 12*len(entries) + 4
	valueOffset := 8 + ifdSize

	var overflow bytes.Buffer
	for i := range entries {
		e := &entries[i]
		if e.tag == tagStripOffsets {
			continue
		}
		if len(e.data) > 4 {
			off := uint32(valueOffset + overflow.Len())
			overflow.Write(e.data)
			e.data = u32(off)
		}
	}

	pixelOffset := uint32(valueOffset + overflow.Len())
	for i := range entries {
		if entries[i].tag == tagStripOffsets {
			entries[i].data = u32(pixelOffset)
		}
	}

	header := []byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00}
	if _, err := w.Write(header); err != nil {
		return eris.Wrap(err, "export: write tiff header")
	}
	if err := binary.Write(w, tiffOrder, uint16(len(entries))); err != nil {
		return eris.Wrap(err, "export: write ifd count")
	}
	for _, e := range entries {
		if err := binary.Write(w, tiffOrder, e.tag); err != nil {
			return err
		}
		if err := binary.Write(w, tiffOrder, e.datatype); err != nil {
			return err
		}
		if err := binary.Write(w, tiffOrder, e.count); err != nil {
			return err
		}
		var val [4]byte
		copy(val[:], e.data)
		if _, err := w.Write(val[:]); err != nil {
			return err
		}
	}
	if err := binary.Write(w, tiffOrder, uint32(0)); err != nil {
		return eris.Wrap(err, "export: write next-ifd offset")
	}
	if _, err := overflow.WriteTo(w); err != nil {
		return eris.Wrap(err, "export: write tag values")
	}
	if _, err := w.Write(pixels); err != nil {
		return eris.Wrap(err, "export: write pixels")
	}
	return nil
}

func u16s(vs ...uint16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		tiffOrder.PutUint16(b[i*2:], v)
	}
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	tiffOrder.PutUint32(b, v)
	return b
}

func f64s(vs []float64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		tiffOrder.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return b
}
