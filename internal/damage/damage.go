// Package damage implements C4: tile-granularity diffing of successive
// captured frames, coordinate transform under output rotation, and pixel
// conversion into the RFB server's BGRA framebuffer.
package damage

import (
	"image"

	"wvnc.dev/wvnc/internal/capture"
	"wvnc.dev/wvnc/internal/wl"
)

// TileSize is the granularity of damage tracking; 32x32 per the unchanged
// C4 algorithm.
const TileSize = 32

// Framebuffer is a contiguous 4-byte-per-pixel BGRA image sized to the
// selected output's logical dimensions.
type Framebuffer struct {
	Width, Height int
	Pix           []byte // len == Width*Height*4, row-major, {B,G,R,A}
}

// NewFramebuffer allocates a zeroed BGRA image.
func NewFramebuffer(width, height int) *Framebuffer {
	return &Framebuffer{Width: width, Height: height, Pix: make([]byte, width*height*4)}
}

func (f *Framebuffer) set(x, y int, b, g, r, a byte) {
	i := (y*f.Width + x) * 4
	f.Pix[i+0] = b
	f.Pix[i+1] = g
	f.Pix[i+2] = r
	f.Pix[i+3] = a
}

// Differ diffs successive captured frames and writes transformed,
// converted pixels into a Framebuffer.
type Differ struct{}

// transform maps a source pixel coordinate in a width(w)×height(h) capture
// to its destination coordinate in the (already rotation-sized) RFB
// framebuffer, per §4.4's table. yInvert generalizes the table: the spec's
// table assumes y-invert is true; when false we first un-invert the source
// y so non-inverting compositors aren't vertically mirrored (DESIGN.md's
// "Open Question decision: y-invert flag").
func transform(o wl.OutputOrientation, yInvert bool, x, y, w, h int) (dstX, dstY int) {
	ysrc := y
	if !yInvert {
		ysrc = h - y - 1
	}
	switch o {
	case wl.OrientationNormal:
		return x, h - ysrc - 1
	case wl.OrientationRot90:
		return w - ysrc - 1, h - x - 1
	case wl.OrientationRot180:
		return x, ysrc
	case wl.OrientationRot270:
		return ysrc, x
	default:
		return x, h - ysrc - 1
	}
}

// convertPixel extracts {r,g,b} from a little-endian 32-bit BGRA/XRGB word
// and forces alpha opaque, per §4.4's pixel conversion rule.
func convertPixel(word uint32) (r, g, b, a byte) {
	r = byte((word >> 16) & 0xff)
	g = byte((word >> 8) & 0xff)
	b = byte((word >> 0) & 0xff)
	a = 0xff
	return
}

func wordAt(buf []byte, stride uint32, x, y int) uint32 {
	off := y*int(stride) + x*4
	return uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24
}

// Diff compares cur against prev (nil on the session's first capture) at
// tile granularity, writes every dirty tile's transformed/converted pixels
// into out, and returns the set of dirty rectangles in out's coordinate
// space. On the first capture the whole frame is copied and reported as a
// single rectangle.
func (Differ) Diff(prev, cur *capture.Frame, out *Framebuffer, orientation wl.OutputOrientation) []image.Rectangle {
	w, h := int(cur.Width), int(cur.Height)
	tilesX := (w + TileSize - 1) / TileSize
	tilesY := (h + TileSize - 1) / TileSize

	curBuf := cur.Bytes()
	if prev == nil {
		return []image.Rectangle{copyTile(curBuf, cur.Stride, out, orientation, cur.YInvert, 0, 0, w, h, w, h)}
	}
	prevBuf := prev.Bytes()

	var rects []image.Rectangle
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			x0, y0 := tx*TileSize, ty*TileSize
			x1 := min(x0+TileSize, w)
			y1 := min(y0+TileSize, h)

			if !tileDiffers(curBuf, prevBuf, cur.Stride, x0, y0, x1, y1) {
				continue
			}

			rects = append(rects, copyTile(curBuf, cur.Stride, out, orientation, cur.YInvert, x0, y0, x1, y1, w, h))
		}
	}
	return rects
}

func tileDiffers(cur, prev []byte, stride uint32, x0, y0, x1, y1 int) bool {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			if wordAt(cur, stride, x, y) != wordAt(prev, stride, x, y) {
				return true
			}
		}
	}
	return false
}

// copyTile transforms and converts every pixel of the tile into out, and
// returns the axis-aligned destination rectangle derived from the tile's
// transformed corners, per §4.4's "compute the two transformed corners"
// rule.
func copyTile(cur []byte, stride uint32, out *Framebuffer, orientation wl.OutputOrientation, yInvert bool, x0, y0, x1, y1, w, h int) image.Rectangle {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			word := wordAt(cur, stride, x, y)
			r, g, b, a := convertPixel(word)
			dx, dy := transform(orientation, yInvert, x, y, w, h)
			out.set(dx, dy, b, g, r, a)
		}
	}

	cx0, cy0 := transform(orientation, yInvert, x0, y0, w, h)
	cx1, cy1 := transform(orientation, yInvert, x1-1, y1-1, w, h)
	minX, maxX := min(cx0, cx1), max(cx0, cx1)
	minY, maxY := min(cy0, cy1), max(cy0, cy1)
	return image.Rect(minX, minY, maxX+1, maxY+1)
}
