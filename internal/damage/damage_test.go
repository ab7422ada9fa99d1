package damage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wvnc.dev/wvnc/internal/capture"
	"wvnc.dev/wvnc/internal/wl"
)

// newFrame builds a directly-addressable frame for testing, bypassing
// wl.Buffer entirely via capture.NewTestFrame.
func newFrame(width, height uint32, yInvert bool, fill func(x, y int) uint32) *capture.Frame {
	stride := width * 4
	buf := make([]byte, int(stride)*int(height))
	for y := 0; y < int(height); y++ {
		for x := 0; x < int(width); x++ {
			word := fill(x, y)
			off := y*int(stride) + x*4
			buf[off+0] = byte(word)
			buf[off+1] = byte(word >> 8)
			buf[off+2] = byte(word >> 16)
			buf[off+3] = byte(word >> 24)
		}
	}
	return capture.NewTestFrame(width, height, stride, yInvert, buf)
}

func TestPixelConversionRoundTrip(t *testing.T) {
	// 0xAARRGGBB -> {RR, GG, BB, 0xFF} regardless of source alpha.
	cases := []uint32{0xFFFF0000, 0x00FF0000, 0x12FF0000, 0xAA102030}
	for _, word := range cases {
		r, g, b, a := convertPixel(word)
		assert.Equal(t, byte((word>>16)&0xff), r)
		assert.Equal(t, byte((word>>8)&0xff), g)
		assert.Equal(t, byte(word&0xff), b)
		assert.Equal(t, byte(0xff), a)
	}
}

func TestTransformInverseRoundTrip(t *testing.T) {
	// transform(o, transform(o⁻¹, (x,y))) = (x,y) for all four orientations,
	// using destination sizes of the rotated output. With y-invert set, every
	// entry of the transform table is a reflection, so each one is its own
	// inverse (Rot90 maps (x,y) to (w-y-1, h-x-1); applying it again with the
	// swapped sizes gives back (x,y)).
	const w, h = 64, 48
	inverse := map[wl.OutputOrientation]wl.OutputOrientation{
		wl.OrientationNormal: wl.OrientationNormal,
		wl.OrientationRot90:  wl.OrientationRot90,
		wl.OrientationRot180: wl.OrientationRot180,
		wl.OrientationRot270: wl.OrientationRot270,
	}
	for o, inv := range inverse {
		for _, pt := range [][2]int{{0, 0}, {w - 1, 0}, {0, h - 1}, {w - 1, h - 1}, {10, 20}} {
			dx, dy := transform(o, true, pt[0], pt[1], w, h)
			dw, dh := w, h
			if o == wl.OrientationRot90 || o == wl.OrientationRot270 {
				dw, dh = h, w
			}
			bx, by := transform(inv, true, dx, dy, dw, dh)
			assert.Equal(t, pt[0], bx, "orientation %v", o)
			assert.Equal(t, pt[1], by, "orientation %v", o)
		}
	}
}

func TestTransform90RotatesOriginToFarCorner(t *testing.T) {
	// scenario 4: 90°-rotated 480x640 source, (0,0) lands at (479,639).
	dx, dy := transform(wl.OrientationRot90, true, 0, 0, 480, 640)
	assert.Equal(t, 479, dx)
	assert.Equal(t, 639, dy)
}

func TestDiffFirstFrameFullyDirty(t *testing.T) {
	const w, h = 640, 480
	cur := newFrame(w, h, true, func(x, y int) uint32 { return 0x00FF0000 })

	out := NewFramebuffer(w, h)
	var d Differ
	rects := d.Diff(nil, cur, out, wl.OrientationNormal)

	require.Len(t, rects, 1)
	assert.Equal(t, 0, rects[0].Min.X)
	assert.Equal(t, 0, rects[0].Min.Y)
	assert.Equal(t, w, rects[0].Max.X)
	assert.Equal(t, h, rects[0].Max.Y)

	for i := 0; i < len(out.Pix); i += 4 {
		assert.Equal(t, byte(0x00), out.Pix[i+0], "blue")
		assert.Equal(t, byte(0x00), out.Pix[i+1], "green")
		assert.Equal(t, byte(0xFF), out.Pix[i+2], "red")
		assert.Equal(t, byte(0xFF), out.Pix[i+3], "alpha")
	}
}

func TestDiffIdenticalFramesNoDamage(t *testing.T) {
	const w, h = 640, 480
	fill := func(x, y int) uint32 { return 0x00FF0000 }
	prev := newFrame(w, h, true, fill)
	cur := newFrame(w, h, true, fill)

	out := NewFramebuffer(w, h)
	var d Differ
	rects := d.Diff(prev, cur, out, wl.OrientationNormal)
	assert.Empty(t, rects)
}

func TestDiffSinglePixelChangeOneTile(t *testing.T) {
	const w, h = 640, 480
	prev := newFrame(w, h, true, func(x, y int) uint32 { return 0x00000000 })
	cur := newFrame(w, h, true, func(x, y int) uint32 {
		if x == 100 && y == 50 {
			return 0x00FFFFFF
		}
		return 0x00000000
	})

	out := NewFramebuffer(w, h)
	var d Differ
	rects := d.Diff(prev, cur, out, wl.OrientationNormal)
	require.Len(t, rects, 1)

	dx, dy := transform(wl.OrientationNormal, true, 100, 50, w, h)
	assert.True(t, dx >= rects[0].Min.X && dx < rects[0].Max.X)
	assert.True(t, dy >= rects[0].Min.Y && dy < rects[0].Max.Y)
}

func TestDiffClipsNonMultipleOf32Width(t *testing.T) {
	const w, h = 50, 40 // neither dimension a multiple of TileSize
	cur := newFrame(w, h, true, func(x, y int) uint32 { return 0x00112233 })
	out := NewFramebuffer(w, h)
	var d Differ
	assert.NotPanics(t, func() {
		rects := d.Diff(nil, cur, out, wl.OrientationNormal)
		require.Len(t, rects, 1)
	})
}
