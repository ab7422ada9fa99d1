package rfb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodePixelNativeFormatRoundTrips(t *testing.T) {
	got := encodePixel(serverFormat, 0xAB, 0xCD, 0xEF)
	assert.Equal(t, []byte{0xEF, 0xCD, 0xAB, 0x00}, got)
}

func TestIsServerNativeFormat(t *testing.T) {
	assert.True(t, isServerNativeFormat(serverFormat))
	other := serverFormat
	other.BPP = 16
	assert.False(t, isServerNativeFormat(other))
}

func TestEncodePixel16Bit(t *testing.T) {
	pf := PixelFormat{BPP: 16, RedMax: 31, GreenMax: 63, BlueMax: 31, RedShift: 11, GreenShift: 5, BlueShift: 0}
	got := encodePixel(pf, 0xFF, 0xFF, 0xFF)
	assert.Len(t, got, 2)
}
