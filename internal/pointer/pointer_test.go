package pointer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScaleAxisClampsToInt16Max(t *testing.T) {
	cases := []struct {
		name    string
		v       int32
		extent  int32
		wantMin int32
		wantMax int32
	}{
		{"zero", 0, 1920, 0, 0},
		{"mid", 320, 1920, 5461, 5461},
		{"far edge", 1919, 1920, 32750, 32767},
		{"beyond extent clamps at max", 5000, 1920, 32767, 32767},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := scaleAxis(tc.v, tc.extent)
			assert.GreaterOrEqual(t, got, int32(0))
			assert.LessOrEqual(t, got, int32(32767))
			assert.GreaterOrEqual(t, got, tc.wantMin)
			assert.LessOrEqual(t, got, tc.wantMax)
		})
	}
}

func TestScenario5PointerMapping(t *testing.T) {
	// mask=0x01 at (320,240) on a 1920x1080 output at (0,0) in a 1920x1080
	// logical screen -> (5461, 7282).
	ax := scaleAxis(320, 1920)
	ay := scaleAxis(240, 1080)
	assert.Equal(t, int32(5461), ax)
	assert.Equal(t, int32(7282), ay)
}

func TestClampInt32(t *testing.T) {
	assert.Equal(t, int32(0), clampInt32(-5, 0, 100))
	assert.Equal(t, int32(100), clampInt32(500, 0, 100))
	assert.Equal(t, int32(50), clampInt32(50, 0, 100))
}

func TestHandleEventNoDeviceIsNoop(t *testing.T) {
	d := &Device{screen: LogicalRect{Width: 1920, Height: 1080}}
	assert.NotPanics(t, func() {
		d.HandleEvent(0x01, 320, 240)
	})
}
