package rfb

import "encoding/binary"

// encodePixel packs an (r,g,b) triple into a client's negotiated
// PixelFormat, handling the BPP 8/16/32 cases a real VNC client might
// request via SetPixelFormat. Grounded on
// other_examples/bradfitz-rfbgo's pushGenericLocked conversion.
func encodePixel(pf PixelFormat, r, g, b byte) []byte {
	word := (uint32(r) * uint32(pf.RedMax) / 255) << pf.RedShift
	word |= (uint32(g) * uint32(pf.GreenMax) / 255) << pf.GreenShift
	word |= (uint32(b) * uint32(pf.BlueMax) / 255) << pf.BlueShift

	out := make([]byte, pf.BPP/8)
	switch pf.BPP {
	case 8:
		out[0] = byte(word)
	case 16:
		if pf.BigEndian != 0 {
			binary.BigEndian.PutUint16(out, uint16(word))
		} else {
			binary.LittleEndian.PutUint16(out, uint16(word))
		}
	case 32:
		if pf.BigEndian != 0 {
			binary.BigEndian.PutUint32(out, word)
		} else {
			binary.LittleEndian.PutUint32(out, word)
		}
	default:
		out = make([]byte, 4)
		binary.LittleEndian.PutUint32(out, word)
	}
	return out
}

// isServerNativeFormat reports whether pf is exactly serverFormat, letting
// the update writer skip per-pixel conversion and blit Pix directly.
func isServerNativeFormat(pf PixelFormat) bool {
	return pf == serverFormat
}
