package transport

import (
	"encoding/binary"
	"fmt"
)

// MaxFrameSize bounds one decoded frame.
const MaxFrameSize = 1 << 24

// EncodeMultipart packs frames into one buffer for transports that carry a
// single byte string per message: a u32 frame count followed by u32
// length-prefixed frames, little endian.
func EncodeMultipart(frames [][]byte) []byte {
	size := 4
	for _, f := range frames {
		size += 4 + len(f)
	}
	b := make([]byte, 4, size)
	binary.LittleEndian.PutUint32(b, uint32(len(frames)))
	for _, f := range frames {
		b = binary.LittleEndian.AppendUint32(b, uint32(len(f)))
		b = append(b, f...)
	}
	return b
}

// DecodeMultipart unpacks a buffer written by EncodeMultipart.
func DecodeMultipart(b []byte) ([][]byte, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("multipart: short header")
	}
	n := binary.LittleEndian.Uint32(b)
	b = b[4:]
	if uint64(n)*4 > uint64(len(b)) {
		return nil, fmt.Errorf("multipart: %d frames in %d bytes", n, len(b))
	}
	frames := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		if len(b) < 4 {
			return nil, fmt.Errorf("multipart: frame %d: short length", i)
		}
		size := binary.LittleEndian.Uint32(b)
		b = b[4:]
		if size > MaxFrameSize || int(size) > len(b) {
			return nil, fmt.Errorf("multipart: frame %d: bad size %d", i, size)
		}
		frames = append(frames, b[:size:size])
		b = b[size:]
	}
	if len(b) != 0 {
		return nil, fmt.Errorf("multipart: %d trailing bytes", len(b))
	}
	return frames, nil
}
