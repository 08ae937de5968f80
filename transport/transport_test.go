package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultipartRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		frames [][]byte
	}{
		{"request", [][]byte{[]byte("v1"), {0x00, 0x00}, {0x0a, 0x02}, []byte("peck-keys")}},
		{"empty frame", [][]byte{[]byte("v1"), {0x22, 0x00}, {}}},
		{"none", [][]byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMultipart(EncodeMultipart(tt.frames))
			require.NoError(t, err)
			require.Len(t, got, len(tt.frames))
			for i := range tt.frames {
				assert.Equal(t, string(tt.frames[i]), string(got[i]))
			}
		})
	}
}

func TestDecodeMultipartRejects(t *testing.T) {
	good := EncodeMultipart([][]byte{[]byte("abc")})

	tests := []struct {
		name string
		buf  []byte
	}{
		{"short header", []byte{1, 0}},
		{"count too large", []byte{9, 0, 0, 0, 1, 0, 0, 0}},
		{"truncated frame", good[:len(good)-1]},
		{"trailing bytes", append(append([]byte(nil), good...), 0xff)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMultipart(tt.buf)
			assert.Error(t, err)
		})
	}
}

func TestLifecycleKeepsNewest(t *testing.T) {
	l := NewLifecycle("command")
	for i := 0; i < lifecycleBuffer; i++ {
		l.Emit(EventConnected, "inproc", nil)
	}
	boom := errors.New("boom")
	l.Emit(EventDisconnected, "inproc", boom)

	var last Event
	for i := 0; i < lifecycleBuffer; i++ {
		last = <-l.Events()
	}
	assert.Equal(t, EventDisconnected, last.Kind)
	assert.Equal(t, "command", last.Channel)
	assert.ErrorIs(t, last.Err, boom)

	select {
	case ev := <-l.Events():
		t.Fatalf("unexpected extra event %v", ev)
	default:
	}
}
