package mem

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/scryer/errs"
	"github.com/mbocsi/scryer/transport"
)

func nextEvent(t *testing.T, n transport.Notifier) transport.Event {
	t.Helper()
	select {
	case ev := <-n.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no lifecycle event")
	}
	return transport.Event{}
}

func TestRequesterEcho(t *testing.T) {
	r := NewRequester(func(_ context.Context, frames [][]byte) ([][]byte, error) {
		return [][]byte{frames[0], []byte("ok")}, nil
	})
	assert.Equal(t, transport.EventConnected, nextEvent(t, r).Kind)

	got, err := r.Request(context.Background(), [][]byte{[]byte("v1")})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("v1"), []byte("ok")}, got)
}

func TestRequesterTimeoutLeavesChannelUsable(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	r := NewRequester(func(_ context.Context, frames [][]byte) ([][]byte, error) {
		if calls.Add(1) == 1 {
			<-release
		}
		return frames, nil
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Request(ctx, [][]byte{[]byte("slow")})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got, err := r.Request(context.Background(), [][]byte{[]byte("fast")})
	require.NoError(t, err)
	assert.Equal(t, "fast", string(got[0]))
}

func TestRequesterDrop(t *testing.T) {
	r := NewRequester(func(_ context.Context, f [][]byte) ([][]byte, error) { return f, nil })
	nextEvent(t, r)

	r.Drop(errors.New("peer reset"))
	ev := nextEvent(t, r)
	assert.Equal(t, transport.EventDisconnected, ev.Kind)
	assert.EqualError(t, ev.Err, "peer reset")

	_, err := r.Request(context.Background(), nil)
	assert.ErrorIs(t, err, errs.ErrClosed)

	require.NoError(t, r.Close())
	select {
	case ev := <-r.Events():
		t.Fatalf("close after drop emitted %v", ev)
	default:
	}
}

func TestBusPrefixFiltering(t *testing.T) {
	bus := NewBus()
	all := bus.Subscriber()
	keys := bus.Subscriber()
	require.NoError(t, all.Subscribe("state/"))
	require.NoError(t, keys.Subscribe("state/peck-keys"))

	bus.Publish("state/house-light", []byte("hl"))
	bus.Publish("state/peck-keys", []byte("pk"))
	bus.Publish("params/peck-keys", []byte("ignored"))

	ctx := context.Background()
	m, err := all.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "state/house-light", m.Topic)
	m, err = all.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "state/peck-keys", m.Topic)

	m, err = keys.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("pk"), m.Payload)

	require.NoError(t, keys.Unsubscribe("state/peck-keys"))
	bus.Publish("state/peck-keys", []byte("again"))
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = keys.Receive(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBusDropAll(t *testing.T) {
	bus := NewBus()
	s := bus.Subscriber()
	nextEvent(t, s)
	require.NoError(t, s.Subscribe("state/"))
	bus.Publish("state/house-light", []byte("last"))

	bus.DropAll(errors.New("publisher gone"))
	assert.Equal(t, transport.EventDisconnected, nextEvent(t, s).Kind)

	m, err := s.Receive(context.Background())
	require.NoError(t, err, "buffered messages drain first")
	assert.Equal(t, "last", string(m.Payload))

	_, err = s.Receive(context.Background())
	assert.ErrorIs(t, err, errs.ErrClosed)
}
