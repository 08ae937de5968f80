package app

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/scryer/component"
	"github.com/mbocsi/scryer/config"
	"github.com/mbocsi/scryer/proto"
	"github.com/mbocsi/scryer/server"
)

func TestDialWebSocketEndToEnd(t *testing.T) {
	cfg := config.Default()
	cfg.Transport = "ws"
	cfg.Link.Interval = 10 * time.Millisecond

	sim := server.New(server.Config{FeedDuration: 50 * time.Millisecond},
		proto.NewCodec(component.MustRegistry(), cfg.DecideVersion))
	srv := httptest.NewServer(sim.Router())
	t.Cleanup(func() {
		srv.Close()
		_ = sim.Stop()
	})
	cfg.Command.Endpoint = srv.URL
	cfg.Telemetry.Endpoint = srv.URL
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := Dial(ctx, cfg, nil)
	require.NoError(t, err)

	a, err := New(cfg, ch, nil)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// subscriptions are not acknowledged; retry until a cue is seen
	require.Eventually(t, func() bool {
		return a.Apparatus.Cue(ctx, "peck-leds-left", "off") == nil
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Apparatus.Feed(ctx, time.Second))
	require.NoError(t, a.Apparatus.Cue(ctx, "peck-leds-center", "green"))

	ev, ok := a.Latest.Get("peck-leds-center")
	require.True(t, ok)
	assert.Equal(t, "green", component.Values(ev.State)["led_state"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDialUnknownTransport(t *testing.T) {
	cfg := config.Default()
	cfg.Transport = "carrier-pigeon"
	_, err := Dial(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestResolveWithoutDiscovery(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, Resolve(cfg, nil))
	assert.Equal(t, "tcp://127.0.0.1:7898", cfg.Telemetry.Endpoint)
}
