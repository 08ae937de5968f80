package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/scryer/component"
	"github.com/mbocsi/scryer/config"
	"github.com/mbocsi/scryer/errs"
	"github.com/mbocsi/scryer/linkmon"
	"github.com/mbocsi/scryer/proto"
	"github.com/mbocsi/scryer/server"
	"github.com/mbocsi/scryer/transport/mem"
)

type rig struct {
	app *App
	req *mem.Requester
	bus *mem.Bus
	sim *server.Server
}

func newRig(t *testing.T) *rig {
	t.Helper()
	cfg := config.Default()
	cfg.Link.Interval = 10 * time.Millisecond
	cfg.Command.Timeout = time.Second
	require.NoError(t, cfg.Validate())

	sim := server.New(server.Config{FeedDuration: 50 * time.Millisecond},
		proto.NewCodec(component.MustRegistry(), cfg.DecideVersion))
	req, bus := sim.Loopback()
	t.Cleanup(func() { _ = sim.Stop() })

	a, err := New(cfg, &Channels{Command: req, Telemetry: bus.Subscriber(), Closer: nopCloser{}}, nil)
	require.NoError(t, err)
	return &rig{app: a, req: req, bus: bus, sim: sim}
}

func (r *rig) run(t *testing.T) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.app.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestRunServesAPI(t *testing.T) {
	r := newRig(t)
	cancel, done := r.run(t)

	ts := httptest.NewServer(r.app.Handler())
	defer ts.Close()

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, time.Second, 10*time.Millisecond)

	resp, err := http.Post(ts.URL+"/api/components/feeder/state", "application/json", strings.NewReader(`{"running": true}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.NoError(t, r.app.Apparatus.CuesOff(context.Background()))
	require.Eventually(t, func() bool {
		ev, ok := r.app.Latest.Get("stepper-motor")
		return ok && component.Values(ev.State)["running"] == false
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunStopsOnLinkLoss(t *testing.T) {
	r := newRig(t)
	_, done := r.run(t)

	require.Eventually(t, func() bool {
		return r.app.Monitor.Status()["command"] == linkmon.Up
	}, time.Second, 5*time.Millisecond)

	r.req.Drop(errors.New("peer gone"))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, errs.ErrFatalLink))
		assert.True(t, errs.IsFatal(err))
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept going without its command channel")
	}
}

func TestRunStopsOnTelemetryLoss(t *testing.T) {
	r := newRig(t)
	r.app.Monitor = linkmon.New(linkmon.Config{Interval: time.Hour}, []linkmon.Source{
		{Name: "telemetry", Notifier: r.app.channels.Telemetry.(*mem.Subscriber)},
	})
	_, done := r.run(t)

	r.bus.DropAll(errors.New("publisher gone"))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, errs.ErrFatalLink)
		assert.True(t, errs.IsFatal(err))
		assert.Contains(t, err.Error(), "publisher gone")
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept going without its telemetry channel")
	}
}

func TestNewRejectsUnknownCodec(t *testing.T) {
	cfg := config.Default()
	cfg.Codec = "msgpack"
	sim := server.New(server.Config{}, proto.NewCodec(component.MustRegistry(), cfg.DecideVersion))
	req, bus := sim.Loopback()
	defer sim.Stop()

	_, err := New(cfg, &Channels{Command: req, Telemetry: bus.Subscriber(), Closer: nopCloser{}}, nil)
	assert.Error(t, err)
}
