package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/scryer/client"
	"github.com/mbocsi/scryer/component"
	"github.com/mbocsi/scryer/errs"
	"github.com/mbocsi/scryer/proto"
	"github.com/mbocsi/scryer/scry"
	"github.com/mbocsi/scryer/transport/ws"
)

type rig struct {
	sim    *Server
	client *client.Client
	scry   *scry.Correlator
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	codec := proto.NewCodec(component.MustRegistry(), "0.1.0")
	sim := New(cfg, codec)
	req, bus := sim.Loopback()

	c := client.New(client.Config{Timeout: time.Second}, codec, req)
	sc := scry.New(scry.Config{}, codec, bus.Subscriber())
	require.NoError(t, sc.SubscribeAll())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = sim.Stop()
	})
	return &rig{sim: sim, client: c, scry: sc}
}

func running(v bool) scry.Predicate {
	return scry.When(func(s *component.StepperMotorState) bool { return s.Running == v })
}

// The feeder runs when told to and stops by itself after its timeout.
func TestFeederScenario(t *testing.T) {
	r := newRig(t, Config{})
	ctx := context.Background()
	require.NoError(t, r.client.SetParameters(ctx, "feeder", &component.StepperMotorParams{Timeout: 300}))

	started := make(chan scry.Result, 1)
	go func() {
		res, err := r.scry.Await(ctx, []string{"stepper-motor"}, running(true), scry.Timeout(time.Second))
		assert.NoError(t, err)
		started <- res
	}()
	require.NoError(t, r.client.ChangeState(ctx, "stepper-motor", &component.StepperMotorState{Running: true}))

	res := <-started
	require.True(t, res.Matched)
	assert.Less(t, res.Elapsed, 100*time.Millisecond+time.Second/2)

	res, err := r.scry.Await(ctx, []string{"stepper-motor"}, running(false), scry.Timeout(8*time.Second))
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Less(t, res.Elapsed, 8*time.Second)
}

func TestFeederStopsOnSimulatedClock(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	r := newRig(t, Config{Clock: clk, FeedDuration: 5 * time.Second})
	ctx := context.Background()

	require.NoError(t, r.client.ChangeState(ctx, "feeder", &component.StepperMotorState{Running: true, Direction: true}))
	res, err := r.scry.Await(ctx, []string{"feeder"}, running(true), scry.Timeout(time.Second))
	require.NoError(t, err)
	require.True(t, res.Matched)

	require.NoError(t, clk.WaitAdvance(5*time.Second, time.Second, 1))
	res, err = r.scry.Await(ctx, []string{"feeder"}, running(false), scry.Timeout(time.Second))
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, &component.StepperMotorState{Running: false, Direction: true}, res.Event.State)
}

func TestStoppingFeederCancelsTimer(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	r := newRig(t, Config{Clock: clk})
	ctx := context.Background()

	require.NoError(t, r.client.ChangeState(ctx, "feeder", &component.StepperMotorState{Running: true}))
	require.NoError(t, r.client.ChangeState(ctx, "feeder", &component.StepperMotorState{Running: false}))
	require.NoError(t, clk.WaitAdvance(DefaultFeedDuration, 0, 0))

	require.Eventually(t, func() bool { return r.scry.Len() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, r.scry.Len(), "no extra stop published")
}

func TestPlaybackEnds(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	r := newRig(t, Config{Clock: clk, PlayDuration: 3 * time.Second})
	ctx := context.Background()

	require.NoError(t, r.client.ChangeState(ctx, "audio-playback", &component.SoundAlsaState{
		AudioID:  "song_a.wav",
		Playback: component.PlaybackPlaying,
	}))
	require.NoError(t, clk.WaitAdvance(3*time.Second, time.Second, 1))

	res, err := r.scry.Await(ctx, []string{"sound-alsa"},
		scry.When(func(s *component.SoundAlsaState) bool { return s.Playback == component.PlaybackStopped }),
		scry.Timeout(time.Second))
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, "song_a.wav", res.Event.State.(*component.SoundAlsaState).AudioID)
}

func TestParametersRoundTrip(t *testing.T) {
	r := newRig(t, Config{})
	ctx := context.Background()

	want := &component.SoundAlsaParams{AudioDir: "/srv/stimuli", SampleRate: 48000}
	require.NoError(t, r.client.SetParameters(ctx, "sound-alsa", want))
	got, err := r.client.GetParameters(ctx, "audio-playback")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRefusals(t *testing.T) {
	r := newRig(t, Config{})
	ctx := context.Background()

	err := r.client.ChangeState(ctx, "peck-leds-left", &component.LedState{LedState: "purple"})
	require.Error(t, err)

	require.NoError(t, r.client.RequestLock(ctx))
	err = r.client.RequestLock(ctx)
	assert.ErrorIs(t, err, errs.ErrServer)
	msg, ok := errs.ServerMessage(err)
	require.True(t, ok)
	assert.Equal(t, "already locked", msg)
	require.NoError(t, r.client.ReleaseLock(ctx))
	assert.ErrorIs(t, r.client.ReleaseLock(ctx), errs.ErrServer)

	require.NoError(t, r.client.ComponentShutdown(ctx, "house-light"))
	err = r.client.ChangeState(ctx, "house-light", &component.HouseLightState{Brightness: 5})
	assert.ErrorIs(t, err, errs.ErrServer)
	require.NoError(t, r.client.ResetState(ctx, "house-light"))
	require.NoError(t, r.client.ChangeState(ctx, "house-light", &component.HouseLightState{Brightness: 5}))
}

func TestShutdownClosesDone(t *testing.T) {
	r := newRig(t, Config{})
	require.NoError(t, r.client.Shutdown(context.Background()))
	select {
	case <-r.sim.Done():
	case <-time.After(time.Second):
		t.Fatal("shutdown not signalled")
	}
}

func TestPeck(t *testing.T) {
	r := newRig(t, Config{})
	ctx := context.Background()

	require.NoError(t, r.sim.Peck("center"))
	res, err := r.scry.Await(ctx, []string{"peck-keys"},
		scry.FieldsMatch(&component.PeckKeysState{PeckCenter: true}, "peck_center"), scry.Timeout(time.Second))
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Error(t, r.sim.Peck("up"))

	state, ok := r.sim.Store().State("peck-keys")
	require.True(t, ok)
	assert.Equal(t, &component.PeckKeysState{}, state)
}

func TestRouterOverWebSocket(t *testing.T) {
	codec := proto.NewCodec(component.MustRegistry(), "0.1.0")
	sim := New(Config{}, codec)
	srv := httptest.NewServer(sim.Router())
	defer srv.Close()

	req, err := ws.DialRequester(context.Background(), srv.URL)
	require.NoError(t, err)
	defer req.Close()
	c := client.New(client.Config{Timeout: 2 * time.Second}, codec, req)

	ctx := context.Background()
	require.NoError(t, c.ChangeState(ctx, "house-light", &component.HouseLightState{Brightness: 70, Manual: true}))

	resp, err := http.Get(srv.URL + "/components")
	require.NoError(t, err)
	defer resp.Body.Close()
	var snap map[string]map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, float64(70), snap["house-light"]["brightness"])
	assert.Equal(t, true, snap["house-light"]["manual"])

	resp2, err := http.Post(srv.URL+"/peck/left", "", nil)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp2.StatusCode)
}

func TestStartStop(t *testing.T) {
	codec := proto.NewCodec(component.MustRegistry(), "0.1.0")
	sim := New(Config{}, codec)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	sim.Start(l)

	resp, err := http.Get("http://" + l.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NoError(t, sim.Stop())
}
