package scry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/scryer/component"
	"github.com/mbocsi/scryer/errs"
	"github.com/mbocsi/scryer/metrics"
	"github.com/mbocsi/scryer/proto"
	"github.com/mbocsi/scryer/transport/mem"
)

type harness struct {
	t     *testing.T
	bus   *mem.Bus
	codec *proto.Codec
	c     *Correlator
	sent  int
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	codec := proto.NewCodec(component.MustRegistry(), "v1")
	bus := mem.NewBus()
	c := New(cfg, codec, bus.Subscriber(), opts...)
	require.NoError(t, c.SubscribeAll())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return &harness{t: t, bus: bus, codec: codec, c: c}
}

func (h *harness) publish(name string, state component.Payload) {
	h.t.Helper()
	topic, payload, err := h.codec.EncodePublication(name, time.Now(), state)
	require.NoError(h.t, err)
	h.bus.Publish(topic, payload)
	h.sent++
}

// settle waits until the reader has queued n events.
func (h *harness) settle(n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.c.Len() == n }, time.Second, time.Millisecond)
}

func running(v bool) Predicate {
	return When(func(s *component.StepperMotorState) bool { return s.Running == v })
}

func TestAwaitPicksFirstMatchAndKeepsOthers(t *testing.T) {
	h := newHarness(t, Config{})

	h.publish("peck-keys", &component.PeckKeysState{PeckLeft: true})         // A1
	h.publish("stepper-motor", &component.StepperMotorState{Running: false}) // B1, dropped
	h.publish("peck-keys", &component.PeckKeysState{PeckRight: true})        // A2
	h.publish("stepper-motor", &component.StepperMotorState{Running: true})  // B2, match
	h.publish("stepper-motor", &component.StepperMotorState{Running: true, Direction: true})
	h.settle(5)

	ctx := context.Background()
	res, err := h.c.Await(ctx, []string{"feeder"}, running(true), Timeout(time.Second))
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, "stepper-motor", res.Event.Component)
	assert.Equal(t, &component.StepperMotorState{Running: true}, res.Event.State)
	assert.Equal(t, 3, h.c.Len(), "A1, A2 and the later B event remain")

	res, err = h.c.Await(ctx, []string{"peck-keys"}, nil, Timeout(time.Second))
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, &component.PeckKeysState{PeckLeft: true}, res.Event.State, "A events keep arrival order")

	res, err = h.c.Await(ctx, []string{"peck-keys"}, nil, Timeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, &component.PeckKeysState{PeckRight: true}, res.Event.State)

	res, err = h.c.Await(ctx, []string{"stepper-motor"}, nil, Timeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, &component.StepperMotorState{Running: true, Direction: true}, res.Event.State)
	assert.Equal(t, 0, h.c.Len())
}

func TestAwaitDropsNonMatchingOwnEvents(t *testing.T) {
	h := newHarness(t, Config{})
	h.publish("stepper-motor", &component.StepperMotorState{Running: false})
	h.settle(1)

	res, err := h.c.Await(context.Background(), []string{"stepper-motor"}, running(true), Timeout(20*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Equal(t, 0, h.c.Len())
}

func TestAwaitTimeoutIsDeterministic(t *testing.T) {
	m := metrics.New()
	h := newHarness(t, Config{}, WithMetrics(m))
	h.publish("house-light", &component.HouseLightState{Brightness: 10})
	h.settle(1)

	var failed []string
	const timeout = 60 * time.Millisecond
	start := time.Now()
	res, err := h.c.Await(context.Background(), []string{"peck-keys"}, nil,
		Timeout(timeout),
		OnTimeout(func(filter []string) { failed = filter }),
	)
	wall := time.Since(start)

	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Equal(t, timeout, res.Elapsed)
	assert.GreaterOrEqual(t, wall, timeout)
	assert.Less(t, wall, timeout+250*time.Millisecond)
	assert.Equal(t, []string{"peck-keys"}, failed)
	assert.Equal(t, 1, h.c.Len(), "other components' events survive a timeout")
}

func TestAwaitResolvesOnLaterEvent(t *testing.T) {
	h := newHarness(t, Config{})

	go func() {
		time.Sleep(30 * time.Millisecond)
		h.bus.Publish(mustTopic(t, h.codec, "stepper-motor", &component.StepperMotorState{Running: true}))
		time.Sleep(30 * time.Millisecond)
		h.bus.Publish(mustTopic(t, h.codec, "stepper-motor", &component.StepperMotorState{Running: false}))
	}()

	res, err := h.c.Await(context.Background(), []string{"stepper-motor"}, running(false), Timeout(2*time.Second))
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Less(t, res.Elapsed, 2*time.Second)
	assert.GreaterOrEqual(t, res.Elapsed, 50*time.Millisecond)
}

func TestAwaitAfterMarkIgnoresOlderEvents(t *testing.T) {
	h := newHarness(t, Config{})
	h.publish("stepper-motor", &component.StepperMotorState{Running: true})
	h.publish("stepper-motor", &component.StepperMotorState{Running: false})
	h.settle(2)
	mark := h.c.Mark()

	ctx := context.Background()
	res, err := h.c.Await(ctx, []string{"feeder"}, running(false), After(mark), Timeout(20*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, res.Matched, "events before the mark are not candidates")
	assert.Equal(t, 2, h.c.Len(), "nor are they dropped")

	h.publish("stepper-motor", &component.StepperMotorState{Running: false, Direction: true})
	res, err = h.c.Await(ctx, []string{"feeder"}, running(false), After(mark), Timeout(time.Second))
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, &component.StepperMotorState{Running: false, Direction: true}, res.Event.State)
	assert.Equal(t, mark+1, res.Seq)
	assert.Equal(t, mark+1, h.c.Mark())
}

func TestPurge(t *testing.T) {
	h := newHarness(t, Config{})
	h.publish("peck-keys", &component.PeckKeysState{PeckCenter: true})
	h.publish("peck-keys", &component.PeckKeysState{PeckLeft: true})
	h.settle(2)

	assert.Equal(t, 2, h.c.Purge())
	assert.Equal(t, 0, h.c.Purge())

	res, err := h.c.Await(context.Background(), []string{"peck-keys"}, nil, Timeout(30*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, res.Matched)
}

func TestAwaitErrors(t *testing.T) {
	codec := proto.NewCodec(component.MustRegistry(), "v1")
	bus := mem.NewBus()
	c := New(Config{}, codec, bus.Subscriber())
	require.NoError(t, c.Subscribe("peck-keys"))
	ctx := context.Background()

	_, err := c.Await(ctx, []string{"stepper-motor"}, nil, Timeout(time.Millisecond))
	assert.ErrorIs(t, err, errs.ErrUnsubscribedComponent)

	_, err = c.Await(ctx, []string{"peck-keys", "fog-machine"}, nil)
	assert.ErrorIs(t, err, errs.ErrUnknownComponent)

	_, err = c.Await(ctx, nil, nil)
	assert.ErrorIs(t, err, errs.ErrUnknownComponent)

	assert.Equal(t, []string{"peck-keys"}, c.Subscribed())
}

func TestSubscribeCoversAliases(t *testing.T) {
	codec := proto.NewCodec(component.MustRegistry(), "v1")
	bus := mem.NewBus()
	c := New(Config{}, codec, bus.Subscriber())
	require.NoError(t, c.Subscribe("audio-playback"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	_, payload, err := codec.EncodePublication("sound-alsa", time.Now(), &component.SoundAlsaState{AudioID: "a.wav"})
	require.NoError(t, err)
	bus.Publish("state/audio-playback", payload)

	res, err := c.Await(ctx, []string{"sound-alsa"}, nil, Timeout(time.Second))
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "sound-alsa", res.Event.Component)
}

func TestAwaitCancellationKeepsOthersEvents(t *testing.T) {
	h := newHarness(t, Config{})
	h.publish("house-light", &component.HouseLightState{Daytime: true})
	h.settle(1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res, err := h.c.Await(ctx, []string{"peck-keys"}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Matched)
	assert.Equal(t, 1, h.c.Len())

	res, err = h.c.Await(context.Background(), []string{"house-light"}, nil, Timeout(time.Second))
	require.NoError(t, err)
	assert.True(t, res.Matched)
}

func TestConcurrentWaitersShareStream(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(map[string]Result)
	var mu sync.Mutex
	wait := func(name string, pred Predicate) {
		defer wg.Done()
		res, err := h.c.Await(ctx, []string{name}, pred, Timeout(2*time.Second))
		assert.NoError(t, err)
		mu.Lock()
		results[name] = res
		mu.Unlock()
	}
	wg.Add(3)
	go wait("stepper-motor", running(true))
	go wait("peck-keys", When(func(s *component.PeckKeysState) bool { return s.PeckCenter }))
	go wait("house-light", FieldsMatch(&component.HouseLightState{Brightness: 40}, "brightness"))

	time.Sleep(20 * time.Millisecond)
	h.publish("house-light", &component.HouseLightState{Brightness: 40, Manual: true})
	h.publish("peck-keys", &component.PeckKeysState{PeckLeft: true})
	h.publish("peck-keys", &component.PeckKeysState{PeckCenter: true})
	h.publish("stepper-motor", &component.StepperMotorState{Running: true})
	wg.Wait()

	for _, name := range []string{"stepper-motor", "peck-keys", "house-light"} {
		assert.True(t, results[name].Matched, name)
		assert.Equal(t, name, results[name].Event.Component)
	}
	assert.Equal(t, &component.PeckKeysState{PeckCenter: true}, results["peck-keys"].Event.State)
}

func TestMatchedEventIsDeliveredOnce(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	matched := 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.c.Await(ctx, []string{"peck-keys"}, nil, Timeout(150*time.Millisecond))
			assert.NoError(t, err)
			if res.Matched {
				mu.Lock()
				matched++
				mu.Unlock()
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	h.publish("peck-keys", &component.PeckKeysState{PeckRight: true})
	wg.Wait()

	assert.Equal(t, 1, matched)
}

func TestQueueEviction(t *testing.T) {
	m := metrics.New()
	h := newHarness(t, Config{QueueSize: 2}, WithMetrics(m))
	h.publish("peck-keys", &component.PeckKeysState{PeckLeft: true})
	h.publish("peck-keys", &component.PeckKeysState{PeckCenter: true})
	h.publish("peck-keys", &component.PeckKeysState{PeckRight: true})
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.EventsTotal.WithLabelValues("peck-keys")) == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, 2, h.c.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsRejected.WithLabelValues("evicted")))

	res, err := h.c.Await(context.Background(), []string{"peck-keys"}, nil, Timeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, &component.PeckKeysState{PeckCenter: true}, res.Event.State, "oldest was evicted")
}

func TestBadPublicationsAreSkipped(t *testing.T) {
	var seen []Event
	var mu sync.Mutex
	h := newHarness(t, Config{}, WithSink(SinkFunc(func(ev Event) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	})))

	h.bus.Publish("state/", []byte{})
	h.bus.Publish("state/fog-machine", []byte{0x01})
	h.bus.Publish("state/peck-keys", []byte{0xff})
	h.publish("peck-keys", &component.PeckKeysState{PeckLeft: true})
	h.settle(1)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, "peck-keys", seen[0].Component)
}

func TestLatestSink(t *testing.T) {
	latest := NewLatest()
	h := newHarness(t, Config{}, WithSink(latest))
	h.publish("house-light", &component.HouseLightState{Brightness: 10})
	h.publish("house-light", &component.HouseLightState{Brightness: 90, Daytime: true})
	h.settle(2)

	ev, ok := latest.Get("house-light")
	require.True(t, ok)
	assert.Equal(t, &component.HouseLightState{Brightness: 90, Daytime: true}, ev.State)
	_, ok = latest.Get("peck-keys")
	assert.False(t, ok)
	assert.Len(t, latest.Snapshot(), 1)
}

func mustTopic(t *testing.T, codec *proto.Codec, name string, state component.Payload) (string, []byte) {
	topic, payload, err := codec.EncodePublication(name, time.Now(), state)
	if err != nil {
		t.Error(err)
	}
	return topic, payload
}
