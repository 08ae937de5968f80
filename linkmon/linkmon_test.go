package linkmon

import (
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/scryer/errs"
	"github.com/mbocsi/scryer/metrics"
	"github.com/mbocsi/scryer/transport"
	"github.com/mbocsi/scryer/transport/mem"
)

const interval = 500 * time.Millisecond

func newMonitor(t *testing.T, sources ...Source) (*Monitor, *testclock.Clock, *metrics.Metrics) {
	t.Helper()
	clk := testclock.NewClock(time.Now())
	m := metrics.New()
	mon := New(Config{Interval: interval, Clock: clk}, sources, WithMetrics(m))
	mon.Start()
	return mon, clk, m
}

func tick(t *testing.T, clk *testclock.Clock) {
	t.Helper()
	require.NoError(t, clk.WaitAdvance(interval, time.Second, 1))
}

func dead(t *testing.T, mon *Monitor) {
	t.Helper()
	select {
	case <-mon.Dead():
	case <-time.After(time.Second):
		t.Fatal("monitor still alive")
	}
}

func TestStatusFollowsConnect(t *testing.T) {
	req := mem.NewRequester(nil)
	bus := mem.NewBus()
	sub := bus.Subscriber()
	mon, clk, m := newMonitor(t,
		Source{Name: "command", Notifier: req},
		Source{Name: "telemetry", Notifier: sub},
	)

	assert.Equal(t, map[string]State{"command": Unknown, "telemetry": Unknown}, mon.Status())
	assert.Equal(t, []string{"command", "telemetry"}, mon.Channels())

	tick(t, clk)
	require.Eventually(t, func() bool {
		return mon.Status()["command"] == Up && mon.Status()["telemetry"] == Up
	}, time.Second, time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LinkUp.WithLabelValues("command")))

	require.NoError(t, mon.Stop())
	assert.NoError(t, mon.Err())
}

func TestDisconnectIsFatal(t *testing.T) {
	req := mem.NewRequester(nil)
	mon, clk, m := newMonitor(t, Source{Name: "command", Notifier: req})

	tick(t, clk)
	require.Eventually(t, func() bool { return mon.Status()["command"] == Up }, time.Second, time.Millisecond)

	req.Drop(errors.New("peer reset"))
	tick(t, clk)
	dead(t, mon)

	err := mon.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrFatalLink)
	assert.True(t, errs.IsFatal(err))
	assert.Contains(t, err.Error(), "peer reset")
	assert.Equal(t, Down, mon.Status()["command"])
	assert.Equal(t, float64(0), testutil.ToFloat64(m.LinkUp.WithLabelValues("command")))
	assert.ErrorIs(t, mon.Stop(), errs.ErrFatalLink, "Stop reports the fault that killed it")
}

func TestCloseIsFatal(t *testing.T) {
	bus := mem.NewBus()
	sub := bus.Subscriber()
	mon, clk, _ := newMonitor(t, Source{Name: "telemetry", Notifier: sub})

	require.NoError(t, sub.Close())
	tick(t, clk)
	dead(t, mon)
	assert.ErrorIs(t, mon.Err(), errs.ErrFatalLink)
}

func TestDrainReportsPendingLoss(t *testing.T) {
	bus := mem.NewBus()
	sub := bus.Subscriber()
	mon := New(Config{Interval: time.Hour}, []Source{{Name: "telemetry", Notifier: sub}})

	require.NoError(t, mon.Drain())
	assert.Equal(t, Up, mon.Status()["telemetry"])

	bus.DropAll(errors.New("publisher gone"))
	err := mon.Drain()
	assert.ErrorIs(t, err, errs.ErrFatalLink)
	assert.True(t, errs.IsFatal(err))
	assert.Contains(t, err.Error(), "publisher gone")
	assert.Equal(t, Down, mon.Status()["telemetry"])
}

func TestDrainAfterDeath(t *testing.T) {
	req := mem.NewRequester(nil)
	mon, clk, _ := newMonitor(t, Source{Name: "command", Notifier: req})

	req.Drop(errors.New("peer reset"))
	tick(t, clk)
	dead(t, mon)
	assert.ErrorIs(t, mon.Drain(), errs.ErrFatalLink, "the fault is reported even once consumed")
}

func TestNoEventsBeforeInterval(t *testing.T) {
	req := mem.NewRequester(nil)
	mon, clk, _ := newMonitor(t, Source{Name: "command", Notifier: req})
	req.Drop(errors.New("gone"))

	require.NoError(t, clk.WaitAdvance(interval/2, time.Second, 1))
	select {
	case <-mon.Dead():
		t.Fatal("monitor died before its poll interval")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, clk.WaitAdvance(interval/2, time.Second, 1))
	dead(t, mon)
}

func TestHandleStates(t *testing.T) {
	mon := New(Config{}, []Source{{Name: "command"}})
	assert.Equal(t, DefaultInterval, mon.interval)

	require.NoError(t, mon.handle("command", transport.Event{Kind: transport.EventConnected}))
	assert.Equal(t, Up, mon.Status()["command"])

	err := mon.handle("command", transport.Event{Kind: transport.EventClosed, Endpoint: "tcp://x:7897"})
	assert.ErrorIs(t, err, errs.ErrFatalLink)
	assert.Equal(t, "down", mon.Status()["command"].String())
	assert.Equal(t, "unknown", Unknown.String())
}
