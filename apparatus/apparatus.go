// Package apparatus drives the operant box through the verbs an experiment
// uses: feed, cue, light and play. Every verb issues its command while
// already waiting for the state publication that confirms it.
package apparatus

import (
	"context"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"github.com/mbocsi/scryer/client"
	"github.com/mbocsi/scryer/component"
	"github.com/mbocsi/scryer/errs"
	"github.com/mbocsi/scryer/scry"
)

const (
	Feeder      = "stepper-motor"
	HouseLight  = "house-light"
	AudioPlayer = "audio-playback"

	// DefaultConfirm bounds the wait for a publication confirming a command.
	DefaultConfirm = 100 * time.Millisecond
	// DefaultPlayback bounds the wait for a stimulus to finish.
	DefaultPlayback = 6 * time.Second
)

// Cue LEDs by position.
var Cues = []string{"peck-leds-left", "peck-leds-center", "peck-leds-right"}

// Config bounds the waits a verb makes. Zero values take the defaults.
type Config struct {
	Confirm  time.Duration
	Playback time.Duration
	Clock    clock.Clock
}

// Apparatus issues confirmed commands over one client and correlator.
type Apparatus struct {
	client   *client.Client
	scry     *scry.Correlator
	confirm  time.Duration
	playback time.Duration
	clock    clock.Clock
	logger   *slog.Logger
}

type Option func(*Apparatus)

func WithLogger(l *slog.Logger) Option {
	return func(a *Apparatus) { a.logger = l }
}

// New needs sc to be subscribed to every component a verb touches.
func New(cfg Config, c *client.Client, sc *scry.Correlator, opts ...Option) *Apparatus {
	a := &Apparatus{
		client:   c,
		scry:     sc,
		confirm:  cfg.Confirm,
		playback: cfg.Playback,
		clock:    cfg.Clock,
		logger:   slog.Default(),
	}
	if a.confirm <= 0 {
		a.confirm = DefaultConfirm
	}
	if a.playback <= 0 {
		a.playback = DefaultPlayback
	}
	if a.clock == nil {
		a.clock = clock.WallClock
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type outcome struct {
	res scry.Result
	err error
}

// expect starts waiting for a publication of name satisfying pred, queued
// after mark. The returned function blocks for the outcome.
func (a *Apparatus) expect(ctx context.Context, name string, pred scry.Predicate, mark uint64, timeout time.Duration) func() (scry.Result, error) {
	ch := make(chan outcome, 1)
	go func() {
		res, err := a.scry.Await(ctx, []string{name}, pred, scry.After(mark), scry.Timeout(timeout))
		ch <- outcome{res, err}
	}()
	return func() (scry.Result, error) {
		out := <-ch
		if out.err != nil {
			return out.res, out.err
		}
		if !out.res.Matched {
			return out.res, errs.Transient(errs.ErrTimedOut, name, "confirm", "no matching state within %s", timeout)
		}
		return out.res, nil
	}
}

// command sends a state change to name and waits for pred to be published.
// Only publications received after the command is issued can confirm it.
func (a *Apparatus) command(ctx context.Context, name string, state component.Payload, pred scry.Predicate, timeout time.Duration) (scry.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wait := a.expect(ctx, name, pred, a.scry.Mark(), timeout)
	if err := a.client.ChangeState(ctx, name, state); err != nil {
		cancel()
		_, _ = wait()
		return scry.Result{}, err
	}
	res, err := wait()
	if err != nil {
		a.logger.Warn("State change not confirmed", "component", name, "error", err)
	}
	return res, err
}

// Feed runs the feeder and returns once it has stopped again. The feeder
// stops itself, so d only bounds how long to wait for that.
func (a *Apparatus) Feed(ctx context.Context, d time.Duration) error {
	running := func(v bool) scry.Predicate {
		return scry.When(func(s *component.StepperMotorState) bool { return s.Running == v })
	}
	started, err := a.command(ctx, Feeder, &component.StepperMotorState{Running: true, Direction: true}, running(true), a.confirm)
	if err != nil {
		return err
	}
	res, err := a.expect(ctx, Feeder, running(false), started.Seq, d+a.confirm)()
	if err != nil {
		return err
	}
	a.logger.Info("Fed", "elapsed", res.Elapsed)
	return nil
}

// SetFeeder sets how long the feeder runs and reads the value back.
func (a *Apparatus) SetFeeder(ctx context.Context, timeout time.Duration) error {
	want := &component.StepperMotorParams{Timeout: uint64(timeout.Milliseconds())}
	return a.setAndVerify(ctx, Feeder, want, "timeout")
}

// SetClock sets the house light's day cycle interval and reads it back.
func (a *Apparatus) SetClock(ctx context.Context, interval time.Duration) error {
	want := &component.HouseLightParams{ClockInterval: int64(interval.Seconds())}
	return a.setAndVerify(ctx, HouseLight, want, "clock_interval")
}

// SetAudioDir points the player at a stimulus directory and reads it back.
func (a *Apparatus) SetAudioDir(ctx context.Context, dir string) error {
	return a.setAndVerify(ctx, AudioPlayer, &component.SoundAlsaParams{AudioDir: dir}, "audio_dir")
}

func (a *Apparatus) setAndVerify(ctx context.Context, name string, want component.Payload, fields ...string) error {
	if err := a.client.SetParameters(ctx, name, want); err != nil {
		return err
	}
	got, err := a.client.GetParameters(ctx, name)
	if err != nil {
		return err
	}
	if !component.FieldsEqual(got, want, fields) {
		return errs.Invalid(errs.ErrTypeMismatch, name, "verify", "params read back as %v", component.Values(got))
	}
	return nil
}

// Cue sets one LED to color.
func (a *Apparatus) Cue(ctx context.Context, led, color string) error {
	pred := scry.When(func(s *component.LedState) bool { return s.LedState == color })
	_, err := a.command(ctx, led, &component.LedState{LedState: color}, pred, a.confirm)
	return err
}

// CuesOff turns every cue LED off.
func (a *Apparatus) CuesOff(ctx context.Context) error {
	for _, led := range Cues {
		if err := a.Cue(ctx, led, "off"); err != nil {
			return err
		}
	}
	return nil
}

// Blip shows color on led for d, then turns it off.
func (a *Apparatus) Blip(ctx context.Context, led, color string, d time.Duration) error {
	if err := a.Cue(ctx, led, color); err != nil {
		return err
	}
	select {
	case <-a.clock.After(d):
	case <-ctx.Done():
		return ctx.Err()
	}
	return a.Cue(ctx, led, "off")
}

// SetLight overrides the house light. With manual false the light returns
// to its day cycle and brightness is ignored by the server.
func (a *Apparatus) SetLight(ctx context.Context, manual bool, brightness int32) error {
	pred := scry.When(func(s *component.HouseLightState) bool {
		return s.Manual == manual && (!manual || s.Brightness == brightness)
	})
	_, err := a.command(ctx, HouseLight, &component.HouseLightState{Manual: manual, Brightness: brightness}, pred, a.confirm)
	return err
}

// Playback is a stimulus that has started playing.
type Playback struct {
	AudioID string

	a     *Apparatus
	ctx   context.Context
	start uint64
}

// Wait blocks until the stimulus has stopped. Nothing waits on the player
// before Wait is called, so another Play or Stop in between is unaffected.
// A stimulus replaced by a newer Play never reports stopped and Wait times
// out.
func (p *Playback) Wait() (scry.Result, error) {
	stopped := scry.When(func(s *component.SoundAlsaState) bool {
		return s.AudioID == p.AudioID && s.Playback == component.PlaybackStopped
	})
	return p.a.expect(p.ctx, AudioPlayer, stopped, p.start, p.a.playback)()
}

// Play starts a stimulus and returns once playback is confirmed.
func (a *Apparatus) Play(ctx context.Context, audioID string) (*Playback, error) {
	pred := scry.When(func(s *component.SoundAlsaState) bool {
		return s.AudioID == audioID && s.Playback == component.PlaybackPlaying
	})
	state := &component.SoundAlsaState{AudioID: audioID, Playback: component.PlaybackPlaying}
	res, err := a.command(ctx, AudioPlayer, state, pred, a.confirm)
	if err != nil {
		return nil, err
	}
	return &Playback{AudioID: audioID, a: a, ctx: ctx, start: res.Seq}, nil
}

// Stop halts playback.
func (a *Apparatus) Stop(ctx context.Context) error {
	pred := scry.When(func(s *component.SoundAlsaState) bool { return s.Playback == component.PlaybackStopped })
	_, err := a.command(ctx, AudioPlayer, &component.SoundAlsaState{Playback: component.PlaybackStopped}, pred, a.confirm)
	return err
}
