// Package server is an in-process decide simulator. It answers the same
// request frames as a decide-rs server, keeps the state of every component,
// publishes state/<id> on each change and runs the timed behaviour of the
// hardware: the feeder stops after its timeout and playback ends on its own.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/juju/clock"
	"gopkg.in/tomb.v2"

	"github.com/mbocsi/scryer/component"
	"github.com/mbocsi/scryer/proto"
	"github.com/mbocsi/scryer/transport/mem"
	"github.com/mbocsi/scryer/transport/ws"
)

const (
	DefaultFeedDuration = 4 * time.Second
	DefaultPlayDuration = 2 * time.Second
)

type Config struct {
	Clock clock.Clock
	// FeedDuration runs the feeder when its timeout param is zero.
	FeedDuration time.Duration
	// PlayDuration is the length of every simulated stimulus.
	PlayDuration time.Duration
}

type Server struct {
	codec  *proto.Codec
	store  *Store
	broker *Broker
	hub    *ws.Hub
	clock  clock.Clock

	feed time.Duration
	play time.Duration

	// mu serializes every state change with its publication.
	mu     sync.Mutex
	locked bool

	tomb     tomb.Tomb
	http     *http.Server
	shutdown chan struct{}
	once     sync.Once
	logger   *slog.Logger
}

func New(cfg Config, codec *proto.Codec) *Server {
	s := &Server{
		codec:    codec,
		store:    NewStore(codec.Registry()),
		broker:   NewBroker(),
		hub:      ws.NewHub(),
		clock:    cfg.Clock,
		feed:     cfg.FeedDuration,
		play:     cfg.PlayDuration,
		shutdown: make(chan struct{}),
		logger:   slog.Default().With("component", "decide-sim"),
	}
	if s.clock == nil {
		s.clock = clock.WallClock
	}
	if s.feed <= 0 {
		s.feed = DefaultFeedDuration
	}
	if s.play <= 0 {
		s.play = DefaultPlayDuration
	}
	s.broker.Attach(s.hub)
	return s
}

// Attach adds a telemetry publisher, e.g. a mem.Bus or a NATS connection.
func (s *Server) Attach(p Publisher) {
	s.broker.Attach(p)
}

func (s *Server) Store() *Store { return s.store }

// Done is closed when a client sends Shutdown.
func (s *Server) Done() <-chan struct{} { return s.shutdown }

// Loopback returns an in-process command channel and a bus carrying this
// server's publications.
func (s *Server) Loopback() (*mem.Requester, *mem.Bus) {
	bus := mem.NewBus()
	s.Attach(bus)
	return mem.NewRequester(s.Handle), bus
}

// Router serves the command and telemetry channels over WebSocket plus a
// small JSON view of the simulated components.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Handle(ws.CommandPath, ws.CommandHandler(s.Handle))
	r.Handle(ws.TelemetryPath, s.hub)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/components", s.handleComponents)
	r.Post("/peck/{key}", s.handlePeck)
	return r
}

// Start serves Router on l until Stop.
func (s *Server) Start(l net.Listener) {
	s.http = &http.Server{Handler: s.Router()}
	s.logger.Info("Simulator listening", "addr", l.Addr().String())
	s.tomb.Go(func() error {
		err := s.http.Serve(l)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	s.tomb.Go(func() error {
		<-s.tomb.Dying()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.hub.Close()
		return s.http.Shutdown(ctx)
	})
}

// Stop shuts the HTTP side down and cancels pending device timers.
func (s *Server) Stop() error {
	s.store.stopAll()
	if s.http == nil {
		return nil
	}
	s.tomb.Kill(nil)
	return s.tomb.Wait()
}

func (s *Server) publish(id string, state component.Payload) {
	topic, payload, err := s.codec.EncodePublication(id, s.clock.Now(), state)
	if err != nil {
		s.logger.Error("Failed to encode publication", "component", id, "error", err)
		return
	}
	s.broker.Publish(topic, payload)
}

// Peck simulates a bird pecking one key: the key reads pressed, then
// released.
func (s *Server) Peck(key string) error {
	pressed := &component.PeckKeysState{}
	switch key {
	case "left":
		pressed.PeckLeft = true
	case "center":
		pressed.PeckCenter = true
	case "right":
		pressed.PeckRight = true
	default:
		return errors.New("unknown peck key " + key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range []component.Payload{pressed, &component.PeckKeysState{}} {
		if !s.store.with("peck-keys", func(d *device) { d.state = st }) {
			return errors.New("peck-keys is not simulated")
		}
		s.publish("peck-keys", st)
	}
	return nil
}
