package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/juju/clock"

	"github.com/mbocsi/scryer/component"
	"github.com/mbocsi/scryer/proto"
)

// Handle answers one request. Only malformed frames fail; every other
// problem is reported to the client as an error reply.
func (s *Server) Handle(ctx context.Context, frames [][]byte) ([][]byte, error) {
	req, version, err := s.codec.DecodeRequest(frames)
	if err != nil {
		s.logger.Warn("Malformed request", "error", err)
		return s.codec.EncodeReply(proto.Reply{Kind: proto.ReplyError, Error: err.Error()})
	}
	if version != s.codec.Version() {
		s.logger.Warn("Request version mismatch", "want", s.codec.Version(), "got", version)
	}
	s.logger.Debug("Request received", "opcode", req.Opcode, "component", req.Component)

	reply := s.dispatch(req)
	if reply.Kind == proto.ReplyError {
		s.logger.Info("Request refused", "opcode", req.Opcode, "component", req.Component, "error", reply.Error)
	}
	return s.codec.EncodeReply(reply)
}

func refuse(format string, args ...any) proto.Reply {
	return proto.Reply{Kind: proto.ReplyError, Error: fmt.Sprintf(format, args...)}
}

var accepted = proto.Reply{Kind: proto.ReplyOK}

func (s *Server) dispatch(req proto.Request) proto.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Opcode {
	case proto.RequestLock:
		if s.locked {
			return refuse("already locked")
		}
		s.locked = true
		return accepted
	case proto.ReleaseLock:
		if !s.locked {
			return refuse("not locked")
		}
		s.locked = false
		return accepted
	case proto.Shutdown:
		s.once.Do(func() { close(s.shutdown) })
		return accepted
	}

	d, err := s.codec.Registry().Describe(req.Component)
	if err != nil {
		return refuse("unknown component %q", req.Component)
	}
	var body component.Payload
	if req.Body != nil {
		if body, err = s.codec.Decode(d.ID, req.Opcode.Meta(), *req.Body); err != nil {
			return refuse("%v", err)
		}
		if err := d.Schema(req.Opcode.Meta()).Check(body); err != nil {
			return refuse("%v", err)
		}
	}

	var reply proto.Reply
	s.store.with(d.ID, func(dev *device) {
		if dev.down && req.Opcode != proto.ResetState {
			reply = refuse("component %s is shut down", d.ID)
			return
		}
		switch req.Opcode {
		case proto.ChangeState:
			if body == nil {
				reply = refuse("missing state")
				return
			}
			s.changeState(dev, body)
			reply = accepted
		case proto.ResetState:
			dev.down = false
			dev.stopTimer()
			dev.state = d.Default(component.State)
			s.publish(d.ID, dev.state)
			reply = accepted
		case proto.SetParameters:
			if body == nil {
				reply = refuse("missing parameters")
				return
			}
			dev.params = body
			reply = accepted
		case proto.GetParameters:
			env, err := s.codec.Encode(d.ID, component.Params, dev.params)
			if err != nil {
				reply = refuse("%v", err)
				return
			}
			reply = proto.Reply{Kind: proto.ReplyParams, Envelope: env}
		case proto.ComponentShutdown:
			dev.stopTimer()
			dev.down = true
			reply = accepted
		default:
			reply = refuse("unsupported opcode %s", req.Opcode)
		}
	})
	return reply
}

// changeState applies a new state and starts or cancels the device's timed
// behaviour. Called with s.mu and the store lock held.
func (s *Server) changeState(dev *device, state component.Payload) {
	dev.stopTimer()
	dev.state = state
	s.publish(dev.desc.ID, state)

	switch st := state.(type) {
	case *component.StepperMotorState:
		if !st.Running {
			return
		}
		d := s.feed
		if p, ok := dev.params.(*component.StepperMotorParams); ok && p.Timeout > 0 {
			d = time.Duration(p.Timeout) * time.Millisecond
		}
		stopped := &component.StepperMotorState{Running: false, Direction: st.Direction}
		s.after(dev, d, stopped)
	case *component.SoundAlsaState:
		if st.Playback != component.PlaybackPlaying {
			return
		}
		ended := &component.SoundAlsaState{
			AudioID:    st.AudioID,
			Playback:   component.PlaybackStopped,
			FrameCount: uint64(s.play.Seconds() * 44100),
		}
		s.after(dev, s.play, ended)
	}
}

// after publishes next once d has elapsed, unless the device's state changes
// first.
func (s *Server) after(dev *device, d time.Duration, next component.Payload) {
	var timer clock.Timer
	timer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.store.with(dev.desc.ID, func(dev *device) {
			if dev.timer != timer {
				return
			}
			dev.timer = nil
			dev.state = next
			s.publish(dev.desc.ID, next)
			s.logger.Debug("Timed state change", "component", dev.desc.ID, "after", d)
		})
	})
	dev.timer = timer
}

func (s *Server) handleComponents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.store.Snapshot()); err != nil {
		s.logger.Warn("Failed to write components", "error", err)
	}
}

func (s *Server) handlePeck(w http.ResponseWriter, r *http.Request) {
	if err := s.Peck(chi.URLParam(r, "key")); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
