package component

import (
	"fmt"
	"strings"
)

// Payload is a typed state or params message. The set of implementations is
// closed; every one is a pointer to a struct declared in this file.
//
// Field tags:
//
//	json   wire field name, also the override and match key
//	pb     protobuf field number
//	enum   allowed values for strings
//	range  inclusive numeric bounds "min,max"
//	unit   informational
type Payload interface {
	payload()
}

type HouseLightState struct {
	Manual     bool  `json:"manual" pb:"1"`
	Dyson      bool  `json:"dyson" pb:"2"`
	Brightness int32 `json:"brightness" pb:"3" range:"0,100" unit:"percent"`
	Daytime    bool  `json:"daytime" pb:"4"`
}

type HouseLightParams struct {
	ClockInterval int64 `json:"clock_interval" pb:"1" unit:"s"`
}

type LedState struct {
	LedState string `json:"led_state" pb:"1" enum:"off,red,green,blue,white,all"`
}

type LedParams struct{}

type StepperMotorState struct {
	Running   bool `json:"running" pb:"1"`
	Direction bool `json:"direction" pb:"2"`
}

type StepperMotorParams struct {
	Timeout uint64 `json:"timeout" pb:"1" unit:"ms"`
}

type PeckKeysState struct {
	PeckLeft   bool `json:"peck_left" pb:"1"`
	PeckCenter bool `json:"peck_center" pb:"2"`
	PeckRight  bool `json:"peck_right" pb:"3"`
}

type PeckKeysParams struct{}

// Playback is the audio player's transport state.
type Playback int32

const (
	PlaybackStopped Playback = iota
	PlaybackPlaying
	PlaybackNext
)

var playbackNames = []string{"stopped", "playing", "next"}

func (p Playback) String() string {
	if p >= 0 && int(p) < len(playbackNames) {
		return playbackNames[p]
	}
	return fmt.Sprintf("playback(%d)", int32(p))
}

// UnmarshalText lets overrides and configuration name the state.
func (p *Playback) UnmarshalText(text []byte) error {
	s := strings.ToLower(string(text))
	for i, name := range playbackNames {
		if s == name {
			*p = Playback(i)
			return nil
		}
	}
	return fmt.Errorf("unknown playback %q", text)
}

type SoundAlsaState struct {
	AudioID    string   `json:"audio_id" pb:"1"`
	Playback   Playback `json:"playback" pb:"2" range:"0,2"`
	FrameCount uint64   `json:"frame_count" pb:"3"`
}

type SoundAlsaParams struct {
	AudioDir   string `json:"audio_dir" pb:"1"`
	SampleRate uint32 `json:"sample_rate" pb:"2" unit:"Hz"`
}

func (*HouseLightState) payload()    {}
func (*HouseLightParams) payload()   {}
func (*LedState) payload()           {}
func (*LedParams) payload()          {}
func (*StepperMotorState) payload()  {}
func (*StepperMotorParams) payload() {}
func (*PeckKeysState) payload()      {}
func (*PeckKeysParams) payload()     {}
func (*SoundAlsaState) payload()     {}
func (*SoundAlsaParams) payload()    {}
