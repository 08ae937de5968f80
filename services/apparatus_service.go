package services

import (
	"context"
	"slices"
	"time"

	"github.com/mbocsi/scryer/apparatus"
)

// ApparatusServiceImpl implements ApparatusService on the confirmed verbs
type ApparatusServiceImpl struct {
	apparatus *apparatus.Apparatus
}

// NewApparatusService creates a new apparatus service
func NewApparatusService(a *apparatus.Apparatus) ApparatusService {
	return &ApparatusServiceImpl{apparatus: a}
}

func (as *ApparatusServiceImpl) Feed(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ServiceError{Code: ErrCodeInvalidInput, Message: "Feed duration must be positive"}
	}
	return serviceError("Feed failed", as.apparatus.Feed(ctx, d))
}

// Cue only drives the cue LEDs; other components go through ChangeState.
func (as *ApparatusServiceImpl) Cue(ctx context.Context, led, color string) error {
	if !slices.Contains(apparatus.Cues, led) {
		return ServiceError{Code: ErrCodeInvalidInput, Message: led + " is not a cue LED"}
	}
	if color == "" {
		return ServiceError{Code: ErrCodeInvalidInput, Message: "Cue color is required"}
	}
	return serviceError("Cue on "+led+" failed", as.apparatus.Cue(ctx, led, color))
}

func (as *ApparatusServiceImpl) CuesOff(ctx context.Context) error {
	return serviceError("Turning cues off failed", as.apparatus.CuesOff(ctx))
}

func (as *ApparatusServiceImpl) SetLight(ctx context.Context, manual bool, brightness int32) error {
	if brightness < 0 || brightness > 100 {
		return ServiceError{Code: ErrCodeInvalidInput, Message: "Brightness must be within 0-100"}
	}
	return serviceError("Setting the house light failed", as.apparatus.SetLight(ctx, manual, brightness))
}

// Play starts audioID and, with wait, blocks until it has stopped.
func (as *ApparatusServiceImpl) Play(ctx context.Context, audioID string, wait bool) error {
	if audioID == "" {
		return ServiceError{Code: ErrCodeInvalidInput, Message: "audio_id is required"}
	}
	p, err := as.apparatus.Play(ctx, audioID)
	if err != nil {
		return serviceError("Play "+audioID+" failed", err)
	}
	if !wait {
		return nil
	}
	_, err = p.Wait()
	return serviceError("Waiting for "+audioID+" failed", err)
}

func (as *ApparatusServiceImpl) Stop(ctx context.Context) error {
	return serviceError("Stopping playback failed", as.apparatus.Stop(ctx))
}
