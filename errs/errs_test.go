package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifiedErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"full", Invalid(ErrUnknownComponent, "lamp", "describe", ""), "describe lamp: unknown component"},
		{"with message", Invalid(ErrTypeMismatch, "peck-keys", "decode", "want %s, got %s", "key_state", "sm_state"), "decode peck-keys: payload type mismatch: want key_state, got sm_state"},
		{"no origin", New(ClassFatal, ErrFatalLink, "", "", ""), "link lost"},
		{"operation only", Transient(ErrTimedOut, "", "command", "after %s", "1s"), "command: timed out: after 1s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	err := Invalid(ErrBadTopic, "", "parse topic", "%q", "lights")
	wrapped := fmt.Errorf("reader: %w", Wrap(err, ClassTransient, "", "run"))

	assert.True(t, errors.Is(wrapped, ErrBadTopic))
	assert.Equal(t, ClassInvalid, ClassOf(wrapped), "Wrap keeps the inner class")
}

func TestClassOf(t *testing.T) {
	assert.True(t, IsFatal(ErrFatalLink))
	assert.True(t, IsFatal(Fatal(ErrFatalLink, "", "poll", "command channel closed")))
	assert.True(t, IsTransient(ErrTimedOut))
	assert.True(t, IsTransient(context.Canceled))
	assert.False(t, IsFatal(nil))
	assert.False(t, IsTransient(nil))
	assert.Equal(t, ClassWarning, ClassOf(ErrProtocolVersionMismatch))
	assert.Equal(t, ClassInvalid, ClassOf(errors.New("other")))
}

func TestServerError(t *testing.T) {
	var err error = &ServerError{Component: "stepper-motor", Message: "motor jammed"}
	err = fmt.Errorf("command: %w", err)

	assert.True(t, errors.Is(err, ErrServer))
	msg, ok := ServerMessage(err)
	assert.True(t, ok)
	assert.Equal(t, "motor jammed", msg)

	_, ok = ServerMessage(ErrTimedOut)
	assert.False(t, ok)
}
