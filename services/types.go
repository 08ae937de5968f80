package services

import (
	"time"

	"github.com/mbocsi/scryer/component"
)

// ComponentInfo represents a component for the outer surfaces
type ComponentInfo struct {
	ID        string           `json:"id"`
	Kind      string           `json:"kind"`
	Aliases   []string         `json:"aliases,omitempty"`
	StateTag  string           `json:"state_tag"`
	ParamsTag string           `json:"params_tag"`
	State     component.Schema `json:"state_schema"`
	Params    component.Schema `json:"params_schema"`
	Latest    *EventInfo       `json:"latest,omitempty"`
}

// EventInfo is one state publication
type EventInfo struct {
	Component string         `json:"component"`
	Time      time.Time      `json:"time"`
	Received  time.Time      `json:"received"`
	State     map[string]any `json:"state"`
}

// AwaitRequest waits for a component in Components to publish a state whose
// Match fields hold the given values. An empty Match takes any state.
type AwaitRequest struct {
	Components []string       `json:"components"`
	Match      map[string]any `json:"match,omitempty"`
	Timeout    time.Duration  `json:"timeout"`
}

type AwaitResponse struct {
	Matched bool       `json:"matched"`
	Elapsed string     `json:"elapsed"`
	Event   *EventInfo `json:"event,omitempty"`
}

// LinkInfo represents one monitored channel
type LinkInfo struct {
	Channel string `json:"channel"`
	Status  string `json:"status"`
}

// ServiceError represents structured service layer errors
type ServiceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"cause,omitempty"`
}

func (e ServiceError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e ServiceError) Unwrap() error { return e.Cause }

// Common error codes
const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeRefused      = "REFUSED"
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeUnavailable  = "UNAVAILABLE"
)
