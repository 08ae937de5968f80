package services

import (
	"errors"

	"github.com/mbocsi/scryer/component"
	"github.com/mbocsi/scryer/errs"
	"github.com/mbocsi/scryer/scry"
)

// serviceError maps a runtime error onto a service error code
func serviceError(message string, err error) error {
	if err == nil {
		return nil
	}
	code := ErrCodeInternal
	switch {
	case errors.Is(err, errs.ErrUnknownComponent):
		code = ErrCodeNotFound
	case errors.Is(err, errs.ErrTypeMismatch),
		errors.Is(err, errs.ErrUnsubscribedComponent),
		errors.Is(err, errs.ErrBadTopic):
		code = ErrCodeInvalidInput
	case errors.Is(err, errs.ErrTimedOut):
		code = ErrCodeTimeout
	case errors.Is(err, errs.ErrServer):
		code = ErrCodeRefused
	case errors.Is(err, errs.ErrFatalLink), errors.Is(err, errs.ErrClosed):
		code = ErrCodeUnavailable
	}
	return ServiceError{Code: code, Message: message, Cause: err}
}

// convertDescriptor converts a component.Descriptor to ComponentInfo
func convertDescriptor(d component.Descriptor) ComponentInfo {
	return ComponentInfo{
		ID:        d.ID,
		Kind:      d.KindName,
		Aliases:   d.Aliases,
		StateTag:  d.StateTag,
		ParamsTag: d.ParamsTag,
		State:     d.State,
		Params:    d.Params,
	}
}

// convertEvent converts a scry.Event to EventInfo
func convertEvent(ev scry.Event) *EventInfo {
	return &EventInfo{
		Component: ev.Component,
		Time:      ev.Time,
		Received:  ev.Received,
		State:     component.Values(ev.State),
	}
}

// validateNames checks an await filter
func validateNames(names []string) error {
	if len(names) == 0 {
		return ServiceError{
			Code:    ErrCodeInvalidInput,
			Message: "At least one component is required",
		}
	}
	for _, name := range names {
		if name == "" {
			return ServiceError{
				Code:    ErrCodeInvalidInput,
				Message: "Component name cannot be empty",
			}
		}
	}
	return nil
}
