package services

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/mbocsi/scryer/component"
	"github.com/mbocsi/scryer/scry"
)

// EventServiceImpl implements EventService on top of the correlator
type EventServiceImpl struct {
	scry     *scry.Correlator
	registry Registry
	latest   *scry.Latest
}

// NewEventService creates a new event service. latest may be nil.
func NewEventService(sc *scry.Correlator, registry Registry, latest *scry.Latest) EventService {
	return &EventServiceImpl{
		scry:     sc,
		registry: registry,
		latest:   latest,
	}
}

// Await blocks until a matching state is published or the timeout elapses.
// Running out of time is not an error.
func (es *EventServiceImpl) Await(ctx context.Context, req AwaitRequest) (*AwaitResponse, error) {
	if err := validateNames(req.Components); err != nil {
		return nil, err
	}
	pred, err := es.predicate(req)
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultAwaitTimeout
	}
	res, err := es.scry.Await(ctx, req.Components, pred, scry.Timeout(timeout))
	if err != nil {
		return nil, serviceError("Await failed", err)
	}

	resp := &AwaitResponse{Matched: res.Matched, Elapsed: res.Elapsed.String()}
	if res.Matched {
		resp.Event = convertEvent(res.Event)
	}
	return resp, nil
}

// predicate matches the requested fields against whichever component kind
// published the event. Components whose state lacks one of the fields are
// left out; it is an error only when none of them has them all.
func (es *EventServiceImpl) predicate(req AwaitRequest) (scry.Predicate, error) {
	if len(req.Match) == 0 {
		return scry.Always, nil
	}
	fields := make([]string, 0, len(req.Match))
	for k := range req.Match {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	var preds []scry.Predicate
	for _, name := range req.Components {
		d, err := es.registry.Describe(name)
		if err != nil {
			return nil, serviceError("Component not found: "+name, err)
		}
		if !declares(d.State, fields) {
			continue
		}
		want, err := es.registry.Instantiate(name, component.State, req.Match)
		if err != nil {
			return nil, serviceError(fmt.Sprintf("Cannot match %v on %s", fields, name), err)
		}
		preds = append(preds, scry.FieldsMatch(want, fields...))
	}
	if len(preds) == 0 {
		return nil, ServiceError{
			Code:    ErrCodeInvalidInput,
			Message: fmt.Sprintf("No component in %v has state fields %v", req.Components, fields),
		}
	}
	return func(p component.Payload) bool {
		for _, pred := range preds {
			if pred(p) {
				return true
			}
		}
		return false
	}, nil
}

func declares(s component.Schema, fields []string) bool {
	for _, name := range fields {
		if !slices.ContainsFunc(s.Fields, func(f component.Field) bool { return f.Name == name }) {
			return false
		}
	}
	return true
}

func (es *EventServiceImpl) Purge() int {
	return es.scry.Purge()
}

func (es *EventServiceImpl) QueueLength() int {
	return es.scry.Len()
}

// Latest returns the newest state seen for a component
func (es *EventServiceImpl) Latest(name string) (*EventInfo, error) {
	d, err := es.registry.Describe(name)
	if err != nil {
		return nil, serviceError("Component not found: "+name, err)
	}
	if es.latest == nil {
		return nil, ServiceError{Code: ErrCodeUnavailable, Message: "Latest state is not tracked"}
	}
	ev, ok := es.latest.Get(d.ID)
	if !ok {
		return nil, ServiceError{Code: ErrCodeNotFound, Message: "No state seen for " + d.ID}
	}
	return convertEvent(ev), nil
}
