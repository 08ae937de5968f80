package services

import (
	"context"
	"time"

	"github.com/mbocsi/scryer/component"
)

// ComponentService describes the components of the box
type ComponentService interface {
	ListComponents() ([]ComponentInfo, error)
	GetComponent(name string) (*ComponentInfo, error)
}

// CommandService issues commands on the command channel
type CommandService interface {
	ChangeState(ctx context.Context, name string, overrides map[string]any) error
	ResetState(ctx context.Context, name string) error
	SetParameters(ctx context.Context, name string, overrides map[string]any) error
	GetParameters(ctx context.Context, name string) (map[string]any, error)
	ShutdownComponent(ctx context.Context, name string) error

	RequestLock(ctx context.Context) error
	ReleaseLock(ctx context.Context) error
}

// EventService waits on and manages the state event queue
type EventService interface {
	Await(ctx context.Context, req AwaitRequest) (*AwaitResponse, error)
	Purge() int
	QueueLength() int
	Latest(name string) (*EventInfo, error)
}

// LinkService reports the health of the command and telemetry channels
type LinkService interface {
	ListLinks() ([]LinkInfo, error)
}

// ApparatusService runs the verbs that wait for their own confirmation
type ApparatusService interface {
	Feed(ctx context.Context, d time.Duration) error
	Cue(ctx context.Context, led, color string) error
	CuesOff(ctx context.Context) error
	SetLight(ctx context.Context, manual bool, brightness int32) error
	Play(ctx context.Context, audioID string, wait bool) error
	Stop(ctx context.Context) error
}

// ServiceContainer holds all service implementations
type ServiceContainer struct {
	Component ComponentService
	Command   CommandService
	Event     EventService
	Link      LinkService
	Apparatus ApparatusService
}

// Registry is the part of component.Registry the services read.
type Registry interface {
	Describe(name string) (component.Descriptor, error)
	Descriptors() []component.Descriptor
	Instantiate(name string, meta component.Meta, overrides map[string]any) (component.Payload, error)
}

const DefaultAwaitTimeout = 5 * time.Second
