package services

import (
	"context"

	"github.com/mbocsi/scryer/client"
	"github.com/mbocsi/scryer/component"
)

// CommandServiceImpl implements CommandService on top of the RPC client
type CommandServiceImpl struct {
	client   *client.Client
	registry Registry
}

// NewCommandService creates a new command service
func NewCommandService(c *client.Client, registry Registry) CommandService {
	return &CommandServiceImpl{
		client:   c,
		registry: registry,
	}
}

// ChangeState sends the component's default state with overrides applied
func (cs *CommandServiceImpl) ChangeState(ctx context.Context, name string, overrides map[string]any) error {
	state, err := cs.registry.Instantiate(name, component.State, overrides)
	if err != nil {
		return serviceError("Invalid state for "+name, err)
	}
	return serviceError("Failed to change state of "+name, cs.client.ChangeState(ctx, name, state))
}

func (cs *CommandServiceImpl) ResetState(ctx context.Context, name string) error {
	return serviceError("Failed to reset "+name, cs.client.ResetState(ctx, name))
}

// SetParameters sends the component's default params with overrides applied
func (cs *CommandServiceImpl) SetParameters(ctx context.Context, name string, overrides map[string]any) error {
	params, err := cs.registry.Instantiate(name, component.Params, overrides)
	if err != nil {
		return serviceError("Invalid parameters for "+name, err)
	}
	return serviceError("Failed to set parameters of "+name, cs.client.SetParameters(ctx, name, params))
}

func (cs *CommandServiceImpl) GetParameters(ctx context.Context, name string) (map[string]any, error) {
	params, err := cs.client.GetParameters(ctx, name)
	if err != nil {
		return nil, serviceError("Failed to get parameters of "+name, err)
	}
	return component.Values(params), nil
}

func (cs *CommandServiceImpl) ShutdownComponent(ctx context.Context, name string) error {
	return serviceError("Failed to shut down "+name, cs.client.ComponentShutdown(ctx, name))
}

func (cs *CommandServiceImpl) RequestLock(ctx context.Context) error {
	return serviceError("Failed to lock", cs.client.RequestLock(ctx))
}

func (cs *CommandServiceImpl) ReleaseLock(ctx context.Context) error {
	return serviceError("Failed to unlock", cs.client.ReleaseLock(ctx))
}
