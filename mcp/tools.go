package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbocsi/scryer/apparatus"
	"github.com/mbocsi/scryer/services"
)

// registerComponentTools registers MCP tools describing the box
func (s *MCPServer) registerComponentTools() {
	listComponentsTool := mcp.NewTool("list_components",
		mcp.WithDescription("List every component of the operant box with its state and params schema"),
		mcp.WithBoolean("include_latest",
			mcp.Description("Include the newest published state of each component"),
		),
	)
	s.Server.AddTool(listComponentsTool, s.handleListComponents)

	describeTool := mcp.NewTool("describe_component",
		mcp.WithDescription("Describe one component by id or alias"),
		mcp.WithString("component",
			mcp.Required(),
			mcp.Description("Component id or alias, e.g. feeder"),
		),
	)
	s.Server.AddTool(describeTool, s.handleDescribeComponent)

	linksTool := mcp.NewTool("link_status",
		mcp.WithDescription("Report whether the command and telemetry channels are up"),
	)
	s.Server.AddTool(linksTool, s.handleLinkStatus)
}

// registerCommandTools registers MCP tools that send commands
func (s *MCPServer) registerCommandTools() {
	changeStateTool := mcp.NewTool("change_state",
		mcp.WithDescription("Change a component's state. Fields not given take their default value"),
		mcp.WithString("component",
			mcp.Required(),
			mcp.Description("Component id or alias"),
		),
		mcp.WithObject("state",
			mcp.Description("State fields by name, e.g. {\"running\": true}"),
		),
	)
	s.Server.AddTool(changeStateTool, s.handleChangeState)

	resetTool := mcp.NewTool("reset_state",
		mcp.WithDescription("Return a component to its default state"),
		mcp.WithString("component",
			mcp.Required(),
			mcp.Description("Component id or alias"),
		),
	)
	s.Server.AddTool(resetTool, s.handleResetState)

	setParamsTool := mcp.NewTool("set_parameters",
		mcp.WithDescription("Set a component's parameters. Fields not given take their default value"),
		mcp.WithString("component",
			mcp.Required(),
			mcp.Description("Component id or alias"),
		),
		mcp.WithObject("params",
			mcp.Required(),
			mcp.Description("Parameter fields by name, e.g. {\"timeout\": 2000}"),
		),
	)
	s.Server.AddTool(setParamsTool, s.handleSetParameters)

	getParamsTool := mcp.NewTool("get_parameters",
		mcp.WithDescription("Read a component's parameters"),
		mcp.WithString("component",
			mcp.Required(),
			mcp.Description("Component id or alias"),
		),
	)
	s.Server.AddTool(getParamsTool, s.handleGetParameters)
}

// registerEventTools registers MCP tools over the state event queue
func (s *MCPServer) registerEventTools() {
	awaitTool := mcp.NewTool("await_state",
		mcp.WithDescription("Wait for one of the components to publish a state whose fields match"),
		mcp.WithArray("components",
			mcp.Required(),
			mcp.Description("Component ids or aliases to watch"),
		),
		mcp.WithObject("match",
			mcp.Description("Field values the state must carry; empty matches any state"),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Timeout in seconds"),
		),
	)
	s.Server.AddTool(awaitTool, s.handleAwaitState)

	purgeTool := mcp.NewTool("purge_events",
		mcp.WithDescription("Discard every queued state event"),
	)
	s.Server.AddTool(purgeTool, s.handlePurgeEvents)
}

func (s *MCPServer) registerApparatusTools() {
	feedTool := mcp.NewTool("feed",
		mcp.WithDescription("Run the feeder and wait until it has stopped again"),
		mcp.WithNumber("duration",
			mcp.Required(),
			mcp.Description("Longest time in seconds to wait for the feeder to stop"),
		),
	)
	s.Server.AddTool(feedTool, s.handleFeed)

	cueTool := mcp.NewTool("cue",
		mcp.WithDescription("Set a cue LED to a color; off turns it off"),
		mcp.WithString("led",
			mcp.Required(),
			mcp.Enum(apparatus.Cues...),
		),
		mcp.WithString("color",
			mcp.Required(),
			mcp.Description("LED color, e.g. red, green, blue or off"),
		),
	)
	s.Server.AddTool(cueTool, s.handleCue)

	playTool := mcp.NewTool("play",
		mcp.WithDescription("Play a stimulus from the audio directory"),
		mcp.WithString("audio_id",
			mcp.Required(),
			mcp.Description("Stimulus file name"),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Return only once the stimulus has finished"),
		),
	)
	s.Server.AddTool(playTool, s.handlePlay)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

// objectArg returns an object argument, or nil when it is absent.
func objectArg(request mcp.CallToolRequest, name string) (map[string]any, error) {
	args, ok := request.GetRawArguments().(map[string]any)
	if !ok {
		return nil, nil
	}
	raw, exists := args[name]
	if !exists || raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an object", name)
	}
	return obj, nil
}

func stringsArg(request mcp.CallToolRequest, name string) ([]string, error) {
	args, _ := request.GetRawArguments().(map[string]any)
	raw, ok := args[name].([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an array of strings", name)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be an array of strings", name)
		}
		out = append(out, s)
	}
	return out, nil
}

func (s *MCPServer) handleListComponents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	includeLatest := request.GetBool("include_latest", false)

	components, err := s.services.Component.ListComponents()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error listing components: %v", err)), nil
	}
	if !includeLatest {
		for i := range components {
			components[i].Latest = nil
		}
	}
	return jsonResult(map[string]any{
		"components": components,
		"count":      len(components),
	})
}

func (s *MCPServer) handleDescribeComponent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("component")
	if err != nil {
		return mcp.NewToolResultError("component is required and must be a string"), nil
	}
	info, err := s.services.Component.GetComponent(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(info)
}

func (s *MCPServer) handleLinkStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	links, err := s.services.Link.ListLinks()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(links)
}

func (s *MCPServer) handleChangeState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("component")
	if err != nil {
		return mcp.NewToolResultError("component is required and must be a string"), nil
	}
	state, err := objectArg(request, "state")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.services.Command.ChangeState(ctx, name, state); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("State of %s changed", name)), nil
}

func (s *MCPServer) handleResetState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("component")
	if err != nil {
		return mcp.NewToolResultError("component is required and must be a string"), nil
	}
	if err := s.services.Command.ResetState(ctx, name); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s reset", name)), nil
}

func (s *MCPServer) handleSetParameters(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("component")
	if err != nil {
		return mcp.NewToolResultError("component is required and must be a string"), nil
	}
	params, err := objectArg(request, "params")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.services.Command.SetParameters(ctx, name, params); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Parameters of %s set", name)), nil
}

func (s *MCPServer) handleGetParameters(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("component")
	if err != nil {
		return mcp.NewToolResultError("component is required and must be a string"), nil
	}
	params, err := s.services.Command.GetParameters(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(params)
}

func (s *MCPServer) handleAwaitState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	components, err := stringsArg(request, "components")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	match, err := objectArg(request, "match")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timeout := request.GetFloat("timeout", services.DefaultAwaitTimeout.Seconds())

	resp, err := s.services.Event.Await(ctx, services.AwaitRequest{
		Components: components,
		Match:      match,
		Timeout:    time.Duration(timeout * float64(time.Second)),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(resp)
}

func (s *MCPServer) handlePurgeEvents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n := s.services.Event.Purge()
	return mcp.NewToolResultText(fmt.Sprintf("Purged %d events", n)), nil
}

func (s *MCPServer) handleFeed(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	seconds, err := request.RequireFloat("duration")
	if err != nil {
		return mcp.NewToolResultError("duration is required and must be a number"), nil
	}
	if err := s.services.Apparatus.Feed(ctx, time.Duration(seconds*float64(time.Second))); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("Fed"), nil
}

func (s *MCPServer) handleCue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	led, err := request.RequireString("led")
	if err != nil {
		return mcp.NewToolResultError("led is required and must be a string"), nil
	}
	color, err := request.RequireString("color")
	if err != nil {
		return mcp.NewToolResultError("color is required and must be a string"), nil
	}
	if err := s.services.Apparatus.Cue(ctx, led, color); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s is %s", led, color)), nil
}

func (s *MCPServer) handlePlay(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	audioID, err := request.RequireString("audio_id")
	if err != nil {
		return mcp.NewToolResultError("audio_id is required and must be a string"), nil
	}
	wait := request.GetBool("wait", false)
	if err := s.services.Apparatus.Play(ctx, audioID, wait); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if wait {
		return mcp.NewToolResultText(fmt.Sprintf("Played %s", audioID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Playing %s", audioID)), nil
}
