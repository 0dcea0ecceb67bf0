package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"collabcanvas/api/internal/command"
	"collabcanvas/api/internal/mutation"
)

// ToolCall names one operation and its raw parameters.
type ToolCall struct {
	Name   string          `json:"name"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Toolbox dispatches named tool calls to the mutation service. Every call
// is validated against its parameter schema before anything is written.
type Toolbox struct {
	service *mutation.Service
}

func NewToolbox(service *mutation.Service) *Toolbox {
	return &Toolbox{service: service}
}

func (t *Toolbox) Call(ctx context.Context, userID string, call ToolCall) (any, error) {
	switch call.Name {
	case command.ToolInspectCanvas:
		p, err := command.Decode[command.InspectCanvasParams](call.Params)
		if err != nil {
			return nil, err
		}
		return t.service.InspectCanvas(ctx, userID, p), nil
	case command.ToolCreateShape:
		return invoke(ctx, userID, call.Params, t.service.CreateShape)
	case command.ToolMoveShape:
		return invoke(ctx, userID, call.Params, t.service.MoveShape)
	case command.ToolResizeShape:
		return invoke(ctx, userID, call.Params, t.service.ResizeShape)
	case command.ToolRotateShape:
		return invoke(ctx, userID, call.Params, t.service.RotateShape)
	case command.ToolArrangeLayout:
		return invoke(ctx, userID, call.Params, t.service.ArrangeLayout)
	case command.ToolLoginForm:
		return invoke(ctx, userID, call.Params, t.service.CreateLoginForm)
	case command.ToolNavBar:
		return invoke(ctx, userID, call.Params, t.service.CreateNavBar)
	default:
		return nil, &command.ValidationError{Field: "name", Reason: fmt.Sprintf("unknown tool %q", call.Name)}
	}
}

func invoke[P any](ctx context.Context, userID string, raw json.RawMessage, op func(context.Context, string, P) (mutation.Result, error)) (any, error) {
	params, err := command.Decode[P](raw)
	if err != nil {
		return nil, err
	}
	return op(ctx, userID, params)
}
