package handlers

import (
	"context"
	"encoding/json"

	"github.com/sandraschi/virtualization-mcp/internal/toolregistry"
)

// SessionGet builds the session_get meta-tool. Unlike Session.Get (which does
// not touch), this reaches for GetOrCreate so a client that names a fresh
// session id gets a usable session back rather than not_found.
func SessionGet(d Deps) *toolregistry.Tool {
	return &toolregistry.Tool{
		Name: "session_get",
		Actions: map[string]toolregistry.ActionHandler{
			"": func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
				var args struct {
					SessionID string `json:"session_id"`
				}
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, toolregistry.NewErrorf(toolregistry.KindValidation, nil, "invalid arguments: %v", err)
				}
				if args.SessionID == "" {
					return nil, toolregistry.NewErrorf(toolregistry.KindValidation, map[string]any{"field": "session_id"}, "session_id is required")
				}
				s := d.Sessions.GetOrCreate(args.SessionID)
				return s, nil
			},
		},
	}
}

// SessionEnd builds the session_end meta-tool.
func SessionEnd(d Deps) *toolregistry.Tool {
	return &toolregistry.Tool{
		Name: "session_end",
		Actions: map[string]toolregistry.ActionHandler{
			"": func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
				var args struct {
					SessionID string `json:"session_id"`
				}
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, toolregistry.NewErrorf(toolregistry.KindValidation, nil, "invalid arguments: %v", err)
				}
				d.Sessions.End(args.SessionID)
				return map[string]any{"session_id": args.SessionID, "ended": true}, nil
			},
		},
	}
}
