package handlers

import (
	"context"
	"encoding/json"

	"github.com/sandraschi/virtualization-mcp/internal/jobengine"
	"github.com/sandraschi/virtualization-mcp/internal/toolregistry"
)

// JobGet builds the job_get meta-tool.
func JobGet(d Deps) *toolregistry.Tool {
	return &toolregistry.Tool{
		Name: "job_get",
		Actions: map[string]toolregistry.ActionHandler{
			"": func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
				var args struct {
					JobID string `json:"job_id"`
				}
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, toolregistry.NewErrorf(toolregistry.KindValidation, nil, "invalid arguments: %v", err)
				}
				job, err := d.Jobs.Get(args.JobID)
				if err != nil {
					return nil, toolregistry.NewErrorf(toolregistry.KindNotFound, nil, "%v", err)
				}
				return job, nil
			},
		},
	}
}

// JobList builds the job_list meta-tool.
func JobList(d Deps) *toolregistry.Tool {
	return &toolregistry.Tool{
		Name: "job_list",
		Actions: map[string]toolregistry.ActionHandler{
			"": func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
				var args struct {
					Kind  string `json:"kind"`
					State string `json:"state"`
					VMID  string `json:"vm_id"`
				}
				if len(raw) > 0 {
					if err := json.Unmarshal(raw, &args); err != nil {
						return nil, toolregistry.NewErrorf(toolregistry.KindValidation, nil, "invalid arguments: %v", err)
					}
				}
				jobs := d.Jobs.List(jobengine.Filter{Kind: args.Kind, State: jobengine.State(args.State), VMID: args.VMID})
				return jobs, nil
			},
		},
	}
}

// JobCancel builds the job_cancel meta-tool.
func JobCancel(d Deps) *toolregistry.Tool {
	return &toolregistry.Tool{
		Name: "job_cancel",
		Actions: map[string]toolregistry.ActionHandler{
			"": func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
				var args struct {
					JobID string `json:"job_id"`
				}
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, toolregistry.NewErrorf(toolregistry.KindValidation, nil, "invalid arguments: %v", err)
				}
				if err := d.Jobs.Cancel(args.JobID); err != nil {
					return nil, toolregistry.NewErrorf(toolregistry.KindNotFound, nil, "%v", err)
				}
				return map[string]any{"job_id": args.JobID, "cancel_requested": true}, nil
			},
		},
	}
}
