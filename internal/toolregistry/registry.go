// Package toolregistry is the Tool Registry & Dispatcher: it holds the
// explicit, startup-constructed table of portmanteau tools and meta-tools,
// validates the action discriminator, and produces the single canonical
// response envelope every tool call returns.
//
// Tools are registered once, by name, at process startup (see
// cmd/virtualization-mcp). There is no package-level registration via
// init(): the table is built explicitly by the caller and handed to
// NewRegistry, so the tool surface is statically inspectable and never
// depends on import order.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sandraschi/virtualization-mcp/internal/logging"
)

// ActionHandler implements one action of one portmanteau tool. raw is the
// full arguments object for the call, including the action discriminator;
// handlers that hand work to the job engine return a JobResult, whose JobID
// the Dispatcher copies into Metadata.JobID.
type ActionHandler func(ctx context.Context, raw json.RawMessage) (any, *HandlerError)

// Tool is one user-visible tool, fanning out to one ActionHandler per action.
type Tool struct {
	Name    string
	Actions map[string]ActionHandler
}

// discriminator extracts the required "action" field shared by every
// portmanteau request without committing to any action's full argument shape.
type discriminator struct {
	Action string `json:"action"`
}

// Registry is the explicit, startup-built table of tools. It is safe for
// concurrent use: Register takes the write lock and Dispatch the read lock.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Tool
	log     *slog.Logger
	emitter *logging.Emitter
}

// NewRegistry creates an empty registry. Callers register every tool before
// serving any request.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{tools: make(map[string]*Tool), log: log}
}

// WithEmitter attaches an event emitter that records a tool_call event for
// every Dispatch, win or lose. A nil emitter (the default) disables event
// emission entirely; slog diagnostic logging is unaffected either way.
func (r *Registry) WithEmitter(emitter *logging.Emitter) *Registry {
	r.emitter = emitter
	return r
}

// Register adds a tool to the table. Panics on duplicate registration:
// a duplicate name is a startup wiring bug, not a runtime condition.
func (r *Registry) Register(tool *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		panic("toolregistry: duplicate tool registration for " + tool.Name)
	}
	r.tools[tool.Name] = tool
}

// Names returns the registered tool names, for documentation/introspection.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	return names
}

// Dispatch validates and routes a single tool call, always returning an
// Envelope — never an error — so the MCP frontend has one shape to render.
func (r *Registry) Dispatch(ctx context.Context, toolName string, args json.RawMessage) *Envelope {
	start := time.Now()
	meta := Metadata{Tool: toolName}

	r.mu.RLock()
	tool, ok := r.tools[toolName]
	r.mu.RUnlock()
	if !ok {
		return failure(NewError(KindNotFound, fmt.Sprintf("unknown tool %q", toolName)), finish(meta, start))
	}

	// Meta-tools (job_get, session_end, ...) carry no action discriminator.
	if len(tool.Actions) == 1 {
		if h, ok := tool.Actions[""]; ok {
			return r.invoke(ctx, tool.Name, "", h, args, meta, start)
		}
	}

	var disc discriminator
	if err := json.Unmarshal(args, &disc); err != nil {
		return failure(NewError(KindValidation, "arguments must be a JSON object"), finish(meta, start))
	}
	if disc.Action == "" {
		return failure(NewError(KindValidation, "missing required field \"action\""), finish(meta, start))
	}
	meta.Action = disc.Action

	handler, ok := tool.Actions[disc.Action]
	if !ok {
		return failure(NewErrorf(KindValidation, map[string]any{"field": "action", "value": disc.Action},
			"unknown action %q for tool %q", disc.Action, toolName), finish(meta, start))
	}

	return r.invoke(ctx, tool.Name, disc.Action, handler, args, meta, start)
}

func (r *Registry) invoke(ctx context.Context, toolName, action string, handler ActionHandler, args json.RawMessage, meta Metadata, start time.Time) (env *Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("tool handler panicked", "tool", toolName, "action", action, "panic", rec)
			env = failure(NewError(KindInternal, "internal error"), finish(meta, start))
		}
		r.emitToolCall(toolName, action, env)
	}()

	data, herr := handler(ctx, args)
	if herr != nil {
		return failure(herr, finish(meta, start))
	}
	if job, ok := data.(JobResult); ok {
		meta.JobID = job.JobID
		return success(job.Data, finish(meta, start))
	}
	return success(data, finish(meta, start))
}

func (r *Registry) emitToolCall(toolName, action string, env *Envelope) {
	if r.emitter == nil || env == nil {
		return
	}
	data := logging.ToolCallData{Tool: toolName, Action: action, Success: env.Success, DurationMS: env.Metadata.DurationMS}
	if !env.Success && env.Error != nil {
		data.ErrorKind = string(env.Error.Kind)
	}
	_ = r.emitter.Emit(logging.EventToolCall, fmt.Sprintf("%s.%s", toolName, action), "", nil, data)
}

func finish(meta Metadata, start time.Time) Metadata {
	meta.DurationMS = time.Since(start).Milliseconds()
	return meta
}

// JobResult is returned by an ActionHandler that handed its work off to the
// Job Engine instead of completing inline: Data is whatever the handler
// wants to surface immediately (typically just the job id echoed back) and
// JobID is stamped onto the envelope's metadata.
type JobResult struct {
	JobID string
	Data  any
}
