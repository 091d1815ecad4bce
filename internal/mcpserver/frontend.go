// Package mcpserver is the MCP Frontend: a thin, protocol-agnostic stdio
// transport over the Tool Registry & Dispatcher. The real Model Context
// Protocol framing (capability negotiation, tool schema advertisement) is
// an external collaborator per spec.md §1 Non-goals; this package supplies
// only the request/response loop a real MCP SDK would sit behind, grounded
// on the teacher's pkg/rpc/handler.go JSON-lines loop.
package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sandraschi/virtualization-mcp/internal/toolregistry"
)

// Request is one inbound tool call, one JSON object per line.
type Request struct {
	ID        *uint64         `json:"id,omitempty"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// cancelRequest is a control-plane line that aborts an in-flight call by ID,
// mirroring the teacher's "cancel" RPC method.
type cancelRequest struct {
	ID     *uint64 `json:"id,omitempty"`
	Cancel *uint64 `json:"cancel"`
}

// Response wraps a dispatch envelope with the request ID it answers.
type Response struct {
	ID       *uint64                `json:"id,omitempty"`
	Envelope *toolregistry.Envelope `json:"envelope,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Frontend serves tool calls read as JSON lines from in and writes one JSON
// response line per call to out, dispatching concurrently the way the
// teacher's rpc.Handler does, with a "cancel" control message aborting an
// in-flight call by request ID.
type Frontend struct {
	reg *toolregistry.Registry
	in  io.Reader
	out io.Writer

	mu     sync.Mutex // serializes writes to out
	wg     sync.WaitGroup
	closed atomic.Bool

	cancelsMu sync.Mutex
	cancels   map[uint64]context.CancelFunc
}

// New builds a Frontend dispatching against reg.
func New(reg *toolregistry.Registry, in io.Reader, out io.Writer) *Frontend {
	return &Frontend{
		reg:     reg,
		in:      in,
		out:     out,
		cancels: make(map[uint64]context.CancelFunc),
	}
}

// Run reads requests until ctx is cancelled or in reaches EOF, blocking
// until every in-flight call has been answered.
func (f *Frontend) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(f.in)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	go func() {
		<-ctx.Done()
		f.closed.Store(true)
	}()

	for scanner.Scan() {
		if f.closed.Load() {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var probe cancelRequest
		if err := json.Unmarshal(line, &probe); err == nil && probe.Cancel != nil {
			f.handleCancel(*probe.Cancel)
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			f.writeResponse(Response{Error: fmt.Sprintf("parse error: %v", err)})
			continue
		}

		f.wg.Add(1)
		go func(r Request) {
			defer f.wg.Done()
			f.handle(ctx, r)
		}(req)
	}

	f.wg.Wait()
	return scanner.Err()
}

func (f *Frontend) handle(ctx context.Context, req Request) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if req.ID != nil {
		f.cancelsMu.Lock()
		f.cancels[*req.ID] = cancel
		f.cancelsMu.Unlock()
		defer func() {
			f.cancelsMu.Lock()
			delete(f.cancels, *req.ID)
			f.cancelsMu.Unlock()
		}()
	}

	env := f.reg.Dispatch(reqCtx, req.Tool, req.Arguments)
	f.writeResponse(Response{ID: req.ID, Envelope: env})
}

func (f *Frontend) handleCancel(id uint64) {
	f.cancelsMu.Lock()
	cancel, ok := f.cancels[id]
	f.cancelsMu.Unlock()
	if ok {
		cancel()
	}
}

func (f *Frontend) writeResponse(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintln(f.out, string(data))
}
