package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandraschi/virtualization-mcp/internal/toolregistry"
)

func newEchoRegistry() *toolregistry.Registry {
	reg := toolregistry.NewRegistry(slog.Default())
	reg.Register(&toolregistry.Tool{
		Name: "echo",
		Actions: map[string]toolregistry.ActionHandler{
			"": func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
				return map[string]any{"echoed": string(raw)}, nil
			},
		},
	})
	return reg
}

func TestFrontend_DispatchesOneRequestPerLine(t *testing.T) {
	reg := newEchoRegistry()
	in := strings.NewReader(`{"id":1,"tool":"echo","arguments":{"x":1}}` + "\n")
	var out bytes.Buffer
	f := New(reg, in, &out)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.Run(ctx))

	var resp Response
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp))
	require.NotNil(t, resp.ID)
	assert.Equal(t, uint64(1), *resp.ID)
	require.NotNil(t, resp.Envelope)
	assert.True(t, resp.Envelope.Success)
}

func TestFrontend_UnknownToolReturnsFailureEnvelope(t *testing.T) {
	reg := newEchoRegistry()
	in := strings.NewReader(`{"id":2,"tool":"ghost","arguments":{}}` + "\n")
	var out bytes.Buffer
	f := New(reg, in, &out)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.Run(ctx))

	var resp Response
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp))
	require.NotNil(t, resp.Envelope)
	assert.False(t, resp.Envelope.Success)
	assert.Equal(t, toolregistry.KindNotFound, resp.Envelope.Error.Kind)
}
