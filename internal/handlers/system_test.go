package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandraschi/virtualization-mcp/internal/connpool"
	"github.com/sandraschi/virtualization-mcp/internal/toolregistry"
	"github.com/sandraschi/virtualization-mcp/internal/vboxmanage"
)

func TestSysMetrics_RejectsNonRunningVM(t *testing.T) {
	runner := &scriptedRunner{byVerb: map[string]vboxmanage.ExecResult{
		"showvminfo": {ExitCode: 0, Stdout: "name=\"web-1\"\nUUID=\"aaaa\"\nVMState=\"poweredoff\"\nmemory=2048\ncpus=2\n"},
	}}
	deps := newTestDeps(t, runner)
	tool := SystemManagement(deps)

	_, herr := tool.Actions["metrics"](context.Background(), json.RawMessage(`{"vm_name":"web-1"}`))
	require.NotNil(t, herr)
	assert.Equal(t, toolregistry.KindInvalidState, herr.Kind)
}

func TestSysScreenshot_Base64EncodesFileContents(t *testing.T) {
	runner := &screenshotWritingRunner{
		scriptedRunner: scriptedRunner{byVerb: map[string]vboxmanage.ExecResult{
			"showvminfo": {ExitCode: 0, Stdout: "name=\"web-1\"\nUUID=\"aaaa\"\nVMState=\"running\"\nmemory=2048\ncpus=2\n"},
		}},
		payload: []byte("fake-png-bytes"),
	}
	deps := newTestDeps(t, runner)
	tool := SystemManagement(deps)

	raw := json.RawMessage(`{"vm_name":"web-1","width":800,"height":600}`)
	data, herr := tool.Actions["screenshot"](context.Background(), raw)
	require.Nil(t, herr)
	m, ok := data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, base64.StdEncoding.EncodeToString(runner.payload), m["png_base64"])
}

func TestSysGuestExec_RejectsNonRunningVM(t *testing.T) {
	runner := &scriptedRunner{byVerb: map[string]vboxmanage.ExecResult{
		"showvminfo": {ExitCode: 0, Stdout: "name=\"web-1\"\nUUID=\"aaaa\"\nVMState=\"poweredoff\"\nmemory=2048\ncpus=2\n"},
	}}
	deps := newTestDeps(t, runner)
	tool := SystemManagement(deps)

	raw := json.RawMessage(`{"vm_name":"web-1","command":["echo","hi"]}`)
	_, herr := tool.Actions["guest_exec"](context.Background(), raw)
	require.NotNil(t, herr)
	assert.Equal(t, toolregistry.KindInvalidState, herr.Kind)
}

// fakeGuestRunner stands in for a real pty-backed guest channel, letting the
// test drive guest_exec without spawning VBoxManage.
type fakeGuestRunner struct {
	output   string
	exitCode int
}

func (f fakeGuestRunner) Close() error { return nil }
func (f fakeGuestRunner) Run(command []string, timeout time.Duration) (string, int, error) {
	return f.output, f.exitCode, nil
}

func TestSysGuestExec_ReturnsOutputAndReleasesConnection(t *testing.T) {
	runner := &scriptedRunner{byVerb: map[string]vboxmanage.ExecResult{
		"showvminfo": {ExitCode: 0, Stdout: "name=\"web-1\"\nUUID=\"aaaa\"\nVMState=\"running\"\nmemory=2048\ncpus=2\n"},
	}}
	deps := newTestDeps(t, runner)
	deps.Guests = connpool.New(connpool.Config{MaxSize: 2}, func(ctx context.Context, vmID string) (connpool.Channel, error) {
		return fakeGuestRunner{output: "hi\n", exitCode: 0}, nil
	})
	t.Cleanup(deps.Guests.Shutdown)
	tool := SystemManagement(deps)

	raw := json.RawMessage(`{"vm_name":"web-1","command":["echo","hi"]}`)
	data, herr := tool.Actions["guest_exec"](context.Background(), raw)
	require.Nil(t, herr)
	m, ok := data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hi\n", m["output"])
	assert.Equal(t, 0, m["exit_code"])
}

// screenshotWritingRunner extends scriptedRunner to also write a payload to
// the --filename path the screenshot op passes, mimicking VBoxManage writing
// a PNG to disk.
type screenshotWritingRunner struct {
	scriptedRunner
	payload []byte
}

func (r *screenshotWritingRunner) Run(ctx context.Context, binary string, args []string, opts vboxmanage.RunOptions) (vboxmanage.ExecResult, error) {
	res, err := r.scriptedRunner.Run(ctx, binary, args, opts)
	if len(args) >= 4 && args[0] == "controlvm" && args[2] == "screenshotpng" {
		_ = os.WriteFile(args[3], r.payload, 0o600)
	}
	return res, err
}
