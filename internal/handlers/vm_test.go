package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandraschi/virtualization-mcp/internal/backupstore"
	"github.com/sandraschi/virtualization-mcp/internal/jobengine"
	"github.com/sandraschi/virtualization-mcp/internal/toolregistry"
	"github.com/sandraschi/virtualization-mcp/internal/vboxmanage"
)

func TestVMInfo_NotFound(t *testing.T) {
	runner := &scriptedRunner{byVerb: map[string]vboxmanage.ExecResult{
		"showvminfo": {ExitCode: 1, Stderr: "VBoxManage: error: Could not find a registered machine named 'ghost'"},
	}}
	deps := newTestDeps(t, runner)
	tool := VMManagement(deps)

	_, herr := tool.Actions["info"](context.Background(), json.RawMessage(`{"vm_name":"ghost"}`))
	require.NotNil(t, herr)
	assert.Equal(t, toolregistry.KindNotFound, herr.Kind)
}

func TestVMCreate_RejectsMissingName(t *testing.T) {
	deps := newTestDeps(t, &scriptedRunner{})
	tool := VMManagement(deps)

	_, herr := tool.Actions["create"](context.Background(), json.RawMessage(`{"memory_mb":1024,"cpus":1}`))
	require.NotNil(t, herr)
	assert.Equal(t, toolregistry.KindValidation, herr.Kind)
}

func TestVMCreate_WiresChipsetAndDisk(t *testing.T) {
	runner := &scriptedRunner{byVerb: map[string]vboxmanage.ExecResult{
		"showvminfo": {ExitCode: 0, Stdout: "name=\"web-1\"\nUUID=\"aaaa\"\nVMState=\"poweredoff\"\nmemory=2048\ncpus=2\n"},
	}}
	deps := newTestDeps(t, runner)
	tool := VMManagement(deps)

	args := `{"vm_name":"web-1","os_type":"Ubuntu_64","memory_mb":2048,"cpus":2,"disk_size_gb":10,"chipset":"ich9"}`
	data, herr := tool.Actions["create"](context.Background(), json.RawMessage(args))
	require.Nil(t, herr)
	require.NotNil(t, data)

	foundChipset := false
	foundDisk := false
	for _, call := range runner.calls {
		if strings.Contains(call, "--chipset ich9") {
			foundChipset = true
		}
		if strings.Contains(call, "createmedium") {
			foundDisk = true
		}
	}
	assert.True(t, foundChipset, "expected a modifyvm call with --chipset ich9, got calls: %v", runner.calls)
	assert.True(t, foundDisk, "expected a createmedium call, got calls: %v", runner.calls)
}

func TestVMStart_RejectsConflictingModes(t *testing.T) {
	deps := newTestDeps(t, &scriptedRunner{})
	tool := VMManagement(deps)

	headless := true
	raw, _ := json.Marshal(map[string]any{"vm_name": "web-1", "gui": true, "headless": headless})
	_, herr := tool.Actions["start"](context.Background(), raw)
	require.NotNil(t, herr)
	assert.Equal(t, toolregistry.KindValidation, herr.Kind)
}

func TestVMStart_SubmitsJobAndTransitionsToRunning(t *testing.T) {
	runner := &scriptedRunner{byVerb: map[string]vboxmanage.ExecResult{
		"showvminfo": {ExitCode: 0, Stdout: "name=\"web-1\"\nUUID=\"aaaa\"\nVMState=\"poweredoff\"\nmemory=2048\ncpus=2\n"},
	}}
	deps := newTestDeps(t, runner)
	tool := VMManagement(deps)

	data, herr := tool.Actions["start"](context.Background(), json.RawMessage(`{"vm_name":"web-1"}`))
	require.Nil(t, herr)
	job, ok := data.(toolregistry.JobResult)
	require.True(t, ok)
	require.NotEmpty(t, job.JobID)

	require.Eventually(t, func() bool {
		j, err := deps.Jobs.Get(job.JobID)
		return err == nil && j.State.Terminal()
	}, time.Second, 5*time.Millisecond)

	j, err := deps.Jobs.Get(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobengine.StateSucceeded, j.State)
}

func TestVMDelete_RejectsRunningVM(t *testing.T) {
	runner := &scriptedRunner{byVerb: map[string]vboxmanage.ExecResult{
		"showvminfo": {ExitCode: 0, Stdout: "name=\"web-1\"\nUUID=\"aaaa\"\nVMState=\"running\"\nmemory=2048\ncpus=2\n"},
	}}
	deps := newTestDeps(t, runner)
	tool := VMManagement(deps)

	_, herr := tool.Actions["delete"](context.Background(), json.RawMessage(`{"vm_name":"web-1"}`))
	require.NotNil(t, herr)
	assert.Equal(t, toolregistry.KindInvalidState, herr.Kind)
}

func TestVMExport_RecordsBackupAndListsIt(t *testing.T) {
	runner := &scriptedRunner{}
	deps := newTestDeps(t, runner)
	tool := VMManagement(deps)

	data, herr := tool.Actions["export"](context.Background(), json.RawMessage(`{"vm_name":"web-1","format":"ova"}`))
	require.Nil(t, herr)
	b, ok := data.(backupstore.Backup)
	require.True(t, ok)
	assert.Equal(t, "web-1", b.VMName)
	assert.NotEmpty(t, b.ID)

	found := false
	for _, call := range runner.calls {
		if strings.Contains(call, "export web-1") {
			found = true
		}
	}
	assert.True(t, found, "expected an export call, got: %v", runner.calls)

	listed, herr := tool.Actions["backup_list"](context.Background(), json.RawMessage(`{"vm_name":"web-1"}`))
	require.Nil(t, herr)
	backups, ok := listed.([]backupstore.Backup)
	require.True(t, ok)
	require.Len(t, backups, 1)
	assert.Equal(t, b.ID, backups[0].ID)
}

func TestVMImport_RequiresBackupIDOrPath(t *testing.T) {
	deps := newTestDeps(t, &scriptedRunner{})
	tool := VMManagement(deps)

	_, herr := tool.Actions["import"](context.Background(), json.RawMessage(`{}`))
	require.NotNil(t, herr)
	assert.Equal(t, toolregistry.KindValidation, herr.Kind)
}

func TestVMImport_ResolvesBackupIDToPath(t *testing.T) {
	runner := &scriptedRunner{}
	deps := newTestDeps(t, runner)
	tool := VMManagement(deps)

	exported, herr := tool.Actions["export"](context.Background(), json.RawMessage(`{"vm_name":"web-1"}`))
	require.Nil(t, herr)
	b := exported.(backupstore.Backup)

	raw, _ := json.Marshal(map[string]string{"backup_id": b.ID})
	data, herr := tool.Actions["import"](context.Background(), raw)
	require.Nil(t, herr)
	m := data.(map[string]any)
	assert.Equal(t, b.Path, m["path"])
}

func TestVMDelete_CallsUnregisterVM(t *testing.T) {
	runner := &scriptedRunner{byVerb: map[string]vboxmanage.ExecResult{
		"showvminfo": {ExitCode: 0, Stdout: "name=\"web-1\"\nUUID=\"aaaa\"\nVMState=\"poweredoff\"\nmemory=2048\ncpus=2\n"},
	}}
	deps := newTestDeps(t, runner)
	tool := VMManagement(deps)

	data, herr := tool.Actions["delete"](context.Background(), json.RawMessage(`{"vm_name":"web-1"}`))
	require.Nil(t, herr)
	m := data.(map[string]any)
	assert.Equal(t, true, m["deleted"])

	found := false
	for _, call := range runner.calls {
		if call == "unregistervm web-1 --delete" {
			found = true
		}
		assert.NotContains(t, call, "controlvm web-1 unregister", "delete must never call controlvm unregister, it is not a real verb")
	}
	assert.True(t, found, "expected an unregistervm --delete call, got: %v", runner.calls)
}

// stateSequenceRunner returns showvminfo with VMState transitioning through a
// fixed sequence of states as it is called repeatedly, so vmStop's polling
// loop can be exercised deterministically.
type stateSequenceRunner struct {
	states []string
	calls  []string
	n      int
}

func (r *stateSequenceRunner) Run(_ context.Context, _ string, args []string, _ vboxmanage.RunOptions) (vboxmanage.ExecResult, error) {
	verb := ""
	if len(args) > 0 {
		verb = args[0]
	}
	r.calls = append(r.calls, strings.Join(args, " "))
	if verb != "showvminfo" {
		return vboxmanage.ExecResult{ExitCode: 0}, nil
	}
	idx := r.n
	if idx >= len(r.states) {
		idx = len(r.states) - 1
	}
	r.n++
	state := r.states[idx]
	return vboxmanage.ExecResult{ExitCode: 0, Stdout: "name=\"web-1\"\nUUID=\"aaaa\"\nVMState=\"" + state + "\"\nmemory=2048\ncpus=2\n"}, nil
}

func TestVMStop_GracefulPollsUntilStopped(t *testing.T) {
	runner := &stateSequenceRunner{states: []string{"running", "running", "poweredoff"}}
	deps := newTestDeps(t, runner)
	deps.GracefulStopTimeout = 3 * time.Second
	tool := VMManagement(deps)

	data, herr := tool.Actions["stop"](context.Background(), json.RawMessage(`{"vm_name":"web-1"}`))
	require.Nil(t, herr)
	m := data.(map[string]any)
	assert.Equal(t, string(vboxmanage.StatePoweredOff), m["state"])

	found := false
	for _, call := range runner.calls {
		if call == "controlvm web-1 acpipowerbutton" {
			found = true
		}
	}
	assert.True(t, found, "expected an acpipowerbutton call, got: %v", runner.calls)
}

func TestVMStop_GracefulTimesOutWithoutEscalating(t *testing.T) {
	runner := &stateSequenceRunner{states: []string{"running", "running", "running", "running", "running", "running"}}
	deps := newTestDeps(t, runner)
	deps.GracefulStopTimeout = 50 * time.Millisecond
	tool := VMManagement(deps)

	_, herr := tool.Actions["stop"](context.Background(), json.RawMessage(`{"vm_name":"web-1"}`))
	require.NotNil(t, herr)
	assert.Equal(t, toolregistry.KindTimeout, herr.Kind)

	for _, call := range runner.calls {
		assert.NotEqual(t, "controlvm web-1 poweroff", call, "a timed-out graceful stop must not auto-escalate to forced poweroff")
	}
}

func TestVMStop_ForcePowersOffImmediately(t *testing.T) {
	runner := &scriptedRunner{}
	deps := newTestDeps(t, runner)
	tool := VMManagement(deps)

	data, herr := tool.Actions["stop"](context.Background(), json.RawMessage(`{"vm_name":"web-1","force":true}`))
	require.Nil(t, herr)
	m := data.(map[string]any)
	assert.Equal(t, "poweredOff", m["state"])
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "controlvm web-1 poweroff", runner.calls[0])
}

func TestVMModify_WiresDescriptionAndParavirtProvider(t *testing.T) {
	runner := &scriptedRunner{byVerb: map[string]vboxmanage.ExecResult{
		"showvminfo": {ExitCode: 0, Stdout: "name=\"web-1\"\nUUID=\"aaaa\"\nVMState=\"poweredoff\"\nmemory=2048\ncpus=2\n"},
	}}
	deps := newTestDeps(t, runner)
	tool := VMManagement(deps)

	raw := json.RawMessage(`{"vm_name":"web-1","patch":{"description":"updated","paravirt_provider":"kvm"}}`)
	_, herr := tool.Actions["modify"](context.Background(), raw)
	require.Nil(t, herr)

	found := false
	for _, call := range runner.calls {
		if strings.Contains(call, "--description updated") && strings.Contains(call, "--paravirtprovider kvm") {
			found = true
		}
	}
	assert.True(t, found, "expected modifyvm call with description and paravirtprovider, got: %v", runner.calls)
}

func TestVMModify_RejectsMemoryChangeWhileRunning(t *testing.T) {
	runner := &scriptedRunner{byVerb: map[string]vboxmanage.ExecResult{
		"showvminfo": {ExitCode: 0, Stdout: "name=\"web-1\"\nUUID=\"aaaa\"\nVMState=\"running\"\nmemory=2048\ncpus=2\n"},
	}}
	deps := newTestDeps(t, runner)
	tool := VMManagement(deps)

	raw := json.RawMessage(`{"vm_name":"web-1","patch":{"memory_mb":4096}}`)
	_, herr := tool.Actions["modify"](context.Background(), raw)
	require.NotNil(t, herr)
	assert.Equal(t, toolregistry.KindInvalidState, herr.Kind)
}
