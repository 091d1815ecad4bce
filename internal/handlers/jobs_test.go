package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandraschi/virtualization-mcp/internal/jobengine"
	"github.com/sandraschi/virtualization-mcp/internal/toolregistry"
)

func TestJobGet_UnknownReturnsNotFound(t *testing.T) {
	deps := newTestDeps(t, &scriptedRunner{})
	tool := JobGet(deps)

	_, herr := tool.Actions[""](context.Background(), json.RawMessage(`{"job_id":"nope"}`))
	require.NotNil(t, herr)
	assert.Equal(t, toolregistry.KindNotFound, herr.Kind)
}

func TestJobList_FiltersByKind(t *testing.T) {
	deps := newTestDeps(t, &scriptedRunner{})
	done := make(chan struct{}, 2)
	noop := func(jctx *jobengine.JobCtx) (any, error) { done <- struct{}{}; return nil, nil }

	deps.Jobs.Submit("clone", "vm-1", noop, 0)
	deps.Jobs.Submit("start", "vm-2", noop, 0)
	<-done
	<-done

	tool := JobList(deps)
	data, herr := tool.Actions[""](context.Background(), json.RawMessage(`{"kind":"clone"}`))
	require.Nil(t, herr)
	jobs, ok := data.([]*jobengine.Job)
	require.True(t, ok)
	require.Len(t, jobs, 1)
	assert.Equal(t, "vm-1", jobs[0].VMID)
}

func TestJobCancel_UnknownReturnsNotFound(t *testing.T) {
	deps := newTestDeps(t, &scriptedRunner{})
	tool := JobCancel(deps)

	_, herr := tool.Actions[""](context.Background(), json.RawMessage(`{"job_id":"nope"}`))
	require.NotNil(t, herr)
	assert.Equal(t, toolregistry.KindNotFound, herr.Kind)
}

func TestJobCancel_StopsRunningJob(t *testing.T) {
	deps := newTestDeps(t, &scriptedRunner{})
	started := make(chan struct{})
	id := deps.Jobs.Submit("start", "vm-1", func(jctx *jobengine.JobCtx) (any, error) {
		close(started)
		<-jctx.Context.Done()
		return nil, jctx.Context.Err()
	}, time.Minute)
	<-started

	tool := JobCancel(deps)
	raw, _ := json.Marshal(map[string]string{"job_id": id})
	data, herr := tool.Actions[""](context.Background(), raw)
	require.Nil(t, herr)
	m := data.(map[string]any)
	assert.Equal(t, true, m["cancel_requested"])

	require.Eventually(t, func() bool {
		j, err := deps.Jobs.Get(id)
		return err == nil && j.State.Terminal()
	}, time.Second, 5*time.Millisecond)
}
