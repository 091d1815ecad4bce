package handlers

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sandraschi/virtualization-mcp/internal/backupstore"
	"github.com/sandraschi/virtualization-mcp/internal/connpool"
	"github.com/sandraschi/virtualization-mcp/internal/hostnet"
	"github.com/sandraschi/virtualization-mcp/internal/jobengine"
	"github.com/sandraschi/virtualization-mcp/internal/lockregistry"
	"github.com/sandraschi/virtualization-mcp/internal/session"
	"github.com/sandraschi/virtualization-mcp/internal/vboxmanage"
)

// fakeGuestChannel is a no-op connpool.Channel used so tests never spawn a
// real guest shell subprocess.
type fakeGuestChannel struct{}

func (fakeGuestChannel) Close() error { return nil }

// scriptedRunner is a fake vboxmanage.Runner driven by a queue of canned
// responses, keyed by VBoxManage verb (args[0]).
type scriptedRunner struct {
	byVerb map[string]vboxmanage.ExecResult
	calls  []string
}

func (r *scriptedRunner) Run(_ context.Context, _ string, args []string, _ vboxmanage.RunOptions) (vboxmanage.ExecResult, error) {
	verb := ""
	if len(args) > 0 {
		verb = args[0]
	}
	r.calls = append(r.calls, strings.Join(args, " "))
	if res, ok := r.byVerb[verb]; ok {
		return res, nil
	}
	return vboxmanage.ExecResult{ExitCode: 0}, nil
}

func newTestDeps(t *testing.T, runner vboxmanage.Runner) Deps {
	t.Helper()
	adapter, err := vboxmanage.New(vboxmanage.Config{ExplicitPath: "/fake/VBoxManage", Runner: runner})
	require.NoError(t, err)

	jobs, err := jobengine.New(jobengine.Config{ResultTTL: time.Hour, SweepInterval: time.Hour, DefaultTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(jobs.Shutdown)

	sessions := session.New(session.Config{TTL: time.Hour, CleanupInterval: time.Hour})
	t.Cleanup(sessions.Shutdown)

	backups, err := backupstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { backups.Close() })

	guests := connpool.New(connpool.Config{MaxSize: 4, AcquireWait: time.Second}, func(ctx context.Context, vmID string) (connpool.Channel, error) {
		return fakeGuestChannel{}, nil
	})
	t.Cleanup(guests.Shutdown)

	return Deps{
		Adapter:             adapter,
		Locks:               lockregistry.New(),
		Jobs:                jobs,
		Sessions:            sessions,
		Backups:             backups,
		Guests:              guests,
		Subnets:             hostnet.NewSubnetAllocator(t.TempDir()),
		LockTimeout:         time.Second,
		GracefulStopTimeout: time.Second,
		LongOpTimeout:       time.Second,
	}
}
