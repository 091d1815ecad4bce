// Package vboxmanage is the VBoxManage Adapter: the only component that
// spawns VBoxManage subprocesses. It serializes nothing about which VM is
// touched (that is the Lock Registry's job) but does cap total concurrent
// subprocesses and classify every failure into the shared error taxonomy.
package vboxmanage

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/sandraschi/virtualization-mcp/internal/toolregistry"
)

// Adapter wraps a Runner with binary location, a global concurrency cap,
// and the typed convenience operations the handlers call.
type Adapter struct {
	binary         string
	runner         Runner
	sem            chan struct{}
	defaultTimeout time.Duration
	longTimeout    time.Duration
}

// Config configures adapter construction.
type Config struct {
	// ExplicitPath, if set, is used verbatim (highest precedence).
	ExplicitPath string
	// MaxParallel caps concurrent subprocesses. Defaults to 8.
	MaxParallel int
	Runner      Runner
	// DefaultTimeout bounds any typed op that doesn't need a longer deadline
	// (spec's default_operation_timeout_seconds). Defaults to 30s.
	DefaultTimeout time.Duration
	// LongTimeout bounds clone/export/import/snapshot-delete/clone-disk
	// (spec's long_operation_timeout_seconds). Defaults to 30m.
	LongTimeout time.Duration
}

// New locates the VBoxManage binary and constructs an Adapter.
// Precedence: explicit config path > VBOXMANAGE_PATH env > platform default.
func New(cfg Config) (*Adapter, error) {
	path, err := locate(cfg.ExplicitPath)
	if err != nil {
		return nil, err
	}
	max := cfg.MaxParallel
	if max <= 0 {
		max = 8
	}
	runner := cfg.Runner
	if runner == nil {
		runner = NewExecRunner()
	}
	defaultTimeout := cfg.DefaultTimeout
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	longTimeout := cfg.LongTimeout
	if longTimeout <= 0 {
		longTimeout = 30 * time.Minute
	}
	return &Adapter{
		binary:         path,
		runner:         runner,
		sem:            make(chan struct{}, max),
		defaultTimeout: defaultTimeout,
		longTimeout:    longTimeout,
	}, nil
}

func locate(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env := os.Getenv("VBOXMANAGE_PATH"); env != "" {
		return env, nil
	}
	candidates := platformDefaults()
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	if p, err := exec.LookPath("VBoxManage"); err == nil {
		return p, nil
	}
	return "", &AdapterError{Kind: toolregistry.KindConfigError, Op: "locate", Message: "VBoxManage binary not found"}
}

func platformDefaults() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"/usr/local/bin/VBoxManage", "/Applications/VirtualBox.app/Contents/MacOS/VBoxManage"}
	case "windows":
		return []string{`C:\Program Files\Oracle\VirtualBox\VBoxManage.exe`}
	default:
		return []string{"/usr/bin/VBoxManage", "/usr/local/bin/VBoxManage"}
	}
}

// Path returns the resolved binary path (useful for the `doctor` CLI command).
func (a *Adapter) Path() string { return a.binary }

// run executes one VBoxManage invocation, capped by the adapter's semaphore.
// It returns ExecResult unparsed; callers that need a typed record call one
// of the Adapter's convenience methods instead. A caller that didn't set
// opts.Timeout gets the adapter's configured default rather than the
// runner's own fallback, so cfg.DefaultOperationTimeout actually governs
// the subprocess deadline instead of being wired only to lock acquisition.
func (a *Adapter) run(ctx context.Context, op string, args []string, opts RunOptions) (ExecResult, *AdapterError) {
	if opts.Timeout <= 0 {
		opts.Timeout = a.defaultTimeout
	}
	select {
	case a.sem <- struct{}{}:
	case <-ctx.Done():
		return ExecResult{}, &AdapterError{Kind: toolregistry.KindTimeout, Op: op, Message: "timed out waiting for a free VBoxManage slot"}
	}
	defer func() { <-a.sem }()

	res, err := a.runner.Run(ctx, a.binary, args, opts)
	if err == ErrTimeout {
		return res, &AdapterError{Kind: toolregistry.KindTimeout, Op: op, Message: fmt.Sprintf("%s timed out", op)}
	}
	if err != nil {
		return res, &AdapterError{Kind: toolregistry.KindHostError, Op: op, Message: err.Error()}
	}
	if res.ExitCode != 0 {
		return res, classify(op, res.ExitCode, res.Stderr)
	}
	return res, nil
}

// Run exposes the raw, unparsed contract: args in, ExecResult out. Used by
// callers (or tests) that need a VBoxManage verb this adapter has no typed
// wrapper for yet.
func (a *Adapter) Run(ctx context.Context, args []string, opts RunOptions) (ExecResult, error) {
	res, aerr := a.run(ctx, "run", args, opts)
	if aerr != nil {
		return res, aerr
	}
	return res, nil
}

