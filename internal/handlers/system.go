package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"time"

	"github.com/sandraschi/virtualization-mcp/internal/connpool"
	"github.com/sandraschi/virtualization-mcp/internal/toolregistry"
	"github.com/sandraschi/virtualization-mcp/internal/vboxmanage"
)

// SystemManagement builds the system_management portmanteau tool.
func SystemManagement(d Deps) *toolregistry.Tool {
	return &toolregistry.Tool{
		Name: "system_management",
		Actions: map[string]toolregistry.ActionHandler{
			"host_info":    sysHostInfo(d),
			"vbox_version": sysVBoxVersion(d),
			"ostypes":      sysOSTypes(d),
			"metrics":      sysMetrics(d),
			"screenshot":   sysScreenshot(d),
			"guest_exec":   sysGuestExec(d),
		},
	}
}

func sysHostInfo(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		host, aerr := d.Adapter.HostInfo(ctx)
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return host, nil
	}
}

func sysVBoxVersion(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		v, aerr := d.Adapter.VBoxVersion(ctx)
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return map[string]any{"version": v}, nil
	}
}

func sysOSTypes(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		types, aerr := d.Adapter.ListOSTypes(ctx)
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return types, nil
	}
}

type metricsArgs struct {
	VMName         string `json:"vm_name"`
	SampleWindowMS int    `json:"sample_window_ms"`
}

func sysMetrics(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[metricsArgs](raw)
		if herr != nil {
			return nil, herr
		}
		vm, aerr := d.Adapter.ShowVMInfo(ctx, args.VMName)
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}
		if vm.State != vboxmanage.StateRunning {
			return nil, toolregistry.NewErrorf(toolregistry.KindInvalidState, nil, "vm %s is not running", args.VMName)
		}
		m, aerr := d.Adapter.MetricsQuery(ctx, args.VMName)
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return m, nil
	}
}

type screenshotArgs struct {
	VMName string `json:"vm_name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func sysScreenshot(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[screenshotArgs](raw)
		if herr != nil {
			return nil, herr
		}
		vm, aerr := d.Adapter.ShowVMInfo(ctx, args.VMName)
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}
		if vm.State != vboxmanage.StateRunning {
			return nil, toolregistry.NewErrorf(toolregistry.KindInvalidState, nil, "vm %s is not running", args.VMName)
		}

		tmp, err := os.CreateTemp("", "screenshot-*.png")
		if err != nil {
			return nil, toolregistry.NewErrorf(toolregistry.KindHostError, nil, "%v", err)
		}
		path := tmp.Name()
		tmp.Close()
		defer os.Remove(path)

		if aerr := d.Adapter.Screenshot(ctx, args.VMName, path); aerr != nil {
			return nil, asAdapterError(aerr)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, toolregistry.NewErrorf(toolregistry.KindHostError, nil, "%v", err)
		}
		return map[string]any{
			"png_base64": base64.StdEncoding.EncodeToString(data),
			"width":      args.Width,
			"height":     args.Height,
			"taken_at":   time.Now().UTC(),
		}, nil
	}
}

// guestChannel adapts *vboxmanage.GuestChannel to connpool.Channel. Handlers
// type-assert to guestRunner (not this concrete type) so tests can pool a
// fake channel without spawning a real guest shell subprocess.
type guestChannel struct {
	*vboxmanage.GuestChannel
}

// guestRunner is the subset of *vboxmanage.GuestChannel that sysGuestExec
// drives; a connpool.Channel satisfying it can stand in for a real one.
type guestRunner interface {
	Run(command []string, timeout time.Duration) (output string, exitCode int, err error)
}

type guestExecArgs struct {
	VMName     string   `json:"vm_name"`
	Command    []string `json:"command"`
	Username   string   `json:"username"`
	Password   string   `json:"password"`
	TimeoutSec int      `json:"timeout_sec"`
}

// sysGuestExec runs a command inside the guest over a pooled interactive
// guest shell channel, acquiring the channel from d.Guests (keyed by VM) and
// releasing it back to the pool on success, or discarding it on failure so
// the next call opens a fresh session.
func sysGuestExec(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[guestExecArgs](raw)
		if herr != nil {
			return nil, herr
		}
		if args.VMName == "" || len(args.Command) == 0 {
			return nil, toolregistry.NewError(toolregistry.KindValidation, "vm_name and command are required")
		}
		vm, aerr := d.Adapter.ShowVMInfo(ctx, args.VMName)
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}
		if vm.State != vboxmanage.StateRunning {
			return nil, toolregistry.NewErrorf(toolregistry.KindInvalidState, nil, "vm %s is not running", args.VMName)
		}

		conn, err := d.Guests.Acquire(ctx, args.VMName)
		if err != nil {
			if herr, ok := err.(*toolregistry.HandlerError); ok {
				return nil, herr
			}
			return nil, toolregistry.NewErrorf(toolregistry.KindHostError, nil, "%v", err)
		}
		gc, ok := conn.Channel.(guestRunner)
		if !ok {
			d.Guests.Release(conn)
			return nil, toolregistry.NewError(toolregistry.KindInternal, "pooled guest channel does not support Run")
		}

		timeout := time.Duration(args.TimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = d.LongOpTimeout
		}
		output, exitCode, rerr := gc.Run(args.Command, timeout)
		if rerr != nil {
			conn.Poison()
			d.Guests.Release(conn)
			return nil, asAdapterError(rerr)
		}
		d.Guests.Release(conn)
		return map[string]any{"output": output, "exit_code": exitCode}, nil
	}
}

// NewGuestPoolFactory builds the connpool.Factory that opens one pooled
// interactive guest shell channel per VM, for cmd/virtualization-mcp to
// hand to connpool.New at startup.
func NewGuestPoolFactory(adapter *vboxmanage.Adapter, username, password string) connpool.Factory {
	return func(ctx context.Context, vmID string) (connpool.Channel, error) {
		gc, err := adapter.OpenGuestChannel(ctx, vmID, username, password)
		if err != nil {
			return nil, err
		}
		return guestChannel{gc}, nil
	}
}
