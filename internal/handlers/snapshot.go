package handlers

import (
	"context"
	"encoding/json"

	"github.com/sandraschi/virtualization-mcp/internal/jobengine"
	"github.com/sandraschi/virtualization-mcp/internal/lockregistry"
	"github.com/sandraschi/virtualization-mcp/internal/toolregistry"
	"github.com/sandraschi/virtualization-mcp/internal/vboxmanage"
)

// SnapshotManagement builds the snapshot_management portmanteau tool.
func SnapshotManagement(d Deps) *toolregistry.Tool {
	return &toolregistry.Tool{
		Name: "snapshot_management",
		Actions: map[string]toolregistry.ActionHandler{
			"list":    snapList(d),
			"create":  snapCreate(d),
			"restore": snapRestore(d),
			"delete":  snapDelete(d),
		},
	}
}

func snapList(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[vmNameArg](raw)
		if herr != nil {
			return nil, herr
		}
		vm, aerr := d.Adapter.ShowVMInfo(ctx, args.VMName)
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return vm.Snapshots, nil
	}
}

type snapshotCreateArgs struct {
	VMName       string `json:"vm_name"`
	SnapshotName string `json:"snapshot_name"`
	Description  string `json:"description"`
	IncludeRAM   bool   `json:"include_ram"`
}

func snapCreate(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[snapshotCreateArgs](raw)
		if herr != nil {
			return nil, herr
		}
		lease, err := d.Locks.Acquire(ctx, args.VMName, lockregistry.Write, d.lockTimeout())
		if err != nil {
			return nil, toolregistry.NewError(toolregistry.KindTimeout, "timed out acquiring VM lock")
		}
		defer lease.Release()

		id, aerr := d.Adapter.SnapshotTake(ctx, args.VMName, args.SnapshotName, args.Description, args.IncludeRAM)
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return map[string]any{"vm_name": args.VMName, "snapshot_id": id, "snapshot_name": args.SnapshotName}, nil
	}
}

type snapshotNameArgs struct {
	VMName       string `json:"vm_name"`
	SnapshotName string `json:"snapshot_name"`
}

func snapRestore(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[snapshotNameArgs](raw)
		if herr != nil {
			return nil, herr
		}

		jobID := d.Jobs.Submit("snapshot_restore", args.VMName, func(jctx *jobengine.JobCtx) (any, error) {
			lease, err := d.Locks.Acquire(jctx.Context, args.VMName, lockregistry.Write, d.lockTimeout())
			if err != nil {
				return nil, err
			}
			defer lease.Release()

			vm, aerr := d.Adapter.ShowVMInfo(jctx.Context, args.VMName)
			if aerr != nil {
				return nil, aerr
			}
			if vm.State != vboxmanage.StatePoweredOff {
				return nil, toolregistry.NewErrorf(toolregistry.KindInvalidState, nil, "vm %s must be poweredOff to restore a snapshot", args.VMName)
			}
			if aerr := d.Adapter.SnapshotRestore(jctx.Context, args.VMName, args.SnapshotName); aerr != nil {
				return nil, aerr
			}
			return map[string]any{"vm_name": args.VMName, "snapshot_name": args.SnapshotName}, nil
		}, d.LongOpTimeout)

		return toolregistry.JobResult{JobID: jobID, Data: map[string]any{"job_id": jobID}}, nil
	}
}

func snapDelete(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[snapshotNameArgs](raw)
		if herr != nil {
			return nil, herr
		}

		jobID := d.Jobs.Submit("snapshot_delete", args.VMName, func(jctx *jobengine.JobCtx) (any, error) {
			lease, err := d.Locks.Acquire(jctx.Context, args.VMName, lockregistry.Write, d.lockTimeout())
			if err != nil {
				return nil, err
			}
			defer lease.Release()

			if aerr := d.Adapter.SnapshotDelete(jctx.Context, args.VMName, args.SnapshotName); aerr != nil {
				return nil, aerr
			}
			return map[string]any{"vm_name": args.VMName, "snapshot_name": args.SnapshotName}, nil
		}, d.LongOpTimeout)

		return toolregistry.JobResult{JobID: jobID, Data: map[string]any{"job_id": jobID}}, nil
	}
}
