package handlers

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sandraschi/virtualization-mcp/internal/backupstore"
	"github.com/sandraschi/virtualization-mcp/internal/jobengine"
	"github.com/sandraschi/virtualization-mcp/internal/lockregistry"
	"github.com/sandraschi/virtualization-mcp/internal/toolregistry"
	"github.com/sandraschi/virtualization-mcp/internal/vboxmanage"
)

// VMManagement builds the vm_management portmanteau tool.
func VMManagement(d Deps) *toolregistry.Tool {
	return &toolregistry.Tool{
		Name: "vm_management",
		Actions: map[string]toolregistry.ActionHandler{
			"list":   vmList(d),
			"info":   vmInfo(d),
			"create": vmCreate(d),
			"start":  vmStart(d),
			"stop":   vmStop(d),
			"delete": vmDelete(d),
			"clone":  vmClone(d),
			"reset":  vmControlSimple(d, "reset", vboxmanage.StateRunning),
			"pause":  vmControlSimple(d, "pause", vboxmanage.StateRunning),
			"resume":      vmControlSimple(d, "resume", vboxmanage.StatePaused),
			"modify":      vmModify(d),
			"export":      vmExport(d),
			"import":      vmImport(d),
			"backup_list": vmBackupList(d),
		},
	}
}

func vmList(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		names, err := d.Adapter.ListVMs(ctx)
		if err != nil {
			return nil, asAdapterError(err)
		}
		out := make([]map[string]any, 0, len(names))
		for _, n := range names {
			vm, err := d.Adapter.ShowVMInfo(ctx, n.UUID)
			if err != nil {
				continue // snapshot-in-time best effort; a racing delete shouldn't fail the whole list
			}
			out = append(out, map[string]any{
				"id": vm.ID, "name": vm.Name, "state": vm.State,
				"os_type": vm.OSType, "memory_mb": vm.MemoryMB, "cpus": vm.CPUs,
				"group_paths": vm.GroupPaths,
			})
		}
		return out, nil
	}
}

type vmNameArg struct {
	VMName string `json:"vm_name"`
}

func vmInfo(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[vmNameArg](raw)
		if herr != nil {
			return nil, herr
		}
		lease, err := d.Locks.Acquire(ctx, args.VMName, lockregistry.Read, d.lockTimeout())
		if err != nil {
			return nil, toolregistry.NewError(toolregistry.KindTimeout, "timed out acquiring VM lock")
		}
		defer lease.Release()

		vm, aerr := d.Adapter.ShowVMInfo(ctx, args.VMName)
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return vm, nil
	}
}

type vmCreateArgs struct {
	VMName     string `json:"vm_name"`
	OSType     string `json:"os_type"`
	MemoryMB   int    `json:"memory_mb"`
	CPUs       int    `json:"cpus"`
	DiskSizeGB int    `json:"disk_size_gb"`
	Firmware   string `json:"firmware"`
	Chipset    string `json:"chipset"`
}

func vmCreate(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[vmCreateArgs](raw)
		if herr != nil {
			return nil, herr
		}
		if args.VMName == "" {
			return nil, toolregistry.NewErrorf(toolregistry.KindValidation, map[string]any{"field": "vm_name"}, "vm_name is required")
		}
		if args.MemoryMB <= 0 {
			return nil, toolregistry.NewErrorf(toolregistry.KindValidation, map[string]any{"field": "memory_mb"}, "memory_mb must be positive")
		}
		if args.CPUs <= 0 {
			return nil, toolregistry.NewErrorf(toolregistry.KindValidation, map[string]any{"field": "cpus"}, "cpus must be positive")
		}

		lease, err := d.Locks.Acquire(ctx, args.VMName, lockregistry.Write, d.lockTimeout())
		if err != nil {
			return nil, toolregistry.NewError(toolregistry.KindTimeout, "timed out acquiring VM lock")
		}
		defer lease.Release()

		vm, aerr := d.Adapter.CreateVM(ctx, vboxmanage.CreateVMSpec{Name: args.VMName, OSType: args.OSType, Register: true})
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}
		mem := args.MemoryMB
		cpus := args.CPUs
		patch := vboxmanage.ModifyVMPatch{MemoryMB: &mem, CPUs: &cpus, Chipset: args.Chipset, Firmware: args.Firmware}
		if modErr := d.Adapter.ModifyVM(ctx, args.VMName, patch); modErr != nil {
			return nil, asAdapterError(modErr)
		}
		if args.DiskSizeGB > 0 {
			diskPath := vm.BaseFolder + "/" + args.VMName + ".vdi"
			if err := d.Adapter.CreateMedium(ctx, vboxmanage.CreateMediumSpec{Filename: diskPath, SizeMB: args.DiskSizeGB * 1024}); err != nil {
				return nil, asAdapterError(err)
			}
			if err := d.Adapter.StorageCtl(ctx, args.VMName, vboxmanage.StorageCtlSpec{Name: "SATA Controller", Add: "sata", Controller: "IntelAhci"}); err != nil {
				return nil, asAdapterError(err)
			}
			if err := d.Adapter.StorageAttach(ctx, args.VMName, vboxmanage.DiskAttachment{ControllerName: "SATA Controller", Port: 0, Device: 0, MediumPath: diskPath}); err != nil {
				return nil, asAdapterError(err)
			}
		}
		final, aerr := d.Adapter.ShowVMInfo(ctx, args.VMName)
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return final, nil
	}
}

type vmStartArgs struct {
	VMName   string `json:"vm_name"`
	Headless *bool  `json:"headless"`
	GUI      bool   `json:"gui"`
}

func vmStart(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[vmStartArgs](raw)
		if herr != nil {
			return nil, herr
		}
		if args.GUI && args.Headless != nil && *args.Headless {
			return nil, toolregistry.NewErrorf(toolregistry.KindValidation, nil, "gui and headless are mutually exclusive")
		}
		mode := "headless"
		if args.GUI {
			mode = "gui"
		}

		vmName := args.VMName
		jobID := d.Jobs.Submit("start", vmName, func(jctx *jobengine.JobCtx) (any, error) {
			lease, err := d.Locks.Acquire(jctx.Context, vmName, lockregistry.Write, d.lockTimeout())
			if err != nil {
				return nil, err
			}
			defer lease.Release()

			vm, aerr := d.Adapter.ShowVMInfo(jctx.Context, vmName)
			if aerr != nil {
				return nil, aerr
			}
			switch vm.State {
			case vboxmanage.StatePoweredOff, vboxmanage.StateSaved, vboxmanage.StateAborted:
			default:
				return nil, toolregistry.NewErrorf(toolregistry.KindInvalidState, nil, "vm %s is %s, cannot start", vmName, vm.State)
			}
			if aerr := d.Adapter.StartVM(jctx.Context, vmName, mode); aerr != nil {
				return nil, aerr
			}
			return map[string]any{"vm_name": vmName, "state": "running"}, nil
		}, d.LongOpTimeout)

		return toolregistry.JobResult{JobID: jobID, Data: map[string]any{"vm_name": vmName, "job_id": jobID}}, nil
	}
}

type vmStopArgs struct {
	VMName string `json:"vm_name"`
	Force  bool   `json:"force"`
}

func vmStop(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[vmStopArgs](raw)
		if herr != nil {
			return nil, herr
		}
		lease, err := d.Locks.Acquire(ctx, args.VMName, lockregistry.Write, d.lockTimeout())
		if err != nil {
			return nil, toolregistry.NewError(toolregistry.KindTimeout, "timed out acquiring VM lock")
		}
		defer lease.Release()

		if args.Force {
			if aerr := d.Adapter.ControlVM(ctx, args.VMName, "poweroff"); aerr != nil {
				return nil, asAdapterError(aerr)
			}
			return map[string]any{"vm_name": args.VMName, "state": "poweredOff"}, nil
		}
		if aerr := d.Adapter.ControlVM(ctx, args.VMName, "acpipowerbutton"); aerr != nil {
			return nil, asAdapterError(aerr)
		}
		state, herr := waitForStoppedState(ctx, d, args.VMName)
		if herr != nil {
			return nil, herr
		}
		return map[string]any{"vm_name": args.VMName, "state": string(state)}, nil
	}
}

// waitForStoppedState polls ShowVMInfo until the VM reaches a stopped state
// or d.gracefulStopTimeout() elapses, per spec.md's graceful-stop contract:
// a timed-out ACPI stop returns Timeout rather than escalating to a forced
// poweroff.
func waitForStoppedState(ctx context.Context, d Deps, vmName string) (vboxmanage.VMState, *toolregistry.HandlerError) {
	deadlineCtx, cancel := context.WithTimeout(ctx, d.gracefulStopTimeout())
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		vm, aerr := d.Adapter.ShowVMInfo(deadlineCtx, vmName)
		if aerr == nil {
			switch vm.State {
			case vboxmanage.StatePoweredOff, vboxmanage.StateSaved, vboxmanage.StateAborted:
				return vm.State, nil
			}
		}
		select {
		case <-deadlineCtx.Done():
			return "", toolregistry.NewError(toolregistry.KindTimeout, "vm did not stop within graceful_stop_timeout")
		case <-ticker.C:
		}
	}
}

type vmDeleteArgs struct {
	VMName      string `json:"vm_name"`
	DeleteFiles *bool  `json:"delete_files"`
}

func vmDelete(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[vmDeleteArgs](raw)
		if herr != nil {
			return nil, herr
		}
		deleteFiles := true
		if args.DeleteFiles != nil {
			deleteFiles = *args.DeleteFiles
		}

		lease, err := d.Locks.Acquire(ctx, args.VMName, lockregistry.Write, d.lockTimeout())
		if err != nil {
			return nil, toolregistry.NewError(toolregistry.KindTimeout, "timed out acquiring VM lock")
		}
		defer lease.Release()

		vm, aerr := d.Adapter.ShowVMInfo(ctx, args.VMName)
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}
		switch vm.State {
		case vboxmanage.StatePoweredOff, vboxmanage.StateAborted:
		default:
			return nil, toolregistry.NewErrorf(toolregistry.KindInvalidState, nil, "vm %s is %s, must be stopped before delete", args.VMName, vm.State)
		}

		if err := d.Adapter.UnregisterVM(ctx, args.VMName, deleteFiles); err != nil {
			return nil, asAdapterError(err)
		}
		return map[string]any{"vm_name": args.VMName, "deleted": true}, nil
	}
}

type vmCloneArgs struct {
	SourceVM     string `json:"source_vm"`
	NewName      string `json:"new_name"`
	Mode         string `json:"mode"`
	SnapshotName string `json:"snapshot_name"`
}

func vmClone(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[vmCloneArgs](raw)
		if herr != nil {
			return nil, herr
		}
		if args.Mode == "linked" && args.SnapshotName == "" {
			args.SnapshotName = "clone-base-" + args.NewName
		}

		jobID := d.Jobs.Submit("clone", args.SourceVM, func(jctx *jobengine.JobCtx) (any, error) {
			lease, err := d.Locks.Acquire(jctx.Context, args.SourceVM, lockregistry.Write, d.lockTimeout())
			if err != nil {
				return nil, err
			}
			defer lease.Release()

			tookSnapshot := false
			if args.Mode == "linked" {
				if _, aerr := d.Adapter.SnapshotTake(jctx.Context, args.SourceVM, args.SnapshotName, "", false); aerr != nil {
					return nil, aerr
				}
				tookSnapshot = true
			}
			jctx.ReportProgress(intPtr(50), "cloning")
			vm, aerr := d.Adapter.CloneVM(jctx.Context, args.SourceVM, args.NewName, args.Mode == "linked", true)
			if aerr != nil {
				return nil, aerr
			}
			jctx.ReportProgress(intPtr(100), "done")
			return map[string]any{"new_name": args.NewName, "vm": vm, "took_snapshot": tookSnapshot}, nil
		}, d.LongOpTimeout)

		return toolregistry.JobResult{JobID: jobID, Data: map[string]any{"job_id": jobID}}, nil
	}
}

func intPtr(i int) *int { return &i }

func vmControlSimple(d Deps, verb string, requiredState vboxmanage.VMState) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[vmNameArg](raw)
		if herr != nil {
			return nil, herr
		}
		lease, err := d.Locks.Acquire(ctx, args.VMName, lockregistry.Write, d.lockTimeout())
		if err != nil {
			return nil, toolregistry.NewError(toolregistry.KindTimeout, "timed out acquiring VM lock")
		}
		defer lease.Release()

		vm, aerr := d.Adapter.ShowVMInfo(ctx, args.VMName)
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}
		if vm.State != requiredState {
			return nil, toolregistry.NewErrorf(toolregistry.KindInvalidState, nil, "vm %s is %s, %s requires %s", args.VMName, vm.State, verb, requiredState)
		}
		if aerr := d.Adapter.ControlVM(ctx, args.VMName, verb); aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return map[string]any{"vm_name": args.VMName}, nil
	}
}

type vmModifyArgs struct {
	VMName string          `json:"vm_name"`
	Patch  json.RawMessage `json:"patch"`
}

type vmPatchFields struct {
	MemoryMB         *int    `json:"memory_mb"`
	CPUs             *int    `json:"cpus"`
	Description      *string `json:"description"`
	Firmware         *string `json:"firmware"`
	NestedVirt       *bool   `json:"nested_virt"`
	ParavirtProvider *string `json:"paravirt_provider"`
}

func vmModify(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[vmModifyArgs](raw)
		if herr != nil {
			return nil, herr
		}
		var patch vmPatchFields
		if err := json.Unmarshal(args.Patch, &patch); err != nil {
			return nil, toolregistry.NewErrorf(toolregistry.KindValidation, nil, "invalid patch: %v", err)
		}

		lease, err := d.Locks.Acquire(ctx, args.VMName, lockregistry.Write, d.lockTimeout())
		if err != nil {
			return nil, toolregistry.NewError(toolregistry.KindTimeout, "timed out acquiring VM lock")
		}
		defer lease.Release()

		vm, aerr := d.Adapter.ShowVMInfo(ctx, args.VMName)
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}
		liveRestricted := patch.MemoryMB != nil || patch.CPUs != nil || patch.Firmware != nil ||
			patch.NestedVirt != nil || patch.ParavirtProvider != nil
		if liveRestricted && vm.State != vboxmanage.StatePoweredOff {
			return nil, toolregistry.NewErrorf(toolregistry.KindInvalidState, nil, "vm %s must be poweredOff to change memory, cpus, firmware, nested_virt, or paravirt_provider", args.VMName)
		}

		vmPatch := vboxmanage.ModifyVMPatch{MemoryMB: patch.MemoryMB, CPUs: patch.CPUs}
		if patch.Description != nil {
			vmPatch.Description = *patch.Description
		}
		if patch.Firmware != nil {
			vmPatch.Firmware = *patch.Firmware
		}
		if patch.ParavirtProvider != nil {
			vmPatch.ParavirtProvider = *patch.ParavirtProvider
		}
		if patch.NestedVirt != nil {
			if *patch.NestedVirt {
				vmPatch.SetFlags |= vboxmanage.FlagNestedHWVirt
			} else {
				vmPatch.ClrFlags |= vboxmanage.FlagNestedHWVirt
			}
		}
		if aerr := d.Adapter.ModifyVM(ctx, args.VMName, vmPatch); aerr != nil {
			return nil, asAdapterError(aerr)
		}
		final, aerr := d.Adapter.ShowVMInfo(ctx, args.VMName)
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return final, nil
	}
}

type vmExportArgs struct {
	VMName string `json:"vm_name"`
	Format string `json:"format"`
}

// vmExport runs `VBoxManage export` and records the result as a Backup
// (spec.md §3, §6 persisted-state layout) so it can later be listed via
// backup_list or consumed directly from the sidecar by external tools.
func vmExport(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[vmExportArgs](raw)
		if herr != nil {
			return nil, herr
		}
		format := args.Format
		if format == "" {
			format = "ova"
		}

		lease, err := d.Locks.Acquire(ctx, args.VMName, lockregistry.Read, d.lockTimeout())
		if err != nil {
			return nil, toolregistry.NewError(toolregistry.KindTimeout, "timed out acquiring VM lock")
		}
		defer lease.Release()

		id := uuid.NewString()
		outPath := filepath.Join(d.Backups.BackupDir(id), args.VMName+"."+format)
		if aerr := d.Adapter.Export(ctx, args.VMName, outPath); aerr != nil {
			return nil, asAdapterError(aerr)
		}

		b := backupstore.Backup{ID: id, VMName: args.VMName, Format: backupstore.Format(format), Path: outPath}
		if err := d.Backups.Put(ctx, b); err != nil {
			return nil, toolregistry.NewErrorf(toolregistry.KindHostError, nil, "export succeeded but recording backup failed: %v", err)
		}
		return b, nil
	}
}

type vmImportArgs struct {
	BackupID string `json:"backup_id"`
	Path     string `json:"path"`
}

// vmImport runs `VBoxManage import` either from a previously recorded
// backup id or directly from a filesystem path.
func vmImport(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[vmImportArgs](raw)
		if herr != nil {
			return nil, herr
		}
		path := args.Path
		if args.BackupID != "" {
			b, err := d.Backups.Get(ctx, args.BackupID)
			if err != nil {
				return nil, toolregistry.NewErrorf(toolregistry.KindNotFound, nil, "%v", err)
			}
			path = b.Path
		}
		if path == "" {
			return nil, toolregistry.NewErrorf(toolregistry.KindValidation, nil, "one of backup_id or path is required")
		}
		if aerr := d.Adapter.Import(ctx, path); aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return map[string]any{"path": path}, nil
	}
}

func vmBackupList(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		var args struct {
			VMName string `json:"vm_name"`
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, toolregistry.NewErrorf(toolregistry.KindValidation, nil, "invalid arguments: %v", err)
			}
		}
		backups, err := d.Backups.List(ctx, args.VMName)
		if err != nil {
			return nil, toolregistry.NewErrorf(toolregistry.KindHostError, nil, "%v", err)
		}
		return backups, nil
	}
}
