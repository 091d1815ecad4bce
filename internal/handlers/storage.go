package handlers

import (
	"context"
	"encoding/json"

	"github.com/sandraschi/virtualization-mcp/internal/lockregistry"
	"github.com/sandraschi/virtualization-mcp/internal/toolregistry"
	"github.com/sandraschi/virtualization-mcp/internal/vboxmanage"
)

// StorageManagement builds the storage_management portmanteau tool.
func StorageManagement(d Deps) *toolregistry.Tool {
	return &toolregistry.Tool{
		Name: "storage_management",
		Actions: map[string]toolregistry.ActionHandler{
			"list_controllers":  stgListControllers(d),
			"create_controller": stgCreateController(d),
			"remove_controller": stgRemoveController(d),
			"list_disks":        stgListDisks(d),
			"create_disk":       stgCreateDisk(d),
			"attach_disk":       stgAttachDisk(d),
			"detach_disk":       stgDetachDisk(d),
			"mount_iso":         stgMountISO(d),
			"unmount_iso":       stgUnmountISO(d),
			"resize_disk":       stgResizeDisk(d),
			"clone_disk":        stgCloneDisk(d),
		},
	}
}

func stgListControllers(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[vmNameArg](raw)
		if herr != nil {
			return nil, herr
		}
		vm, aerr := d.Adapter.ShowVMInfo(ctx, args.VMName)
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return vm.StorageControllers, nil
	}
}

type createControllerArgs struct {
	VMName         string `json:"vm_name"`
	ControllerName string `json:"controller_name"`
	Type           string `json:"type"`
	PortCount      int    `json:"port_count"`
	Bootable       *bool  `json:"bootable"`
	UseHostIOCache *bool  `json:"use_host_io_cache"`
}

func stgCreateController(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[createControllerArgs](raw)
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
		if vm.State != vboxmanage.StatePoweredOff {
			return nil, toolregistry.NewErrorf(toolregistry.KindInvalidState, nil, "vm %s must be poweredOff to add a controller", args.VMName)
		}
		bootable := args.Bootable == nil || *args.Bootable
		hostIOCache := args.UseHostIOCache != nil && *args.UseHostIOCache

		controllerTypeMap := map[string]string{
			"ide": "PIIX4", "sata": "IntelAhci", "scsi": "LsiLogic",
			"sas": "LsiLogicSAS", "nvme": "NVMe", "usb": "USB", "floppy": "I82078",
		}
		if aerr := d.Adapter.StorageCtl(ctx, args.VMName, vboxmanage.StorageCtlSpec{
			Name: args.ControllerName, Add: args.Type, Controller: controllerTypeMap[args.Type],
			PortCount: args.PortCount, Bootable: bootable, HostIOCache: hostIOCache,
		}); aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return map[string]any{"vm_name": args.VMName, "controller_name": args.ControllerName}, nil
	}
}

type controllerNameArgs struct {
	VMName         string `json:"vm_name"`
	ControllerName string `json:"controller_name"`
}

func stgRemoveController(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[controllerNameArgs](raw)
		if herr != nil {
			return nil, herr
		}
		if aerr := d.Adapter.StorageCtl(ctx, args.VMName, vboxmanage.StorageCtlSpec{Name: args.ControllerName}); aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return map[string]any{"vm_name": args.VMName, "controller_name": args.ControllerName, "removed": true}, nil
	}
}

func stgListDisks(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[vmNameArg](raw)
		if herr != nil {
			return nil, herr
		}
		vm, aerr := d.Adapter.ShowVMInfo(ctx, args.VMName)
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}
		var disks []vboxmanage.DiskAttachment
		for _, c := range vm.StorageControllers {
			disks = append(disks, c.Attachments...)
		}
		return disks, nil
	}
}

type createDiskArgs struct {
	Path    string `json:"path"`
	SizeGB  int    `json:"size_gb"`
	Format  string `json:"format"`
	Variant string `json:"variant"`
	Parent  string `json:"parent"`
}

func stgCreateDisk(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[createDiskArgs](raw)
		if herr != nil {
			return nil, herr
		}
		if args.Variant == "diff" && args.Parent == "" {
			return nil, toolregistry.NewErrorf(toolregistry.KindValidation, map[string]any{"field": "parent"}, "variant=diff requires parent")
		}
		if args.SizeGB <= 0 {
			return nil, toolregistry.NewErrorf(toolregistry.KindValidation, map[string]any{"field": "size_gb"}, "size_gb must be positive")
		}
		if args.Variant == "diff" {
			if aerr := d.Adapter.CloneDisk(ctx, args.Parent, args.Path, args.Format); aerr != nil {
				return nil, asAdapterError(aerr)
			}
			return map[string]any{"path": args.Path, "parent": args.Parent}, nil
		}
		if aerr := d.Adapter.CreateMedium(ctx, vboxmanage.CreateMediumSpec{Filename: args.Path, SizeMB: args.SizeGB * 1024, Format: args.Format}); aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return map[string]any{"path": args.Path, "size_gb": args.SizeGB}, nil
	}
}

type attachDiskArgs struct {
	VMName     string `json:"vm_name"`
	DiskPath   string `json:"disk_path"`
	Controller string `json:"controller"`
	Port       int    `json:"port"`
	Device     int    `json:"device"`
	MediumType string `json:"medium_type"`
	ReadOnly   bool   `json:"read_only"`
}

func stgAttachDisk(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[attachDiskArgs](raw)
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
		for _, c := range vm.StorageControllers {
			for _, a := range c.Attachments {
				if a.ControllerName == args.Controller && a.Port == args.Port && a.Device == args.Device {
					return nil, toolregistry.NewErrorf(toolregistry.KindAlreadyExists, nil, "slot %s:%d:%d already occupied", args.Controller, args.Port, args.Device)
				}
			}
		}
		if aerr := d.Adapter.StorageAttach(ctx, args.VMName, vboxmanage.DiskAttachment{
			ControllerName: args.Controller, Port: args.Port, Device: args.Device,
			MediumPath: args.DiskPath, MediumType: args.MediumType, ReadOnly: args.ReadOnly,
		}); aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return map[string]any{"vm_name": args.VMName, "disk_path": args.DiskPath}, nil
	}
}

type detachDiskArgs struct {
	VMName     string `json:"vm_name"`
	Controller string `json:"controller"`
	Port       int    `json:"port"`
	Device     int    `json:"device"`
}

func stgDetachDisk(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[detachDiskArgs](raw)
		if herr != nil {
			return nil, herr
		}
		if aerr := d.Adapter.DetachDisk(ctx, args.VMName, args.Controller, args.Port, args.Device); aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return map[string]any{"vm_name": args.VMName, "detached": true}, nil
	}
}

type isoArgs struct {
	VMName     string `json:"vm_name"`
	Controller string `json:"controller"`
	Port       int    `json:"port"`
	Device     int    `json:"device"`
	ISOPath    string `json:"iso_path"`
}

func stgMountISO(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[isoArgs](raw)
		if herr != nil {
			return nil, herr
		}
		if aerr := d.Adapter.StorageAttach(ctx, args.VMName, vboxmanage.DiskAttachment{
			ControllerName: args.Controller, Port: args.Port, Device: args.Device,
			MediumPath: args.ISOPath, MediumType: "dvd",
		}); aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return map[string]any{"vm_name": args.VMName, "iso_path": args.ISOPath}, nil
	}
}

func stgUnmountISO(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[isoArgs](raw)
		if herr != nil {
			return nil, herr
		}
		if aerr := d.Adapter.DetachDisk(ctx, args.VMName, args.Controller, args.Port, args.Device); aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return map[string]any{"vm_name": args.VMName, "unmounted": true}, nil
	}
}

type resizeDiskArgs struct {
	Path   string `json:"path"`
	SizeGB int    `json:"size_gb"`
}

func stgResizeDisk(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[resizeDiskArgs](raw)
		if herr != nil {
			return nil, herr
		}
		if aerr := d.Adapter.ResizeDisk(ctx, args.Path, args.SizeGB*1024); aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return map[string]any{"path": args.Path, "size_gb": args.SizeGB}, nil
	}
}

type cloneDiskArgs struct {
	SourcePath string `json:"source_path"`
	DestPath   string `json:"dest_path"`
	Format     string `json:"format"`
}

func stgCloneDisk(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[cloneDiskArgs](raw)
		if herr != nil {
			return nil, herr
		}
		if aerr := d.Adapter.CloneDisk(ctx, args.SourcePath, args.DestPath, args.Format); aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return map[string]any{"source_path": args.SourcePath, "dest_path": args.DestPath}, nil
	}
}
