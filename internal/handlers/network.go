package handlers

import (
	"context"
	"encoding/json"

	"github.com/sandraschi/virtualization-mcp/internal/hostnet"
	"github.com/sandraschi/virtualization-mcp/internal/lockregistry"
	"github.com/sandraschi/virtualization-mcp/internal/toolregistry"
	"github.com/sandraschi/virtualization-mcp/internal/vboxmanage"
)

// NetworkManagement builds the network_management portmanteau tool.
func NetworkManagement(d Deps) *toolregistry.Tool {
	return &toolregistry.Tool{
		Name: "network_management",
		Actions: map[string]toolregistry.ActionHandler{
			"list_networks":          netListNetworks(d),
			"create_network":         netCreateNetwork(d),
			"remove_network":         netRemoveNetwork(d),
			"list_adapters":          netListAdapters(d),
			"configure_adapter":      netConfigureAdapter(d),
			"add_port_forwarding":    netAddPortForwarding(d),
			"remove_port_forwarding": netRemovePortForwarding(d),
			"list_port_forwarding":   netListPortForwarding(d),
			"set_bandwidth_limit":    netSetBandwidthLimit(d),
			"set_promiscuous_mode":   netSetPromiscuousMode(d),
		},
	}
}

func netListNetworks(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		networks, aerr := d.Adapter.ListHostOnlyNetworks(ctx)
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return map[string]any{"networks": networks}, nil
	}
}

type createNetworkArgs struct {
	Name           string `json:"name"`
	IP             string `json:"ip"`
	Netmask        string `json:"netmask"`
	DHCPEnabled    bool   `json:"dhcp_enabled"`
	InternetAccess bool   `json:"internet_access"`
}

func netCreateNetwork(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[createNetworkArgs](raw)
		if herr != nil {
			return nil, herr
		}
		ifName, aerr := d.Adapter.HostOnlyIfCreate(ctx)
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}

		ip, netmask := args.IP, args.Netmask
		if ip == "" && d.Subnets != nil {
			sub, err := d.Subnets.Allocate(args.Name)
			if err != nil {
				return nil, toolregistry.NewErrorf(toolregistry.KindHostError, nil, "network %q created but subnet allocation failed: %v", args.Name, err)
			}
			ip, netmask = sub.GatewayIP, "255.255.255.0"
		}
		if ip != "" {
			if aerr := d.Adapter.HostOnlyIfConfigure(ctx, ifName, ip, netmask); aerr != nil {
				return nil, asAdapterError(aerr)
			}
		}
		result := map[string]any{"name": args.Name, "interface": ifName, "ip": ip, "netmask": netmask, "internet_access": false}
		if args.InternetAccess {
			if err := hostnet.NewMasquerade(ifName).Setup(); err != nil {
				return nil, toolregistry.NewErrorf(toolregistry.KindHostError, nil, "network %q created but NAT masquerade failed: %v", args.Name, err)
			}
			result["internet_access"] = true
		}
		return result, nil
	}
}

type netNameArg struct {
	Name string `json:"name"`
}

func netRemoveNetwork(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[netNameArg](raw)
		if herr != nil {
			return nil, herr
		}
		_ = hostnet.NewMasquerade(args.Name).Cleanup()
		if d.Subnets != nil {
			_ = d.Subnets.Release(args.Name)
		}
		if aerr := d.Adapter.HostOnlyIfRemove(ctx, args.Name); aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return map[string]any{"name": args.Name, "removed": true}, nil
	}
}

func netListAdapters(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[vmNameArg](raw)
		if herr != nil {
			return nil, herr
		}
		vm, aerr := d.Adapter.ShowVMInfo(ctx, args.VMName)
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return vm.NICs, nil
	}
}

type configureAdapterArgs struct {
	VMName           string `json:"vm_name"`
	AdapterSlot      int    `json:"adapter_slot"`
	Mode             string `json:"mode"`
	AdapterType      string `json:"adapter_type"`
	CableConnected   *bool  `json:"cable_connected"`
	MAC              string `json:"mac"`
	AttachmentTarget string `json:"attachment_target"`
}

func netConfigureAdapter(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[configureAdapterArgs](raw)
		if herr != nil {
			return nil, herr
		}
		if args.AdapterSlot < 1 || args.AdapterSlot > 8 {
			return nil, toolregistry.NewErrorf(toolregistry.KindValidation, map[string]any{"field": "adapter_slot"}, "adapter_slot must be 1..8")
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
		if vm.State == vboxmanage.StateRunning && (args.Mode != "" || args.AttachmentTarget != "") {
			return nil, toolregistry.NewErrorf(toolregistry.KindInvalidState, nil, "vm %s is running; only cable state and bandwidth limit can change live", args.VMName)
		}

		patch := vboxmanage.ModifyNICPatch{
			Mode: args.Mode, AdapterType: args.AdapterType,
			AttachmentTarget: args.AttachmentTarget, CableConnected: args.CableConnected,
		}
		if aerr := d.Adapter.ModifyNIC(ctx, args.VMName, args.AdapterSlot, patch); aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return map[string]any{"vm_name": args.VMName, "adapter_slot": args.AdapterSlot}, nil
	}
}

type portForwardArgs struct {
	VMName      string                `json:"vm_name"`
	AdapterSlot int                   `json:"adapter_slot"`
	Rule        vboxmanage.PortForward `json:"rule"`
}

func netAddPortForwarding(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[portForwardArgs](raw)
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
		for _, nic := range vm.NICs {
			if nic.Slot != args.AdapterSlot {
				continue
			}
			if nic.Mode != "nat" && nic.Mode != "natnetwork" {
				return nil, toolregistry.NewErrorf(toolregistry.KindValidation, nil, "adapter %d mode %q does not permit port forwards", args.AdapterSlot, nic.Mode)
			}
			for _, pf := range nic.PortForwards {
				if pf.Name == args.Rule.Name {
					return nil, toolregistry.NewErrorf(toolregistry.KindAlreadyExists, nil, "port forward %q already exists on adapter %d", args.Rule.Name, args.AdapterSlot)
				}
			}
		}
		if aerr := d.Adapter.AddNATPortForward(ctx, args.VMName, args.AdapterSlot, args.Rule); aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return map[string]any{"vm_name": args.VMName, "rule": args.Rule}, nil
	}
}

type removePortForwardArgs struct {
	VMName      string `json:"vm_name"`
	AdapterSlot int    `json:"adapter_slot"`
	Name        string `json:"name"`
}

func netRemovePortForwarding(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[removePortForwardArgs](raw)
		if herr != nil {
			return nil, herr
		}
		if aerr := d.Adapter.DeleteNATPortForward(ctx, args.VMName, args.AdapterSlot, args.Name); aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return map[string]any{"vm_name": args.VMName, "name": args.Name, "removed": true}, nil
	}
}

func netListPortForwarding(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[vmNameArg](raw)
		if herr != nil {
			return nil, herr
		}
		vm, aerr := d.Adapter.ShowVMInfo(ctx, args.VMName)
		if aerr != nil {
			return nil, asAdapterError(aerr)
		}
		var rules []vboxmanage.PortForward
		for _, nic := range vm.NICs {
			rules = append(rules, nic.PortForwards...)
		}
		return rules, nil
	}
}

type bandwidthArgs struct {
	VMName    string `json:"vm_name"`
	GroupName string `json:"group_name"`
	LimitMbps int    `json:"limit_mbps"`
}

func netSetBandwidthLimit(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[bandwidthArgs](raw)
		if herr != nil {
			return nil, herr
		}
		if aerr := d.Adapter.SetBandwidthLimit(ctx, args.VMName, args.GroupName, args.LimitMbps); aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return map[string]any{"vm_name": args.VMName, "group_name": args.GroupName, "limit_mbps": args.LimitMbps}, nil
	}
}

type promiscArgs struct {
	VMName      string `json:"vm_name"`
	AdapterSlot int    `json:"adapter_slot"`
	Mode        string `json:"mode"`
}

func netSetPromiscuousMode(d Deps) toolregistry.ActionHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, *toolregistry.HandlerError) {
		args, herr := decode[promiscArgs](raw)
		if herr != nil {
			return nil, herr
		}
		if aerr := d.Adapter.SetPromiscuousMode(ctx, args.VMName, args.AdapterSlot, args.Mode); aerr != nil {
			return nil, asAdapterError(aerr)
		}
		return map[string]any{"vm_name": args.VMName, "adapter_slot": args.AdapterSlot, "mode": args.Mode}, nil
	}
}
