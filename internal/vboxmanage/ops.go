package vboxmanage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// startOpTimeout bounds `startvm`, whose default deadline (5m) sits between
// the adapter's short default (30s) and its long-operation timeout (30m).
const startOpTimeout = 5 * time.Minute

// CreateVMSpec describes a new VM.
type CreateVMSpec struct {
	Name     string
	OSType   string
	Register bool
	Group    string
}

// ModifyVMPatch carries only the fields the caller wants changed; zero values
// are left untouched except where a pointer is used to disambiguate "unset".
type ModifyVMPatch struct {
	MemoryMB         *int
	CPUs             *int
	Chipset          string
	Firmware         string
	Description      string
	ParavirtProvider string
	SetFlags         Flag
	ClrFlags         Flag
}

// ListVMs runs `VBoxManage list vms` and returns name/UUID pairs.
func (a *Adapter) ListVMs(ctx context.Context) ([]struct{ Name, UUID string }, error) {
	res, aerr := a.run(ctx, "list_vms", []string{"list", "vms"}, RunOptions{})
	if aerr != nil {
		return nil, aerr
	}
	out, err := parseListVMs(res.Stdout)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ShowVMInfo runs `VBoxManage showvminfo --machinereadable` for one VM.
func (a *Adapter) ShowVMInfo(ctx context.Context, idOrName string) (*VM, error) {
	res, aerr := a.run(ctx, "show_vm_info", []string{"showvminfo", idOrName, "--machinereadable"}, RunOptions{})
	if aerr != nil {
		return nil, aerr
	}
	props, err := parsePropMap(res.Stdout)
	if err != nil {
		return nil, err
	}
	return parseVMInfo(props), nil
}

// CreateVM runs `VBoxManage createvm` (optionally registering it).
func (a *Adapter) CreateVM(ctx context.Context, spec CreateVMSpec) (*VM, error) {
	args := []string{"createvm", "--name", spec.Name}
	if spec.OSType != "" {
		args = append(args, "--ostype", spec.OSType)
	}
	if spec.Group != "" {
		args = append(args, "--group", spec.Group)
	}
	if spec.Register {
		args = append(args, "--register")
	}
	if _, aerr := a.run(ctx, "create_vm", args, RunOptions{}); aerr != nil {
		return nil, aerr
	}
	return a.ShowVMInfo(ctx, spec.Name)
}

// StartVM runs `VBoxManage startvm --type <mode>`. mode is "headless", "gui", or "separate".
func (a *Adapter) StartVM(ctx context.Context, idOrName, mode string) error {
	if mode == "" {
		mode = "headless"
	}
	_, aerr := a.run(ctx, "start_vm", []string{"startvm", idOrName, "--type", mode}, RunOptions{Timeout: startOpTimeout})
	if aerr != nil {
		return aerr
	}
	return nil
}

// ControlVM runs `VBoxManage controlvm <verb> [args...]`, e.g. poweroff, pause, resume,
// acpipowerbutton, reset, savestate. It does not accept "unregister" — that is not a
// real controlvm sub-verb; use UnregisterVM.
func (a *Adapter) ControlVM(ctx context.Context, idOrName, verb string, extra ...string) error {
	args := append([]string{"controlvm", idOrName, verb}, extra...)
	_, aerr := a.run(ctx, "control_vm_"+verb, args, RunOptions{})
	if aerr != nil {
		return aerr
	}
	return nil
}

// UnregisterVM runs the top-level `VBoxManage unregistervm <vm> [--delete]`,
// which is how VBoxManage actually deletes/unregisters a VM (there is no
// `controlvm unregister` sub-verb).
func (a *Adapter) UnregisterVM(ctx context.Context, idOrName string, deleteFiles bool) error {
	args := []string{"unregistervm", idOrName}
	if deleteFiles {
		args = append(args, "--delete")
	}
	_, aerr := a.run(ctx, "unregister_vm", args, RunOptions{})
	if aerr != nil {
		return aerr
	}
	return nil
}

// ModifyVM runs `VBoxManage modifyvm` applying only the set fields of patch.
func (a *Adapter) ModifyVM(ctx context.Context, idOrName string, patch ModifyVMPatch) error {
	args := []string{"modifyvm", idOrName}
	if patch.MemoryMB != nil {
		args = append(args, "--memory", strconv.Itoa(*patch.MemoryMB))
	}
	if patch.CPUs != nil {
		args = append(args, "--cpus", strconv.Itoa(*patch.CPUs))
	}
	if patch.Chipset != "" {
		args = append(args, "--chipset", patch.Chipset)
	}
	if patch.Firmware != "" {
		args = append(args, "--firmware", patch.Firmware)
	}
	if patch.Description != "" {
		args = append(args, "--description", patch.Description)
	}
	if patch.ParavirtProvider != "" {
		args = append(args, "--paravirtprovider", patch.ParavirtProvider)
	}
	for flag, name := range flagNames {
		if patch.SetFlags&flag != 0 {
			args = append(args, "--"+name, "on")
		}
		if patch.ClrFlags&flag != 0 {
			args = append(args, "--"+name, "off")
		}
	}
	if len(args) == 2 {
		return nil
	}
	_, aerr := a.run(ctx, "modify_vm", args, RunOptions{})
	if aerr != nil {
		return aerr
	}
	return nil
}

var flagNames = map[Flag]string{
	FlagACPI:         "acpi",
	FlagIOAPIC:       "ioapic",
	FlagRTCUseUTC:    "rtcuseutc",
	FlagPAE:          "pae",
	FlagLongMode:     "longmode",
	FlagHPET:         "hpet",
	FlagHWVirtEx:     "hwvirtex",
	FlagNestedPaging: "nestedpaging",
	FlagNestedHWVirt: "nested-hw-virt",
}

// ModifyNICPatch carries a NIC slot's requested attachment change.
type ModifyNICPatch struct {
	Mode             string // nat, natnetwork, bridged, intnet, hostonly, none
	AttachmentTarget string
	AdapterType      string
	CableConnected   *bool
}

// ModifyNIC runs `VBoxManage modifyvm --nic<N> ...` for one adapter slot.
func (a *Adapter) ModifyNIC(ctx context.Context, idOrName string, slot int, patch ModifyNICPatch) error {
	args := []string{"modifyvm", idOrName}
	if patch.Mode != "" {
		args = append(args, fmt.Sprintf("--nic%d", slot), patch.Mode)
		switch patch.Mode {
		case "bridged":
			args = append(args, fmt.Sprintf("--bridgeadapter%d", slot), patch.AttachmentTarget)
		case "hostonly":
			args = append(args, fmt.Sprintf("--hostonlyadapter%d", slot), patch.AttachmentTarget)
		case "natnetwork":
			args = append(args, fmt.Sprintf("--nat-network%d", slot), patch.AttachmentTarget)
		case "intnet":
			args = append(args, fmt.Sprintf("--intnet%d", slot), patch.AttachmentTarget)
		}
	}
	if patch.AdapterType != "" {
		args = append(args, fmt.Sprintf("--nictype%d", slot), patch.AdapterType)
	}
	if patch.CableConnected != nil {
		v := "off"
		if *patch.CableConnected {
			v = "on"
		}
		args = append(args, fmt.Sprintf("--cableconnected%d", slot), v)
	}
	_, aerr := a.run(ctx, "modify_nic", args, RunOptions{})
	if aerr != nil {
		return aerr
	}
	return nil
}

// AddNATPortForward runs `VBoxManage modifyvm --natpf<N> "<rule>"`.
func (a *Adapter) AddNATPortForward(ctx context.Context, idOrName string, slot int, pf PortForward) error {
	rule := fmt.Sprintf("%s,%s,,%d,%s,%d", pf.Name, pf.Protocol, pf.HostPort, pf.GuestIP, pf.GuestPort)
	args := []string{"modifyvm", idOrName, fmt.Sprintf("--natpf%d", slot), rule}
	_, aerr := a.run(ctx, "add_nat_portforward", args, RunOptions{})
	if aerr != nil {
		return aerr
	}
	return nil
}

// DeleteNATPortForward runs `VBoxManage modifyvm --natpf<N> delete "<name>"`.
func (a *Adapter) DeleteNATPortForward(ctx context.Context, idOrName string, slot int, name string) error {
	args := []string{"modifyvm", idOrName, fmt.Sprintf("--natpf%d", slot), "delete", name}
	_, aerr := a.run(ctx, "delete_nat_portforward", args, RunOptions{})
	if aerr != nil {
		return aerr
	}
	return nil
}

// StorageCtlSpec describes a `storagectl` invocation adding or configuring a controller.
type StorageCtlSpec struct {
	Name       string
	Add        string // ide, sata, scsi, sas, usb, pcie
	Controller string // LSILogic, IntelAhci, etc
	PortCount  int
	Bootable   bool
	HostIOCache bool
}

// StorageCtl runs `VBoxManage storagectl`.
func (a *Adapter) StorageCtl(ctx context.Context, idOrName string, spec StorageCtlSpec) error {
	args := []string{"storagectl", idOrName, "--name", spec.Name}
	if spec.Add != "" {
		args = append(args, "--add", spec.Add)
	}
	if spec.Controller != "" {
		args = append(args, "--controller", spec.Controller)
	}
	if spec.PortCount > 0 {
		args = append(args, "--portcount", strconv.Itoa(spec.PortCount))
	}
	args = append(args, "--bootable", onOff(spec.Bootable))
	args = append(args, "--hostiocache", onOff(spec.HostIOCache))
	_, aerr := a.run(ctx, "storage_ctl", args, RunOptions{})
	if aerr != nil {
		return aerr
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// CreateMediumSpec describes a new virtual disk/ISO.
type CreateMediumSpec struct {
	Filename string
	SizeMB   int
	Format   string // VDI, VMDK, VHD
}

// CreateMedium runs `VBoxManage createmedium disk`.
func (a *Adapter) CreateMedium(ctx context.Context, spec CreateMediumSpec) error {
	format := spec.Format
	if format == "" {
		format = "VDI"
	}
	args := []string{"createmedium", "disk", "--filename", spec.Filename, "--size", strconv.Itoa(spec.SizeMB), "--format", format}
	_, aerr := a.run(ctx, "create_medium", args, RunOptions{})
	if aerr != nil {
		return aerr
	}
	return nil
}

// StorageAttach runs `VBoxManage storageattach`.
func (a *Adapter) StorageAttach(ctx context.Context, idOrName string, att DiskAttachment) error {
	mediumType := att.MediumType
	if mediumType == "" {
		mediumType = "hdd"
	}
	args := []string{
		"storageattach", idOrName,
		"--storagectl", att.ControllerName,
		"--port", strconv.Itoa(att.Port),
		"--device", strconv.Itoa(att.Device),
		"--type", mediumType,
		"--medium", att.MediumPath,
	}
	_, aerr := a.run(ctx, "storage_attach", args, RunOptions{})
	if aerr != nil {
		return aerr
	}
	return nil
}

// CloneVM runs `VBoxManage clonevm`.
func (a *Adapter) CloneVM(ctx context.Context, srcIDOrName, newName string, linked, register bool) (*VM, error) {
	args := []string{"clonevm", srcIDOrName, "--name", newName}
	if linked {
		args = append(args, "--options", "link")
	}
	if register {
		args = append(args, "--register")
	}
	if _, aerr := a.run(ctx, "clone_vm", args, RunOptions{Timeout: a.longTimeout}); aerr != nil {
		return nil, aerr
	}
	return a.ShowVMInfo(ctx, newName)
}

// Export runs `VBoxManage export` to an OVA/OVF file.
func (a *Adapter) Export(ctx context.Context, idOrName, outputPath string) error {
	args := []string{"export", idOrName, "--output", outputPath}
	_, aerr := a.run(ctx, "export_vm", args, RunOptions{Timeout: a.longTimeout})
	if aerr != nil {
		return aerr
	}
	return nil
}

// Import runs `VBoxManage import` from an OVA/OVF file.
func (a *Adapter) Import(ctx context.Context, inputPath string) error {
	args := []string{"import", inputPath}
	_, aerr := a.run(ctx, "import_vm", args, RunOptions{Timeout: a.longTimeout})
	if aerr != nil {
		return aerr
	}
	return nil
}

// SnapshotTake runs `VBoxManage snapshot take`.
func (a *Adapter) SnapshotTake(ctx context.Context, idOrName, name, description string, live bool) (string, error) {
	args := []string{"snapshot", idOrName, "take", name}
	if description != "" {
		args = append(args, "--description", description)
	}
	if live {
		args = append(args, "--live")
	}
	res, aerr := a.run(ctx, "snapshot_take", args, RunOptions{})
	if aerr != nil {
		return "", aerr
	}
	return extractSnapshotUUID(res.Stdout), nil
}

// SnapshotRestore runs `VBoxManage snapshot restore`.
func (a *Adapter) SnapshotRestore(ctx context.Context, idOrName, snapshotNameOrID string) error {
	args := []string{"snapshot", idOrName, "restore", snapshotNameOrID}
	_, aerr := a.run(ctx, "snapshot_restore", args, RunOptions{})
	if aerr != nil {
		return aerr
	}
	return nil
}

// SnapshotDelete runs `VBoxManage snapshot delete`.
func (a *Adapter) SnapshotDelete(ctx context.Context, idOrName, snapshotNameOrID string) error {
	args := []string{"snapshot", idOrName, "delete", snapshotNameOrID}
	_, aerr := a.run(ctx, "snapshot_delete", args, RunOptions{Timeout: a.longTimeout})
	if aerr != nil {
		return aerr
	}
	return nil
}

func extractSnapshotUUID(stdout string) string {
	idx := strings.LastIndex(stdout, "UUID: ")
	if idx == -1 {
		return ""
	}
	rest := strings.TrimSpace(stdout[idx+len("UUID: "):])
	if nl := strings.IndexAny(rest, "\r\n"); nl != -1 {
		rest = rest[:nl]
	}
	return rest
}

// MetricsQuery runs `VBoxManage metrics query` for one VM's collected counters.
func (a *Adapter) MetricsQuery(ctx context.Context, idOrName string) (*Metrics, error) {
	args := []string{"metrics", "query", idOrName}
	res, aerr := a.run(ctx, "metrics_query", args, RunOptions{})
	if aerr != nil {
		return nil, aerr
	}
	return parseMetrics(res.Stdout), nil
}

// HostInfo runs `VBoxManage list hostinfo`.
func (a *Adapter) HostInfo(ctx context.Context) (*HostInfo, error) {
	res, aerr := a.run(ctx, "host_info", []string{"list", "hostinfo"}, RunOptions{})
	if aerr != nil {
		return nil, aerr
	}
	return parseHostInfo(res.Stdout), nil
}

// ListOSTypes runs `VBoxManage list ostypes`.
func (a *Adapter) ListOSTypes(ctx context.Context) ([]OSTypeDescriptor, error) {
	res, aerr := a.run(ctx, "list_ostypes", []string{"list", "ostypes"}, RunOptions{})
	if aerr != nil {
		return nil, aerr
	}
	return parseOSTypes(res.Stdout), nil
}

// HostOnlyIfCreate runs `VBoxManage hostonlyif create`.
func (a *Adapter) HostOnlyIfCreate(ctx context.Context) (string, error) {
	res, aerr := a.run(ctx, "hostonlyif_create", []string{"hostonlyif", "create"}, RunOptions{})
	if aerr != nil {
		return "", aerr
	}
	return extractInterfaceName(res.Stdout), nil
}

func extractInterfaceName(stdout string) string {
	idx := strings.Index(stdout, "'")
	if idx == -1 {
		return ""
	}
	rest := stdout[idx+1:]
	end := strings.Index(rest, "'")
	if end == -1 {
		return ""
	}
	return rest[:end]
}

// HostOnlyIfRemove runs `VBoxManage hostonlyif remove`.
func (a *Adapter) HostOnlyIfRemove(ctx context.Context, ifName string) error {
	_, aerr := a.run(ctx, "hostonlyif_remove", []string{"hostonlyif", "remove", ifName}, RunOptions{})
	if aerr != nil {
		return aerr
	}
	return nil
}

// HostOnlyIfConfigure runs `VBoxManage hostonlyif ipconfig`.
func (a *Adapter) HostOnlyIfConfigure(ctx context.Context, ifName, ip, netmask string) error {
	args := []string{"hostonlyif", "ipconfig", ifName, "--ip", ip, "--netmask", netmask}
	_, aerr := a.run(ctx, "hostonlyif_configure", args, RunOptions{})
	if aerr != nil {
		return aerr
	}
	return nil
}

// ListHostOnlyNetworks runs `VBoxManage list hostonlyifs`, enumerating the
// host-only virtual adapters registered on this host.
func (a *Adapter) ListHostOnlyNetworks(ctx context.Context) ([]HostOnlyNetwork, error) {
	res, aerr := a.run(ctx, "list_hostonlyifs", []string{"list", "hostonlyifs"}, RunOptions{})
	if aerr != nil {
		return nil, aerr
	}
	return parseHostOnlyNetworks(res.Stdout), nil
}

// NATNetworkAdd runs `VBoxManage natnetwork add`.
func (a *Adapter) NATNetworkAdd(ctx context.Context, name, cidr string, dhcp bool) error {
	args := []string{"natnetwork", "add", "--netname", name, "--network", cidr, "--enable"}
	if dhcp {
		args = append(args, "--dhcp", "on")
	}
	_, aerr := a.run(ctx, "natnetwork_add", args, RunOptions{})
	if aerr != nil {
		return aerr
	}
	return nil
}

// NATNetworkRemove runs `VBoxManage natnetwork remove`.
func (a *Adapter) NATNetworkRemove(ctx context.Context, name string) error {
	_, aerr := a.run(ctx, "natnetwork_remove", []string{"natnetwork", "remove", "--netname", name}, RunOptions{})
	if aerr != nil {
		return aerr
	}
	return nil
}

// DetachDisk runs `VBoxManage storageattach --medium none` to free a slot.
func (a *Adapter) DetachDisk(ctx context.Context, idOrName, controller string, port, device int) error {
	args := []string{
		"storageattach", idOrName,
		"--storagectl", controller,
		"--port", strconv.Itoa(port),
		"--device", strconv.Itoa(device),
		"--medium", "none",
	}
	_, aerr := a.run(ctx, "detach_disk", args, RunOptions{})
	if aerr != nil {
		return aerr
	}
	return nil
}

// ResizeDisk runs `VBoxManage modifymedium --resize`.
func (a *Adapter) ResizeDisk(ctx context.Context, path string, sizeMB int) error {
	args := []string{"modifymedium", "disk", path, "--resize", strconv.Itoa(sizeMB)}
	_, aerr := a.run(ctx, "resize_disk", args, RunOptions{})
	if aerr != nil {
		return aerr
	}
	return nil
}

// CloneDisk runs `VBoxManage clonemedium disk`.
func (a *Adapter) CloneDisk(ctx context.Context, srcPath, dstPath, format string) error {
	args := []string{"clonemedium", "disk", srcPath, dstPath}
	if format != "" {
		args = append(args, "--format", format)
	}
	_, aerr := a.run(ctx, "clone_disk", args, RunOptions{Timeout: a.longTimeout})
	if aerr != nil {
		return aerr
	}
	return nil
}

// SetBandwidthLimit runs `VBoxManage bandwidthctl set`.
func (a *Adapter) SetBandwidthLimit(ctx context.Context, idOrName, groupName string, limitMbps int) error {
	args := []string{"bandwidthctl", idOrName, "set", groupName, "--limit", fmt.Sprintf("%dm", limitMbps)}
	_, aerr := a.run(ctx, "set_bandwidth_limit", args, RunOptions{})
	if aerr != nil {
		return aerr
	}
	return nil
}

// SetPromiscuousMode runs `VBoxManage modifyvm --nicpromisc<N>`.
func (a *Adapter) SetPromiscuousMode(ctx context.Context, idOrName string, slot int, mode string) error {
	args := []string{"modifyvm", idOrName, fmt.Sprintf("--nicpromisc%d", slot), mode}
	_, aerr := a.run(ctx, "set_promiscuous_mode", args, RunOptions{})
	if aerr != nil {
		return aerr
	}
	return nil
}

// Screenshot runs `VBoxManage controlvm screenshotpng`, writing the PNG to
// outPath. It returns only an error, not the image bytes.
func (a *Adapter) Screenshot(ctx context.Context, idOrName, outPath string) error {
	args := []string{"controlvm", idOrName, "screenshotpng", outPath}
	_, aerr := a.run(ctx, "screenshot", args, RunOptions{})
	if aerr != nil {
		return aerr
	}
	return nil
}

// VBoxVersion runs `VBoxManage --version`.
func (a *Adapter) VBoxVersion(ctx context.Context) (string, error) {
	res, aerr := a.run(ctx, "vbox_version", []string{"--version"}, RunOptions{})
	if aerr != nil {
		return "", aerr
	}
	return strings.TrimSpace(res.Stdout), nil
}
