package vboxmanage

import "time"

// VMState mirrors the state vocabulary VBoxManage itself reports in
// --machinereadable output.
type VMState string

const (
	StatePoweredOff VMState = "poweredOff"
	StateSaved      VMState = "saved"
	StateAborted    VMState = "aborted"
	StateRunning    VMState = "running"
	StatePaused     VMState = "paused"
	StateStuck      VMState = "stuck"
	StateStarting   VMState = "starting"
	StateStopping   VMState = "stopping"
	StateRestoring  VMState = "restoring"
	StateUnknown    VMState = "unknown"
)

// vboxStateAliases maps the raw machinereadable VMState= values (which use
// VirtualBox's own spelling, e.g. "poweroff", "gurumeditation") onto the
// normalized VMState vocabulary above.
var vboxStateAliases = map[string]VMState{
	"poweroff":       StatePoweredOff,
	"saved":          StateSaved,
	"aborted":        StateAborted,
	"running":        StateRunning,
	"paused":         StatePaused,
	"gurumeditation": StateStuck,
	"starting":       StateStarting,
	"stopping":       StateStopping,
	"restoring":      StateRestoring,
}

func normalizeState(raw string) VMState {
	if s, ok := vboxStateAliases[raw]; ok {
		return s
	}
	return StateUnknown
}

// Flag is a VM boolean toggle bitfield, following the same 1<<iota pattern
// used to model VBoxManage modifyvm on/off switches.
type Flag uint32

const (
	FlagACPI Flag = 1 << iota
	FlagIOAPIC
	FlagRTCUseUTC
	FlagPAE
	FlagLongMode
	FlagHPET
	FlagHWVirtEx
	FlagNestedPaging
	FlagNestedHWVirt
)

// NIC is one network adapter slot (1..8).
type NIC struct {
	Slot             int           `json:"slot"`
	Enabled          bool          `json:"enabled"`
	Mode             string        `json:"mode"` // none, nat, natnetwork, bridged, intnet, hostonly, generic
	AdapterType      string        `json:"adapter_type"`
	MAC              string        `json:"mac"`
	CableConnected   bool          `json:"cable_connected"`
	AttachmentTarget string        `json:"attachment_target,omitempty"`
	PortForwards     []PortForward `json:"port_forwards,omitempty"`
}

// PortForward is one NAT/NAT-network rule on a NIC.
type PortForward struct {
	Name      string `json:"name"`
	Protocol  string `json:"protocol"` // tcp, udp
	HostPort  int    `json:"host_port"`
	GuestPort int    `json:"guest_port"`
	GuestIP   string `json:"guest_ip,omitempty"`
}

// DiskAttachment is one medium attached at a controller slot.
type DiskAttachment struct {
	ControllerName string `json:"controller_name"`
	Port           int    `json:"port"`
	Device         int    `json:"device"`
	MediumPath     string `json:"medium_path"`
	MediumType     string `json:"medium_type,omitempty"` // hdd, dvd, floppy
	ReadOnly       bool   `json:"read_only,omitempty"`
}

// StorageController groups disk attachments under one controller name.
type StorageController struct {
	Name           string           `json:"name"`
	Type           string           `json:"type"` // ide, sata, scsi, sas, nvme, floppy, usb
	PortCount      int              `json:"port_count"`
	Bootable       bool             `json:"bootable"`
	UseHostIOCache bool             `json:"use_host_io_cache"`
	Attachments    []DiskAttachment `json:"attachments,omitempty"`
}

// Snapshot is one node in a VM's snapshot tree.
type Snapshot struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	ParentID    string      `json:"parent_id,omitempty"` // empty iff root
	TakenAt     time.Time   `json:"taken_at"`
	IncludesRAM bool        `json:"includes_ram"`
	Current     bool        `json:"current"`
	Children    []*Snapshot `json:"children,omitempty"`
}

// VM mirrors one VirtualBox virtual machine.
type VM struct {
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	State               VMState             `json:"state"`
	OSType             string              `json:"os_type"`
	MemoryMB           int                 `json:"memory_mb"`
	CPUs               int                 `json:"cpus"`
	Firmware           string              `json:"firmware"` // bios, efi
	NICs               []NIC               `json:"nics"`
	StorageControllers []StorageController `json:"storage_controllers"`
	Snapshots          *Snapshot           `json:"snapshots,omitempty"`
	GroupPaths         []string            `json:"group_paths,omitempty"`
	CfgFile            string              `json:"cfg_file,omitempty"`
	BaseFolder         string              `json:"base_folder,omitempty"`
}

// HostOnlyNetwork is a host-only virtual adapter/network pair.
type HostOnlyNetwork struct {
	Name        string `json:"name"`
	IP          string `json:"ip"`
	Netmask     string `json:"netmask"`
	DHCPEnabled bool   `json:"dhcp_enabled"`
	DHCPRange   string `json:"dhcp_range,omitempty"`
}

// HostInfo summarizes the host's VirtualBox install and resources.
type HostInfo struct {
	VBoxVersion  string `json:"vbox_version"`
	VBoxRevision string `json:"vbox_revision,omitempty"`
	CPUCount     int    `json:"cpu_count"`
	MemoryMB     int    `json:"memory_mb"`
	OS           string `json:"os"`
	Arch         string `json:"arch,omitempty"`
}

// OSTypeDescriptor describes one entry of `VBoxManage list ostypes`.
type OSTypeDescriptor struct {
	ID                string `json:"id"`
	Description       string `json:"description"`
	FamilyID          string `json:"family_id"`
	FamilyDescription string `json:"family_description"`
	Is64Bit           bool   `json:"is_64_bit"`
	RecommendedRAMMB  int    `json:"recommended_ram_mb"`
	RecommendedDiskGB int    `json:"recommended_disk_gb"`
}

// Metrics is one sampled metrics snapshot for a running VM.
type Metrics struct {
	CPUPct          float64 `json:"cpu_pct"`
	MemoryUsedMB    int     `json:"memory_used_mb"`
	MemoryBalloonMB int     `json:"memory_balloon_mb"`
	DiskReadBps     int64   `json:"disk_read_bps"`
	DiskWriteBps    int64   `json:"disk_write_bps"`
	NetRxBps        int64   `json:"net_rx_bps"`
	NetTxBps        int64   `json:"net_tx_bps"`
}
