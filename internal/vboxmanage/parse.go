package vboxmanage

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// reVMInfoLine matches one "key=value" or "key="quoted value"" line emitted
// by `VBoxManage showvminfo --machinereadable`.
var reVMInfoLine = regexp.MustCompile(`^([^=]+)=(?:"((?:[^"\\]|\\.)*)"|(.*))$`)

// reVMNameUUID matches one line of `VBoxManage list vms`: `"name" {uuid}`.
var reVMNameUUID = regexp.MustCompile(`^"(.*)"\s+\{([0-9a-fA-F-]+)\}$`)

// parsePropMap parses --machinereadable output into a flat key=value map.
// Lines that do not match the grammar are skipped rather than failing the
// whole parse — showvminfo output is append-only across VirtualBox
// versions and unknown keys are expected.
func parsePropMap(raw string) (map[string]string, error) {
	props := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		m := reVMInfoLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key := strings.TrimSpace(m[1])
		value := m[2]
		if value == "" && m[3] != "" {
			value = m[3]
		}
		value = strings.ReplaceAll(value, `\"`, `"`)
		props[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, &AdapterError{Kind: "unparseable", Op: "parsePropMap", Message: err.Error(), Raw: raw}
	}
	if len(props) == 0 {
		return nil, &AdapterError{Kind: "unparseable", Op: "parsePropMap", Message: "no key=value lines found", Raw: excerpt(raw)}
	}
	return props, nil
}

func excerpt(s string) string {
	const max = 512
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// parseVMInfo converts a machinereadable property map into a VM record.
func parseVMInfo(props map[string]string) *VM {
	vm := &VM{
		ID:         unquote(props["UUID"]),
		Name:       unquote(props["name"]),
		State:      normalizeState(unquote(props["VMState"])),
		OSType:     unquote(props["ostype"]),
		Firmware:   strings.ToLower(unquote(props["firmware"])),
		CfgFile:    unquote(props["CfgFile"]),
		BaseFolder: unquote(props["CfgFile"]),
	}
	vm.MemoryMB, _ = strconv.Atoi(props["memory"])
	vm.CPUs, _ = strconv.Atoi(props["cpus"])

	if groups := unquote(props["groups"]); groups != "" {
		for _, g := range strings.Split(groups, ",") {
			if g != "" {
				vm.GroupPaths = append(vm.GroupPaths, g)
			}
		}
	}

	vm.NICs = parseNICs(props)
	vm.StorageControllers = parseStorageControllers(props)
	return vm
}

func unquote(s string) string {
	return strings.Trim(s, `"`)
}

func parseNICs(props map[string]string) []NIC {
	var nics []NIC
	for slot := 1; slot <= 8; slot++ {
		modeKey := fmt.Sprintf("nic%d", slot)
		mode, ok := props[modeKey]
		if !ok || unquote(mode) == "none" {
			continue
		}
		nic := NIC{
			Slot:           slot,
			Enabled:        true,
			Mode:           unquote(mode),
			AdapterType:    unquote(props[fmt.Sprintf("nictype%d", slot)]),
			MAC:            unquote(props[fmt.Sprintf("macaddress%d", slot)]),
			CableConnected: unquote(props[fmt.Sprintf("cableconnected%d", slot)]) == "on",
		}
		switch nic.Mode {
		case "bridged":
			nic.AttachmentTarget = unquote(props[fmt.Sprintf("bridgeadapter%d", slot)])
		case "hostonly":
			nic.AttachmentTarget = unquote(props[fmt.Sprintf("hostonlyadapter%d", slot)])
		case "natnetwork":
			nic.AttachmentTarget = unquote(props[fmt.Sprintf("nat-network%d", slot)])
		case "intnet":
			nic.AttachmentTarget = unquote(props[fmt.Sprintf("intnet%d", slot)])
		}
		nic.PortForwards = parsePortForwards(props, slot)
		nics = append(nics, nic)
	}
	return nics
}

// rePortForward matches a Forwarding(n)=name,protocol,hostip,hostport,guestip,guestport entry.
var rePortForward = regexp.MustCompile(`^Forwarding\(\d+\)$`)

func parsePortForwards(props map[string]string, slot int) []PortForward {
	var pfs []PortForward
	for key, val := range props {
		if !rePortForward.MatchString(key) {
			continue
		}
		parts := strings.Split(unquote(val), ",")
		if len(parts) != 6 {
			continue
		}
		hostPort, _ := strconv.Atoi(parts[3])
		guestPort, _ := strconv.Atoi(parts[5])
		pfs = append(pfs, PortForward{
			Name:      parts[0],
			Protocol:  parts[1],
			GuestIP:   parts[4],
			HostPort:  hostPort,
			GuestPort: guestPort,
		})
	}
	_ = slot // forwarding entries are not slot-namespaced by VBoxManage; caller filters by NIC if needed
	return pfs
}

func parseStorageControllers(props map[string]string) []StorageController {
	seen := map[string]*StorageController{}
	var order []string
	for key, val := range props {
		if !strings.HasPrefix(key, "storagecontrollername") {
			continue
		}
		idx := strings.TrimPrefix(key, "storagecontrollername")
		name := unquote(val)
		sc := &StorageController{
			Name:      name,
			Type:      unquote(props["storagecontrollertype"+idx]),
			Bootable:  unquote(props["storagecontrollerbootable"+idx]) == "on",
			UseHostIOCache: unquote(props["storagecontrollerhostiocache"+idx]) == "on",
		}
		sc.PortCount, _ = strconv.Atoi(props["storagecontrollerportcount"+idx])
		seen[name] = sc
		order = append(order, name)
	}

	for key, val := range props {
		// e.g. "SATA Controller-0-0"="/path/to/disk.vdi"
		for name, sc := range seen {
			prefix := name + "-"
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			rest := strings.TrimPrefix(key, prefix)
			parts := strings.SplitN(rest, "-", 2)
			if len(parts) != 2 {
				continue
			}
			port, err1 := strconv.Atoi(parts[0])
			device, err2 := strconv.Atoi(parts[1])
			if err1 != nil || err2 != nil {
				continue
			}
			path := unquote(val)
			if path == "" || path == "none" {
				continue
			}
			sc.Attachments = append(sc.Attachments, DiskAttachment{
				ControllerName: name,
				Port:           port,
				Device:         device,
				MediumPath:     path,
			})
		}
	}

	controllers := make([]StorageController, 0, len(order))
	for _, name := range order {
		controllers = append(controllers, *seen[name])
	}
	return controllers
}

// parseMetrics parses `VBoxManage metrics query` output, which emits one line
// per counter: "<vm> <counter> <value> <unit>".
func parseMetrics(raw string) *Metrics {
	m := &Metrics{}
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		counter := fields[1]
		val, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			continue
		}
		switch counter {
		case "CPU/Load/User", "CPU/Load/Kernel":
			m.CPUPct += val
		case "Guest/RAM/Usage/Total":
			m.MemoryUsedMB = int(val) / 1024
		case "Guest/RAM/Usage/Balloon":
			m.MemoryBalloonMB = int(val) / 1024
		case "Disk/DataRead":
			m.DiskReadBps = int64(val)
		case "Disk/DataWrite":
			m.DiskWriteBps = int64(val)
		case "Net/Rate/Rx":
			m.NetRxBps = int64(val)
		case "Net/Rate/Tx":
			m.NetTxBps = int64(val)
		}
	}
	return m
}

// parseHostInfo parses `VBoxManage list hostinfo` free-text output.
func parseHostInfo(raw string) *HostInfo {
	h := &HostInfo{}
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		key, val, ok := splitColon(line)
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "VirtualBox version information":
			h.VBoxVersion = strings.TrimSpace(val)
		case "Processor count":
			h.CPUCount, _ = strconv.Atoi(strings.TrimSpace(val))
		case "Memory size":
			h.MemoryMB, _ = strconv.Atoi(strings.Fields(strings.TrimSpace(val))[0])
		case "Operating system":
			h.OS = strings.TrimSpace(val)
		}
	}
	return h
}

func splitColon(line string) (key, val string, ok bool) {
	idx := strings.Index(line, ":")
	if idx == -1 {
		return "", "", false
	}
	return line[:idx], line[idx+1:], true
}

// parseOSTypes parses `VBoxManage list ostypes` output: blank-line-delimited
// blocks of "Key:     Value" pairs.
func parseOSTypes(raw string) []OSTypeDescriptor {
	var out []OSTypeDescriptor
	var cur OSTypeDescriptor
	flush := func() {
		if cur.ID != "" {
			out = append(out, cur)
		}
		cur = OSTypeDescriptor{}
	}
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		key, val, ok := splitColon(line)
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		switch key {
		case "ID":
			flush()
			cur.ID = val
		case "Description":
			cur.Description = val
		case "Family ID":
			cur.FamilyID = val
		case "Family Desc":
			cur.FamilyDescription = val
		case "64 bit":
			cur.Is64Bit = val == "true"
		case "Recommended RAM":
			cur.RecommendedRAMMB, _ = strconv.Atoi(strings.Fields(val)[0])
		case "Recommended HDD":
			sizeMB, _ := strconv.Atoi(strings.Fields(val)[0])
			cur.RecommendedDiskGB = sizeMB / 1024
		}
	}
	flush()
	return out
}

// parseHostOnlyNetworks parses the output of `VBoxManage list hostonlyifs`,
// a sequence of blank-line-delimited "Key: Value" blocks like parseOSTypes.
func parseHostOnlyNetworks(raw string) []HostOnlyNetwork {
	var out []HostOnlyNetwork
	var cur HostOnlyNetwork
	flush := func() {
		if cur.Name != "" {
			out = append(out, cur)
		}
		cur = HostOnlyNetwork{}
	}
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		key, val, ok := splitColon(line)
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		switch key {
		case "Name":
			flush()
			cur.Name = val
		case "IPAddress":
			cur.IP = val
		case "NetworkMask":
			cur.Netmask = val
		case "DHCP":
			cur.DHCPEnabled = val != "" && val != "Disabled"
		}
	}
	flush()
	return out
}

// parseListVMs parses the output of `VBoxManage list vms`.
func parseListVMs(raw string) ([]struct{ Name, UUID string }, error) {
	var out []struct{ Name, UUID string }
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		m := reVMNameUUID.FindStringSubmatch(line)
		if m == nil {
			return nil, &AdapterError{Kind: "unparseable", Op: "parseListVMs", Message: "unrecognized line", Raw: line}
		}
		out = append(out, struct{ Name, UUID string }{Name: m[1], UUID: m[2]})
	}
	return out, scanner.Err()
}
