package hostnet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sandraschi/virtualization-mcp/internal/errx"
)

// SubnetInfo is the persisted /24 block assigned to one host-only network.
type SubnetInfo struct {
	Octet     int    `json:"octet"`
	GatewayIP string `json:"gateway_ip"`
	GuestIP   string `json:"guest_ip"`
	Subnet    string `json:"subnet"`
	Network   string `json:"network"`
}

// SubnetAllocator hands out unique 192.168.X.0/24 blocks for VirtualBox
// host-only networks that don't pin an explicit IP/netmask, persisting
// each allocation as its own JSON file so it survives a server restart.
type SubnetAllocator struct {
	mu       sync.Mutex
	baseDir  string
	minOctet int
	maxOctet int
}

// NewSubnetAllocator creates an allocator persisting under baseDir, which
// the caller must ensure exists (cmd/virtualization-mcp creates StateDir
// at startup).
func NewSubnetAllocator(baseDir string) *SubnetAllocator {
	dir := filepath.Join(baseDir, "subnets")
	_ = os.MkdirAll(dir, 0o755)
	return &SubnetAllocator{baseDir: dir, minOctet: 100, maxOctet: 254}
}

// Allocate assigns the lowest free octet to network, persisting the choice.
func (a *SubnetAllocator) Allocate(network string) (*SubnetInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	used := make(map[int]bool)
	entries, _ := os.ReadDir(a.baseDir)
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(a.baseDir, entry.Name()))
		if err != nil {
			continue
		}
		var info SubnetInfo
		if json.Unmarshal(data, &info) == nil {
			used[info.Octet] = true
		}
	}

	octet := 0
	for o := a.minOctet; o <= a.maxOctet; o++ {
		if !used[o] {
			octet = o
			break
		}
	}
	if octet == 0 {
		return nil, errx.With(ErrNoAvailableSubnets, ": all %d-%d in use", a.minOctet, a.maxOctet)
	}

	info := &SubnetInfo{
		Octet:     octet,
		GatewayIP: fmt.Sprintf("192.168.%d.1", octet),
		GuestIP:   fmt.Sprintf("192.168.%d.2", octet),
		Subnet:    fmt.Sprintf("192.168.%d.0/24", octet),
		Network:   network,
	}
	data, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(a.baseDir, network+".json"), data, 0o644); err != nil {
		return nil, errx.Wrap(ErrSaveSubnetAllocation, err)
	}
	return info, nil
}

// Release frees network's allocation, if any.
func (a *SubnetAllocator) Release(network string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := os.Remove(filepath.Join(a.baseDir, network+".json"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
