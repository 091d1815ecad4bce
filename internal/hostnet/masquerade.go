// Package hostnet configures host-side NAT so guests on a VirtualBox
// host-only network can reach the internet through the host's uplink.
// VirtualBox isolates a host-only interface from the host's default route
// by design; Masquerade adds the postrouting rule that undoes that
// isolation for an operator who explicitly asks for it.
package hostnet

// Masquerade is one host-only interface's NAT rule set. Setup and Cleanup
// are idempotent: Setup replaces any existing table for the interface,
// Cleanup is a no-op if none exists.
type Masquerade interface {
	Setup() error
	Cleanup() error
}
