// Package handlers implements the Portmanteau Handlers (Component G): one
// handler per tool, fanning out to one ActionHandler per action, following
// the contracts of spec.md §4.G.
package handlers

import (
	"encoding/json"
	"time"

	"github.com/sandraschi/virtualization-mcp/internal/backupstore"
	"github.com/sandraschi/virtualization-mcp/internal/connpool"
	"github.com/sandraschi/virtualization-mcp/internal/hostnet"
	"github.com/sandraschi/virtualization-mcp/internal/jobengine"
	"github.com/sandraschi/virtualization-mcp/internal/lockregistry"
	"github.com/sandraschi/virtualization-mcp/internal/session"
	"github.com/sandraschi/virtualization-mcp/internal/toolregistry"
	"github.com/sandraschi/virtualization-mcp/internal/vboxmanage"
)

// Deps collects every component a handler may call. Handlers receive it
// through closures built at registration time (see Register) rather than
// reaching for package-level globals, per the spec's no-scattered-globals
// design note.
type Deps struct {
	Adapter  *vboxmanage.Adapter
	Locks    *lockregistry.Registry
	Jobs     *jobengine.Engine
	Sessions *session.Manager
	Backups  *backupstore.Store
	Guests   *connpool.Pool
	Subnets  *hostnet.SubnetAllocator

	LockTimeout         time.Duration
	GracefulStopTimeout time.Duration
	LongOpTimeout       time.Duration
}

func (d Deps) lockTimeout() time.Duration {
	if d.LockTimeout > 0 {
		return d.LockTimeout
	}
	return 30 * time.Second
}

func (d Deps) gracefulStopTimeout() time.Duration {
	if d.GracefulStopTimeout > 0 {
		return d.GracefulStopTimeout
	}
	return 60 * time.Second
}

// Register builds and registers all five portmanteau tools plus the five
// meta-tools against reg.
func Register(reg *toolregistry.Registry, deps Deps) {
	reg.Register(VMManagement(deps))
	reg.Register(NetworkManagement(deps))
	reg.Register(StorageManagement(deps))
	reg.Register(SnapshotManagement(deps))
	reg.Register(SystemManagement(deps))
	reg.Register(JobGet(deps))
	reg.Register(JobList(deps))
	reg.Register(JobCancel(deps))
	reg.Register(SessionGet(deps))
	reg.Register(SessionEnd(deps))
}

// decode unmarshals raw into a pointer-to-struct, mapping a JSON error to a
// validation HandlerError.
func decode[T any](raw json.RawMessage) (*T, *toolregistry.HandlerError) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, toolregistry.NewErrorf(toolregistry.KindValidation, nil, "invalid arguments: %v", err)
	}
	return &v, nil
}

// asAdapterError maps a vboxmanage.AdapterError into the registry's
// HandlerError, preserving kind unchanged per the spec's propagation policy.
func asAdapterError(err error) *toolregistry.HandlerError {
	if aerr, ok := err.(*vboxmanage.AdapterError); ok {
		return toolregistry.NewErrorf(aerr.Kind, map[string]any{"op": aerr.Op}, "%s", aerr.Message)
	}
	return toolregistry.NewErrorf(toolregistry.KindHostError, nil, "%v", err)
}
