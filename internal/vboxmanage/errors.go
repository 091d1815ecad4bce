package vboxmanage

import (
	"errors"
	"strings"

	"github.com/sandraschi/virtualization-mcp/internal/toolregistry"
)

var (
	ErrLocateBinary  = errors.New("vboxmanage: locate binary")
	ErrSpawn         = errors.New("vboxmanage: spawn subprocess")
	ErrUnparseable   = errors.New("vboxmanage: unparseable output")
	ErrSemaphoreWait = errors.New("vboxmanage: waiting for subprocess slot")
)

// AdapterError is the typed error every Adapter call returns on failure. Kind
// is one of the stable error kinds defined in toolregistry; handlers forward
// it unchanged into the response envelope, only adding context via Details.
type AdapterError struct {
	Kind    toolregistry.ErrorKind
	Op      string
	Message string
	Raw     string // raw stderr/stdout excerpt, for unparseable/host_error
}

func (e *AdapterError) Error() string {
	if e.Message != "" {
		return e.Op + ": " + e.Message
	}
	return e.Op + ": " + string(e.Kind)
}

// classify maps a VBoxManage exit code and stderr text to an AdapterError
// kind. Matchers are ordered from most specific to most general, and the
// first match wins — mirroring the adapter's documented classification
// policy (spec §4.A).
func classify(op string, exitCode int, stderr string) *AdapterError {
	s := strings.ToLower(stderr)

	switch {
	case exitCode == 0:
		return nil
	case strings.Contains(s, "could not find a registered machine"),
		strings.Contains(s, "could not find file for the medium"),
		strings.Contains(s, "snapshot") && strings.Contains(s, "not found"),
		strings.Contains(s, "does not exist"):
		return &AdapterError{Kind: toolregistry.KindNotFound, Op: op, Message: strings.TrimSpace(stderr), Raw: stderr}
	case strings.Contains(s, "already exists"),
		strings.Contains(s, "already in use"):
		return &AdapterError{Kind: toolregistry.KindAlreadyExists, Op: op, Message: strings.TrimSpace(stderr), Raw: stderr}
	case strings.Contains(s, "is not currently running"),
		strings.Contains(s, "is already locked"),
		strings.Contains(s, "invalid machine state"),
		strings.Contains(s, "is already running"):
		return &AdapterError{Kind: toolregistry.KindInvalidState, Op: op, Message: strings.TrimSpace(stderr), Raw: stderr}
	case strings.Contains(s, "e_accessdenied"),
		strings.Contains(s, "object is not ready"),
		strings.Contains(s, "locked for a session"):
		return &AdapterError{Kind: toolregistry.KindBusy, Op: op, Message: strings.TrimSpace(stderr), Raw: stderr}
	case strings.Contains(s, "permission denied"),
		strings.Contains(s, "access is denied"):
		return &AdapterError{Kind: toolregistry.KindPermissionDenied, Op: op, Message: strings.TrimSpace(stderr), Raw: stderr}
	case strings.Contains(s, "no space left"),
		strings.Contains(s, "i/o error"),
		strings.Contains(s, "cannot create"):
		return &AdapterError{Kind: toolregistry.KindHostError, Op: op, Message: strings.TrimSpace(stderr), Raw: stderr}
	default:
		return &AdapterError{Kind: toolregistry.KindHostError, Op: op, Message: strings.TrimSpace(stderr), Raw: stderr}
	}
}
