package hostnet

import "errors"

var (
	ErrNoAvailableSubnets   = errors.New("no available host-only subnets")
	ErrSaveSubnetAllocation = errors.New("failed to save subnet allocation")
)
