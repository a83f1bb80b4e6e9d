package zfs

import (
	"errors"
	"fmt"
	"strings"
)

// Topology is the redundancy scheme across the pool's devices.
type Topology int

const (
	Single Topology = iota
	Mirror
	RAIDZ1
	RAIDZ2
)

var ErrInvalidTopology = errors.New("device count below topology minimum")
var ErrUnknownTopology = errors.New("unknown topology")

func ParseTopology(s string) (Topology, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single":
		return Single, nil
	case "mirror":
		return Mirror, nil
	case "raidz1", "raidz":
		return RAIDZ1, nil
	case "raidz2":
		return RAIDZ2, nil
	default:
		return Single, fmt.Errorf("%w: %q", ErrUnknownTopology, s)
	}
}

func (t Topology) String() string {
	switch t {
	case Mirror:
		return "mirror"
	case RAIDZ1:
		return "raidz1"
	case RAIDZ2:
		return "raidz2"
	default:
		return "single"
	}
}

func (t Topology) MinDevices() int {
	switch t {
	case Mirror:
		return 2
	case RAIDZ1:
		return 3
	case RAIDZ2:
		return 4
	default:
		return 1
	}
}

// Validate checks the minimum-device-count invariant for n devices.
func (t Topology) Validate(n int) error {
	if n < t.MinDevices() {
		return fmt.Errorf("%w: %s needs at least %d, got %d", ErrInvalidTopology, t, t.MinDevices(), n)
	}
	return nil
}

// vdevKeyword is the zpool-create vdev spec prefix; empty for a plain
// single-device stripe.
func (t Topology) vdevKeyword() string {
	switch t {
	case Mirror:
		return "mirror"
	case RAIDZ1:
		return "raidz"
	case RAIDZ2:
		return "raidz2"
	default:
		return ""
	}
}
