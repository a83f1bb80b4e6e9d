package disks

import (
	"errors"
	"fmt"

	"github.com/tkirkland/NeonInstall/internal/zfs"
)

var (
	ErrDeviceBusy       = errors.New("device is mounted or part of an existing pool")
	ErrDeviceNotFound   = errors.New("device not present in discovery results")
	ErrSignaturePresent = errors.New("device holds a filesystem signature; wipe requires explicit override")
)

// SelectOptions carries the operator overrides gathered upstream.
type SelectOptions struct {
	// WipeExisting permits destroying recognized filesystem signatures.
	WipeExisting bool
}

// Select validates the chosen device paths against fresh discovery
// results and the topology minimum. This is the last point at which the
// plan can change; the result is frozen into the InstallationPlan.
func Select(discovered []BlockDevice, paths []string, topo zfs.Topology, opts SelectOptions) ([]BlockDevice, error) {
	if err := topo.Validate(len(paths)); err != nil {
		return nil, err
	}
	byPath := make(map[string]BlockDevice, len(discovered))
	for _, d := range discovered {
		byPath[d.Path] = d
	}
	out := make([]BlockDevice, 0, len(paths))
	for _, p := range paths {
		dev, ok := byPath[p]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, p)
		}
		if dev.Busy() {
			return nil, fmt.Errorf("%w: %s", ErrDeviceBusy, p)
		}
		if dev.HasSignature() && !opts.WipeExisting {
			return nil, fmt.Errorf("%w: %s", ErrSignaturePresent, p)
		}
		out = append(out, dev)
	}
	return out, nil
}
