package disks

import (
	"errors"
	"testing"

	"github.com/tkirkland/NeonInstall/internal/zfs"
)

func TestSelectTopologyBoundary(t *testing.T) {
	devs := []BlockDevice{
		{Path: "/dev/a", State: StateUnused},
		{Path: "/dev/b", State: StateUnused},
		{Path: "/dev/c", State: StateUnused},
		{Path: "/dev/d", State: StateUnused},
	}
	cases := []struct {
		topo zfs.Topology
		min  int
	}{
		{zfs.Single, 1}, {zfs.Mirror, 2}, {zfs.RAIDZ1, 3}, {zfs.RAIDZ2, 4},
	}
	for _, c := range cases {
		paths := make([]string, 0, c.min)
		for _, d := range devs[:c.min] {
			paths = append(paths, d.Path)
		}
		if _, err := Select(devs, paths, c.topo, SelectOptions{}); err != nil {
			t.Fatalf("%s with %d devices must succeed: %v", c.topo, c.min, err)
		}
		if _, err := Select(devs, paths[:c.min-1], c.topo, SelectOptions{}); !errors.Is(err, zfs.ErrInvalidTopology) {
			t.Fatalf("%s with %d devices must fail InvalidTopology, got %v", c.topo, c.min-1, err)
		}
	}
}

func TestSelectRejectsBusyDevice(t *testing.T) {
	devs := []BlockDevice{
		{Path: "/dev/a", State: StateInUsePool},
	}
	if _, err := Select(devs, []string{"/dev/a"}, zfs.Single, SelectOptions{}); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy, got %v", err)
	}
	devs = []BlockDevice{
		{Path: "/dev/a", Partitions: []Partition{{Path: "/dev/a1", Mountpoint: "/boot"}}},
	}
	if _, err := Select(devs, []string{"/dev/a"}, zfs.Single, SelectOptions{}); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("mounted partition: expected ErrDeviceBusy, got %v", err)
	}
}

func TestSelectSignatureRequiresOverride(t *testing.T) {
	devs := []BlockDevice{
		{Path: "/dev/a", Partitions: []Partition{{Path: "/dev/a1", FSType: "ntfs"}}, State: StatePartitioned},
	}
	if _, err := Select(devs, []string{"/dev/a"}, zfs.Single, SelectOptions{}); !errors.Is(err, ErrSignaturePresent) {
		t.Fatalf("expected ErrSignaturePresent, got %v", err)
	}
	got, err := Select(devs, []string{"/dev/a"}, zfs.Single, SelectOptions{WipeExisting: true})
	if err != nil || len(got) != 1 {
		t.Fatalf("override should permit selection: %v", err)
	}
}

func TestSelectUnknownDevice(t *testing.T) {
	if _, err := Select(nil, []string{"/dev/ghost"}, zfs.Single, SelectOptions{}); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}
