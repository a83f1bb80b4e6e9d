package disks

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tkirkland/NeonInstall/pkg/shell"
)

type rawTree struct {
	Blockdevices []rawDevice `json:"blockdevices"`
}

type rawDevice struct {
	Name       string      `json:"name"`
	KName      string      `json:"kname"`
	Path       string      `json:"path"`
	Size       any         `json:"size"`
	Rota       *bool       `json:"rota"`
	Type       string      `json:"type"`
	Tran       string      `json:"tran"`
	Model      string      `json:"model"`
	Serial     string      `json:"serial"`
	Mountpoint *string     `json:"mountpoint"`
	FSType     string      `json:"fstype"`
	Children   []rawDevice `json:"children"`
}

// Discover enumerates whole-disk block devices via lsblk. Results are
// re-enumerated on every call and never cached: the on-disk state is
// authoritative, not any record from a previous run.
func Discover(ctx context.Context, r shell.Runner) ([]BlockDevice, error) {
	res, err := r.Run(ctx, 10*time.Second, "lsblk",
		"-J", "-b", "-o", "NAME,KNAME,PATH,SIZE,ROTA,TYPE,TRAN,MODEL,SERIAL,MOUNTPOINT,FSTYPE")
	if err != nil {
		return nil, fmt.Errorf("lsblk: %w", err)
	}
	var tree rawTree
	if err := json.Unmarshal(res.Stdout, &tree); err != nil {
		return nil, fmt.Errorf("parse lsblk output: %w", err)
	}
	return flatten(tree), nil
}

func flatten(tree rawTree) []BlockDevice {
	out := []BlockDevice{}
	for _, raw := range tree.Blockdevices {
		if raw.Type != "disk" {
			continue
		}
		if strings.HasPrefix(raw.Name, "loop") || strings.HasPrefix(raw.Name, "ram") || strings.HasPrefix(raw.Name, "zram") {
			continue
		}
		dev := BlockDevice{
			Path:      devPath(raw),
			KName:     raw.KName,
			SizeBytes: sizeToBytes(raw.Size),
			Model:     strings.TrimSpace(raw.Model),
			Serial:    strings.TrimSpace(raw.Serial),
			Transport: raw.Tran,
			FSType:    raw.FSType,
		}
		if raw.Rota != nil {
			dev.Rotational = *raw.Rota
		}
		if raw.Mountpoint != nil {
			dev.Mountpoint = *raw.Mountpoint
		}
		for _, c := range raw.Children {
			if c.Type != "part" {
				continue
			}
			p := Partition{Path: devPath(c), FSType: c.FSType}
			if c.Mountpoint != nil {
				p.Mountpoint = *c.Mountpoint
			}
			dev.Partitions = append(dev.Partitions, p)
		}
		dev.State = classify(dev)
		out = append(out, dev)
	}
	return out
}

func classify(d BlockDevice) UsageState {
	if d.FSType == "zfs_member" {
		return StateInUsePool
	}
	for _, p := range d.Partitions {
		if p.FSType == "zfs_member" || p.FSType == "linux_raid_member" || p.FSType == "LVM2_member" {
			return StateInUsePool
		}
	}
	if len(d.Partitions) > 0 {
		return StatePartitioned
	}
	return StateUnused
}

func devPath(raw rawDevice) string {
	if raw.Path != "" {
		return raw.Path
	}
	return "/dev/" + raw.Name
}

// sizeToBytes tolerates both numeric and quoted size fields; lsblk emits
// either depending on version.
func sizeToBytes(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
	}
	return 0
}
