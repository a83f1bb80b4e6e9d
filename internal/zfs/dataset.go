package zfs

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

// DatasetSpec names one dataset relative to the pool, e.g. "ROOT" or
// "ROOT/home". Props are passed as -o options at creation.
type DatasetSpec struct {
	Name       string            `yaml:"name"`
	Mountpoint string            `yaml:"mountpoint"`
	Props      map[string]string `yaml:"props,omitempty"`
}

var (
	ErrEmptyTree        = errors.New("dataset tree is empty")
	ErrOrphanDataset    = errors.New("child dataset listed before its parent")
	ErrDuplicateDataset = errors.New("duplicate dataset name")
	ErrBadMountpoint    = errors.New("child mountpoint is not a descendant of its parent's")
)

// DefaultTree is the stock KDE Neon layout: one root dataset with home,
// tmp and var children. tmp is excluded from snapshots.
func DefaultTree() []DatasetSpec {
	return []DatasetSpec{
		{Name: "ROOT", Mountpoint: "/"},
		{Name: "ROOT/home", Mountpoint: "/home"},
		{Name: "ROOT/tmp", Mountpoint: "/tmp", Props: map[string]string{"com.sun:auto-snapshot": "false"}},
		{Name: "ROOT/var", Mountpoint: "/var"},
	}
}

// ValidateTree enforces the ordering invariants before any device is
// touched: every parent precedes its children, names are unique, and a
// child's mountpoint is a proper descendant path of its parent's.
func ValidateTree(tree []DatasetSpec) error {
	if len(tree) == 0 {
		return ErrEmptyTree
	}
	mounts := map[string]string{} // dataset name -> mountpoint
	for _, ds := range tree {
		name := strings.Trim(ds.Name, "/")
		if name == "" {
			return fmt.Errorf("%w: dataset with empty name", ErrEmptyTree)
		}
		if _, ok := mounts[name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateDataset, name)
		}
		if parent := path.Dir(name); parent != "." {
			pm, ok := mounts[parent]
			if !ok {
				return fmt.Errorf("%w: %s before %s", ErrOrphanDataset, name, parent)
			}
			if ds.Mountpoint != "" && !isProperDescendant(pm, ds.Mountpoint) {
				return fmt.Errorf("%w: %s mounts %s under parent %s", ErrBadMountpoint, name, ds.Mountpoint, pm)
			}
		}
		mounts[name] = ds.Mountpoint
	}
	return nil
}

// isProperDescendant reports whether child is strictly below parent in
// the mount hierarchy.
func isProperDescendant(parent, child string) bool {
	parent = path.Clean(parent)
	child = path.Clean(child)
	if parent == child {
		return false
	}
	if parent == "/" {
		return strings.HasPrefix(child, "/")
	}
	return strings.HasPrefix(child, parent+"/")
}

// creationArgs renders a dataset's zfs-create option list in a stable
// order so command logs and tests are deterministic.
func (d DatasetSpec) creationArgs(pool string) []string {
	args := []string{"create"}
	if d.Mountpoint != "" {
		args = append(args, "-o", "mountpoint="+d.Mountpoint)
	}
	keys := make([]string, 0, len(d.Props))
	for k := range d.Props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-o", k+"="+d.Props[k])
	}
	return append(args, pool+"/"+strings.Trim(d.Name, "/"))
}
