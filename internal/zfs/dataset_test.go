package zfs

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateDefaultTree(t *testing.T) {
	if err := ValidateTree(DefaultTree()); err != nil {
		t.Fatalf("default tree must validate: %v", err)
	}
}

func TestValidateTreeChildBeforeParent(t *testing.T) {
	tree := []DatasetSpec{
		{Name: "ROOT/home", Mountpoint: "/home"},
		{Name: "ROOT", Mountpoint: "/"},
	}
	if err := ValidateTree(tree); !errors.Is(err, ErrOrphanDataset) {
		t.Fatalf("expected ErrOrphanDataset, got %v", err)
	}
}

func TestValidateTreeMountpointEscape(t *testing.T) {
	tree := []DatasetSpec{
		{Name: "ROOT", Mountpoint: "/srv/root"},
		{Name: "ROOT/home", Mountpoint: "/home"},
	}
	if err := ValidateTree(tree); !errors.Is(err, ErrBadMountpoint) {
		t.Fatalf("expected ErrBadMountpoint, got %v", err)
	}
	// same path is not a proper descendant
	tree = []DatasetSpec{
		{Name: "ROOT", Mountpoint: "/data"},
		{Name: "ROOT/x", Mountpoint: "/data"},
	}
	if err := ValidateTree(tree); !errors.Is(err, ErrBadMountpoint) {
		t.Fatalf("expected ErrBadMountpoint for equal mountpoint, got %v", err)
	}
	// sibling prefix must not count as descendant
	tree = []DatasetSpec{
		{Name: "ROOT", Mountpoint: "/data"},
		{Name: "ROOT/x", Mountpoint: "/database"},
	}
	if err := ValidateTree(tree); !errors.Is(err, ErrBadMountpoint) {
		t.Fatalf("expected ErrBadMountpoint for sibling prefix, got %v", err)
	}
}

func TestValidateTreeDuplicatesAndEmpty(t *testing.T) {
	if err := ValidateTree(nil); !errors.Is(err, ErrEmptyTree) {
		t.Fatalf("expected ErrEmptyTree, got %v", err)
	}
	tree := []DatasetSpec{
		{Name: "ROOT", Mountpoint: "/"},
		{Name: "ROOT", Mountpoint: "/"},
	}
	if err := ValidateTree(tree); !errors.Is(err, ErrDuplicateDataset) {
		t.Fatalf("expected ErrDuplicateDataset, got %v", err)
	}
}

func TestCreationArgsStableOrder(t *testing.T) {
	ds := DatasetSpec{
		Name:       "ROOT/tmp",
		Mountpoint: "/tmp",
		Props:      map[string]string{"com.sun:auto-snapshot": "false", "atime": "off"},
	}
	got := strings.Join(ds.creationArgs("neonpool"), " ")
	want := "create -o mountpoint=/tmp -o atime=off -o com.sun:auto-snapshot=false neonpool/ROOT/tmp"
	if got != want {
		t.Fatalf("args:\n got %s\nwant %s", got, want)
	}
}
