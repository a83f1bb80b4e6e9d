package zfs

import (
	"errors"
	"testing"
)

func TestTopologyMinimumBoundary(t *testing.T) {
	for _, topo := range []Topology{Single, Mirror, RAIDZ1, RAIDZ2} {
		min := topo.MinDevices()
		if err := topo.Validate(min); err != nil {
			t.Fatalf("%s with %d devices should pass: %v", topo, min, err)
		}
		if err := topo.Validate(min - 1); !errors.Is(err, ErrInvalidTopology) {
			t.Fatalf("%s with %d devices should fail, got %v", topo, min-1, err)
		}
		if err := topo.Validate(min + 3); err != nil {
			t.Fatalf("%s with %d devices should pass: %v", topo, min+3, err)
		}
	}
}

func TestTopologyMinimums(t *testing.T) {
	cases := map[Topology]int{Single: 1, Mirror: 2, RAIDZ1: 3, RAIDZ2: 4}
	for topo, want := range cases {
		if got := topo.MinDevices(); got != want {
			t.Fatalf("%s minimum: got %d want %d", topo, got, want)
		}
	}
}

func TestParseTopology(t *testing.T) {
	for in, want := range map[string]Topology{
		"single": Single, "mirror": Mirror, "raidz1": RAIDZ1, "raidz": RAIDZ1, "RAIDZ2": RAIDZ2,
	} {
		got, err := ParseTopology(in)
		if err != nil || got != want {
			t.Fatalf("parse %q: got %v, %v", in, got, err)
		}
	}
	if _, err := ParseTopology("raid60"); !errors.Is(err, ErrUnknownTopology) {
		t.Fatalf("expected ErrUnknownTopology, got %v", err)
	}
}

func TestVdevKeyword(t *testing.T) {
	if Single.vdevKeyword() != "" {
		t.Fatalf("single should have no vdev keyword")
	}
	if RAIDZ1.vdevKeyword() != "raidz" {
		t.Fatalf("raidz1 keyword: %q", RAIDZ1.vdevKeyword())
	}
}
