package chrootenv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tkirkland/NeonInstall/pkg/shell"
)

type fakeRunner struct {
	calls  []string
	failOn []string
}

func (f *fakeRunner) Run(_ context.Context, _ time.Duration, name string, args ...string) (shell.Result, error) {
	line := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, line)
	for _, p := range f.failOn {
		if strings.HasPrefix(line, p) {
			return shell.Result{Code: 32}, errors.New("forced failure: " + p)
		}
	}
	return shell.Result{}, nil
}

func TestScopeMountUnmountOrder(t *testing.T) {
	root := t.TempDir()
	f := &fakeRunner{}
	s, err := Enter(context.Background(), f, zerolog.Nop(), root)
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	var mounts, umounts []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, "mount ") {
			mounts = append(mounts, c)
		}
		if strings.HasPrefix(c, "umount ") {
			umounts = append(umounts, c)
		}
	}
	if len(mounts) != 4 || len(umounts) != 4 {
		t.Fatalf("mounts=%d umounts=%d", len(mounts), len(umounts))
	}
	// reverse order: last mounted (/sys) unmounted first, /dev last
	if !strings.HasSuffix(umounts[0], filepath.Join(root, "/sys")) {
		t.Fatalf("first umount: %s", umounts[0])
	}
	if !strings.HasSuffix(umounts[3], filepath.Join(root, "/dev")) {
		t.Fatalf("last umount: %s", umounts[3])
	}
}

func TestEnterUnwindsOnPartialFailure(t *testing.T) {
	root := t.TempDir()
	f := &fakeRunner{failOn: []string{"mount --bind /proc"}}
	if _, err := Enter(context.Background(), f, zerolog.Nop(), root); err == nil {
		t.Fatalf("expected enter failure")
	}
	var umounts []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, "umount ") {
			umounts = append(umounts, c)
		}
	}
	// /dev and /dev/pts were mounted before /proc failed
	if len(umounts) != 2 {
		t.Fatalf("expected 2 unwinding umounts, got %v", umounts)
	}
	if !strings.HasSuffix(umounts[0], filepath.Join(root, "/dev/pts")) {
		t.Fatalf("unwind order: %v", umounts)
	}
}

func TestCloseIdempotent(t *testing.T) {
	root := t.TempDir()
	f := &fakeRunner{}
	s, err := Enter(context.Background(), f, zerolog.Nop(), root)
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	before := len(f.calls)
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if len(f.calls) != before {
		t.Fatalf("second close ran commands")
	}
}

func TestCloseFallsBackToLazyDetach(t *testing.T) {
	root := t.TempDir()
	f := &fakeRunner{failOn: []string{"umount " + filepath.Join(root, "/sys")}}
	s, err := Enter(context.Background(), f, zerolog.Nop(), root)
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("lazy detach should recover: %v", err)
	}
	joined := strings.Join(f.calls, "\n")
	if !strings.Contains(joined, "umount -l "+filepath.Join(root, "/sys")) {
		t.Fatalf("expected lazy detach:\n%s", joined)
	}
}

func TestScopeRunUsesChroot(t *testing.T) {
	root := t.TempDir()
	f := &fakeRunner{}
	s, err := Enter(context.Background(), f, zerolog.Nop(), root)
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	defer s.Close()
	if _, err := s.Run(context.Background(), time.Minute, "update-grub"); err != nil {
		t.Fatalf("run: %v", err)
	}
	last := f.calls[len(f.calls)-1]
	if last != "chroot "+root+" update-grub" {
		t.Fatalf("chroot invocation: %s", last)
	}
}

func TestStaleMounts(t *testing.T) {
	dir := t.TempDir()
	info := dir + "/mountinfo"
	content := "" +
		"25 1 8:1 / / rw,relatime - ext4 /dev/sda1 rw\n" +
		"98 25 0:45 / /mnt/neon rw - zfs neonpool/ROOT rw\n" +
		"99 98 0:5 / /mnt/neon/dev rw - devtmpfs dev rw\n" +
		"100 25 0:30 / /boot/efi rw - vfat /dev/sda2 rw\n"
	if err := os.WriteFile(info, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	old := mountinfoPath
	mountinfoPath = info
	defer func() { mountinfoPath = old }()

	stale, err := StaleMounts("/mnt/neon")
	if err != nil {
		t.Fatalf("stale: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("expected 2 stale mounts, got %v", stale)
	}
	stale, err = StaleMounts("/mnt/other")
	if err != nil || len(stale) != 0 {
		t.Fatalf("clean root: %v %v", stale, err)
	}
}
