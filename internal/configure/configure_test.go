package configure

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
	stdout map[string]string
}

func (f *fakeRunner) Run(_ context.Context, _ time.Duration, name string, args ...string) (shell.Result, error) {
	line := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, line)
	for _, p := range f.failOn {
		if strings.Contains(line, p) {
			return shell.Result{Code: 1}, errors.New("forced failure: " + p)
		}
	}
	for p, out := range f.stdout {
		if strings.HasPrefix(line, p) {
			return shell.Result{Stdout: []byte(out)}, nil
		}
	}
	return shell.Result{}, nil
}

func (f *fakeRunner) count(prefix string) int {
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func testParams() Params {
	return Params{
		PoolName:         "neonpool",
		EFIPartition:     "/dev/nvme0n1p1",
		Hostname:         "precision",
		Timezone:         "America/New_York",
		Locale:           "en_US.UTF-8",
		Username:         "me",
		UserShell:        "/usr/bin/zsh",
		AuthorizedKey:    "ssh-ed25519 AAAA me@precision",
		SnapshotSchedule: "@daily",
		TrimSchedule:     "0 3 * * 0",
	}
}

func readTarget(t *testing.T, root, rel string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(b)
}

func TestConfigureWritesTargetFiles(t *testing.T) {
	root := t.TempDir()
	f := &fakeRunner{stdout: map[string]string{"blkid": "ABCD-1234\n"}}
	c := NewConfigurator(f, zerolog.Nop())
	if err := c.Configure(context.Background(), root, testParams()); err != nil {
		t.Fatalf("configure: %v", err)
	}

	sshd := readTarget(t, root, "etc/ssh/sshd_config")
	for _, want := range []string{
		"PermitRootLogin no",
		"PasswordAuthentication no",
		"PermitEmptyPasswords no",
		"X11Forwarding no",
		"PubkeyAuthentication yes",
	} {
		if !strings.Contains(sshd, want) {
			t.Fatalf("sshd_config missing %q:\n%s", want, sshd)
		}
	}

	fstab := readTarget(t, root, "etc/fstab")
	if !strings.Contains(fstab, "UUID=ABCD-1234\t/boot/efi") {
		t.Fatalf("fstab must reference EFI by UUID:\n%s", fstab)
	}
	if !strings.Contains(fstab, "/dev/zvol/neonpool/swap") {
		t.Fatalf("fstab missing swap volume:\n%s", fstab)
	}

	grub := readTarget(t, root, "etc/default/grub")
	if !strings.Contains(grub, "root=ZFS=neonpool/ROOT") {
		t.Fatalf("grub must reference the pool by name:\n%s", grub)
	}
	if strings.Contains(grub, "/dev/nvme") {
		t.Fatalf("grub must not reference a transient device path:\n%s", grub)
	}

	if got := readTarget(t, root, "etc/hostname"); got != "precision\n" {
		t.Fatalf("hostname: %q", got)
	}
	if got := readTarget(t, root, "etc/sudoers.d/me"); got != "me ALL=(ALL) ALL\n" {
		t.Fatalf("sudoers: %q", got)
	}
	if got := readTarget(t, root, "home/me/.ssh/authorized_keys"); !strings.Contains(got, "ssh-ed25519") {
		t.Fatalf("authorized_keys: %q", got)
	}

	snapTimer := readTarget(t, root, "etc/systemd/system/zfs-snapshot.timer")
	if !strings.Contains(snapTimer, "OnCalendar=daily") {
		t.Fatalf("snapshot timer:\n%s", snapTimer)
	}
	trimTimer := readTarget(t, root, "etc/systemd/system/zfs-trim.timer")
	if !strings.Contains(trimTimer, "OnCalendar=Sun *-*-* 03:00:00") {
		t.Fatalf("trim timer:\n%s", trimTimer)
	}
}

func TestConfigureRunsMandatoryRotation(t *testing.T) {
	root := t.TempDir()
	f := &fakeRunner{}
	c := NewConfigurator(f, zerolog.Nop())
	if err := c.Configure(context.Background(), root, testParams()); err != nil {
		t.Fatalf("configure: %v", err)
	}
	joined := strings.Join(f.calls, "\n")
	if !strings.Contains(joined, "useradd -m -s /usr/bin/zsh me") {
		t.Fatalf("useradd missing:\n%s", joined)
	}
	if !strings.Contains(joined, "chage -d 0 me") {
		t.Fatalf("password rotation missing:\n%s", joined)
	}
	if !strings.Contains(joined, "grub-install --target=x86_64-efi") {
		t.Fatalf("grub-install missing:\n%s", joined)
	}
}

func TestConfigureUnmountsOnFailure(t *testing.T) {
	root := t.TempDir()
	f := &fakeRunner{failOn: []string{"grub-install"}}
	c := NewConfigurator(f, zerolog.Nop())
	err := c.Configure(context.Background(), root, testParams())
	if err == nil {
		t.Fatalf("expected configure failure")
	}
	// Every bind mount plus the EFI mount must be released before the
	// error surfaces.
	mounts := f.count("mount ")
	umounts := f.count("umount ")
	if mounts != umounts {
		t.Fatalf("mount/unmount imbalance after failure: %d mounts, %d umounts\n%s",
			mounts, umounts, strings.Join(f.calls, "\n"))
	}
	if umounts != 5 {
		t.Fatalf("expected 5 unmounts (4 binds + EFI), got %d", umounts)
	}
}

func TestConfigureReportsUnmountFailuresAlongsideStepError(t *testing.T) {
	root := t.TempDir()
	f := &fakeRunner{failOn: []string{"grub-install", "umount"}}
	c := NewConfigurator(f, zerolog.Nop())
	err := c.Configure(context.Background(), root, testParams())
	if err == nil {
		t.Fatalf("expected configure failure")
	}
	msg := err.Error()
	if !strings.Contains(msg, "grub-install") {
		t.Fatalf("step failure missing from error: %s", msg)
	}
	// The failed unmounts must surface next to the step error, not be
	// dropped because a step already failed.
	if !strings.Contains(msg, "unmount chroot scope") {
		t.Fatalf("scope unmount failure swallowed: %s", msg)
	}
	if !strings.Contains(msg, "unmount EFI partition") {
		t.Fatalf("EFI unmount failure swallowed: %s", msg)
	}
}

func TestConfigureRejectsBadScheduleBeforeMounting(t *testing.T) {
	root := t.TempDir()
	f := &fakeRunner{}
	c := NewConfigurator(f, zerolog.Nop())
	p := testParams()
	p.SnapshotSchedule = "not a schedule"
	if err := c.Configure(context.Background(), root, p); err == nil {
		t.Fatalf("expected schedule validation failure")
	}
	if len(f.calls) != 0 {
		t.Fatalf("bad schedule must fail before any command: %v", f.calls)
	}
}

func TestOnCalendar(t *testing.T) {
	cases := []struct {
		expr string
		want string
	}{
		{"@hourly", "hourly"},
		{"@daily", "daily"},
		{"@weekly", "weekly"},
		{"@monthly", "monthly"},
		{"30 2 * * *", "*-*-* 02:30:00"},
		{"0 3 * * 0", "Sun *-*-* 03:00:00"},
		{"0 1 * * mon", "Mon *-*-* 01:00:00"},
	}
	for _, c := range cases {
		got, err := onCalendar(c.expr)
		if err != nil {
			t.Fatalf("%q: %v", c.expr, err)
		}
		if got != c.want {
			t.Fatalf("%q: got %q want %q", c.expr, got, c.want)
		}
	}
	for _, bad := range []string{"", "garbage", "0 0 1 * *", "@every 1h", "*/5 * * * *"} {
		if _, err := onCalendar(bad); err == nil {
			t.Fatalf("%q should be rejected", bad)
		}
	}
}
