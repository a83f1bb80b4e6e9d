// Package configure applies user, boot, network and service
// configuration to the deployed root through a scoped chroot context.
package configure

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tkirkland/NeonInstall/internal/chrootenv"
	"github.com/tkirkland/NeonInstall/pkg/shell"
)

// Params is the slice of the installation plan the configurator needs.
// It never re-derives choices; everything comes from the confirmed plan.
type Params struct {
	PoolName         string
	EFIPartition     string
	Hostname         string
	Timezone         string
	Locale           string
	Username         string
	UserShell        string
	AuthorizedKey    string
	SnapshotSchedule string
	TrimSchedule     string
}

type Configurator struct {
	run shell.Runner
	log zerolog.Logger
}

func NewConfigurator(r shell.Runner, log zerolog.Logger) *Configurator {
	return &Configurator{run: r, log: log.With().Str("component", "configure").Logger()}
}

// Configure enters the bind/chroot scope and applies the target
// configuration. The virtual filesystems are unmounted on every exit
// path; a failure inside the scope still unmounts before the error is
// surfaced.
func (c *Configurator) Configure(ctx context.Context, root string, p Params) (err error) {
	// Schedules are validated before any mount so a typo in the profile
	// surfaces as a plain error, not a half-configured target.
	snapCal, err := onCalendar(p.SnapshotSchedule)
	if err != nil {
		return fmt.Errorf("snapshot schedule: %w", err)
	}
	trimCal, err := onCalendar(p.TrimSchedule)
	if err != nil {
		return fmt.Errorf("trim schedule: %w", err)
	}

	scope, err := chrootenv.Enter(ctx, c.run, c.log, root)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := scope.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("unmount chroot scope: %w", cerr))
		}
	}()

	if err := c.mountEFI(ctx, root, p.EFIPartition); err != nil {
		return err
	}
	defer func() {
		if uerr := c.unmountEFI(root); uerr != nil {
			err = errors.Join(err, uerr)
		}
	}()

	steps := []struct {
		name string
		fn   func() error
	}{
		{"fstab", func() error { return c.writeFstab(ctx, root, p) }},
		{"system files", func() error { return c.writeSystemFiles(ctx, scope, root, p) }},
		{"packages", func() error { return c.ensurePackages(ctx, scope) }},
		{"bootloader", func() error { return c.configureBoot(ctx, scope, root, p) }},
		{"user", func() error { return c.createUser(ctx, scope, root, p) }},
		{"ssh", func() error { return c.configureSSH(ctx, scope, root) }},
		{"maintenance timers", func() error { return c.writeMaintenanceTimers(ctx, scope, root, p, snapCal, trimCal) }},
	}
	for _, step := range steps {
		c.log.Info().Str("step", step.name).Msg("configuring target")
		if err := step.fn(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

func (c *Configurator) mountEFI(ctx context.Context, root, efiPart string) error {
	target := filepath.Join(root, "boot/efi")
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := c.run.Run(ctx, 30*time.Second, "mount", efiPart, target); err != nil {
		return fmt.Errorf("mount EFI partition: %w", err)
	}
	return nil
}

func (c *Configurator) unmountEFI(root string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := c.run.Run(ctx, 30*time.Second, "umount", filepath.Join(root, "boot/efi")); err != nil {
		return fmt.Errorf("unmount EFI partition: %w", err)
	}
	return nil
}

// ensurePackages installs the target-side tooling the boot and service
// configuration depends on.
func (c *Configurator) ensurePackages(ctx context.Context, scope *chrootenv.Scope) error {
	if res, err := scope.Run(ctx, 10*time.Minute, "apt-get", "update"); err != nil {
		c.log.Warn().Int("code", res.Code).Msg("apt-get update failed, trying cached indexes")
	}
	_, err := scope.Run(ctx, 20*time.Minute, "apt-get", "install", "-y",
		"zfsutils-linux", "zfs-initramfs", "grub-efi-amd64", "openssh-server")
	return err
}

func writeTargetFile(root, rel string, content string, perm os.FileMode) error {
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), perm)
}

func appendTargetFile(root, rel string, content string) error {
	path := filepath.Join(root, rel)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(content)
	return err
}

func shellQuoteSafe(s string) string {
	return strings.ReplaceAll(s, "'", "")
}
