package configure

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tkirkland/NeonInstall/internal/chrootenv"
)

func (c *Configurator) writeFstab(ctx context.Context, root string, p Params) error {
	efiRef := p.EFIPartition
	if res, err := c.run.Run(ctx, 15*time.Second, "blkid", "-s", "UUID", "-o", "value", p.EFIPartition); err == nil {
		if uuid := strings.TrimSpace(string(res.Stdout)); uuid != "" {
			efiRef = "UUID=" + uuid
		}
	}
	content := fmt.Sprintf(`# /etc/fstab: static file system information.
# ZFS datasets are mounted by the zfs mount generator, not listed here.
# <file system> <mount point> <type> <options> <dump> <pass>
%s	/boot/efi	vfat	defaults	0	2
/dev/zvol/%s/swap	none	swap	sw,discard	0	0
`, efiRef, p.PoolName)
	return writeTargetFile(root, "etc/fstab", content, 0o644)
}

func (c *Configurator) writeSystemFiles(ctx context.Context, scope *chrootenv.Scope, root string, p Params) error {
	if err := writeTargetFile(root, "etc/hostname", p.Hostname+"\n", 0o644); err != nil {
		return err
	}
	hosts := fmt.Sprintf(`127.0.0.1	localhost
127.0.1.1	%s

::1		localhost ip6-localhost ip6-loopback
ff02::1		ip6-allnodes
ff02::2		ip6-allrouters
`, p.Hostname)
	if err := writeTargetFile(root, "etc/hosts", hosts, 0o644); err != nil {
		return err
	}

	if err := appendTargetFile(root, "etc/locale.gen", p.Locale+" UTF-8\n"); err != nil {
		return err
	}
	if _, err := scope.Run(ctx, 5*time.Minute, "locale-gen"); err != nil {
		return fmt.Errorf("locale-gen: %w", err)
	}
	if err := writeTargetFile(root, "etc/default/locale", fmt.Sprintf("LANG=%q\n", p.Locale), 0o644); err != nil {
		return err
	}

	if _, err := scope.Run(ctx, 30*time.Second, "ln", "-sf",
		"/usr/share/zoneinfo/"+p.Timezone, "/etc/localtime"); err != nil {
		return fmt.Errorf("set timezone: %w", err)
	}

	netplan := `network:
  version: 2
  renderer: networkd
  ethernets:
    all-en:
      match:
        name: "en*"
      dhcp4: true
`
	if err := writeTargetFile(root, "etc/netplan/01-netcfg.yaml", netplan, 0o600); err != nil {
		return err
	}

	// Distribution repo and display-manager theme for KDE Neon.
	neonRepo := "deb http://archive.neon.kde.org/user jammy main\ndeb-src http://archive.neon.kde.org/user jammy main\n"
	if err := writeTargetFile(root, "etc/apt/sources.list.d/neon.list", neonRepo, 0o644); err != nil {
		return err
	}
	return writeTargetFile(root, "etc/sddm.conf.d/theme.conf", "[Theme]\nCurrent=breeze\n", 0o644)
}

func (c *Configurator) configureBoot(ctx context.Context, scope *chrootenv.Scope, root string, p Params) error {
	// The root is referenced by pool name, never a device path: device
	// paths are not stable across reboots, the pool identity is.
	grub := fmt.Sprintf(`GRUB_DEFAULT=0
GRUB_TIMEOUT=5
GRUB_DISTRIBUTOR="KDE Neon"
GRUB_CMDLINE_LINUX_DEFAULT="quiet splash"
GRUB_CMDLINE_LINUX="root=ZFS=%s/ROOT"
`, p.PoolName)
	if err := writeTargetFile(root, "etc/default/grub", grub, 0o644); err != nil {
		return err
	}
	if _, err := scope.Run(ctx, 10*time.Minute, "grub-install",
		"--target=x86_64-efi", "--efi-directory=/boot/efi", "--bootloader-id=neon", "--recheck"); err != nil {
		return fmt.Errorf("grub-install: %w", err)
	}
	if _, err := scope.Run(ctx, 10*time.Minute, "update-grub"); err != nil {
		return fmt.Errorf("update-grub: %w", err)
	}
	if _, err := scope.Run(ctx, 15*time.Minute, "update-initramfs", "-u", "-k", "all"); err != nil {
		return fmt.Errorf("update-initramfs: %w", err)
	}
	return nil
}

// ensureDir keeps ownership fixes localized; the image may or may not
// ship the parent directories.
func ensureDir(root, rel string, perm os.FileMode) (string, error) {
	path := filepath.Join(root, rel)
	return path, os.MkdirAll(path, perm)
}
