// Package prereq verifies the live environment before anything is
// planned: root privileges, the external tools every later stage shells
// out to, and that the process is not already inside a chroot. All
// failures are collected so the operator sees the full list at once.
package prereq

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/tkirkland/NeonInstall/internal/errdefs"
)

// requiredTools are the external commands the install shells out to.
// Missing any one of them would fail mid-run with devices half-written;
// checking up front keeps the failure free of side effects.
var requiredTools = []string{
	"lsblk", "wipefs", "sgdisk", "partprobe",
	"mkfs.fat", "mkswap", "blkid",
	"zpool", "zfs",
	"unsquashfs", "rsync",
	"mount", "umount", "chroot",
}

// test seams
var (
	geteuid      = os.Geteuid
	lookPath     = exec.LookPath
	selfRootPath = "/"
	initRootPath = "/proc/1/root"
)

// Verify runs every prerequisite check and returns a single
// PrerequisiteError joining all failures, or nil when the environment
// is usable.
func Verify(log zerolog.Logger) error {
	log = log.With().Str("component", "prereq").Logger()
	var errs []error

	if uid := geteuid(); uid != 0 {
		errs = append(errs, fmt.Errorf("must run as root, running as uid %d", uid))
	}

	for _, tool := range requiredTools {
		if _, err := lookPath(tool); err != nil {
			errs = append(errs, fmt.Errorf("required tool %q not found in PATH", tool))
		}
	}

	if inside, err := insideChroot(); err != nil {
		log.Debug().Err(err).Msg("chroot detection unavailable, skipping")
	} else if inside {
		errs = append(errs, errors.New("running inside a chroot, refusing to partition devices"))
	}

	if len(errs) > 0 {
		for _, e := range errs {
			log.Error().Msg(e.Error())
		}
		return errdefs.WithHint(errdefs.ClassPrerequisite, "prereq", errors.Join(errs...),
			"run from the live environment as root with zfsutils-linux, gdisk, squashfs-tools and rsync installed")
	}
	log.Debug().Int("tools", len(requiredTools)).Msg("prerequisites satisfied")
	return nil
}

// insideChroot compares the device and inode of our root with init's
// root. They diverge only when the process root has been moved. The
// check needs root to read /proc/1/root, which Verify has already
// required.
func insideChroot() (bool, error) {
	self, err := os.Stat(selfRootPath)
	if err != nil {
		return false, err
	}
	init, err := os.Stat(initRootPath)
	if err != nil {
		return false, err
	}
	a, aok := self.Sys().(*syscall.Stat_t)
	b, bok := init.Sys().(*syscall.Stat_t)
	if !aok || !bok {
		return false, errors.New("stat does not expose device and inode")
	}
	return a.Dev != b.Dev || a.Ino != b.Ino, nil
}
