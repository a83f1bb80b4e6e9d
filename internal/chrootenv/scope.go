// Package chrootenv provides a scoped bind/chroot context for the
// deployed root. Virtual filesystems are mounted for the duration of
// the scope and unmounted on every exit path; a leaked bind mount
// blocks the later pool export and corrupts the host's mount tree.
package chrootenv

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tkirkland/NeonInstall/pkg/shell"
)

// binds are mounted in order and unmounted in reverse; /dev must
// precede /dev/pts.
var binds = []string{"/dev", "/dev/pts", "/proc", "/sys"}

// seam for StaleMounts tests
var mountinfoPath = "/proc/self/mountinfo"

type Scope struct {
	run     shell.Runner
	log     zerolog.Logger
	root    string
	mounted []string
	closed  bool
}

// Enter bind-mounts the essential virtual filesystems under root. On a
// partial failure everything already mounted is unwound before the
// error is returned.
func Enter(ctx context.Context, r shell.Runner, log zerolog.Logger, root string) (*Scope, error) {
	s := &Scope{run: r, log: log.With().Str("component", "chroot").Logger(), root: root}
	for _, src := range binds {
		target := filepath.Join(root, src)
		if err := os.MkdirAll(target, 0o755); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("create mount point %s: %w", target, err)
		}
		if _, err := r.Run(ctx, 30*time.Second, "mount", "--bind", src, target); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("bind mount %s: %w", src, err)
		}
		s.mounted = append(s.mounted, target)
	}
	s.log.Debug().Str("root", root).Msg("entered chroot scope")
	return s, nil
}

// Run executes a command inside the target root.
func (s *Scope) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (shell.Result, error) {
	full := append([]string{s.root, name}, args...)
	return s.run.Run(ctx, timeout, "chroot", full...)
}

// Close unmounts the scope's filesystems in reverse order. Idempotent;
// safe on every exit path including cancellation. A mount that refuses
// a plain umount gets a lazy detach so the scope never leaks.
func (s *Scope) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for i := len(s.mounted) - 1; i >= 0; i-- {
		target := s.mounted[i]
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := s.run.Run(ctx, 30*time.Second, "umount", target); err != nil {
			if _, lerr := s.run.Run(ctx, 30*time.Second, "umount", "-l", target); lerr != nil {
				errs = append(errs, fmt.Errorf("unmount %s: %w", target, lerr))
			}
		}
		cancel()
	}
	s.mounted = nil
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.log.Debug().Str("root", s.root).Msg("left chroot scope")
	return nil
}

// Root returns the scope's target root path.
func (s *Scope) Root() string { return s.root }

// StaleMounts lists mount points under root left behind by an earlier
// interrupted run. A new run detects and reports them instead of
// silently stacking fresh mounts on top.
func StaleMounts(root string) ([]string, error) {
	f, err := os.Open(mountinfoPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	root = filepath.Clean(root)
	var stale []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 {
			continue
		}
		mp := fields[4]
		if mp == root || strings.HasPrefix(mp, root+"/") {
			stale = append(stale, mp)
		}
	}
	return stale, sc.Err()
}
