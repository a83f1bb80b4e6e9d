package configure

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/tkirkland/NeonInstall/internal/chrootenv"
)

// DefaultPassword is the fixed initial credential; the account is
// expired immediately so first login forces rotation.
const DefaultPassword = "changeme"

func (c *Configurator) createUser(ctx context.Context, scope *chrootenv.Scope, root string, p Params) error {
	shellPath := p.UserShell
	if shellPath == "" {
		shellPath = "/bin/bash"
	}
	if _, err := scope.Run(ctx, time.Minute, "useradd", "-m", "-s", shellPath, p.Username); err != nil {
		return fmt.Errorf("useradd: %w", err)
	}
	chpasswd := fmt.Sprintf("echo '%s:%s' | chpasswd", shellQuoteSafe(p.Username), DefaultPassword)
	if _, err := scope.Run(ctx, time.Minute, "sh", "-c", chpasswd); err != nil {
		return fmt.Errorf("set initial password: %w", err)
	}
	// Mandatory rotation on first login.
	if _, err := scope.Run(ctx, time.Minute, "chage", "-d", "0", p.Username); err != nil {
		return fmt.Errorf("expire initial password: %w", err)
	}

	sudoers := fmt.Sprintf("%s ALL=(ALL) ALL\n", p.Username)
	if err := writeTargetFile(root, "etc/sudoers.d/"+p.Username, sudoers, 0o440); err != nil {
		return fmt.Errorf("sudoers: %w", err)
	}

	if p.AuthorizedKey != "" {
		sshDir := filepath.Join("home", p.Username, ".ssh")
		if _, err := ensureDir(root, sshDir, 0o700); err != nil {
			return err
		}
		if err := writeTargetFile(root, filepath.Join(sshDir, "authorized_keys"), p.AuthorizedKey+"\n", 0o600); err != nil {
			return err
		}
		if _, err := scope.Run(ctx, time.Minute, "chown", "-R",
			p.Username+":"+p.Username, "/home/"+p.Username+"/.ssh"); err != nil {
			return fmt.Errorf("fix .ssh ownership: %w", err)
		}
	}
	return nil
}
