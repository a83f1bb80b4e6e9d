package configure

import (
	"context"
	"fmt"
	"time"

	"github.com/tkirkland/NeonInstall/internal/chrootenv"
)

// sshdConfig is the hardened server policy: key-only access, no root
// login, no X11 forwarding.
const sshdConfig = `# Installed by neon-install. See sshd_config(5).

PermitRootLogin no
PasswordAuthentication no
PermitEmptyPasswords no
X11Forwarding no

PubkeyAuthentication yes
AuthorizedKeysFile .ssh/authorized_keys

Subsystem sftp /usr/lib/openssh/sftp-server
`

func (c *Configurator) configureSSH(ctx context.Context, scope *chrootenv.Scope, root string) error {
	if err := writeTargetFile(root, "etc/ssh/sshd_config", sshdConfig, 0o644); err != nil {
		return fmt.Errorf("write sshd_config: %w", err)
	}
	if _, err := scope.Run(ctx, time.Minute, "systemctl", "enable", "ssh"); err != nil {
		return fmt.Errorf("enable ssh: %w", err)
	}
	return nil
}
