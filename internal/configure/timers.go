package configure

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tkirkland/NeonInstall/internal/chrootenv"
)

var ErrUnsupportedSchedule = errors.New("schedule cannot be expressed as a systemd calendar event")

// onCalendar validates a cron-style schedule and renders the systemd
// OnCalendar equivalent. Supported shapes: the @hourly/@daily/@weekly/
// @monthly presets, "M H * * *" (daily at a time) and "M H * * DOW"
// (weekly at a time).
func onCalendar(expr string) (string, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", fmt.Errorf("%w: empty schedule", ErrUnsupportedSchedule)
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return "", fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	switch expr {
	case "@hourly":
		return "hourly", nil
	case "@daily", "@midnight":
		return "daily", nil
	case "@weekly":
		return "weekly", nil
	case "@monthly":
		return "monthly", nil
	}
	if strings.HasPrefix(expr, "@") {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSchedule, expr)
	}
	fields := strings.Fields(expr)
	if len(fields) != 5 || fields[2] != "*" || fields[3] != "*" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSchedule, expr)
	}
	minute, err1 := strconv.Atoi(fields[0])
	hour, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSchedule, expr)
	}
	if fields[4] == "*" {
		return fmt.Sprintf("*-*-* %02d:%02d:00", hour, minute), nil
	}
	day, ok := weekday(fields[4])
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSchedule, expr)
	}
	return fmt.Sprintf("%s *-*-* %02d:%02d:00", day, hour, minute), nil
}

func weekday(s string) (string, bool) {
	names := []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}
	if n, err := strconv.Atoi(s); err == nil {
		if n == 7 {
			n = 0
		}
		if n >= 0 && n < 7 {
			return names[n], true
		}
		return "", false
	}
	for _, n := range names {
		if strings.EqualFold(s, n) {
			return n, true
		}
	}
	return "", false
}

// writeMaintenanceTimers installs the periodic snapshot and TRIM units
// and enables their timers.
func (c *Configurator) writeMaintenanceTimers(ctx context.Context, scope *chrootenv.Scope, root string, p Params, snapCal, trimCal string) error {
	snapshotService := fmt.Sprintf(`[Unit]
Description=Periodic ZFS snapshot of %[1]s/ROOT
Requires=zfs.target

[Service]
Type=oneshot
ExecStart=/bin/sh -c '/usr/sbin/zfs snapshot -r %[1]s/ROOT@auto-$$(date +%%%%Y%%%%m%%%%d-%%%%H%%%%M)'
ExecStart=/bin/sh -c 'for snap in $$(/usr/sbin/zfs list -H -t snapshot -o name | grep "@auto-" | sort | head -n -8); do /usr/sbin/zfs destroy "$$snap"; done'
`, p.PoolName)
	snapshotTimer := fmt.Sprintf(`[Unit]
Description=Periodic ZFS snapshot timer

[Timer]
OnCalendar=%s
Persistent=true

[Install]
WantedBy=timers.target
`, snapCal)
	trimService := fmt.Sprintf(`[Unit]
Description=Periodic TRIM of pool %[1]s
Requires=zfs.target

[Service]
Type=oneshot
ExecStart=/usr/sbin/zpool trim %[1]s
`, p.PoolName)
	trimTimer := fmt.Sprintf(`[Unit]
Description=Periodic ZFS TRIM timer

[Timer]
OnCalendar=%s
Persistent=true

[Install]
WantedBy=timers.target
`, trimCal)

	units := map[string]string{
		"etc/systemd/system/zfs-snapshot.service": snapshotService,
		"etc/systemd/system/zfs-snapshot.timer":   snapshotTimer,
		"etc/systemd/system/zfs-trim.service":     trimService,
		"etc/systemd/system/zfs-trim.timer":       trimTimer,
	}
	for rel, content := range units {
		if err := writeTargetFile(root, rel, content, 0o644); err != nil {
			return err
		}
	}
	for _, timer := range []string{"zfs-snapshot.timer", "zfs-trim.timer"} {
		if _, err := scope.Run(ctx, time.Minute, "systemctl", "enable", timer); err != nil {
			return fmt.Errorf("enable %s: %w", timer, err)
		}
	}
	return nil
}
