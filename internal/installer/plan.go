package installer

import (
	"errors"
	"fmt"

	"github.com/tkirkland/NeonInstall/internal/config"
	"github.com/tkirkland/NeonInstall/internal/errdefs"
	"github.com/tkirkland/NeonInstall/internal/zfs"
)

// InstallationPlan is the frozen snapshot of every choice the install
// executes. It is assembled once, from the profile and the operator's
// confirmed selections, and never mutated afterwards; stages read from
// it, they do not re-derive choices from the live system.
type InstallationPlan struct {
	PoolName string
	Topology zfs.Topology
	Devices  []string
	Datasets []zfs.DatasetSpec

	Image   string
	AltRoot string
	Staging string

	WipeExisting bool

	Hostname string
	Timezone string
	Locale   string

	Username      string
	UserShell     string
	AuthorizedKey string

	SnapshotSchedule string
	TrimSchedule     string
}

// DefaultAltRoot is where the pool mounts during installation;
// DefaultStaging receives the extracted image before the sync.
const (
	DefaultAltRoot = "/mnt/neon"
	DefaultStaging = "/var/tmp/neon-install/staging"
)

// planFromProfile carries the non-interactive parts of the profile into
// a plan. Device and topology selection is layered on top by either the
// prompt flow or the unattended flow.
func planFromProfile(p config.Profile) InstallationPlan {
	return InstallationPlan{
		PoolName:         p.PoolName,
		Devices:          p.Devices,
		Datasets:         p.DatasetTree(),
		Image:            p.Image,
		AltRoot:          DefaultAltRoot,
		Staging:          DefaultStaging,
		Hostname:         p.Hostname,
		Timezone:         p.Timezone,
		Locale:           p.Locale,
		Username:         p.User.Name,
		UserShell:        p.User.Shell,
		AuthorizedKey:    p.User.AuthorizedKey,
		SnapshotSchedule: p.Maintenance.Snapshot,
		TrimSchedule:     p.Maintenance.Trim,
	}
}

// Validate rejects a plan that cannot possibly succeed before any
// device is touched.
func (p InstallationPlan) Validate() error {
	var errs []error
	if p.PoolName == "" {
		errs = append(errs, errors.New("pool name is empty"))
	}
	if len(p.Devices) == 0 {
		errs = append(errs, errors.New("no target devices"))
	}
	if err := p.Topology.Validate(len(p.Devices)); err != nil {
		errs = append(errs, err)
	}
	if p.Image == "" {
		errs = append(errs, errors.New("no image source"))
	}
	if p.Username == "" {
		errs = append(errs, errors.New("no target user"))
	}
	if p.Hostname == "" {
		errs = append(errs, errors.New("no hostname"))
	}
	if err := zfs.ValidateTree(p.Datasets); err != nil {
		errs = append(errs, fmt.Errorf("dataset tree: %w", err))
	}
	if len(errs) > 0 {
		return errdefs.Validation(errors.Join(errs...))
	}
	return nil
}
