package installer

import (
	"errors"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"

	"github.com/tkirkland/NeonInstall/internal/disks"
	"github.com/tkirkland/NeonInstall/internal/zfs"
)

var ErrCancelled = errors.New("installation cancelled by user")

// seam so the prompt flow is testable without a terminal
var askOne = survey.AskOne

var topologyOptions = []string{"single", "mirror", "raidz1", "raidz2"}

// promptPlan walks the operator through device and topology selection
// and the destructive confirmation, layering the answers over the
// profile-derived plan. The returned plan is final; nothing prompts
// again after this point.
func promptPlan(base InstallationPlan, discovered []disks.BlockDevice) (InstallationPlan, error) {
	plan := base

	if len(discovered) == 0 {
		return plan, errors.New("no candidate disks found")
	}
	options := make([]string, len(discovered))
	byOption := make(map[string]disks.BlockDevice, len(discovered))
	for i, d := range discovered {
		opt := fmt.Sprintf("%s  %s  %s  [%s]", d.Path, humanSize(d.SizeBytes), d.Model, d.State)
		options[i] = opt
		byOption[opt] = d
	}

	var picked []string
	if err := askOne(&survey.MultiSelect{
		Message: "Select target disks (all data on them will be destroyed):",
		Options: options,
	}, &picked, survey.WithValidator(survey.Required)); err != nil {
		return plan, fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	plan.Devices = plan.Devices[:0]
	wipe := false
	for _, opt := range picked {
		d := byOption[opt]
		plan.Devices = append(plan.Devices, d.Path)
		if d.HasSignature() {
			wipe = true
		}
	}

	var topo string
	if err := askOne(&survey.Select{
		Message: "Pool topology:",
		Options: topologyOptions,
		Default: base.Topology.String(),
	}, &topo); err != nil {
		return plan, fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	t, err := zfs.ParseTopology(topo)
	if err != nil {
		return plan, err
	}
	plan.Topology = t
	if err := t.Validate(len(plan.Devices)); err != nil {
		return plan, fmt.Errorf("%w: %s needs at least %d disks, %d selected",
			err, t, t.MinDevices(), len(plan.Devices))
	}

	if wipe {
		confirmWipe := false
		if err := askOne(&survey.Confirm{
			Message: "Some selected disks carry existing filesystems. Wipe them?",
			Default: false,
		}, &confirmWipe); err != nil || !confirmWipe {
			return plan, ErrCancelled
		}
		plan.WipeExisting = true
	}

	color.Red("\nWARNING: ALL DATA on %v will be permanently destroyed.", plan.Devices)
	confirm := false
	if err := askOne(&survey.Confirm{
		Message: "Continue?",
		Default: false,
	}, &confirm); err != nil || !confirm {
		return plan, ErrCancelled
	}
	typed := ""
	if err := askOne(&survey.Input{
		Message: "Type 'DESTROY' to confirm:",
	}, &typed); err != nil || typed != "DESTROY" {
		return plan, ErrCancelled
	}
	return plan, nil
}

func humanSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
