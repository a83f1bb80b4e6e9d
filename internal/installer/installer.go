// Package installer drives the whole pipeline: prerequisite check,
// plan construction (interactive or unattended), then the orchestrated
// stage run with reverse-order cleanup on failure.
package installer

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/tkirkland/NeonInstall/internal/config"
	"github.com/tkirkland/NeonInstall/internal/disks"
	"github.com/tkirkland/NeonInstall/internal/errdefs"
	"github.com/tkirkland/NeonInstall/internal/prereq"
	"github.com/tkirkland/NeonInstall/internal/zfs"
)

type Installer struct {
	log          zerolog.Logger
	orchestrator *Orchestrator
	profile      config.Profile
	assumeYes    bool

	// seams
	verify   func(zerolog.Logger) error
	discover func(ctx context.Context) ([]disks.BlockDevice, error)
	prompt   func(InstallationPlan, []disks.BlockDevice) (InstallationPlan, error)
}

func New(log zerolog.Logger, o *Orchestrator, profile config.Profile, assumeYes bool) *Installer {
	return &Installer{
		log:          log,
		orchestrator: o,
		profile:      profile,
		assumeYes:    assumeYes,
		verify:       prereq.Verify,
		discover:     o.discover,
		prompt:       promptPlan,
	}
}

// Run checks prerequisites, freezes the plan and executes it.
func (i *Installer) Run(ctx context.Context) Outcome {
	if err := i.verify(i.log); err != nil {
		return Outcome{State: StateFailed, FailedStage: StagePrereq, Err: err}
	}
	plan, err := i.BuildPlan(ctx)
	if err != nil {
		return Outcome{State: StateFailed, FailedStage: StageSelect, Err: err}
	}
	return i.orchestrator.Run(ctx, plan)
}

// BuildPlan freezes the installation plan. Unattended runs fail closed:
// the profile must name the devices and topology outright, nothing is
// guessed, and a disk carrying data still needs wipeExisting in the
// profile rather than an implied yes.
func (i *Installer) BuildPlan(ctx context.Context) (InstallationPlan, error) {
	plan := planFromProfile(i.profile)

	topo, err := zfs.ParseTopology(i.profile.Topology)
	if err != nil {
		return plan, errdefs.Validation(err)
	}
	plan.Topology = topo

	if i.assumeYes {
		if len(plan.Devices) == 0 {
			return plan, errdefs.WithHint(errdefs.ClassValidation, "",
				errors.New("unattended mode requires explicit target devices"),
				"list the devices in the profile or pass --devices")
		}
		if err := plan.Validate(); err != nil {
			return plan, err
		}
		return plan, nil
	}

	discovered, err := i.discover(ctx)
	if err != nil {
		return plan, errdefs.Validation(err)
	}
	plan, err = i.prompt(plan, discovered)
	if err != nil {
		return plan, errdefs.Validation(err)
	}
	if err := plan.Validate(); err != nil {
		return plan, err
	}
	return plan, nil
}
