package installer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tkirkland/NeonInstall/internal/chrootenv"
	"github.com/tkirkland/NeonInstall/internal/configure"
	"github.com/tkirkland/NeonInstall/internal/deploy"
	"github.com/tkirkland/NeonInstall/internal/disks"
	"github.com/tkirkland/NeonInstall/internal/errdefs"
	"github.com/tkirkland/NeonInstall/internal/zfs"
)

// PoolBuilder is the pool stage contract; satisfied by zfs.Builder.
type PoolBuilder interface {
	CreatePool(ctx context.Context, req zfs.CreateRequest) (*zfs.Pool, error)
	CreateDatasets(ctx context.Context, pool *zfs.Pool, tree []zfs.DatasetSpec) error
	Destroy(ctx context.Context, pool *zfs.Pool) error
	Export(ctx context.Context, pool *zfs.Pool) error
}

// ImageDeployer is the deployment stage contract; satisfied by
// deploy.Deployer.
type ImageDeployer interface {
	Deploy(ctx context.Context, rootMount, imageSource string) (deploy.DeployedRoot, error)
	CleanStaging() error
}

// TargetConfigurator is the configuration stage contract; satisfied by
// configure.Configurator.
type TargetConfigurator interface {
	Configure(ctx context.Context, root string, p configure.Params) error
}

// Outcome is the full result of a run: where it ended, what failed, and
// how cleanup went. Cleanup failures are reported alongside the primary
// error, never folded into it.
type Outcome struct {
	State         State
	FailedStage   Stage
	Err           error
	CleanupErrors []error
}

func (o Outcome) ExitCode() int {
	if o.Err == nil {
		return 0
	}
	return errdefs.ExitCode(o.Err)
}

type Orchestrator struct {
	log          zerolog.Logger
	builder      PoolBuilder
	deployer     ImageDeployer
	configurator TargetConfigurator
	discover     func(ctx context.Context) ([]disks.BlockDevice, error)

	// seam for the stale-mount pre-check
	staleMounts func(root string) ([]string, error)

	// OnStage, when set, is called as each stage begins; the CLI uses
	// it to drive operator-facing progress.
	OnStage func(Stage)
}

func (o *Orchestrator) notify(s Stage) {
	if o.OnStage != nil {
		o.OnStage(s)
	}
}

func NewOrchestrator(log zerolog.Logger, b PoolBuilder, d ImageDeployer, c TargetConfigurator,
	discover func(ctx context.Context) ([]disks.BlockDevice, error)) *Orchestrator {
	return &Orchestrator{
		log:          log.With().Str("component", "orchestrator").Logger(),
		builder:      b,
		deployer:     d,
		configurator: c,
		discover:     discover,
		staleMounts:  chrootenv.StaleMounts,
	}
}

type cleanupStep struct {
	name        string
	destructive bool
	fn          func(context.Context) error
	// gentle replaces fn when the deployed root is kept for inspection
	gentle func(context.Context) error
}

// Run executes the pipeline in strict order with no retries. Each
// succeeded destructive stage pushes a cleanup step; on failure the
// stack is popped in reverse so teardown mirrors construction.
// Cancellation is honored at stage boundaries only: a stage in flight
// runs to completion so devices are never abandoned mid-write.
func (o *Orchestrator) Run(ctx context.Context, plan InstallationPlan) Outcome {
	m := &machine{}
	var cleanups []cleanupStep

	// Stages run on a context that survives cancellation; the boundary
	// checks below are the only points that observe it.
	stageCtx := context.WithoutCancel(ctx)

	fail := func(stage Stage, err error) Outcome {
		m.fail(stage, err)
		o.log.Error().Str("stage", string(stage)).Err(err).Msg("stage failed")
		return Outcome{
			State:         m.state,
			FailedStage:   stage,
			Err:           err,
			CleanupErrors: o.unwind(stageCtx, cleanups, errdefs.ClassOf(err)),
		}
	}
	boundary := func(next Stage) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("aborted before %s: %w", next, err)
		}
		return nil
	}

	if err := plan.Validate(); err != nil {
		return fail(StageSelect, err)
	}
	if stale, err := o.staleMounts(plan.AltRoot); err == nil && len(stale) > 0 {
		return fail(StagePrereq, errdefs.WithHint(errdefs.ClassPrerequisite, string(StagePrereq),
			fmt.Errorf("stale mounts under %s from an earlier run: %v", plan.AltRoot, stale),
			"unmount them and export any leftover pool before retrying"))
	}

	// Disk selection: re-validate the chosen devices against the live
	// system immediately before anything destructive.
	o.notify(StageSelect)
	discovered, err := o.discover(stageCtx)
	if err != nil {
		return fail(StageSelect, errdefs.Validation(err))
	}
	selected, err := disks.Select(discovered, plan.Devices, plan.Topology,
		disks.SelectOptions{WipeExisting: plan.WipeExisting})
	if err != nil {
		return fail(StageSelect, errdefs.Validation(err))
	}
	if err := m.advance(StateDisksValidated); err != nil {
		return fail(StageSelect, err)
	}
	o.log.Info().Int("devices", len(selected)).Stringer("topology", plan.Topology).Msg("disks validated")

	if err := boundary(StagePool); err != nil {
		return fail(StagePool, errdefs.Validation(err))
	}
	o.notify(StagePool)
	pool, err := o.builder.CreatePool(stageCtx, zfs.CreateRequest{
		Name:     plan.PoolName,
		Topology: plan.Topology,
		Devices:  plan.Devices,
		AltRoot:  plan.AltRoot,
	})
	if err != nil {
		if errors.Is(err, zfs.ErrPoolExists) || errors.Is(err, zfs.ErrInvalidTopology) {
			return fail(StagePool, errdefs.Validation(err))
		}
		return fail(StagePool, errdefs.Destructive(string(StagePool), err))
	}
	cleanups = append(cleanups, cleanupStep{
		name:        "destroy pool and clear device labels",
		destructive: true,
		fn:          func(c context.Context) error { return o.builder.Destroy(c, pool) },
		gentle:      func(c context.Context) error { return o.builder.Export(c, pool) },
	})
	if err := m.advance(StatePoolCreated); err != nil {
		return fail(StagePool, err)
	}

	if err := boundary(StageDatasets); err != nil {
		return fail(StageDatasets, errdefs.Destructive(string(StageDatasets), err))
	}
	o.notify(StageDatasets)
	if err := o.builder.CreateDatasets(stageCtx, pool, plan.Datasets); err != nil {
		return fail(StageDatasets, errdefs.Destructive(string(StageDatasets), err))
	}
	if err := m.advance(StateDatasetsCreated); err != nil {
		return fail(StageDatasets, err)
	}

	if err := boundary(StageDeploy); err != nil {
		return fail(StageDeploy, errdefs.Destructive(string(StageDeploy), err))
	}
	o.notify(StageDeploy)
	if _, err := o.deployer.Deploy(stageCtx, plan.AltRoot, plan.Image); err != nil {
		cleanups = append(cleanups, cleanupStep{
			name: "wipe staging area",
			fn:   func(context.Context) error { return o.deployer.CleanStaging() },
		})
		return fail(StageDeploy, errdefs.Deployment(string(StageDeploy), err))
	}
	cleanups = append(cleanups, cleanupStep{
		name: "wipe staging area",
		fn:   func(context.Context) error { return o.deployer.CleanStaging() },
	})
	if err := m.advance(StateImageDeployed); err != nil {
		return fail(StageDeploy, err)
	}

	if err := boundary(StageConfigure); err != nil {
		return fail(StageConfigure, errdefs.Destructive(string(StageConfigure), err))
	}
	o.notify(StageConfigure)
	if err := o.configurator.Configure(stageCtx, plan.AltRoot, configure.Params{
		PoolName:         plan.PoolName,
		EFIPartition:     pool.EFIPartition,
		Hostname:         plan.Hostname,
		Timezone:         plan.Timezone,
		Locale:           plan.Locale,
		Username:         plan.Username,
		UserShell:        plan.UserShell,
		AuthorizedKey:    plan.AuthorizedKey,
		SnapshotSchedule: plan.SnapshotSchedule,
		TrimSchedule:     plan.TrimSchedule,
	}); err != nil {
		return fail(StageConfigure, errdefs.Configuration(string(StageConfigure), err))
	}
	if err := m.advance(StateConfigured); err != nil {
		return fail(StageConfigure, err)
	}

	o.notify(StageFinalize)
	if err := o.deployer.CleanStaging(); err != nil {
		o.log.Warn().Err(err).Msg("staging cleanup failed after successful install")
	}
	if err := o.builder.Export(stageCtx, pool); err != nil {
		// The install itself succeeded; a stuck export must not tear
		// down the finished system. Report it and leave the pool as is.
		exportErr := errdefs.WithHint(errdefs.ClassCleanup, string(StageFinalize), err,
			"the installed pool is intact; export it manually before rebooting")
		m.fail(StageFinalize, exportErr)
		o.log.Error().Err(err).Msg("pool export failed, leaving installed pool imported")
		return Outcome{State: m.state, FailedStage: StageFinalize, Err: exportErr}
	}
	if err := m.advance(StateComplete); err != nil {
		return fail(StageFinalize, err)
	}
	o.log.Info().Str("pool", plan.PoolName).Msg("installation complete")
	return Outcome{State: StateComplete}
}

// unwind pops the cleanup stack in reverse. A configuration-class
// failure downgrades destructive steps to their gentle variant: the
// image is already deployed, so the root dataset is left intact for
// inspection and the pool is exported instead of destroyed.
func (o *Orchestrator) unwind(ctx context.Context, cleanups []cleanupStep, class errdefs.Class) []error {
	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		step := cleanups[i]
		fn := step.fn
		if class == errdefs.ClassConfiguration && step.destructive && step.gentle != nil {
			o.log.Info().Str("cleanup", step.name).Msg("deployed root kept for inspection, exporting instead")
			fn = step.gentle
		} else {
			o.log.Info().Str("cleanup", step.name).Msg("rolling back")
		}
		if err := fn(ctx); err != nil {
			errs = append(errs, errdefs.Cleanup(step.name, err))
		}
	}
	return errs
}
