package installer

import (
	"errors"
	"fmt"
)

// Stage identifies the pipeline stage a failure is attributed to.
type Stage string

const (
	StagePrereq    Stage = "prereq"
	StageSelect    Stage = "disk-select"
	StagePool      Stage = "pool-create"
	StageDatasets  Stage = "dataset-create"
	StageDeploy    Stage = "image-deploy"
	StageConfigure Stage = "target-configure"
	StageFinalize  Stage = "finalize"
)

// State is the installation progress marker. Transitions are strictly
// linear; any state short of Complete can move to Failed.
type State int

const (
	StateNotStarted State = iota
	StateDisksValidated
	StatePoolCreated
	StateDatasetsCreated
	StateImageDeployed
	StateConfigured
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateDisksValidated:
		return "disks-validated"
	case StatePoolCreated:
		return "pool-created"
	case StateDatasetsCreated:
		return "datasets-created"
	case StateImageDeployed:
		return "image-deployed"
	case StateConfigured:
		return "configured"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var ErrBadTransition = errors.New("illegal state transition")

// machine tracks progress through the pipeline. It rejects skipped and
// reordered transitions so a bug in the orchestrator surfaces as a
// loud error instead of a device half-provisioned out of order.
type machine struct {
	state       State
	failedStage Stage
	err         error
}

func (m *machine) advance(next State) error {
	if m.state == StateFailed || m.state == StateComplete {
		return fmt.Errorf("%w: %s is terminal", ErrBadTransition, m.state)
	}
	if next != m.state+1 || next == StateFailed {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, m.state, next)
	}
	m.state = next
	return nil
}

func (m *machine) fail(stage Stage, err error) {
	if m.state == StateComplete {
		return
	}
	m.state = StateFailed
	m.failedStage = stage
	m.err = err
}
