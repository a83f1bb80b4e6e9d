package zfs

import (
	"time"

	"github.com/google/uuid"
)

// StepKind identifies one class of committed physical side effect.
type StepKind string

const (
	StepPartition StepKind = "partition" // GPT label written on a device
	StepFormatEFI StepKind = "format-efi"
	StepPool      StepKind = "pool"
	StepDataset   StepKind = "dataset"
	StepSwap      StepKind = "swap"
)

// TxStep records one committed side effect. Target is the device path,
// pool name, or full dataset name the step touched.
type TxStep struct {
	Kind   StepKind
	Target string
	At     time.Time
}

// Tx is the commit log for one builder operation. Rollback walks it in
// reverse so teardown is exact rather than best-effort guessing.
type Tx struct {
	ID        string
	StartedAt time.Time
	Steps     []TxStep
}

func NewTx() *Tx {
	return &Tx{ID: uuid.NewString(), StartedAt: time.Now()}
}

func (t *Tx) Commit(kind StepKind, target string) {
	t.Steps = append(t.Steps, TxStep{Kind: kind, Target: target, At: time.Now()})
}

// Committed returns the targets of all committed steps of one kind, in
// commit order.
func (t *Tx) Committed(kind StepKind) []string {
	var out []string
	for _, s := range t.Steps {
		if s.Kind == kind {
			out = append(out, s.Target)
		}
	}
	return out
}
