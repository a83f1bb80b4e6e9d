package zfs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tkirkland/NeonInstall/pkg/shell"
)

var ErrPoolExists = errors.New("pool already exists")

// Builder turns a confirmed device set into a pool and dataset tree.
// Every physical side effect is committed to a Tx so failures roll back
// exactly what was created.
type Builder struct {
	run shell.Runner
	log zerolog.Logger

	// seams for tests
	memTotal func() (uint64, error)
	settle   func()
}

func NewBuilder(r shell.Runner, log zerolog.Logger) *Builder {
	return &Builder{
		run: r,
		log: log.With().Str("component", "zfs").Logger(),
		memTotal: func() (uint64, error) {
			vm, err := mem.VirtualMemory()
			if err != nil {
				return 0, err
			}
			return vm.Total, nil
		},
		settle: func() { time.Sleep(2 * time.Second) },
	}
}

// CreateRequest describes the pool to build. Devices are whole-disk
// paths; the builder derives partition paths itself.
type CreateRequest struct {
	Name     string
	Topology Topology
	Devices  []string
	AltRoot  string
}

// Pool is the handle later stages consume.
type Pool struct {
	Name           string
	Devices        []string
	DataPartitions []string
	EFIPartition   string
	AltRoot        string
	Tx             *Tx
}

// Exists reports whether a pool of this name is already imported.
// Re-running without a rollback must fail fast rather than touch it.
func (b *Builder) Exists(ctx context.Context, name string) (bool, error) {
	res, err := b.run.Run(ctx, 15*time.Second, "zpool", "list", "-H", "-o", "name")
	if err != nil {
		return false, fmt.Errorf("zpool list: %w", err)
	}
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		if strings.TrimSpace(line) == name {
			return true, nil
		}
	}
	return false, nil
}

// CreatePool destroys the partition tables of the selected devices,
// writes the GPT layout (1 GiB EFI + remainder ZFS) and assembles the
// pool. Destructive from the first wipefs onward; the caller gates it
// behind explicit operator confirmation. Any failure after the first
// label write rolls the committed steps back before returning.
func (b *Builder) CreatePool(ctx context.Context, req CreateRequest) (*Pool, error) {
	if err := req.Topology.Validate(len(req.Devices)); err != nil {
		return nil, err
	}
	exists, err := b.Exists(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrPoolExists, req.Name)
	}

	tx := NewTx()
	pool := &Pool{Name: req.Name, Devices: req.Devices, AltRoot: req.AltRoot, Tx: tx}
	b.log.Info().Str("tx", tx.ID).Str("pool", req.Name).Strs("devices", req.Devices).Msg("creating pool")

	for _, dev := range req.Devices {
		if err := b.partitionDevice(ctx, tx, dev); err != nil {
			return nil, b.failAndRollback(ctx, tx, fmt.Errorf("partition %s: %w", dev, err))
		}
		pool.DataPartitions = append(pool.DataPartitions, partitionPath(dev, 2))
	}
	b.settle()

	pool.EFIPartition = partitionPath(req.Devices[0], 1)
	if _, err := b.run.Run(ctx, 2*time.Minute, "mkfs.fat", "-F32", "-n", "EFI", pool.EFIPartition); err != nil {
		return nil, b.failAndRollback(ctx, tx, fmt.Errorf("format EFI partition: %w", err))
	}
	tx.Commit(StepFormatEFI, pool.EFIPartition)

	args := []string{"create", "-f",
		"-o", "ashift=12",
		"-o", "autotrim=on",
		"-O", "compression=zstd",
		"-O", "xattr=sa",
		"-O", "acltype=posixacl",
		"-O", "dnodesize=auto",
		"-O", "atime=off",
		"-O", "normalization=formD",
		"-O", "canmount=off",
		"-O", "mountpoint=none",
	}
	if req.AltRoot != "" {
		args = append(args, "-R", req.AltRoot)
	}
	args = append(args, req.Name)
	if kw := req.Topology.vdevKeyword(); kw != "" {
		args = append(args, kw)
	}
	args = append(args, pool.DataPartitions...)
	if _, err := b.run.Run(ctx, 2*time.Minute, "zpool", args...); err != nil {
		return nil, b.failAndRollback(ctx, tx, fmt.Errorf("zpool create: %w", err))
	}
	tx.Commit(StepPool, req.Name)

	b.log.Info().Str("pool", req.Name).Str("efi", pool.EFIPartition).Msg("pool created")
	return pool, nil
}

// CreateDatasets creates the dataset tree in parent-before-child order
// plus the RAM/4 swap volume. A failure destroys the datasets created by
// this call, in reverse; the pool itself is the caller's to tear down.
func (b *Builder) CreateDatasets(ctx context.Context, pool *Pool, tree []DatasetSpec) error {
	if err := ValidateTree(tree); err != nil {
		return err
	}
	tx := NewTx()
	for _, ds := range tree {
		full := pool.Name + "/" + strings.Trim(ds.Name, "/")
		if _, err := b.run.Run(ctx, time.Minute, "zfs", ds.creationArgs(pool.Name)...); err != nil {
			return b.failDatasets(ctx, tx, fmt.Errorf("create dataset %s: %w", full, err))
		}
		tx.Commit(StepDataset, full)
	}
	if err := b.createSwap(ctx, tx, pool); err != nil {
		return b.failDatasets(ctx, tx, err)
	}
	pool.Tx.Steps = append(pool.Tx.Steps, tx.Steps...)
	return nil
}

func (b *Builder) createSwap(ctx context.Context, tx *Tx, pool *Pool) error {
	total, err := b.memTotal()
	if err != nil {
		return fmt.Errorf("detect physical memory: %w", err)
	}
	swapMiB := total / 4 / (1 << 20)
	if swapMiB == 0 {
		swapMiB = 1
	}
	name := pool.Name + "/swap"
	if _, err := b.run.Run(ctx, time.Minute, "zfs", "create",
		"-V", fmt.Sprintf("%dM", swapMiB),
		"-o", "compression=off",
		"-o", "primarycache=metadata",
		"-o", "logbias=throughput",
		"-o", "com.sun:auto-snapshot=false",
		name); err != nil {
		return fmt.Errorf("create swap volume: %w", err)
	}
	tx.Commit(StepSwap, name)
	b.settle()
	if _, err := b.run.Run(ctx, time.Minute, "mkswap", "/dev/zvol/"+name); err != nil {
		return fmt.Errorf("mkswap: %w", err)
	}
	b.log.Info().Uint64("swap_mib", swapMiB).Msg("swap volume created")
	return nil
}

func (b *Builder) partitionDevice(ctx context.Context, tx *Tx, dev string) error {
	if _, err := b.run.Run(ctx, time.Minute, "wipefs", "--all", dev); err != nil {
		return err
	}
	if _, err := b.run.Run(ctx, time.Minute, "sgdisk", "--zap-all", dev); err != nil {
		return err
	}
	// Label written; from here the device must appear in the commit log.
	tx.Commit(StepPartition, dev)
	if _, err := b.run.Run(ctx, time.Minute, "sgdisk", "--new=1:0:+1024M", "--typecode=1:EF00", "--change-name=1:EFI", dev); err != nil {
		return err
	}
	if _, err := b.run.Run(ctx, time.Minute, "sgdisk", "--new=2:0:0", "--typecode=2:BF01", "--change-name=2:ZFS", dev); err != nil {
		return err
	}
	if _, err := b.run.Run(ctx, 30*time.Second, "partprobe", dev); err != nil {
		if _, err2 := b.run.Run(ctx, 30*time.Second, "blockdev", "--rereadpt", dev); err2 != nil {
			b.log.Warn().Str("device", dev).Msg("kernel did not reread partition table")
		}
	}
	return nil
}

func (b *Builder) failAndRollback(ctx context.Context, tx *Tx, cause error) error {
	b.log.Error().Err(cause).Str("tx", tx.ID).Msg("pool creation failed, rolling back")
	if rbErr := b.rollbackTx(ctx, tx); rbErr != nil {
		return fmt.Errorf("%w (rollback incomplete: %v)", cause, rbErr)
	}
	return cause
}

func (b *Builder) failDatasets(ctx context.Context, tx *Tx, cause error) error {
	b.log.Error().Err(cause).Str("tx", tx.ID).Msg("dataset creation failed, rolling back datasets")
	if rbErr := b.rollbackTx(ctx, tx); rbErr != nil {
		return fmt.Errorf("%w (rollback incomplete: %v)", cause, rbErr)
	}
	return cause
}

func (b *Builder) rollbackTx(ctx context.Context, tx *Tx) error {
	var errs []error
	for i := len(tx.Steps) - 1; i >= 0; i-- {
		step := tx.Steps[i]
		switch step.Kind {
		case StepSwap, StepDataset:
			if _, err := b.run.Run(ctx, time.Minute, "zfs", "destroy", "-r", step.Target); err != nil {
				errs = append(errs, fmt.Errorf("destroy %s: %w", step.Target, err))
			}
		case StepPool:
			if _, err := b.run.Run(ctx, 2*time.Minute, "zpool", "destroy", "-f", step.Target); err != nil {
				errs = append(errs, fmt.Errorf("destroy pool %s: %w", step.Target, err))
			}
		case StepPartition:
			if _, err := b.run.Run(ctx, time.Minute, "sgdisk", "--zap-all", step.Target); err != nil {
				errs = append(errs, fmt.Errorf("zap %s: %w", step.Target, err))
			}
			if _, err := b.run.Run(ctx, time.Minute, "wipefs", "--all", step.Target); err != nil {
				errs = append(errs, fmt.Errorf("wipe %s: %w", step.Target, err))
			}
		case StepFormatEFI:
			// removed with the partition label
		}
	}
	return errors.Join(errs...)
}

// Destroy tears down a fully or partially built pool and clears the
// device labels, leaving the devices reporting unused on re-discovery.
func (b *Builder) Destroy(ctx context.Context, pool *Pool) error {
	var errs []error
	if _, err := b.run.Run(ctx, 2*time.Minute, "zpool", "destroy", "-f", pool.Name); err != nil {
		errs = append(errs, fmt.Errorf("destroy pool %s: %w", pool.Name, err))
	}
	for _, dev := range pool.Devices {
		if _, err := b.run.Run(ctx, time.Minute, "sgdisk", "--zap-all", dev); err != nil {
			errs = append(errs, fmt.Errorf("zap %s: %w", dev, err))
		}
		if _, err := b.run.Run(ctx, time.Minute, "wipefs", "--all", dev); err != nil {
			errs = append(errs, fmt.Errorf("wipe %s: %w", dev, err))
		}
	}
	return errors.Join(errs...)
}

// Export releases the pool so the installed system can import it on
// first boot.
func (b *Builder) Export(ctx context.Context, pool *Pool) error {
	if _, err := b.run.Run(ctx, 2*time.Minute, "zpool", "export", pool.Name); err != nil {
		return fmt.Errorf("export pool %s: %w", pool.Name, err)
	}
	return nil
}

// partitionPath derives the nth partition path for a whole-disk device.
// NVMe and MMC devices insert a "p" separator.
func partitionPath(dev string, n int) string {
	if strings.HasPrefix(dev, "/dev/nvme") || strings.HasPrefix(dev, "/dev/mmcblk") {
		return fmt.Sprintf("%sp%d", dev, n)
	}
	return fmt.Sprintf("%s%d", dev, n)
}
