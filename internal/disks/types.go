package disks

// UsageState classifies what discovery found on a device. Never
// persisted; re-derived on every run.
type UsageState string

const (
	StateUnused      UsageState = "unused"
	StatePartitioned UsageState = "partitioned"
	StateInUsePool   UsageState = "in-use-pool"
)

type Partition struct {
	Path       string
	FSType     string
	Mountpoint string
}

// BlockDevice is one whole-disk candidate for installation.
type BlockDevice struct {
	Path       string
	KName      string
	SizeBytes  int64
	Model      string
	Serial     string
	Transport  string
	Rotational bool
	FSType     string
	Mountpoint string
	Partitions []Partition
	State      UsageState
}

// Busy reports whether the device or any partition is mounted, or is a
// member of an existing pool.
func (d BlockDevice) Busy() bool {
	if d.State == StateInUsePool || d.Mountpoint != "" {
		return true
	}
	for _, p := range d.Partitions {
		if p.Mountpoint != "" {
			return true
		}
	}
	return false
}

// HasSignature reports whether any recognized filesystem signature is
// present; destroying one requires an explicit operator override.
func (d BlockDevice) HasSignature() bool {
	if d.FSType != "" {
		return true
	}
	for _, p := range d.Partitions {
		if p.FSType != "" {
			return true
		}
	}
	return false
}
