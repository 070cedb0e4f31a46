package runtime

import (
	"context"
	"time"
)

// Bind mounts one host directory into the container.
type Bind struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// PortBinding publishes one container port on the host.
type PortBinding struct {
	InsidePort  int
	OutsidePort int
}

// ContainerSpec is everything needed to run one reservation container.
type ContainerSpec struct {
	Name         string
	Image        string
	Env          []string
	MemoryBytes  int64
	ShmSizeBytes int64
	NanoCPUs     int64
	GPUDeviceIDs []string // CUDA device indexes, empty means no GPU flag
	Binds        []Bind
	Ports        []PortBinding
	// TmpfsPath mounts a RAM disk of TmpfsSizeBytes when both are set.
	TmpfsPath      string
	TmpfsSizeBytes int64
}

// ContainerState is the observed Docker state of one container.
type ContainerState struct {
	Status    string // "running", "exited", ...
	Running   bool
	ExitCode  int
	StartedAt time.Time
}

// RunningContainer is one entry of a running-container listing.
type RunningContainer struct {
	ID        string
	Name      string
	StartedAt time.Time
}

// Engine is the capability surface the reconciler drives containers
// through. Implementations must be safe for concurrent use; callers
// bound every call with a context deadline.
type Engine interface {
	// Run pulls the image, creates the container and starts it,
	// returning the container ID.
	Run(ctx context.Context, spec ContainerSpec) (string, error)

	// Stop stops the named container.
	Stop(ctx context.Context, name string) error

	// Remove removes the named container.
	Remove(ctx context.Context, name string) error

	// Restart restarts the named container.
	Restart(ctx context.Context, name string) error

	// Inspect returns the observed state of the named container.
	Inspect(ctx context.Context, name string) (*ContainerState, error)

	// ListRunning lists running containers whose names begin with
	// the prefix.
	ListRunning(ctx context.Context, namePrefix string) ([]RunningContainer, error)

	// SetPassword sets the password of a user inside the container.
	SetPassword(ctx context.Context, name, user, password string) error

	// Ping verifies the engine is reachable.
	Ping(ctx context.Context) error

	// Close releases the engine's resources.
	Close() error
}
