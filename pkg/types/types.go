package types

import (
	"time"
)

// User is an account that owns reservations.
type User struct {
	ID                  int64
	Email               string // Unique natural key
	PasswordHash        string
	Salt                string
	LoginToken          string
	LoginTokenCreatedAt time.Time
	RoleIDs             []int64 // Roles the user holds (many-to-many)
	CreatedAt           time.Time
}

// Role groups users and carries the policy attached to them: hardware
// caps, reservation limits and mount definitions. Two names are
// well-known: "admin" and "everyone".
type Role struct {
	ID               int64
	Name             string // Unique
	Mounts           []RoleMount
	HardwareLimits   []RoleHardwareLimit
	ReservationLimit *RoleReservationLimit
	CreatedAt        time.Time
}

const (
	// RoleAdmin bypasses most policy caps.
	RoleAdmin = "admin"

	// RoleEveryone is implicitly held by every user.
	RoleEveryone = "everyone"
)

// RoleMount is a host directory mounted into containers launched for
// members of the role. Paths may contain {email} and {userid}
// placeholders substituted at launch time.
type RoleMount struct {
	ComputerID    int64
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// RoleHardwareLimit raises the per-user cap of one hardware spec for
// members of the role. A nil amount means "use the spec default".
type RoleHardwareLimit struct {
	HardwareSpecID       int64
	MaximumAmountForRole *int64
}

// RoleReservationLimit overrides reservation duration and count limits
// for members of the role. Nil fields fall back to defaults.
type RoleReservationLimit struct {
	MinDurationHours      *int
	MaxDurationHours      *int
	MaxActiveReservations *int
}

// Computer is a machine that hosts reservation containers.
type Computer struct {
	ID        int64
	Name      string // Unique, matches the agent's configured server name
	IP        string
	Public    bool
	Removed   bool
	CreatedAt time.Time
}

// HardwareSpec describes one resource dimension of a computer.
type HardwareSpec struct {
	ID                   int64
	ComputerID           int64
	Type                 HardwareType
	MaximumAmount        int64
	MinimumAmount        int64
	MaximumAmountForUser int64
	DefaultAmountForUser int64
	Format               string // Unit label shown to users, e.g. "GB"
	InternalID           string // GPU device index for type "gpu"
	CreatedAt            time.Time
}

// HardwareType is the resource dimension of a hardware spec. Each
// computer carries exactly one "cpus", one "ram" and one "gpus"
// aggregate row, plus zero or more per-device "gpu" rows.
type HardwareType string

const (
	HardwareTypeCPUs HardwareType = "cpus"
	HardwareTypeRAM  HardwareType = "ram"
	HardwareTypeGPUs HardwareType = "gpus" // Aggregate GPU count, display and role limits only
	HardwareTypeGPU  HardwareType = "gpu"  // A single GPU device, the allocatable unit
)

// ContainerImage is a reservable image template.
type ContainerImage struct {
	ID          int64
	ImageName   string // Unique registry path without the registry host
	Name        string
	Description string
	Public      bool
	Removed     bool
	Ports       []ImagePort
	CreatedAt   time.Time
}

// ImagePort is a service port the image exposes inside the container.
type ImagePort struct {
	ID          int64
	ServiceName string // e.g. "SSH"
	Port        int
}

// Reservation is a user's time-bounded claim on hardware amounts of one
// computer, realized as a Docker container while started.
type Reservation struct {
	ID            int64
	UserID        int64
	ComputerID    int64
	StartDate     time.Time // UTC
	EndDate       time.Time // UTC, always after StartDate
	Description   string
	Status        ReservationStatus
	HardwareSpecs []ReservedHardwareSpec
	Container     ReservedContainer
	CreatedAt     time.Time
}

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	// StatusReserved is the admitted-but-not-started state.
	StatusReserved ReservationStatus = "reserved"

	// StatusStarted means the container is (supposed to be) running.
	StatusStarted ReservationStatus = "started"

	// StatusStopped is terminal: the interval ended or was cancelled.
	StatusStopped ReservationStatus = "stopped"

	// StatusError is terminal: the container failed to launch.
	StatusError ReservationStatus = "error"

	// StatusRestart asks the reconciler to restart the container; it
	// resolves back to started.
	StatusRestart ReservationStatus = "restart"
)

// Active reports whether the reservation still holds its hardware.
func (s ReservationStatus) Active() bool {
	return s == StatusReserved || s == StatusStarted
}

// ReservedHardwareSpec is one reserved amount of one hardware spec.
// Amounts are always positive; zero requests are elided at write time.
type ReservedHardwareSpec struct {
	HardwareSpecID int64
	Amount         int64
}

// ReservedContainer is the container instance realizing a reservation.
type ReservedContainer struct {
	ImageID        int64
	DockerName     string // Globally unique, "reservation-{id}-{image}-{stamp}"
	SSHPassword    string
	StartedAt      time.Time
	StoppedAt      time.Time
	Status         string // Last observed Docker state
	ErrorMessage   string // Launch failure text, set with status "error"
	ShmSizePercent int    // Share of reserved RAM given to /dev/shm
	RAMDiskPercent int    // Share of reserved RAM mounted as tmpfs, 0 disables
	Ports          []ReservedPort
}

// ReservedPort binds one image port to a host port. Rows exist only
// while the reservation is started; they are written on launch success.
type ReservedPort struct {
	ImagePortID int64
	ServiceName string
	InsidePort  int
	OutsidePort int
}

// AccessListEntry is a whitelist or blacklist row keyed by email.
type AccessListEntry struct {
	Email     string
	CreatedAt time.Time
}

// Event is a reservation lifecycle event published on the broker.
type Event struct {
	ID            string
	Type          string
	Timestamp     time.Time
	ReservationID int64
	ComputerID    int64
	UserID        int64
	Message       string
	Data          map[string]string
}
