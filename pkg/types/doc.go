/*
Package types defines the core data structures used throughout Corral.

This package contains the domain model of the reservation platform:
users and roles, computers and their hardware specs, reservable
container images, and reservations with their reserved hardware, ports
and container instance. All other packages build on these types for
persistence, policy resolution, availability accounting and
reconciliation.

# Core Types

Accounts and policy:
  - User: account holding roles and owning reservations
  - Role: named policy carrier (mounts, hardware limits, reservation limits)
  - RoleMount / RoleHardwareLimit / RoleReservationLimit

Machines and images:
  - Computer: a reservable machine, identified by unique name
  - HardwareSpec: one resource dimension (cpus, ram, gpus aggregate,
    or a per-device gpu row with its CUDA index)
  - ContainerImage: an image template with its exposed ImagePorts

Reservations:
  - Reservation: a time-bounded claim on hardware of one computer
  - ReservedHardwareSpec: one reserved amount (always > 0)
  - ReservedContainer: the Docker instance realizing the reservation
  - ReservedPort: an (inside, outside) port binding while started

# State Machine

Reservation status transitions:

	reserved ──start OK──► started ──endDate passed──► stopped
	   │                     │                            ▲
	   │                     ├──restart requested──► restart
	   │                     │                            │ (restarted)
	   ├──start FAIL──► error└────────────────────────────┘
	   │
	   └──cancelled (endDate set to now) ─► stopped

Terminal states: stopped, error. The restart state is a transient
intent resolved by the node's reconciler.

# Design Notes

All types serialize to JSON for storage. Enumerations are typed string
constants so stored values stay human-readable. Optional policy fields
use pointers: nil means "fall back to the default", which is distinct
from an explicit zero.
*/
package types
