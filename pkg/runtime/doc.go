/*
Package runtime provides Docker integration for reservation container
lifecycle management.

The runtime package wraps the Docker Engine API behind the Engine interface,
covering image pulling, container creation with resource limits, lifecycle
operations, and status inspection. The reconciler talks only to the Engine
interface; DockerEngine is the production implementation.

# Architecture

	┌──────────────────── DOCKER RUNTIME ───────────────────────┐
	│                                                             │
	│  ┌──────────────────────────────────────────────┐         │
	│  │            DockerEngine Client                │         │
	│  │  - Docker Engine API via client.NewClientWith│         │
	│  │    Opts(FromEnv, API version negotiation)     │         │
	│  └──────────────────┬───────────────────────────┘         │
	│                     │                                       │
	│  ┌──────────────────▼───────────────────────────┐         │
	│  │           Run: image → container              │         │
	│  │  - Pull the image every time (registry is     │         │
	│  │    the source of truth for tags)              │         │
	│  │  - Port bindings via go-connections/nat       │         │
	│  │  - Create, then Start                         │         │
	│  └──────────────────┬───────────────────────────┘         │
	│                     │                                       │
	│  ┌──────────────────▼───────────────────────────┐         │
	│  │         Resource Management                   │         │
	│  │  - Memory + shm: hard limits in bytes         │         │
	│  │  - CPU: NanoCPUs (1e9 = 1 core)               │         │
	│  │  - GPUs: nvidia DeviceRequests with explicit  │         │
	│  │    device IDs                                 │         │
	│  │  - Tmpfs RAM disk when the spec asks for one  │         │
	│  └──────────────────┬───────────────────────────┘         │
	│                     │                                       │
	│  ┌──────────────────▼───────────────────────────┐         │
	│  │        Lifecycle Operations                   │         │
	│  │  - Stop: graceful with timeout                │         │
	│  │  - Remove: force, volumes included            │         │
	│  │  - Restart: crashed or user-requested         │         │
	│  │  - Inspect: status + running flag + exit code │         │
	│  │  - ListRunning: name-prefix scan for sweeps   │         │
	│  └────────────────────────────────────────────────┘        │
	└─────────────────────────────────────────────────────────┘

# ContainerSpec

ContainerSpec is the full description of a reservation container: image
reference, name, port bindings, bind mounts, memory and shm limits,
NanoCPUs, GPU device IDs, and an optional tmpfs mount. The reconciler
assembles it from the reservation, the image definition, and the resolved
role mounts; Run consumes it without consulting the store.

# SetPassword

SetPassword execs chpasswd inside a running container to set the SSH
password for the container user. It is a separate call rather than part of
Run so a failure after start leaves a container the caller can still remove.

All operations take a context.Context and respect its deadline; the caller
owns the timeout policy.
*/
package runtime
