package ports

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/corralhq/corral/pkg/log"
	"github.com/corralhq/corral/pkg/metrics"
	"github.com/corralhq/corral/pkg/storage"
	"github.com/corralhq/corral/pkg/types"
)

const probeTimeout = 500 * time.Millisecond

// maxAttempts bounds the OS probe loop before giving a port out blind.
const maxAttempts = 50

// Probe reports whether a local TCP port is currently in use.
type Probe func(port int) bool

// DialProbe checks a port by attempting a TCP connection to localhost.
// A successful connect means something is listening there.
func DialProbe(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", port), probeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Allocator picks free host ports from a configured range, avoiding
// ports held by started reservations and ports bound by the local OS.
type Allocator struct {
	store      storage.Store
	rangeStart int
	rangeEnd   int
	probe      Probe

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewAllocator creates a port allocator over [rangeStart, rangeEnd).
// A nil probe falls back to DialProbe.
func NewAllocator(store storage.Store, rangeStart, rangeEnd int, probe Probe) *Allocator {
	if probe == nil {
		probe = DialProbe
	}
	return &Allocator{
		store:      store,
		rangeStart: rangeStart,
		rangeEnd:   rangeEnd,
		probe:      probe,
		locks:      make(map[int64]*sync.Mutex),
	}
}

// computerLock returns the mutex serializing allocation on a computer.
func (a *Allocator) computerLock(computerID int64) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.locks[computerID]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[computerID] = lock
	}
	return lock
}

// Lock serializes launches on one computer so two concurrent launches
// cannot race on port choice. The caller must hold the lock across the
// whole allocate-and-run critical section.
func (a *Allocator) Lock(computerID int64) {
	a.computerLock(computerID).Lock()
}

// Unlock releases the per-computer launch lock.
func (a *Allocator) Unlock(computerID int64) {
	a.computerLock(computerID).Unlock()
}

// Allocate picks an outside port for the computer. The taken set
// carries ports already chosen in the current launch; callers hold the
// per-computer lock. On probe exhaustion a candidate is handed out
// anyway: if it is in fact bound, the Docker publish fails and the
// reservation moves to error without persisting port rows.
func (a *Allocator) Allocate(computerID int64, taken []int) (int, error) {
	candidates, err := a.candidates(computerID, taken)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, fmt.Errorf("no ports left in range [%d, %d) on computer %d",
			a.rangeStart, a.rangeEnd, computerID)
	}

	for i := 0; i < maxAttempts; i++ {
		port := candidates[rand.Intn(len(candidates))]
		if !a.probe(port) {
			metrics.PortsAllocated.Inc()
			return port, nil
		}
		metrics.PortAllocationRetries.Inc()
	}

	logger := log.WithComponent("ports")
	port := candidates[rand.Intn(len(candidates))]
	logger.Warn().Int("port", port).
		Msgf("no unbound port found after %d attempts, handing one out anyway", maxAttempts)
	metrics.PortsAllocated.Inc()
	return port, nil
}

// candidates lists the range minus ports of started reservations on
// the computer minus the caller's taken set.
func (a *Allocator) candidates(computerID int64, taken []int) ([]int, error) {
	reservations, err := a.store.ListReservationsByComputer(computerID)
	if err != nil {
		return nil, err
	}

	used := make(map[int]bool)
	for _, reservation := range reservations {
		if reservation.Status != types.StatusStarted {
			continue
		}
		for _, port := range reservation.Container.Ports {
			used[port.OutsidePort] = true
		}
	}
	for _, port := range taken {
		used[port] = true
	}

	var candidates []int
	for port := a.rangeStart; port < a.rangeEnd; port++ {
		if !used[port] {
			candidates = append(candidates, port)
		}
	}
	return candidates, nil
}
