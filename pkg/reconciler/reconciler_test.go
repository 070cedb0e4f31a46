package reconciler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/pkg/mail"
	"github.com/corralhq/corral/pkg/policy"
	"github.com/corralhq/corral/pkg/ports"
	"github.com/corralhq/corral/pkg/runtime"
	"github.com/corralhq/corral/pkg/storage"
	"github.com/corralhq/corral/pkg/types"
)

// fakeEngine records every call and serves canned container states.
type fakeEngine struct {
	mu        sync.Mutex
	runs      []runtime.ContainerSpec
	runErr    error
	stopped   []string
	removed   []string
	restarted []string
	passwords map[string]string
	states    map[string]*runtime.ContainerState
	running   []runtime.RunningContainer
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		passwords: make(map[string]string),
		states:    make(map[string]*runtime.ContainerState),
	}
}

func (e *fakeEngine) Run(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runErr != nil {
		return "", e.runErr
	}
	e.runs = append(e.runs, spec)
	return "container-" + spec.Name, nil
}

func (e *fakeEngine) Stop(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = append(e.stopped, name)
	return nil
}

func (e *fakeEngine) Remove(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = append(e.removed, name)
	return nil
}

func (e *fakeEngine) Restart(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.restarted = append(e.restarted, name)
	return nil
}

func (e *fakeEngine) Inspect(ctx context.Context, name string) (*runtime.ContainerState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if state, ok := e.states[name]; ok {
		return state, nil
	}
	return &runtime.ContainerState{Status: "running", Running: true}, nil
}

func (e *fakeEngine) ListRunning(ctx context.Context, namePrefix string) ([]runtime.RunningContainer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []runtime.RunningContainer
	for _, container := range e.running {
		if strings.HasPrefix(container.Name, namePrefix) {
			out = append(out, container)
		}
	}
	return out, nil
}

func (e *fakeEngine) SetPassword(ctx context.Context, name, user, password string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.passwords[name] = password
	return nil
}

func (e *fakeEngine) Ping(ctx context.Context) error { return nil }
func (e *fakeEngine) Close() error                   { return nil }

type harness struct {
	store    storage.Store
	engine   *fakeEngine
	recon    *Reconciler
	computer *types.Computer
	user     *types.User
	image    *types.ContainerImage
	cpus     *types.HardwareSpec
	ram      *types.HardwareSpec
	gpu0     *types.HardwareSpec
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{store: store, engine: newFakeEngine()}

	h.computer = &types.Computer{Name: "ml-01", IP: "10.0.0.5", Public: true}
	require.NoError(t, store.CreateComputer(h.computer))
	h.user = &types.User{Email: "user@example.com"}
	require.NoError(t, store.CreateUser(h.user))
	h.image = &types.ContainerImage{
		ImageName: "workbench/pytorch:latest",
		Name:      "PyTorch workbench",
		Public:    true,
		Ports:     []types.ImagePort{{ID: 1, ServiceName: "SSH", Port: 22}},
	}
	require.NoError(t, store.CreateContainerImage(h.image))

	h.cpus = &types.HardwareSpec{
		ComputerID: h.computer.ID, Type: types.HardwareTypeCPUs,
		MaximumAmount: 16, MaximumAmountForUser: 8, Format: "cores",
	}
	h.ram = &types.HardwareSpec{
		ComputerID: h.computer.ID, Type: types.HardwareTypeRAM,
		MaximumAmount: 64, MaximumAmountForUser: 32, Format: "GB",
	}
	h.gpu0 = &types.HardwareSpec{
		ComputerID: h.computer.ID, Type: types.HardwareTypeGPU,
		MaximumAmount: 1, MaximumAmountForUser: 1, Format: "RTX 4090", InternalID: "0",
	}
	for _, spec := range []*types.HardwareSpec{h.cpus, h.ram, h.gpu0} {
		require.NoError(t, store.CreateHardwareSpec(spec))
	}

	resolver := policy.NewResolver(store, policy.StandardDefaults())
	neverBound := func(port int) bool { return false }
	allocator := ports.NewAllocator(store, 2000, 2100, neverBound)

	h.recon = New(store, h.engine, allocator, resolver, mail.Disabled{}, nil, Config{
		ComputerID:       h.computer.ID,
		SweepEveryNTicks: 1000, // sweeps are triggered explicitly in tests
		OrphanGrace:      30 * time.Minute,
		RegistryAddress:  "registry.internal:5000",
	})
	return h
}

func (h *harness) seedReservation(t *testing.T, status types.ReservationStatus, start, end time.Time) *types.Reservation {
	t.Helper()
	reservation := &types.Reservation{
		UserID:     h.user.ID,
		ComputerID: h.computer.ID,
		StartDate:  start,
		EndDate:    end,
		Status:     status,
		HardwareSpecs: []types.ReservedHardwareSpec{
			{HardwareSpecID: h.cpus.ID, Amount: 4},
			{HardwareSpecID: h.ram.ID, Amount: 16},
			{HardwareSpecID: h.gpu0.ID, Amount: 1},
		},
		Container: types.ReservedContainer{ImageID: h.image.ID},
	}
	require.NoError(t, h.store.CreateReservation(reservation))
	return reservation
}

func TestTickLaunchesDueReservation(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	reservation := h.seedReservation(t, types.StatusReserved, now.Add(-time.Hour), now.Add(time.Hour))

	require.NoError(t, h.recon.Tick())

	require.Len(t, h.engine.runs, 1)
	spec := h.engine.runs[0]
	assert.True(t, strings.HasPrefix(spec.Name, "reservation-"), spec.Name)
	assert.Contains(t, spec.Name, "workbenchpytorchlatest", "image part drops colon and slash")
	assert.Equal(t, "registry.internal:5000/workbench/pytorch:latest", spec.Image)
	assert.Equal(t, int64(16)*gib, spec.MemoryBytes)
	assert.Equal(t, int64(8)*gib, spec.ShmSizeBytes, "shm defaults to half the reserved RAM")
	assert.Equal(t, int64(4e9), spec.NanoCPUs)
	assert.Equal(t, []string{"0"}, spec.GPUDeviceIDs)
	require.Len(t, spec.Ports, 1)
	assert.Equal(t, 22, spec.Ports[0].InsidePort)
	assert.GreaterOrEqual(t, spec.Ports[0].OutsidePort, 2000)

	started, err := h.store.GetReservation(reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStarted, started.Status)
	assert.Equal(t, spec.Name, started.Container.DockerName)
	assert.Len(t, started.Container.SSHPassword, 40)
	assert.False(t, started.Container.StartedAt.IsZero())
	require.Len(t, started.Container.Ports, 1)
	assert.Equal(t, "SSH", started.Container.Ports[0].ServiceName)
	assert.Equal(t, spec.Ports[0].OutsidePort, started.Container.Ports[0].OutsidePort)

	assert.Equal(t, started.Container.SSHPassword, h.engine.passwords[spec.Name],
		"the stored password is the one set in the container")
}

func TestTickDoesNotLaunchFutureOrExpired(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	h.seedReservation(t, types.StatusReserved, now.Add(time.Hour), now.Add(2*time.Hour))
	expired := h.seedReservation(t, types.StatusReserved, now.Add(-2*time.Hour), now.Add(-time.Hour))

	require.NoError(t, h.recon.Tick())

	assert.Empty(t, h.engine.runs)

	// The expired one is closed out by the stop step instead.
	stopped, err := h.store.GetReservation(expired.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, stopped.Status)
}

func TestTickIsIdempotent(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	h.seedReservation(t, types.StatusReserved, now.Add(-time.Hour), now.Add(time.Hour))

	require.NoError(t, h.recon.Tick())
	require.NoError(t, h.recon.Tick())

	assert.Len(t, h.engine.runs, 1, "an already started reservation is not launched again")
}

func TestTickStopsExpiredStartedReservation(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	reservation := h.seedReservation(t, types.StatusStarted, now.Add(-3*time.Hour), now.Add(-time.Minute))
	reservation.Container.DockerName = "reservation-1-img-01_01_2026_00_00_00"
	require.NoError(t, h.store.UpdateReservation(reservation))

	require.NoError(t, h.recon.Tick())

	assert.Contains(t, h.engine.stopped, reservation.Container.DockerName)
	assert.Contains(t, h.engine.removed, reservation.Container.DockerName)

	stopped, err := h.store.GetReservation(reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, stopped.Status)
	assert.False(t, stopped.Container.StoppedAt.IsZero())
}

func TestTickStopsCancelledReservation(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	// Cancellation writes endDate := now; the reservation never ran.
	reservation := h.seedReservation(t, types.StatusReserved, now.Add(-time.Hour), now.Add(-time.Second))

	require.NoError(t, h.recon.Tick())

	assert.Empty(t, h.engine.stopped, "nothing to stop when no container exists")
	stopped, err := h.store.GetReservation(reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, stopped.Status)
}

func TestTickRestartsCrashedContainer(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	reservation := h.seedReservation(t, types.StatusStarted, now.Add(-time.Hour), now.Add(time.Hour))
	reservation.Container.DockerName = "reservation-1-img-01_01_2026_00_00_00"
	require.NoError(t, h.store.UpdateReservation(reservation))

	h.engine.states[reservation.Container.DockerName] = &runtime.ContainerState{
		Status:   "exited",
		ExitCode: 137,
	}

	require.NoError(t, h.recon.Tick())

	assert.Contains(t, h.engine.restarted, reservation.Container.DockerName)
	unchanged, err := h.store.GetReservation(reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStarted, unchanged.Status)
}

func TestTickServesRestartRequest(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	reservation := h.seedReservation(t, types.StatusRestart, now.Add(-time.Hour), now.Add(time.Hour))
	reservation.Container.DockerName = "reservation-1-img-01_01_2026_00_00_00"
	require.NoError(t, h.store.UpdateReservation(reservation))

	require.NoError(t, h.recon.Tick())

	assert.Contains(t, h.engine.restarted, reservation.Container.DockerName)
	settled, err := h.store.GetReservation(reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStarted, settled.Status)
}

func TestLaunchFailureMovesReservationToError(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()
	reservation := h.seedReservation(t, types.StatusReserved, now.Add(-time.Hour), now.Add(time.Hour))
	h.engine.runErr = assert.AnError

	require.NoError(t, h.recon.Tick())

	failed, err := h.store.GetReservation(reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, failed.Status)
	assert.Equal(t, assert.AnError.Error(), failed.Container.ErrorMessage)
	assert.Empty(t, failed.Container.Ports, "port rows are only written on launch success")

	// The next tick must not retry a failed launch.
	require.NoError(t, h.recon.Tick())
	assert.Empty(t, h.engine.runs)
}

func TestSweepRemovesOrphans(t *testing.T) {
	h := newHarness(t)
	now := time.Now().UTC()

	owned := h.seedReservation(t, types.StatusStarted, now.Add(-2*time.Hour), now.Add(2*time.Hour))
	owned.Container.DockerName = "reservation-1-owned-01_01_2026_00_00_00"
	require.NoError(t, h.store.UpdateReservation(owned))

	h.engine.running = []runtime.RunningContainer{
		{Name: owned.Container.DockerName, StartedAt: now.Add(-2 * time.Hour)},
		{Name: "reservation-99-orphan-01_01_2026_00_00_00", StartedAt: now.Add(-2 * time.Hour)},
		{Name: "reservation-100-young-01_01_2026_00_00_00", StartedAt: now.Add(-5 * time.Minute)},
		{Name: "unrelated-service", StartedAt: now.Add(-2 * time.Hour)},
	}

	require.NoError(t, h.recon.sweepOrphans())

	assert.Equal(t, []string{"reservation-99-orphan-01_01_2026_00_00_00"}, h.engine.removed)
	assert.NotContains(t, h.engine.stopped, owned.Container.DockerName)
	assert.NotContains(t, h.engine.stopped, "reservation-100-young-01_01_2026_00_00_00",
		"containers within the grace period are left alone")
}

func TestDockerName(t *testing.T) {
	stamp := time.Date(2026, 3, 7, 14, 5, 9, 0, time.UTC)
	name := dockerName(42, "workbench/pytorch:latest", stamp)
	assert.Equal(t, "reservation-42-workbenchpytorchlatest-03_07_2026_14_05_09", name)
}

func TestGeneratePassword(t *testing.T) {
	first, err := generatePassword()
	require.NoError(t, err)
	second, err := generatePassword()
	require.NoError(t, err)

	assert.Len(t, first, 40)
	assert.NotEqual(t, first, second)
	for _, r := range first {
		assert.Contains(t, passwordAlphabet, string(r))
	}
}
