package reconciler

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/corralhq/corral/pkg/events"
	"github.com/corralhq/corral/pkg/log"
	"github.com/corralhq/corral/pkg/mail"
	"github.com/corralhq/corral/pkg/metrics"
	"github.com/corralhq/corral/pkg/policy"
	"github.com/corralhq/corral/pkg/ports"
	"github.com/corralhq/corral/pkg/runtime"
	"github.com/corralhq/corral/pkg/storage"
	"github.com/corralhq/corral/pkg/types"
)

// containerNamePrefix marks every container this system launches.
const containerNamePrefix = "reservation-"

// Config tunes one node's reconciler.
type Config struct {
	ComputerID       int64
	TickInterval     time.Duration
	SweepEveryNTicks int
	OrphanGrace      time.Duration
	RegistryAddress  string
	DockerTimeout    time.Duration
	MountOwnerUID    int
	MountOwnerGID    int
	EmailEnabled     bool
	HelpAddress      string
	ClientURL        string
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 10 * time.Second
	}
	if c.SweepEveryNTicks <= 0 {
		c.SweepEveryNTicks = 6
	}
	if c.OrphanGrace <= 0 {
		c.OrphanGrace = 30 * time.Minute
	}
	if c.DockerTimeout <= 0 {
		c.DockerTimeout = 10 * time.Second
	}
}

// Reconciler drives containers on one computer to the state implied by
// the reservation table: it starts due reservations, stops expired
// ones, restarts crashed or flagged ones, and sweeps orphans.
type Reconciler struct {
	store     storage.Store
	engine    runtime.Engine
	allocator *ports.Allocator
	resolver  *policy.Resolver
	mailer    mail.Mailer
	broker    *events.Broker
	cfg       Config
	logger    zerolog.Logger

	tickCount int
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New creates a reconciler for one computer.
func New(store storage.Store, engine runtime.Engine, allocator *ports.Allocator, resolver *policy.Resolver, mailer mail.Mailer, broker *events.Broker, cfg Config) *Reconciler {
	cfg.applyDefaults()
	if mailer == nil {
		mailer = mail.Disabled{}
	}
	return &Reconciler{
		store:     store,
		engine:    engine,
		allocator: allocator,
		resolver:  resolver,
		mailer:    mailer,
		broker:    broker,
		cfg:       cfg,
		logger:    log.WithComponent("reconciler"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the loop and waits for the in-flight tick to finish, so
// Docker calls complete or time out before exit.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reconciler) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Tick(); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation tick finished with errors")
			}
		case <-r.stopCh:
			return
		}
	}
}

// dockerCtx bounds one Docker call.
func (r *Reconciler) dockerCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.cfg.DockerTimeout)
}

// Tick runs one reconciliation cycle. Steps run in order and never
// abort the cycle; their errors are aggregated. Every step re-reads
// the store, so a tick repeated without external change is a no-op.
func (r *Reconciler) Tick() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	var result *multierror.Error
	if err := r.stopExpired(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := r.startDue(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := r.restartCrashed(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := r.restartRequested(); err != nil {
		result = multierror.Append(result, err)
	}

	r.tickCount++
	if r.tickCount%r.cfg.SweepEveryNTicks == 0 {
		if err := r.sweepOrphans(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// reservationsOnNode lists this computer's reservations.
func (r *Reconciler) reservationsOnNode() ([]*types.Reservation, error) {
	return r.store.ListReservationsByComputer(r.cfg.ComputerID)
}

// stopExpired stops every reservation whose end date has passed,
// including cancelled ones (cancellation writes endDate := now).
func (r *Reconciler) stopExpired() error {
	reservations, err := r.reservationsOnNode()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var result *multierror.Error
	for _, reservation := range reservations {
		if !reservation.Status.Active() || !reservation.EndDate.Before(now) {
			continue
		}

		if reservation.Status == types.StatusStarted && reservation.Container.DockerName != "" {
			r.removeContainer(reservation.Container.DockerName)
		}

		reservation.Status = types.StatusStopped
		reservation.Container.StoppedAt = now
		if err := r.store.UpdateReservation(reservation); err != nil {
			result = multierror.Append(result, err)
			continue
		}

		metrics.ContainersStopped.Inc()
		r.publish(events.EventContainerStopped, reservation, "reservation stopped")
		logger := log.WithReservation(reservation.ID)
		logger.Info().Msg("stopped expired reservation")
	}
	return result.ErrorOrNil()
}

// startDue launches every reserved reservation whose interval has
// begun. Launch failures move the reservation to error and do not
// abort the step.
func (r *Reconciler) startDue() error {
	reservations, err := r.reservationsOnNode()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, reservation := range reservations {
		if reservation.Status != types.StatusReserved {
			continue
		}
		if !reservation.StartDate.Before(now) || !reservation.EndDate.After(now) {
			continue
		}
		r.launch(reservation)
	}
	return nil
}

// restartCrashed restarts started reservations whose container has
// exited. The status stays started; only the container is bounced.
func (r *Reconciler) restartCrashed() error {
	reservations, err := r.reservationsOnNode()
	if err != nil {
		return err
	}

	for _, reservation := range reservations {
		if reservation.Status != types.StatusStarted || reservation.Container.DockerName == "" {
			continue
		}

		ctx, cancel := r.dockerCtx()
		state, err := r.engine.Inspect(ctx, reservation.Container.DockerName)
		cancel()
		if err != nil {
			logger := log.WithReservation(reservation.ID)
			logger.Warn().Err(err).Msg("inspect failed, will retry next tick")
			continue
		}
		if state.Status != "exited" {
			continue
		}

		ctx, cancel = r.dockerCtx()
		err = r.engine.Restart(ctx, reservation.Container.DockerName)
		cancel()
		if err != nil {
			logger := log.WithReservation(reservation.ID)
			logger.Warn().Err(err).Msg("restart of crashed container failed")
			continue
		}

		metrics.ContainersRestarted.Inc()
		r.publish(events.EventContainerRestarted, reservation, "crashed container restarted")
		logger := log.WithReservation(reservation.ID)
		logger.Info().Msg("restarted crashed container")
	}
	return nil
}

// restartRequested serves explicit restart intents: restart the
// container and settle the status back to started. If the restart
// command fails the status stays restart and the next tick retries.
func (r *Reconciler) restartRequested() error {
	reservations, err := r.reservationsOnNode()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var result *multierror.Error
	for _, reservation := range reservations {
		if reservation.Status != types.StatusRestart || !reservation.EndDate.After(now) {
			continue
		}

		ctx, cancel := r.dockerCtx()
		err := r.engine.Restart(ctx, reservation.Container.DockerName)
		cancel()
		if err != nil {
			logger := log.WithReservation(reservation.ID)
			logger.Warn().Err(err).Msg("requested restart failed, will retry")
			continue
		}

		reservation.Status = types.StatusStarted
		if err := r.store.UpdateReservation(reservation); err != nil {
			result = multierror.Append(result, err)
			continue
		}

		metrics.ContainersRestarted.Inc()
		r.publish(events.EventContainerRestarted, reservation, "container restarted on request")
		logger := log.WithReservation(reservation.ID)
		logger.Info().Msg("restarted container on request")
	}
	return result.ErrorOrNil()
}

// sweepOrphans removes reservation containers Docker still runs but no
// started reservation owns. These are left behind by crashes between a
// Docker run and the status write, and by aborted launches.
func (r *Reconciler) sweepOrphans() error {
	ctx, cancel := r.dockerCtx()
	running, err := r.engine.ListRunning(ctx, containerNamePrefix)
	cancel()
	if err != nil {
		return err
	}

	reservations, err := r.reservationsOnNode()
	if err != nil {
		return err
	}
	owned := make(map[string]bool)
	for _, reservation := range reservations {
		if reservation.Status == types.StatusStarted && reservation.Container.DockerName != "" {
			owned[reservation.Container.DockerName] = true
		}
	}

	now := time.Now().UTC()
	for _, container := range running {
		if now.Sub(container.StartedAt) <= r.cfg.OrphanGrace {
			continue
		}
		if owned[container.Name] {
			continue
		}

		r.removeContainer(container.Name)
		metrics.OrphansRemoved.Inc()
		if r.broker != nil {
			r.broker.Publish(events.New(events.EventOrphanRemoved, 0, r.cfg.ComputerID, 0, container.Name))
		}
		logger := log.WithContainer(container.Name)
		logger.Warn().Msg("removed orphan container not backed by a started reservation")
	}
	return nil
}

// removeContainer stops and removes a container, best effort. Both
// calls are attempted; a missing container is not an error worth
// propagating.
func (r *Reconciler) removeContainer(name string) {
	ctx, cancel := r.dockerCtx()
	if err := r.engine.Stop(ctx, name); err != nil {
		logger := log.WithContainer(name)
		logger.Debug().Err(err).Msg("stop failed")
	}
	cancel()

	ctx, cancel = r.dockerCtx()
	if err := r.engine.Remove(ctx, name); err != nil {
		logger := log.WithContainer(name)
		logger.Debug().Err(err).Msg("remove failed")
	}
	cancel()
}

func (r *Reconciler) publish(eventType events.EventType, reservation *types.Reservation, message string) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(events.New(eventType, reservation.ID, reservation.ComputerID, reservation.UserID, message))
}
