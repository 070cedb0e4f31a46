package reservation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/corralhq/corral/pkg/availability"
	"github.com/corralhq/corral/pkg/events"
	"github.com/corralhq/corral/pkg/log"
	"github.com/corralhq/corral/pkg/metrics"
	"github.com/corralhq/corral/pkg/policy"
	"github.com/corralhq/corral/pkg/storage"
	"github.com/corralhq/corral/pkg/types"
)

const (
	maxDurationHours      = 8760 // one year
	maxDescriptionLength  = 50
	defaultShmSizePercent = 50
)

// Service creates, extends, cancels and lists reservations. Admission
// is check-then-admit under a per-computer mutex so two concurrent
// requests cannot overfill an interval. It allocates no ports and no
// containers; the reconciler does that.
type Service struct {
	store          storage.Store
	resolver       *policy.Resolver
	engine         *availability.Engine
	broker         *events.Broker
	maxExtendHours int

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewService creates a reservation service.
func NewService(store storage.Store, resolver *policy.Resolver, engine *availability.Engine, broker *events.Broker, maxExtendHours int) *Service {
	if maxExtendHours <= 0 {
		maxExtendHours = 24
	}
	return &Service{
		store:          store,
		resolver:       resolver,
		engine:         engine,
		broker:         broker,
		maxExtendHours: maxExtendHours,
		locks:          make(map[int64]*sync.Mutex),
	}
}

// computerLock serializes admission per computer.
func (s *Service) computerLock(computerID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[computerID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[computerID] = lock
	}
	return lock
}

// CreateRequest is one reservation creation request. UserID is the
// authenticated caller; OnBehalfEmail lets an admin reserve for
// another user.
type CreateRequest struct {
	UserID         int64
	Start          time.Time
	DurationHours  int
	ComputerID     int64
	ImageID        int64
	HardwareSpecs  map[int64]int64
	OnBehalfEmail  string
	Description    string
	ShmSizePercent int // 0 means default
	RAMDiskPercent int
}

// sanitizeDescription strips characters with markup meaning.
func sanitizeDescription(description string) string {
	return strings.NewReplacer("<", "", ">", "", `"`, "", "'", "").Replace(strings.TrimSpace(description))
}

// Create validates the request against policy and availability and
// inserts the reservation with status reserved.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*types.Reservation, error) {
	description := sanitizeDescription(req.Description)
	if len(description) > maxDescriptionLength {
		metrics.ReservationsDenied.WithLabelValues("validation").Inc()
		return nil, Denied("Description must be 50 characters or less.")
	}

	shmPercent := req.ShmSizePercent
	if shmPercent == 0 {
		shmPercent = defaultShmSizePercent
	}
	if shmPercent < 10 || shmPercent > 90 {
		metrics.ReservationsDenied.WithLabelValues("validation").Inc()
		return nil, Denied("Shared memory percent must be between 10 and 90.")
	}
	if req.RAMDiskPercent < 0 || req.RAMDiskPercent > 60 {
		metrics.ReservationsDenied.WithLabelValues("validation").Inc()
		return nil, Denied("Ram disk percent must be between 0 and 60.")
	}
	if req.DurationHours < 1 || req.DurationHours > maxDurationHours {
		metrics.ReservationsDenied.WithLabelValues("validation").Inc()
		return nil, Denied("Duration must be between 1 and %d hours.", maxDurationHours)
	}

	caller, err := s.store.GetUser(req.UserID)
	if err != nil {
		metrics.ReservationsDenied.WithLabelValues("validation").Inc()
		return nil, Denied("User not found.")
	}
	callerAdmin, err := s.resolver.IsAdmin(caller.ID)
	if err != nil {
		return nil, err
	}

	computer, err := s.store.GetComputer(req.ComputerID)
	if err != nil || computer.Removed {
		metrics.ReservationsDenied.WithLabelValues("validation").Inc()
		return nil, Denied("Computer not found.")
	}
	image, err := s.store.GetContainerImage(req.ImageID)
	if err != nil || image.Removed {
		metrics.ReservationsDenied.WithLabelValues("validation").Inc()
		return nil, Denied("Container not found.")
	}
	if !image.Public && !callerAdmin {
		metrics.ReservationsDenied.WithLabelValues("policy").Inc()
		return nil, Denied("Access denied to private container.")
	}

	// Admins may reserve on behalf of another user; policy caps then
	// bind the owner, not the admin.
	owner := caller
	if req.OnBehalfEmail != "" && callerAdmin {
		owner, err = s.store.GetUserByEmail(req.OnBehalfEmail)
		if err != nil {
			metrics.ReservationsDenied.WithLabelValues("validation").Inc()
			return nil, Denied("User for which you tried to reserve for did not exist. Check the email address: %s", req.OnBehalfEmail)
		}
	}

	lock := s.computerLock(req.ComputerID)
	lock.Lock()
	defer lock.Unlock()

	reservation, err := s.admit(req, owner, computer, image, description, shmPercent)
	if err != nil {
		return nil, err
	}

	metrics.ReservationsCreated.Inc()
	s.publish(events.EventReservationCreated, reservation, "reservation admitted")
	logger := log.WithReservation(reservation.ID)
	logger.Info().
		Int64("computer_id", reservation.ComputerID).
		Int64("user_id", reservation.UserID).
		Time("start", reservation.StartDate).
		Time("end", reservation.EndDate).
		Msg("reservation created")
	return reservation, nil
}

// admit performs the policy and capacity checks and the insert. The
// caller holds the computer lock.
func (s *Service) admit(req CreateRequest, owner *types.User, computer *types.Computer, image *types.ContainerImage, description string, shmPercent int) (*types.Reservation, error) {
	ownerAdmin, err := s.resolver.IsAdmin(owner.ID)
	if err != nil {
		return nil, err
	}
	limits, err := s.resolver.Limits(owner.ID)
	if err != nil {
		return nil, err
	}

	active, err := s.store.CountActiveReservationsByUser(owner.ID)
	if err != nil {
		return nil, err
	}
	if active >= limits.MaxActiveReservations {
		metrics.ReservationsDenied.WithLabelValues("policy").Inc()
		return nil, Denied("You can only have %d active reservation(s).", limits.MaxActiveReservations)
	}

	if req.DurationHours < limits.MinDurationHours {
		metrics.ReservationsDenied.WithLabelValues("policy").Inc()
		return nil, Denied("Minimum duration is %d hours.", limits.MinDurationHours)
	}
	if req.DurationHours > limits.MaxDurationHours {
		metrics.ReservationsDenied.WithLabelValues("policy").Inc()
		return nil, Denied("Maximum duration is %d hours.", limits.MaxDurationHours)
	}

	var totalGPUs int64
	for specID, amount := range req.HardwareSpecs {
		spec, err := s.store.GetHardwareSpec(specID)
		if err != nil || spec.ComputerID != computer.ID {
			metrics.ReservationsDenied.WithLabelValues("validation").Inc()
			return nil, Denied("Invalid hardware specification ID: %d", specID)
		}
		if amount < 0 {
			metrics.ReservationsDenied.WithLabelValues("validation").Inc()
			return nil, Denied("Invalid negative amount for %s", spec.Type)
		}
		if amount > spec.MaximumAmount {
			metrics.ReservationsDenied.WithLabelValues("capacity").Inc()
			return nil, Denied("Requested amount exceeds available resources for %s: %d > %d",
				spec.Type, amount, spec.MaximumAmount)
		}
		if !ownerAdmin {
			userCap, err := s.resolver.HardwareCap(owner.ID, spec)
			if err != nil {
				return nil, err
			}
			if amount > userCap {
				metrics.ReservationsDenied.WithLabelValues("policy").Inc()
				return nil, Denied("Trying to utilize hardware specs above the user maximum amount for %s %s: %d > %d",
					spec.Type, spec.Format, amount, userCap)
			}
		}
		if spec.Type == types.HardwareTypeGPU {
			totalGPUs += amount
		}
	}

	if !ownerAdmin && totalGPUs > 0 {
		gpuCap, err := s.resolver.GPUCap(owner.ID, computer.ID)
		if err != nil {
			return nil, err
		}
		if totalGPUs > gpuCap {
			metrics.ReservationsDenied.WithLabelValues("policy").Inc()
			return nil, Denied("You can only reserve %d GPU(s) at a time.", gpuCap)
		}
	}

	start := req.Start.UTC()
	end := start.Add(time.Duration(req.DurationHours) * time.Hour)

	ownerID := owner.ID
	if _, err := s.engine.Check(availability.CheckRequest{
		Start:     start,
		End:       end,
		Requested: req.HardwareSpecs,
		UserID:    &ownerID,
	}); err != nil {
		var unavailable *availability.Unavailable
		if errors.As(err, &unavailable) {
			metrics.ReservationsDenied.WithLabelValues("capacity").Inc()
		}
		return nil, err
	}

	reservation := &types.Reservation{
		UserID:      owner.ID,
		ComputerID:  computer.ID,
		StartDate:   start,
		EndDate:     end,
		Description: description,
		Status:      types.StatusReserved,
		Container: types.ReservedContainer{
			ImageID:        image.ID,
			ShmSizePercent: shmPercent,
			RAMDiskPercent: req.RAMDiskPercent,
		},
		CreatedAt: time.Now().UTC(),
	}
	for specID, amount := range req.HardwareSpecs {
		if amount == 0 {
			continue // zero amounts are elided at write time
		}
		reservation.HardwareSpecs = append(reservation.HardwareSpecs, types.ReservedHardwareSpec{
			HardwareSpecID: specID,
			Amount:         amount,
		})
	}

	if err := s.store.CreateReservation(reservation); err != nil {
		return nil, err
	}
	return reservation, nil
}

// authorized fetches the reservation if the caller owns it or is an
// admin. The notFound message matches the original API texts.
func (s *Service) authorized(reservationID, callerID int64) (*types.Reservation, error) {
	admin, err := s.resolver.IsAdmin(callerID)
	if err != nil {
		return nil, err
	}
	reservation, err := s.store.GetReservation(reservationID)
	if err != nil {
		return nil, Denied("No reservation found.")
	}
	if !admin && reservation.UserID != callerID {
		return nil, Denied("No reservation found for this user.")
	}
	return reservation, nil
}

// Extend lengthens a started reservation by up to the configured
// maximum. The availability check refunds the reservation's own
// holdings, so extending into an interval it already dominates
// succeeds unless another reservation contends.
func (s *Service) Extend(ctx context.Context, reservationID, callerID int64, hours int) (*types.Reservation, error) {
	reservation, err := s.authorized(reservationID, callerID)
	if err != nil {
		return nil, err
	}
	if reservation.Status != types.StatusStarted {
		return nil, Denied("Reservation is not started, so cannot extend it.")
	}
	if hours < 0 || hours > s.maxExtendHours {
		return nil, Denied("Duration must be between 0 and %d hours.", s.maxExtendHours)
	}

	lock := s.computerLock(reservation.ComputerID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a concurrent extension may have moved
	// the end date already.
	reservation, err = s.store.GetReservation(reservationID)
	if err != nil {
		return nil, Denied("No reservation found.")
	}

	start := reservation.EndDate
	end := start.Add(time.Duration(hours) * time.Hour)

	holdings := make(map[int64]int64, len(reservation.HardwareSpecs))
	var deviceSpecs []int64
	for _, held := range reservation.HardwareSpecs {
		holdings[held.HardwareSpecID] = held.Amount
		spec, err := s.store.GetHardwareSpec(held.HardwareSpecID)
		if err == nil && spec.Type == types.HardwareTypeGPU {
			deviceSpecs = append(deviceSpecs, held.HardwareSpecID)
		}
	}

	if err := s.engine.CheckDevices(start, end, deviceSpecs, reservation.ID); err != nil {
		return nil, err
	}
	if _, err := s.engine.Check(availability.CheckRequest{
		Start:               start,
		End:                 end,
		Requested:           holdings,
		IgnoreReservationID: &reservation.ID,
	}); err != nil {
		return nil, err
	}

	reservation.EndDate = end
	if err := s.store.UpdateReservation(reservation); err != nil {
		return nil, err
	}

	metrics.ReservationsExtended.Inc()
	s.publish(events.EventReservationExtended, reservation, "reservation extended")
	logger := log.WithReservation(reservation.ID)
	logger.Info().Int("hours", hours).Msg("reservation extended")
	return reservation, nil
}

// Cancel ends the reservation now. The status is not touched here: the
// node's next reconciliation tick observes the passed end date and
// stops the container.
func (s *Service) Cancel(ctx context.Context, reservationID, callerID int64) error {
	reservation, err := s.authorized(reservationID, callerID)
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			return Denied("No reservation found.")
		}
		return err
	}

	reservation.EndDate = time.Now().UTC()
	if err := s.store.UpdateReservation(reservation); err != nil {
		return err
	}

	metrics.ReservationsCancelled.Inc()
	s.publish(events.EventReservationCancelled, reservation, "reservation cancelled")
	logger := log.WithReservation(reservation.ID)
	logger.Info().Msg("reservation cancelled")
	return nil
}

// RequestRestart flags a started reservation's container for restart;
// the reconciler performs it on the next tick.
func (s *Service) RequestRestart(ctx context.Context, reservationID, callerID int64) error {
	reservation, err := s.authorized(reservationID, callerID)
	if err != nil {
		return err
	}
	if reservation.Status != types.StatusStarted {
		return Denied("Reservation is not currently started, so cannot restart the container.")
	}

	reservation.Status = types.StatusRestart
	if err := s.store.UpdateReservation(reservation); err != nil {
		return err
	}

	s.publish(events.EventRestartRequested, reservation, "container restart requested")
	return nil
}

func (s *Service) publish(eventType events.EventType, reservation *types.Reservation, message string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(events.New(eventType, reservation.ID, reservation.ComputerID, reservation.UserID, message))
}
