package reservation

import (
	"fmt"
	"sort"
	"time"

	"github.com/corralhq/corral/pkg/availability"
	"github.com/corralhq/corral/pkg/mail"
	"github.com/corralhq/corral/pkg/types"
)

const (
	// listingWindow caps listings to reservations that started within
	// the last 90 days or have not ended yet.
	listingWindow = 90 * 24 * time.Hour

	// currentFeedSlack keeps just-ended reservations visible on the
	// calendar feed for a few days.
	currentFeedSlack = 5 * 24 * time.Hour
)

// SpecView is one reserved hardware amount prepared for display. GPU
// device rows carry the device ID in the format string.
type SpecView struct {
	Type   types.HardwareType `json:"type"`
	Format string             `json:"format"`
	Amount int64              `json:"amount"`
}

// View is one reservation prepared for listing.
type View struct {
	Reservation   *types.Reservation   `json:"reservation"`
	ComputerName  string               `json:"computerName"`
	ImageName     string               `json:"imageName"`
	HardwareSpecs []SpecView           `json:"hardwareSpecs"`
	Ports         []types.ReservedPort `json:"ports,omitempty"`
}

// buildView resolves display names and spec formats. Ports are only
// attached while the reservation is started, because they are unbound
// after it stops.
func (s *Service) buildView(reservation *types.Reservation) *View {
	view := &View{Reservation: reservation}

	if computer, err := s.store.GetComputer(reservation.ComputerID); err == nil {
		view.ComputerName = computer.Name
	}
	if image, err := s.store.GetContainerImage(reservation.Container.ImageID); err == nil {
		view.ImageName = image.ImageName
	}
	if reservation.Status == types.StatusStarted {
		view.Ports = reservation.Container.Ports
	}

	for _, held := range reservation.HardwareSpecs {
		spec, err := s.store.GetHardwareSpec(held.HardwareSpecID)
		if err != nil {
			continue
		}
		format := spec.Format
		if spec.Type == types.HardwareTypeGPU {
			format = fmt.Sprintf("%s (id: %s)", spec.Format, spec.InternalID)
		}
		view.HardwareSpecs = append(view.HardwareSpecs, SpecView{
			Type:   spec.Type,
			Format: format,
			Amount: held.Amount,
		})
	}
	return view
}

// inListingWindow applies the 90-day listing horizon.
func inListingWindow(reservation *types.Reservation, now time.Time) bool {
	return reservation.StartDate.After(now.Add(-listingWindow)) || reservation.EndDate.After(now)
}

func sortViews(views []*View) {
	sort.Slice(views, func(i, j int) bool {
		return views[i].Reservation.StartDate.After(views[j].Reservation.StartDate)
	})
}

// ListOwn lists the user's reservations, newest first, optionally
// filtered by status.
func (s *Service) ListOwn(userID int64, statusFilter types.ReservationStatus) ([]*View, error) {
	reservations, err := s.store.ListReservationsByUser(userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var views []*View
	for _, reservation := range reservations {
		if !inListingWindow(reservation, now) {
			continue
		}
		if statusFilter != "" && reservation.Status != statusFilter {
			continue
		}
		views = append(views, s.buildView(reservation))
	}
	sortViews(views)
	return views, nil
}

// ListAll lists every user's reservations for admins, same window and
// filter semantics as ListOwn.
func (s *Service) ListAll(callerID int64, statusFilter types.ReservationStatus) ([]*View, error) {
	admin, err := s.resolver.IsAdmin(callerID)
	if err != nil {
		return nil, err
	}
	if !admin {
		return nil, Denied("No reservation found for this user.")
	}

	reservations, err := s.store.ListReservations()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var views []*View
	for _, reservation := range reservations {
		if !inListingWindow(reservation, now) {
			continue
		}
		if statusFilter != "" && reservation.Status != statusFilter {
			continue
		}
		views = append(views, s.buildView(reservation))
	}
	sortViews(views)
	return views, nil
}

// ListCurrent feeds the calendar: active reservations plus anything
// that ended within the last few days.
func (s *Service) ListCurrent() ([]*View, error) {
	reservations, err := s.store.ListReservations()
	if err != nil {
		return nil, err
	}

	minEndDate := time.Now().UTC().Add(-currentFeedSlack)
	var views []*View
	for _, reservation := range reservations {
		if !reservation.Status.Active() {
			continue
		}
		if !reservation.EndDate.After(minEndDate) {
			continue
		}
		views = append(views, s.buildView(reservation))
	}
	sortViews(views)
	return views, nil
}

// Details renders the connection instructions for a reservation the
// caller owns (or any reservation for admins).
func (s *Service) Details(reservationID, callerID int64) (string, error) {
	reservation, err := s.authorized(reservationID, callerID)
	if err != nil {
		return "", err
	}

	image, err := s.store.GetContainerImage(reservation.Container.ImageID)
	if err != nil {
		return "", err
	}
	computer, err := s.store.GetComputer(reservation.ComputerID)
	if err != nil {
		return "", err
	}

	return mail.BuildContainerStarted(mail.ConnectionInfo{
		Image:    image.ImageName,
		IP:       computer.IP,
		Ports:    reservation.Container.Ports,
		Password: reservation.Container.SSHPassword,
		EndDate:  reservation.EndDate,
	}, false), nil
}

// Availability exposes the engine to the API layer: remaining capacity
// per computer over [start, start+duration).
func (s *Service) Availability(start time.Time, durationHours int, userID int64) (*availability.Result, error) {
	if durationHours < 1 || durationHours > maxDurationHours {
		return nil, Denied("Duration must be between 1 and %d hours.", maxDurationHours)
	}
	return s.engine.Check(availability.CheckRequest{
		Start:  start.UTC(),
		End:    start.UTC().Add(time.Duration(durationHours) * time.Hour),
		UserID: &userID,
	})
}

// TimelineRange exposes the bucketed availability timeline.
func (s *Service) TimelineRange(start, end time.Time) ([]*availability.Segment, error) {
	return s.engine.Timeline(start.UTC(), end.UTC())
}
