package availability

import (
	"fmt"
	"time"

	"github.com/corralhq/corral/pkg/policy"
	"github.com/corralhq/corral/pkg/storage"
	"github.com/corralhq/corral/pkg/types"
)

// Engine answers admission questions over an interval: how much of
// each hardware spec remains once committed reservations are
// subtracted, and whether a concrete request fits.
type Engine struct {
	store    storage.Store
	resolver *policy.Resolver
}

// NewEngine creates an availability engine.
func NewEngine(store storage.Store, resolver *policy.Resolver) *Engine {
	return &Engine{store: store, resolver: resolver}
}

// CheckRequest describes one availability query. Requested amounts are
// subtracted on top of the committed reservations, which is how both
// admission simulation and extension refunds work: an extension passes
// its own holdings here and its own ID in IgnoreReservationID.
type CheckRequest struct {
	Start               time.Time
	End                 time.Time
	Requested           map[int64]int64 // hardwareSpecID -> amount
	UserID              *int64
	IgnoreReservationID *int64
}

// ComputerAvailability is one computer with its specs adjusted to the
// queried interval: MaximumAmount holds the remaining capacity and
// MaximumAmountForUser the per-user cap clamped to it.
type ComputerAvailability struct {
	Computer *types.Computer
	Specs    []*types.HardwareSpec
}

// Result is the answer to an admitted availability query.
type Result struct {
	Computers []*ComputerAvailability
	Images    []*types.ContainerImage
}

// Unavailable is returned when a requested spec would fall below its
// minimum over the interval.
type Unavailable struct {
	Spec      *types.HardwareSpec
	Remaining int64
}

func (u *Unavailable) Error() string {
	if u.Spec.Type == types.HardwareTypeRAM {
		return fmt.Sprintf("Not enough resources to make a reservation: %s. Available: %d %s %s.",
			u.Spec.Type, u.Remaining, u.Spec.Format, u.Spec.Type)
	}
	return fmt.Sprintf("Not enough resources to make a reservation: %s. Available: %d %s.",
		u.Spec.Type, u.Remaining, u.Spec.Type)
}

// overlaps reports whether the reservation intersects [start, end).
func overlaps(r *types.Reservation, start, end time.Time) bool {
	return r.StartDate.Before(end) && r.EndDate.After(start)
}

// committedAmounts sums reserved amounts per hardware spec across
// reservations overlapping [start, end) with status reserved or
// started, skipping ignoreID.
func (e *Engine) committedAmounts(start, end time.Time, ignoreID *int64) (map[int64]int64, error) {
	reservations, err := e.store.ListReservationsOverlapping(start, end)
	if err != nil {
		return nil, err
	}

	committed := make(map[int64]int64)
	for _, reservation := range reservations {
		if !reservation.Status.Active() {
			continue
		}
		if ignoreID != nil && reservation.ID == *ignoreID {
			continue
		}
		for _, spec := range reservation.HardwareSpecs {
			committed[spec.HardwareSpecID] += spec.Amount
		}
	}
	return committed, nil
}

// Check computes per-spec remaining capacity over the request interval
// and admits or rejects the requested amounts. The returned result
// carries every public computer with adjusted specs plus the image
// list; a capacity rejection is returned as *Unavailable.
func (e *Engine) Check(req CheckRequest) (*Result, error) {
	committed, err := e.committedAmounts(req.Start, req.End, req.IgnoreReservationID)
	if err != nil {
		return nil, err
	}

	// The requested amounts count as committed too, so the minimum
	// floor is checked against the state after this admission.
	for specID, amount := range req.Requested {
		if amount == 0 {
			continue
		}
		committed[specID] += amount
	}

	admin := false
	if req.UserID != nil {
		admin, err = e.resolver.IsAdmin(*req.UserID)
		if err != nil {
			return nil, err
		}
	}

	computers, err := e.store.ListComputers()
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, computer := range computers {
		if computer.Removed || !computer.Public {
			continue
		}
		specs, err := e.store.ListHardwareSpecsByComputer(computer.ID)
		if err != nil {
			return nil, err
		}

		avail := &ComputerAvailability{Computer: computer}
		for _, spec := range specs {
			adjusted := *spec

			rawRemaining := spec.MaximumAmount - committed[spec.ID]
			remaining := rawRemaining
			if remaining < 0 {
				remaining = 0
			}

			// The floor check uses the unclamped value so a
			// zero-minimum spec still rejects overfill.
			if req.Requested[spec.ID] > 0 && rawRemaining < spec.MinimumAmount {
				return nil, &Unavailable{Spec: spec, Remaining: remaining}
			}

			adjusted.MaximumAmount = remaining

			userCap := spec.MaximumAmountForUser
			if req.UserID != nil {
				if admin {
					userCap = spec.MaximumAmount
				} else {
					userCap, err = e.resolver.HardwareCap(*req.UserID, spec)
					if err != nil {
						return nil, err
					}
					if spec.Type == types.HardwareTypeGPU {
						gpuCap, err := e.resolver.GPUCap(*req.UserID, computer.ID)
						if err != nil {
							return nil, err
						}
						if userCap > gpuCap {
							userCap = gpuCap
						}
					}
				}
			}
			if userCap > remaining {
				userCap = remaining
			}
			adjusted.MaximumAmountForUser = userCap

			avail.Specs = append(avail.Specs, &adjusted)
		}
		result.Computers = append(result.Computers, avail)
	}

	images, err := e.store.ListContainerImages()
	if err != nil {
		return nil, err
	}
	for _, image := range images {
		if image.Removed {
			continue
		}
		result.Images = append(result.Images, image)
	}

	return result, nil
}

// DeviceConflict names a per-device spec held by another reservation.
type DeviceConflict struct {
	Spec *types.HardwareSpec
}

func (d *DeviceConflict) Error() string {
	return fmt.Sprintf("GPU %s (id: %s) is reserved by another reservation during the extension window.",
		d.Spec.Format, d.Spec.InternalID)
}

// CheckDevices verifies that none of the given per-device GPU specs is
// held by any other active reservation overlapping [start, end). Used
// for extensions, where a specific device must stay with its holder.
func (e *Engine) CheckDevices(start, end time.Time, specIDs []int64, ignoreID int64) error {
	if len(specIDs) == 0 {
		return nil
	}
	reservations, err := e.store.ListReservationsOverlapping(start, end)
	if err != nil {
		return err
	}
	for _, reservation := range reservations {
		if !reservation.Status.Active() || reservation.ID == ignoreID {
			continue
		}
		for _, held := range reservation.HardwareSpecs {
			for _, specID := range specIDs {
				if held.HardwareSpecID != specID {
					continue
				}
				spec, err := e.store.GetHardwareSpec(specID)
				if err != nil {
					return err
				}
				if spec.Type == types.HardwareTypeGPU {
					return &DeviceConflict{Spec: spec}
				}
			}
		}
	}
	return nil
}
