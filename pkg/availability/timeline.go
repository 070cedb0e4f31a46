package availability

import (
	"sort"
	"time"

	"github.com/corralhq/corral/pkg/types"
)

// Level buckets how much of a computer remains free in a sub-interval.
type Level string

const (
	LevelHigh   Level = "high"   // more than 75% remaining
	LevelMedium Level = "medium" // more than 25% remaining
	LevelLow    Level = "low"
)

// Segment is one homogeneous availability stretch of one computer,
// produced for calendar rendering.
type Segment struct {
	ComputerID   int64
	ComputerName string
	Start        time.Time
	End          time.Time
	Level        Level
}

// Timeline splits [start, end) at every boundary of an overlapping
// active reservation and buckets each sub-interval per computer by the
// minimum remaining ratio across its aggregate specs.
func (e *Engine) Timeline(start, end time.Time) ([]*Segment, error) {
	if !start.Before(end) {
		return nil, nil
	}

	reservations, err := e.store.ListReservationsOverlapping(start, end)
	if err != nil {
		return nil, err
	}
	var active []*types.Reservation
	for _, reservation := range reservations {
		if reservation.Status.Active() {
			active = append(active, reservation)
		}
	}

	boundaries := e.splitPoints(start, end, active)

	computers, err := e.store.ListComputers()
	if err != nil {
		return nil, err
	}

	var segments []*Segment
	for _, computer := range computers {
		if computer.Removed || !computer.Public {
			continue
		}
		specs, err := e.store.ListHardwareSpecsByComputer(computer.ID)
		if err != nil {
			return nil, err
		}

		var previous *Segment
		for i := 0; i < len(boundaries)-1; i++ {
			subStart, subEnd := boundaries[i], boundaries[i+1]
			level := bucketLevel(specs, active, subStart, subEnd)

			// Merge adjacent sub-intervals at the same level.
			if previous != nil && previous.Level == level && previous.End.Equal(subStart) {
				previous.End = subEnd
				continue
			}
			previous = &Segment{
				ComputerID:   computer.ID,
				ComputerName: computer.Name,
				Start:        subStart,
				End:          subEnd,
				Level:        level,
			}
			segments = append(segments, previous)
		}
	}
	return segments, nil
}

// splitPoints returns the sorted boundary instants of [start, end),
// including every reservation edge falling strictly inside it.
func (e *Engine) splitPoints(start, end time.Time, reservations []*types.Reservation) []time.Time {
	set := map[time.Time]bool{start: true, end: true}
	for _, reservation := range reservations {
		if reservation.StartDate.After(start) && reservation.StartDate.Before(end) {
			set[reservation.StartDate] = true
		}
		if reservation.EndDate.After(start) && reservation.EndDate.Before(end) {
			set[reservation.EndDate] = true
		}
	}
	points := make([]time.Time, 0, len(set))
	for point := range set {
		points = append(points, point)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Before(points[j]) })
	return points
}

// bucketLevel computes the minimum remaining ratio across the aggregate
// specs of one computer over [start, end) and buckets it.
func bucketLevel(specs []*types.HardwareSpec, reservations []*types.Reservation, start, end time.Time) Level {
	minRatio := 1.0
	for _, spec := range specs {
		switch spec.Type {
		case types.HardwareTypeCPUs, types.HardwareTypeRAM, types.HardwareTypeGPUs:
		default:
			continue
		}
		if spec.MaximumAmount == 0 {
			continue
		}

		var committed int64
		for _, reservation := range reservations {
			if !overlaps(reservation, start, end) {
				continue
			}
			for _, held := range reservation.HardwareSpecs {
				if held.HardwareSpecID == spec.ID {
					committed += held.Amount
				}
			}
		}

		remaining := spec.MaximumAmount - committed
		if remaining < 0 {
			remaining = 0
		}
		ratio := float64(remaining) / float64(spec.MaximumAmount)
		if ratio < minRatio {
			minRatio = ratio
		}
	}

	switch {
	case minRatio > 0.75:
		return LevelHigh
	case minRatio > 0.25:
		return LevelMedium
	default:
		return LevelLow
	}
}
