package metrics

import (
	"time"

	"github.com/corralhq/corral/pkg/storage"
	"github.com/corralhq/corral/pkg/types"
)

// Collector refreshes the store-backed gauges on a fixed interval.
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectReservationMetrics()
	c.collectComputerMetrics()
}

func (c *Collector) collectReservationMetrics() {
	reservations, err := c.store.ListReservations()
	if err != nil {
		return
	}

	counts := map[types.ReservationStatus]int{
		types.StatusReserved: 0,
		types.StatusStarted:  0,
		types.StatusStopped:  0,
		types.StatusError:    0,
		types.StatusRestart:  0,
	}
	for _, reservation := range reservations {
		counts[reservation.Status]++
	}
	for status, count := range counts {
		ReservationsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectComputerMetrics() {
	computers, err := c.store.ListComputers()
	if err != nil {
		return
	}

	active := 0
	for _, computer := range computers {
		if !computer.Removed {
			active++
		}
	}
	ComputersTotal.Set(float64(active))
}
