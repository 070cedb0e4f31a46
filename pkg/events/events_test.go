package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFillsIdentityAndTimestamp(t *testing.T) {
	event := New(EventReservationCreated, 42, 7, 3, "reservation admitted")

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, EventReservationCreated, event.Type)
	assert.Equal(t, int64(42), event.ReservationID)
	assert.Equal(t, int64(7), event.ComputerID)
	assert.Equal(t, int64(3), event.UserID)
	assert.Equal(t, "reservation admitted", event.Message)
	assert.False(t, event.Timestamp.IsZero())
}

func TestBrokerDeliversToAllSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	first := broker.Subscribe()
	second := broker.Subscribe()
	assert.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(New(EventContainerStarted, 1, 1, 1, "container started"))

	for _, sub := range []Subscriber{first, second} {
		select {
		case event := <-sub:
			assert.Equal(t, EventContainerStarted, event.Type)
		case <-time.After(time.Second):
			t.Fatal("event was not delivered")
		}
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)
}

func TestPublishAssignsMissingID(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Publish(&Event{Type: EventReservationCancelled, ReservationID: 5})

	select {
	case event := <-sub:
		require.NotNil(t, event)
		assert.NotEmpty(t, event.ID)
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}
