/*
Package events provides an in-memory event broker for reservation lifecycle
notifications.

The events package implements a lightweight event bus for broadcasting state
changes to interested subscribers. It supports asynchronous delivery with
buffered channels, enabling loose coupling between the reservation service,
the reconciler, and anything observing them.

# Architecture

Publishing is non-blocking; a slow subscriber loses events rather than
stalling the producer:

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-agnostic (all events broadcast)    │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                       │          │
	│  │                                              │          │
	│  │  Reservation Events:                        │          │
	│  │    - reservation.created                    │          │
	│  │    - reservation.extended                   │          │
	│  │    - reservation.cancelled                  │          │
	│  │    - reservation.restart_requested          │          │
	│  │                                              │          │
	│  │  Container Events:                          │          │
	│  │    - container.started                      │          │
	│  │    - container.start_failed                 │          │
	│  │    - container.stopped                      │          │
	│  │    - container.restarted                    │          │
	│  │    - container.orphan_removed               │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

Every event carries the reservation, computer, and user IDs involved plus a
short human-readable message. Publish assigns a UUID and timestamp when the
producer left them empty, so callers can hand the broker a bare Event literal.
*/
package events
