/*
Package storage provides BoltDB-backed state persistence for reservation data.

The storage package implements the Store interface using BoltDB as the
underlying database, providing ACID transactions for users, roles, computers,
hardware specs, container images, reservations, and the email access lists.
All data is serialized as JSON and stored in separate buckets for efficient
querying and isolation.

# Architecture

Corral uses BoltDB (bbolt) for embedded, transactional storage with zero
external dependencies:

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <dataDir>/corral.db                │          │
	│  │  - Format: B+tree with MVCC                 │          │
	│  │  - Transactions: ACID with fsync            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  ┌──────────────────────────────────┐       │          │
	│  │  │ users            (User ID)       │       │          │
	│  │  │ roles            (Role ID)       │       │          │
	│  │  │ computers        (Computer ID)   │       │          │
	│  │  │ hardware_specs   (Spec ID)       │       │          │
	│  │  │ container_images (Image ID)      │       │          │
	│  │  │ reservations     (Reservation ID)│       │          │
	│  │  │ whitelist        (email)         │       │          │
	│  │  │ blacklist        (email)         │       │          │
	│  │  └──────────────────────────────────┘       │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        Transaction Management                │          │
	│  │  - Read: db.View() - Concurrent reads       │          │
	│  │  - Write: db.Update() - Serialized writes   │          │
	│  │  - Rollback: Automatic on error             │          │
	│  │  - Commit: Automatic on success + fsync     │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Keys and Identity

Numeric record IDs come from each bucket's NextSequence counter and are
encoded big-endian so that cursor order equals insertion order. Natural keys
(user email, role name, computer name, image name) are enforced with a
uniqueness scan inside the create transaction; duplicates fail with an
"already exists" error.

# Reservation Queries

Beyond plain CRUD the store answers the queries admission and reconciliation
are built on:

ListReservationsOverlapping(start, end):
  - Every reservation whose [StartDate, EndDate) intersects the interval
  - Touching endpoints do not overlap
  - Feeds the availability engine's committed-usage computation

ListReservationsByComputer(computerID):
  - The working set of one node's reconciler tick

CountActiveReservationsByUser(userID):
  - Reservations in status reserved or started
  - Backs the per-user active reservation limit

# Referential Integrity

Deleting a computer cascades to its hardware specs in the same transaction.
Reservations reference users, computers, and specs by ID; readers tolerate
dangling references by skipping them, so deleting a role or image never
breaks historical reservations.
*/
package storage
