package storage

import (
	"time"

	"github.com/corralhq/corral/pkg/types"
)

// Store defines the interface for reservation platform state storage.
// This will be implemented by BoltDB-backed storage.
type Store interface {
	// Users
	CreateUser(user *types.User) error
	GetUser(id int64) (*types.User, error)
	GetUserByEmail(email string) (*types.User, error)
	ListUsers() ([]*types.User, error)
	UpdateUser(user *types.User) error
	DeleteUser(id int64) error

	// Roles
	CreateRole(role *types.Role) error
	GetRole(id int64) (*types.Role, error)
	GetRoleByName(name string) (*types.Role, error)
	ListRoles() ([]*types.Role, error)
	UpdateRole(role *types.Role) error
	DeleteRole(id int64) error

	// Computers
	CreateComputer(computer *types.Computer) error
	GetComputer(id int64) (*types.Computer, error)
	GetComputerByName(name string) (*types.Computer, error)
	ListComputers() ([]*types.Computer, error)
	UpdateComputer(computer *types.Computer) error
	DeleteComputer(id int64) error

	// Hardware specs
	CreateHardwareSpec(spec *types.HardwareSpec) error
	GetHardwareSpec(id int64) (*types.HardwareSpec, error)
	ListHardwareSpecs() ([]*types.HardwareSpec, error)
	ListHardwareSpecsByComputer(computerID int64) ([]*types.HardwareSpec, error)
	UpdateHardwareSpec(spec *types.HardwareSpec) error
	DeleteHardwareSpec(id int64) error

	// Container images
	CreateContainerImage(image *types.ContainerImage) error
	GetContainerImage(id int64) (*types.ContainerImage, error)
	GetContainerImageByName(imageName string) (*types.ContainerImage, error)
	ListContainerImages() ([]*types.ContainerImage, error)
	UpdateContainerImage(image *types.ContainerImage) error
	DeleteContainerImage(id int64) error

	// Reservations
	CreateReservation(reservation *types.Reservation) error
	GetReservation(id int64) (*types.Reservation, error)
	ListReservations() ([]*types.Reservation, error)
	ListReservationsByUser(userID int64) ([]*types.Reservation, error)
	ListReservationsByComputer(computerID int64) ([]*types.Reservation, error)
	ListReservationsOverlapping(start, end time.Time) ([]*types.Reservation, error)
	CountActiveReservationsByUser(userID int64) (int, error)
	UpdateReservation(reservation *types.Reservation) error
	DeleteReservation(id int64) error

	// Access lists
	AddWhitelistEntry(email string) error
	RemoveWhitelistEntry(email string) error
	IsWhitelisted(email string) (bool, error)
	ListWhitelist() ([]*types.AccessListEntry, error)
	AddBlacklistEntry(email string) error
	RemoveBlacklistEntry(email string) error
	IsBlacklisted(email string) (bool, error)
	ListBlacklist() ([]*types.AccessListEntry, error)

	// Utility
	Close() error
}
