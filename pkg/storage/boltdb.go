package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/corralhq/corral/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketUsers           = []byte("users")
	bucketRoles           = []byte("roles")
	bucketComputers       = []byte("computers")
	bucketHardwareSpecs   = []byte("hardware_specs")
	bucketContainerImages = []byte("container_images")
	bucketReservations    = []byte("reservations")
	bucketWhitelist       = []byte("whitelist")
	bucketBlacklist       = []byte("blacklist")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "corral.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketUsers,
			bucketRoles,
			bucketComputers,
			bucketHardwareSpecs,
			bucketContainerImages,
			bucketReservations,
			bucketWhitelist,
			bucketBlacklist,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// itob renders an integer ID as a bucket key
func itob(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}

// nextID draws a fresh ID from the bucket sequence
func nextID(b *bolt.Bucket) (int64, error) {
	seq, err := b.NextSequence()
	if err != nil {
		return 0, err
	}
	return int64(seq), nil
}

// User operations

func (s *BoltStore) CreateUser(user *types.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)

		// Emails are the natural key; reject duplicates
		var clash bool
		err := b.ForEach(func(k, v []byte) error {
			var existing types.User
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.Email == user.Email && existing.ID != user.ID {
				clash = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if clash {
			return fmt.Errorf("user already exists: %s", user.Email)
		}

		if user.ID == 0 {
			id, err := nextID(b)
			if err != nil {
				return err
			}
			user.ID = id
		}
		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		return b.Put(itob(user.ID), data)
	})
}

func (s *BoltStore) GetUser(id int64) (*types.User, error) {
	var user types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		data := b.Get(itob(id))
		if data == nil {
			return fmt.Errorf("user not found: %d", id)
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *BoltStore) GetUserByEmail(email string) (*types.User, error) {
	var found *types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var user types.User
			if err := json.Unmarshal(v, &user); err != nil {
				return err
			}
			if user.Email == email {
				found = &user
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("user not found: %s", email)
	}
	return found, nil
}

func (s *BoltStore) ListUsers() ([]*types.User, error) {
	var users []*types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var user types.User
			if err := json.Unmarshal(v, &user); err != nil {
				return err
			}
			users = append(users, &user)
			return nil
		})
	})
	return users, err
}

func (s *BoltStore) UpdateUser(user *types.User) error {
	return s.CreateUser(user) // Same as create (upsert)
}

func (s *BoltStore) DeleteUser(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.Delete(itob(id))
	})
}

// Role operations

func (s *BoltStore) CreateRole(role *types.Role) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoles)

		var clash bool
		err := b.ForEach(func(k, v []byte) error {
			var existing types.Role
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.Name == role.Name && existing.ID != role.ID {
				clash = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if clash {
			return fmt.Errorf("role already exists: %s", role.Name)
		}

		if role.ID == 0 {
			id, err := nextID(b)
			if err != nil {
				return err
			}
			role.ID = id
		}
		data, err := json.Marshal(role)
		if err != nil {
			return err
		}
		return b.Put(itob(role.ID), data)
	})
}

func (s *BoltStore) GetRole(id int64) (*types.Role, error) {
	var role types.Role
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoles)
		data := b.Get(itob(id))
		if data == nil {
			return fmt.Errorf("role not found: %d", id)
		}
		return json.Unmarshal(data, &role)
	})
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *BoltStore) GetRoleByName(name string) (*types.Role, error) {
	var found *types.Role
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoles)
		return b.ForEach(func(k, v []byte) error {
			var role types.Role
			if err := json.Unmarshal(v, &role); err != nil {
				return err
			}
			if role.Name == name {
				found = &role
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("role not found: %s", name)
	}
	return found, nil
}

func (s *BoltStore) ListRoles() ([]*types.Role, error) {
	var roles []*types.Role
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoles)
		return b.ForEach(func(k, v []byte) error {
			var role types.Role
			if err := json.Unmarshal(v, &role); err != nil {
				return err
			}
			roles = append(roles, &role)
			return nil
		})
	})
	return roles, err
}

func (s *BoltStore) UpdateRole(role *types.Role) error {
	return s.CreateRole(role)
}

// DeleteRole removes the role; its mounts and limits are embedded and
// go with it. Users keep a dangling role ID which resolvers skip.
func (s *BoltStore) DeleteRole(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoles)
		return b.Delete(itob(id))
	})
}

// Computer operations

func (s *BoltStore) CreateComputer(computer *types.Computer) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketComputers)

		var clash bool
		err := b.ForEach(func(k, v []byte) error {
			var existing types.Computer
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.Name == computer.Name && existing.ID != computer.ID {
				clash = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if clash {
			return fmt.Errorf("computer already exists: %s", computer.Name)
		}

		if computer.ID == 0 {
			id, err := nextID(b)
			if err != nil {
				return err
			}
			computer.ID = id
		}
		data, err := json.Marshal(computer)
		if err != nil {
			return err
		}
		return b.Put(itob(computer.ID), data)
	})
}

func (s *BoltStore) GetComputer(id int64) (*types.Computer, error) {
	var computer types.Computer
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketComputers)
		data := b.Get(itob(id))
		if data == nil {
			return fmt.Errorf("computer not found: %d", id)
		}
		return json.Unmarshal(data, &computer)
	})
	if err != nil {
		return nil, err
	}
	return &computer, nil
}

func (s *BoltStore) GetComputerByName(name string) (*types.Computer, error) {
	var found *types.Computer
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketComputers)
		return b.ForEach(func(k, v []byte) error {
			var computer types.Computer
			if err := json.Unmarshal(v, &computer); err != nil {
				return err
			}
			if computer.Name == name {
				found = &computer
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("computer not found: %s", name)
	}
	return found, nil
}

func (s *BoltStore) ListComputers() ([]*types.Computer, error) {
	var computers []*types.Computer
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketComputers)
		return b.ForEach(func(k, v []byte) error {
			var computer types.Computer
			if err := json.Unmarshal(v, &computer); err != nil {
				return err
			}
			computers = append(computers, &computer)
			return nil
		})
	})
	return computers, err
}

func (s *BoltStore) UpdateComputer(computer *types.Computer) error {
	return s.CreateComputer(computer)
}

// DeleteComputer removes the computer and its hardware specs.
func (s *BoltStore) DeleteComputer(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		specs := tx.Bucket(bucketHardwareSpecs)
		c := specs.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var spec types.HardwareSpec
			if err := json.Unmarshal(v, &spec); err != nil {
				return err
			}
			if spec.ComputerID == id {
				if err := specs.Delete(k); err != nil {
					return err
				}
			}
		}
		return tx.Bucket(bucketComputers).Delete(itob(id))
	})
}

// Hardware spec operations

func validateHardwareSpec(spec *types.HardwareSpec) error {
	if spec.MaximumAmount < 0 || spec.MinimumAmount < 0 ||
		spec.MaximumAmountForUser < 0 || spec.DefaultAmountForUser < 0 {
		return fmt.Errorf("invalid hardware spec %s: amounts must be non-negative", spec.Type)
	}
	if spec.MinimumAmount > spec.MaximumAmount {
		return fmt.Errorf("invalid hardware spec %s: minimum %d exceeds maximum %d",
			spec.Type, spec.MinimumAmount, spec.MaximumAmount)
	}
	if spec.MaximumAmountForUser > spec.MaximumAmount {
		return fmt.Errorf("invalid hardware spec %s: user maximum %d exceeds maximum %d",
			spec.Type, spec.MaximumAmountForUser, spec.MaximumAmount)
	}
	return nil
}

func (s *BoltStore) CreateHardwareSpec(spec *types.HardwareSpec) error {
	if err := validateHardwareSpec(spec); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHardwareSpecs)
		if spec.ID == 0 {
			id, err := nextID(b)
			if err != nil {
				return err
			}
			spec.ID = id
		}
		data, err := json.Marshal(spec)
		if err != nil {
			return err
		}
		return b.Put(itob(spec.ID), data)
	})
}

func (s *BoltStore) GetHardwareSpec(id int64) (*types.HardwareSpec, error) {
	var spec types.HardwareSpec
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHardwareSpecs)
		data := b.Get(itob(id))
		if data == nil {
			return fmt.Errorf("hardware spec not found: %d", id)
		}
		return json.Unmarshal(data, &spec)
	})
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

func (s *BoltStore) ListHardwareSpecs() ([]*types.HardwareSpec, error) {
	var specs []*types.HardwareSpec
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHardwareSpecs)
		return b.ForEach(func(k, v []byte) error {
			var spec types.HardwareSpec
			if err := json.Unmarshal(v, &spec); err != nil {
				return err
			}
			specs = append(specs, &spec)
			return nil
		})
	})
	return specs, err
}

func (s *BoltStore) ListHardwareSpecsByComputer(computerID int64) ([]*types.HardwareSpec, error) {
	specs, err := s.ListHardwareSpecs()
	if err != nil {
		return nil, err
	}

	var filtered []*types.HardwareSpec
	for _, spec := range specs {
		if spec.ComputerID == computerID {
			filtered = append(filtered, spec)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateHardwareSpec(spec *types.HardwareSpec) error {
	return s.CreateHardwareSpec(spec)
}

func (s *BoltStore) DeleteHardwareSpec(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHardwareSpecs)
		return b.Delete(itob(id))
	})
}

// Container image operations

func (s *BoltStore) CreateContainerImage(image *types.ContainerImage) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainerImages)

		var clash bool
		err := b.ForEach(func(k, v []byte) error {
			var existing types.ContainerImage
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.ImageName == image.ImageName && existing.ID != image.ID {
				clash = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if clash {
			return fmt.Errorf("container image already exists: %s", image.ImageName)
		}

		if image.ID == 0 {
			id, err := nextID(b)
			if err != nil {
				return err
			}
			image.ID = id
		}
		// Image ports share the image sequence so their IDs stay unique
		for i := range image.Ports {
			if image.Ports[i].ID == 0 {
				id, err := nextID(b)
				if err != nil {
					return err
				}
				image.Ports[i].ID = id
			}
		}
		data, err := json.Marshal(image)
		if err != nil {
			return err
		}
		return b.Put(itob(image.ID), data)
	})
}

func (s *BoltStore) GetContainerImage(id int64) (*types.ContainerImage, error) {
	var image types.ContainerImage
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainerImages)
		data := b.Get(itob(id))
		if data == nil {
			return fmt.Errorf("container image not found: %d", id)
		}
		return json.Unmarshal(data, &image)
	})
	if err != nil {
		return nil, err
	}
	return &image, nil
}

func (s *BoltStore) GetContainerImageByName(imageName string) (*types.ContainerImage, error) {
	var found *types.ContainerImage
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainerImages)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var image types.ContainerImage
			if err := json.Unmarshal(v, &image); err != nil {
				return err
			}
			if image.ImageName == imageName {
				found = &image
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("container image not found: %s", imageName)
	}
	return found, nil
}

func (s *BoltStore) ListContainerImages() ([]*types.ContainerImage, error) {
	var images []*types.ContainerImage
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainerImages)
		return b.ForEach(func(k, v []byte) error {
			var image types.ContainerImage
			if err := json.Unmarshal(v, &image); err != nil {
				return err
			}
			images = append(images, &image)
			return nil
		})
	})
	return images, err
}

func (s *BoltStore) UpdateContainerImage(image *types.ContainerImage) error {
	return s.CreateContainerImage(image)
}

func (s *BoltStore) DeleteContainerImage(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContainerImages)
		return b.Delete(itob(id))
	})
}

// Reservation operations

func (s *BoltStore) CreateReservation(reservation *types.Reservation) error {
	if !reservation.StartDate.Before(reservation.EndDate) {
		return fmt.Errorf("reservation start date must be before end date")
	}
	for _, spec := range reservation.HardwareSpecs {
		if spec.Amount <= 0 {
			return fmt.Errorf("reserved amount must be positive for hardware spec %d", spec.HardwareSpecID)
		}
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReservations)
		if reservation.ID == 0 {
			id, err := nextID(b)
			if err != nil {
				return err
			}
			reservation.ID = id
		}
		data, err := json.Marshal(reservation)
		if err != nil {
			return err
		}
		return b.Put(itob(reservation.ID), data)
	})
}

func (s *BoltStore) GetReservation(id int64) (*types.Reservation, error) {
	var reservation types.Reservation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReservations)
		data := b.Get(itob(id))
		if data == nil {
			return fmt.Errorf("reservation not found: %d", id)
		}
		return json.Unmarshal(data, &reservation)
	})
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (s *BoltStore) ListReservations() ([]*types.Reservation, error) {
	var reservations []*types.Reservation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReservations)
		return b.ForEach(func(k, v []byte) error {
			var reservation types.Reservation
			if err := json.Unmarshal(v, &reservation); err != nil {
				return err
			}
			reservations = append(reservations, &reservation)
			return nil
		})
	})
	return reservations, err
}

func (s *BoltStore) ListReservationsByUser(userID int64) ([]*types.Reservation, error) {
	reservations, err := s.ListReservations()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Reservation
	for _, reservation := range reservations {
		if reservation.UserID == userID {
			filtered = append(filtered, reservation)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListReservationsByComputer(computerID int64) ([]*types.Reservation, error) {
	reservations, err := s.ListReservations()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Reservation
	for _, reservation := range reservations {
		if reservation.ComputerID == computerID {
			filtered = append(filtered, reservation)
		}
	}
	return filtered, nil
}

// ListReservationsOverlapping returns reservations whose interval
// intersects [start, end), regardless of status.
func (s *BoltStore) ListReservationsOverlapping(start, end time.Time) ([]*types.Reservation, error) {
	reservations, err := s.ListReservations()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Reservation
	for _, reservation := range reservations {
		if reservation.StartDate.Before(end) && reservation.EndDate.After(start) {
			filtered = append(filtered, reservation)
		}
	}
	return filtered, nil
}

func (s *BoltStore) CountActiveReservationsByUser(userID int64) (int, error) {
	reservations, err := s.ListReservationsByUser(userID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, reservation := range reservations {
		if reservation.Status.Active() {
			count++
		}
	}
	return count, nil
}

func (s *BoltStore) UpdateReservation(reservation *types.Reservation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReservations)
		data, err := json.Marshal(reservation)
		if err != nil {
			return err
		}
		return b.Put(itob(reservation.ID), data)
	})
}

func (s *BoltStore) DeleteReservation(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReservations)
		return b.Delete(itob(id))
	})
}

// Access list operations

func (s *BoltStore) addAccessListEntry(bucket []byte, email string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		entry := types.AccessListEntry{Email: email, CreatedAt: time.Now().UTC()}
		data, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(email), data)
	})
}

func (s *BoltStore) removeAccessListEntry(bucket []byte, email string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		return b.Delete([]byte(email))
	})
}

func (s *BoltStore) accessListContains(bucket []byte, email string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		found = b.Get([]byte(email)) != nil
		return nil
	})
	return found, err
}

func (s *BoltStore) listAccessList(bucket []byte) ([]*types.AccessListEntry, error) {
	var entries []*types.AccessListEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		return b.ForEach(func(k, v []byte) error {
			var entry types.AccessListEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	return entries, err
}

func (s *BoltStore) AddWhitelistEntry(email string) error {
	return s.addAccessListEntry(bucketWhitelist, email)
}

func (s *BoltStore) RemoveWhitelistEntry(email string) error {
	return s.removeAccessListEntry(bucketWhitelist, email)
}

func (s *BoltStore) IsWhitelisted(email string) (bool, error) {
	return s.accessListContains(bucketWhitelist, email)
}

func (s *BoltStore) ListWhitelist() ([]*types.AccessListEntry, error) {
	return s.listAccessList(bucketWhitelist)
}

func (s *BoltStore) AddBlacklistEntry(email string) error {
	return s.addAccessListEntry(bucketBlacklist, email)
}

func (s *BoltStore) RemoveBlacklistEntry(email string) error {
	return s.removeAccessListEntry(bucketBlacklist, email)
}

func (s *BoltStore) IsBlacklisted(email string) (bool, error) {
	return s.accessListContains(bucketBlacklist, email)
}

func (s *BoltStore) ListBlacklist() ([]*types.AccessListEntry, error) {
	return s.listAccessList(bucketBlacklist)
}
