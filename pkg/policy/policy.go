package policy

import (
	"fmt"

	"github.com/corralhq/corral/pkg/storage"
	"github.com/corralhq/corral/pkg/types"
)

// Defaults are the reservation limits applied when no role overrides
// them. They mirror the node configuration.
type Defaults struct {
	MinDurationHours      int
	MaxDurationHours      int
	AdminMaxDurationHours int
	MaxActiveReservations int
	AdminMaxActive        int
}

// StandardDefaults returns the stock limit defaults.
func StandardDefaults() Defaults {
	return Defaults{
		MinDurationHours:      1,
		MaxDurationHours:      48,
		AdminMaxDurationHours: 1440,
		MaxActiveReservations: 1,
		AdminMaxActive:        99,
	}
}

// Limits are a user's effective reservation limits after merging all
// roles they hold.
type Limits struct {
	MinDurationHours      int
	MaxDurationHours      int
	MaxActiveReservations int
}

// Resolver computes effective policy for a user from the current store
// snapshot. It performs no mutation.
type Resolver struct {
	store    storage.Store
	defaults Defaults
}

// NewResolver creates a policy resolver.
func NewResolver(store storage.Store, defaults Defaults) *Resolver {
	return &Resolver{store: store, defaults: defaults}
}

// EffectiveRoles returns the roles the user holds plus the implicit
// everyone role. Dangling role IDs (deleted roles) are skipped.
func (r *Resolver) EffectiveRoles(userID int64) ([]*types.Role, error) {
	user, err := r.store.GetUser(userID)
	if err != nil {
		return nil, err
	}

	var roles []*types.Role
	for _, roleID := range user.RoleIDs {
		role, err := r.store.GetRole(roleID)
		if err != nil {
			continue
		}
		roles = append(roles, role)
	}

	everyone, err := r.store.GetRoleByName(types.RoleEveryone)
	if err == nil {
		present := false
		for _, role := range roles {
			if role.ID == everyone.ID {
				present = true
				break
			}
		}
		if !present {
			roles = append(roles, everyone)
		}
	}
	return roles, nil
}

// IsAdmin reports whether the user holds a role named admin.
func (r *Resolver) IsAdmin(userID int64) (bool, error) {
	roles, err := r.EffectiveRoles(userID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if role.Name == types.RoleAdmin {
			return true, nil
		}
	}
	return false, nil
}

// HardwareCap returns the user's per-reservation cap for one hardware
// spec: the maximum across the user's role limits, falling back to the
// spec's own per-user maximum.
func (r *Resolver) HardwareCap(userID int64, spec *types.HardwareSpec) (int64, error) {
	roles, err := r.EffectiveRoles(userID)
	if err != nil {
		return 0, err
	}
	return MergeHardwareCap(roles, spec), nil
}

// GPUCap returns how many GPU devices the user may hold in one
// reservation on the given computer. Admins are unbounded; a non-admin
// without a role-granted cap gets one.
func (r *Resolver) GPUCap(userID, computerID int64) (int64, error) {
	admin, err := r.IsAdmin(userID)
	if err != nil {
		return 0, err
	}
	specs, err := r.store.ListHardwareSpecsByComputer(computerID)
	if err != nil {
		return 0, err
	}
	var aggregate *types.HardwareSpec
	for _, spec := range specs {
		if spec.Type == types.HardwareTypeGPUs {
			aggregate = spec
			break
		}
	}
	if admin {
		if aggregate != nil {
			return aggregate.MaximumAmount, nil
		}
		return 0, nil
	}
	if aggregate == nil {
		return 0, nil
	}
	roles, err := r.EffectiveRoles(userID)
	if err != nil {
		return 0, err
	}
	return MergeGPUCap(roles, aggregate.ID), nil
}

// Limits returns the user's merged reservation limits.
func (r *Resolver) Limits(userID int64) (Limits, error) {
	roles, err := r.EffectiveRoles(userID)
	if err != nil {
		return Limits{}, err
	}
	admin := false
	for _, role := range roles {
		if role.Name == types.RoleAdmin {
			admin = true
			break
		}
	}
	return MergeLimits(roles, admin, r.defaults), nil
}

// Mounts returns the union of mount definitions across the user's
// effective roles, filtered to the computer and de-duplicated on
// (hostPath, containerPath).
func (r *Resolver) Mounts(userID, computerID int64) ([]types.RoleMount, error) {
	roles, err := r.EffectiveRoles(userID)
	if err != nil {
		return nil, err
	}
	return MergeMounts(roles, computerID), nil
}

// MergeHardwareCap takes the most permissive role cap for the spec, or
// the spec's own per-user maximum when no role raises it.
func MergeHardwareCap(roles []*types.Role, spec *types.HardwareSpec) int64 {
	var best *int64
	for _, role := range roles {
		for _, limit := range role.HardwareLimits {
			if limit.HardwareSpecID != spec.ID || limit.MaximumAmountForRole == nil {
				continue
			}
			if best == nil || *limit.MaximumAmountForRole > *best {
				best = limit.MaximumAmountForRole
			}
		}
	}
	if best != nil {
		return *best
	}
	return spec.MaximumAmountForUser
}

// MergeGPUCap merges role caps attached to the computer's GPU
// aggregate spec. Without any role cap the answer is one.
func MergeGPUCap(roles []*types.Role, gpuAggregateSpecID int64) int64 {
	var best int64 = 1
	for _, role := range roles {
		for _, limit := range role.HardwareLimits {
			if limit.HardwareSpecID != gpuAggregateSpecID || limit.MaximumAmountForRole == nil {
				continue
			}
			if *limit.MaximumAmountForRole > best {
				best = *limit.MaximumAmountForRole
			}
		}
	}
	return best
}

// MergeLimits merges role reservation limits most-permissively:
// minimum duration takes the smallest value, maximum duration and
// active count take the largest.
func MergeLimits(roles []*types.Role, admin bool, defaults Defaults) Limits {
	limits := Limits{
		MinDurationHours:      defaults.MinDurationHours,
		MaxDurationHours:      defaults.MaxDurationHours,
		MaxActiveReservations: defaults.MaxActiveReservations,
	}
	if admin {
		limits.MaxDurationHours = defaults.AdminMaxDurationHours
		limits.MaxActiveReservations = defaults.AdminMaxActive
	}

	for _, role := range roles {
		rl := role.ReservationLimit
		if rl == nil {
			continue
		}
		if rl.MinDurationHours != nil && *rl.MinDurationHours < limits.MinDurationHours {
			limits.MinDurationHours = *rl.MinDurationHours
		}
		if rl.MaxDurationHours != nil && *rl.MaxDurationHours > limits.MaxDurationHours {
			limits.MaxDurationHours = *rl.MaxDurationHours
		}
		if rl.MaxActiveReservations != nil && *rl.MaxActiveReservations > limits.MaxActiveReservations {
			limits.MaxActiveReservations = *rl.MaxActiveReservations
		}
	}
	return limits
}

// MergeMounts unions role mounts for one computer, first definition
// wins on duplicate (hostPath, containerPath) pairs.
func MergeMounts(roles []*types.Role, computerID int64) []types.RoleMount {
	var mounts []types.RoleMount
	seen := make(map[string]bool)
	for _, role := range roles {
		for _, mount := range role.Mounts {
			if mount.ComputerID != computerID {
				continue
			}
			key := fmt.Sprintf("%s\x00%s", mount.HostPath, mount.ContainerPath)
			if seen[key] {
				continue
			}
			seen[key] = true
			mounts = append(mounts, mount)
		}
	}
	return mounts
}
