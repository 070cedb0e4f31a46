package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/pkg/storage"
	"github.com/corralhq/corral/pkg/types"
)

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func TestMergeHardwareCap(t *testing.T) {
	spec := &types.HardwareSpec{ID: 7, MaximumAmountForUser: 4}

	tests := []struct {
		name     string
		roles    []*types.Role
		expected int64
	}{
		{
			name:     "no roles falls back to spec default",
			roles:    nil,
			expected: 4,
		},
		{
			name: "role raising the cap wins",
			roles: []*types.Role{
				{HardwareLimits: []types.RoleHardwareLimit{{HardwareSpecID: 7, MaximumAmountForRole: int64Ptr(16)}}},
			},
			expected: 16,
		},
		{
			name: "most permissive role wins",
			roles: []*types.Role{
				{HardwareLimits: []types.RoleHardwareLimit{{HardwareSpecID: 7, MaximumAmountForRole: int64Ptr(8)}}},
				{HardwareLimits: []types.RoleHardwareLimit{{HardwareSpecID: 7, MaximumAmountForRole: int64Ptr(32)}}},
			},
			expected: 32,
		},
		{
			name: "limits for other specs are ignored",
			roles: []*types.Role{
				{HardwareLimits: []types.RoleHardwareLimit{{HardwareSpecID: 9, MaximumAmountForRole: int64Ptr(64)}}},
			},
			expected: 4,
		},
		{
			name: "nil amount means use the spec default",
			roles: []*types.Role{
				{HardwareLimits: []types.RoleHardwareLimit{{HardwareSpecID: 7, MaximumAmountForRole: nil}}},
			},
			expected: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MergeHardwareCap(tt.roles, spec))
		})
	}
}

func TestMergeGPUCap(t *testing.T) {
	tests := []struct {
		name     string
		roles    []*types.Role
		expected int64
	}{
		{
			name:     "default is one device",
			roles:    nil,
			expected: 1,
		},
		{
			name: "role cap on the aggregate spec raises it",
			roles: []*types.Role{
				{HardwareLimits: []types.RoleHardwareLimit{{HardwareSpecID: 3, MaximumAmountForRole: int64Ptr(4)}}},
			},
			expected: 4,
		},
		{
			name: "caps below the default do not lower it",
			roles: []*types.Role{
				{HardwareLimits: []types.RoleHardwareLimit{{HardwareSpecID: 3, MaximumAmountForRole: int64Ptr(0)}}},
			},
			expected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MergeGPUCap(tt.roles, 3))
		})
	}
}

func TestMergeLimits(t *testing.T) {
	defaults := StandardDefaults()

	tests := []struct {
		name     string
		roles    []*types.Role
		admin    bool
		expected Limits
	}{
		{
			name:  "defaults without roles",
			roles: nil,
			expected: Limits{
				MinDurationHours:      1,
				MaxDurationHours:      48,
				MaxActiveReservations: 1,
			},
		},
		{
			name:  "admin gets the wide defaults",
			admin: true,
			expected: Limits{
				MinDurationHours:      1,
				MaxDurationHours:      1440,
				MaxActiveReservations: 99,
			},
		},
		{
			name: "roles merge most permissively",
			roles: []*types.Role{
				{ReservationLimit: &types.RoleReservationLimit{MaxDurationHours: intPtr(72)}},
				{ReservationLimit: &types.RoleReservationLimit{MaxActiveReservations: intPtr(3)}},
			},
			expected: Limits{
				MinDurationHours:      1,
				MaxDurationHours:      72,
				MaxActiveReservations: 3,
			},
		},
		{
			name: "roles cannot tighten below the defaults",
			roles: []*types.Role{
				{ReservationLimit: &types.RoleReservationLimit{
					MaxDurationHours:      intPtr(24),
					MaxActiveReservations: intPtr(0),
				}},
			},
			expected: Limits{
				MinDurationHours:      1,
				MaxDurationHours:      48,
				MaxActiveReservations: 1,
			},
		},
		{
			name: "minimum duration takes the smallest value",
			roles: []*types.Role{
				{ReservationLimit: &types.RoleReservationLimit{MinDurationHours: intPtr(0)}},
			},
			expected: Limits{
				MinDurationHours:      0,
				MaxDurationHours:      48,
				MaxActiveReservations: 1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MergeLimits(tt.roles, tt.admin, defaults))
		})
	}
}

func TestMergeMounts(t *testing.T) {
	roles := []*types.Role{
		{Mounts: []types.RoleMount{
			{ComputerID: 1, HostPath: "/data/{email}", ContainerPath: "/home/user/data"},
			{ComputerID: 2, HostPath: "/other", ContainerPath: "/mnt/other"},
		}},
		{Mounts: []types.RoleMount{
			{ComputerID: 1, HostPath: "/data/{email}", ContainerPath: "/home/user/data", ReadOnly: true},
			{ComputerID: 1, HostPath: "/datasets", ContainerPath: "/home/user/datasets", ReadOnly: true},
		}},
	}

	mounts := MergeMounts(roles, 1)
	require.Len(t, mounts, 2)

	// First definition wins on duplicates, so the duplicate stays
	// writable.
	assert.Equal(t, "/data/{email}", mounts[0].HostPath)
	assert.False(t, mounts[0].ReadOnly)
	assert.Equal(t, "/datasets", mounts[1].HostPath)
	assert.True(t, mounts[1].ReadOnly)
}

func newTestResolver(t *testing.T) (*Resolver, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewResolver(store, StandardDefaults()), store
}

func TestResolverEffectiveRoles(t *testing.T) {
	resolver, store := newTestResolver(t)

	everyone := &types.Role{Name: types.RoleEveryone}
	require.NoError(t, store.CreateRole(everyone))
	power := &types.Role{Name: "power-users"}
	require.NoError(t, store.CreateRole(power))

	user := &types.User{Email: "alice@example.com", RoleIDs: []int64{power.ID, 999}}
	require.NoError(t, store.CreateUser(user))

	roles, err := resolver.EffectiveRoles(user.ID)
	require.NoError(t, err)

	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	// The dangling role ID 999 is skipped, everyone is implicit.
	assert.ElementsMatch(t, []string{"power-users", "everyone"}, names)
}

func TestResolverIsAdmin(t *testing.T) {
	resolver, store := newTestResolver(t)

	admin := &types.Role{Name: types.RoleAdmin}
	require.NoError(t, store.CreateRole(admin))

	root := &types.User{Email: "root@example.com", RoleIDs: []int64{admin.ID}}
	require.NoError(t, store.CreateUser(root))
	plain := &types.User{Email: "plain@example.com"}
	require.NoError(t, store.CreateUser(plain))

	isAdmin, err := resolver.IsAdmin(root.ID)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	isAdmin, err = resolver.IsAdmin(plain.ID)
	require.NoError(t, err)
	assert.False(t, isAdmin)
}

func TestResolverGPUCap(t *testing.T) {
	resolver, store := newTestResolver(t)

	computer := &types.Computer{Name: "gpu-box", Public: true}
	require.NoError(t, store.CreateComputer(computer))
	aggregate := &types.HardwareSpec{
		ComputerID:    computer.ID,
		Type:          types.HardwareTypeGPUs,
		MaximumAmount: 8,
		Format:        "GPUs",
	}
	require.NoError(t, store.CreateHardwareSpec(aggregate))

	adminRole := &types.Role{Name: types.RoleAdmin}
	require.NoError(t, store.CreateRole(adminRole))
	gpuRole := &types.Role{
		Name: "gpu-power",
		HardwareLimits: []types.RoleHardwareLimit{
			{HardwareSpecID: aggregate.ID, MaximumAmountForRole: int64Ptr(4)},
		},
	}
	require.NoError(t, store.CreateRole(gpuRole))

	admin := &types.User{Email: "admin@example.com", RoleIDs: []int64{adminRole.ID}}
	require.NoError(t, store.CreateUser(admin))
	power := &types.User{Email: "power@example.com", RoleIDs: []int64{gpuRole.ID}}
	require.NoError(t, store.CreateUser(power))
	plain := &types.User{Email: "plain@example.com"}
	require.NoError(t, store.CreateUser(plain))

	got, err := resolver.GPUCap(admin.ID, computer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), got, "admins get the whole aggregate")

	got, err = resolver.GPUCap(power.ID, computer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got)

	got, err = resolver.GPUCap(plain.ID, computer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got, "non-admins default to one device")
}
