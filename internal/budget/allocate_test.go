package budget

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func canonicalShares(execFrac, driverFrac float64) []Share {
	return []Share{
		{Name: "executor", Role: RoleExecutor, TargetFraction: execFrac, SoftMinMB: 1024, HardMinMB: 256},
		{Name: "driver", Role: RoleDriver, TargetFraction: driverFrac, SoftMinMB: 1024, HardMinMB: 256},
		{Name: "local", Role: RoleLocal, TargetFraction: 0.2, SoftMinMB: 256, HardMinMB: 128},
	}
}

func TestAllocate_ProportionalScaleDown(t *testing.T) {
	alloc, err := Allocate(4096, canonicalShares(0.8, 0.8), 512)
	require.NoError(t, err)

	// 3276+3276+512 overflows; scaled by 4096/7064 and truncated.
	assert.Equal(t, 1899, alloc.Get("executor"))
	assert.Equal(t, 1899, alloc.Get("driver"))
	assert.Equal(t, 296, alloc.Get("local"))
	assert.LessOrEqual(t, alloc.Total(), 4096)
}

func TestAllocate_FitsWithoutShrinking(t *testing.T) {
	shares := []Share{
		{Name: "executor", Role: RoleExecutor, TargetFraction: 0.4, SoftMinMB: 512, HardMinMB: 256},
		{Name: "driver", Role: RoleDriver, TargetFraction: 0.3, SoftMinMB: 512, HardMinMB: 256},
		{Name: "local", Role: RoleLocal, TargetFraction: 0.2, SoftMinMB: 256, HardMinMB: 128},
	}
	alloc, err := Allocate(10000, shares, 0)
	require.NoError(t, err)
	assert.Equal(t, Allocation{{"executor", 4000}, {"driver", 3000}, {"local", 2000}}, alloc)
}

func TestAllocate_LocalTargetOverridesFraction(t *testing.T) {
	alloc, err := Allocate(10000, canonicalShares(0.3, 0.3), 1500)
	require.NoError(t, err)
	assert.Equal(t, 1500, alloc.Get("local"))
}

func TestAllocate_ShrinksLargerOfExecutorAndDriver(t *testing.T) {
	shares := []Share{
		{Name: "executor", Role: RoleExecutor, TargetFraction: 0.5, SoftMinMB: 512, HardMinMB: 256},
		{Name: "driver", Role: RoleDriver, TargetFraction: 0.6, SoftMinMB: 512, HardMinMB: 256},
		{Name: "local", Role: RoleLocal, TargetFraction: 0.2, SoftMinMB: 400, HardMinMB: 128},
	}
	// Scaling leaves 1216+1459+400 = 3075; local sits at its soft minimum,
	// so all 75 MB come from the larger driver share.
	alloc, err := Allocate(3000, shares, 400)
	require.NoError(t, err)
	assert.Equal(t, Allocation{{"executor", 1216}, {"driver", 1384}, {"local", 400}}, alloc)
}

func TestAllocate_TieFavorsExecutor(t *testing.T) {
	shares := []Share{
		{Name: "executor", Role: RoleExecutor, TargetFraction: 0.5, SoftMinMB: 512, HardMinMB: 256},
		{Name: "driver", Role: RoleDriver, TargetFraction: 0.5, SoftMinMB: 512, HardMinMB: 256},
		{Name: "local", Role: RoleLocal, TargetFraction: 0.2, SoftMinMB: 400, HardMinMB: 128},
	}
	alloc, err := Allocate(3000, shares, 400)
	require.NoError(t, err)
	assert.Equal(t, Allocation{{"executor", 1300}, {"driver", 1300}, {"local", 400}}, alloc)

	// An odd overflow leaves the extra megabyte taken from the executor.
	alloc, err = Allocate(2999, shares, 400)
	require.NoError(t, err)
	assert.Equal(t, 2999, alloc.Total())
	assert.Equal(t, alloc.Get("executor")+1, alloc.Get("driver"))
}

func TestAllocate_DropsBelowSoftMinimumUnderPressure(t *testing.T) {
	// Soft minimums alone (1024+1024+256) exceed the ceiling: local is
	// drained to its hard minimum first, then executor and driver take
	// turns.
	alloc, err := Allocate(2000, canonicalShares(0.8, 0.8), 512)
	require.NoError(t, err)
	assert.Equal(t, Allocation{{"executor", 936}, {"driver", 936}, {"local", 128}}, alloc)
}

func TestAllocate_ExactlyHardMinimums(t *testing.T) {
	alloc, err := Allocate(640, canonicalShares(0.8, 0.8), 512)
	require.NoError(t, err)
	assert.Equal(t, Allocation{{"executor", 256}, {"driver", 256}, {"local", 128}}, alloc)
}

func TestAllocate_OtherSharesShrinkLast(t *testing.T) {
	shares := append(canonicalShares(0.3, 0.3), Share{
		Name: "cache", Role: RoleOther, TargetFraction: 0.3, SoftMinMB: 200, HardMinMB: 100,
	})
	alloc, err := Allocate(2600, shares, 0)
	require.NoError(t, err)
	assert.LessOrEqual(t, alloc.Total(), 2600)
	assert.Equal(t, 1024, alloc.Get("executor"))
	assert.Equal(t, 1024, alloc.Get("driver"))
	assert.Equal(t, 256, alloc.Get("local"))
	assert.Equal(t, 296, alloc.Get("cache"))
}

func TestAllocate_Unsatisfiable(t *testing.T) {
	alloc, err := Allocate(600, canonicalShares(0.8, 0.8), 0)
	require.Error(t, err)
	assert.Nil(t, alloc)
	assert.True(t, errors.Is(err, ErrConfiguration))

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "640MB")
}

func TestAllocate_InvalidShares(t *testing.T) {
	tests := []struct {
		name   string
		shares []Share
	}{
		{"hard above soft", []Share{{Name: "a", Role: RoleExecutor, TargetFraction: 0.5, SoftMinMB: 10, HardMinMB: 20}}},
		{"fraction zero", []Share{{Name: "a", Role: RoleExecutor, TargetFraction: 0, SoftMinMB: 10, HardMinMB: 5}}},
		{"fraction one", []Share{{Name: "a", Role: RoleExecutor, TargetFraction: 1, SoftMinMB: 10, HardMinMB: 5}}},
		{"duplicate", []Share{
			{Name: "a", Role: RoleExecutor, TargetFraction: 0.5},
			{Name: "a", Role: RoleDriver, TargetFraction: 0.5},
		}},
		{"unnamed", []Share{{Role: RoleExecutor, TargetFraction: 0.5}}},
		{"unknown role", []Share{{Name: "a", Role: "gpu", TargetFraction: 0.5}}},
		{"two locals", []Share{
			{Name: "a", Role: RoleLocal, TargetFraction: 0.5},
			{Name: "b", Role: RoleLocal, TargetFraction: 0.5},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Allocate(4096, tt.shares, 0)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestAllocate_Invariants(t *testing.T) {
	for total := 640; total <= 12000; total += 97 {
		for _, frac := range []float64{0.01, 0.3, 0.8, 0.85, 0.99} {
			for _, target := range []int{0, 128, 512, 4096} {
				shares := canonicalShares(frac, 0.85)
				alloc, err := Allocate(total, shares, target)
				require.NoError(t, err)
				assert.LessOrEqual(t, alloc.Total(), total, "total=%d frac=%v target=%d", total, frac, target)
				for i, s := range shares {
					assert.GreaterOrEqual(t, alloc[i].MB, s.HardMinMB, "share %s total=%d", s.Name, total)
				}

				again, err := Allocate(total, shares, target)
				require.NoError(t, err)
				assert.Equal(t, alloc, again)
			}
		}
	}
}

func TestReconcile_LocalAbsorbsOverflow(t *testing.T) {
	shares := canonicalShares(0.5, 0.5)
	values := []int{1000, 1000, 300}
	reconcile(values, shares, 2200)
	assert.Equal(t, []int{1000, 1000, 200}, values)

	values = []int{1000, 1000, 300}
	reconcile(values, shares, 2000)
	assert.Equal(t, []int{1000, 1000, 128}, values)
}

func TestAllocationString(t *testing.T) {
	a := Allocation{{"executor", 1899}, {"local", 296}}
	assert.Equal(t, "executor=1899MB local=296MB", a.String())
	assert.Equal(t, map[string]int{"executor": 1899, "local": 296}, a.Map())
}
