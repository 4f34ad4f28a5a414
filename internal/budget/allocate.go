// Package budget sizes the memory shares of a single experiment run.
//
// A run has a fixed memory ceiling (usually the -Xmx of the launching JVM)
// that is split between the distributed driver, its executors and the
// local in-process buffer budget. Allocate performs the split; it is a pure
// function and safe for concurrent use.
package budget

import (
	"fmt"
	"math"
	"strings"
)

// Role decides where a share sits in the shrink order.
type Role string

const (
	RoleExecutor Role = "executor"
	RoleDriver   Role = "driver"
	RoleLocal    Role = "local"
	RoleOther    Role = "other"
)

// Share is one named consumer of the memory ceiling.
type Share struct {
	Name           string
	Role           Role
	TargetFraction float64 // of the ceiling, in (0,1)
	SoftMinMB      int     // preferred floor
	HardMinMB      int     // absolute floor, <= SoftMinMB
}

// Grant is the memory handed to one share.
type Grant struct {
	Name string `json:"name"`
	MB   int    `json:"mb"`
}

// Allocation lists grants in the order the shares were given.
type Allocation []Grant

// Get returns the grant for name, or 0 if there is none.
func (a Allocation) Get(name string) int {
	for _, g := range a {
		if g.Name == name {
			return g.MB
		}
	}
	return 0
}

// Total is the sum of all grants.
func (a Allocation) Total() int {
	sum := 0
	for _, g := range a {
		sum += g.MB
	}
	return sum
}

// Map returns the grants keyed by share name.
func (a Allocation) Map() map[string]int {
	m := make(map[string]int, len(a))
	for _, g := range a {
		m[g.Name] = g.MB
	}
	return m
}

func (a Allocation) String() string {
	parts := make([]string, len(a))
	for i, g := range a {
		parts[i] = fmt.Sprintf("%s=%dMB", g.Name, g.MB)
	}
	return strings.Join(parts, " ")
}

// Allocate splits totalMB between shares.
//
// Every share first gets its fraction of the ceiling (the local share gets
// localTargetMB instead when it is positive), raised to its soft minimum.
// An overflowing split is scaled down proportionally and re-raised to the
// soft minimums; whatever overflow remains is removed one megabyte at a
// time, in a fixed order, down to the hard minimums. The result never
// exceeds totalMB and never drops a share below its hard minimum.
//
// Allocate returns a *ConfigurationError when the shares are malformed or
// their hard minimums alone exceed totalMB.
func Allocate(totalMB int, shares []Share, localTargetMB int) (Allocation, error) {
	if err := validate(totalMB, shares); err != nil {
		return nil, err
	}

	values := make([]int, len(shares))
	for i, s := range shares {
		raw := int(math.Floor(float64(totalMB) * s.TargetFraction))
		if s.Role == RoleLocal && localTargetMB > 0 {
			raw = localTargetMB
		}
		values[i] = max(raw, s.SoftMinMB)
	}

	if sum := sumOf(values); sum > totalMB {
		for i, s := range shares {
			scaled := int(int64(values[i]) * int64(totalMB) / int64(sum))
			values[i] = max(scaled, s.SoftMinMB)
		}
	}

	shrink(values, shares, totalMB)

	for i, s := range shares {
		values[i] = max(values[i], s.HardMinMB)
	}
	reconcile(values, shares, totalMB)

	alloc := make(Allocation, len(shares))
	for i, s := range shares {
		alloc[i] = Grant{Name: s.Name, MB: values[i]}
	}
	return alloc, nil
}

func validate(totalMB int, shares []Share) error {
	if totalMB < 0 {
		return configErrorf("", "negative ceiling %dMB", totalMB)
	}
	seen := make(map[string]bool, len(shares))
	locals := 0
	hardSum := 0
	for _, s := range shares {
		switch {
		case s.Name == "":
			return configErrorf("", "share without a name")
		case seen[s.Name]:
			return configErrorf(s.Name, "duplicate share")
		case s.HardMinMB < 0 || s.SoftMinMB < 0:
			return configErrorf(s.Name, "negative minimum")
		case s.HardMinMB > s.SoftMinMB:
			return configErrorf(s.Name, "hard minimum %dMB above soft minimum %dMB", s.HardMinMB, s.SoftMinMB)
		case s.Role != RoleExecutor && s.Role != RoleDriver && s.Role != RoleLocal && s.Role != RoleOther:
			return configErrorf(s.Name, "unknown role %q", s.Role)
		case !(s.TargetFraction > 0 && s.TargetFraction < 1):
			return configErrorf(s.Name, "target fraction %v outside (0,1)", s.TargetFraction)
		}
		seen[s.Name] = true
		if s.Role == RoleLocal {
			locals++
		}
		hardSum += s.HardMinMB
	}
	if locals > 1 {
		return configErrorf("", "%d local shares, want at most one", locals)
	}
	if hardSum > totalMB {
		return configErrorf("", "hard minimums need %dMB but the ceiling is %dMB", hardSum, totalMB)
	}
	return nil
}

// shrink removes one megabyte at a time until the sum fits or no share can
// give any more. Shares above their soft minimum are drained before any
// share is taken below it.
func shrink(values []int, shares []Share, totalMB int) {
	soft := func(s Share) int { return s.SoftMinMB }
	hard := func(s Share) int { return s.HardMinMB }

	for sum := sumOf(values); sum > totalMB; sum-- {
		i := pick(values, shares, soft)
		if i < 0 {
			i = pick(values, shares, hard)
		}
		if i < 0 {
			return
		}
		values[i]--
	}
}

// pick returns the share to take the next megabyte from: the local share,
// then the larger of the executor and driver shares (executor on ties),
// then any other share in declaration order. Only shares above floor are
// eligible; -1 means none is.
func pick(values []int, shares []Share, floor func(Share) int) int {
	if i := localIndex(shares); i >= 0 && values[i] > floor(shares[i]) {
		return i
	}

	best := -1
	for i, s := range shares {
		if s.Role != RoleExecutor && s.Role != RoleDriver {
			continue
		}
		if values[i] <= floor(s) {
			continue
		}
		if best < 0 || values[i] > values[best] ||
			(values[i] == values[best] && s.Role == RoleExecutor && shares[best].Role != RoleExecutor) {
			best = i
		}
	}
	if best >= 0 {
		return best
	}

	for i, s := range shares {
		if s.Role == RoleOther && values[i] > floor(s) {
			return i
		}
	}
	return -1
}

// reconcile lets the local share absorb any overflow left after the hard
// minimums were restored.
func reconcile(values []int, shares []Share, totalMB int) {
	over := sumOf(values) - totalMB
	i := localIndex(shares)
	if over <= 0 || i < 0 {
		return
	}
	values[i] -= min(over, values[i]-shares[i].HardMinMB)
}

func localIndex(shares []Share) int {
	for i, s := range shares {
		if s.Role == RoleLocal {
			return i
		}
	}
	return -1
}

func sumOf(values []int) int {
	sum := 0
	for _, v := range values {
		sum += v
	}
	return sum
}
