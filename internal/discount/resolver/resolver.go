// Package resolver enforces the mutual-exclusion rules of the discount catalog.
//
// Two groups are exclusive: every customer type discount, and every
// non-system bundle discount. The system-generated auto-bundle entry may
// coexist with anything. Conflicts are resolved silently by disabling the
// losing entries.
package resolver

import (
	discountdomain "github.com/smallbiznis/proposalpricing/internal/discount/domain"
)

// Resolve returns a corrected copy of types after changedID was modified.
// When the changed entry is enabled it wins its group; otherwise the group is
// normalized by priority. Entries outside the changed entry's category are
// never touched. Unknown ids return an unchanged copy.
func Resolve(types []discountdomain.DiscountType, changedID string) []discountdomain.DiscountType {
	out := discountdomain.Clone(types)
	idx := discountdomain.Find(out, changedID)
	if idx < 0 {
		return out
	}

	changed := out[idx]
	zeroDisabled(out, changed.Category)
	if !changed.Exclusive() {
		return out
	}

	if changed.IsEnabled {
		for i := range out {
			if i == idx || !sameGroup(out[i], changed) {
				continue
			}
			if out[i].IsEnabled {
				out[i].Disable()
			}
		}
		return out
	}

	keepHighestPriority(out, changed.Category)
	return out
}

// Normalize resolves every exclusive group without a changed entry, keeping
// the highest-priority enabled discount of each group.
func Normalize(types []discountdomain.DiscountType) []discountdomain.DiscountType {
	out := discountdomain.Clone(types)
	for _, category := range []discountdomain.Category{
		discountdomain.CustomerType,
		discountdomain.Loyalty,
		discountdomain.Bundle,
	} {
		zeroDisabled(out, category)
		keepHighestPriority(out, category)
	}
	return out
}

// Violations counts exclusive groups holding more than one enabled entry.
func Violations(types []discountdomain.DiscountType) int {
	enabled := map[discountdomain.Category]int{}
	for _, t := range types {
		if t.IsEnabled && t.Exclusive() {
			enabled[t.Category]++
		}
	}
	violations := 0
	for _, n := range enabled {
		if n > 1 {
			violations++
		}
	}
	return violations
}

func keepHighestPriority(out []discountdomain.DiscountType, category discountdomain.Category) {
	winner := -1
	for i := range out {
		t := out[i]
		if t.Category != category || !t.Exclusive() || !t.IsEnabled {
			continue
		}
		if winner < 0 || t.Priority > out[winner].Priority {
			winner = i
		}
	}
	if winner < 0 {
		return
	}
	for i := range out {
		if i == winner || !sameGroup(out[i], out[winner]) {
			continue
		}
		if out[i].IsEnabled {
			out[i].Disable()
		}
	}
}

func zeroDisabled(out []discountdomain.DiscountType, category discountdomain.Category) {
	for i := range out {
		if out[i].Category == category && !out[i].IsEnabled && out[i].Amount != 0 {
			out[i].Amount = 0
		}
	}
}

func sameGroup(a, b discountdomain.DiscountType) bool {
	return a.Category == b.Category && a.Exclusive() && b.Exclusive()
}
