// Package tier maps account balance to capital tiers that bound how
// many positions an account may hold and how large each one may be.
package tier

import (
	"fmt"
	"sort"
)

// Rule defines the capital limits for one balance bucket. The floor
// and ceiling are fractions of the current balance.
type Rule struct {
	Name           string
	MinBalance     float64
	MaxBalance     float64 // 0 means unbounded
	MaxPositions   int
	MinPositionPct float64
	MaxPositionPct float64
}

// FloorUSD returns the smallest allowed position size for a balance.
func (r Rule) FloorUSD(balance float64) float64 {
	return r.MinPositionPct * balance
}

// CeilingUSD returns the largest allowed position size for a balance.
func (r Rule) CeilingUSD(balance float64) float64 {
	return r.MaxPositionPct * balance
}

// Table is an ordered set of tier rules looked up by balance.
type Table struct {
	rules []Rule
}

// NewTable validates and sorts the rules into a lookup table.
func NewTable(rules []Rule) (*Table, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("tier table is empty")
	}
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinBalance < sorted[j].MinBalance
	})
	for i, r := range sorted {
		if r.Name == "" {
			return nil, fmt.Errorf("tier %d has no name", i)
		}
		if r.MinPositionPct <= 0 || r.MaxPositionPct <= 0 {
			return nil, fmt.Errorf("tier %s: position percentages must be positive", r.Name)
		}
		if r.MinPositionPct > r.MaxPositionPct {
			return nil, fmt.Errorf("tier %s: floor %.2f exceeds ceiling %.2f",
				r.Name, r.MinPositionPct, r.MaxPositionPct)
		}
		if r.MaxPositions <= 0 {
			return nil, fmt.Errorf("tier %s: max positions must be positive", r.Name)
		}
		if r.MaxBalance != 0 && r.MaxBalance <= r.MinBalance {
			return nil, fmt.Errorf("tier %s: balance range [%.2f, %.2f) is empty",
				r.Name, r.MinBalance, r.MaxBalance)
		}
		if i > 0 && sorted[i-1].MaxBalance != r.MinBalance {
			return nil, fmt.Errorf("tier table gap between %s and %s",
				sorted[i-1].Name, r.Name)
		}
	}
	if last := sorted[len(sorted)-1]; last.MaxBalance != 0 {
		return nil, fmt.Errorf("tier %s: top tier must be unbounded", last.Name)
	}
	return &Table{rules: sorted}, nil
}

// DefaultTable returns the compiled-in tier table used when no table is
// configured.
func DefaultTable() *Table {
	t, err := NewTable(DefaultRules())
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultRules returns the built-in tier rules.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "MICRO", MinBalance: 0, MaxBalance: 100, MaxPositions: 1, MinPositionPct: 0.50, MaxPositionPct: 0.90},
		{Name: "STARTER", MinBalance: 100, MaxBalance: 250, MaxPositions: 2, MinPositionPct: 0.35, MaxPositionPct: 0.60},
		{Name: "INVESTOR", MinBalance: 250, MaxBalance: 1000, MaxPositions: 3, MinPositionPct: 0.22, MaxPositionPct: 0.40},
		{Name: "TRADER", MinBalance: 1000, MaxBalance: 5000, MaxPositions: 5, MinPositionPct: 0.10, MaxPositionPct: 0.25},
		{Name: "PROFESSIONAL", MinBalance: 5000, MaxBalance: 25000, MaxPositions: 8, MinPositionPct: 0.05, MaxPositionPct: 0.18},
		{Name: "INSTITUTIONAL", MinBalance: 25000, MaxBalance: 0, MaxPositions: 12, MinPositionPct: 0.02, MaxPositionPct: 0.15},
	}
}

// Lookup returns the rule covering a balance. Balances below the lowest
// tier fall into it; the top tier is unbounded.
func (t *Table) Lookup(balance float64) Rule {
	for _, r := range t.rules {
		if r.MaxBalance == 0 || balance < r.MaxBalance {
			return r
		}
	}
	return t.rules[len(t.rules)-1]
}

// Rules returns a copy of the ordered rules.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}
