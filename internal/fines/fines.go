// Package fines implements the tiered fine schedule shared by activity
// overtime and shift tardiness. A schedule is a set of minute
// thresholds, each mapping to a flat amount; lookup picks the smallest
// threshold that is >= the actual minutes, and exceeding every
// threshold charges the worst tier rather than nothing.
package fines

import (
	"sort"
	"strconv"
	"strings"
)

type tier struct {
	limit  int
	amount int64
}

// Schedule is a parsed fine schedule, thresholds sorted ascending.
type Schedule struct {
	tiers     []tier
	maxAmount int64
	hasMax    bool
}

// Parse builds a Schedule from raw segment keys as stored in
// fine_configs / work_fine_configs. Keys are minute thresholds ("10",
// optionally with a "min" suffix) or the literal "max" for the
// beyond-all-tiers amount. Unparseable keys are skipped.
func Parse(raw map[string]int64) Schedule {
	var s Schedule
	for key, amount := range raw {
		k := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(key)), "min")
		if k == "max" {
			s.maxAmount = amount
			s.hasMax = true
			continue
		}
		limit, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		s.tiers = append(s.tiers, tier{limit: limit, amount: amount})
	}
	sort.Slice(s.tiers, func(i, j int) bool { return s.tiers[i].limit < s.tiers[j].limit })
	return s
}

// Empty reports whether the schedule has no tiers at all.
func (s Schedule) Empty() bool { return len(s.tiers) == 0 && !s.hasMax }

// Lookup returns the fine for the given overtime/tardy minutes. Zero or
// negative minutes cost nothing. The matching tier bound is inclusive:
// exactly 30 minutes against a 30-minute tier charges that tier. Past
// the last numeric tier the "max" amount applies if configured,
// otherwise the largest tier saturates.
func (s Schedule) Lookup(minutes float64) int64 {
	if minutes <= 0 {
		return 0
	}
	for _, t := range s.tiers {
		if minutes <= float64(t.limit) {
			return t.amount
		}
	}
	if s.hasMax {
		return s.maxAmount
	}
	if n := len(s.tiers); n > 0 {
		return s.tiers[n-1].amount
	}
	return 0
}
