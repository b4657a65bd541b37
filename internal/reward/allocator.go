package reward

import (
	"github.com/crowdsense/crowdsense-worker/internal/measurement"
	"github.com/shopspring/decimal"
)

// DefaultPrecision is the number of fractional digits shares are rounded to
const DefaultPrecision int32 = 6

// Outcome describes how an allocation ended
type Outcome string

const (
	// OutcomeDistributed means at least one contributor received a share
	OutcomeDistributed Outcome = "distributed"
	// OutcomeNoContributions means no submission could be attributed to anyone
	OutcomeNoContributions Outcome = "no_contributions"
	// OutcomeNoReward means there were contributors but the reward pool is zero
	OutcomeNoReward Outcome = "no_reward"
)

// Share is one contributor's portion of the reward pool
type Share struct {
	Address string          `json:"address"`
	Units   int64           `json:"units"`
	Amount  decimal.Decimal `json:"amount"`
}

// Allocation is the result of splitting a reward pool among contributors
type Allocation struct {
	Outcome    Outcome         `json:"outcome"`
	TotalUnits int64           `json:"total_units"`
	Shares     []Share         `json:"shares"`
	Total      decimal.Decimal `json:"total"`
}

// Sum returns the total of all distributed shares
func (a Allocation) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, s := range a.Shares {
		sum = sum.Add(s.Amount)
	}
	return sum
}

// Allocator splits a reward pool in proportion to contributed measurements
type Allocator struct {
	precision int32
}

// NewAllocator creates an allocator rounding shares to precision fractional digits
func NewAllocator(precision int32) *Allocator {
	if precision < 0 {
		precision = DefaultPrecision
	}
	return &Allocator{precision: precision}
}

// Allocate computes each contributor's share of rewardTotal. Every data item
// in an attributable submission is one unit of contribution. Submissions the
// resolver cannot attribute are ignored. rewardTotal must already be validated
// as non-negative by the caller.
func (a *Allocator) Allocate(rewardTotal decimal.Decimal, submissions []measurement.Submission, resolver Resolver) Allocation {
	units := make(map[string]int64)
	var order []string
	var totalUnits int64

	for _, sub := range submissions {
		addr, ok := resolver.Resolve(sub)
		if !ok {
			continue
		}
		if _, seen := units[addr]; !seen {
			order = append(order, addr)
		}
		n := int64(len(sub.Items))
		units[addr] += n
		totalUnits += n
	}

	result := Allocation{
		TotalUnits: totalUnits,
		Total:      rewardTotal,
		Shares:     []Share{},
	}

	if totalUnits == 0 {
		result.Outcome = OutcomeNoContributions
		return result
	}
	if rewardTotal.IsZero() {
		result.Outcome = OutcomeNoReward
		return result
	}

	denominator := decimal.NewFromInt(totalUnits)
	for _, addr := range order {
		// an address whose submissions were all empty contributed nothing
		if units[addr] == 0 {
			continue
		}
		amount := rewardTotal.
			Mul(decimal.NewFromInt(units[addr])).
			Div(denominator).
			Round(a.precision)
		result.Shares = append(result.Shares, Share{
			Address: addr,
			Units:   units[addr],
			Amount:  amount,
		})
	}

	result.Outcome = OutcomeDistributed
	return result
}
