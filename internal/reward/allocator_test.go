package reward_test

import (
	"fmt"
	"testing"

	"github.com/crowdsense/crowdsense-worker/internal/measurement"
	"github.com/crowdsense/crowdsense-worker/internal/reward"
	"github.com/shopspring/decimal"
)

func items(n int) []measurement.DataItem {
	out := make([]measurement.DataItem, n)
	for i := range out {
		out[i] = measurement.DataItem{
			Kind:    measurement.KindLight,
			Payload: measurement.LightPayload{Level: float64(100 + i)},
		}
	}
	return out
}

func sub(addr string, n int) measurement.Submission {
	return measurement.Submission{ProjectID: "project-1", ContributorAddress: addr, Items: items(n)}
}

func amounts(a reward.Allocation) map[string]string {
	out := make(map[string]string, len(a.Shares))
	for _, s := range a.Shares {
		out[s.Address] = s.Amount.String()
	}
	return out
}

func TestAllocate_ThreeToOne(t *testing.T) {
	alloc := reward.NewAllocator(reward.DefaultPrecision)

	result := alloc.Allocate(decimal.NewFromInt(100), []measurement.Submission{
		sub("addrA", 2),
		sub("addrB", 1),
		sub("addrA", 1),
	}, reward.ContributorResolver{})

	if result.Outcome != reward.OutcomeDistributed {
		t.Fatalf("Expected outcome %s, got %s", reward.OutcomeDistributed, result.Outcome)
	}
	if result.TotalUnits != 4 {
		t.Errorf("Expected 4 total units, got %d", result.TotalUnits)
	}

	got := amounts(result)
	if got["addrA"] != "75" {
		t.Errorf("Expected addrA to receive 75, got %s", got["addrA"])
	}
	if got["addrB"] != "25" {
		t.Errorf("Expected addrB to receive 25, got %s", got["addrB"])
	}
}

func TestAllocate_EqualThirds(t *testing.T) {
	alloc := reward.NewAllocator(reward.DefaultPrecision)

	result := alloc.Allocate(decimal.NewFromInt(10), []measurement.Submission{
		sub("addrA", 1),
		sub("addrB", 1),
		sub("addrC", 1),
	}, reward.ContributorResolver{})

	for _, s := range result.Shares {
		if s.Amount.String() != "3.333333" {
			t.Errorf("Expected %s to receive 3.333333, got %s", s.Address, s.Amount)
		}
	}
	if result.Sum().String() != "9.999999" {
		t.Errorf("Expected sum 9.999999, got %s", result.Sum())
	}
}

func TestAllocate_NoResolvableContributors(t *testing.T) {
	alloc := reward.NewAllocator(reward.DefaultPrecision)

	result := alloc.Allocate(decimal.NewFromInt(50), []measurement.Submission{
		sub("", 3),
		sub("   ", 2),
	}, reward.ContributorResolver{})

	if result.Outcome != reward.OutcomeNoContributions {
		t.Errorf("Expected outcome %s, got %s", reward.OutcomeNoContributions, result.Outcome)
	}
	if len(result.Shares) != 0 {
		t.Errorf("Expected empty distribution, got %d shares", len(result.Shares))
	}
}

func TestAllocate_NoSubmissions(t *testing.T) {
	alloc := reward.NewAllocator(reward.DefaultPrecision)

	result := alloc.Allocate(decimal.NewFromInt(50), nil, reward.ContributorResolver{})

	if result.Outcome != reward.OutcomeNoContributions {
		t.Errorf("Expected outcome %s, got %s", reward.OutcomeNoContributions, result.Outcome)
	}
}

func TestAllocate_ZeroRewardIsDistinctFromNoContributions(t *testing.T) {
	alloc := reward.NewAllocator(reward.DefaultPrecision)

	result := alloc.Allocate(decimal.Zero, []measurement.Submission{sub("addrA", 2)}, reward.ContributorResolver{})

	if result.Outcome != reward.OutcomeNoReward {
		t.Errorf("Expected outcome %s, got %s", reward.OutcomeNoReward, result.Outcome)
	}
	if len(result.Shares) != 0 {
		t.Errorf("Expected no shares, got %d", len(result.Shares))
	}
	if result.TotalUnits != 2 {
		t.Errorf("Expected contribution units to be reported, got %d", result.TotalUnits)
	}
}

func TestAllocate_EmptySubmissionCountsZero(t *testing.T) {
	alloc := reward.NewAllocator(reward.DefaultPrecision)

	result := alloc.Allocate(decimal.NewFromInt(30), []measurement.Submission{
		sub("addrA", 0),
		sub("addrB", 3),
	}, reward.ContributorResolver{})

	if len(result.Shares) != 1 {
		t.Fatalf("Expected 1 share, got %d", len(result.Shares))
	}
	if result.Shares[0].Address != "addrB" || result.Shares[0].Amount.String() != "30" {
		t.Errorf("Expected addrB to receive 30, got %s=%s", result.Shares[0].Address, result.Shares[0].Amount)
	}
}

func TestAllocate_OnlyEmptySubmissions(t *testing.T) {
	alloc := reward.NewAllocator(reward.DefaultPrecision)

	result := alloc.Allocate(decimal.NewFromInt(30), []measurement.Submission{sub("addrA", 0)}, reward.ContributorResolver{})

	if result.Outcome != reward.OutcomeNoContributions {
		t.Errorf("Expected outcome %s, got %s", reward.OutcomeNoContributions, result.Outcome)
	}
}

func TestAllocate_Proportionality(t *testing.T) {
	alloc := reward.NewAllocator(reward.DefaultPrecision)

	result := alloc.Allocate(decimal.RequireFromString("7.5"), []measurement.Submission{
		sub("addrA", 4),
		sub("addrB", 2),
	}, reward.ContributorResolver{})

	a, b := result.Shares[0].Amount, result.Shares[1].Amount
	diff := a.Sub(b.Mul(decimal.NewFromInt(2))).Abs()
	if diff.GreaterThan(decimal.New(2, -6)) {
		t.Errorf("Expected addrA (%s) to be twice addrB (%s)", a, b)
	}
}

func TestAllocate_SumWithinTolerance(t *testing.T) {
	alloc := reward.NewAllocator(reward.DefaultPrecision)

	totals := []string{"0.000001", "1", "10", "99.99", "1234.567891", "1000000"}
	for _, total := range totals {
		for contributors := 1; contributors <= 9; contributors++ {
			t.Run(fmt.Sprintf("%s/%d", total, contributors), func(t *testing.T) {
				var subs []measurement.Submission
				for i := 0; i < contributors; i++ {
					subs = append(subs, sub(fmt.Sprintf("addr%d", i), i%4+1))
				}

				r := decimal.RequireFromString(total)
				result := alloc.Allocate(r, subs, reward.ContributorResolver{})

				tolerance := decimal.New(int64(contributors), -6)
				if result.Sum().Sub(r).Abs().GreaterThan(tolerance) {
					t.Errorf("Sum %s drifted from %s by more than %s", result.Sum(), r, tolerance)
				}
				for _, s := range result.Shares {
					if s.Amount.IsNegative() {
						t.Errorf("Negative share for %s: %s", s.Address, s.Amount)
					}
				}
			})
		}
	}
}

func TestAllocate_InsertionOrder(t *testing.T) {
	alloc := reward.NewAllocator(reward.DefaultPrecision)

	result := alloc.Allocate(decimal.NewFromInt(9), []measurement.Submission{
		sub("addrC", 1),
		sub("addrA", 1),
		sub("addrC", 1),
		sub("addrB", 1),
	}, reward.ContributorResolver{})

	want := []string{"addrC", "addrA", "addrB"}
	if len(result.Shares) != len(want) {
		t.Fatalf("Expected %d shares, got %d", len(want), len(result.Shares))
	}
	for i, addr := range want {
		if result.Shares[i].Address != addr {
			t.Errorf("Expected share %d to be %s, got %s", i, addr, result.Shares[i].Address)
		}
	}
}

func TestAllocate_FallbackIdentity(t *testing.T) {
	alloc := reward.NewAllocator(reward.DefaultPrecision)

	result := alloc.Allocate(decimal.NewFromInt(20), []measurement.Submission{
		sub("", 1),
		sub("addrA", 1),
	}, reward.ContributorResolver{Fallback: "addrOwner"})

	got := amounts(result)
	if got["addrOwner"] != "10" || got["addrA"] != "10" {
		t.Errorf("Expected fallback identity to be credited, got %v", got)
	}
}

func TestAllocate_MixedCaseHexAddressesAggregate(t *testing.T) {
	alloc := reward.NewAllocator(reward.DefaultPrecision)

	lower := "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	upper := "0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED"

	result := alloc.Allocate(decimal.NewFromInt(4), []measurement.Submission{
		sub(lower, 1),
		sub(upper, 1),
	}, reward.ContributorResolver{})

	if len(result.Shares) != 1 {
		t.Fatalf("Expected a single contributor, got %d", len(result.Shares))
	}
	if result.Shares[0].Address != "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed" {
		t.Errorf("Expected checksummed address, got %s", result.Shares[0].Address)
	}
	if result.Shares[0].Units != 2 {
		t.Errorf("Expected 2 units, got %d", result.Shares[0].Units)
	}
}
