package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crowdsense/crowdsense-worker/internal/db"
	"github.com/crowdsense/crowdsense-worker/internal/measurement"
	"github.com/shopspring/decimal"
)

func TestCompleteProject_StatusGuard(t *testing.T) {
	ctx := context.Background()
	s := NewStore(
		db.Project{ID: "active", Status: db.ProjectStatusActive},
		db.Project{ID: "expired", Status: db.ProjectStatusExpired},
	)
	dist := &db.Distribution{
		ProjectID:   "active",
		Outcome:     "distributed",
		RewardTotal: decimal.NewFromInt(5),
		TotalUnits:  1,
		Entries:     []db.DistributionEntry{{ContributorAddress: "0xA", Units: 1, Amount: decimal.NewFromInt(5)}},
		ComputedAt:  time.Now(),
	}

	if err := s.CompleteProject(ctx, "active", dist); err != nil {
		t.Fatalf("CompleteProject failed: %v", err)
	}
	if err := s.CompleteProject(ctx, "expired", dist); !errors.Is(err, db.ErrStatusConflict) {
		t.Errorf("Expected ErrStatusConflict for expired project, got %v", err)
	}
	if err := s.CompleteProject(ctx, "missing", dist); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	// stored copies must not alias caller memory
	dist.Entries[0].Amount = decimal.NewFromInt(99)
	got, err := s.GetDistribution(ctx, "active")
	if err != nil {
		t.Fatalf("GetDistribution failed: %v", err)
	}
	if !got.Entries[0].Amount.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Stored distribution was mutated through caller slice: %s", got.Entries[0].Amount)
	}
}

func TestSubmissions_OrderAndFilter(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	for i, addr := range []string{"0xA", "0xB", "0xA"} {
		err := s.InsertSubmission(ctx, &measurement.Submission{
			ID:                 string(rune('1' + i)),
			ProjectID:          "p1",
			ContributorAddress: addr,
			Items:              make([]measurement.DataItem, i+1),
		})
		if err != nil {
			t.Fatalf("InsertSubmission failed: %v", err)
		}
	}
	_ = s.InsertSubmission(ctx, &measurement.Submission{ID: "other", ProjectID: "p2", ContributorAddress: "0xA"})

	subs, _ := s.ListSubmissions(ctx, "p1")
	if len(subs) != 3 || subs[0].ID != "1" || subs[2].ID != "3" {
		t.Errorf("Expected insertion order, got %+v", subs)
	}

	byA, _ := s.ListSubmissionsByContributor(ctx, "0xA")
	if len(byA) != 3 {
		t.Errorf("Expected 3 submissions by 0xA, got %d", len(byA))
	}
}

func TestListPayoutsByContributor(t *testing.T) {
	ctx := context.Background()
	s := NewStore(
		db.Project{ID: "p2", Status: db.ProjectStatusActive},
		db.Project{ID: "p1", Status: db.ProjectStatusActive},
	)
	for _, id := range []string{"p2", "p1"} {
		err := s.CompleteProject(ctx, id, &db.Distribution{
			ProjectID: id,
			Entries: []db.DistributionEntry{
				{ContributorAddress: "0xA", Units: 2, Amount: decimal.NewFromInt(4)},
				{ContributorAddress: "0xB", Units: 1, Amount: decimal.NewFromInt(2)},
			},
			ComputedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("CompleteProject failed: %v", err)
		}
	}

	got, err := s.ListPayoutsByContributor(ctx, "0xA")
	if err != nil {
		t.Fatalf("ListPayoutsByContributor failed: %v", err)
	}
	if len(got) != 2 || got[0].ProjectID != "p1" || got[1].ProjectID != "p2" {
		t.Fatalf("Expected payouts for p1 then p2, got %+v", got)
	}
	if got[0].Units != 2 || !got[0].Amount.Equal(decimal.NewFromInt(4)) {
		t.Errorf("Unexpected payout %+v", got[0])
	}

	if none, _ := s.ListPayoutsByContributor(ctx, "0xC"); len(none) != 0 {
		t.Errorf("Expected no payouts for unknown address, got %+v", none)
	}
}
