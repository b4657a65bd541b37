package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crowdsense/crowdsense-worker/internal/scheduler"
	"go.uber.org/zap"
)

type fakeExpirer struct {
	calls int
	ids   []string
	err   error
}

func (f *fakeExpirer) ExpireOverdue(ctx context.Context) ([]string, error) {
	f.calls++
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("expected a deadline on the sweep context")
	}
	return f.ids, f.err
}

func TestNewExpirySweeper_RejectsZeroInterval(t *testing.T) {
	if _, err := scheduler.NewExpirySweeper(&fakeExpirer{}, 0, zap.NewNop()); err == nil {
		t.Error("Expected error for zero interval")
	}
}

func TestExpirySweeper_Sweep(t *testing.T) {
	expirer := &fakeExpirer{ids: []string{"project-1"}}

	sweeper, err := scheduler.NewExpirySweeper(expirer, time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create sweeper: %v", err)
	}
	defer sweeper.Stop()

	sweeper.Sweep()
	expirer.err = errors.New("database unavailable")
	sweeper.Sweep()

	if expirer.calls != 2 {
		t.Errorf("Expected 2 sweeps, got %d", expirer.calls)
	}
}
