package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/crowdsense/crowdsense-worker/internal/db"
	"github.com/crowdsense/crowdsense-worker/internal/logging"
	"github.com/crowdsense/crowdsense-worker/internal/mq"
	"github.com/crowdsense/crowdsense-worker/internal/reward"
	"go.uber.org/zap"
)

// CompletionOptions configures how projects are ended
type CompletionOptions struct {
	// RoutingKey of the project completed event
	RoutingKey string
	// CreditRequesterForAnonymous attributes submissions without an address to
	// the identity that ends the project
	CreditRequesterForAnonymous bool
}

// CompletionResult is what ending a project produced
type CompletionResult struct {
	Project      *db.Project
	Distribution *db.Distribution
	Allocation   reward.Allocation
}

// NoContributions reports that nobody could be credited
func (r *CompletionResult) NoContributions() bool {
	return r.Allocation.Outcome == reward.OutcomeNoContributions
}

// NoReward reports that there were contributors but nothing to give
func (r *CompletionResult) NoReward() bool {
	return r.Allocation.Outcome == reward.OutcomeNoReward
}

// CompletionService ends projects and records their reward distribution
type CompletionService struct {
	store      Store
	allocator  *reward.Allocator
	authorizer Authorizer
	publisher  EventPublisher
	opts       CompletionOptions
	logger     *zap.Logger
	now        func() time.Time
}

// NewCompletionService creates a new completion service
func NewCompletionService(
	store Store,
	allocator *reward.Allocator,
	authorizer Authorizer,
	publisher EventPublisher,
	opts CompletionOptions,
	logger *zap.Logger,
) *CompletionService {
	return &CompletionService{
		store:      store,
		allocator:  allocator,
		authorizer: authorizer,
		publisher:  publisher,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Complete ends the project, splits its reward among contributors and stores
// the distribution. Completing an already completed project recomputes and
// replaces the stored distribution.
func (s *CompletionService) Complete(ctx context.Context, projectID, requestedBy string) (*CompletionResult, error) {
	logger := logging.WithProjectID(s.logger, projectID)

	project, err := s.store.GetProject(ctx, projectID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		logger.Error("failed to load project", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrCompletionFailed, err)
	}

	if !s.authorizer.CanComplete(project, requestedBy) {
		logger.Warn("completion rejected", zap.String("requested_by", requestedBy))
		return nil, ErrNotAuthorized
	}

	switch project.Status {
	case db.ProjectStatusActive:
	case db.ProjectStatusCompleted:
		logger.Warn("project already completed, distribution will be replaced")
	case db.ProjectStatusExpired:
		return nil, ErrProjectExpired
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrProjectNotActive, project.Status)
	}

	if project.RewardTotal.IsNegative() {
		return nil, ErrInvalidRewardTotal
	}

	submissions, err := s.store.ListSubmissions(ctx, projectID)
	if err != nil {
		logger.Error("failed to list submissions", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrCompletionFailed, err)
	}

	resolver := reward.ContributorResolver{}
	if s.opts.CreditRequesterForAnonymous {
		resolver.Fallback = requestedBy
	}
	allocation := s.allocator.Allocate(project.RewardTotal, submissions, resolver)

	completedAt := s.now().UTC()
	dist := distributionFromAllocation(projectID, allocation, completedAt)

	if err := s.store.CompleteProject(ctx, projectID, dist); err != nil {
		if errors.Is(err, db.ErrStatusConflict) {
			return nil, ErrProjectNotActive
		}
		logger.Error("failed to record distribution", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrCompletionFailed, err)
	}

	project.Status = db.ProjectStatusCompleted
	project.CompletedAt = &completedAt

	logger.Info("project completed",
		zap.String("outcome", string(allocation.Outcome)),
		zap.Int("submissions", len(submissions)),
		zap.Int("contributors", len(allocation.Shares)),
		zap.Int64("total_units", allocation.TotalUnits),
		zap.String("reward_total", project.RewardTotal.String()),
		zap.String("distributed", allocation.Sum().String()),
	)

	s.publishCompleted(ctx, dist, requestedBy, logger)

	return &CompletionResult{
		Project:      project,
		Distribution: dist,
		Allocation:   allocation,
	}, nil
}

// GetDistribution returns the stored distribution of a project
func (s *CompletionService) GetDistribution(ctx context.Context, projectID string) (*db.Distribution, error) {
	dist, err := s.store.GetDistribution(ctx, projectID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNoDistribution
	}
	return dist, err
}

// ProcessMessage handles a CompleteProjectCommand from the queue
func (s *CompletionService) ProcessMessage(ctx context.Context, body []byte) error {
	var cmd CompleteProjectCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	reqLogger := logging.WithRequestID(s.logger, cmd.RequestID)
	reqLogger.Info("processing completion command",
		zap.String("project_id", cmd.ProjectID),
		zap.String("requested_by", cmd.RequestedBy),
	)

	if _, err := s.Complete(ctx, cmd.ProjectID, cmd.RequestedBy); err != nil {
		reqLogger.Error("failed to complete project", zap.Error(err), zap.String("project_id", cmd.ProjectID))
		return err
	}

	return nil
}

func (s *CompletionService) publishCompleted(ctx context.Context, dist *db.Distribution, requestedBy string, logger *zap.Logger) {
	if s.publisher == nil {
		return
	}

	event := mq.ProjectCompletedEvent{
		ProjectID:   dist.ProjectID,
		Outcome:     dist.Outcome,
		RewardTotal: dist.RewardTotal.String(),
		TotalUnits:  dist.TotalUnits,
		Shares:      make([]mq.DistributionShare, 0, len(dist.Entries)),
		CompletedAt: dist.ComputedAt.Format(time.RFC3339),
		RequestedBy: requestedBy,
	}
	for _, e := range dist.Entries {
		event.Shares = append(event.Shares, mq.DistributionShare{
			Address: e.ContributorAddress,
			Units:   e.Units,
			Amount:  e.Amount.String(),
		})
	}

	// the distribution is already committed; settlement can be replayed from storage
	if err := s.publisher.PublishEvent(ctx, s.opts.RoutingKey, event); err != nil {
		logger.Error("failed to publish project completed event", zap.Error(err))
	}
}

func distributionFromAllocation(projectID string, a reward.Allocation, computedAt time.Time) *db.Distribution {
	dist := &db.Distribution{
		ProjectID:   projectID,
		Outcome:     string(a.Outcome),
		RewardTotal: a.Total,
		TotalUnits:  a.TotalUnits,
		Entries:     make([]db.DistributionEntry, 0, len(a.Shares)),
		ComputedAt:  computedAt,
	}
	for _, share := range a.Shares {
		dist.Entries = append(dist.Entries, db.DistributionEntry{
			ContributorAddress: share.Address,
			Units:              share.Units,
			Amount:             share.Amount,
		})
	}
	return dist
}
