package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/crowdsense/crowdsense-worker/internal/anomaly"
	"github.com/crowdsense/crowdsense-worker/internal/db"
	"github.com/crowdsense/crowdsense-worker/internal/logging"
	"github.com/crowdsense/crowdsense-worker/internal/measurement"
	"github.com/crowdsense/crowdsense-worker/internal/mq"
	"github.com/crowdsense/crowdsense-worker/internal/reward"
	"github.com/crowdsense/crowdsense-worker/internal/validator"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubmissionService stores contributor submissions
type SubmissionService struct {
	store      Store
	validator  *validator.Validator
	detector   *anomaly.Detector
	archiver   Archiver
	publisher  EventPublisher
	routingKey string
	logger     *zap.Logger
	now        func() time.Time
}

// NewSubmissionService creates a new submission service. detector may be nil
// to skip outlier flagging.
func NewSubmissionService(
	store Store,
	validator *validator.Validator,
	detector *anomaly.Detector,
	archiver Archiver,
	publisher EventPublisher,
	routingKey string,
	logger *zap.Logger,
) *SubmissionService {
	return &SubmissionService{
		store:      store,
		validator:  validator,
		detector:   detector,
		archiver:   archiver,
		publisher:  publisher,
		routingKey: routingKey,
		logger:     logger,
		now:        time.Now,
	}
}

// ProcessMessage handles a SubmissionMessage from the ingest queue
func (s *SubmissionService) ProcessMessage(ctx context.Context, body []byte) error {
	var msg SubmissionMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	_, err := s.Submit(ctx, msg, body)
	return err
}

// Submit validates and stores a submission. Items that fail validation are
// dropped; the submission is stored even when none remain.
func (s *SubmissionService) Submit(ctx context.Context, msg SubmissionMessage, raw []byte) (*measurement.Submission, error) {
	reqLogger := logging.WithRequestID(s.logger, msg.RequestID)
	reqLogger.Info("processing submission",
		zap.String("project_id", msg.ProjectID),
		zap.Int("item_count", len(msg.Data)),
	)

	project, err := s.store.GetProject(ctx, msg.ProjectID)
	if errors.Is(err, db.ErrNotFound) {
		reqLogger.Warn("submission for unknown project")
		return nil, ErrProjectNotFound
	}
	if err != nil {
		reqLogger.Error("failed to load project", zap.Error(err))
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	if project.Status != db.ProjectStatusActive {
		reqLogger.Warn("submission for inactive project", zap.String("status", string(project.Status)))
		return nil, ErrProjectNotActive
	}

	submittedAt := msg.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = s.now()
	}

	items, rejected := s.validator.FilterItems(msg.Data, submittedAt)
	for _, r := range rejected {
		reqLogger.Warn("dropping invalid measurement",
			zap.Int("index", r.Index),
			zap.String("kind", string(r.Kind)),
			zap.String("reason", r.Reason),
		)
	}

	flags := s.flagOutliers(ctx, project.ID, items, reqLogger)

	sub := &measurement.Submission{
		ID:                 uuid.NewString(),
		ProjectID:          project.ID,
		ContributorAddress: reward.NormalizeAddress(msg.ContributorAddress),
		SubmittedAt:        submittedAt.UTC(),
		Items:              items,
	}

	if s.archiver != nil {
		if raw == nil {
			raw, err = json.Marshal(msg)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal submission for archive: %w", err)
			}
		}
		key, err := s.archiver.Archive(ctx, project.ID, raw)
		if err != nil {
			reqLogger.Warn("failed to archive submission", zap.Error(err))
		} else {
			sub.ArchiveKey = key
		}
	}

	if err := s.store.InsertSubmission(ctx, sub); err != nil {
		reqLogger.Error("failed to store submission", zap.Error(err))
		return nil, fmt.Errorf("failed to store submission: %w", err)
	}

	if s.publisher != nil {
		event := mq.SubmissionAcceptedEvent{
			SubmissionID:       sub.ID,
			ProjectID:          sub.ProjectID,
			ContributorAddress: sub.ContributorAddress,
			Items:              len(sub.Items),
			Rejected:           len(rejected),
			Flagged:            len(flags),
			ArchiveKey:         sub.ArchiveKey,
		}
		if err := s.publisher.PublishEvent(ctx, s.routingKey, event); err != nil {
			reqLogger.Error("failed to publish submission event", zap.Error(err))
		}
	}

	reqLogger.Info("submission stored",
		zap.String("submission_id", sub.ID),
		zap.Int("accepted", len(items)),
		zap.Int("rejected", len(rejected)),
		zap.Int("flagged", len(flags)),
	)

	return sub, nil
}

// flagOutliers compares accepted items with the project's earlier readings.
// Flagged items are kept and still count as contributions.
func (s *SubmissionService) flagOutliers(ctx context.Context, projectID string, items []measurement.DataItem, logger *zap.Logger) []anomaly.Flag {
	if s.detector == nil || len(items) == 0 {
		return nil
	}

	previous, err := s.store.ListSubmissions(ctx, projectID)
	if err != nil {
		logger.Warn("failed to load earlier readings for anomaly detection", zap.Error(err))
		return nil
	}

	flags := s.detector.Flag(items, s.detector.BuildHistory(previous))
	for _, f := range flags {
		logger.Warn("measurement flagged as outlier",
			zap.Int("index", f.Index),
			zap.String("kind", string(f.Kind)),
			zap.String("reason", f.Reason),
		)
	}
	return flags
}

// ListSubmissions returns the submissions of a project
func (s *SubmissionService) ListSubmissions(ctx context.Context, projectID string) ([]measurement.Submission, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return s.store.ListSubmissions(ctx, projectID)
}
