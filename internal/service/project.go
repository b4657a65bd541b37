package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/crowdsense/crowdsense-worker/internal/db"
	"github.com/crowdsense/crowdsense-worker/internal/measurement"
	"github.com/crowdsense/crowdsense-worker/internal/reward"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// NewProject is the input for creating a project
type NewProject struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Address     string             `json:"address"`
	Latitude    float64            `json:"latitude"`
	Longitude   float64            `json:"longitude"`
	RangeKM     float64            `json:"range_km"`
	DataKinds   []measurement.Kind `json:"data_kinds"`
	RewardTotal decimal.Decimal    `json:"reward_total"`
	EndDate     time.Time          `json:"end_date"`
}

// Contribution is one line of a contributor's history
type Contribution struct {
	ProjectID    string          `json:"project_id"`
	ProjectTitle string          `json:"project_title"`
	SubmissionID string          `json:"submission_id,omitempty"`
	SubmittedAt  time.Time       `json:"submitted_at"`
	Items        int             `json:"items"`
	Status       string          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
}

// ContributionHistory summarises what a contributor has earned
type ContributionHistory struct {
	Address       string          `json:"address"`
	Contributions []Contribution  `json:"contributions"`
	TotalEarned   decimal.Decimal `json:"total_earned"`
}

const (
	ContributionPaid    = "Paid"
	ContributionPending = "Pending"
	ContributionUnpaid  = "Unpaid"
)

// ProjectService creates projects and answers contributor queries
type ProjectService struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewProjectService creates a new project service
func NewProjectService(store Store, logger *zap.Logger) *ProjectService {
	return &ProjectService{store: store, logger: logger, now: time.Now}
}

// CreateProject validates and stores a new active project owned by createdBy
func (s *ProjectService) CreateProject(ctx context.Context, in NewProject, createdBy string) (*db.Project, error) {
	owner := reward.NormalizeAddress(createdBy)
	if owner == "" {
		return nil, ErrMissingIdentity
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidProject)
	}
	if in.RewardTotal.IsNegative() {
		return nil, ErrInvalidRewardTotal
	}

	now := s.now().UTC()
	if !in.EndDate.After(now) {
		return nil, fmt.Errorf("%w: end date must be in the future", ErrInvalidProject)
	}

	kinds := make([]string, 0, len(in.DataKinds))
	for _, k := range in.DataKinds {
		if !k.Valid() {
			return nil, fmt.Errorf("%w: unsupported data kind %q", ErrInvalidProject, k)
		}
		kinds = append(kinds, string(k))
	}

	project := &db.Project{
		ID:          fmt.Sprintf("project-%d-%s", now.UnixMilli(), uuid.NewString()[:8]),
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Address:     in.Address,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		RangeKM:     in.RangeKM,
		DataKinds:   kinds,
		RewardTotal: in.RewardTotal,
		Status:      db.ProjectStatusActive,
		CreatedBy:   owner,
		EndDate:     in.EndDate.UTC(),
		CreatedAt:   now,
	}

	if err := s.store.CreateProject(ctx, project); err != nil {
		s.logger.Error("failed to create project", zap.Error(err))
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	s.logger.Info("project created",
		zap.String("project_id", project.ID),
		zap.String("created_by", owner),
		zap.String("reward_total", project.RewardTotal.String()),
	)

	return project, nil
}

// GetProject returns a project by id
func (s *ProjectService) GetProject(ctx context.Context, id string) (*db.Project, error) {
	p, err := s.store.GetProject(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrProjectNotFound
	}
	return p, err
}

// ContributionHistory lists every submission of address with its payout state.
// Payouts without a matching submission, such as anonymous items credited to
// the project owner, are listed as their own lines.
func (s *ProjectService) ContributionHistory(ctx context.Context, address string) (*ContributionHistory, error) {
	addr := reward.NormalizeAddress(address)
	if addr == "" {
		return nil, ErrMissingIdentity
	}

	subs, err := s.store.ListSubmissionsByContributor(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}
	paid, err := s.store.ListPayoutsByContributor(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to list payouts: %w", err)
	}

	history := &ContributionHistory{
		Address:       addr,
		Contributions: []Contribution{},
		TotalEarned:   decimal.Zero,
	}

	// a project pays once no matter how many submissions earned it
	payouts := make(map[string]db.Payout, len(paid))
	for _, p := range paid {
		payouts[p.ProjectID] = p
		history.TotalEarned = history.TotalEarned.Add(p.Amount)
	}

	projects := make(map[string]*db.Project)
	project := func(id string) (*db.Project, bool) {
		if p, ok := projects[id]; ok {
			return p, p != nil
		}
		p, err := s.store.GetProject(ctx, id)
		if err != nil {
			s.logger.Warn("skipping contribution with unreadable project",
				zap.String("project_id", id),
				zap.Error(err),
			)
			p = nil
		}
		projects[id] = p
		return p, p != nil
	}

	listed := make(map[string]bool)
	for _, sub := range subs {
		p, ok := project(sub.ProjectID)
		if !ok {
			continue
		}
		listed[sub.ProjectID] = true

		c := Contribution{
			ProjectID:    p.ID,
			ProjectTitle: p.Title,
			SubmissionID: sub.ID,
			SubmittedAt:  sub.SubmittedAt,
			Items:        len(sub.Items),
			Amount:       decimal.Zero,
		}
		payout, isPaid := payouts[sub.ProjectID]
		switch {
		case isPaid:
			c.Status = ContributionPaid
			c.Amount = payout.Amount
		case p.Status == db.ProjectStatusActive:
			c.Status = ContributionPending
		default:
			c.Status = ContributionUnpaid
		}
		history.Contributions = append(history.Contributions, c)
	}

	for _, payout := range paid {
		if listed[payout.ProjectID] {
			continue
		}
		c := Contribution{
			ProjectID:   payout.ProjectID,
			SubmittedAt: payout.ComputedAt,
			Items:       int(payout.Units),
			Status:      ContributionPaid,
			Amount:      payout.Amount,
		}
		if p, ok := project(payout.ProjectID); ok {
			c.ProjectTitle = p.Title
		}
		history.Contributions = append(history.Contributions, c)
	}

	return history, nil
}

// ExpireOverdue marks active projects past their end date as expired
func (s *ProjectService) ExpireOverdue(ctx context.Context) ([]string, error) {
	ids, err := s.store.ExpireProjects(ctx, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to expire projects: %w", err)
	}
	for _, id := range ids {
		s.logger.Info("project expired", zap.String("project_id", id))
	}
	return ids, nil
}
