package service

import (
	"context"
	"time"

	"github.com/crowdsense/crowdsense-worker/internal/db"
	"github.com/crowdsense/crowdsense-worker/internal/measurement"
	"github.com/crowdsense/crowdsense-worker/internal/reward"
)

// ProjectStore reads and creates projects
type ProjectStore interface {
	CreateProject(ctx context.Context, p *db.Project) error
	GetProject(ctx context.Context, id string) (*db.Project, error)
	ExpireProjects(ctx context.Context, now time.Time) ([]string, error)
}

// SubmissionStore is the append-only submission log
type SubmissionStore interface {
	InsertSubmission(ctx context.Context, sub *measurement.Submission) error
	ListSubmissions(ctx context.Context, projectID string) ([]measurement.Submission, error)
	ListSubmissionsByContributor(ctx context.Context, address string) ([]measurement.Submission, error)
}

// DistributionStore persists distributions. CompleteProject must flip the
// project status and overwrite the distribution atomically.
type DistributionStore interface {
	CompleteProject(ctx context.Context, projectID string, dist *db.Distribution) error
	GetDistribution(ctx context.Context, projectID string) (*db.Distribution, error)
	ListPayoutsByContributor(ctx context.Context, address string) ([]db.Payout, error)
}

// Store is satisfied by repository.Repository and memstore.Store
type Store interface {
	ProjectStore
	SubmissionStore
	DistributionStore
}

// EventPublisher emits domain events after state has been committed
type EventPublisher interface {
	PublishEvent(ctx context.Context, routingKey string, event any) error
}

// Archiver keeps the raw submission body and returns the key it was stored under
type Archiver interface {
	Archive(ctx context.Context, projectID string, body []byte) (string, error)
}

// Authorizer decides who may end a project
type Authorizer interface {
	CanComplete(project *db.Project, requestedBy string) bool
}

// OwnerAuthorizer only lets the project creator complete it
type OwnerAuthorizer struct{}

func (OwnerAuthorizer) CanComplete(project *db.Project, requestedBy string) bool {
	return reward.SameAddress(project.CreatedBy, requestedBy)
}
