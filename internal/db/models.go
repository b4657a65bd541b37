package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProjectStatus is the lifecycle state of a data-collection project
type ProjectStatus string

const (
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusCompleted ProjectStatus = "completed"
	ProjectStatusExpired   ProjectStatus = "expired"
)

// Project represents a data-collection campaign in the database
type Project struct {
	ID          string
	Title       string
	Description string
	Address     string
	Latitude    float64
	Longitude   float64
	RangeKM     float64
	DataKinds   []string
	RewardTotal decimal.Decimal
	Status      ProjectStatus
	CreatedBy   string
	EndDate     time.Time
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// SubmissionRow represents a stored submission; data items are kept as JSONB
type SubmissionRow struct {
	ID                 uuid.UUID
	ProjectID          string
	ContributorAddress *string
	SubmittedAt        time.Time
	ArchiveKey         *string
	DataItems          []byte
	CreatedAt          time.Time
}

// Distribution is the persisted reward split of a completed project
type Distribution struct {
	ProjectID   string
	Outcome     string
	RewardTotal decimal.Decimal
	TotalUnits  int64
	Entries     []DistributionEntry
	ComputedAt  time.Time
}

// DistributionEntry is one contributor's payout within a distribution
type DistributionEntry struct {
	ContributorAddress string
	Units              int64
	Amount             decimal.Decimal
}

// Payout is a contributor's entry in one project's distribution
type Payout struct {
	ProjectID  string
	Units      int64
	Amount     decimal.Decimal
	ComputedAt time.Time
}
