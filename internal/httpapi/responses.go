package httpapi

import (
	"time"

	"github.com/crowdsense/crowdsense-worker/internal/db"
	"github.com/crowdsense/crowdsense-worker/internal/measurement"
	"github.com/crowdsense/crowdsense-worker/internal/service"
	"github.com/shopspring/decimal"
)

type projectResponse struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Address     string          `json:"address"`
	Latitude    float64         `json:"latitude"`
	Longitude   float64         `json:"longitude"`
	RangeKM     float64         `json:"range_km"`
	DataKinds   []string        `json:"data_kinds"`
	RewardTotal decimal.Decimal `json:"reward_total"`
	Status      string          `json:"status"`
	CreatedBy   string          `json:"created_by"`
	EndDate     time.Time       `json:"end_date"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func toProjectResponse(p *db.Project) projectResponse {
	kinds := p.DataKinds
	if kinds == nil {
		kinds = []string{}
	}
	return projectResponse{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Address:     p.Address,
		Latitude:    p.Latitude,
		Longitude:   p.Longitude,
		RangeKM:     p.RangeKM,
		DataKinds:   kinds,
		RewardTotal: p.RewardTotal,
		Status:      string(p.Status),
		CreatedBy:   p.CreatedBy,
		EndDate:     p.EndDate,
		CreatedAt:   p.CreatedAt,
		CompletedAt: p.CompletedAt,
	}
}

type distributionEntryResponse struct {
	Address string          `json:"address"`
	Units   int64           `json:"units"`
	Amount  decimal.Decimal `json:"amount"`
}

type distributionResponse struct {
	ProjectID   string                      `json:"project_id"`
	Outcome     string                      `json:"outcome"`
	RewardTotal decimal.Decimal             `json:"reward_total"`
	TotalUnits  int64                       `json:"total_units"`
	Entries     []distributionEntryResponse `json:"entries"`
	ComputedAt  time.Time                   `json:"computed_at"`
}

func toDistributionResponse(d *db.Distribution) distributionResponse {
	resp := distributionResponse{
		ProjectID:   d.ProjectID,
		Outcome:     d.Outcome,
		RewardTotal: d.RewardTotal,
		TotalUnits:  d.TotalUnits,
		Entries:     make([]distributionEntryResponse, 0, len(d.Entries)),
		ComputedAt:  d.ComputedAt,
	}
	for _, e := range d.Entries {
		resp.Entries = append(resp.Entries, distributionEntryResponse{
			Address: e.ContributorAddress,
			Units:   e.Units,
			Amount:  e.Amount,
		})
	}
	return resp
}

type completionResponse struct {
	Message         string               `json:"message"`
	NoContributions bool                 `json:"no_contributions"`
	NoReward        bool                 `json:"no_reward"`
	Project         projectResponse      `json:"project"`
	Distribution    distributionResponse `json:"distribution"`
}

func toCompletionResponse(r *service.CompletionResult) completionResponse {
	resp := completionResponse{
		Message:         "Project completed and rewards distributed",
		NoContributions: r.NoContributions(),
		NoReward:        r.NoReward(),
		Project:         toProjectResponse(r.Project),
		Distribution:    toDistributionResponse(r.Distribution),
	}
	switch {
	case resp.NoContributions:
		resp.Message = "Project completed. No contributions to reward"
	case resp.NoReward:
		resp.Message = "Project completed. No reward to distribute"
	}
	return resp
}

type submissionResponse struct {
	ID                 string                 `json:"id"`
	ProjectID          string                 `json:"project_id"`
	ContributorAddress string                 `json:"contributor_address,omitempty"`
	SubmittedAt        time.Time              `json:"submitted_at"`
	Archived           bool                   `json:"archived"`
	Data               []measurement.DataItem `json:"data"`
}

func toSubmissionResponse(s measurement.Submission) submissionResponse {
	items := s.Items
	if items == nil {
		items = []measurement.DataItem{}
	}
	return submissionResponse{
		ID:                 s.ID,
		ProjectID:          s.ProjectID,
		ContributorAddress: s.ContributorAddress,
		SubmittedAt:        s.SubmittedAt,
		Archived:           s.ArchiveKey != "",
		Data:               items,
	}
}
