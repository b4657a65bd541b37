package service

import (
	"time"

	"github.com/crowdsense/crowdsense-worker/internal/measurement"
)

// SubmissionMessage is a contributor's batch of measurements as received from the queue or API
type SubmissionMessage struct {
	RequestID          string                 `json:"request_id"`
	ProjectID          string                 `json:"project_id"`
	ContributorAddress string                 `json:"contributor_address,omitempty"`
	SubmittedAt        time.Time              `json:"submitted_at"`
	Data               []measurement.DataItem `json:"data"`
}

// CompleteProjectCommand asks for a project to be ended and its rewards split
type CompleteProjectCommand struct {
	RequestID   string `json:"request_id"`
	ProjectID   string `json:"project_id"`
	RequestedBy string `json:"requested_by"`
}
