package service

import "errors"

var (
	ErrProjectNotFound    = errors.New("project not found")
	ErrProjectNotActive   = errors.New("project is not active")
	ErrNoDistribution     = errors.New("project has no distribution")
	ErrProjectExpired     = errors.New("project has expired")
	ErrNotAuthorized      = errors.New("requester is not allowed to complete this project")
	ErrInvalidRewardTotal = errors.New("reward total must be a non-negative amount")
	ErrInvalidProject     = errors.New("invalid project")
	ErrMissingIdentity    = errors.New("verified identity required")
	// ErrCompletionFailed wraps storage failures while completing; the project keeps its prior state
	ErrCompletionFailed = errors.New("could not complete project")
)
