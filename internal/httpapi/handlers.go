package httpapi

import (
	"context"
	"errors"

	"github.com/crowdsense/crowdsense-worker/internal/service"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ArchiveReader reads raw submission bodies back from the archive
type ArchiveReader interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Handler serves the project, submission and reward endpoints
type Handler struct {
	projects    *service.ProjectService
	submissions *service.SubmissionService
	completions *service.CompletionService
	archive     ArchiveReader
	logger      *zap.Logger
}

// NewHandler creates a new handler. archive may be nil when archiving is disabled.
func NewHandler(
	projects *service.ProjectService,
	submissions *service.SubmissionService,
	completions *service.CompletionService,
	archive ArchiveReader,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		projects:    projects,
		submissions: submissions,
		completions: completions,
		archive:     archive,
		logger:      logger,
	}
}

// RegisterRoutes mounts all routes on app
func (h *Handler) RegisterRoutes(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// anonymous contributions are accepted and stored unattributed
	optional := IdentityMiddleware(h.logger, false)
	required := IdentityMiddleware(h.logger, true)

	app.Get("/projects/:id", h.GetProject)
	app.Get("/projects/:id/submissions", h.ListSubmissions)
	app.Post("/projects/:id/submissions", optional, h.Submit)
	app.Get("/projects/:id/submissions/:submissionID/raw", h.GetRawSubmission)
	app.Get("/projects/:id/distribution", h.GetDistribution)
	app.Get("/contributors/:address/rewards", h.ContributionHistory)

	app.Post("/projects", required, h.CreateProject)
	app.Post("/projects/:id/complete", required, h.CompleteProject)
}

// CreateProject handles POST /projects
func (h *Handler) CreateProject(c *fiber.Ctx) error {
	var in service.NewProject
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	project, err := h.projects.CreateProject(c.UserContext(), in, callerAddress(c))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toProjectResponse(project))
}

// GetProject handles GET /projects/:id
func (h *Handler) GetProject(c *fiber.Ctx) error {
	project, err := h.projects.GetProject(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(toProjectResponse(project))
}

// ListSubmissions handles GET /projects/:id/submissions
func (h *Handler) ListSubmissions(c *fiber.Ctx) error {
	subs, err := h.submissions.ListSubmissions(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.writeError(c, err)
	}

	resp := make([]submissionResponse, 0, len(subs))
	for _, s := range subs {
		resp = append(resp, toSubmissionResponse(s))
	}
	return c.JSON(resp)
}

// Submit handles POST /projects/:id/submissions
func (h *Handler) Submit(c *fiber.Ctx) error {
	var msg service.SubmissionMessage
	if err := c.BodyParser(&msg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	msg.ProjectID = c.Params("id")
	// the verified header wins over the body; without it the body address is kept
	if addr := callerAddress(c); addr != "" {
		msg.ContributorAddress = addr
	}
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}

	sub, err := h.submissions.Submit(c.UserContext(), msg, nil)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(toSubmissionResponse(*sub))
}

// GetRawSubmission handles GET /projects/:id/submissions/:submissionID/raw
func (h *Handler) GetRawSubmission(c *fiber.Ctx) error {
	if h.archive == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "archive is not enabled"})
	}

	subs, err := h.submissions.ListSubmissions(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.writeError(c, err)
	}

	wanted := c.Params("submissionID")
	for _, s := range subs {
		if s.ID != wanted {
			continue
		}
		if s.ArchiveKey == "" {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "submission was not archived"})
		}
		body, err := h.archive.Fetch(c.UserContext(), s.ArchiveKey)
		if err != nil {
			h.logger.Error("failed to fetch archived submission", zap.String("key", s.ArchiveKey), zap.Error(err))
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "archive unavailable"})
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(body)
	}

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "submission not found"})
}

// GetDistribution handles GET /projects/:id/distribution
func (h *Handler) GetDistribution(c *fiber.Ctx) error {
	dist, err := h.completions.GetDistribution(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(toDistributionResponse(dist))
}

// CompleteProject handles POST /projects/:id/complete
func (h *Handler) CompleteProject(c *fiber.Ctx) error {
	result, err := h.completions.Complete(c.UserContext(), c.Params("id"), callerAddress(c))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(toCompletionResponse(result))
}

// ContributionHistory handles GET /contributors/:address/rewards
func (h *Handler) ContributionHistory(c *fiber.Ctx) error {
	history, err := h.projects.ContributionHistory(c.UserContext(), c.Params("address"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(history)
}

func (h *Handler) writeError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		msg := "internal error"
		if errors.Is(err, service.ErrCompletionFailed) {
			msg = service.ErrCompletionFailed.Error()
		}
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrProjectNotFound), errors.Is(err, service.ErrNoDistribution):
		return fiber.StatusNotFound
	case errors.Is(err, service.ErrMissingIdentity):
		return fiber.StatusUnauthorized
	case errors.Is(err, service.ErrNotAuthorized):
		return fiber.StatusForbidden
	case errors.Is(err, service.ErrProjectNotActive), errors.Is(err, service.ErrProjectExpired):
		return fiber.StatusConflict
	case errors.Is(err, service.ErrInvalidProject), errors.Is(err, service.ErrInvalidRewardTotal):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}
