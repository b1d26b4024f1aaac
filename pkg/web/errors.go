package web

import (
	"github.com/dailos/tramite/pkg/engine"
	"github.com/dailos/tramite/pkg/gate"
	"github.com/dailos/tramite/pkg/graph"
	"github.com/dailos/tramite/pkg/persistence"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, errType, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType(errType).
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleDomainError maps engine, gate, graph and storage errors onto
// RFC 7807 responses.
func handleDomainError(c fiber.Ctx, err error) error {
	switch {
	case graph.IsMalformed(err):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("graph_malformed").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	case graph.IsEditRejected(err):
		return badRequest(c, err.Error())

	case engine.IsRunTerminal(err):
		return conflict(c, "run_terminal", err.Error())

	case engine.IsRunNotPaused(err):
		return conflict(c, "run_not_paused", err.Error())

	case gate.IsAlreadyDecided(err):
		return conflict(c, "already_decided", err.Error())

	case persistence.IsRunConflict(err):
		return conflict(c, "run_conflict", err.Error())

	case persistence.IsGraphNotFound(err):
		return notFound(c, "Graph not found")

	case persistence.IsRunNotFound(err):
		return notFound(c, "Run not found")

	case persistence.IsValidationNotFound(err):
		return notFound(c, "Validation not found")

	case persistence.IsTaskNotFound(err):
		return notFound(c, "Task not found")

	case persistence.IsRequestNotFound(err):
		return notFound(c, "Request not found")

	default:
		return internalError(c, err)
	}
}
