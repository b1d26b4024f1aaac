// Package web provides HTTP handlers and REST API endpoints for graph and
// run management.
package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dailos/tramite/pkg/engine"
	"github.com/dailos/tramite/pkg/gate"
	"github.com/dailos/tramite/pkg/graph"
	"github.com/dailos/tramite/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	graphService   *services.GraphService
	requestService *services.RequestService
	executor       *engine.Executor
	approvalGate   *gate.Gate
	validator      *validator.Validate
}

func NewAPIHandlers(
	graphService *services.GraphService,
	requestService *services.RequestService,
	executor *engine.Executor,
	approvalGate *gate.Gate,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		graphService:   graphService,
		requestService: requestService,
		executor:       executor,
		approvalGate:   approvalGate,
		validator:      validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.graphService.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// CreateGraph builds a graph from one of the three accepted shapes: a raw
// definition document, a linear template or a fork/join template.
func (h *APIHandlers) CreateGraph(c fiber.Ctx) error {
	var req CreateGraphRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	switch {
	case req.Definition != nil:
		raw, err := json.Marshal(req.Definition)
		if err != nil {
			return badRequest(c, "Invalid definition")
		}

		created, err := h.graphService.CreateFromDefinition(c.Context(), raw)
		if err != nil {
			return handleDomainError(c, err)
		}

		return c.Status(fiber.StatusCreated).JSON(created)

	case len(req.Branches) > 0:
		created, err := h.graphService.CreateForkJoin(c.Context(), req.Name, req.Branches)
		if err != nil {
			return handleDomainError(c, err)
		}

		return c.Status(fiber.StatusCreated).JSON(created)

	case req.Approver != nil:
		approver := ValidationConfigFromSpec(req.Approver)

		created, err := h.graphService.CreateLinear(c.Context(), req.Name, req.Steps, approver)
		if err != nil {
			return handleDomainError(c, err)
		}

		return c.Status(fiber.StatusCreated).JSON(created)

	default:
		return badRequest(c, "One of definition, branches or approver is required")
	}
}

func (h *APIHandlers) GetGraph(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Graph ID is required")
	}

	g, err := h.graphService.FetchByID(c.Context(), id)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(g)
}

// InsertTask creates a new graph version with a task inserted before the
// anchor node.
func (h *APIHandlers) InsertTask(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Graph ID is required")
	}

	var req InsertTaskRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	spec := graph.TaskSpec{
		Name:           req.Name,
		TaskTemplateID: req.TemplateID,
		DurationDays:   req.DurationDays,
	}

	created, err := h.graphService.InsertTaskBefore(c.Context(), id, req.AnchorNodeID, spec)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// RemoveGraphNode creates a new graph version without the given node.
func (h *APIHandlers) RemoveGraphNode(c fiber.Ctx) error {
	id := c.Params("id")
	nodeID := c.Params("nodeId")

	if id == "" || nodeID == "" {
		return badRequest(c, "Graph ID and node ID are required")
	}

	created, err := h.graphService.RemoveNode(c.Context(), id, nodeID)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) StartRun(c fiber.Ctx) error {
	var req StartRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	run, err := h.executor.StartRun(c.Context(), req.GraphID, req.StartedBy, req.Context)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(TransformRunResponse(run))
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.requestService.FetchRun(c.Context(), id)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(TransformRunResponse(run))
}

func (h *APIHandlers) GetRunLog(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	entries, err := h.requestService.RunLog(c.Context(), id)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(fiber.Map{"entries": entries})
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	var req CancelRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	err := h.executor.CancelRun(c.Context(), id, req.CancelledBy)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// CompleteNode signals that the work a task or sub_process node waits on is
// finished.
func (h *APIHandlers) CompleteNode(c fiber.Ctx) error {
	id := c.Params("id")
	nodeID := c.Params("nodeId")

	if id == "" || nodeID == "" {
		return badRequest(c, "Run ID and node ID are required")
	}

	err := h.executor.OnTaskCompleted(c.Context(), id, nodeID)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// BranchArrived signals an external branch arrival at a join node.
func (h *APIHandlers) BranchArrived(c fiber.Ctx) error {
	id := c.Params("id")
	nodeID := c.Params("nodeId")

	if id == "" || nodeID == "" {
		return badRequest(c, "Run ID and node ID are required")
	}

	var req BranchArrivedRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.executor.OnBranchArrived(c.Context(), id, nodeID, req.BranchID)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetPendingValidations(c fiber.Ctx) error {
	approverID := c.Query("approver_id")
	if approverID == "" {
		return badRequest(c, "approver_id is required")
	}

	instances, err := h.approvalGate.PendingForApprover(c.Context(), approverID)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(fiber.Map{"validations": instances})
}

func (h *APIHandlers) DecideValidation(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Validation ID is required")
	}

	var req DecideValidationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.executor.DecideValidation(c.Context(), id, req.Decision, req.Comment, req.DecidedBy)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CreateRequest(c fiber.Ctx) error {
	var req CreateRequestRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	request, err := h.requestService.CreateRequest(c.Context(), req.RequesterID, req.DepartmentID)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(request)
}

func (h *APIHandlers) GetRequest(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Request ID is required")
	}

	request, err := h.requestService.FetchRequest(c.Context(), id)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(request)
}

// ApproveRequest moves a request into execution and starts its run.
func (h *APIHandlers) ApproveRequest(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Request ID is required")
	}

	var req ApproveRequestRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	run, err := h.requestService.ApproveRequest(c.Context(), id, req.GraphID, req.Context)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(TransformRunResponse(run))
}

func (h *APIHandlers) CreateTask(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Request ID is required")
	}

	var req CreateTaskRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	task, err := h.requestService.CreateTask(c.Context(), id, req.GroupID, req.TemplateID, req.AssigneeID)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(task)
}

func (h *APIHandlers) UpdateTaskStatus(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Task ID is required")
	}

	var req UpdateTaskStatusRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	task, err := h.requestService.UpdateTaskStatus(c.Context(), id, req.Status)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(task)
}
