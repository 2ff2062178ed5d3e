// Package web provides HTTP handlers and REST API endpoints for publishing flows and observing executions.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/convoflow/pkg/eventbus"
	"github.com/dukex/convoflow/pkg/events"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/registry"
	"github.com/dukex/convoflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	publishingService *services.Publishing
	executionService  *services.Executions
	publisher         eventbus.EventPublisher
	validator         *validator.Validate
	registry          *registry.Registry
}

func NewAPIHandlers(
	publishingService *services.Publishing,
	executionService *services.Executions,
	publisher eventbus.EventPublisher,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		publishingService: publishingService,
		executionService:  executionService,
		publisher:         publisher,
		validator:         validator,
		registry:          registry,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	handlers := len(h.registry.Handlers())
	repositoryCheck, repOk := h.executionService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "convoflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if handlers > 0 && repOk {
		status = "healthy"
		message = "convoflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   fiber.Map{"node_handlers": handlers},
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetFlows(c fiber.Ctx) error {
	flows, err := h.publishingService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"flows": flows})
}

// GetFlow returns the latest published version, or the one named by ?version=.
func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	var (
		flow *models.FlowDefinition
		err  error
	)

	if raw := c.Query("version"); raw != "" {
		version, convErr := strconv.Atoi(raw)
		if convErr != nil || version < 1 {
			return badRequest(c, "version must be a positive integer")
		}

		flow, err = h.publishingService.Version(c.Context(), id, version)
	} else {
		flow, err = h.publishingService.Latest(c.Context(), id)
	}

	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) PublishFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	var flow models.FlowDefinition
	if err := c.Bind().JSON(&flow); err != nil {
		return badRequest(c, "Invalid flow definition: "+err.Error())
	}

	if flow.ID != "" && flow.ID != id {
		return badRequest(c, "Flow ID in body does not match path")
	}

	flow.ID = id

	published, result, err := h.publishingService.Publish(c.Context(), &flow)
	if err != nil {
		return handleServiceError(c, err)
	}

	warnings := make([]string, 0, len(result.Warnings()))
	for _, d := range result.Warnings() {
		warnings = append(warnings, d.String())
	}

	return c.Status(fiber.StatusCreated).JSON(PublishFlowResponse{Flow: published, Warnings: warnings})
}

// PostEvent enqueues an event for the workers. The engine applies it asynchronously.
func (h *APIHandlers) PostEvent(c fiber.Ctx) error {
	var req PostEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	received := events.NewEventReceived(req.Event())

	if err := h.publisher.Publish(c.Context(), received.Key(), received); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(PostEventResponse{EventID: received.Event.ID})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	state, version, err := h.executionService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ExecutionResponse{Execution: state, Version: version})
}

// GetExecutionLogs returns the step log since the RFC3339 ?since= timestamp.
func (h *APIHandlers) GetExecutionLogs(c fiber.Ctx) error {
	var since time.Time

	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return badRequest(c, "since must be an RFC3339 timestamp")
		}

		since = parsed
	}

	entries, err := h.executionService.Logs(c.Context(), c.Params("id"), since)
	if err != nil {
		return handleServiceError(c, err)
	}

	next := since
	if len(entries) > 0 {
		next = entries[len(entries)-1].Timestamp
	}

	return c.JSON(LogsResponse{Entries: entries, Next: next})
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	var req CancelExecutionRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	state, err := h.executionService.Cancel(c.Context(), c.Params("id"), req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ExecutionResponse{Execution: state})
}
