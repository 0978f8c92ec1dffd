package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/statecore/internal/application/port"
	"github.com/garyjia/statecore/internal/application/service"
	"github.com/garyjia/statecore/internal/application/workflow"
	domainwf "github.com/garyjia/statecore/internal/domain/workflow"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	transitions service.TransitionService
	audit       service.AuditService
	health      HealthFunc
	logger      Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	transitions service.TransitionService,
	audit service.AuditService,
	health HealthFunc,
	logger Logger,
) *Handlers {
	return &Handlers{
		transitions: transitions,
		audit:       audit,
		health:      health,
		logger:      logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string `json:"status"`
	Timestamp  string `json:"timestamp"`
	Components any    `json:"components,omitempty"`
}

// MachineResponse describes one machine
type MachineResponse struct {
	Name        string               `json:"name"`
	Initial     string               `json:"initial"`
	States      []string             `json:"states"`
	Events      []string             `json:"events"`
	Transitions []TransitionResponse `json:"transitions,omitempty"`
}

// TransitionResponse is one row of a machine's transition table
type TransitionResponse struct {
	From          string   `json:"from"`
	Event         string   `json:"event"`
	To            string   `json:"to"`
	AllowedActors []string `json:"allowed_actors,omitempty"`
	Guarded       bool     `json:"guarded,omitempty"`
}

// CreateEntityRequest is the body of POST /entities/:type
type CreateEntityRequest struct {
	ID string `json:"id" binding:"required"`
}

// TransitionRequest is the body of POST /entities/:type/:id/transitions
type TransitionRequest struct {
	Event        string         `json:"event" binding:"required"`
	Actor        string         `json:"actor" binding:"required"`
	ActorID      string         `json:"actor_id"`
	CurrentState string         `json:"current_state"`
	Metadata     map[string]any `json:"metadata"`
}

// TransitionResult is the data of a successful transition
type TransitionResult struct {
	NewState string `json:"new_state"`
	AuditID  string `json:"audit_id"`
}

// TimeRangeQuery holds the bounds of GET /audit/:type
type TimeRangeQuery struct {
	Start time.Time `form:"start" time_format:"2006-01-02T15:04:05Z07:00" binding:"required"`
	End   time.Time `form:"end" time_format:"2006-01-02T15:04:05Z07:00" binding:"required"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if h.health != nil {
		ok, details := h.health(c.Request.Context())
		response.Components = details
		if !ok {
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// ListMachines handles GET /api/v1/machines
func (h *Handlers) ListMachines(c *gin.Context) {
	names := h.transitions.MachineNames()
	machines := make([]MachineResponse, 0, len(names))
	for _, name := range names {
		m, err := h.transitions.Machine(name)
		if err != nil {
			continue
		}
		resp := toMachineResponse(m)
		resp.Transitions = nil
		machines = append(machines, resp)
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: machines})
}

// GetMachine handles GET /api/v1/machines/:type
func (h *Handlers) GetMachine(c *gin.Context) {
	m, err := h.transitions.Machine(c.Param("type"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: toMachineResponse(m)})
}

// CreateEntity handles POST /api/v1/entities/:type
func (h *Handlers) CreateEntity(c *gin.Context) {
	var req CreateEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body: " + err.Error()})
		return
	}

	state, err := h.transitions.CreateEntity(c.Request.Context(), c.Param("type"), req.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: state})
}

// GetEntity handles GET /api/v1/entities/:type/:id
func (h *Handlers) GetEntity(c *gin.Context) {
	state, err := h.transitions.GetEntity(c.Request.Context(), c.Param("type"), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: state})
}

// ExecuteTransition handles POST /api/v1/entities/:type/:id/transitions
func (h *Handlers) ExecuteTransition(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body: " + err.Error()})
		return
	}

	outcome, err := h.transitions.Transition(c.Request.Context(), service.TransitionCommand{
		EntityType:   c.Param("type"),
		EntityID:     c.Param("id"),
		CurrentState: req.CurrentState,
		Event:        req.Event,
		Actor:        req.Actor,
		ActorID:      req.ActorID,
		Metadata:     req.Metadata,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	if !outcome.Success {
		c.JSON(outcomeStatus(outcome.Kind), Response{Success: false, Error: outcome.Message()})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: TransitionResult{
			NewState: outcome.NewState.String(),
			AuditID:  outcome.AuditID,
		},
	})
}

// GetAuditTrail handles GET /api/v1/entities/:type/:id/audit
func (h *Handlers) GetAuditTrail(c *gin.Context) {
	records, err := h.audit.GetAuditTrail(c.Request.Context(), c.Param("type"), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}

// ListTransitions handles GET /api/v1/audit/:type?start=...&end=...
func (h *Handlers) ListTransitions(c *gin.Context) {
	var q TimeRangeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "start and end must be RFC3339 timestamps"})
		return
	}

	records, err := h.audit.GetStateTransitions(c.Request.Context(), c.Param("type"), q.Start, q.End)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}

// TransitionStats handles GET /api/v1/audit/:type/stats
func (h *Handlers) TransitionStats(c *gin.Context) {
	stats, err := h.audit.GetTransitionStats(c.Request.Context(), c.Param("type"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: stats})
}

// fail maps service errors onto HTTP status codes
func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrUnknownMachine),
		errors.Is(err, port.ErrUnknownEntityType),
		errors.Is(err, port.ErrEntityNotFound):
		status = http.StatusNotFound
	case errors.Is(err, port.ErrEntityExists):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidQuery),
		errors.Is(err, service.ErrInvalidEntityID):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

func outcomeStatus(kind workflow.ErrorKind) int {
	switch kind {
	case workflow.KindValidation:
		return http.StatusUnprocessableEntity
	case workflow.KindNotFound:
		return http.StatusNotFound
	case workflow.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func toMachineResponse(m *domainwf.Machine) MachineResponse {
	resp := MachineResponse{
		Name:    m.Name(),
		Initial: m.Initial().String(),
	}
	for _, s := range m.States() {
		resp.States = append(resp.States, s.String())
	}
	for _, e := range m.Events() {
		resp.Events = append(resp.Events, e.String())
	}
	for _, t := range m.Transitions() {
		resp.Transitions = append(resp.Transitions, TransitionResponse{
			From:          t.From.String(),
			Event:         t.Event.String(),
			To:            t.To.String(),
			AllowedActors: t.AllowedActors,
			Guarded:       t.Guard != nil,
		})
	}
	return resp
}
