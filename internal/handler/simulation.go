package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"whatif-backend/internal/client"
	"whatif-backend/internal/metrics"
	"whatif-backend/internal/model"
	"whatif-backend/internal/service"
	"whatif-backend/internal/store"
)

// Simulator is implemented by service.SimulationService.
type Simulator interface {
	Simulate(ctx context.Context, req model.SimulationRequest) (*metrics.View, error)
	LoadDemo(ctx context.Context, req model.SimulationRequest) (*metrics.View, error)
	Latest(ctx context.Context) (*metrics.View, bool)
	Busy(ctx context.Context) bool
	Runs(ctx context.Context, limit int) ([]store.RunSummary, error)
	Run(ctx context.Context, engineRunID string) (*metrics.View, error)
	Ready(ctx context.Context) error
}

type SimulationHandler struct {
	svc Simulator
}

func NewSimulationHandler(svc Simulator) *SimulationHandler {
	return &SimulationHandler{svc: svc}
}

// Simulate 提交一次模拟
func (h *SimulationHandler) Simulate(c *gin.Context) {
	req, ok := bindRequest(c, false)
	if !ok {
		return
	}
	view, err := h.svc.Simulate(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Demo 写入演示数据后模拟，请求体为空时使用演示决策
func (h *SimulationHandler) Demo(c *gin.Context) {
	req, ok := bindRequest(c, true)
	if !ok {
		return
	}
	view, err := h.svc.LoadDemo(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Latest 最近一次成功的结果
func (h *SimulationHandler) Latest(c *gin.Context) {
	view, ok := h.svc.Latest(c.Request.Context())
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no simulation yet"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *SimulationHandler) Runs(c *gin.Context) {
	limit := store.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := h.svc.Runs(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *SimulationHandler) Run(c *gin.Context) {
	view, err := h.svc.Run(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Health 存活检查，附带当前会话是否有模拟在进行
func (h *SimulationHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "busy": h.svc.Busy(c.Request.Context())})
}

// Ready 检查模拟引擎是否可用
func (h *SimulationHandler) Ready(c *gin.Context) {
	if err := h.svc.Ready(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// bindRequest decodes the body over the default form values so partial
// bodies are accepted. decision_text has no default, except that an optional
// empty body means the demo decision.
func bindRequest(c *gin.Context, optional bool) (model.SimulationRequest, bool) {
	if optional && c.Request.ContentLength == 0 {
		return model.DemoRequest(), true
	}
	req := model.DefaultRequest()
	req.DecisionText = ""

	err := c.ShouldBindJSON(&req)
	if err == nil {
		return req, true
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		if verr := req.Validate(); verr != nil {
			respondError(c, verr)
			return req, false
		}
	}
	if errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body is required"})
		return req, false
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
	return req, false
}

// respondError maps service errors to HTTP statuses. Engine messages are
// passed through unchanged.
func respondError(c *gin.Context, err error) {
	var (
		verr      *model.ValidationError
		transport *client.TransportError
		malformed *client.MalformedResponseError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "fields": verr.Fields})
	case errors.Is(err, service.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &transport), errors.As(err, &malformed):
		c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.Error(err)
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "simulation engine timed out"})
	default:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
