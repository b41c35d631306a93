package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"road-labeler-go/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// PropagationHandler обработчик распространения масок и состояния сервиса
type PropagationHandler struct {
	sessionService *service.SessionService
	healthService  *service.HealthService
	logger         *logrus.Logger
}

// NewPropagationHandler создает новый обработчик
func NewPropagationHandler(sessionService *service.SessionService, healthService *service.HealthService, logger *logrus.Logger) *PropagationHandler {
	return &PropagationHandler{
		sessionService: sessionService,
		healthService:  healthService,
		logger:         logger,
	}
}

// RegisterRoutes регистрирует маршруты API
func (h *PropagationHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/sessions/:id/observations/:name/propagate", h.StartPropagation)
		api.GET("/sessions/:id/jobs/:job", h.GetJob)
		api.DELETE("/sessions/:id/jobs/:job", h.CancelJob)
		api.GET("/sessions/:id/runs", h.ListRuns)
		api.GET("/health", h.HealthCheck)
	}
}

// StartPropagation запускает распространение маски наблюдения
// @Summary Распространение маски
// @Description Распространяет маску по интервалам наблюдения в фоне и возвращает задачу
// @Tags propagation
// @Accept json
// @Produce json
// @Param request body service.PropagateRequest false "Границы интервала"
// @Success 202 {object} service.JobResponse
// @Failure 404 {object} gin.H
// @Failure 409 {object} gin.H
// @Failure 422 {object} gin.H
// @Router /sessions/{id}/observations/{name}/propagate [post]
func (h *PropagationHandler) StartPropagation(c *gin.Context) {
	sessionID, observation := c.Param("id"), c.Param("name")
	h.logger.Infof("Получен запрос на распространение %q в сессии %s", observation, sessionID)

	var req service.PropagateRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат границ интервала"})
		return
	}

	job, err := h.sessionService.StartPropagation(sessionID, observation, req)
	if err != nil {
		respondError(c, h.logger, err, "Ошибка запуска распространения")
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// GetJob возвращает состояние задачи
// @Summary Состояние задачи распространения
// @Tags propagation
// @Produce json
// @Success 200 {object} service.JobResponse
// @Failure 404 {object} gin.H
// @Router /sessions/{id}/jobs/{job} [get]
func (h *PropagationHandler) GetJob(c *gin.Context) {
	job, err := h.sessionService.GetJob(c.Param("id"), c.Param("job"))
	if err != nil {
		respondError(c, h.logger, err, "Задача не найдена")
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelJob отменяет задачу
func (h *PropagationHandler) CancelJob(c *gin.Context) {
	job, err := h.sessionService.CancelJob(c.Param("id"), c.Param("job"))
	if err != nil {
		respondError(c, h.logger, err, "Задача не найдена")
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// ListRuns история запусков распространения сессии
func (h *PropagationHandler) ListRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		limit = 50
	}

	runs, err := h.sessionService.ListRuns(c.Param("id"), limit)
	if err != nil {
		respondError(c, h.logger, err, "Ошибка получения истории распространения")
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "total": len(runs)})
}

// HealthCheck проверяет состояние сервиса
// @Summary Проверка состояния сервиса
// @Description Возвращает информацию о состоянии сервиса сегментации
// @Tags health
// @Produce json
// @Success 200 {object} models.HealthResponse
// @Failure 503 {object} models.HealthResponse
// @Router /health [get]
func (h *PropagationHandler) HealthCheck(c *gin.Context) {
	h.logger.Debug("Получен запрос проверки здоровья")

	health := h.healthService.CheckHealth(c.Request.Context())

	statusCode := http.StatusOK
	if health.Status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, health)
}
