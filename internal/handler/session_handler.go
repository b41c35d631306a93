package handler

import (
	"net/http"
	"strconv"

	"road-labeler-go/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SessionHandler обрабатывает HTTP запросы для работы с сессиями разметки
type SessionHandler struct {
	sessionService *service.SessionService
	logger         *logrus.Logger
}

// NewSessionHandler создает новый экземпляр SessionHandler
func NewSessionHandler(sessionService *service.SessionService, logger *logrus.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		logger:         logger,
	}
}

// RegisterRoutes регистрирует маршруты API
func (h *SessionHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/sessions", h.OpenSession)
		api.GET("/sessions", h.ListSessions)
		api.GET("/sessions/:id", h.GetSession)
		api.DELETE("/sessions/:id", h.CloseSession)
		api.POST("/sessions/:id/reload", h.ReloadFrames)
		api.GET("/sessions/:id/document", h.GetDocument)
		api.GET("/sessions/:id/stats", h.GetStats)

		api.POST("/sessions/:id/observations", h.AddObservation)
		api.DELETE("/sessions/:id/observations", h.RemoveObservations)
		api.POST("/sessions/:id/observations/:name/select", h.SelectObservation)
		api.PUT("/sessions/:id/observations/:name/visibility", h.SetVisibility)
		api.POST("/sessions/:id/observations/:name/split", h.SplitClick)
		api.DELETE("/sessions/:id/observations/:name/intervals/:frame", h.DeleteInterval)

		api.GET("/sessions/:id/frames/:frame", h.GetFrame)
		api.POST("/sessions/:id/frames/:frame/mark", h.ToggleMark)
		api.PUT("/sessions/:id/frames/:frame/observations/:name/points", h.SetPoints)
		api.PUT("/sessions/:id/frames/:frame/observations/:name/polygon", h.SetPolygon)
		api.POST("/sessions/:id/frames/:frame/observations/:name/select", h.SelectAnnotation)
		api.PUT("/sessions/:id/frames/:frame/observations/:name/shown", h.SetShown)
	}
}

// OpenSession открывает сессию разметки для каталога кадров
// @Summary Открытие сессии разметки
// @Tags sessions
// @Accept json
// @Produce json
// @Param request body service.OpenSessionRequest true "Каталог кадров"
// @Success 200 {object} service.SessionResponse
// @Failure 400 {object} gin.H
// @Failure 404 {object} gin.H
// @Router /sessions [post]
func (h *SessionHandler) OpenSession(c *gin.Context) {
	h.logger.Info("Получен запрос на открытие сессии")

	var req service.OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Ошибка парсинга запроса: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "frame_dir обязателен"})
		return
	}

	session, err := h.sessionService.OpenSession(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err, "Ошибка открытия сессии")
		return
	}
	c.JSON(http.StatusOK, session)
}

// ListSessions возвращает список сессий с пагинацией
func (h *SessionHandler) ListSessions(c *gin.Context) {
	h.logger.Info("Получен запрос на получение списка сессий")

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", "10"))
	if err != nil || size < 1 || size > 100 {
		size = 10
	}

	sessions, total, err := h.sessionService.ListSessions(page, size)
	if err != nil {
		respondError(c, h.logger, err, "Ошибка получения списка сессий")
		return
	}

	h.logger.Infof("Возвращено %d сессий из %d", len(sessions), total)
	c.JSON(http.StatusOK, service.ListSessionsResponse{
		Sessions: sessions,
		Total:    total,
		Page:     page,
		Size:     size,
	})
}

// GetSession возвращает состояние открытой сессии
func (h *SessionHandler) GetSession(c *gin.Context) {
	session, err := h.sessionService.GetSession(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err, "Сессия не найдена")
		return
	}
	c.JSON(http.StatusOK, session)
}

// CloseSession сохраняет и закрывает сессию, с purge=true удаляет ее из индекса
// @Summary Закрытие сессии
// @Tags sessions
// @Param purge query bool false "Удалить запись из индекса"
// @Success 200 {object} gin.H
// @Failure 404 {object} gin.H
// @Failure 409 {object} gin.H
// @Router /sessions/{id} [delete]
func (h *SessionHandler) CloseSession(c *gin.Context) {
	sessionID := c.Param("id")
	h.logger.Infof("Получен запрос на закрытие сессии %s", sessionID)

	purge := c.Query("purge") == "true"
	if err := h.sessionService.CloseSession(sessionID, purge); err != nil {
		respondError(c, h.logger, err, "Ошибка закрытия сессии")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Сессия закрыта"})
}

// ReloadFrames перечитывает каталог кадров
func (h *SessionHandler) ReloadFrames(c *gin.Context) {
	session, err := h.sessionService.ReloadFrames(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err, "Ошибка перезагрузки кадров")
		return
	}
	c.JSON(http.StatusOK, session)
}

// GetDocument возвращает документ сессии в формате файла на диске
func (h *SessionHandler) GetDocument(c *gin.Context) {
	doc, err := h.sessionService.Document(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err, "Ошибка получения документа")
		return
	}
	c.JSON(http.StatusOK, doc)
}

// GetStats возвращает статистику разметки
func (h *SessionHandler) GetStats(c *gin.Context) {
	stats, err := h.sessionService.Stats(c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err, "Ошибка расчета статистики")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// AddObservation добавляет наблюдение
func (h *SessionHandler) AddObservation(c *gin.Context) {
	var req service.AddObservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name обязателен"})
		return
	}

	obs, err := h.sessionService.AddObservation(c.Param("id"), req.Name)
	if err != nil {
		respondError(c, h.logger, err, "Ошибка добавления наблюдения")
		return
	}
	c.JSON(http.StatusCreated, obs)
}

// RemoveObservations удаляет наблюдения
func (h *SessionHandler) RemoveObservations(c *gin.Context) {
	var req service.RemoveObservationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "names обязателен"})
		return
	}

	removed, err := h.sessionService.RemoveObservations(c.Param("id"), req.Names)
	if err != nil {
		respondError(c, h.logger, err, "Ошибка удаления наблюдений")
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// SelectObservation выбирает наблюдение
func (h *SessionHandler) SelectObservation(c *gin.Context) {
	selected, err := h.sessionService.SelectObservation(c.Param("id"), c.Param("name"))
	if err != nil {
		respondError(c, h.logger, err, "Ошибка выбора наблюдения")
		return
	}
	c.JSON(http.StatusOK, gin.H{"selected": selected})
}

// SetVisibility включает или выключает отрисовку наблюдения
func (h *SessionHandler) SetVisibility(c *gin.Context) {
	var req service.VisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат запроса", "details": err.Error()})
		return
	}
	if err := h.sessionService.SetVisible(c.Param("id"), c.Param("name"), req.Visible); err != nil {
		respondError(c, h.logger, err, "Ошибка изменения видимости")
		return
	}
	c.JSON(http.StatusOK, gin.H{"visible": req.Visible})
}

// SplitClick клик жеста разбиения на интервалы
// @Summary Разбиение на интервалы
// @Description Первый клик начинает интервал, второй на том же наблюдении фиксирует его
// @Tags intervals
// @Produce json
// @Param frame query int true "Номер кадра"
// @Success 200 {object} service.SplitResponse
// @Router /sessions/{id}/observations/{name}/split [post]
func (h *SessionHandler) SplitClick(c *gin.Context) {
	frame, err := strconv.Atoi(c.Query("frame"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат номера кадра"})
		return
	}

	resp, err := h.sessionService.SplitClick(c.Param("id"), c.Param("name"), frame)
	if err != nil {
		respondError(c, h.logger, err, "Ошибка разбиения на интервалы")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteInterval удаляет интервал, содержащий кадр
func (h *SessionHandler) DeleteInterval(c *gin.Context) {
	frame, ok := frameParam(c)
	if !ok {
		return
	}

	deleted, err := h.sessionService.DeleteInterval(c.Param("id"), c.Param("name"), frame)
	if err != nil {
		respondError(c, h.logger, err, "Ошибка удаления интервала")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// GetFrame возвращает кадр со всеми аннотациями
func (h *SessionHandler) GetFrame(c *gin.Context) {
	frame, ok := frameParam(c)
	if !ok {
		return
	}

	resp, err := h.sessionService.Frame(c.Param("id"), frame)
	if err != nil {
		respondError(c, h.logger, err, "Кадр не найден")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ToggleMark переключает отметку кадра
func (h *SessionHandler) ToggleMark(c *gin.Context) {
	frame, ok := frameParam(c)
	if !ok {
		return
	}

	marked, err := h.sessionService.ToggleMark(c.Param("id"), frame)
	if err != nil {
		respondError(c, h.logger, err, "Ошибка отметки кадра")
		return
	}
	c.JSON(http.StatusOK, gin.H{"frame_number": frame, "is_marked": marked})
}

// SelectAnnotation выделяет аннотацию на кадре
func (h *SessionHandler) SelectAnnotation(c *gin.Context) {
	frame, ok := frameParam(c)
	if !ok {
		return
	}
	resp, err := h.sessionService.SelectAnnotation(c.Param("id"), frame, c.Param("name"))
	if err != nil {
		respondError(c, h.logger, err, "Ошибка выделения аннотации")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SetShown показывает или скрывает аннотацию на кадре
func (h *SessionHandler) SetShown(c *gin.Context) {
	frame, ok := frameParam(c)
	if !ok {
		return
	}
	var req service.ShownRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат запроса", "details": err.Error()})
		return
	}
	resp, err := h.sessionService.SetShown(c.Param("id"), frame, c.Param("name"), req.Shown)
	if err != nil {
		respondError(c, h.logger, err, "Ошибка изменения отображения аннотации")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SetPoints заменяет точки аннотации
func (h *SessionHandler) SetPoints(c *gin.Context) {
	frame, ok := frameParam(c)
	if !ok {
		return
	}
	var req service.SetPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат точек"})
		return
	}

	resp, err := h.sessionService.SetPoints(c.Param("id"), frame, c.Param("name"), req)
	if err != nil {
		respondError(c, h.logger, err, "Ошибка сохранения точек")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SetPolygon заменяет маску аннотации
func (h *SessionHandler) SetPolygon(c *gin.Context) {
	frame, ok := frameParam(c)
	if !ok {
		return
	}
	var req service.SetPolygonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат полигонов"})
		return
	}

	resp, err := h.sessionService.SetPolygon(c.Param("id"), frame, c.Param("name"), req)
	if err != nil {
		respondError(c, h.logger, err, "Ошибка сохранения маски")
		return
	}
	c.JSON(http.StatusOK, resp)
}
