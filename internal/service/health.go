package service

import (
	"context"
	"sync"
	"time"

	"road-labeler-go/internal/metrics"
	"road-labeler-go/pkg/models"

	"github.com/sirupsen/logrus"
)

// Version версия сервера разметки
const Version = "1.0.0"

// HealthChecker источник состояния сегментатора
type HealthChecker interface {
	CheckHealth(ctx context.Context) (*models.HealthResponse, error)
}

// HealthService следит за доступностью сервиса сегментации
type HealthService struct {
	checker HealthChecker
	metrics *metrics.Metrics
	logger  *logrus.Logger

	mu       sync.RWMutex
	last     *models.HealthResponse
	healthy  bool
	onChange []func(healthy bool)
}

// NewHealthService создает новый сервис проверки состояния
func NewHealthService(checker HealthChecker, m *metrics.Metrics, logger *logrus.Logger) *HealthService {
	return &HealthService{
		checker: checker,
		metrics: m,
		logger:  logger,
		last:    unhealthy(),
	}
}

// OnChange подписка на смену состояния сегментатора
func (h *HealthService) OnChange(fn func(healthy bool)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// CheckHealth проверяет состояние сервиса сегментации. Ошибка проверки дает ответ unhealthy.
func (h *HealthService) CheckHealth(ctx context.Context) *models.HealthResponse {
	h.logger.Debug("Проверяем состояние сервиса сегментации")

	resp, err := h.checker.CheckHealth(ctx)
	if err != nil {
		h.logger.Errorf("Сервис сегментации недоступен: %v", err)
		resp = unhealthy()
	}
	healthy := resp.Status == "healthy" && resp.ModelLoaded

	h.mu.Lock()
	changed := healthy != h.healthy
	h.healthy = healthy
	h.last = resp
	callbacks := append([]func(bool){}, h.onChange...)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SegmenterAvailable.Store(healthy)
	}
	if changed {
		h.logger.Infof("Состояние сервиса сегментации изменилось: healthy=%t", healthy)
		for _, fn := range callbacks {
			fn(healthy)
		}
	}
	return resp
}

// Last последний полученный ответ
func (h *HealthService) Last() *models.HealthResponse {
	h.mu.RLock()
	defer h.mu.RUnlock()
	resp := *h.last
	return &resp
}

// Healthy доступен ли сегментатор по последней проверке
func (h *HealthService) Healthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.healthy
}

// Run периодически опрашивает сервис сегментации до отмены ctx
func (h *HealthService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.CheckHealth(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CheckHealth(ctx)
		}
	}
}

func unhealthy() *models.HealthResponse {
	return &models.HealthResponse{
		Status:      "unhealthy",
		ModelLoaded: false,
		Version:     Version,
	}
}
