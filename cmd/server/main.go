package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"road-labeler-go/internal/client"
	"road-labeler-go/internal/config"
	"road-labeler-go/internal/database"
	"road-labeler-go/internal/handler"
	"road-labeler-go/internal/metrics"
	"road-labeler-go/internal/propagation"
	"road-labeler-go/internal/repository"
	"road-labeler-go/internal/rpc"
	"road-labeler-go/internal/segmenter"
	"road-labeler-go/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	// Инициализируем логгер
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.Info("Запуск Road Labeler API Server")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	logger.SetLevel(cfg.LogLevel())

	// Инициализируем базу данных
	logger.Info("Подключение к базе данных...")
	if err := database.Connect(cfg.Database.DSN); err != nil {
		logger.Fatalf("Ошибка подключения к базе данных: %v", err)
	}
	defer database.Close()

	// Выполняем миграции
	logger.Info("Выполнение миграций базы данных...")
	if err := database.Migrate(); err != nil {
		logger.Fatalf("Ошибка выполнения миграций: %v", err)
	}

	// Проверяем здоровье базы данных
	if err := database.HealthCheck(); err != nil {
		logger.Fatalf("База данных недоступна: %v", err)
	}

	logger.Info("База данных успешно подключена и готова к работе")

	m := metrics.New()
	timeout := time.Duration(cfg.SegmenterAPI.Timeout) * time.Second

	// Инициализируем репозитории
	sessionRepo := repository.NewSessionRepository(database.DB)

	// Инициализируем сервисы
	backends := func(sessionID string) segmenter.Backend {
		return client.NewSegmenterAPIClient(cfg.SegmenterAPI.BaseURL, sessionID, timeout, logger)
	}
	sessionService := service.NewSessionService(sessionRepo, backends, m, logger, service.SessionOptions{
		DuplicatePolicy: cfg.DuplicatePolicy(),
		CorruptPolicy:   cfg.CorruptPolicy(),
		Vectorizer:      propagation.ContourVectorizer{},
	})
	healthService := service.NewHealthService(
		client.NewSegmenterAPIClient(cfg.SegmenterAPI.BaseURL, "", timeout, logger), m, logger)

	// gRPC сервер состояния
	healthServer := rpc.NewHealthServer(logger)
	healthService.OnChange(healthServer.SetSegmenterHealthy)
	grpcListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
	if err != nil {
		logger.Fatalf("Ошибка запуска gRPC сервера: %v", err)
	}
	go func() {
		if err := healthServer.Serve(grpcListener); err != nil {
			logger.Errorf("gRPC сервер остановлен: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go healthService.Run(ctx, time.Duration(cfg.SegmenterAPI.HealthPoll)*time.Second)

	// Инициализируем обработчики
	sessionHandler := handler.NewSessionHandler(sessionService, logger)
	propagationHandler := handler.NewPropagationHandler(sessionService, healthService, logger)

	// Настраиваем Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Добавляем middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// Регистрируем маршруты
	sessionHandler.RegisterRoutes(router)
	propagationHandler.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	// Добавляем базовый маршрут для проверки
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Road Labeler API Server",
			"version": service.Version,
			"status":  "running",
		})
	})

	// Запускаем сервер
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}
	go func() {
		logger.Infof("Сервер запущен на порту %d", cfg.Server.Port)
		logger.Infof("API доступно по адресу: http://localhost:%d/api/v1", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Ошибка запуска сервера: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Остановка сервера...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Ошибка остановки HTTP сервера: %v", err)
	}
	if err := sessionService.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Ошибка закрытия сессий: %v", err)
	}
	healthServer.Stop()
	logger.Info("Сервер остановлен")
}

// corsMiddleware добавляет заголовки CORS
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
