// Package rpc отдает состояние сервера разметки по протоколу grpc.health.v1
package rpc

import (
	"net"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// SegmenterService имя сервиса, чье состояние зависит от сервиса сегментации
const SegmenterService = "labeler.Segmenter"

// HealthServer gRPC сервер проверки состояния
type HealthServer struct {
	server *grpc.Server
	health *health.Server
	logger *logrus.Logger
}

// NewHealthServer создает сервер. Общий статус ("") всегда SERVING,
// SegmenterService начинает с NOT_SERVING до первой успешной проверки.
func NewHealthServer(logger *logrus.Logger) *HealthServer {
	h := &HealthServer{
		server: grpc.NewServer(),
		health: health.NewServer(),
		logger: logger,
	}
	healthpb.RegisterHealthServer(h.server, h.health)
	reflection.Register(h.server)

	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.health.SetServingStatus(SegmenterService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// SetSegmenterHealthy переключает статус SegmenterService
func (h *HealthServer) SetSegmenterHealthy(healthy bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if healthy {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(SegmenterService, status)
	h.logger.Debugf("gRPC статус %s: %s", SegmenterService, status)
}

// Serve обслуживает соединения до остановки сервера
func (h *HealthServer) Serve(lis net.Listener) error {
	h.logger.Infof("gRPC сервер состояния запущен на %s", lis.Addr())
	return h.server.Serve(lis)
}

// Stop переводит все сервисы в NOT_SERVING и останавливает сервер
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
