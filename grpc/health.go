package grpc

import (
	"fmt"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// CatalogService is the health service name reporting catalog availability.
const CatalogService = "storefront.Catalog"

type CatalogSize interface {
	Len() int
}

type HealthServer struct {
	server  *grpc.Server
	health  *health.Server
	catalog CatalogSize
	logger  *zap.Logger
}

func NewHealthServer(catalog CatalogSize, logger *zap.Logger) *HealthServer {
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)

	h := &HealthServer{server: server, health: hs, catalog: catalog, logger: logger}
	h.Refresh()
	return h
}

// Refresh publishes the current catalog state. Call it after a reload.
func (h *HealthServer) Refresh() {
	status := healthpb.HealthCheckResponse_SERVING
	if h.catalog.Len() == 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.health.SetServingStatus(CatalogService, status)
}

func (h *HealthServer) Listen(port string) (net.Listener, error) {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on gRPC port: %w", err)
	}
	return lis, nil
}

func (h *HealthServer) Serve(lis net.Listener) error {
	h.logger.Info("gRPC health server started", zap.String("addr", lis.Addr().String()))
	return h.server.Serve(lis)
}

func (h *HealthServer) GracefulStop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
