package api

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServicePrefix prefixes the per-collector health service names.
const ServicePrefix = "flowspectra."

// Health reports the overall status and one status per collector over gRPC.
type Health struct {
	server *health.Server
	grpc   *grpc.Server
}

// NewHealth creates a gRPC server with the health service registered.
func NewHealth() *Health {
	h := &Health{server: health.NewServer(), grpc: grpc.NewServer()}
	healthpb.RegisterHealthServer(h.grpc, h.server)
	reflection.Register(h.grpc)
	return h
}

// GRPCServer returns the underlying server to Serve on a listener.
func (h *Health) GRPCServer() *grpc.Server { return h.grpc }

// Update marks every listed collector as serving.
func (h *Health) Update(source SnapshotSource) {
	h.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, c := range source.Collectors() {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if _, ok := source.Latest(c.Name()); ok {
			status = healthpb.HealthCheckResponse_SERVING
		}
		h.server.SetServingStatus(ServicePrefix+c.Name(), status)
	}
}

// Shutdown flips every service to NOT_SERVING and stops the server.
func (h *Health) Shutdown() {
	h.server.Shutdown()
	h.grpc.GracefulStop()
}
