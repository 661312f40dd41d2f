package grpc_control

import (
	"context"
	"fmt"
	"net"
	"time"

	"stock-stream/src/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-check service reported alongside the overall ("") status.
const ServiceName = "stock-stream"

const defaultCheckInterval = time.Second

// RateLimitSource is satisfied by the connection coordinator.
type RateLimitSource interface {
	RateLimited() bool
}

// -----------------------------------------------------------------------------
// HealthService - grpc.health.v1 backed by the coordinator's rate window
// -----------------------------------------------------------------------------

type HealthService struct {
	Health   *health.Server
	Source   RateLimitSource
	Interval time.Duration
	Logger   *logger.Logger

	serving bool
}

func NewHealthService(src RateLimitSource, log *logger.Logger) *HealthService {
	s := &HealthService{
		Health:   health.NewServer(),
		Source:   src,
		Interval: defaultCheckInterval,
		Logger:   log,
		serving:  true,
	}
	s.Health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.Health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// -----------------------------------------------------------------------------

// Refresh reports NOT_SERVING for the stream service while the global rate
// window is blocking admissions.
func (s *HealthService) Refresh() {
	serving := !s.Source.RateLimited()
	if serving == s.serving {
		return
	}
	s.serving = serving

	if serving {
		s.Logger.Info("gRPC health: %s serving again", ServiceName)
		s.Health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
		return
	}
	s.Logger.Warning("gRPC health: %s rate limited, reporting NOT_SERVING", ServiceName)
	s.Health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Run refreshes on every interval until ctx is done, then marks everything
// NOT_SERVING.
func (s *HealthService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Health.Shutdown()
			return
		case <-ticker.C:
			s.Refresh()
		}
	}
}

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// NewServer builds a gRPC server exposing the health service and reflection.
func NewServer(hs *HealthService) *grpc.Server {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs.Health)
	reflection.Register(srv)
	return srv
}

// Serve listens on host:port and blocks until the server stops.
func Serve(srv *grpc.Server, host string, port int, log *logger.Logger) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for gRPC on %s: %w", addr, err)
	}
	log.Info("Starting gRPC health server on %s", addr)
	return srv.Serve(lis)
}
