package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServer exposes the standard gRPC health service, mirroring the HTTP
// monitor so orchestrated deployments can probe either surface.
type GRPCServer struct {
	monitor *Monitor
	port    int
	server  *grpc.Server
	svc     *grpchealth.Server
}

// NewGRPCServer creates a gRPC health server.
func NewGRPCServer(monitor *Monitor, port int) *GRPCServer {
	srv := grpc.NewServer()
	svc := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, svc)

	return &GRPCServer{
		monitor: monitor,
		port:    port,
		server:  srv,
		svc:     svc,
	}
}

// Start serves until the context is cancelled. The serving status is refreshed
// from the monitor every 10s.
func (g *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", g.port))
	if err != nil {
		return fmt.Errorf("failed to listen on grpc health port: %w", err)
	}

	go g.refreshLoop(ctx)
	go func() {
		<-ctx.Done()
		g.server.GracefulStop()
	}()

	return g.server.Serve(lis)
}

// Stop halts the server immediately.
func (g *GRPCServer) Stop() {
	g.server.Stop()
}

func (g *GRPCServer) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	g.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.refresh(ctx)
		}
	}
}

func (g *GRPCServer) refresh(ctx context.Context) {
	report := g.monitor.CheckHealth(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if report.SystemStatus == StatusCritical {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.svc.SetServingStatus("", status)
}
