package grpc

import (
	"context"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"gorm.io/gorm"
)

// ServiceName is the health service key reported for the points service.
const ServiceName = "points.PointsService"

type Server struct {
	DB     *gorm.DB
	grpc   *grpc.Server
	health *health.Server
}

func NewServer(db *gorm.DB) *Server {
	s := &Server{
		DB:     db,
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// CheckDatabase pings the database and publishes the result as the service status.
func (s *Server) CheckDatabase(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	sqlDB, err := s.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		log.WithError(err).Warn("database ping failed")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
	return status
}

func (s *Server) watch(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			s.CheckDatabase(pingCtx)
			cancel()
		}
	}
}

// Serve blocks until lis fails or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.CheckDatabase(ctx)
	go s.watch(ctx, 30*time.Second)
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()

	log.WithField("addr", lis.Addr().String()).Info("gRPC server listening")
	return s.grpc.Serve(lis)
}

// StartGRPCServer listens on port and serves until ctx is cancelled.
func StartGRPCServer(ctx context.Context, port string, db *gorm.DB) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}
	return NewServer(db).Serve(ctx, lis)
}
