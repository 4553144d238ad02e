package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"VoiceCoachService/pkg/server"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// Server gRPC сервер для служебных сервисов: health и reflection
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     *zap.Logger
	port       int
}

// NewServer создает gRPC сервер с перехватчиками трассировки, метрик и восстановления после паники
func NewServer(logger *zap.Logger, port int) *Server {
	s := &Server{
		health: health.NewServer(),
		logger: logger,
		port:   port,
	}

	s.grpcServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			server.TracingUnaryInterceptor(logger),
			server.MetricsUnaryInterceptor(),
			s.recoveryInterceptor(),
		),
	)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Включаем reflection для удобства отладки через grpcurl
	reflection.Register(s.grpcServer)

	return s
}

// Health возвращает health сервер, статус которого синхронизирует HealthCheck
func (s *Server) Health() *health.Server {
	return s.health
}

// Run слушает порт и блокируется до Stop
func (s *Server) Run() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		s.logger.Error("Failed to listen", zap.Error(err), zap.Int("port", s.port))
		return err
	}
	return s.Serve(lis)
}

// Serve обслуживает готовый listener
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("Starting gRPC server", zap.String("addr", lis.Addr().String()))
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop переводит health в NOT_SERVING и дожидается завершения текущих запросов
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping gRPC server")
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpcServer.Stop()
		return ctx.Err()
	}
}

// recoveryInterceptor превращает панику обработчика в codes.Internal
func (s *Server) recoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Recovered from panic",
					zap.Any("panic", r),
					zap.String("method", info.FullMethod))
				err = status.Error(codes.Internal, "internal error")
			}
		}()

		return handler(ctx, req)
	}
}
