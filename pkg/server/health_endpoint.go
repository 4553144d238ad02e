package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	statusUp       = "up"
	statusDown     = "down"
	statusDegraded = "degraded"
	statusDisabled = "disabled"
	statusUnknown  = "unknown"
)

// HealthCheckerInterface проверяет зависимости сервиса
type HealthCheckerInterface interface {
	// IsDatabaseHealthy проверяет здоровье PostgreSQL
	IsDatabaseHealthy(ctx context.Context) bool

	// IsRedisHealthy проверяет здоровье Redis
	IsRedisHealthy(ctx context.Context) bool

	// RedisEnabled false, если сервис работает без Redis
	RedisEnabled() bool
}

// HealthCheck HTTP эндпоинты /health, /health/live, /health/ready и синхронизация gRPC health
type HealthCheck struct {
	checker       HealthCheckerInterface
	logger        *zap.Logger
	server        *http.Server
	grpcHealth    *health.Server
	interval      time.Duration
	statusMutex   sync.RWMutex
	serviceStatus map[string]string
	stop          chan struct{}
	stopOnce      sync.Once
}

// HealthResponse представляет ответ эндпоинта проверки здоровья
type HealthResponse struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
}

// NewHealthCheck создает новый сервис проверки здоровья
func NewHealthCheck(checker HealthCheckerInterface, logger *zap.Logger, version string) *HealthCheck {
	h := &HealthCheck{
		checker:       checker,
		logger:        logger,
		interval:      10 * time.Second,
		serviceStatus: make(map[string]string),
		stop:          make(chan struct{}),
	}

	h.serviceStatus["service"] = statusUp
	h.serviceStatus["postgres"] = statusUnknown
	h.serviceStatus["redis"] = statusUnknown
	if !checker.RedisEnabled() {
		h.serviceStatus["redis"] = statusDisabled
	}
	h.serviceStatus["version"] = version

	return h
}

// AttachGRPCHealth связывает статус PostgreSQL со статусом gRPC health сервиса
func (h *HealthCheck) AttachGRPCHealth(srv *health.Server) {
	h.grpcHealth = srv
}

// StartServer запускает HTTP сервер для проверки здоровья и фоновый мониторинг
func (h *HealthCheck) StartServer(port int) {
	h.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		h.logger.Info("Starting health check server", zap.Int("port", port))
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("Health check server failed", zap.Error(err))
		}
	}()

	// Первая проверка сразу, чтобы readiness не ждал первого тика
	h.checkServicesHealth()
	go h.monitorHealth()
}

// Handler возвращает маршруты health-эндпоинтов
func (h *HealthCheck) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", h.livenessHandler)
	mux.HandleFunc("/health/ready", h.readinessHandler)
	mux.HandleFunc("/health", h.healthHandler)
	return mux
}

// Stop останавливает мониторинг и HTTP сервер
func (h *HealthCheck) Stop(ctx context.Context) error {
	h.stopOnce.Do(func() { close(h.stop) })
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// livenessHandler проверяет только, что процесс жив
func (h *HealthCheck) livenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": statusUp})
}

// readinessHandler: без PostgreSQL сервис не готов; Redis влияет только на /health
func (h *HealthCheck) readinessHandler(w http.ResponseWriter, r *http.Request) {
	h.statusMutex.RLock()
	pgStatus := h.serviceStatus["postgres"]
	h.statusMutex.RUnlock()

	if pgStatus != statusUp {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  statusDown,
			"message": "PostgreSQL is not available",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": statusUp})
}

// healthHandler возвращает статус всех зависимостей
func (h *HealthCheck) healthHandler(w http.ResponseWriter, r *http.Request) {
	h.statusMutex.RLock()
	services := make(map[string]string, len(h.serviceStatus))
	for k, v := range h.serviceStatus {
		services[k] = v
	}
	h.statusMutex.RUnlock()

	overall := statusUp
	if services["postgres"] != statusUp {
		overall = statusDown
	} else if services["redis"] == statusDegraded {
		overall = statusDegraded
	}

	code := http.StatusOK
	if overall == statusDown {
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, HealthResponse{
		Status:    overall,
		Services:  services,
		Timestamp: time.Now(),
		Version:   services["version"],
	})
}

// monitorHealth регулярно проверяет состояние зависимостей до вызова Stop
func (h *HealthCheck) monitorHealth() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.checkServicesHealth()
		case <-h.stop:
			return
		}
	}
}

// checkServicesHealth проверяет зависимости и обновляет статусы
func (h *HealthCheck) checkServicesHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pgStatus := statusUp
	if !h.checker.IsDatabaseHealthy(ctx) {
		pgStatus = statusDown
		h.logger.Warn("PostgreSQL health check failed")
	}

	redisStatus := statusDisabled
	if h.checker.RedisEnabled() {
		redisStatus = statusUp
		if !h.checker.IsRedisHealthy(ctx) {
			redisStatus = statusDegraded
			h.logger.Warn("Redis health check failed")
		}
	}

	h.statusMutex.Lock()
	h.serviceStatus["postgres"] = pgStatus
	h.serviceStatus["redis"] = redisStatus
	h.statusMutex.Unlock()

	if h.grpcHealth != nil {
		servingStatus := healthpb.HealthCheckResponse_SERVING
		if pgStatus != statusUp {
			servingStatus = healthpb.HealthCheckResponse_NOT_SERVING
		}
		h.grpcHealth.SetServingStatus("", servingStatus)
	}
}
