package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"VoiceCoachService/pkg/resilience"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	// httpRequestDuration измеряет длительность HTTP запросов
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// httpRequestsTotal подсчитывает общее количество HTTP запросов
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// grpcRequestsTotal подсчитывает gRPC запросы (health, reflection)
	grpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	// dbOperationDuration измеряет длительность операций с базой данных
	dbOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	// dbOperationsTotal подсчитывает общее количество операций с базой данных
	dbOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	// sessionOperationsTotal подсчитывает операции с хранилищем сессий звонков
	sessionOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_store_operations_total",
			Help: "Total number of call session store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// collaboratorDuration измеряет обращения к телефонии, распознаванию и языковой модели
	collaboratorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collaborator_request_duration_seconds",
			Help:    "Duration of calls to external collaborators in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2, 4, 8, 15},
		},
		[]string{"collaborator", "operation", "status"},
	)

	// scheduledCallsTotal подсчитывает попытки звонков планировщика по результату
	scheduledCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduled_calls_total",
			Help: "Total number of outbound call attempts by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)

	// schedulerTickDuration длительность одного прохода планировщика
	schedulerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_tick_duration_seconds",
			Help:    "Duration of a scheduler tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// conversationTurnsTotal подсчитывает ходы диалога по стилю и результату
	conversationTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_turns_total",
			Help: "Total number of conversation turns by personality and outcome",
		},
		[]string{"personality", "outcome"},
	)

	// activeCallSessions количество звонков в процессе
	activeCallSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_call_sessions",
			Help: "Number of call sessions currently in progress",
		},
	)

	// circuitBreakerState отслеживает состояние circuit breaker
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "State of circuit breaker (0: closed, 1: half-open, 2: open)",
		},
		[]string{"name"},
	)
)

// MetricsServer запускает HTTP сервер для Prometheus
func MetricsServer(port int, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Starting metrics server", zap.Int("port", port))
		// Недоступность метрик не должна останавливать основной сервис
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return srv
}

// GinMetricsMiddleware собирает метрики HTTP запросов по шаблону маршрута
func GinMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		statusCode := strconv.Itoa(c.Writer.Status())

		httpRequestDuration.WithLabelValues(c.Request.Method, route, statusCode).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, statusCode).Inc()
	}
}

// MetricsUnaryInterceptor создает gRPC перехватчик для сбора метрик
func MetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		grpcRequestsTotal.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
		return resp, err
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordDBOperation записывает метрики операции с базой данных
func RecordDBOperation(operation string, duration time.Duration, err error) {
	s := statusLabel(err)
	dbOperationDuration.WithLabelValues(operation, s).Observe(duration.Seconds())
	dbOperationsTotal.WithLabelValues(operation, s).Inc()
}

// RecordSessionOperation записывает операцию с хранилищем сессий
func RecordSessionOperation(backend, operation string, err error) {
	sessionOperationsTotal.WithLabelValues(backend, operation, statusLabel(err)).Inc()
}

// RecordCollaboratorCall записывает обращение к внешнему сервису
func RecordCollaboratorCall(collaborator, operation string, duration time.Duration, err error) {
	collaboratorDuration.WithLabelValues(collaborator, operation, statusLabel(err)).Observe(duration.Seconds())
}

// RecordScheduledCall записывает результат попытки звонка (trigger: tick, register, manual)
func RecordScheduledCall(trigger, outcome string) {
	scheduledCallsTotal.WithLabelValues(trigger, outcome).Inc()
}

// RecordSchedulerTick записывает длительность прохода планировщика
func RecordSchedulerTick(duration time.Duration) {
	schedulerTickDuration.Observe(duration.Seconds())
}

// RecordConversationTurn записывает ход диалога (outcome: reply, ended, fallback)
func RecordConversationTurn(personality, outcome string) {
	conversationTurnsTotal.WithLabelValues(personality, outcome).Inc()
}

// CallSessionStarted увеличивает число активных сессий
func CallSessionStarted() {
	activeCallSessions.Inc()
}

// CallSessionFinished уменьшает число активных сессий
func CallSessionFinished() {
	activeCallSessions.Dec()
}

// RecordCircuitBreakerStateChange записывает изменение состояния circuit breaker.
// Сигнатура совпадает с resilience.StateListener.
func RecordCircuitBreakerStateChange(name string, state resilience.CircuitState) {
	circuitBreakerState.WithLabelValues(name).Set(float64(state))
}
