package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"VoiceCoachService/pkg/apperrors"
	"VoiceCoachService/pkg/resilience"
	"VoiceCoachService/pkg/server"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// HealthChecker проверяет PostgreSQL и Redis и хранит circuit breaker для каждого из них.
// Redis необязателен: при redisClient == nil сессии звонков живут в памяти процесса.
type HealthChecker struct {
	db           *gorm.DB
	redisClient  *redis.Client
	logger       *zap.Logger
	pgCircuit    *resilience.CircuitBreaker
	redisCircuit *resilience.CircuitBreaker
}

// NewDatabaseHealthChecker создает новый экземпляр проверки состояния баз данных
func NewDatabaseHealthChecker(db *gorm.DB, redisClient *redis.Client, logger *zap.Logger, opts resilience.BreakerOptions) *HealthChecker {
	return &HealthChecker{
		db:           db,
		redisClient:  redisClient,
		logger:       logger,
		pgCircuit:    resilience.NewCircuitBreaker("postgres", opts, logger, apperrors.IgnoredErrors...),
		redisCircuit: resilience.NewCircuitBreaker("redis", opts, logger, apperrors.IgnoredErrors...),
	}
}

// RedisEnabled сообщает, подключен ли Redis
func (c *HealthChecker) RedisEnabled() bool {
	return c.redisClient != nil
}

// IsDatabaseHealthy проверяет здоровье PostgreSQL
func (c *HealthChecker) IsDatabaseHealthy(ctx context.Context) bool {
	var result int
	err := c.pgCircuit.Execute(ctx, "postgres_health_check", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		sqlDB, err := c.db.DB()
		if err != nil {
			return err
		}

		return sqlDB.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	})

	return err == nil && result == 1
}

// IsRedisHealthy проверяет здоровье Redis; без Redis всегда false
func (c *HealthChecker) IsRedisHealthy(ctx context.Context) bool {
	if c.redisClient == nil {
		return false
	}

	err := c.redisCircuit.Execute(ctx, "redis_health_check", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
		defer cancel()

		return c.redisClient.Ping(ctx).Err()
	})

	return err == nil
}

// WithDatabaseResilience выполняет операцию в базе данных через circuit breaker PostgreSQL.
// Открытый breaker превращается в ошибку KindUnavailable.
func (c *HealthChecker) WithDatabaseResilience(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	err := c.pgCircuit.Execute(ctx, operation, fn)
	return c.classify(operation, err)
}

// WithRedisResilience выполняет операцию в Redis через circuit breaker Redis
func (c *HealthChecker) WithRedisResilience(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	err := c.redisCircuit.Execute(ctx, operation, fn)
	return c.classify(operation, err)
}

func (c *HealthChecker) classify(operation string, err error) error {
	switch {
	case err == nil:
		return nil
	case apperrors.IsNotFound(err):
		c.logger.Debug("Record not found", zap.String("operation", operation))
		return err
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, context.DeadlineExceeded):
		return apperrors.Unavailable(operation, err)
	}
	return err
}

// SafeDBOperation выполняет операцию в базе данных, перехватывает panic, логирует ошибки и пишет метрики
func SafeDBOperation(ctx context.Context, db *gorm.DB, logger *zap.Logger, operation string, fn func(tx *gorm.DB) error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in database operation",
				zap.String("operation", operation),
				zap.Any("panic", r))
			err = fmt.Errorf("%s: panic: %v", operation, r)
		}
		server.RecordDBOperation(operation, time.Since(start), ignoreNotFound(err))
	}()

	err = fn(db.WithContext(ctx))
	if err == nil || apperrors.IsNotFound(err) {
		return err
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) || errors.Is(err, gorm.ErrDuplicatedKey) {
		logger.Debug("Database operation rejected",
			zap.String("operation", operation),
			zap.Error(err))
		return err
	}

	logger.Error("Database operation failed",
		zap.String("operation", operation),
		zap.Error(err))

	if errors.Is(err, gorm.ErrInvalidTransaction) {
		logger.Error("Database transaction failed due to invalid transaction",
			zap.String("operation", operation))
	}

	return err
}

// SafeRedisOperation выполняет операцию в Redis с таймаутом по умолчанию и перехватом panic
func SafeRedisOperation(ctx context.Context, client *redis.Client, logger *zap.Logger, operation string, fn func(ctx context.Context, client *redis.Client) error) (err error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in redis operation",
				zap.String("operation", operation),
				zap.Any("panic", r))
			err = fmt.Errorf("%s: panic: %v", operation, r)
		}
		server.RecordSessionOperation("redis", operation, ignoreNotFound(err))
	}()

	err = fn(ctx, client)
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}

	logger.Error("Redis operation failed",
		zap.String("operation", operation),
		zap.Error(err))

	if errors.Is(err, context.DeadlineExceeded) {
		logger.Error("Redis operation timed out", zap.String("operation", operation))
	} else if errors.Is(err, redis.ErrClosed) {
		logger.Error("Redis connection closed", zap.String("operation", operation))
	}

	return err
}

func ignoreNotFound(err error) error {
	if apperrors.IsNotFound(err) {
		return nil
	}
	return err
}
