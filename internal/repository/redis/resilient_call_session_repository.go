package redis

import (
	"context"
	"errors"
	"time"

	"VoiceCoachService/internal/models"
	"VoiceCoachService/pkg/apperrors"
	"VoiceCoachService/pkg/database"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ResilientCallSessionRepository оборачивает CallSessionRepository таймаутом, circuit breaker Redis и метриками.
// В отличие от кэша, ошибки не проглатываются: сессия существует только в Redis.
type ResilientCallSessionRepository struct {
	client        *redis.Client
	repo          *CallSessionRepository
	logger        *zap.Logger
	healthChecker *database.HealthChecker
	timeout       time.Duration
}

// NewResilientCallSessionRepository создает новый экземпляр отказоустойчивого хранилища сессий
func NewResilientCallSessionRepository(client *redis.Client, healthChecker *database.HealthChecker, logger *zap.Logger, ttl, timeout time.Duration) *ResilientCallSessionRepository {
	return &ResilientCallSessionRepository{
		client:        client,
		repo:          NewCallSessionRepository(client, ttl),
		logger:        logger,
		healthChecker: healthChecker,
		timeout:       timeout,
	}
}

func (r *ResilientCallSessionRepository) run(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.healthChecker.WithRedisResilience(ctx, operation, func(ctx context.Context) error {
		return database.SafeRedisOperation(ctx, r.client, r.logger, operation, func(ctx context.Context, _ *redis.Client) error {
			return fn(ctx)
		})
	})
}

// Save сохраняет сессию
func (r *ResilientCallSessionRepository) Save(ctx context.Context, session *models.CallSession) error {
	return r.run(ctx, "save_session", func(ctx context.Context) error {
		return r.repo.Save(ctx, session)
	})
}

// Get возвращает сессию или ошибку KindNotFound
func (r *ResilientCallSessionRepository) Get(ctx context.Context, callSID string) (*models.CallSession, error) {
	var session *models.CallSession
	err := r.run(ctx, "get_session", func(ctx context.Context) error {
		var err error
		session, err = r.repo.Get(ctx, callSID)
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.NotFound("get_session", "call session not found")
	}
	return session, err
}

// Delete удаляет сессию
func (r *ResilientCallSessionRepository) Delete(ctx context.Context, callSID string) error {
	return r.run(ctx, "delete_session", func(ctx context.Context) error {
		return r.repo.Delete(ctx, callSID)
	})
}
