package postgres

import (
	"context"
	"time"

	"VoiceCoachService/internal/models"
	"VoiceCoachService/pkg/apperrors"
	"VoiceCoachService/pkg/database"
	"VoiceCoachService/pkg/resilience"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ResilientUserAccountRepository добавляет к UserAccountRepository таймауты, circuit breaker,
// повторы идемпотентных операций и метрики
type ResilientUserAccountRepository struct {
	db            *gorm.DB
	repo          *UserAccountRepository
	logger        *zap.Logger
	healthChecker *database.HealthChecker
	timeout       time.Duration
	retry         resilience.RetryOptions
}

// NewResilientUserAccountRepository создает новый экземпляр отказоустойчивого репозитория
func NewResilientUserAccountRepository(db *gorm.DB, healthChecker *database.HealthChecker, logger *zap.Logger, timeout time.Duration, retry resilience.RetryOptions) *ResilientUserAccountRepository {
	retry.RetryIf = apperrors.Transient

	return &ResilientUserAccountRepository{
		db:            db,
		repo:          NewUserAccountRepository(db),
		logger:        logger,
		healthChecker: healthChecker,
		timeout:       timeout,
		retry:         retry,
	}
}

// run выполняет операцию один раз
func (r *ResilientUserAccountRepository) run(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.healthChecker.WithDatabaseResilience(ctx, operation, func(ctx context.Context) error {
		return database.SafeDBOperation(ctx, r.db, r.logger, operation, func(*gorm.DB) error {
			return fn(ctx)
		})
	})
}

// runWithRetry повторяет идемпотентную операцию при временных сбоях
func (r *ResilientUserAccountRepository) runWithRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.healthChecker.WithDatabaseResilience(ctx, operation, func(ctx context.Context) error {
		return resilience.WithRetry(ctx, r.logger, operation, r.retry, func(ctx context.Context) error {
			return database.SafeDBOperation(ctx, r.db, r.logger, operation, func(*gorm.DB) error {
				return fn(ctx)
			})
		})
	})
}

// Create создает пользователя
func (r *ResilientUserAccountRepository) Create(ctx context.Context, user *models.UserAccount) error {
	return r.run(ctx, "create_user", func(ctx context.Context) error {
		return r.repo.Create(ctx, user)
	})
}

// GetByID получает пользователя по ID
func (r *ResilientUserAccountRepository) GetByID(ctx context.Context, id uint) (*models.UserAccount, error) {
	var user *models.UserAccount
	err := r.runWithRetry(ctx, "get_user_by_id", func(ctx context.Context) error {
		var err error
		user, err = r.repo.GetByID(ctx, id)
		return err
	})
	return user, err
}

// GetByPhone получает пользователя по номеру телефона
func (r *ResilientUserAccountRepository) GetByPhone(ctx context.Context, phone string) (*models.UserAccount, error) {
	var user *models.UserAccount
	err := r.runWithRetry(ctx, "get_user_by_phone", func(ctx context.Context) error {
		var err error
		user, err = r.repo.GetByPhone(ctx, phone)
		return err
	})
	return user, err
}

// List возвращает всех пользователей
func (r *ResilientUserAccountRepository) List(ctx context.Context) ([]models.UserAccount, error) {
	var users []models.UserAccount
	err := r.runWithRetry(ctx, "list_users", func(ctx context.Context) error {
		var err error
		users, err = r.repo.List(ctx)
		return err
	})
	return users, err
}

// ListDue возвращает пользователей, которым пора звонить
func (r *ResilientUserAccountRepository) ListDue(ctx context.Context, now time.Time) ([]models.UserAccount, error) {
	var users []models.UserAccount
	err := r.runWithRetry(ctx, "list_due_users", func(ctx context.Context) error {
		var err error
		users, err = r.repo.ListDue(ctx, now)
		return err
	})
	return users, err
}

// SetActive включает или выключает расписание звонков
func (r *ResilientUserAccountRepository) SetActive(ctx context.Context, id uint, active bool) (*models.UserAccount, error) {
	var user *models.UserAccount
	err := r.runWithRetry(ctx, "set_user_active", func(ctx context.Context) error {
		var err error
		user, err = r.repo.SetActive(ctx, id, active)
		return err
	})
	return user, err
}

// ClaimCall резервирует звонок пользователю; не повторяется, так как сдвигает next_call_time
func (r *ResilientUserAccountRepository) ClaimCall(ctx context.Context, id uint, now time.Time, requireDue bool) (*models.UserAccount, time.Time, error) {
	var user *models.UserAccount
	var previous time.Time
	err := r.run(ctx, "claim_call", func(ctx context.Context) error {
		var err error
		user, previous, err = r.repo.ClaimCall(ctx, id, now, requireDue)
		return err
	})
	return user, previous, err
}

// ReleaseClaim возвращает next_call_time после неудачного звонка
func (r *ResilientUserAccountRepository) ReleaseClaim(ctx context.Context, id uint, claimed, previous time.Time) error {
	return r.runWithRetry(ctx, "release_call_claim", func(ctx context.Context) error {
		return r.repo.ReleaseClaim(ctx, id, claimed, previous)
	})
}

// Delete удаляет пользователя
func (r *ResilientUserAccountRepository) Delete(ctx context.Context, id uint) error {
	return r.run(ctx, "delete_user", func(ctx context.Context) error {
		return r.repo.Delete(ctx, id)
	})
}
