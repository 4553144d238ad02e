package seed

import (
	"context"
	"fmt"
	"os"
	"time"

	"VoiceCoachService/internal/models"
	"VoiceCoachService/pkg/apperrors"

	"go.uber.org/zap"
)

// UserStore операции хранилища, нужные для заполнения
type UserStore interface {
	GetByPhone(ctx context.Context, phone string) (*models.UserAccount, error)
	Create(ctx context.Context, user *models.UserAccount) error
}

// DevEnvironmentSeeder обрабатывает заполнение тестовыми данными среды разработки
type DevEnvironmentSeeder struct {
	repo   UserStore
	phone  string
	logger *zap.Logger
	env    func(string) string
}

// NewDevEnvironmentSeeder создает объект для заполнения; phone номер демонстрационного пользователя
func NewDevEnvironmentSeeder(repo UserStore, phone string, logger *zap.Logger) *DevEnvironmentSeeder {
	return &DevEnvironmentSeeder{
		repo:   repo,
		phone:  phone,
		logger: logger,
		env:    os.Getenv,
	}
}

// SeedDemoUser создает неактивного демонстрационного пользователя в режиме разработки.
// Пользователь не звонит, пока его не включат через /start.
func (s *DevEnvironmentSeeder) SeedDemoUser(ctx context.Context) error {
	if s.env("APP_ENV") != "development" {
		s.logger.Debug("Not in development mode, skipping demo user")
		return nil
	}
	if s.phone == "" {
		s.logger.Debug("No demo phone configured, skipping demo user")
		return nil
	}

	existing, err := s.repo.GetByPhone(ctx, s.phone)
	if err == nil && existing != nil {
		s.logger.Info("Demo user already exists", zap.Uint("user_id", existing.ID))
		return nil
	}
	if err != nil && !apperrors.IsNotFound(err) {
		return fmt.Errorf("lookup demo user: %w", err)
	}

	demo := &models.UserAccount{
		PhoneNumber:     s.phone,
		IntervalMinutes: 60,
		Personality:     models.PersonalitySupportive,
		IsActive:        false,
		NextCallTime:    time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, demo); err != nil {
		s.logger.Error("Failed to seed demo user", zap.Error(err))
		return err
	}

	s.logger.Info("Demo user created", zap.Uint("user_id", demo.ID), zap.String("phone", demo.PhoneNumber))
	return nil
}
