package postgres

import (
	"context"
	"errors"
	"time"

	"VoiceCoachService/internal/models"
	"VoiceCoachService/pkg/apperrors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserAccountRepository хранит пользователей и их расписание звонков в таблице user_accounts
type UserAccountRepository struct {
	db *gorm.DB
}

// NewUserAccountRepository создает новый экземпляр UserAccountRepository
func NewUserAccountRepository(db *gorm.DB) *UserAccountRepository {
	return &UserAccountRepository{
		db: db,
	}
}

// Create создает пользователя; номер телефона должен быть уникальным
func (r *UserAccountRepository) Create(ctx context.Context, user *models.UserAccount) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.UserAccount
		err := tx.Where("phone_number = ?", user.PhoneNumber).First(&existing).Error
		if err == nil {
			return apperrors.Conflict("create_user", "phone number already registered")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := tx.Create(user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperrors.Conflict("create_user", "phone number already registered")
			}
			return err
		}
		return nil
	})
}

// GetByID получает пользователя по ID
func (r *UserAccountRepository) GetByID(ctx context.Context, id uint) (*models.UserAccount, error) {
	var user models.UserAccount
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByPhone получает пользователя по номеру телефона
func (r *UserAccountRepository) GetByPhone(ctx context.Context, phone string) (*models.UserAccount, error) {
	var user models.UserAccount
	if err := r.db.WithContext(ctx).Where("phone_number = ?", phone).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// List возвращает всех пользователей по возрастанию ID
func (r *UserAccountRepository) List(ctx context.Context) ([]models.UserAccount, error) {
	var users []models.UserAccount
	if err := r.db.WithContext(ctx).Order("id").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// ListDue возвращает активных пользователей, чье время звонка наступило
func (r *UserAccountRepository) ListDue(ctx context.Context, now time.Time) ([]models.UserAccount, error) {
	var users []models.UserAccount
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND next_call_time <= ?", true, now).
		Order("next_call_time").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// SetActive включает или выключает расписание. next_call_time не меняется:
// пользователь, остановленный на середине интервала, после запуска сразу становится due.
func (r *UserAccountRepository) SetActive(ctx context.Context, id uint, active bool) (*models.UserAccount, error) {
	var user models.UserAccount
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockByID(tx, id, &user); err != nil {
			return err
		}
		user.IsActive = active
		return tx.Model(&user).Update("is_active", active).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ClaimCall под блокировкой строки проверяет, что пользователю можно звонить, и сразу сдвигает
// next_call_time на now + интервал. Звонить можно только после коммита: параллельный проход
// или /call-now увидят уже сдвинутое время. При requireDue next_call_time должен быть <= now.
// Возвращает пользователя после сдвига и прежнее значение next_call_time.
func (r *UserAccountRepository) ClaimCall(ctx context.Context, id uint, now time.Time, requireDue bool) (*models.UserAccount, time.Time, error) {
	var user models.UserAccount
	var previous time.Time
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockByID(tx, id, &user); err != nil {
			return err
		}
		if !user.IsActive {
			return apperrors.Conflict("claim_call", "user is not active")
		}
		if requireDue && user.NextCallTime.After(now) {
			return apperrors.NotDue("claim_call")
		}
		previous = user.NextCallTime
		user.NextCallTime = now.Add(user.Interval())
		return tx.Model(&user).Update("next_call_time", user.NextCallTime).Error
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	return &user, previous, nil
}

// ReleaseClaim возвращает next_call_time к previous после неудачного звонка.
// Строка не меняется, если после ClaimCall время уже сдвинули или пользователя удалили.
func (r *UserAccountRepository) ReleaseClaim(ctx context.Context, id uint, claimed, previous time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.UserAccount{}).
		Where("id = ? AND next_call_time = ?", id, claimed).
		Update("next_call_time", previous).Error
}

// Delete удаляет пользователя; неизвестный ID возвращает gorm.ErrRecordNotFound
func (r *UserAccountRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&models.UserAccount{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// lockByID читает строку с блокировкой FOR UPDATE до конца транзакции
func lockByID(tx *gorm.DB, id uint, user *models.UserAccount) error {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(user, id).Error
}
