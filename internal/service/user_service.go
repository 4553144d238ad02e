package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"VoiceCoachService/config"
	"VoiceCoachService/internal/models"
	"VoiceCoachService/pkg/apperrors"
	"VoiceCoachService/pkg/server"
	"go.uber.org/zap"
)

// Источники звонка для метрик и логов
const (
	TriggerRegister = "register"
	TriggerManual   = "manual"
	TriggerTick     = "tick"
)

// Статусы первого звонка в ответе регистрации
const (
	CallStatusInitiated = "Call initiated - you should receive it shortly!"
	callStatusFailed    = "Registration successful but call failed: %s"
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// UserRepositoryInterface описывает интерфейс для работы с хранилищем пользователей
type UserRepositoryInterface interface {
	Create(ctx context.Context, user *models.UserAccount) error
	GetByID(ctx context.Context, id uint) (*models.UserAccount, error)
	List(ctx context.Context) ([]models.UserAccount, error)
	ListDue(ctx context.Context, now time.Time) ([]models.UserAccount, error)
	SetActive(ctx context.Context, id uint, active bool) (*models.UserAccount, error)
	ClaimCall(ctx context.Context, id uint, now time.Time, requireDue bool) (*models.UserAccount, time.Time, error)
	ReleaseClaim(ctx context.Context, id uint, claimed, previous time.Time) error
	Delete(ctx context.Context, id uint) error
}

// Dialer размещает исходящий звонок
type Dialer interface {
	Dial(ctx context.Context, user *models.UserAccount) (models.CallResult, error)
}

// Options ограничения регистрации и звонков
type Options struct {
	MinIntervalMinutes int
	// VerifiedNumber единственный номер, на который разрешено звонить; пустая строка снимает ограничение
	VerifiedNumber string
}

// UserService управляет пользователями и их расписанием звонков
type UserService struct {
	userRepo UserRepositoryInterface
	dialer   Dialer
	logger   *zap.Logger
	opts     Options
	now      func() time.Time
}

// NewUserService создает новый экземпляр UserService
func NewUserService(userRepo UserRepositoryInterface, dialer Dialer, logger *zap.Logger, opts Options) *UserService {
	if opts.MinIntervalMinutes < 1 {
		opts.MinIntervalMinutes = 5
	}
	return &UserService{
		userRepo: userRepo,
		dialer:   dialer,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// Register создает активного пользователя, due сразу, и сразу же звонит ему.
// Ошибка звонка не отменяет регистрацию и попадает в call_status.
func (s *UserService) Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResponse, error) {
	phone := config.NormalizePhone(req.PhoneNumber)
	if !e164.MatchString(phone) {
		return nil, apperrors.Validation("register", "phone_number must be in E.164 format")
	}
	if req.IntervalMinutes < s.opts.MinIntervalMinutes {
		return nil, apperrors.Validation("register",
			fmt.Sprintf("interval_minutes must be at least %d", s.opts.MinIntervalMinutes))
	}
	personality, err := models.ParsePersonality(req.Personality)
	if err != nil {
		return nil, apperrors.Validation("register", err.Error())
	}
	if s.opts.VerifiedNumber != "" && phone != s.opts.VerifiedNumber {
		return nil, apperrors.Validation("register",
			fmt.Sprintf("only %s is verified for calls", s.opts.VerifiedNumber))
	}

	user := &models.UserAccount{
		PhoneNumber:     phone,
		IntervalMinutes: req.IntervalMinutes,
		Personality:     personality,
		IsActive:        true,
		NextCallTime:    s.now().UTC(),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		s.logger.Warn("Failed to create user", zap.Error(err), zap.String("phone", phone))
		return nil, err
	}
	s.logger.Info("User registered",
		zap.Uint("user_id", user.ID),
		zap.Int("interval_minutes", user.IntervalMinutes),
		zap.String("personality", string(user.Personality)))

	// ErrNotDue значит, что проход планировщика успел занять этот звонок первым
	callStatus := CallStatusInitiated
	if _, _, err := s.placeCall(ctx, user.ID, TriggerRegister); err != nil && !errors.Is(err, apperrors.ErrNotDue) {
		callStatus = fmt.Sprintf(callStatusFailed, apperrors.Message(err))
	}

	return &models.RegisterResponse{
		UserID:          user.ID,
		PhoneNumber:     user.PhoneNumber,
		IntervalMinutes: user.IntervalMinutes,
		Personality:     user.Personality,
		CallStatus:      callStatus,
	}, nil
}

// Start включает расписание; next_call_time не меняется, поэтому просроченный пользователь
// получит один звонок на ближайшем проходе планировщика
func (s *UserService) Start(ctx context.Context, id uint) (*models.UserAccount, error) {
	user, err := s.userRepo.SetActive(ctx, id, true)
	if err != nil {
		s.logger.Warn("Failed to activate user", zap.Error(err), zap.Uint("user_id", id))
		return nil, err
	}
	s.logger.Info("Scheduling activated", zap.Uint("user_id", id), zap.Time("next_call_time", user.NextCallTime))
	return user, nil
}

// Stop выключает расписание; звонок в процессе не прерывается
func (s *UserService) Stop(ctx context.Context, id uint) (*models.UserAccount, error) {
	user, err := s.userRepo.SetActive(ctx, id, false)
	if err != nil {
		s.logger.Warn("Failed to deactivate user", zap.Error(err), zap.Uint("user_id", id))
		return nil, err
	}
	s.logger.Info("Scheduling deactivated", zap.Uint("user_id", id))
	return user, nil
}

// TriggerNow звонит активному пользователю вне расписания
func (s *UserService) TriggerNow(ctx context.Context, id uint) (*models.UserAccount, models.CallResult, error) {
	return s.placeCall(ctx, id, TriggerManual)
}

// PlaceCall звонит пользователю из прохода планировщика. Из user берется только ID:
// состояние перечитывается под блокировкой в ClaimCall, поэтому остановленному или удаленному
// после DueUsers пользователю звонок не уходит. Успешный звонок переносит next_call_time
// на now + interval, при ошибке пользователь остается due.
func (s *UserService) PlaceCall(ctx context.Context, user *models.UserAccount, trigger string) (models.CallResult, error) {
	_, res, err := s.placeCall(ctx, user.ID, trigger)
	return res, err
}

// placeCall резервирует звонок и только после коммита набирает номер.
// Плановый звонок требует, чтобы next_call_time еще не занял другой вызов; ручной звонит любому активному.
func (s *UserService) placeCall(ctx context.Context, id uint, trigger string) (*models.UserAccount, models.CallResult, error) {
	log := s.logger.With(zap.Uint("user_id", id), zap.String("trigger", trigger))

	user, previous, err := s.userRepo.ClaimCall(ctx, id, s.now().UTC(), trigger != TriggerManual)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindConflict {
			log.Info("Call skipped", zap.String("reason", apperrors.Message(err)))
			server.RecordScheduledCall(trigger, "skipped")
		}
		return nil, models.CallResult{}, err
	}

	if s.opts.VerifiedNumber != "" && user.PhoneNumber != s.opts.VerifiedNumber {
		log.Error("Refusing to call unverified number", zap.String("phone", user.PhoneNumber))
		s.releaseClaim(ctx, log, user, previous)
		server.RecordScheduledCall(trigger, "skipped")
		return nil, models.CallResult{}, apperrors.Conflict("place_call",
			fmt.Sprintf("only %s is verified for calls", s.opts.VerifiedNumber))
	}

	res, err := s.dialer.Dial(ctx, user)
	if err != nil {
		log.Error("Failed to place call", zap.Error(err))
		s.releaseClaim(ctx, log, user, previous)
		server.RecordScheduledCall(trigger, "failed")
		return nil, models.CallResult{}, err
	}
	server.RecordScheduledCall(trigger, "placed")

	log.Info("Call placed",
		zap.String("call_sid", res.SID),
		zap.String("status", res.Status),
		zap.Time("next_call_time", user.NextCallTime))
	return user, res, nil
}

// releaseClaim возвращает пользователю прежний next_call_time; работает и после отмены ctx звонка
func (s *UserService) releaseClaim(ctx context.Context, log *zap.Logger, user *models.UserAccount, previous time.Time) {
	if err := s.userRepo.ReleaseClaim(context.WithoutCancel(ctx), user.ID, user.NextCallTime, previous); err != nil {
		log.Error("Failed to release call claim, user waits a full interval", zap.Error(err))
	}
}

// DueUsers активные пользователи, время звонка которых наступило
func (s *UserService) DueUsers(ctx context.Context, now time.Time) ([]models.UserAccount, error) {
	return s.userRepo.ListDue(ctx, now)
}

// GetUser получает пользователя по ID
func (s *UserService) GetUser(ctx context.Context, id uint) (*models.UserAccount, error) {
	return s.userRepo.GetByID(ctx, id)
}

// ListUsers возвращает всех пользователей, включая неактивных
func (s *UserService) ListUsers(ctx context.Context) ([]models.UserAccount, error) {
	return s.userRepo.List(ctx)
}

// DeleteUser удаляет пользователя и возвращает удаленную запись
func (s *UserService) DeleteUser(ctx context.Context, id uint) (*models.UserAccount, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.userRepo.Delete(ctx, id); err != nil {
		s.logger.Warn("Failed to delete user", zap.Error(err), zap.Uint("user_id", id))
		return nil, err
	}
	s.logger.Info("User deleted", zap.Uint("user_id", id))
	return user, nil
}
