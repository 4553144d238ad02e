// Package scheduler периодически находит пользователей, которым пора звонить, и размещает звонки.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"VoiceCoachService/internal/models"
	"VoiceCoachService/pkg/apperrors"
	"VoiceCoachService/pkg/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TriggerTick источник звонка в метриках
const TriggerTick = "tick"

// ErrAlreadyRunning возвращается при повторном Start
var ErrAlreadyRunning = errors.New("scheduler is already running")

// CallPlacer выдает due пользователей и звонит им; успешный звонок переносит next_call_time.
// PlaceCall перечитывает пользователя и отвечает конфликтом, если он остановлен или звонок уже занят.
type CallPlacer interface {
	DueUsers(ctx context.Context, now time.Time) ([]models.UserAccount, error)
	PlaceCall(ctx context.Context, user *models.UserAccount, trigger string) (models.CallResult, error)
}

// Options настройки планировщика
type Options struct {
	TickInterval time.Duration
	Concurrency  int
}

// TickResult итог одного прохода
type TickResult struct {
	Due     int
	Placed  int
	Failed  int
	Skipped int
}

// Scheduler фоновая задача с явными Start и Stop
type Scheduler struct {
	placer CallPlacer
	logger *zap.Logger
	opts   Options
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New создает планировщик
func New(placer CallPlacer, logger *zap.Logger, opts Options) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Minute
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Scheduler{
		placer: placer,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// Start запускает цикл; первый проход выполняется сразу
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)

	s.logger.Info("Scheduler started",
		zap.Duration("tick_interval", s.opts.TickInterval),
		zap.Int("concurrency", s.opts.Concurrency))
	return nil
}

// Stop останавливает цикл и ждет завершения текущего прохода либо отмены ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		s.Tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick звонит каждому due пользователю не более одного раза. Ошибка одного звонка
// не мешает остальным; пользователь с неудачным звонком останется due.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	start := time.Now()
	defer func() {
		server.RecordSchedulerTick(time.Since(start))
	}()

	now := s.now().UTC()
	due, err := s.placer.DueUsers(ctx, now)
	if err != nil {
		s.logger.Error("Failed to load due users", zap.Error(err))
		return TickResult{}
	}
	if len(due) == 0 {
		s.logger.Debug("No users due for calls")
		return TickResult{}
	}

	s.logger.Info("Found users due for calls", zap.Int("count", len(due)))

	var placed, failed, skipped int64
	g := new(errgroup.Group)
	g.SetLimit(s.opts.Concurrency)

	for i := range due {
		user := due[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				atomic.AddInt64(&failed, 1)
				return nil
			}
			_, err := s.placer.PlaceCall(ctx, &user, TriggerTick)
			if apperrors.KindOf(err) == apperrors.KindConflict || apperrors.IsNotFound(err) {
				atomic.AddInt64(&skipped, 1)
				s.logger.Debug("Scheduled call skipped",
					zap.Uint("user_id", user.ID),
					zap.Error(err))
				return nil
			}
			if err != nil {
				atomic.AddInt64(&failed, 1)
				s.logger.Warn("Scheduled call failed, user stays due",
					zap.Uint("user_id", user.ID),
					zap.Error(err))
				return nil
			}
			atomic.AddInt64(&placed, 1)
			return nil
		})
	}
	_ = g.Wait()

	return TickResult{Due: len(due), Placed: int(placed), Failed: int(failed), Skipped: int(skipped)}
}
