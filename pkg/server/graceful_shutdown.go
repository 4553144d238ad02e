package server

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type shutdownHook struct {
	name string
	fn   func(context.Context) error
}

// GracefulShutdown ждет SIGINT/SIGTERM и выполняет зарегистрированные хуки в обратном порядке
type GracefulShutdown struct {
	logger         *zap.Logger
	timeout        time.Duration
	mu             sync.Mutex
	hooks          []shutdownHook
	shutdownSignal chan os.Signal
	done           chan struct{}
	once           sync.Once
	rootCtx        context.Context
	cancelRoot     context.CancelFunc
}

// NewGracefulShutdown создает новый экземпляр GracefulShutdown
func NewGracefulShutdown(logger *zap.Logger, timeout time.Duration) *GracefulShutdown {
	ctx, cancel := context.WithCancel(context.Background())
	gs := &GracefulShutdown{
		logger:         logger,
		timeout:        timeout,
		shutdownSignal: make(chan os.Signal, 1),
		done:           make(chan struct{}),
		rootCtx:        ctx,
		cancelRoot:     cancel,
	}

	signal.Notify(gs.shutdownSignal, syscall.SIGINT, syscall.SIGTERM)

	return gs
}

// Context отменяется в момент начала завершения работы; фоновые задачи должны его слушать
func (gs *GracefulShutdown) Context() context.Context {
	return gs.rootCtx
}

// AddShutdownFunc регистрирует именованный хук завершения.
// Хуки выполняются в порядке LIFO: то, что запущено последним, останавливается первым.
func (gs *GracefulShutdown) AddShutdownFunc(name string, f func(context.Context) error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.hooks = append(gs.hooks, shutdownHook{name: name, fn: f})
}

// Wait блокирует выполнение до получения сигнала завершения
func (gs *GracefulShutdown) Wait() {
	sig := <-gs.shutdownSignal
	gs.logger.Info("Shutdown signal received", zap.Stringer("signal", sig))
	gs.run()
}

// WaitWithContext блокирует выполнение до сигнала или отмены контекста
func (gs *GracefulShutdown) WaitWithContext(ctx context.Context) {
	select {
	case sig := <-gs.shutdownSignal:
		gs.logger.Info("Shutdown signal received", zap.Stringer("signal", sig))
	case <-ctx.Done():
		gs.logger.Info("Context cancelled, initiating shutdown")
	}
	gs.run()
}

// Done возвращает канал, который закрывается после выполнения всех хуков
func (gs *GracefulShutdown) Done() <-chan struct{} {
	return gs.done
}

// Shutdown инициирует завершение работы и ждет его окончания
func (gs *GracefulShutdown) Shutdown() {
	select {
	case gs.shutdownSignal <- syscall.SIGTERM:
	default:
	}
	<-gs.done
}

func (gs *GracefulShutdown) run() {
	gs.once.Do(func() {
		gs.cancelRoot()
		signal.Stop(gs.shutdownSignal)
		gs.shutdown()
		close(gs.done)
	})
}

// shutdown выполняет хуки в обратном порядке в пределах общего таймаута
func (gs *GracefulShutdown) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()

	gs.mu.Lock()
	hooks := make([]shutdownHook, len(gs.hooks))
	copy(hooks, gs.hooks)
	gs.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]
		start := time.Now()
		if err := hook.fn(ctx); err != nil {
			gs.logger.Error("Error during shutdown",
				zap.String("hook", hook.name),
				zap.Error(err))
			continue
		}
		gs.logger.Info("Shutdown hook completed",
			zap.String("hook", hook.name),
			zap.Duration("duration", time.Since(start)))
	}

	gs.logger.Info("Graceful shutdown completed")
}
