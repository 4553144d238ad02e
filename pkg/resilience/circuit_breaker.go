package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen возвращается, когда circuit breaker не пропускает вызов
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState представляет состояние circuit breaker
type CircuitState int

const (
	// CircuitClosed нормальное состояние, вызовы проходят
	CircuitClosed CircuitState = iota
	// CircuitHalfOpen пробное состояние, пропускается один вызов
	CircuitHalfOpen
	// CircuitOpen вызовы отклоняются до истечения resetTimeout
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// StateListener получает уведомление о каждой смене состояния
type StateListener func(name string, state CircuitState)

// BreakerOptions настройки circuit breaker
type BreakerOptions struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	OnStateChange    StateListener
}

// DefaultBreakerOptions возвращает рекомендуемые настройки: 5 ошибок, сброс через 30 секунд
func DefaultBreakerOptions() BreakerOptions {
	return BreakerOptions{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker защищает вызовы внешнего сервиса от каскадных отказов
type CircuitBreaker struct {
	name             string
	state            CircuitState
	failureCount     int
	failureThreshold int
	resetTimeout     time.Duration
	lastStateChange  time.Time
	probeInFlight    bool
	mutex            sync.Mutex
	logger           *zap.Logger
	ignoredErrors    []error
	onStateChange    StateListener
}

// NewCircuitBreaker создает новый экземпляр CircuitBreaker.
// Ошибки из ignoredErrors возвращаются вызывающему, но не считаются отказом.
func NewCircuitBreaker(name string, opts BreakerOptions, logger *zap.Logger, ignoredErrors ...error) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		state:            CircuitClosed,
		failureThreshold: opts.FailureThreshold,
		resetTimeout:     opts.ResetTimeout,
		lastStateChange:  time.Now(),
		logger:           logger,
		ignoredErrors:    ignoredErrors,
		onStateChange:    opts.OnStateChange,
	}
}

// Name возвращает имя защищаемого ресурса
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute выполняет функцию с учетом состояния circuit breaker
func (cb *CircuitBreaker) Execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if !cb.allowRequest(operation) {
		cb.logger.Warn("Circuit breaker preventing operation execution",
			zap.String("breaker", cb.name),
			zap.String("operation", operation),
			zap.Stringer("state", cb.GetState()))
		return ErrCircuitOpen
	}

	err := fn(ctx)
	cb.handleResult(operation, err)

	return err
}

// allowRequest решает, пропускать ли вызов, и переводит OPEN в HALF_OPEN по таймауту
func (cb *CircuitBreaker) allowRequest(operation string) bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastStateChange) <= cb.resetTimeout {
			return false
		}
		cb.transition(operation, CircuitHalfOpen)
		cb.probeInFlight = true
		return true
	case CircuitHalfOpen:
		// В полуоткрытом состоянии одновременно выполняется только один пробный вызов
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	default:
		return false
	}
}

// handleResult обновляет счетчики по результату вызова
func (cb *CircuitBreaker) handleResult(operation string, err error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.probeInFlight = false
	}

	if err != nil && cb.isIgnoredError(err) {
		cb.logger.Debug("Error ignored by circuit breaker",
			zap.String("breaker", cb.name),
			zap.String("operation", operation),
			zap.Error(err))
		err = nil
	}

	if err != nil {
		switch cb.state {
		case CircuitClosed:
			cb.failureCount++
			if cb.failureCount >= cb.failureThreshold {
				cb.transition(operation, CircuitOpen)
			}
		case CircuitHalfOpen:
			cb.transition(operation, CircuitOpen)
		}
		return
	}

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.transition(operation, CircuitClosed)
	}
}

func (cb *CircuitBreaker) isIgnoredError(err error) bool {
	for _, ignoredErr := range cb.ignoredErrors {
		if errors.Is(err, ignoredErr) {
			return true
		}
	}
	return false
}

// transition меняет состояние; вызывается под mutex
func (cb *CircuitBreaker) transition(operation string, next CircuitState) {
	cb.state = next
	cb.lastStateChange = time.Now()

	fields := []zap.Field{
		zap.String("breaker", cb.name),
		zap.String("operation", operation),
		zap.Stringer("state", next),
	}
	switch next {
	case CircuitOpen:
		cb.logger.Warn("Circuit breaker opened", append(fields,
			zap.Int("failures", cb.failureCount),
			zap.Duration("reset_timeout", cb.resetTimeout))...)
	case CircuitClosed:
		cb.failureCount = 0
		cb.logger.Info("Circuit breaker closed", fields...)
	default:
		cb.logger.Info("Circuit breaker half-opened", fields...)
	}

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, next)
	}
}

// GetState возвращает текущее состояние circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}
