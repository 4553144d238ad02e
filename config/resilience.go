package config

import (
	"time"

	"VoiceCoachService/pkg/resilience"
	"github.com/spf13/viper"
)

// ResilienceConfig содержит настройки для механизмов отказоустойчивости
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Retry          RetryConfig          `mapstructure:"retry"`
	Timeouts       TimeoutConfig        `mapstructure:"timeouts"`
}

// CircuitBreakerConfig общие настройки circuit breaker для всех внешних сервисов
type CircuitBreakerConfig struct {
	// FailureThreshold количество ошибок, после которого circuit breaker откроется
	FailureThreshold int `mapstructure:"failure_threshold"`
	// ResetTimeout время, через которое circuit breaker перейдет в полуоткрытое состояние
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

// RetryConfig настройки повторных попыток
type RetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	BackoffFactor  float64       `mapstructure:"backoff_factor"`
	Jitter         float64       `mapstructure:"jitter"`
}

// TimeoutConfig таймауты обращений к базе, Redis и внешним сервисам
type TimeoutConfig struct {
	Database      time.Duration `mapstructure:"database"`
	Redis         time.Duration `mapstructure:"redis"`
	LLM           time.Duration `mapstructure:"llm"`
	Transcription time.Duration `mapstructure:"transcription"`
	Download      time.Duration `mapstructure:"download"`
	Telephony     time.Duration `mapstructure:"telephony"`
	// Turn ограничивает весь ход диалога: скачивание, распознавание и генерацию ответа
	Turn time.Duration `mapstructure:"turn"`
}

// DefaultResilienceConfig возвращает конфигурацию отказоустойчивости по умолчанию
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			BackoffFactor:  2.0,
			Jitter:         0.2,
		},
		Timeouts: TimeoutConfig{
			Database:      3 * time.Second,
			Redis:         1 * time.Second,
			LLM:           10 * time.Second,
			Transcription: 10 * time.Second,
			Download:      5 * time.Second,
			Telephony:     10 * time.Second,
			Turn:          14 * time.Second,
		},
	}
}

func setResilienceDefaults(v *viper.Viper) {
	d := DefaultResilienceConfig()

	v.SetDefault("resilience.circuit_breaker.failure_threshold", d.CircuitBreaker.FailureThreshold)
	v.SetDefault("resilience.circuit_breaker.reset_timeout", d.CircuitBreaker.ResetTimeout)

	v.SetDefault("resilience.retry.max_retries", d.Retry.MaxRetries)
	v.SetDefault("resilience.retry.initial_backoff", d.Retry.InitialBackoff)
	v.SetDefault("resilience.retry.max_backoff", d.Retry.MaxBackoff)
	v.SetDefault("resilience.retry.backoff_factor", d.Retry.BackoffFactor)
	v.SetDefault("resilience.retry.jitter", d.Retry.Jitter)

	v.SetDefault("resilience.timeouts.database", d.Timeouts.Database)
	v.SetDefault("resilience.timeouts.redis", d.Timeouts.Redis)
	v.SetDefault("resilience.timeouts.llm", d.Timeouts.LLM)
	v.SetDefault("resilience.timeouts.transcription", d.Timeouts.Transcription)
	v.SetDefault("resilience.timeouts.download", d.Timeouts.Download)
	v.SetDefault("resilience.timeouts.telephony", d.Timeouts.Telephony)
	v.SetDefault("resilience.timeouts.turn", d.Timeouts.Turn)
}

// BreakerOptions переводит настройки в параметры resilience.CircuitBreaker
func (c ResilienceConfig) BreakerOptions(listener resilience.StateListener) resilience.BreakerOptions {
	return resilience.BreakerOptions{
		FailureThreshold: c.CircuitBreaker.FailureThreshold,
		ResetTimeout:     c.CircuitBreaker.ResetTimeout,
		OnStateChange:    listener,
	}
}

// RetryOptions переводит настройки в параметры resilience.WithRetry
func (c ResilienceConfig) RetryOptions() resilience.RetryOptions {
	return resilience.RetryOptions{
		MaxRetries:     c.Retry.MaxRetries,
		InitialBackoff: c.Retry.InitialBackoff,
		MaxBackoff:     c.Retry.MaxBackoff,
		BackoffFactor:  c.Retry.BackoffFactor,
		Jitter:         c.Retry.Jitter,
	}
}
