package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/magabrotheeeer/subscription-tracker/internal/metrics"
)

// CircuitBreakerConfig настройки предохранителя вызовов API.
type CircuitBreakerConfig struct {
	// Name имя предохранителя в логах и метриках.
	Name string

	// MaxRequests сколько пробных вызовов пропускается в состоянии half-open.
	MaxRequests uint32

	// Interval период сброса счетчиков в состоянии closed. 0 не сбрасывает никогда.
	Interval time.Duration

	// Timeout сколько предохранитель остается разомкнутым перед переходом в half-open.
	Timeout time.Duration

	// FailureRatio доля неудачных вызовов, при которой предохранитель размыкается.
	FailureRatio float64

	// MinRequests минимальное число вызовов, после которого оценивается FailureRatio.
	MinRequests uint32
}

// DefaultCircuitBreakerConfig значения по умолчанию.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// newCallbackBreaker создает предохранитель, который возвращает HTTP-статус ответа колбэка.
// Ошибкой для него считаются только сбои транспорта и ответы, означающие недоступность API.
func newCallbackBreaker(cfg CircuitBreakerConfig, log *slog.Logger) *gobreaker.CircuitBreaker[int] {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			metrics.CallbackBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
		// остановка раннера не означает недоступность API
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	metrics.CallbackBreakerState.WithLabelValues(cfg.Name).Set(0)
	return gobreaker.NewCircuitBreaker[int](settings)
}
