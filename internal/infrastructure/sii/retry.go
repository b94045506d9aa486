package sii

import (
	"context"
	"net/http"
	"time"
)

// RetryPolicy política única de reintentos para upload, consulta de estado y acuse.
type RetryPolicy struct {
	MaxRetries int
	Backoff    func(attempt int) time.Duration
	Retryable  func(status int, err error) bool
	// Sleep espera d o hasta que ctx termine. Nil usa un timer real.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy backoff exponencial 2^attempt · 1s; reintenta errores de transporte, 5xx, 408 y 429.
func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries: maxRetries,
		Backoff:    ExponentialBackoff,
		Retryable:  IsRetryable,
	}
}

// ExponentialBackoff 1s, 2s, 4s, …
func ExponentialBackoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

// IsRetryable los 4xx distintos de 408/429 son rechazos del payload y no se reintentan.
func IsRetryable(status int, err error) bool {
	if err != nil {
		return true
	}
	switch {
	case status >= 500:
		return true
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	}
	return false
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Backoff == nil {
		p.Backoff = ExponentialBackoff
	}
	if p.Retryable == nil {
		p.Retryable = IsRetryable
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
