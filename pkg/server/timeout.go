// Package server provides timeout and retry configuration utilities for server operations.
// This module extends the server package with configurable timeout and retry logic
// for handling transient failures and preventing timeouts in production environments.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"stakesession/pkg/config"
	"stakesession/pkg/retry"

	"github.com/sirupsen/logrus"
)

// TimeoutConfig holds timeout-related configuration for server operations
type TimeoutConfig struct {
	// RequestTimeout is the maximum duration for processing individual requests
	RequestTimeout time.Duration

	// SessionTimeout is copied from config.SessionTimeout; it is logged and
	// validated, and no session expiry reads it
	SessionTimeout time.Duration

	// CleanupInterval is copied from config.MetricsInterval; it is logged, and
	// no cleanup operation reads it
	CleanupInterval time.Duration

	// RetryEnabled enables retry logic for transient failures
	RetryEnabled bool

	// RetryConfig holds the retry configuration parameters
	RetryConfig retry.RetryConfig
}

// NewTimeoutConfig creates a timeout configuration from application config
func NewTimeoutConfig(cfg *config.Config) *TimeoutConfig {
	var retryConfig retry.RetryConfig
	if cfg.RetryEnabled {
		retryConfig = retry.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialDelay:      cfg.RetryInitialDelay,
			MaxDelay:          cfg.RetryMaxDelay,
			BackoffMultiplier: cfg.RetryBackoffMultiplier,
			JitterMaxPercent:  cfg.RetryJitterPercent,
			RetryableErrors:   []error{context.DeadlineExceeded}, // Default retryable errors
		}
	} else {
		// Disabled retry configuration (only one attempt)
		retryConfig = retry.RetryConfig{
			MaxAttempts:       1,
			InitialDelay:      0,
			MaxDelay:          0,
			BackoffMultiplier: 1.0,
			JitterMaxPercent:  0,
			RetryableErrors:   []error{},
		}
	}

	return &TimeoutConfig{
		RequestTimeout:  cfg.RequestTimeout,
		SessionTimeout:  cfg.SessionTimeout,
		CleanupInterval: cfg.MetricsInterval, // Reuse metrics interval for cleanup
		RetryEnabled:    cfg.RetryEnabled,
		RetryConfig:     retryConfig,
	}
}

// ExecuteWithTimeout runs an operation with timeout and optional retry logic
func (tc *TimeoutConfig) ExecuteWithTimeout(ctx context.Context, timeout time.Duration, operation func(context.Context) error) error {
	// Create a context with timeout
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if tc.RetryEnabled {
		// Use retry logic with timeout context
		retrier := retry.NewRetrier(tc.RetryConfig)
		return retrier.Execute(timeoutCtx, operation)
	} else {
		// Execute directly with timeout context
		return operation(timeoutCtx)
	}
}

// ExecuteWithRequestTimeout executes an operation with the configured request timeout
func (tc *TimeoutConfig) ExecuteWithRequestTimeout(ctx context.Context, operation func(context.Context) error) error {
	return tc.ExecuteWithTimeout(ctx, tc.RequestTimeout, operation)
}

// ExecuteWithCustomRetry executes an operation with custom retry configuration
func (tc *TimeoutConfig) ExecuteWithCustomRetry(ctx context.Context, retryConfig retry.RetryConfig, operation func(context.Context) error) error {
	retrier := retry.NewRetrier(retryConfig)
	return retrier.Execute(ctx, operation)
}

// LogTimeoutConfig logs the current timeout configuration for debugging
func (tc *TimeoutConfig) LogTimeoutConfig() {
	logger := logrus.WithField("component", "TimeoutConfig")

	logger.WithFields(logrus.Fields{
		"request_timeout":     tc.RequestTimeout,
		"session_timeout":     tc.SessionTimeout,
		"cleanup_interval":    tc.CleanupInterval,
		"retry_enabled":       tc.RetryEnabled,
		"retry_max_attempts":  tc.RetryConfig.MaxAttempts,
		"retry_initial_delay": tc.RetryConfig.InitialDelay,
		"retry_max_delay":     tc.RetryConfig.MaxDelay,
	}).Info("Timeout and retry configuration loaded")
}

// Validate checks that the timeout configuration values are reasonable
func (tc *TimeoutConfig) Validate() error {
	if tc.RequestTimeout < time.Second {
		return fmt.Errorf("request timeout must be at least 1 second, got %v", tc.RequestTimeout)
	}

	if tc.SessionTimeout < time.Minute {
		return fmt.Errorf("session timeout must be at least 1 minute, got %v", tc.SessionTimeout)
	}

	if tc.RetryEnabled {
		if tc.RetryConfig.MaxAttempts < 1 {
			return fmt.Errorf("retry max attempts must be at least 1 when retry is enabled")
		}

		if tc.RetryConfig.InitialDelay < 0 {
			return fmt.Errorf("retry initial delay must be non-negative")
		}

		if tc.RetryConfig.MaxDelay < tc.RetryConfig.InitialDelay {
			return fmt.Errorf("retry max delay must be greater than or equal to initial delay")
		}
	}

	return nil
}

// Middleware bounds every request to RequestTimeout, responding with a
// timeout error if the handler chain hasn't finished by the deadline. The
// WebSocket upgrade path is exempted: http.TimeoutHandler's ResponseWriter
// doesn't implement http.Hijacker, and a live session's connection must
// outlive a single request's timeout budget regardless.
func (tc *TimeoutConfig) Middleware(next http.Handler) http.Handler {
	if tc.RequestTimeout <= 0 {
		return next
	}

	timeoutHandler := http.TimeoutHandler(next, tc.RequestTimeout, `{"error":"request timeout"}`)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		timeoutHandler.ServeHTTP(w, r)
	})
}
