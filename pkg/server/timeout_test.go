package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stakesession/pkg/config"
	"stakesession/pkg/retry"
)

func TestNewTimeoutConfig(t *testing.T) {
	cfg := &config.Config{
		RequestTimeout:         30 * time.Second,
		SessionTimeout:         30 * time.Minute,
		MetricsInterval:        60 * time.Second,
		RetryEnabled:           true,
		RetryMaxAttempts:       3,
		RetryInitialDelay:      100 * time.Millisecond,
		RetryMaxDelay:          30 * time.Second,
		RetryBackoffMultiplier: 2.0,
		RetryJitterPercent:     10,
	}

	timeoutConfig := NewTimeoutConfig(cfg)

	if timeoutConfig == nil {
		t.Error("Expected non-nil timeout config")
	}

	if timeoutConfig.RequestTimeout != cfg.RequestTimeout {
		t.Errorf("Expected RequestTimeout %v, got %v", cfg.RequestTimeout, timeoutConfig.RequestTimeout)
	}

	if timeoutConfig.SessionTimeout != cfg.SessionTimeout {
		t.Errorf("Expected SessionTimeout %v, got %v", cfg.SessionTimeout, timeoutConfig.SessionTimeout)
	}

	if !timeoutConfig.RetryEnabled {
		t.Error("Expected retry enabled")
	}

	if timeoutConfig.RetryConfig.MaxAttempts != cfg.RetryMaxAttempts {
		t.Errorf("Expected MaxAttempts %d, got %d", cfg.RetryMaxAttempts, timeoutConfig.RetryConfig.MaxAttempts)
	}
}

func TestNewTimeoutConfigRetryDisabled(t *testing.T) {
	cfg := &config.Config{
		RequestTimeout:  30 * time.Second,
		SessionTimeout:  30 * time.Minute,
		MetricsInterval: 60 * time.Second,
		RetryEnabled:    false, // Disabled
	}

	timeoutConfig := NewTimeoutConfig(cfg)

	if timeoutConfig.RetryEnabled {
		t.Error("Expected retry disabled")
	}

	if timeoutConfig.RetryConfig.MaxAttempts != 1 {
		t.Errorf("Expected MaxAttempts 1 for disabled retry, got %d", timeoutConfig.RetryConfig.MaxAttempts)
	}
}

func TestTimeoutConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *TimeoutConfig
		wantErr bool
	}{
		{
			name: "valid config",
			config: &TimeoutConfig{
				RequestTimeout:  30 * time.Second,
				SessionTimeout:  30 * time.Minute,
				CleanupInterval: 60 * time.Second,
				RetryEnabled:    true,
				RetryConfig: retry.RetryConfig{
					MaxAttempts:       3,
					InitialDelay:      100 * time.Millisecond,
					MaxDelay:          30 * time.Second,
					BackoffMultiplier: 2.0,
					JitterMaxPercent:  10,
				},
			},
			wantErr: false,
		},
		{
			name: "request timeout too short",
			config: &TimeoutConfig{
				RequestTimeout:  500 * time.Millisecond, // Too short
				SessionTimeout:  30 * time.Minute,
				CleanupInterval: 60 * time.Second,
				RetryEnabled:    false,
			},
			wantErr: true,
		},
		{
			name: "session timeout too short",
			config: &TimeoutConfig{
				RequestTimeout:  30 * time.Second,
				SessionTimeout:  30 * time.Second, // Too short
				CleanupInterval: 60 * time.Second,
				RetryEnabled:    false,
			},
			wantErr: true,
		},
		{
			name: "invalid retry config",
			config: &TimeoutConfig{
				RequestTimeout:  30 * time.Second,
				SessionTimeout:  30 * time.Minute,
				CleanupInterval: 60 * time.Second,
				RetryEnabled:    true,
				RetryConfig: retry.RetryConfig{
					MaxAttempts:       0, // Invalid
					InitialDelay:      100 * time.Millisecond,
					MaxDelay:          30 * time.Second,
					BackoffMultiplier: 2.0,
					JitterMaxPercent:  10,
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTimeoutConfigExecuteWithTimeout(t *testing.T) {
	timeoutConfig := &TimeoutConfig{
		RequestTimeout:  30 * time.Second,
		SessionTimeout:  30 * time.Minute,
		CleanupInterval: 60 * time.Second,
		RetryEnabled:    false, // No retry for this test
		RetryConfig: retry.RetryConfig{
			MaxAttempts: 1,
		},
	}

	ctx := context.Background()
	callCount := 0

	operation := func(ctx context.Context) error {
		callCount++
		return nil
	}

	err := timeoutConfig.ExecuteWithTimeout(ctx, 1*time.Second, operation)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestTimeoutConfigExecuteWithTimeoutRetryEnabled(t *testing.T) {
	timeoutConfig := &TimeoutConfig{
		RequestTimeout:  30 * time.Second,
		SessionTimeout:  30 * time.Minute,
		CleanupInterval: 60 * time.Second,
		RetryEnabled:    true,
		RetryConfig: retry.RetryConfig{
			MaxAttempts:       3,
			InitialDelay:      1 * time.Millisecond,
			MaxDelay:          10 * time.Millisecond,
			BackoffMultiplier: 2.0,
			JitterMaxPercent:  0,
			RetryableErrors:   []error{},
		},
	}

	ctx := context.Background()
	callCount := 0

	operation := func(ctx context.Context) error {
		callCount++
		if callCount < 2 {
			return errors.New("temporary failure")
		}
		return nil
	}

	err := timeoutConfig.ExecuteWithTimeout(ctx, 1*time.Second, operation)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if callCount != 2 {
		t.Errorf("Expected 2 calls with retry, got %d", callCount)
	}
}

func TestTimeoutConfigExecuteWithRequestTimeout(t *testing.T) {
	timeoutConfig := &TimeoutConfig{
		RequestTimeout:  50 * time.Millisecond,
		SessionTimeout:  30 * time.Minute,
		CleanupInterval: 60 * time.Second,
		RetryEnabled:    false,
		RetryConfig: retry.RetryConfig{
			MaxAttempts: 1,
		},
	}

	ctx := context.Background()
	callCount := 0

	operation := func(ctx context.Context) error {
		callCount++
		return nil
	}

	err := timeoutConfig.ExecuteWithRequestTimeout(ctx, operation)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestTimeoutConfigExecuteWithCustomRetry(t *testing.T) {
	timeoutConfig := &TimeoutConfig{
		RequestTimeout:  30 * time.Second,
		SessionTimeout:  30 * time.Minute,
		CleanupInterval: 60 * time.Second,
		RetryEnabled:    false, // Global retry disabled, but using custom
	}

	customRetryConfig := retry.RetryConfig{
		MaxAttempts:       2,
		InitialDelay:      1 * time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 1.5,
		JitterMaxPercent:  0,
		RetryableErrors:   []error{},
	}

	ctx := context.Background()
	callCount := 0

	operation := func(ctx context.Context) error {
		callCount++
		if callCount < 2 {
			return errors.New("temporary failure")
		}
		return nil
	}

	err := timeoutConfig.ExecuteWithCustomRetry(ctx, customRetryConfig, operation)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if callCount != 2 {
		t.Errorf("Expected 2 calls with custom retry, got %d", callCount)
	}
}

func TestTimeoutConfigMiddlewareLetsFastRequestsThrough(t *testing.T) {
	tc := &TimeoutConfig{RequestTimeout: 50 * time.Millisecond}

	handler := tc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestTimeoutConfigMiddlewareTimesOutSlowRequests(t *testing.T) {
	tc := &TimeoutConfig{RequestTimeout: 10 * time.Millisecond}

	handler := tc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 on timeout, got %d", rec.Code)
	}
}

func TestTimeoutConfigMiddlewareExemptsWebSocketPath(t *testing.T) {
	tc := &TimeoutConfig{RequestTimeout: 10 * time.Millisecond}

	called := false
	handler := tc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Error("expected /ws to bypass the timeout handler and reach next")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for exempted /ws path, got %d", rec.Code)
	}
}
