package storage

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"artcat/pkg/types"

	"go.uber.org/zap"
)

const (
	DefaultUploadAttempts = 5
	DefaultUploadDelay    = 3 * time.Second
)

// RetryPolicy 固定次数 + 固定间隔
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultUploadAttempts, Delay: DefaultUploadDelay}
}

// Retry 对一次上传执行有界重试
// 以下情况直接失败，不重试：本地文件不存在、ctx 已取消
func Retry(ctx context.Context, policy RetryPolicy, uri types.ArtifactURI, logger *zap.Logger, fn func(attempt int) error) error {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	attempt := 0
	for attempt < policy.Attempts {
		attempt++
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !retryable(ctx, lastErr) {
			break
		}

		logger.Warn("upload attempt failed",
			zap.String("uri", uri.String()),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.Attempts),
			zap.Error(lastErr),
		)

		if attempt == policy.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return &UploadError{URI: uri, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(policy.Delay):
		}
	}

	return &UploadError{URI: uri, Attempts: attempt, Err: lastErr}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	return true
}
