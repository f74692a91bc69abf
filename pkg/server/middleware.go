package server

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"artcat/pkg/telemetry"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// 1. Request ID
// =============================================================================

const requestIDHeader = "X-Request-Id"

type ctxKey struct{}

// RequestID 从 context 里取出请求 ID
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// withRequestID 沿用调用方给的 X-Request-Id，没有就生成一个
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// =============================================================================
// 2. Logging (结构化日志 + 指标)
// =============================================================================

// statusRecorder 记录写出的状态码
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func withLogging(logger *zap.Logger, metrics telemetry.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		duration := time.Since(start)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveRequest(route, rec.status, duration)

		// 5xx 算错误，4xx 算警告
		level := zap.InfoLevel
		switch {
		case rec.status >= 500:
			level = zap.ErrorLevel
		case rec.status >= 400:
			level = zap.WarnLevel
		}
		logger.Log(level, "http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("dur", duration),
			zap.String("request_id", RequestID(r.Context())),
		)
	})
}

// =============================================================================
// 3. Recovery (防弹衣)
// =============================================================================

// withRecovery 捕获 Panic，返回 500 而不是让进程崩溃
func withRecovery(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				logger.Error("🔥 PANIC RECOVERED",
					zap.Any("panic", p),
					zap.String("stack", string(debug.Stack())),
					zap.String("request_id", RequestID(r.Context())),
				)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
