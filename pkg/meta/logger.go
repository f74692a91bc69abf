package meta

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// slowQuery 超过这个耗时的 SQL 按 Warn 记录
const slowQuery = 200 * time.Millisecond

// zapLogger 把 GORM 的日志转发到 zap
type zapLogger struct {
	logger *zap.Logger
	level  logger.LogLevel
}

// newZapLogger 返回 GORM 使用的日志实现，nil 时丢弃全部日志
func newZapLogger(l *zap.Logger, level logger.LogLevel) logger.Interface {
	if l == nil {
		return logger.Discard
	}
	return &zapLogger{logger: l.Named("gorm"), level: level}
}

func (z *zapLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *z
	cp.level = level
	return &cp
}

func (z *zapLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if z.level >= logger.Info {
		z.logger.Sugar().Infof(msg, data...)
	}
}

func (z *zapLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if z.level >= logger.Warn {
		z.logger.Sugar().Warnf(msg, data...)
	}
}

func (z *zapLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if z.level >= logger.Error {
		z.logger.Sugar().Errorf(msg, data...)
	}
}

// Trace 在每条 SQL 执行后调用
// 找不到记录是正常的查询结果，不算错误
func (z *zapLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if z.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && z.level >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		z.logger.Error("sql failed", zap.Error(err), zap.String("sql", sql), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed))
	case elapsed > slowQuery && z.level >= logger.Warn:
		sql, rows := fc()
		z.logger.Warn("slow sql", zap.String("sql", sql), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed))
	case z.level >= logger.Info:
		sql, rows := fc()
		z.logger.Debug("sql", zap.String("sql", sql), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed))
	}
}
