package meta

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := newZapLogger(zap.New(core), logger.Warn)
	ctx := context.Background()
	query := func() (string, int64) { return "SELECT 1", 0 }

	l.Trace(ctx, time.Now(), query, errors.New("disk I/O error"))
	l.Trace(ctx, time.Now(), query, gorm.ErrRecordNotFound)
	l.Trace(ctx, time.Now().Add(-time.Second), query, nil)
	l.Trace(ctx, time.Now(), query, nil) // Warn 级别下普通 SQL 不记录

	entries := logs.AllUntimed()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
		assert.Equal(t, "sql failed", entries[0].Message)
		assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
		assert.Equal(t, "slow sql", entries[1].Message)
	}

	// Silent 什么都不记
	logs.TakeAll()
	l.LogMode(logger.Silent).Trace(ctx, time.Now(), query, errors.New("boom"))
	assert.Zero(t, logs.Len())
}

func TestZapLogger_NilDiscards(t *testing.T) {
	assert.Equal(t, logger.Discard, newZapLogger(nil, logger.Info))
}
