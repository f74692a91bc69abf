package storage

import (
	"io"

	"go.uber.org/zap"
)

// ProgressFunc 上传进度回调 (已传字节, 总字节)
type ProgressFunc func(done, total int64)

// LogProgress 返回一个把进度写进日志的回调
func LogProgress(logger *zap.Logger, name string) ProgressFunc {
	return func(done, total int64) {
		logger.Debug("upload progress",
			zap.String("object", name),
			zap.Int64("done", done),
			zap.Int64("total", total),
		)
	}
}

// ProgressReader 包装一个 io.ReadSeeker，每次读取后汇报进度
// 回调出错 (panic) 只记录日志，绝不影响上传本身
type ProgressReader struct {
	r      io.ReadSeeker
	total  int64
	done   int64
	report ProgressFunc
	logger *zap.Logger
}

func NewProgressReader(r io.ReadSeeker, total int64, report ProgressFunc, logger *zap.Logger) *ProgressReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressReader{r: r, total: total, report: report, logger: logger}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		p.notify()
	}
	return n, err
}

// Seek 让 SDK 可以回卷重新计算校验和；进度随位置一起重置
func (p *ProgressReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.r.Seek(offset, whence)
	if err == nil {
		p.done = pos
	}
	return pos, err
}

func (p *ProgressReader) notify() {
	if p.report == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("progress reporter failed", zap.Any("panic", r))
		}
	}()
	p.report(p.done, p.total)
}
