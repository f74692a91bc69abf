package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"artcat/pkg/types"
)

var (
	// ErrNotFound: 对象不存在 (Has 用 false 表达，签名等操作返回该错误)
	ErrNotFound = errors.New("object not found")
)

// ContentType 是上传归档时标记的类型
const ContentType = "application/x-tar"

// Store defines the interface for a storage backend.
// 对外只暴露三种能力：存在性检查、上传、签名 URL
type Store interface {
	// Has 检查对象是否存在 (用于去重逻辑)
	// 404 不是错误，返回 false
	Has(ctx context.Context, uri types.ArtifactURI) (bool, error)

	// Put 上传本地文件到 uri
	// 实现内部自带有限次数的重试
	Put(ctx context.Context, localPath string, uri types.ArtifactURI) error

	// SignURL 生成一个限时可访问的 URL
	SignURL(ctx context.Context, uri types.ArtifactURI, ttl time.Duration) (string, error)
}

// TransportError: Has 遇到了 404 以外的错误
type TransportError struct {
	URI types.ArtifactURI
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("storage transport error for %s: %v", e.URI, e.Err)
}
func (e *TransportError) Unwrap() error { return e.Err }

// UploadError: 重试耗尽后的最终错误，携带最后一次的底层错误
type UploadError struct {
	URI      types.ArtifactURI
	Attempts int
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %s failed after %d attempt(s): %v", e.URI, e.Attempts, e.Err)
}
func (e *UploadError) Unwrap() error { return e.Err }

// SigningError: 签名 URL 失败
type SigningError struct {
	URI types.ArtifactURI
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("failed to sign url for %s: %v", e.URI, e.Err)
}
func (e *SigningError) Unwrap() error { return e.Err }
