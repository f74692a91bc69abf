package disk

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"artcat/pkg/storage"
	"artcat/pkg/types"

	"go.uber.org/zap"
)

// Adapter 实现了 storage.Store 接口
// 用本地目录模拟对象存储：{root}/{bucket}/{key}
// 主要用于本地开发和测试
type Adapter struct {
	rootPath string // 比如: /var/lib/artcat/objects
	locator  storage.Locator
	logger   *zap.Logger
	now      func() time.Time
}

// NewAdapter 创建一个新的磁盘存储适配器
func NewAdapter(root, uriPrefix string, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	// 确保根目录存在
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root storage dir: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		rootPath: abs,
		locator:  storage.NewLocator(uriPrefix),
		logger:   logger,
		now:      time.Now,
	}, nil
}

// layout 返回 URI 对应的物理路径
func (s *Adapter) layout(uri types.ArtifactURI) (string, error) {
	bucket, key, err := s.locator.Split(uri)
	if err != nil {
		return "", err
	}
	p := filepath.Join(s.rootPath, bucket, filepath.FromSlash(key))
	// key 里的 ../ 不能逃出根目录
	rel, err := filepath.Rel(s.rootPath, p)
	if err != nil || rel == ".." || filepath.IsAbs(rel) || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator) {
		return "", fmt.Errorf("uri %q escapes storage root", uri)
	}
	return p, nil
}

func (s *Adapter) Has(ctx context.Context, uri types.ArtifactURI) (bool, error) {
	targetPath, err := s.layout(uri)
	if err != nil {
		return false, &storage.TransportError{URI: uri, Err: err}
	}
	_, err = os.Stat(targetPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, &storage.TransportError{URI: uri, Err: err}
}

func (s *Adapter) Put(ctx context.Context, localPath string, uri types.ArtifactURI) error {
	targetPath, err := s.layout(uri)
	if err != nil {
		return &storage.UploadError{URI: uri, Err: err}
	}

	return storage.Retry(ctx, storage.RetryPolicy{Attempts: 1}, uri, s.logger, func(int) error {
		return s.copyAtomic(localPath, targetPath)
	})
}

// copyAtomic 先写到一个临时文件，然后 Rename
// 这样保证要么文件不存在，要么文件是完整的。
func (s *Adapter) copyAtomic(src, targetPath string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, "temp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tempFile.Name())

	if _, err := io.Copy(tempFile, in); err != nil {
		tempFile.Close()
		return err
	}
	if err := tempFile.Close(); err != nil { // 必须先关闭才能 Rename
		return err
	}
	return os.Rename(tempFile.Name(), targetPath)
}

// SignURL 返回 file:// 地址，expires 参数仅作提示
func (s *Adapter) SignURL(ctx context.Context, uri types.ArtifactURI, ttl time.Duration) (string, error) {
	targetPath, err := s.layout(uri)
	if err != nil {
		return "", &storage.SigningError{URI: uri, Err: err}
	}
	if _, err := os.Stat(targetPath); err != nil {
		if os.IsNotExist(err) {
			err = storage.ErrNotFound
		}
		return "", &storage.SigningError{URI: uri, Err: err}
	}

	u := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(targetPath),
		RawQuery: url.Values{"expires": {strconv.FormatInt(s.now().Add(ttl).Unix(), 10)}}.Encode(),
	}
	return u.String(), nil
}
