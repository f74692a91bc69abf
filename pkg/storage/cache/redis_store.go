package cache

import (
	"context"
	"fmt"
	"time"

	"artcat/pkg/storage"
	"artcat/pkg/types"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedStore 是一个装饰器，它为底层的 storage.Store 添加 Redis 缓存层
// 只缓存 "存在" 这一事实：归档一旦上传就不会再变
type CachedStore struct {
	backend storage.Store // 被装饰的底层存储 (如 S3)
	client  *redis.Client // Redis 客户端
	ttl     time.Duration // 缓存过期时间 (例如 24h)
	logger  *zap.Logger
	now     func() time.Time
}

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
}

// record 是写进 Redis 的值，CBOR 编码
type record struct {
	URI       string `cbor:"1,keyasint"`
	CheckedAt int64  `cbor:"2,keyasint"`
}

func NewCachedStore(backend storage.Store, cfg Config, logger *zap.Logger) (*CachedStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	// 解析 URL
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &CachedStore{
		backend: backend,
		client:  client,
		ttl:     cfg.TTL,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// cacheKey 生成 Redis Key，添加前缀防止冲突
func (s *CachedStore) cacheKey(uri types.ArtifactURI) string {
	return "artcat:obj:" + string(uri)
}

// Has 优先查 Redis，命中则完全跳过对象存储的 HEAD 请求
func (s *CachedStore) Has(ctx context.Context, uri types.ArtifactURI) (bool, error) {
	key := s.cacheKey(uri)

	// 1. 查 Redis
	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == redis.Nil:
		// Cache Miss
	case err != nil:
		// 缓存故障降级：Redis 挂了就直接查底层存储
		s.logger.Warn("redis lookup failed, falling back to backend", zap.Error(err))
	default:
		var rec record
		if decErr := cbor.Unmarshal(raw, &rec); decErr == nil && rec.URI == string(uri) {
			return true, nil
		}
		s.logger.Warn("discarding malformed cache record", zap.String("key", key))
	}

	// 2. 缓存未命中，查底层存储
	found, err := s.backend.Has(ctx, uri)
	if err != nil {
		return false, err
	}

	// 3. 缓存回填，只缓存正结果
	if found {
		s.fill(ctx, uri)
	}
	return found, nil
}

// Put 穿透到底层存储，成功后写缓存
func (s *CachedStore) Put(ctx context.Context, localPath string, uri types.ArtifactURI) error {
	if err := s.backend.Put(ctx, localPath, uri); err != nil {
		return err
	}
	s.fill(ctx, uri)
	return nil
}

// SignURL 透传：签名结果带过期时间，不缓存
func (s *CachedStore) SignURL(ctx context.Context, uri types.ArtifactURI, ttl time.Duration) (string, error) {
	return s.backend.SignURL(ctx, uri, ttl)
}

// Close 释放 Redis 连接
func (s *CachedStore) Close() error {
	return s.client.Close()
}

func (s *CachedStore) fill(ctx context.Context, uri types.ArtifactURI) {
	val, err := cbor.Marshal(record{URI: string(uri), CheckedAt: s.now().Unix()})
	if err != nil {
		return
	}
	// 这里的 Set 错误可以忽略，不影响主流程
	if err := s.client.Set(ctx, s.cacheKey(uri), val, s.ttl).Err(); err != nil {
		s.logger.Warn("redis fill failed", zap.Error(err))
	}
}
