// pkg/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"artcat/pkg/catalog"
	"artcat/pkg/config"
	"artcat/pkg/ingester"
	"artcat/pkg/meta"
	"artcat/pkg/publish"
	"artcat/pkg/server"
	"artcat/pkg/storage"
	"artcat/pkg/storage/cache"
	"artcat/pkg/storage/disk"
	"artcat/pkg/storage/s3"
	"artcat/pkg/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有"单例"服务，由进程入口构造一次
type App struct {
	Config *config.Config
	Logger *zap.Logger

	Store      storage.Store
	Entries    *catalog.Store
	Aggregator *catalog.Aggregator
	Planner    *publish.Planner
	Meta       *meta.Repository // 未配置 database.driver 时为 nil

	Registry *prometheus.Registry
	Metrics  telemetry.Metrics

	closers []io.Closer
}

// New 负责组装这一台机器
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	// 1. 指标
	a.Registry = prometheus.NewRegistry()
	a.Metrics = telemetry.NewPrometheusMetrics(a.Registry)

	// 2. 存储层 (可选 Redis 装饰)
	store, err := a.initStore(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}
	a.Store = store

	// 3. 元数据索引
	var opts []catalog.Option
	if cfg.Database.Driver != "" {
		db, err := meta.NewDB(ctx, meta.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN, Logger: logger})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to init metadata index: %w", err)
		}
		a.closers = append(a.closers, db)
		a.Meta = meta.NewRepository(db)
		opts = append(opts, catalog.WithRecorder(a.Meta))
	}

	// 4. catalog
	a.Entries = catalog.NewStore(cfg.Data.BasePath, logger.Named("catalog"), opts...)
	a.Aggregator = catalog.NewAggregator(a.Entries, catalog.AggregatorConfig{
		PublicHost: cfg.Server.PublicHost,
		Port:       cfg.Server.Port,
	}, logger.Named("aggregator"), a.Metrics)
	a.Planner = publish.NewPlanner(cfg, a.Entries, logger.Named("publish"))

	return a, nil
}

// initStore 根据 storage.type 选择后端，配置了 Redis 时包一层存在性缓存
func (a *App) initStore(ctx context.Context) (storage.Store, error) {
	cfg := a.Config.Storage
	log := a.Logger.Named("storage")

	var backend storage.Store
	switch cfg.Type {
	case "s3":
		adapter, err := s3.NewAdapter(ctx, s3.Config{
			Endpoint:        cfg.Endpoint,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			URIPrefix:       cfg.URIPrefix,
			Retry:           cfg.RetryPolicy(),
		}, log)
		if err != nil {
			return nil, err
		}
		backend = adapter
	case "disk":
		adapter, err := disk.NewAdapter(cfg.Path, cfg.URIPrefix, log)
		if err != nil {
			return nil, err
		}
		backend = adapter
	default:
		return nil, &config.ConfigurationError{Key: "storage.type", Reason: fmt.Sprintf("unsupported storage type %q", cfg.Type)}
	}

	if a.Config.Cache.RedisURL == "" {
		return backend, nil
	}
	cached, err := cache.NewCachedStore(backend, cache.Config{
		RedisURL: a.Config.Cache.RedisURL,
		TTL:      a.Config.Cache.TTL,
	}, log.Named("cache"))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, cached)
	return cached, nil
}

// Ingester 按需构造；storage.uri 未配置时返回 *config.ConfigurationError
func (a *App) Ingester() (*ingester.Ingester, error) {
	return ingester.New(a.Store, a.Entries, ingester.Options{
		Root:      a.Config.Storage.URI,
		URIPrefix: a.Config.Storage.URIPrefix,
		Platform:  a.Config.Ingest.Platform,
		Aspects:   a.Config.Ingest.AspectTypes(),
		Roots:     a.Config.Ingest.Roots,
	}, a.Logger.Named("ingester"), a.Metrics)
}

// Server 构造 catalog 访问服务；没有签名能力时 signer 为 nil (路由返回 204)
func (a *App) Server() *server.Server {
	sc := a.Config.Server
	allow := make(map[string]server.Caller, len(sc.Allow))
	for alias, c := range sc.Allow {
		allow[alias] = server.Caller{Key: c.Key, Aspects: c.Aspects}
	}

	var signer server.URLSigner
	if a.Config.Storage.Signing() {
		signer = a.Store
	}
	return server.New(a.Entries, signer, server.Config{
		Allow:         allow,
		SignTTL:       sc.SignTTL,
		SessionCookie: sc.SessionCookie,
		RPS:           sc.RateLimit.RPS,
		Burst:         sc.RateLimit.Burst,
	}, a.Logger.Named("server"), a.Metrics, a.Registry)
}

// Close 按创建的逆序释放资源
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
