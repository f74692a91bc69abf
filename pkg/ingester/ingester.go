package ingester

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"artcat/pkg/archive"
	"artcat/pkg/catalog"
	"artcat/pkg/config"
	"artcat/pkg/storage"
	"artcat/pkg/telemetry"
	"artcat/pkg/treehash"
	"artcat/pkg/types"

	"go.uber.org/zap"
)

const keyPrefixLen = 7

// Options 决定归档 URI 的根和平台标签
type Options struct {
	Root      string // 例如 https://s3.amazonaws.com/bucket/repo
	URIPrefix string // 为空时使用 storage.DefaultURIPrefix
	Platform  string // 为空时使用 config.DefaultPlatform()

	Aspects []types.AspectType // 编目顺序，为空时使用 types.DefaultAspects
	Roots   []string           // 相对服务目录的源根，为空时为 sync, live
}

// Ingester 把一个 aspect 目录变成对象存储里的一个归档
type Ingester struct {
	hasher   *treehash.Hasher
	builder  *archive.Builder
	store    storage.Store
	entries  *catalog.Store
	locator  storage.Locator
	root     string
	platform string
	aspects  []types.AspectType
	roots    []string
	logger   *zap.Logger
	metrics  telemetry.Metrics
}

// New 在构造时就校验根地址，避免在昂贵的打包/上传之后才失败
func New(store storage.Store, entries *catalog.Store, opts Options, logger *zap.Logger, metrics telemetry.Metrics) (*Ingester, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	platform := opts.Platform
	if platform == "" {
		platform = config.DefaultPlatform()
	}
	aspects := opts.Aspects
	if len(aspects) == 0 {
		aspects = types.DefaultAspects
	}
	roots := opts.Roots
	if len(roots) == 0 {
		roots = []string{"sync", "live"}
	}

	ing := &Ingester{
		hasher:   treehash.NewHasher(logger),
		builder:  archive.NewBuilder(logger),
		store:    store,
		entries:  entries,
		locator:  storage.NewLocator(opts.URIPrefix),
		root:     strings.TrimSuffix(opts.Root, "/"),
		platform: platform,
		aspects:  aspects,
		roots:    roots,
		logger:   logger,
		metrics:  metrics,
	}
	if err := ing.checkRoot(); err != nil {
		return nil, err
	}
	return ing, nil
}

func (ing *Ingester) checkRoot() error {
	if ing.root == "" {
		return &config.ConfigurationError{Key: "storage.uri", Reason: "is required"}
	}
	if !ing.locator.Owns(ing.root + "/") {
		return &config.ConfigurationError{Key: "storage.uri", Reason: fmt.Sprintf("must begin with %q", ing.locator.Prefix)}
	}
	return nil
}

// ObjectKey 返回归档文件名
// {serviceId}-{finalChecksum[0:7]}-{digest[0:7]}-{aspect}[-{platform}-{arch}].tgz
func ObjectKey(serviceID, finalChecksum string, digest types.Hash, aspect types.AspectType, platform string) string {
	key := fmt.Sprintf("%s-%s-%s-%s",
		serviceID,
		types.Prefix(finalChecksum, keyPrefixLen),
		digest.Short(keyPrefixLen),
		aspect,
	)
	if aspect.PlatformSpecific() {
		key += "-" + platform
	}
	return key + archive.Ext
}

// DeriveURI 拼出 aspect 的远端地址；结果不在存储服务之下时返回 *config.ConfigurationError
func DeriveURI(loc storage.Locator, root, serviceID, finalChecksum string, digest types.Hash, aspect types.AspectType, platform string) (types.ArtifactURI, error) {
	uri := types.ArtifactURI(strings.TrimSuffix(root, "/") + "/" + ObjectKey(serviceID, finalChecksum, digest, aspect, platform))
	if _, _, err := loc.Split(uri); err != nil {
		return "", &config.ConfigurationError{Key: "storage.uri", Reason: err.Error()}
	}
	return uri, nil
}

// AspectRequest 一次 aspect 缓存请求
type AspectRequest struct {
	ServiceID     string
	FinalChecksum string
	Aspect        types.AspectType
	SourcePath    string
	Force         bool // 即使远端已存在也重新打包上传
}

// CacheAspect 返回 aspect 的归档地址
// 源目录不存在时返回空 URI 和 nil error (没有东西要发布)
func (ing *Ingester) CacheAspect(ctx context.Context, req AspectRequest) (uri types.ArtifactURI, err error) {
	start := time.Now()
	outcome := telemetry.OutcomeError
	defer func() {
		ing.metrics.ObserveCacheAspect(req.Aspect.String(), outcome, time.Since(start))
	}()

	log := ing.logger.With(
		zap.String("service", req.ServiceID),
		zap.String("aspect", req.Aspect.String()),
	)
	source := filepath.Clean(req.SourcePath)

	// 1. 源目录不存在：不是错误
	if !pathExists(source) {
		log.Info("skip creating archive and upload, path does not exist", zap.String("path", source))
		outcome = telemetry.OutcomeAbsent
		return "", nil
	}

	// 2. 目录摘要
	digest, err := ing.hasher.Digest(ctx, source)
	if err != nil {
		return "", err
	}

	// 3. 推导 URI
	uri, err = DeriveURI(ing.locator, ing.root, req.ServiceID, req.FinalChecksum, digest, req.Aspect, ing.platform)
	if err != nil {
		return "", err
	}

	// 4. 远端已存在：缓存命中
	exists, err := ing.store.Has(ctx, uri)
	if err != nil {
		return "", err
	}
	if exists {
		if !req.Force {
			log.Info("skip creating archive and upload, already uploaded", zap.String("uri", uri.String()))
			outcome = telemetry.OutcomeHit
			return uri, nil
		}
		log.Warn("archive already uploaded, rebuilding due to force", zap.String("uri", uri.String()))
	}

	// 5. 期间源目录被删掉了
	if !pathExists(source) {
		log.Info("skip creating archive and upload, path disappeared", zap.String("path", source))
		outcome = telemetry.OutcomeAbsent
		return "", nil
	}

	// 6. 打包 + 上传
	archivePath := source + archive.Ext
	log.Info("creating archive", zap.String("archive", archivePath), zap.String("source", source))
	if err := ing.builder.Build(ctx, source, archivePath); err != nil {
		return "", err
	}
	defer os.Remove(archivePath)

	var size int64
	if info, statErr := os.Stat(archivePath); statErr == nil {
		size = info.Size()
	}

	log.Info("uploading archive", zap.String("archive", archivePath), zap.String("uri", uri.String()))
	err = ing.store.Put(ctx, archivePath, uri)
	ing.metrics.ObserveUpload(req.Aspect.String(), size, err)
	if err != nil {
		return "", err
	}

	log.Info("uploaded archive", zap.String("uri", uri.String()), zap.Int64("bytes", size))
	outcome = telemetry.OutcomeUploaded
	return uri, nil
}

// pathExists 只有确定不存在时才返回 false，其它 IO 错误交给后续步骤报告
func pathExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
