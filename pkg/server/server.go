package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"artcat/pkg/catalog"
	"artcat/pkg/telemetry"
	"artcat/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	authHeader      = "x-auth-code"
	etagHeader      = "etag"
	shutdownTimeout = 5 * time.Second
)

// URLSigner 把存储地址换成限时可访问的 URL (storage.Store 满足该接口)
type URLSigner interface {
	SignURL(ctx context.Context, uri types.ArtifactURI, ttl time.Duration) (string, error)
}

// SnapshotReader 读取已发布的 snapshot
type SnapshotReader interface {
	ReadSnapshot(catalog, checksum string) (*catalog.Snapshot, error)
}

// Caller 一个调用方别名的共享密钥与可见的 aspect
type Caller struct {
	Key     string
	Aspects []string
}

type Config struct {
	Allow         map[string]Caller
	SignTTL       time.Duration
	SessionCookie string
	RPS           float64 // 0 表示不限流
	Burst         int
}

type caller struct {
	alias   string
	key     []byte
	aspects map[types.AspectType]bool
	limiter *rate.Limiter
}

// Server 只读访问磁盘上的 snapshot，按调用方过滤 aspect 并签名
type Server struct {
	snapshots SnapshotReader
	signer    URLSigner
	callers   []caller
	ttl       time.Duration
	cookie    string
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
	metrics   telemetry.Metrics
}

// New 创建服务；signer 为 nil 时 catalog 路由一律返回 204
// gatherer 为 nil 时不挂 /metrics
func New(snapshots SnapshotReader, signer URLSigner, cfg Config, logger *zap.Logger, metrics telemetry.Metrics, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	if cfg.SignTTL <= 0 {
		cfg.SignTTL = 15 * time.Minute
	}
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = "x-artcat-sid"
	}

	// 别名排序后匹配，结果与 map 遍历顺序无关
	aliases := make([]string, 0, len(cfg.Allow))
	for alias := range cfg.Allow {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	callers := make([]caller, 0, len(aliases))
	for _, alias := range aliases {
		a := cfg.Allow[alias]
		c := caller{
			alias:   alias,
			key:     []byte(a.Key),
			aspects: make(map[types.AspectType]bool, len(a.Aspects)),
		}
		for _, aspect := range a.Aspects {
			c.aspects[types.AspectType(aspect)] = true
		}
		if cfg.RPS > 0 {
			burst := cfg.Burst
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
		}
		callers = append(callers, c)
	}

	return &Server{
		snapshots: snapshots,
		signer:    signer,
		callers:   callers,
		ttl:       cfg.SignTTL,
		cookie:    cfg.SessionCookie,
		gatherer:  gatherer,
		logger:    logger,
		metrics:   metrics,
	}
}

// Handler 返回挂好中间件的路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /catalog/{name}/{checksum}", s.handleCatalog)
	mux.HandleFunc("GET /.set-session-cookie", s.handleSessionCookie)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// 由外到内: request id -> logging -> recovery -> mux
	var h http.Handler = mux
	h = withRecovery(s.logger, h)
	h = withLogging(s.logger, s.metrics, h)
	h = withRequestID(h)
	return h
}

// Run 监听 addr，ctx 结束后优雅关闭
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("catalog server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down catalog server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleSessionCookie(w http.ResponseWriter, r *http.Request) {
	sid := r.URL.Query().Get("sid")
	if sid == "" {
		http.NotFound(w, r)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: s.cookie, Value: sid, Path: "/"})
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	name, checksum := r.PathValue("name"), r.PathValue("checksum")

	// 1. 没有签名能力
	if s.signer == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// 2. 鉴权
	c, ok := s.authorize(r.Header.Get(authHeader))
	if !ok {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	log := s.logger.With(zap.String("alias", c.alias), zap.String("catalog", name), zap.String("checksum", checksum))

	// 3. 限流
	if c.limiter != nil && !c.limiter.Allow() {
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	// 4. 新鲜度：snapshot 发布后不可变，checksum 相同就没有新内容
	if fresh(r, checksum) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	// 5. 读取
	if !catalog.ValidName(name) || !isHex(checksum) {
		http.NotFound(w, r)
		return
	}
	snap, err := s.snapshots.ReadSnapshot(name, checksum)
	if err != nil {
		if catalog.IsNotFound(err) || errors.Is(err, catalog.ErrInvalidName) {
			http.NotFound(w, r)
			return
		}
		log.Error("failed to read snapshot", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// 6. 过滤 + 签名
	if err := s.signSnapshot(r.Context(), snap, c); err != nil {
		log.Error("failed to sign snapshot", zap.Error(err))
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	body, err := catalog.Encode(snap)
	if err != nil {
		log.Error("failed to encode snapshot", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", `"`+checksum+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// authorize 常量时间比较每个别名的密钥
func (s *Server) authorize(code string) (caller, bool) {
	if code == "" {
		return caller{}, false
	}
	given := []byte(code)
	for _, c := range s.callers {
		if subtle.ConstantTimeCompare(c.key, given) == 1 {
			return c, true
		}
	}
	return caller{}, false
}

// fresh 兼容 etag 头和标准的 If-None-Match，忽略引号和弱校验前缀
func fresh(r *http.Request, checksum string) bool {
	for _, h := range []string{r.Header.Get(etagHeader), r.Header.Get("If-None-Match")} {
		if h == "" {
			continue
		}
		for _, tag := range strings.Split(h, ",") {
			tag = strings.TrimSpace(tag)
			tag = strings.TrimPrefix(tag, "W/")
			if strings.Trim(tag, `"`) == checksum {
				return true
			}
		}
	}
	return false
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

type signJob struct {
	entry  *catalog.Entry
	aspect types.AspectType
	uri    types.ArtifactURI
	signed string
}

// signSnapshot 删除调用方看不到的 aspect，其余地址并发换成签名 URL
// 所有签名完成后才回写；任一失败则整体失败
func (s *Server) signSnapshot(ctx context.Context, snap *catalog.Snapshot, c caller) error {
	var jobs []*signJob
	if snap.Packages != nil {
		for pair := snap.Packages.Oldest(); pair != nil; pair = pair.Next() {
			entry := pair.Value
			if entry == nil {
				continue
			}
			for aspect, uri := range entry.Aspects {
				if !c.aspects[aspect] {
					delete(entry.Aspects, aspect)
					continue
				}
				jobs = append(jobs, &signJob{entry: entry, aspect: aspect, uri: uri})
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		g.Go(func() error {
			url, err := s.signer.SignURL(gctx, job.uri, s.ttl)
			s.metrics.ObserveSign(err)
			if err != nil {
				return err
			}
			job.signed = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, job := range jobs {
		job.entry.Aspects[job.aspect] = types.ArtifactURI(job.signed)
	}
	return nil
}
