package catalog

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"artcat/pkg/telemetry"

	"github.com/santhosh-tekuri/jsonschema/v5"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"
)

const checksumDelimiter = ":"

const payloadSchema = `{
	"type": "object",
	"required": ["name", "uuid", "revision", "env", "config", "services", "packages"],
	"properties": {
		"name":     {"type": "string", "minLength": 1},
		"uuid":     {"type": "string", "minLength": 1},
		"revision": {"type": ["string", "number"]},
		"env":      {"type": "object"},
		"config":   {"type": "object"},
		"services": {"type": "object"},
		"packages": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"required": ["uuid", "finalChecksum"],
				"properties": {
					"uuid":             {"type": "string"},
					"originalChecksum": {"type": "string"},
					"finalChecksum":    {"type": "string", "minLength": 1},
					"timestamp":        {"type": "number"}
				}
			}
		}
	}
}`

var compiledPayloadSchema = jsonschema.MustCompileString("artcat://payload.schema.json", payloadSchema)

// requiredFields 按顺序检查，报告第一个缺失的字段
var requiredFields = []struct {
	name string
	ok   func(any) bool
}{
	{"name", isString},
	{"uuid", isString},
	{"revision", func(v any) bool { return isString(v) || isNumber(v) }},
	{"env", isObject},
	{"config", isObject},
	{"services", isObject},
	{"packages", isObject},
}

func isString(v any) bool { _, ok := v.(string); return ok }
func isNumber(v any) bool { _, ok := v.(json.Number); return ok }
func isObject(v any) bool { _, ok := v.(map[string]any); return ok }

// ParsePayload 解码并校验聚合请求
// 所有格式问题都返回 *ValidationError
func ParsePayload(data []byte) (*Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, &ValidationError{Field: "payload", Reason: err.Error()}
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, &ValidationError{Field: "payload", Reason: "must be a JSON object"}
	}

	// 1. 必填字段，给出明确的字段名
	for _, f := range requiredFields {
		if !f.ok(obj[f.name]) {
			return nil, &ValidationError{Field: f.name}
		}
	}

	// 2. 其余结构约束交给 JSON Schema
	if err := compiledPayloadSchema.Validate(doc); err != nil {
		return nil, schemaError(err)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &ValidationError{Field: "payload", Reason: err.Error()}
	}
	return &p, nil
}

func schemaError(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ValidationError{Field: "payload", Reason: err.Error()}
	}
	// 取最深的那个原因，它的 InstanceLocation 最具体
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	field := strings.ReplaceAll(strings.TrimPrefix(ve.InstanceLocation, "/"), "/", ".")
	if field == "" {
		field = "payload"
	}
	return &ValidationError{Field: field, Reason: ve.Message}
}

// Checksum 是 snapshot 的内容地址
// SHA-1(uuid:revision:pkg1.uuid:pkg1.finalChecksum:...)，packages 按插入顺序
func Checksum(s *Snapshot) string {
	key := []string{s.UUID, s.Revision.String()}
	if s.Packages != nil {
		for pair := s.Packages.Oldest(); pair != nil; pair = pair.Next() {
			key = append(key, pair.Value.UUID, pair.Value.FinalChecksum)
		}
	}
	sum := sha1.Sum([]byte(strings.Join(key, checksumDelimiter)))
	return hex.EncodeToString(sum[:])
}

// AggregatorConfig 决定对外展示的 snapshot URL
type AggregatorConfig struct {
	PublicHost string
	Port       int
}

// Aggregator 把多个服务条目合成一个 catalog snapshot
type Aggregator struct {
	store   *Store
	cfg     AggregatorConfig
	logger  *zap.Logger
	metrics telemetry.Metrics
}

func NewAggregator(store *Store, cfg AggregatorConfig, logger *zap.Logger, metrics telemetry.Metrics) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	return &Aggregator{store: store, cfg: cfg, logger: logger, metrics: metrics}
}

// Result 是一次聚合的产出
type Result struct {
	Snapshot *Snapshot
	Checksum string
	URL      string
}

// Build 校验每个包对应的条目并算出 checksum，不落盘
func (a *Aggregator) Build(ctx context.Context, catalogName string, p *Payload) (*Snapshot, string, error) {
	if err := checkNames(catalogName); err != nil {
		return nil, "", &ValidationError{Field: "name", Reason: err.Error()}
	}
	if p.Name != catalogName {
		return nil, "", &ValidationError{Field: "name", Reason: fmt.Sprintf("payload is for catalog %q, not %q", p.Name, catalogName)}
	}

	snap := &Snapshot{
		Name:     p.Name,
		UUID:     p.UUID,
		Revision: p.Revision,
		Packages: orderedmap.New[string, *Entry](),
		Env:      p.Env,
		Config:   p.Config,
		Services: p.Services,
	}

	if p.Packages != nil {
		for pair := p.Packages.Oldest(); pair != nil; pair = pair.Next() {
			if err := ctx.Err(); err != nil {
				return nil, "", err
			}
			entry, err := a.verify(catalogName, pair.Key, pair.Value)
			if err != nil {
				return nil, "", err
			}
			snap.Packages.Set(pair.Key, entry)
		}
	}

	return snap, Checksum(snap), nil
}

// verify 保证请求的包确实被记录过，且元数据没有被改写
func (a *Aggregator) verify(catalogName, serviceID string, ref PackageRef) (*Entry, error) {
	if !ValidName(serviceID) {
		return nil, &ValidationError{Field: "packages." + serviceID, Reason: "invalid service id"}
	}
	if !ValidName(ref.FinalChecksum) {
		return nil, &ValidationError{Field: "packages." + serviceID + ".finalChecksum"}
	}

	entry, err := a.store.ReadEntry(catalogName, serviceID, ref.FinalChecksum)
	if err != nil {
		if !IsNotFound(err) {
			return nil, err
		}
		// checksum 路径不存在：如果 latest 记录的是另一个 finalChecksum，说明请求引用了过期/错误的构建
		latest, lerr := a.store.LatestEntry(catalogName, serviceID)
		if lerr == nil && latest.FinalChecksum != ref.FinalChecksum {
			return nil, &IntegrityError{
				ServiceID: serviceID,
				Fields:    []string{"finalChecksum"},
				Path:      a.store.EntryPath(catalogName, serviceID, ref.FinalChecksum, false),
			}
		}
		return nil, err
	}

	var mismatched []string
	if entry.UUID != ref.UUID {
		mismatched = append(mismatched, "uuid")
	}
	if entry.FinalChecksum != ref.FinalChecksum {
		mismatched = append(mismatched, "finalChecksum")
	}
	if entry.Timestamp != ref.Timestamp {
		mismatched = append(mismatched, "timestamp")
	}
	if len(mismatched) > 0 {
		return nil, &IntegrityError{
			ServiceID: serviceID,
			Fields:    mismatched,
			Path:      a.store.EntryPath(catalogName, serviceID, ref.FinalChecksum, false),
		}
	}
	return entry, nil
}

// Persist 把 snapshot 写到 checksum 路径和 latest 路径
func (a *Aggregator) Persist(ctx context.Context, catalogName, checksum string, snap *Snapshot) error {
	return a.store.WriteSnapshot(ctx, catalogName, checksum, snap)
}

// URL 拼出 snapshot 的外部访问地址 (纯字符串拼接)
func (a *Aggregator) URL(catalogName, checksum string) string {
	return fmt.Sprintf("http://%s:%d/catalog/%s/%s", a.cfg.PublicHost, a.cfg.Port, catalogName, checksum)
}

// Aggregate = Build + Persist
func (a *Aggregator) Aggregate(ctx context.Context, catalogName string, p *Payload) (res *Result, err error) {
	start := time.Now()
	defer func() { a.metrics.ObserveAggregate(catalogName, time.Since(start), err) }()

	snap, checksum, err := a.Build(ctx, catalogName, p)
	if err != nil {
		return nil, err
	}
	if err := a.Persist(ctx, catalogName, checksum, snap); err != nil {
		return nil, err
	}

	url := a.URL(catalogName, checksum)
	a.logger.Info("published catalog",
		zap.String("catalog", catalogName),
		zap.String("revision", snap.Revision.String()),
		zap.String("checksum", checksum),
		zap.String("url", url),
	)
	return &Result{Snapshot: snap, Checksum: checksum, URL: url}, nil
}
