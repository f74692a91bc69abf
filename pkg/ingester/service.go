package ingester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"artcat/pkg/catalog"
	"artcat/pkg/config"
	"artcat/pkg/types"

	"dario.cat/mergo"
	"github.com/mitchellh/copystructure"
	"go.uber.org/zap"
)

// ServiceInfo 是上游算好的服务身份与描述
type ServiceInfo struct {
	ID               string         `json:"id"`
	UUID             string         `json:"uuid"`
	OriginalChecksum string         `json:"originalChecksum,omitempty"`
	FinalChecksum    string         `json:"finalChecksum"`
	Path             string         `json:"-"` // 服务目录，下面有 sync/ live/ 等源根
	SyncInfo         map[string]any `json:"syncInfo,omitempty"`
	Descriptor       map[string]any `json:"descriptor,omitempty"`
	Config           map[string]any `json:"config,omitempty"` // 合并进 descriptor.config
}

// ServiceFile 是部署好的服务目录里描述服务身份的文件 (相对服务目录)
const ServiceFile = "live/service.json"

// ReadServiceInfo 读取 {servicePath}/live/service.json
func ReadServiceInfo(servicePath string) (ServiceInfo, error) {
	var info ServiceInfo
	abs, err := filepath.Abs(servicePath)
	if err != nil {
		return info, err
	}
	data, err := os.ReadFile(filepath.Join(abs, filepath.FromSlash(ServiceFile)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return info, &config.ConfigurationError{Key: "service.path", Reason: fmt.Sprintf("%s not found under %s", ServiceFile, abs)}
		}
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, &config.ConfigurationError{Key: "service.path", Reason: fmt.Sprintf("malformed %s: %v", ServiceFile, err)}
	}
	info.Path = abs
	return info, info.validate()
}

func (s ServiceInfo) validate() error {
	switch {
	case s.ID == "":
		return &config.ConfigurationError{Key: "service.id", Reason: "is required"}
	case !catalog.ValidName(s.ID):
		return &config.ConfigurationError{Key: "service.id", Reason: fmt.Sprintf("invalid service id %q", s.ID)}
	case s.UUID == "":
		return &config.ConfigurationError{Key: "service.uuid", Reason: "is required"}
	case s.FinalChecksum == "":
		return &config.ConfigurationError{Key: "service.final_checksum", Reason: "is required"}
	case !catalog.ValidName(s.FinalChecksum):
		return &config.ConfigurationError{Key: "service.final_checksum", Reason: fmt.Sprintf("invalid checksum %q", s.FinalChecksum)}
	case s.Path == "":
		return &config.ConfigurationError{Key: "service.path", Reason: "is required"}
	}
	return nil
}

// IngestOptions 控制一次服务编目
type IngestOptions struct {
	Catalog string
	Force   bool // 忽略发布缓存，并强制重新上传已存在的归档
}

// IngestResult 是一次服务编目的结果
type IngestResult struct {
	Entry   *catalog.Entry
	Written bool // false: 条目没有变化 (或命中发布缓存)
	Skipped bool // true: 命中发布缓存，没有做任何 aspect 处理
}

// IngestService 依次缓存服务的每个 aspect，然后写入 catalog 条目
// aspect 严格串行处理，同一时刻最多只有一个归档在本地磁盘上
func (ing *Ingester) IngestService(ctx context.Context, svc ServiceInfo, opts IngestOptions) (*IngestResult, error) {
	if err := svc.validate(); err != nil {
		return nil, err
	}
	if ing.entries == nil {
		return nil, fmt.Errorf("ingester has no catalog entry store")
	}
	log := ing.logger.With(zap.String("catalog", opts.Catalog), zap.String("service", svc.ID))

	// 1. 发布缓存：最近一次记录的就是同一个构建
	if latest, err := ing.entries.LatestEntry(opts.Catalog, svc.ID); err == nil &&
		latest.UUID == svc.UUID && latest.FinalChecksum == svc.FinalChecksum {
		if !opts.Force {
			log.Info("skip recording latest revision in catalog, service has not changed")
			return &IngestResult{Entry: latest, Skipped: true}, nil
		}
		log.Warn("service has not changed, continuing due to force")
	} else if err != nil && !catalog.IsNotFound(err) {
		return nil, err
	}

	// 2. 逐个 aspect 缓存
	aspects := make(map[types.AspectType]types.ArtifactURI, len(ing.aspects))
	for _, aspect := range ing.aspects {
		log.Info("cataloging aspect", zap.String("aspect", aspect.String()))
		uri, err := ing.CacheAspect(ctx, AspectRequest{
			ServiceID:     svc.ID,
			FinalChecksum: svc.FinalChecksum,
			Aspect:        aspect,
			SourcePath:    ing.resolveSource(svc.Path, aspect),
			Force:         opts.Force,
		})
		if err != nil {
			return nil, fmt.Errorf("aspect %s of service %s: %w", aspect, svc.ID, err)
		}
		if !uri.IsZero() {
			aspects[aspect] = uri
		}
	}

	// 3. 记录条目
	descriptor, err := buildDescriptor(svc.Descriptor, svc.Config)
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", svc.ID, err)
	}
	entry := &catalog.Entry{
		UUID:             svc.UUID,
		OriginalChecksum: svc.OriginalChecksum,
		FinalChecksum:    svc.FinalChecksum,
		SyncInfo:         svc.SyncInfo,
		Timestamp:        time.Now().UnixMilli(),
		Aspects:          aspects,
		Descriptor:       descriptor,
	}
	stored, written, err := ing.entries.WriteEntry(ctx, opts.Catalog, svc.ID, entry)
	if err != nil {
		return nil, err
	}
	return &IngestResult{Entry: stored, Written: written}, nil
}

// resolveSource 按 roots 顺序找第一个存在的 aspect 目录
// 都不存在时返回最后一个候选，由 CacheAspect 当作缺失处理
func (ing *Ingester) resolveSource(servicePath string, aspect types.AspectType) string {
	var candidate string
	for _, root := range ing.roots {
		candidate = filepath.Join(servicePath, root, aspect.String())
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return candidate
}

// buildDescriptor 深拷贝 descriptor，并把服务配置合并进 descriptor.config
func buildDescriptor(descriptor, cfg map[string]any) (map[string]any, error) {
	out := DeepCopy(descriptor)
	if out == nil {
		out = map[string]any{}
	}
	if len(cfg) > 0 {
		base, _ := out["config"].(map[string]any)
		merged, err := DeepMerge(base, cfg)
		if err != nil {
			return nil, err
		}
		out["config"] = merged
	}
	return out, nil
}

// DeepCopy 复制一个 JSON 风格的 map
func DeepCopy(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return copystructure.Must(copystructure.Copy(m)).(map[string]any)
}

// DeepMerge 返回 dst 与 src 的递归合并 (src 优先)，两个入参都不会被修改
// 两边都是 map 时递归合并，数组按拼接处理，其余情况 src 覆盖 dst
// 一边是数组另一边不是时无法拼接，返回错误
func DeepMerge(dst, src map[string]any) (map[string]any, error) {
	out := DeepCopy(dst)
	if out == nil {
		out = map[string]any{}
	}
	if err := mergo.Merge(&out, DeepCopy(src), mergo.WithOverride, mergo.WithAppendSlice); err != nil {
		return nil, fmt.Errorf("merge config: %w", err)
	}
	return out, nil
}
