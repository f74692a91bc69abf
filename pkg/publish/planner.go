package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"artcat/pkg/catalog"
	"artcat/pkg/config"
	"artcat/pkg/ingester"
	"artcat/pkg/types"

	"go.uber.org/zap"
)

// RevisionLayout 是 UTC 的 YYYYMMDD-HHMMSS
const RevisionLayout = "20060102-150405"

// Revision 返回 t 对应的版本标签
func Revision(t time.Time) types.Revision {
	return types.Revision(t.UTC().Format(RevisionLayout))
}

// Planner 根据配置和已记录的条目拼出聚合请求
type Planner struct {
	cfg     *config.Config
	entries *catalog.Store
	logger  *zap.Logger
	now     func() time.Time
}

func NewPlanner(cfg *config.Config, entries *catalog.Store, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{cfg: cfg, entries: entries, logger: logger, now: time.Now}
}

// Catalogs 返回配置中的 catalog 名字，顺序即发布顺序
func (p *Planner) Catalogs() []string {
	names := make([]string, 0, len(p.cfg.Catalogs))
	for _, cc := range p.cfg.Catalogs {
		names = append(names, cc.Name)
	}
	return names
}

// Plan 为一个 catalog 生成 payload
// 未配置或被禁用的服务跳过；启用的成员没有已记录条目时报错
func (p *Planner) Plan(ctx context.Context, name string) (*catalog.Payload, error) {
	cc, ok := p.cfg.Catalog(name)
	if !ok {
		return nil, &config.ConfigurationError{Key: "catalogs", Reason: fmt.Sprintf("catalog %q is not configured", name)}
	}
	log := p.logger.With(zap.String("catalog", name))

	candidates, err := p.candidates()
	if err != nil {
		return nil, err
	}

	payload := catalog.NewPayload(cc.Name, cc.UUID, Revision(p.now()))
	payload.Env = ingester.DeepCopy(p.cfg.Env)
	if payload.Env == nil {
		payload.Env = map[string]any{}
	}
	merged, err := ingester.DeepMerge(p.cfg.Config, cc.Config)
	if err != nil {
		return nil, &config.ConfigurationError{Key: "catalogs." + name + ".config", Reason: err.Error()}
	}
	payload.Config = merged

	for _, m := range NewMatcher(cc.Services).Select(candidates) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		svc, configured := p.service(m)
		if !configured {
			log.Warn("skip inclusion in catalog, service is not configured", zap.String("service", m.Path()))
			continue
		}
		if enabled, ok := svc["enabled"].(bool); ok && !enabled {
			log.Warn("skip inclusion in catalog, service is disabled", zap.String("service", m.Path()))
			continue
		}

		entry, err := p.entries.LatestEntry(name, m.ID)
		if err != nil {
			if catalog.IsNotFound(err) {
				return nil, fmt.Errorf("service %q has not been recorded in catalog %q: %w", m.ID, name, err)
			}
			return nil, err
		}
		payload.Packages.Set(m.ID, entry.Ref())

		group, _ := payload.Services[m.Group].(map[string]any)
		if group == nil {
			group = map[string]any{}
			payload.Services[m.Group] = group
		}
		group[m.ID] = ingester.DeepCopy(svc)
	}

	log.Info("planned catalog", zap.Int("packages", payload.Packages.Len()), zap.String("revision", payload.Revision.String()))
	return payload, nil
}

func (p *Planner) service(m Member) (map[string]any, bool) {
	group, ok := p.cfg.Services[m.Group]
	if !ok {
		return nil, false
	}
	svc, ok := group[m.ID]
	if !ok {
		return nil, false
	}
	if svc == nil {
		svc = map[string]any{}
	}
	return svc, true
}

// candidates 合并配置里的服务与 services_path 下的服务目录
func (p *Planner) candidates() ([]Member, error) {
	seen := make(map[string]bool)
	var out []Member
	add := func(m Member) {
		if !seen[m.Path()] {
			seen[m.Path()] = true
			out = append(out, m)
		}
	}

	for group, ids := range p.cfg.Services {
		for id := range ids {
			add(Member{Group: group, ID: id})
		}
	}

	if root := p.cfg.Ingest.ServicesPath; root != "" {
		groups, err := os.ReadDir(root)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to list services path: %w", err)
		}
		for _, g := range groups {
			if !g.IsDir() {
				continue
			}
			ids, err := os.ReadDir(filepath.Join(root, g.Name()))
			if err != nil {
				return nil, fmt.Errorf("failed to list service group %s: %w", g.Name(), err)
			}
			for _, id := range ids {
				if id.IsDir() {
					add(Member{Group: g.Name(), ID: id.Name()})
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out, nil
}
