package publish

import (
	"sort"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// Member 是 catalog 的一个候选服务，Path 为 "group/id"
type Member struct {
	Group string
	ID    string
}

func (m Member) Path() string { return m.Group + "/" + m.ID }

// Matcher 用 gitignore 风格的模式挑选服务
// 每条模式单独编译，保证结果按模式的先后顺序排列
type Matcher struct {
	patterns []string
	compiled []*gitignore.GitIgnore
}

// NewMatcher 编译成员模式 (例如 "web/*", "api/**", "!api/legacy")
// 以 ! 开头的模式从前面已选中的成员里剔除
func NewMatcher(patterns []string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		m.patterns = append(m.patterns, p)
		m.compiled = append(m.compiled, gitignore.CompileIgnoreLines(strings.TrimPrefix(p, "!")))
	}
	return m
}

// Select 返回匹配的成员
// 顺序：按模式顺序，同一模式内按 group/id 字典序；重复的只保留第一次
func (m *Matcher) Select(candidates []Member) []Member {
	sorted := append([]Member(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path() < sorted[j].Path() })

	var out []Member
	picked := make(map[string]bool)
	for i, p := range m.patterns {
		if strings.HasPrefix(p, "!") {
			kept := out[:0]
			for _, c := range out {
				if m.compiled[i].MatchesPath(c.Path()) {
					delete(picked, c.Path())
					continue
				}
				kept = append(kept, c)
			}
			out = kept
			continue
		}
		for _, c := range sorted {
			if picked[c.Path()] || !m.compiled[i].MatchesPath(c.Path()) {
				continue
			}
			picked[c.Path()] = true
			out = append(out, c)
		}
	}
	return out
}
