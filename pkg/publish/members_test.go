package publish

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func paths(ms []Member) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Path())
	}
	return out
}

func TestMatcher_Select(t *testing.T) {
	candidates := []Member{
		{"web", "site"},
		{"api", "users"},
		{"api", "legacy"},
		{"web", "admin"},
		{"tools", "cron"},
	}

	tests := []struct {
		name     string
		patterns []string
		want     []string
	}{
		{"exact", []string{"api/users"}, []string{"api/users"}},
		{"group glob sorted", []string{"web/*"}, []string{"web/admin", "web/site"}},
		{"pattern order wins", []string{"web/site", "api/*"}, []string{"web/site", "api/legacy", "api/users"}},
		{"duplicates dropped", []string{"api/users", "api/*"}, []string{"api/users", "api/legacy"}},
		{"negation", []string{"api/*", "!api/legacy"}, []string{"api/users"}},
		{"comments and blanks", []string{"# core", "", "tools/cron"}, []string{"tools/cron"}},
		{"no match", []string{"db/*"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewMatcher(tt.patterns).Select(candidates)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, paths(got))
		})
	}
}
