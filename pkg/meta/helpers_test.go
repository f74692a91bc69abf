package meta

import (
	"context"
	"fmt"
	"testing"

	"artcat/pkg/catalog"
	"artcat/pkg/types"

	"github.com/stretchr/testify/require"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// -----------------------------------------------------------------------------
// 通用辅助函数 (Helpers)
// -----------------------------------------------------------------------------

// mockSnapshot 构造一个包含 n 个服务的 snapshot
func mockSnapshot(revision string, n int) *catalog.Snapshot {
	s := &catalog.Snapshot{
		Name:     "main",
		UUID:     "cat-uuid",
		Revision: types.Revision(revision),
		Packages: orderedmap.New[string, *catalog.Entry](),
	}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("svc%d", i)
		s.Packages.Set(id, &catalog.Entry{UUID: "u-" + id, FinalChecksum: "sum-" + id})
	}
	return s
}

// mustRecordSnapshot 强制索引 snapshot，失败则终止
func mustRecordSnapshot(t *testing.T, repo *Repository, s *catalog.Snapshot, msgAndArgs ...any) string {
	t.Helper()
	sum := catalog.Checksum(s)
	require.NoError(t, repo.RecordSnapshot(context.Background(), s.Name, sum, s), msgAndArgs...)
	return sum
}

// mustRecordEntry 强制索引条目，失败则终止
func mustRecordEntry(t *testing.T, repo *Repository, serviceID string, e *catalog.Entry, msgAndArgs ...any) {
	t.Helper()
	require.NoError(t, repo.RecordEntry(context.Background(), "main", serviceID, e), msgAndArgs...)
}
