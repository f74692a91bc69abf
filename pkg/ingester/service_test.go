package ingester

import (
	"context"
	"path/filepath"
	"testing"

	"artcat/pkg/catalog"
	"artcat/pkg/config"
	"artcat/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServiceFixture(t *testing.T) (*Ingester, *memStore, *catalog.Store, ServiceInfo) {
	t.Helper()
	store := newMemStore()
	entries := catalog.NewStore(t.TempDir(), nil)
	ing, err := New(store, entries, Options{Root: testRoot, Platform: "linux-amd64"}, nil, nil)
	require.NoError(t, err)

	svcDir := t.TempDir()
	// scripts 只在 live 里，source 两边都有 (sync 优先)，build 不存在
	writeTree(t, filepath.Join(svcDir, "live"), map[string]string{
		"scripts/run.sh":  "run",
		"source/index.js": "live version",
	})
	writeTree(t, filepath.Join(svcDir, "sync"), map[string]string{
		"source/index.js": "sync version",
	})

	svc := ServiceInfo{
		ID:               "web",
		UUID:             "uuid-web",
		OriginalChecksum: "orig",
		FinalChecksum:    "abc1234ffff",
		Path:             svcDir,
		Descriptor:       map[string]any{"config": map[string]any{"port": 80, "tags": []any{"a"}}},
		Config:           map[string]any{"port": 8080, "tags": []any{"b"}},
	}
	return ing, store, entries, svc
}

func TestIngestService(t *testing.T) {
	ctx := context.Background()
	ing, store, entries, svc := newServiceFixture(t)

	res, err := ing.IngestService(ctx, svc, IngestOptions{Catalog: "main"})
	require.NoError(t, err)
	assert.True(t, res.Written)
	assert.False(t, res.Skipped)

	e := res.Entry
	assert.Equal(t, "uuid-web", e.UUID)
	assert.Len(t, e.Aspects, 2)
	assert.Contains(t, e.Aspects, types.AspectScripts)
	assert.Contains(t, e.Aspects, types.AspectSource)
	assert.NotContains(t, e.Aspects, types.AspectBuild, "missing aspect is skipped, not null")
	assert.Equal(t, 2, store.puts())

	// sync 优先于 live
	assert.Equal(t, "sync version", string(untar(t, store.objects[e.Aspects[types.AspectSource]])["source/index.js"]))

	// 服务配置深合并进 descriptor.config
	cfg := e.Descriptor["config"].(map[string]any)
	assert.Equal(t, 8080, cfg["port"])
	assert.Equal(t, []any{"a", "b"}, cfg["tags"])
	// 入参没有被改动
	assert.Equal(t, 80, svc.Descriptor["config"].(map[string]any)["port"])

	stored, err := entries.ReadEntry("main", "web", "abc1234ffff")
	require.NoError(t, err)
	assert.Equal(t, e.Timestamp, stored.Timestamp)
}

func TestIngestService_PublishCache(t *testing.T) {
	ctx := context.Background()
	ing, store, _, svc := newServiceFixture(t)

	first, err := ing.IngestService(ctx, svc, IngestOptions{Catalog: "main"})
	require.NoError(t, err)

	second, err := ing.IngestService(ctx, svc, IngestOptions{Catalog: "main"})
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, first.Entry.Timestamp, second.Entry.Timestamp)
	assert.Equal(t, 2, store.puts())
	assert.Equal(t, 2, store.hasN, "publish cache skips even the existence checks")

	// force: 重新上传，但条目语义未变，timestamp 保持
	forced, err := ing.IngestService(ctx, svc, IngestOptions{Catalog: "main", Force: true})
	require.NoError(t, err)
	assert.False(t, forced.Skipped)
	assert.False(t, forced.Written)
	assert.Equal(t, first.Entry.Timestamp, forced.Entry.Timestamp)
	assert.Equal(t, 4, store.puts())
}

func TestIngestService_NewBuildIsRecorded(t *testing.T) {
	ctx := context.Background()
	ing, _, entries, svc := newServiceFixture(t)

	_, err := ing.IngestService(ctx, svc, IngestOptions{Catalog: "main"})
	require.NoError(t, err)

	svc.FinalChecksum = "bbbbbbb0000"
	res, err := ing.IngestService(ctx, svc, IngestOptions{Catalog: "main"})
	require.NoError(t, err)
	assert.True(t, res.Written)

	latest, err := entries.LatestEntry("main", "web")
	require.NoError(t, err)
	assert.Equal(t, "bbbbbbb0000", latest.FinalChecksum)
	for _, uri := range latest.Aspects {
		assert.Contains(t, uri.String(), "web-bbbbbbb-")
	}
}

func TestIngestService_InvalidService(t *testing.T) {
	ing, _, _, svc := newServiceFixture(t)
	svc.FinalChecksum = ""

	_, err := ing.IngestService(context.Background(), svc, IngestOptions{Catalog: "main"})
	var ce *config.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "service.final_checksum", ce.Key)
}

func TestIngestService_InvalidIdentityUploadsNothing(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServiceInfo)
		wantKey string
	}{
		{"id with slash", func(s *ServiceInfo) { s.ID = "web/../admin" }, "service.id"},
		{"dot id", func(s *ServiceInfo) { s.ID = ".." }, "service.id"},
		{"checksum with slash", func(s *ServiceInfo) { s.FinalChecksum = "abc/def" }, "service.final_checksum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing, store, _, svc := newServiceFixture(t)
			tt.mutate(&svc)

			_, err := ing.IngestService(context.Background(), svc, IngestOptions{Catalog: "main"})
			var ce *config.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.wantKey, ce.Key)
			assert.Zero(t, store.puts(), "nothing should be uploaded for an invalid service")
		})
	}
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]any{
		"a":      1,
		"nested": map[string]any{"x": 1, "y": 2},
		"list":   []any{1},
	}
	src := map[string]any{
		"b":      2,
		"nested": map[string]any{"y": 3, "z": 4},
		"list":   []any{2},
		"a":      map[string]any{"replaced": true},
	}

	got, err := DeepMerge(dst, src)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"a":      map[string]any{"replaced": true},
		"b":      2,
		"nested": map[string]any{"x": 1, "y": 3, "z": 4},
		"list":   []any{1, 2},
	}, got)

	// 入参不变
	assert.Equal(t, 1, dst["a"])
	assert.Equal(t, map[string]any{"x": 1, "y": 2}, dst["nested"])

	// 合并结果与 src 不共享嵌套 map
	got["nested"].(map[string]any)["z"] = 5
	assert.Equal(t, 4, src["nested"].(map[string]any)["z"])

	fromNil, err := DeepMerge(nil, map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, fromNil)

	t.Run("list onto scalar", func(t *testing.T) {
		_, err := DeepMerge(map[string]any{"list": "x"}, map[string]any{"list": []any{1}})
		assert.Error(t, err)
	})
}

func TestDeepCopy(t *testing.T) {
	in := map[string]any{"nested": map[string]any{"list": []any{1, map[string]any{"k": "v"}}}}
	out := DeepCopy(in)
	assert.Equal(t, in, out)

	out["nested"].(map[string]any)["list"].([]any)[1].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", in["nested"].(map[string]any)["list"].([]any)[1].(map[string]any)["k"])

	assert.Nil(t, DeepCopy(nil))
}

func TestReadServiceInfo(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		ServiceFile: `{"id":"web","uuid":"u1","finalChecksum":"abc","descriptor":{"name":"web"},"config":{"port":80}}`,
	})

	info, err := ReadServiceInfo(dir)
	require.NoError(t, err)
	assert.Equal(t, "web", info.ID)
	assert.Equal(t, "u1", info.UUID)
	assert.Equal(t, dir, info.Path)
	assert.Equal(t, map[string]any{"port": float64(80)}, info.Config)

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadServiceInfo(t.TempDir())
		var ce *config.ConfigurationError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "service.path", ce.Key)
	})

	t.Run("missing identity", func(t *testing.T) {
		bad := t.TempDir()
		writeTree(t, bad, map[string]string{ServiceFile: `{"id":"web"}`})
		_, err := ReadServiceInfo(bad)
		var ce *config.ConfigurationError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "service.uuid", ce.Key)
	})
}
