package ingester

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"artcat/pkg/config"
	"artcat/pkg/storage"
	"artcat/pkg/treehash"
	"artcat/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIngester(t *testing.T, store storage.Store) *Ingester {
	t.Helper()
	ing, err := New(store, nil, Options{Root: testRoot, Platform: "linux-amd64"}, nil, nil)
	require.NoError(t, err)
	return ing
}

func TestObjectKey(t *testing.T) {
	digest := types.Hash("def5678aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	assert.Equal(t, "svc-abc1234-def5678-scripts.tgz",
		ObjectKey("svc", "abc1234ffffffff", digest, types.AspectScripts, "linux-amd64"))
	assert.Equal(t, "svc-abc1234-def5678-build-linux-amd64.tgz",
		ObjectKey("svc", "abc1234ffffffff", digest, types.AspectBuild, "linux-amd64"))
	// checksum 不足 7 位时原样使用
	assert.Equal(t, "svc-abc-def5678-source.tgz",
		ObjectKey("svc", "abc", digest, types.AspectSource, "linux-amd64"))
}

func TestDeriveURI(t *testing.T) {
	loc := storage.NewLocator("")
	digest := types.Hash("def5678")

	uri, err := DeriveURI(loc, testRoot+"/", "svc", "abc1234", digest, types.AspectScripts, "")
	require.NoError(t, err)
	assert.Equal(t, types.ArtifactURI(testRoot+"/svc-abc1234-def5678-scripts.tgz"), uri)

	_, err = DeriveURI(loc, "https://example.com/bucket", "svc", "abc1234", digest, types.AspectScripts, "")
	var ce *config.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "storage.uri", ce.Key)
}

func TestNew_RejectsForeignRoot(t *testing.T) {
	for _, root := range []string{"", "https://example.com/bucket", "s3://bucket/repo"} {
		_, err := New(newMemStore(), nil, Options{Root: root}, nil, nil)
		var ce *config.ConfigurationError
		assert.ErrorAs(t, err, &ce, "root %q", root)
	}
}

func TestCacheAspect_SourceAbsent(t *testing.T) {
	// Scenario A
	store := newMemStore()
	ing := newTestIngester(t, store)

	uri, err := ing.CacheAspect(context.Background(), AspectRequest{
		ServiceID:     "svc",
		FinalChecksum: "abc1234",
		Aspect:        types.AspectScripts,
		SourcePath:    filepath.Join(t.TempDir(), "scripts"),
	})
	require.NoError(t, err)
	assert.True(t, uri.IsZero())
	assert.Zero(t, store.hasN, "no existence check")
	assert.Zero(t, store.puts(), "no upload")
}

func TestCacheAspect_UploadsOnce(t *testing.T) {
	// Scenario B + 幂等
	ctx := context.Background()
	store := newMemStore()
	ing := newTestIngester(t, store)

	source := filepath.Join(t.TempDir(), "scripts")
	writeTree(t, source, map[string]string{"deploy.sh": "#!/bin/sh\necho hi\n", "lib/util.sh": "true\n"})

	digest, err := treehash.NewHasher(nil).Digest(ctx, source)
	require.NoError(t, err)

	req := AspectRequest{ServiceID: "svc", FinalChecksum: "abc1234ffff", Aspect: types.AspectScripts, SourcePath: source}

	first, err := ing.CacheAspect(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, types.ArtifactURI(testRoot+"/svc-abc1234-"+digest.Short(7)+"-scripts.tgz"), first)
	assert.Regexp(t, regexp.MustCompile(`/svc-abc1234-[0-9a-f]{7}-scripts\.tgz$`), first.String())
	assert.Equal(t, 1, store.puts())
	assert.NotEmpty(t, store.objects[first])

	// 上传后归档被清理
	_, err = os.Stat(source + ".tgz")
	assert.True(t, os.IsNotExist(err))

	second, err := ing.CacheAspect(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.puts(), "cache hit must not upload again")
	_, err = os.Stat(source + ".tgz")
	assert.True(t, os.IsNotExist(err), "cache hit must not build an archive")
}

func TestCacheAspect_ContentChangeChangesURI(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ing := newTestIngester(t, store)

	source := filepath.Join(t.TempDir(), "source")
	writeTree(t, source, map[string]string{"main.go": "package main"})
	req := AspectRequest{ServiceID: "svc", FinalChecksum: "abc1234", Aspect: types.AspectSource, SourcePath: source}

	before, err := ing.CacheAspect(ctx, req)
	require.NoError(t, err)

	writeTree(t, source, map[string]string{"main.go": "package main // changed"})
	after, err := ing.CacheAspect(ctx, req)
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
	assert.Equal(t, 2, store.puts())
}

func TestCacheAspect_ForceReuploads(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ing := newTestIngester(t, store)

	source := filepath.Join(t.TempDir(), "build")
	writeTree(t, source, map[string]string{"bin/app": "ELF"})
	req := AspectRequest{ServiceID: "svc", FinalChecksum: "abc1234", Aspect: types.AspectBuild, SourcePath: source}

	first, err := ing.CacheAspect(ctx, req)
	require.NoError(t, err)
	assert.Contains(t, first.String(), "-build-linux-amd64.tgz")

	req.Force = true
	second, err := ing.CacheAspect(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, store.puts())
}

func TestCacheAspect_Errors(t *testing.T) {
	ctx := context.Background()
	source := filepath.Join(t.TempDir(), "scripts")
	writeTree(t, source, map[string]string{"a.sh": "a"})
	req := AspectRequest{ServiceID: "svc", FinalChecksum: "abc1234", Aspect: types.AspectScripts, SourcePath: source}

	t.Run("transport error", func(t *testing.T) {
		store := newMemStore()
		store.hasErr = errors.New("connection refused")
		_, err := newTestIngester(t, store).CacheAspect(ctx, req)
		var te *storage.TransportError
		assert.ErrorAs(t, err, &te)
		assert.Zero(t, store.puts())
	})

	t.Run("upload error", func(t *testing.T) {
		store := newMemStore()
		store.putErr = errors.New("503 slow down")
		_, err := newTestIngester(t, store).CacheAspect(ctx, req)
		var ue *storage.UploadError
		assert.ErrorAs(t, err, &ue)
	})
}
