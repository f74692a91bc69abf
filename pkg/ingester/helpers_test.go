package ingester

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"artcat/pkg/storage"
	"artcat/pkg/types"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

const testRoot = "https://s3.amazonaws.com/artifacts/repo"

// memStore 是内存版 storage.Store，统计调用次数
type memStore struct {
	mu      sync.Mutex
	objects map[types.ArtifactURI][]byte
	hasN    int
	putN    int
	hasErr  error
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[types.ArtifactURI][]byte)}
}

func (m *memStore) Has(ctx context.Context, uri types.ArtifactURI) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasN++
	if m.hasErr != nil {
		return false, &storage.TransportError{URI: uri, Err: m.hasErr}
	}
	_, ok := m.objects[uri]
	return ok, nil
}

func (m *memStore) Put(ctx context.Context, localPath string, uri types.ArtifactURI) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putN++
	if m.putErr != nil {
		return &storage.UploadError{URI: uri, Attempts: 1, Err: m.putErr}
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.objects[uri] = data
	return nil
}

func (m *memStore) SignURL(ctx context.Context, uri types.ArtifactURI, ttl time.Duration) (string, error) {
	return "", errors.New("not implemented")
}

func (m *memStore) puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putN
}

// writeTree 在 dir 下按 map 创建文件
func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

// untar 解出归档里的普通文件
func untar(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer zr.Close()

	files := make(map[string][]byte)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = content
	}
	return files
}
