package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"testing"
	"time"

	"artcat/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocator_Split(t *testing.T) {
	loc := NewLocator("")

	tests := []struct {
		name       string
		uri        types.ArtifactURI
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{"simple", "https://s3.amazonaws.com/bucket/svc-abc1234-def5678-scripts.tgz", "bucket", "svc-abc1234-def5678-scripts.tgz", false},
		{"nested key", "https://s3.amazonaws.com/bucket/repo/a/b.tgz", "bucket", "repo/a/b.tgz", false},
		{"foreign host", "https://example.com/bucket/key.tgz", "", "", true},
		{"no key", "https://s3.amazonaws.com/bucket", "", "", true},
		{"empty bucket", "https://s3.amazonaws.com//key", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := loc.Split(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.uri, loc.Join(bucket, key))
		})
	}
}

func TestLocator_CustomPrefixWithoutSlash(t *testing.T) {
	loc := NewLocator("http://localhost:9000")
	assert.Equal(t, "http://localhost:9000/", loc.Prefix)
	assert.True(t, loc.Owns("http://localhost:9000/b/k"))
	assert.False(t, loc.Owns("http://localhost:90001/b/k"))
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	policy := RetryPolicy{Attempts: 5, Delay: time.Millisecond}
	uri := types.ArtifactURI("https://s3.amazonaws.com/b/k.tgz")

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, policy, uri, nil, func(int) error {
			calls++
			if calls < 3 {
				return errors.New("connection reset")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after bound", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, policy, uri, nil, func(attempt int) error {
			calls++
			return fmt.Errorf("boom %d", attempt)
		})
		var upErr *UploadError
		require.ErrorAs(t, err, &upErr)
		assert.Equal(t, 5, calls)
		assert.Equal(t, 5, upErr.Attempts)
		assert.EqualError(t, upErr.Err, "boom 5", "必须携带最后一次的底层错误")
	})

	t.Run("missing local file is not retried", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, policy, uri, nil, func(int) error {
			calls++
			return fmt.Errorf("open: %w", fs.ErrNotExist)
		})
		var upErr *UploadError
		require.ErrorAs(t, err, &upErr)
		assert.Equal(t, 1, calls)
		assert.ErrorIs(t, err, fs.ErrNotExist)
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		calls := 0
		err := Retry(cctx, RetryPolicy{Attempts: 5, Delay: time.Hour}, uri, nil, func(int) error {
			calls++
			cancel()
			return errors.New("timeout")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestProgressReader(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1000)

	var last int64
	calls := 0
	pr := NewProgressReader(bytes.NewReader(data), int64(len(data)), func(done, total int64) {
		calls++
		last = done
		assert.Equal(t, int64(1000), total)
	}, nil)

	out, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, data, out)
	assert.Equal(t, int64(1000), last)
	assert.Positive(t, calls)

	// Seek 回卷后进度重置
	_, err = pr.Seek(0, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 10)
	_, err = pr.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, int64(10), last)
}

func TestProgressReader_PanickingReporterDoesNotAbort(t *testing.T) {
	data := []byte("payload")
	pr := NewProgressReader(bytes.NewReader(data), int64(len(data)), func(int64, int64) {
		panic("reporter broke")
	}, nil)

	out, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}
