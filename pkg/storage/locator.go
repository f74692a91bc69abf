package storage

import (
	"fmt"
	"strings"

	"artcat/pkg/types"
)

// DefaultURIPrefix 是对象存储服务的固定 URL 前缀
const DefaultURIPrefix = "https://s3.amazonaws.com/"

// Locator 负责 ArtifactURI <-> (bucket, key) 的转换
// URI 形如: {prefix}{bucket}/{key...}
type Locator struct {
	Prefix string
}

func NewLocator(prefix string) Locator {
	if prefix == "" {
		prefix = DefaultURIPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return Locator{Prefix: prefix}
}

// Owns 判断 uri 是否位于本存储服务之下
func (l Locator) Owns(uri string) bool {
	return strings.HasPrefix(uri, l.Prefix)
}

// Split 把 URI 拆成 bucket 和 key
func (l Locator) Split(uri types.ArtifactURI) (bucket, key string, err error) {
	s := string(uri)
	if !l.Owns(s) {
		return "", "", fmt.Errorf("uri %q is not under %q", s, l.Prefix)
	}
	rest := strings.TrimPrefix(s, l.Prefix)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("uri %q has no bucket/key", s)
	}
	return bucket, key, nil
}

// Join 是 Split 的逆操作
func (l Locator) Join(bucket, key string) types.ArtifactURI {
	return types.ArtifactURI(l.Prefix + bucket + "/" + strings.TrimPrefix(key, "/"))
}
