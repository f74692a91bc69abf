package catalog

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrChecksumConflict: checksum 路径上已有内容不同的文档
	ErrChecksumConflict = errors.New("checksum-qualified document already exists with different content")
	ErrInvalidName      = errors.New("invalid catalog path component")
)

// ValidationError 聚合请求格式错误
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid payload: field %q is missing or malformed", e.Field)
	}
	return fmt.Sprintf("invalid payload: field %q: %s", e.Field, e.Reason)
}

// IntegrityError 请求的包与磁盘上记录的条目不一致
type IntegrityError struct {
	ServiceID string
	Fields    []string
	Path      string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("catalog entry for service %q does not match requested entry (fields: %s, path: %s)",
		e.ServiceID, strings.Join(e.Fields, ", "), e.Path)
}

// NotFoundError 条目或 snapshot 不存在
type NotFoundError struct {
	Kind string // "entry" | "snapshot"
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no catalog %s found at path: %s", e.Kind, e.Path)
}

// IsNotFound 判断 err 链上是否有 NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
