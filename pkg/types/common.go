// pkg/types/common.go
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Hash 代表目录树的内容摘要 (SHA256 Hex String)
// 这是一个“值对象”，应当是不可变的。
type Hash string

func (h Hash) String() string { return string(h) }

// 验证 Hash 合法性
func (h Hash) IsZero() bool  { return h == "" }
func (h Hash) IsValid() bool { return len(h) == 64 } // 简单的长度检查

// Short 返回前 n 位，用于拼接对象 Key
func (h Hash) Short(n int) string { return Prefix(string(h), n) }

// ArtifactURI 是远端对象存储中一个归档文件的完整地址
// 例如: https://s3.amazonaws.com/bucket/repo/svc-abc1234-def5678-scripts.tgz
type ArtifactURI string

func (u ArtifactURI) String() string { return string(u) }
func (u ArtifactURI) IsZero() bool   { return u == "" }

// AspectType 是服务制品的分类 (scripts / source / build ...)
type AspectType string

const (
	AspectScripts AspectType = "scripts"
	AspectSource  AspectType = "source"
	AspectBuild   AspectType = "build"
)

// DefaultAspects 是默认的编目顺序
var DefaultAspects = []AspectType{AspectScripts, AspectSource, AspectBuild}

func (a AspectType) String() string { return string(a) }

// PlatformSpecific: 只有 build 产物跟平台/架构绑定
func (a AspectType) PlatformSpecific() bool { return a == AspectBuild }

// Revision 是调用方给出的版本标签
// 兼容 JSON 字符串和数字两种写法，内部统一保存为字符串
type Revision string

func (r Revision) String() string { return string(r) }

func (r *Revision) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = Revision(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("revision must be a string or number: %w", err)
	}
	// 数值按十进制最短形式保存：1.0、1e3 与 1、1000 得到相同的 catalog checksum
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("revision out of range: %w", err)
	}
	*r = Revision(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

// Prefix 安全截取前 n 个字符 (不足 n 位时原样返回)
func Prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
