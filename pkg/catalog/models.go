package catalog

import (
	"artcat/pkg/types"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Entry 是一个服务在某个 catalog 里的发布记录
// 身份是 (UUID, FinalChecksum)；Timestamp 不参与语义比较
type Entry struct {
	UUID             string                                 `json:"uuid"`
	OriginalChecksum string                                 `json:"originalChecksum,omitempty"`
	FinalChecksum    string                                 `json:"finalChecksum"`
	SyncInfo         map[string]any                         `json:"syncInfo,omitempty"`
	Timestamp        int64                                  `json:"timestamp"` // Unix 毫秒
	Aspects          map[types.AspectType]types.ArtifactURI `json:"aspects"`
	Descriptor       map[string]any                         `json:"descriptor"`
}

// PackageRef 是聚合请求里对某个服务条目的引用
type PackageRef struct {
	UUID             string `json:"uuid"`
	OriginalChecksum string `json:"originalChecksum,omitempty"`
	FinalChecksum    string `json:"finalChecksum"`
	Timestamp        int64  `json:"timestamp"`
}

// Ref 返回条目对应的引用 (用于构造聚合请求)
func (e *Entry) Ref() PackageRef {
	return PackageRef{
		UUID:             e.UUID,
		OriginalChecksum: e.OriginalChecksum,
		FinalChecksum:    e.FinalChecksum,
		Timestamp:        e.Timestamp,
	}
}

// Payload 是聚合入口 (stdin) 的输入
// Packages 保持调用方给出的顺序，它决定了 snapshot checksum
type Payload struct {
	Name     string                                     `json:"name"`
	UUID     string                                     `json:"uuid"`
	Revision types.Revision                             `json:"revision"`
	Packages *orderedmap.OrderedMap[string, PackageRef] `json:"packages"`
	Env      map[string]any                             `json:"env"`
	Config   map[string]any                             `json:"config"`
	Services map[string]any                             `json:"services"`
}

// NewPayload 返回一个 Packages 已初始化的空请求
func NewPayload(name, uuid string, revision types.Revision) *Payload {
	return &Payload{
		Name:     name,
		UUID:     uuid,
		Revision: revision,
		Packages: orderedmap.New[string, PackageRef](),
		Env:      map[string]any{},
		Config:   map[string]any{},
		Services: map[string]any{},
	}
}

// Snapshot 是一个 catalog 的聚合版本，发布后不可变
type Snapshot struct {
	Name     string                                 `json:"name"`
	UUID     string                                 `json:"uuid"`
	Revision types.Revision                         `json:"revision"`
	Packages *orderedmap.OrderedMap[string, *Entry] `json:"packages"`
	Env      map[string]any                         `json:"env"`
	Config   map[string]any                         `json:"config"`
	Services map[string]any                         `json:"services"`
}
