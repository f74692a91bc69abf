package meta

import (
	"time"

	"gorm.io/datatypes"
)

// SnapshotModel 是已发布 snapshot 在关系型数据库中的投影 (索引)
// 磁盘上的文档才是权威数据，这里只用于查询历史 (artcat log)
type SnapshotModel struct {
	Catalog  string `gorm:"primaryKey;type:varchar(255)"`
	Checksum string `gorm:"primaryKey;type:char(40)"`

	UUID     string `gorm:"type:varchar(255);not null"`
	Revision string `gorm:"index;type:varchar(64)"`
	Packages int

	// Members: {"serviceId": "finalChecksum", ...}
	Members datatypes.JSON

	CreatedAt time.Time `gorm:"index"`
}

func (SnapshotModel) TableName() string {
	return "snapshots"
}

// EntryModel 是一条服务条目的投影
type EntryModel struct {
	Catalog       string `gorm:"primaryKey;type:varchar(255)"`
	ServiceID     string `gorm:"primaryKey;type:varchar(255)"`
	FinalChecksum string `gorm:"primaryKey;type:varchar(255)"`

	UUID      string `gorm:"type:varchar(255);not null"`
	Timestamp int64  `gorm:"index"` // Unix 毫秒

	// Aspects: {"scripts": "https://...", ...}
	Aspects datatypes.JSON

	CreatedAt time.Time
}

func (EntryModel) TableName() string {
	return "entries"
}
