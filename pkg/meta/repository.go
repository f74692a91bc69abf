package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"artcat/pkg/catalog"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSnapshotNotFound = errors.New("snapshot not found in metadata")

// Repository 封装所有对 SQL 数据库的操作
// 实现 catalog.Recorder，由 catalog.Store 在落盘后调用
type Repository struct {
	db *DB
}

var _ catalog.Recorder = (*Repository)(nil)

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// RecordEntry 把条目投影进 entries 表 (幂等写入)
func (r *Repository) RecordEntry(ctx context.Context, catalogName, serviceID string, e *catalog.Entry) error {
	aspects, err := json.Marshal(e.Aspects)
	if err != nil {
		return fmt.Errorf("failed to marshal aspects: %w", err)
	}
	model := EntryModel{
		Catalog:       catalogName,
		ServiceID:     serviceID,
		FinalChecksum: e.FinalChecksum,
		UUID:          e.UUID,
		Timestamp:     e.Timestamp,
		Aspects:       datatypes.JSON(aspects),
	}

	// 同一个 checksum 的条目不可变，已存在就什么都不做
	err = r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "catalog"}, {Name: "service_id"}, {Name: "final_checksum"}},
			DoNothing: true,
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to index entry: %w", err)
	}
	return nil
}

// RecordSnapshot 把 snapshot 投影进 snapshots 表 (幂等写入)
func (r *Repository) RecordSnapshot(ctx context.Context, catalogName, checksum string, s *catalog.Snapshot) error {
	members := make(map[string]string)
	count := 0
	if s.Packages != nil {
		for pair := s.Packages.Oldest(); pair != nil; pair = pair.Next() {
			if pair.Value != nil {
				members[pair.Key] = pair.Value.FinalChecksum
			}
			count++
		}
	}
	raw, err := json.Marshal(members)
	if err != nil {
		return fmt.Errorf("failed to marshal members: %w", err)
	}

	model := SnapshotModel{
		Catalog:  catalogName,
		Checksum: checksum,
		UUID:     s.UUID,
		Revision: s.Revision.String(),
		Packages: count,
		Members:  datatypes.JSON(raw),
	}
	err = r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "catalog"}, {Name: "checksum"}},
			DoNothing: true,
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to index snapshot: %w", err)
	}
	return nil
}

// GetSnapshot 按 checksum 查找
func (r *Repository) GetSnapshot(ctx context.Context, catalogName, checksum string) (*SnapshotModel, error) {
	var snap SnapshotModel
	err := r.db.GetConn().WithContext(ctx).
		Where("catalog = ? AND checksum = ?", catalogName, checksum).
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListSnapshots 按发布时间倒序返回一个 catalog 的历史
func (r *Repository) ListSnapshots(ctx context.Context, catalogName string, limit int) ([]SnapshotModel, error) {
	var snaps []SnapshotModel
	err := r.db.GetConn().WithContext(ctx).
		Where("catalog = ?", catalogName).
		Order("created_at DESC").
		Order("revision DESC").
		Limit(limit).
		Find(&snaps).Error
	return snaps, err
}

// ListEntries 按 timestamp 倒序返回一个服务记录过的条目
func (r *Repository) ListEntries(ctx context.Context, catalogName, serviceID string, limit int) ([]EntryModel, error) {
	var entries []EntryModel
	err := r.db.GetConn().WithContext(ctx).
		Where("catalog = ? AND service_id = ?", catalogName, serviceID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
