package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"artcat/pkg/types"

	"github.com/gowebpki/jcs"
	"go.uber.org/zap"
)

const (
	catalogsDir      = "catalogs"
	latestEntryFile  = "package.json"
	entrySuffix      = ".package.json"
	latestSnapFile   = "catalog.json"
	snapshotSuffix   = ".catalog.json"
	jsonIndent       = "    "
	documentFileMode = 0644
)

// Recorder 在条目/snapshot 落盘后被通知 (例如写入元数据库)
// 返回的错误只记录日志，不影响写入结果
type Recorder interface {
	RecordEntry(ctx context.Context, catalog, serviceID string, e *Entry) error
	RecordSnapshot(ctx context.Context, catalog, checksum string, s *Snapshot) error
}

// Store 独占 {basePath}/catalogs 下的磁盘布局
type Store struct {
	basePath string
	logger   *zap.Logger
	recorder Recorder
}

type Option func(*Store)

// WithRecorder 挂一个落盘通知钩子
func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

func NewStore(basePath string, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{basePath: basePath, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) BasePath() string { return s.basePath }

// ValidName 检查路径片段不能逃出目录
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}

func checkNames(names ...string) error {
	for _, n := range names {
		if !ValidName(n) {
			return fmt.Errorf("%w: %q", ErrInvalidName, n)
		}
	}
	return nil
}

// EntryPath 返回服务条目的路径
// latest=true:  catalogs/{catalog}/{serviceId}/package.json
// latest=false: catalogs/{catalog}/{serviceId}/{finalChecksum}.package.json
func (s *Store) EntryPath(catalog, serviceID, finalChecksum string, latest bool) string {
	dir := filepath.Join(s.basePath, catalogsDir, catalog, serviceID)
	if latest {
		return filepath.Join(dir, latestEntryFile)
	}
	return filepath.Join(dir, finalChecksum+entrySuffix)
}

// SnapshotPath 返回 catalog snapshot 的路径
// latest=true:  catalogs/{catalog}/catalog.json
// latest=false: catalogs/{catalog}/{checksum}.catalog.json
func (s *Store) SnapshotPath(catalog, checksum string, latest bool) string {
	dir := filepath.Join(s.basePath, catalogsDir, catalog)
	if latest {
		return filepath.Join(dir, latestSnapFile)
	}
	return filepath.Join(dir, checksum+snapshotSuffix)
}

// WriteEntry 记录一个服务条目
// 与 latest 语义相同 (忽略 timestamp) 时什么都不写，返回已有条目 (保留原 timestamp)
// written 表示是否真的写了盘
func (s *Store) WriteEntry(ctx context.Context, catalog, serviceID string, e *Entry) (stored *Entry, written bool, err error) {
	if err := checkNames(catalog, serviceID, e.FinalChecksum); err != nil {
		return nil, false, err
	}
	latestPath := s.EntryPath(catalog, serviceID, "", true)
	checksumPath := s.EntryPath(catalog, serviceID, e.FinalChecksum, false)

	// 1. 加载已有的 latest
	var existing Entry
	found, err := readJSON(latestPath, &existing)
	if err != nil {
		return nil, false, err
	}
	if found {
		same, err := SameEntry(e, &existing)
		if err != nil {
			return nil, false, err
		}
		if same {
			s.logger.Info("skip recording in catalog, nothing has changed",
				zap.String("catalog", catalog),
				zap.String("service", serviceID),
				zap.Int64("timestamp", existing.Timestamp),
			)
			return &existing, false, nil
		}
	}

	// 2. 不可变性保护：checksum 路径只允许写一次
	toWrite := e
	var pinned Entry
	pinnedFound, err := readJSON(checksumPath, &pinned)
	if err != nil {
		return nil, false, err
	}
	if pinnedFound {
		same, err := SameEntry(e, &pinned)
		if err != nil {
			return nil, false, err
		}
		if !same {
			return nil, false, fmt.Errorf("%w: %s", ErrChecksumConflict, checksumPath)
		}
		toWrite = &pinned
	} else {
		s.logger.Info("record in catalog", zap.String("path", checksumPath))
		if err := writeJSON(checksumPath, toWrite); err != nil {
			return nil, false, err
		}
	}

	// 3. latest 指针：后写者胜
	s.logger.Info("record in catalog", zap.String("path", latestPath))
	if err := writeJSON(latestPath, toWrite); err != nil {
		return nil, false, err
	}

	if s.recorder != nil {
		if err := s.recorder.RecordEntry(ctx, catalog, serviceID, toWrite); err != nil {
			s.logger.Warn("metadata recorder failed", zap.String("service", serviceID), zap.Error(err))
		}
	}
	return toWrite, true, nil
}

// ReadEntry 读取 checksum 限定的条目，不存在时返回 *NotFoundError
func (s *Store) ReadEntry(catalog, serviceID, finalChecksum string) (*Entry, error) {
	if err := checkNames(catalog, serviceID, finalChecksum); err != nil {
		return nil, err
	}
	return s.readEntryAt(s.EntryPath(catalog, serviceID, finalChecksum, false))
}

// LatestEntry 读取服务的 latest 条目
func (s *Store) LatestEntry(catalog, serviceID string) (*Entry, error) {
	if err := checkNames(catalog, serviceID); err != nil {
		return nil, err
	}
	return s.readEntryAt(s.EntryPath(catalog, serviceID, "", true))
}

func (s *Store) readEntryAt(path string) (*Entry, error) {
	var e Entry
	found, err := readJSON(path, &e)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &NotFoundError{Kind: "entry", Path: path}
	}
	return &e, nil
}

// WriteSnapshot 写 checksum 路径和 latest 路径
// checksum 路径已存在且内容相同时跳过，内容不同时报 ErrChecksumConflict
func (s *Store) WriteSnapshot(ctx context.Context, catalog, checksum string, snap *Snapshot) error {
	if err := checkNames(catalog, checksum); err != nil {
		return err
	}
	checksumPath := s.SnapshotPath(catalog, checksum, false)

	var pinned json.RawMessage
	pinnedFound, err := readJSON(checksumPath, &pinned)
	if err != nil {
		return err
	}
	if pinnedFound {
		same, err := canonicalEqual(snap, pinned)
		if err != nil {
			return err
		}
		if !same {
			return fmt.Errorf("%w: %s", ErrChecksumConflict, checksumPath)
		}
		s.logger.Info("snapshot already saved", zap.String("path", checksumPath))
	} else {
		s.logger.Info("save catalog", zap.String("path", checksumPath))
		if err := writeJSON(checksumPath, snap); err != nil {
			return err
		}
	}

	latestPath := s.SnapshotPath(catalog, "", true)
	s.logger.Info("save catalog", zap.String("path", latestPath))
	if err := writeJSON(latestPath, snap); err != nil {
		return err
	}

	if s.recorder != nil {
		if err := s.recorder.RecordSnapshot(ctx, catalog, checksum, snap); err != nil {
			s.logger.Warn("metadata recorder failed", zap.String("catalog", catalog), zap.Error(err))
		}
	}
	return nil
}

// ReadSnapshot 读取 checksum 限定的 snapshot
func (s *Store) ReadSnapshot(catalog, checksum string) (*Snapshot, error) {
	if err := checkNames(catalog, checksum); err != nil {
		return nil, err
	}
	path := s.SnapshotPath(catalog, checksum, false)
	var snap Snapshot
	found, err := readJSON(path, &snap)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &NotFoundError{Kind: "snapshot", Path: path}
	}
	return &snap, nil
}

// LatestSnapshot 读取 catalog 最近一次发布的 snapshot
func (s *Store) LatestSnapshot(catalog string) (*Snapshot, error) {
	if err := checkNames(catalog); err != nil {
		return nil, err
	}
	path := s.SnapshotPath(catalog, "", true)
	var snap Snapshot
	found, err := readJSON(path, &snap)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &NotFoundError{Kind: "snapshot", Path: path}
	}
	return &snap, nil
}

// SameEntry 比较两个条目除 timestamp 以外的所有字段
// 两边都经过 JCS 规范化后逐字节比较
func SameEntry(a, b *Entry) (bool, error) {
	ca, cb := normalize(*a), normalize(*b)
	return canonicalEqual(&ca, &cb)
}

// normalize 清掉 timestamp，并让 nil map 与空 map 等价
func normalize(e Entry) Entry {
	e.Timestamp = 0
	if e.Aspects == nil {
		e.Aspects = map[types.AspectType]types.ArtifactURI{}
	}
	if e.Descriptor == nil {
		e.Descriptor = map[string]any{}
	}
	if len(e.SyncInfo) == 0 {
		e.SyncInfo = nil
	}
	return e
}

func canonicalEqual(a, b any) (bool, error) {
	ja, err := canonical(a)
	if err != nil {
		return false, err
	}
	jb, err := canonical(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ja, jb), nil
}

func canonical(v any) ([]byte, error) {
	raw, ok := v.(json.RawMessage)
	if !ok {
		var err error
		raw, err = json.Marshal(v)
		if err != nil {
			return nil, err
		}
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize document: %w", err)
	}
	return out, nil
}

// Encode 按磁盘格式 (4 空格缩进) 序列化
func Encode(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", jsonIndent)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// readJSON 返回 found=false 表示文件不存在
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("corrupted catalog document %s: %w", path, err)
	}
	return true, nil
}

// writeJSON 先写临时文件再 Rename，读者永远看不到写了一半的文档
func writeJSON(path string, v any) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(documentFileMode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
