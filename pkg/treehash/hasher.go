package treehash

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"artcat/pkg/types"

	"go.uber.org/zap"
)

// BrokenLinkDigest 是目标不存在的符号链接的占位摘要
// 固定值，保证相同的“坏链接”在任何机器上都得到相同的结果
var BrokenLinkDigest = CalculateBlobHash([]byte("broken-symlink"))

// IOError 表示目录无法读取 (权限、路径不存在等)
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("tree hash: %s: %v", e.Path, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// Hasher 计算目录树的确定性摘要，作为下游缓存的 Key
type Hasher struct {
	logger *zap.Logger
}

func NewHasher(logger *zap.Logger) *Hasher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hasher{logger: logger}
}

// Digest 递归计算 root 的摘要
// 结果只取决于相对文件名、嵌套结构和文件字节，与文件系统的列举顺序无关
func (h *Hasher) Digest(ctx context.Context, root string) (types.Hash, error) {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", &IOError{Path: root, Err: err}
	}
	return h.digestDir(ctx, realRoot, map[string]bool{})
}

// digestDir 是核心算法：自底向上计算 (与 Merkle Tree 的构建方式相同)
// ancestors 记录当前递归路径上的真实目录，防止符号链接成环
func (h *Hasher) digestDir(ctx context.Context, dir string, ancestors map[string]bool) (types.Hash, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if ancestors[dir] {
		return "", &IOError{Path: dir, Err: errors.New("symlink cycle detected")}
	}
	ancestors[dir] = true
	defer delete(ancestors, dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", &IOError{Path: dir, Err: err}
	}

	// 为了保证 Hash 的确定性，必须按文件名排序处理
	// os.ReadDir 已经排过序，这里显式再排一次，不依赖实现细节
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	sum := sha256.New()
	for _, entry := range entries {
		childPath := filepath.Join(dir, entry.Name())

		kind, childDigest, err := h.digestEntry(ctx, childPath, ancestors)
		if err != nil {
			return "", err
		}
		if kind == 0 {
			continue
		}

		// kind name \x00 digest \n
		sum.Write([]byte{kind})
		io.WriteString(sum, entry.Name())
		sum.Write([]byte{0})
		io.WriteString(sum, string(childDigest))
		sum.Write([]byte{'\n'})
	}

	return types.Hash(hex.EncodeToString(sum.Sum(nil))), nil
}

// 条目类型标记，写在每条记录最前面
// 空文件和空目录的摘要相同，只能靠类型区分
const (
	kindDir    byte = 'd'
	kindFile   byte = 'f'
	kindBroken byte = 'l'
)

// digestEntry 返回单个条目的类型和摘要；kind=0 表示该条目被跳过
func (h *Hasher) digestEntry(ctx context.Context, path string, ancestors map[string]bool) (byte, types.Hash, error) {
	// os.Stat 会跟随符号链接
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if _, lerr := os.Lstat(path); lerr == nil {
				h.logger.Debug("broken symlink, using sentinel digest", zap.String("path", path))
				return kindBroken, BrokenLinkDigest, nil
			}
		}
		return 0, "", &IOError{Path: path, Err: err}
	}

	switch {
	case info.IsDir():
		realDir, err := filepath.EvalSymlinks(path)
		if err != nil {
			return 0, "", &IOError{Path: path, Err: err}
		}
		d, err := h.digestDir(ctx, realDir, ancestors)
		if err != nil {
			return 0, "", err
		}
		return kindDir, d, nil
	case info.Mode().IsRegular():
		d, err := hashFile(path)
		if err != nil {
			return 0, "", &IOError{Path: path, Err: err}
		}
		return kindFile, d, nil
	default:
		h.logger.Warn("skipping unsupported file type",
			zap.String("path", path),
			zap.String("mode", info.Mode().String()),
		)
		return 0, "", nil
	}
}

// hashFile 流式计算文件内容的 SHA-256，避免一次性读进内存
func hashFile(path string) (types.Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sum := sha256.New()
	if _, err := io.Copy(sum, f); err != nil {
		return "", err
	}
	return types.Hash(hex.EncodeToString(sum.Sum(nil))), nil
}

// CalculateBlobHash 计算原始数据的 Hash
func CalculateBlobHash(data []byte) types.Hash {
	hashBytes := sha256.Sum256(data)
	return types.Hash(hex.EncodeToString(hashBytes[:]))
}
