package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// Ext 是所有归档文件统一的后缀
const Ext = ".tgz"

// epoch 固定所有条目的修改时间，保证同一棵树总是得到相同的归档字节
var epoch = time.Unix(0, 0).UTC()

// BuildError 表示打包失败
// Entry 是出错的具体条目 (如果能定位到)
type BuildError struct {
	Source string
	Entry  string
	Err    error
}

func (e *BuildError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("archive %s: entry %s: %v", e.Source, e.Entry, e.Err)
	}
	return fmt.Sprintf("archive %s: %v", e.Source, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Builder 把一个目录打包成 tar.gz
type Builder struct {
	logger *zap.Logger
	level  int
}

func NewBuilder(logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{logger: logger, level: gzip.DefaultCompression}
}

// Build 将 src 打包到 dst
// 1. 归档以 src 的目录名为根 (解压不会泄露绝对路径)
// 2. 符号链接被解引用，存的是目标文件的内容
// 3. dst 上已有的旧文件先删除，从不追加
func (b *Builder) Build(ctx context.Context, src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return &BuildError{Source: src, Err: err}
	}
	if !info.IsDir() {
		return &BuildError{Source: src, Err: errors.New("source is not a directory")}
	}

	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &BuildError{Source: src, Err: fmt.Errorf("remove stale archive: %w", err)}
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &BuildError{Source: src, Err: err}
	}

	// 原子写入：先写临时文件，最后 Rename
	tempFile, err := os.CreateTemp(dir, ".archive-*")
	if err != nil {
		return &BuildError{Source: src, Err: err}
	}
	defer os.Remove(tempFile.Name())

	if err := b.write(ctx, tempFile, src); err != nil {
		tempFile.Close()
		return err
	}
	if err := tempFile.Close(); err != nil {
		return &BuildError{Source: src, Err: err}
	}

	if err := os.Rename(tempFile.Name(), dst); err != nil {
		return &BuildError{Source: src, Err: err}
	}

	b.logger.Debug("archive created", zap.String("source", src), zap.String("archive", dst))
	return nil
}

func (b *Builder) write(ctx context.Context, w io.Writer, src string) error {
	gz, err := gzip.NewWriterLevel(w, b.level)
	if err != nil {
		return &BuildError{Source: src, Err: err}
	}
	// gzip 头里也不能带时间和文件名
	gz.ModTime = epoch
	gz.Name = ""

	tw := tar.NewWriter(gz)

	rootName := filepath.Base(src)
	if err := b.addDir(ctx, tw, src, src, rootName, map[string]bool{}); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return &BuildError{Source: src, Err: err}
	}
	if err := gz.Close(); err != nil {
		return &BuildError{Source: src, Err: err}
	}
	return nil
}

// addDir 递归写入目录；name 是归档内的路径 (始终使用 / 分隔)
func (b *Builder) addDir(ctx context.Context, tw *tar.Writer, src, dir, name string, ancestors map[string]bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return &BuildError{Source: src, Entry: name, Err: err}
	}
	if ancestors[realDir] {
		return &BuildError{Source: src, Entry: name, Err: errors.New("symlink cycle detected")}
	}
	ancestors[realDir] = true
	defer delete(ancestors, realDir)

	info, err := os.Stat(dir)
	if err != nil {
		return &BuildError{Source: src, Entry: name, Err: err}
	}
	if err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     name + "/",
		Mode:     int64(info.Mode().Perm()),
		ModTime:  epoch,
		Format:   tar.FormatPAX,
	}); err != nil {
		return &BuildError{Source: src, Entry: name, Err: err}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return &BuildError{Source: src, Entry: name, Err: err}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		childPath := filepath.Join(dir, entry.Name())
		childName := path.Join(name, entry.Name())

		// --dereference: 以链接目标为准
		childInfo, err := os.Stat(childPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				b.logger.Warn("skipping broken symlink", zap.String("path", childPath))
				continue
			}
			return &BuildError{Source: src, Entry: childName, Err: err}
		}

		switch {
		case childInfo.IsDir():
			if err := b.addDir(ctx, tw, src, childPath, childName, ancestors); err != nil {
				return err
			}
		case childInfo.Mode().IsRegular():
			if err := addFile(tw, childPath, childName, childInfo); err != nil {
				return &BuildError{Source: src, Entry: childName, Err: err}
			}
		default:
			b.logger.Warn("skipping unsupported file type",
				zap.String("path", childPath),
				zap.String("mode", childInfo.Mode().String()),
			)
		}
	}
	return nil
}

func addFile(tw *tar.Writer, path, name string, info fs.FileInfo) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     int64(info.Mode().Perm()),
		Size:     info.Size(),
		ModTime:  epoch,
		Format:   tar.FormatPAX,
	}); err != nil {
		return err
	}

	// 文件在打包过程中被截断/追加时，tar.Writer 会报错，不会产出损坏的归档
	if _, err := io.Copy(tw, f); err != nil {
		return err
	}
	return nil
}
