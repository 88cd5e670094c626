// Package fileutil holds small file helpers shared by staging and transforms.
package fileutil

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrTooLarge is returned by CopyLimited when the source exceeds the limit.
var ErrTooLarge = errors.New("file exceeds size limit")

// CopyFile streams src to dst using io.Copy with default permissions (0o644).
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// CopyLimited streams r into w and fails with ErrTooLarge once more than
// limit bytes were read. A limit <= 0 disables the check.
func CopyLimited(w io.Writer, r io.Reader, limit int64) (int64, error) {
	if limit <= 0 {
		return io.Copy(w, r)
	}
	written, err := io.Copy(w, io.LimitReader(r, limit+1))
	if err != nil {
		return written, err
	}
	if written > limit {
		return written, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return written, nil
}

// CreateUnique creates name inside dir without overwriting an existing file.
// Collisions get a numeric suffix before the extension: a.pdf, a-1.pdf, a-2.pdf.
func CreateUnique(dir, name string) (*os.File, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = stem + "-" + strconv.Itoa(i) + ext
		}
		file, err := os.OpenFile(filepath.Join(dir, candidate), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return file, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("create %s in %s: too many name collisions", name, dir)
}

// ZipEntry is one file to place in an archive.
type ZipEntry struct {
	Path string
	Name string
}

// WriteZip bundles entries into a new archive at dst. Duplicate names inside
// the archive get the same numeric suffix scheme as CreateUnique.
func WriteZip(dst string, entries []ZipEntry) (err error) {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	zw := zip.NewWriter(out)
	used := make(map[string]int, len(entries))
	for _, entry := range entries {
		name := uniqueName(used, entry.Name)
		if err := addZipFile(zw, entry.Path, name); err != nil {
			_ = zw.Close()
			return fmt.Errorf("add %s to archive: %w", entry.Name, err)
		}
	}
	return zw.Close()
}

func addZipFile(zw *zip.Writer, path, name string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

func uniqueName(used map[string]int, name string) string {
	n, seen := used[name]
	used[name] = n + 1
	if !seen {
		return name
	}
	ext := filepath.Ext(name)
	candidate := strings.TrimSuffix(name, ext) + "-" + strconv.Itoa(n) + ext
	return uniqueName(used, candidate)
}

// NonEmpty reports whether path is a regular file with content.
func NonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
