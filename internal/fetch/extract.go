package fetch

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/ulikunitz/xz"
)

// Format 资产格式
type Format string

const (
	FormatZip   Format = "zip"
	FormatTarGz Format = "tar.gz"
	FormatTarXz Format = "tar.xz"
	FormatXz    Format = "xz"
	FormatGz    Format = "gz"
	FormatRaw   Format = "raw" // jar 或单个可执行文件，原样放置
)

// IsArchive 是否为包含目录结构的归档
func (f Format) IsArchive() bool {
	return f == FormatZip || f == FormatTarGz || f == FormatTarXz
}

// DetectFormat 根据资产名推断格式
func DetectFormat(name string) Format {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return FormatTarXz
	case strings.HasSuffix(lower, ".xz"):
		return FormatXz
	case strings.HasSuffix(lower, ".gz"):
		return FormatGz
	default:
		return FormatRaw
	}
}

// singleFileName 单文件资产解压后的文件名
func singleFileName(assetName, binary string) string {
	if binary != "" {
		return binary
	}
	for _, ext := range []string{".xz", ".gz"} {
		if strings.HasSuffix(strings.ToLower(assetName), ext) {
			return assetName[:len(assetName)-len(ext)]
		}
	}
	return assetName
}

// extract 把下载的资产展开到 dest
func extract(src, dest, assetName, binary string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	switch DetectFormat(assetName) {
	case FormatZip:
		return extractZip(src, dest)
	case FormatTarGz:
		return withFile(src, func(r io.Reader) error {
			gz, err := gzip.NewReader(r)
			if err != nil {
				return err
			}
			defer gz.Close()
			return extractTar(gz, dest)
		})
	case FormatTarXz:
		return withFile(src, func(r io.Reader) error {
			xr, err := xz.NewReader(r)
			if err != nil {
				return err
			}
			return extractTar(xr, dest)
		})
	case FormatXz:
		return withFile(src, func(r io.Reader) error {
			xr, err := xz.NewReader(r)
			if err != nil {
				return err
			}
			return writeFile(filepath.Join(dest, singleFileName(assetName, binary)), xr, 0o644)
		})
	case FormatGz:
		return withFile(src, func(r io.Reader) error {
			gz, err := gzip.NewReader(r)
			if err != nil {
				return err
			}
			defer gz.Close()
			return writeFile(filepath.Join(dest, singleFileName(assetName, binary)), gz, 0o644)
		})
	default:
		return withFile(src, func(r io.Reader) error {
			return writeFile(filepath.Join(dest, singleFileName(assetName, binary)), r, 0o644)
		})
	}
}

func withFile(path string, fn func(r io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(f)
}

func extractZip(src, dest string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if f.Mode()&os.ModeSymlink != 0 {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = writeFile(target, rc, f.Mode().Perm()|0o600)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, os.FileMode(hdr.Mode).Perm()|0o600); err != nil {
				return err
			}
		default:
			// 链接和设备文件不展开
		}
	}
}

// safeJoin 拒绝逃逸出目标目录的条目
func safeJoin(root, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return filepath.Join(root, cleaned), nil
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// flatten 归档只有一个顶层目录时把其内容提升一级
func flatten(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}

	inner := filepath.Join(dir, entries[0].Name())
	children, err := os.ReadDir(inner)
	if err != nil {
		return err
	}
	// 子项可能与顶层目录同名，先挪开
	tmp := filepath.Join(dir, ".flatten-"+entries[0].Name())
	if err := os.Rename(inner, tmp); err != nil {
		return err
	}
	for _, c := range children {
		if err := os.Rename(filepath.Join(tmp, c.Name()), filepath.Join(dir, c.Name())); err != nil {
			return err
		}
	}
	return os.Remove(tmp)
}
