package staging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/ulikunitz/xz"
)

// CopyFile copies src to dst, keeping the permission bits.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, info.Mode().Perm())
}

// CopyDir recursively copies src into dst. Symlinks are recreated, not followed.
func CopyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		switch {
		case entry.Type()&os.ModeSymlink != 0:
			target, err := os.Readlink(srcPath)
			if err != nil {
				return err
			}
			_ = os.Remove(dstPath)
			if err := os.Symlink(target, dstPath); err != nil {
				return err
			}
		case entry.IsDir():
			if err := CopyDir(srcPath, dstPath); err != nil {
				return err
			}
		default:
			if err := CopyFile(srcPath, dstPath); err != nil {
				return err
			}
		}
	}
	return nil
}

// CompressLog writes path.xz and removes path.
func CompressLog(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	destPath := path + ".xz"
	dest, err := os.Create(destPath)
	if err != nil {
		return "", err
	}

	w, err := xz.NewWriter(dest)
	if err != nil {
		dest.Close()
		return "", err
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		dest.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		dest.Close()
		return "", err
	}
	if err := dest.Close(); err != nil {
		return "", err
	}
	src.Close()
	return destPath, os.Remove(path)
}
