package util

import (
	"archive/zip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	return false, err
}

// ArchiveFiles zips the given files (paths relative to baseDir) into
// archivePath, preserving the relative layout inside the archive.
func ArchiveFiles(baseDir, archivePath string, relPaths []string) error {
	if err := os.MkdirAll(filepath.Dir(archivePath), os.ModePerm); err != nil {
		return err
	}
	archive, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer archive.Close()

	zw := zip.NewWriter(archive)
	for _, rel := range relPaths {
		if err := copyToArchive(zw, baseDir, rel); err != nil {
			return err
		}
	}

	return zw.Close()
}

func copyToArchive(zw *zip.Writer, baseDir, rel string) error {
	f, err := os.Open(filepath.Join(baseDir, rel))
	if err != nil {
		return err
	}
	defer f.Close()

	zf, err := zw.Create(filepath.ToSlash(rel))
	if err != nil {
		return err
	}

	if _, err := io.Copy(zf, f); err != nil {
		return err
	}
	return nil
}

// CopyFile copies a single file, creating destination directories as needed.
func CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), os.ModePerm); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// CopyTree copies every regular file under src into dst.
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		return CopyFile(path, filepath.Join(dst, rel))
	})
}
