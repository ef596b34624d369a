package fetcher

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// WriteFileAtomic writes the bytes produced by write to path. Output goes to
// a temp file in the same directory which is renamed over path only after a
// successful write, sync and close. On any failure the temp file is removed
// and path is left untouched.
func WriteFileAtomic(path string, write func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "atomic: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return eris.Wrapf(err, "atomic: create temp for %s", path)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err = write(tmp); err != nil {
		return eris.Wrapf(err, "atomic: write %s", path)
	}
	if err = tmp.Sync(); err != nil {
		return eris.Wrapf(err, "atomic: sync %s", path)
	}
	if err = tmp.Close(); err != nil {
		return eris.Wrapf(err, "atomic: close %s", path)
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return eris.Wrapf(err, "atomic: chmod %s", path)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return eris.Wrapf(err, "atomic: rename into %s", path)
	}
	return nil
}

// WriteBytesAtomic is WriteFileAtomic for an in-memory payload.
func WriteBytesAtomic(path string, data []byte) error {
	return WriteFileAtomic(path, func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(data))
		return err
	})
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
