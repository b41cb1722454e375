// Package archive packs a session directory into a single zip file.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"whatsapp-pair-server/types"
)

// SQLite rebuilds its shared-memory index on open; a copy of a live one is
// never useful and may be torn.
const sqliteSHMSuffix = "-shm"

// Pack writes every regular file under src, except SQLite -shm files, into a
// zip archive at dst.
// The archive is assembled in a temporary file in dst's directory and renamed
// into place, so readers of dst only ever see a complete archive.
func Pack(src, dst string) (err error) {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("archive: stat %s: %w: %w", src, types.ErrIO, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("archive: %s is not a directory: %w", src, types.ErrIO)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("archive: create temp: %w: %w", types.ErrIO, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = writeZip(tmp, src); err != nil {
		return fmt.Errorf("archive: pack %s: %w: %w", src, types.ErrIO, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("archive: sync: %w: %w", types.ErrIO, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("archive: close: %w: %w", types.ErrIO, err)
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("archive: rename to %s: %w: %w", dst, types.ErrIO, err)
	}
	return nil
}

func writeZip(w io.Writer, src string) error {
	zw := zip.NewWriter(w)

	// WalkDir visits entries in lexical order, which keeps repacks of the same
	// tree byte-for-byte comparable apart from timestamps.
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.HasSuffix(d.Name(), sqliteSHMSuffix) {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		hdr.Method = zip.Deflate

		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(fw, f)
		return err
	})
	if err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}
