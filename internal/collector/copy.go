package collector

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// CopyFiles applies a manifest copy map. Sources are relative to base and
// destinations relative to outDir; a directory source is copied recursively.
// It returns the written destination paths and every failure.
func CopyFiles(base string, entries map[string]string, outDir string) ([]string, error) {
	sources := make([]string, 0, len(entries))
	for src := range entries {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	var (
		written []string
		errs    []error
	)
	for _, src := range sources {
		from := filepath.FromSlash(src)
		if !filepath.IsAbs(from) {
			from = filepath.Join(base, from)
		}
		to := filepath.Join(outDir, filepath.FromSlash(entries[src]))

		paths, err := copyPath(from, to)
		written = append(written, paths...)
		if err != nil {
			errs = append(errs, fmt.Errorf("copy %s -> %s: %w", src, entries[src], err))
		}
	}
	return written, errors.Join(errs...)
}

func copyPath(from, to string) ([]string, error) {
	info, err := os.Stat(from)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if _, err := copyFile(from, to); err != nil {
			return nil, err
		}
		return []string{to}, nil
	}

	var written []string
	err = filepath.WalkDir(from, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(from, p)
		if err != nil {
			return err
		}
		dst := filepath.Join(to, rel)
		if d.IsDir() {
			return os.MkdirAll(dst, 0o755)
		}
		if _, err := copyFile(p, dst); err != nil {
			return err
		}
		written = append(written, dst)
		return nil
	})
	return written, err
}

// copyFile copies src to dst with src's permissions, creating parent
// directories, and returns the number of bytes written.
func copyFile(src, dst string) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, err
	}
	return n, out.Close()
}
