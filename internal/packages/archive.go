package packages

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Parser reads package metadata from a package file.
type Parser interface {
	Parse(path string) (*Info, error)
}

// ArchiveParser reads packages stored as tar archives, optionally gzip
// compressed, carrying their metadata as a TOML InfoFileName entry.
type ArchiveParser struct{}

// Parse implements Parser.
func (ArchiveParser) Parse(p string) (*Info, error) {
	var info *Info
	err := walkArchive(p, func(name string, hdr *tar.Header, r io.Reader) (bool, error) {
		if name != InfoFileName {
			return false, nil
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return true, fmt.Errorf("read %s: %w", InfoFileName, err)
		}
		var i Info
		if err := toml.Unmarshal(data, &i); err != nil {
			return true, fmt.Errorf("decode %s: %w", InfoFileName, err)
		}
		info = &i
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("%s: no %s entry", p, InfoFileName)
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	return info, nil
}

// walkArchive calls fn for each entry with its cleaned, slash-separated
// name. fn returns true to stop the walk.
func walkArchive(p string, fn func(name string, hdr *tar.Header, r io.Reader) (bool, error)) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive %s: %w", p, err)
		}
		name := path.Clean(strings.TrimPrefix(hdr.Name, "./"))
		if name == "." || name == ".." || strings.HasPrefix(name, "../") || path.IsAbs(name) {
			continue
		}
		stop, err := fn(name, hdr, tr)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// Extract copies the archive entries named by paths, and everything below
// them, into dest. Missing parent directories are created.
func Extract(pkgPath string, paths []string, dest string) error {
	wanted := make([]string, 0, len(paths))
	for _, p := range paths {
		wanted = append(wanted, path.Clean(filepath.ToSlash(p)))
	}
	matches := func(name string) bool {
		for _, w := range wanted {
			if name == w || strings.HasPrefix(name, w+"/") {
				return true
			}
		}
		return false
	}

	return walkArchive(pkgPath, func(name string, hdr *tar.Header, r io.Reader) (bool, error) {
		if !matches(name) {
			return false, nil
		}
		target := filepath.Join(dest, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return true, err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()|0700); err != nil {
				return true, err
			}
		case tar.TypeSymlink:
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return true, err
			}
		case tar.TypeReg:
			if err := writeEntry(target, r, os.FileMode(hdr.Mode).Perm()); err != nil {
				return true, err
			}
		default:
			return true, fmt.Errorf("unsupported archive entry type %q for %s", hdr.Typeflag, name)
		}
		return false, nil
	})
}

func writeEntry(target string, r io.Reader, perm os.FileMode) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
