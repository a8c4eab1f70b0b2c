// Package packagetest writes package archives for tests.
package packagetest

import (
	"archive/tar"
	"os"
	"path"
	"sort"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkgfs-project/pkgfsd/internal/packages"
)

// Entry is one archive member. Exactly one of Content, Link or Dir is
// meaningful.
type Entry struct {
	Content string
	Link    string
	Dir     bool
	Mode    int64
}

// Write creates a package archive at p with info as its metadata and the
// given entries keyed by archive path.
func Write(p string, info packages.Info, entries map[string]Entry) error {
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	meta, err := toml.Marshal(info)
	if err != nil {
		return err
	}
	if err := writeFile(tw, packages.InfoFileName, string(meta), 0644); err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	written := make(map[string]bool)
	var mkdirs func(dir string) error
	mkdirs = func(dir string) error {
		if dir == "." || dir == "/" || written[dir] {
			return nil
		}
		if err := mkdirs(path.Dir(dir)); err != nil {
			return err
		}
		written[dir] = true
		return tw.WriteHeader(&tar.Header{Name: dir + "/", Typeflag: tar.TypeDir, Mode: 0755})
	}

	for _, name := range names {
		e := entries[name]
		if err := mkdirs(path.Dir(name)); err != nil {
			return err
		}
		mode := e.Mode
		switch {
		case e.Dir:
			if mode == 0 {
				mode = 0755
			}
			written[name] = true
			err = tw.WriteHeader(&tar.Header{Name: name + "/", Typeflag: tar.TypeDir, Mode: mode})
		case e.Link != "":
			err = tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeSymlink, Linkname: e.Link, Mode: 0777})
		default:
			if mode == 0 {
				mode = 0644
			}
			err = writeFile(tw, name, e.Content, mode)
		}
		if err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func writeFile(tw *tar.Writer, name, content string, mode int64) error {
	hdr := &tar.Header{
		Name:     name,
		Typeflag: tar.TypeReg,
		Mode:     mode,
		Size:     int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write([]byte(content))
	return err
}

// Simple writes a package with only metadata.
func Simple(p, name, version string) error {
	return Write(p, packages.Info{Name: name, Version: version}, nil)
}
