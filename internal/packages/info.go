// Package packages models package files on disk, the packages built from
// them and the per-volume package registry.
package packages

import (
	"fmt"

	"github.com/pkgfs-project/pkgfsd/pkg/errclass"
	"github.com/pkgfs-project/pkgfsd/pkg/pathutil"
)

// InfoFileName is the archive entry holding the package metadata.
const InfoFileName = ".PackageInfo"

// UpdatePolicy says how a global writable file is merged on upgrade.
type UpdatePolicy string

const (
	// UpdateKeepOld never touches an existing live file.
	UpdateKeepOld UpdatePolicy = "keep-old"
	// UpdateManual replaces unmodified files and reports modified ones.
	UpdateManual UpdatePolicy = "manual"
	// UpdateAutoMerge is treated like manual; merging is left to the admin.
	UpdateAutoMerge UpdatePolicy = "auto-merge"
)

// WritableFile is a global writable file declared by a package. Path is
// relative to the volume root and names the entry inside the archive.
type WritableFile struct {
	Path      string       `toml:"path"`
	Update    UpdatePolicy `toml:"update,omitempty"`
	Directory bool         `toml:"directory,omitempty"`
}

// User is a system user a package needs.
type User struct {
	Name     string   `toml:"name"`
	RealName string   `toml:"real_name,omitempty"`
	Home     string   `toml:"home,omitempty"`
	Shell    string   `toml:"shell,omitempty"`
	Groups   []string `toml:"groups,omitempty"`
}

// Info is the metadata of a package.
type Info struct {
	Name                string         `toml:"name"`
	Version             string         `toml:"version"`
	Summary             string         `toml:"summary,omitempty"`
	SystemPackage       bool           `toml:"system_package,omitempty"`
	Groups              []string       `toml:"groups,omitempty"`
	Users               []User         `toml:"users,omitempty"`
	GlobalWritableFiles []WritableFile `toml:"global_writable_files,omitempty"`
	PreUninstallScripts []string       `toml:"pre_uninstall_scripts,omitempty"`
	PostInstallScripts  []string       `toml:"post_install_scripts,omitempty"`
	Requires            []string       `toml:"requires,omitempty"`
	Provides            []string       `toml:"provides,omitempty"`
}

// Revision identifies one build of a package. It is the value of the
// provenance attribute stored on extracted writable files.
func (i *Info) Revision() string {
	return i.Name + "-" + i.Version
}

// Validate checks declared names and paths.
func (i *Info) Validate() error {
	if err := pathutil.ValidatePackageName(i.Name); err != nil {
		return err
	}
	if i.Version == "" {
		return errclass.ErrBadRequest.WithPackage(i.Name).WithMessagef("missing version")
	}
	for _, wf := range i.GlobalWritableFiles {
		if err := pathutil.ValidateRelativePath(wf.Path); err != nil {
			return errclass.As(err).WithPackage(i.Name)
		}
		switch wf.Update {
		case "", UpdateKeepOld, UpdateManual, UpdateAutoMerge:
		default:
			return errclass.ErrBadRequest.WithPackage(i.Name).
				WithMessagef("unknown update policy %q for %s", wf.Update, wf.Path)
		}
	}
	for _, scripts := range [][]string{i.PreUninstallScripts, i.PostInstallScripts} {
		for _, s := range scripts {
			if err := pathutil.ValidateRelativePath(s); err != nil {
				return errclass.As(err).WithPackage(i.Name)
			}
		}
	}
	for _, u := range i.Users {
		if u.Name == "" {
			return errclass.ErrBadRequest.WithPackage(i.Name).WithMessagef("user without name")
		}
	}
	return nil
}

func (i *Info) String() string {
	return fmt.Sprintf("%s-%s", i.Name, i.Version)
}
