package packages

import "github.com/pkgfs-project/pkgfsd/pkg/model"

// Package is a package file as seen by one VolumeState.
type Package struct {
	file   *File
	active bool
}

// NewPackage wraps f, taking over the caller's reference.
func NewPackage(f *File) *Package {
	return &Package{file: f}
}

// Clone returns a second Package sharing the same file.
func (p *Package) Clone() *Package {
	p.file.Acquire()
	return &Package{file: p.file, active: p.active}
}

// Release drops the package's file reference.
func (p *Package) Release() {
	p.file.Release()
}

func (p *Package) File() *File { return p.file }
func (p *Package) Info() *Info { return p.file.Info() }
func (p *Package) Name() string { return p.file.Info().Name }
func (p *Package) Version() string { return p.file.Info().Version }
func (p *Package) FileName() string { return p.file.Name() }
func (p *Package) Entry() model.NodeRef { return p.file.Entry() }
func (p *Package) Active() bool { return p.active }
func (p *Package) SetActive(active bool) { p.active = active }
func (p *Package) IsSystemPackage() bool { return p.file.Info().SystemPackage }
func (p *Package) Directory() model.NodeRef { return p.file.ID().Directory }

// ToModel converts the package to its wire form.
func (p *Package) ToModel() model.PackageInfo {
	info := p.file.Info()
	return model.PackageInfo{
		FileName: p.FileName(),
		Name:     info.Name,
		Version:  info.Version,
		Summary:  info.Summary,
		Active:   p.active,
		Entry:    p.Entry(),
		Requires: info.Requires,
		Provides: info.Provides,
	}
}
