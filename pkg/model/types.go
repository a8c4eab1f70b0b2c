package model

import "fmt"

// NodeRef identifies a filesystem object by device and node number.
type NodeRef struct {
	Device uint64 `json:"device"`
	Node   uint64 `json:"node"`
}

func (r NodeRef) String() string {
	return fmt.Sprintf("%d:%d", r.Device, r.Node)
}

// IsZero reports whether r has not been resolved.
func (r NodeRef) IsZero() bool {
	return r.Device == 0 && r.Node == 0
}

// MountType classifies a package volume.
type MountType string

const (
	MountTypeSystem MountType = "system"
	MountTypeHome   MountType = "home"
	MountTypeCustom MountType = "custom"
)

// ParseMountType maps a config string to a MountType; empty means custom.
func ParseMountType(s string) (MountType, error) {
	switch MountType(s) {
	case MountTypeSystem, MountTypeHome, MountTypeCustom:
		return MountType(s), nil
	case "":
		return MountTypeCustom, nil
	}
	return "", fmt.Errorf("unknown mount type %q", s)
}

// On-disk layout of a packages directory.
const (
	PackageFileExtension   = ".hpkg"
	AdminDirName           = "administrative"
	ActivationFileName     = "activated-packages"
	TempActivationFileName = "activated-packages.tmp"
	WritableFilesDirName   = "writable-files"
	QueuedScriptsDirName   = "queued-scripts"
	TransactionDirPrefix   = "transaction-"
	JournalFileName        = "journal.jsonl"
	LockFileName           = ".lock"
	PackageAttributeName   = "user.pkgfs.package"
	DefaultPackagesDirName = "packages"
	StateDirPrefix         = "state_"
	StateDirTimeLayout     = "2006-01-02_15:04:05"
)
