package volume

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkgfs-project/pkgfsd/internal/packages"
	"github.com/pkgfs-project/pkgfsd/pkg/errclass"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
)

const maxTransactionAttempts = 1000

// LocationInfo describes the volume. The answer is cached until the
// change count advances.
func (v *Volume) LocationInfo() (model.LocationInfo, error) {
	v.stateMu.RLock()
	if v.latest == nil {
		v.stateMu.RUnlock()
		return model.LocationInfo{}, errclass.ErrInternal.WithMessagef("volume %s not initialized", v.cfg.Location)
	}
	if info := v.info; info != nil && info.ChangeCount == v.changeCount {
		v.stateMu.RUnlock()
		return *info, nil
	}
	v.stateMu.RUnlock()

	v.stateMu.Lock()
	defer v.stateMu.Unlock()
	if v.info == nil || v.info.ChangeCount != v.changeCount {
		v.info = v.buildInfoLocked()
	}
	return *v.info, nil
}

func (v *Volume) buildInfoLocked() *model.LocationInfo {
	info := &model.LocationInfo{
		Location:          v.cfg.Location,
		BaseDirectory:     v.rootNode,
		PackagesDirectory: v.packagesNode,
		ChangeCount:       v.changeCount,
		OldStateName:      v.cfg.OldState,
	}
	info.ActivePackages, info.InactivePackages = split(v.active)
	if v.active != v.latest {
		info.LatestActivePackages, info.LatestInactivePackages = split(v.latest)
	}
	return info
}

func split(state *packages.VolumeState) (active, inactive []model.PackageInfo) {
	active = []model.PackageInfo{}
	inactive = []model.PackageInfo{}
	for _, p := range state.Packages() {
		if p.Active() {
			active = append(active, p.ToModel())
		} else {
			inactive = append(inactive, p.ToModel())
		}
	}
	return active, inactive
}

// CreateTransaction allocates a fresh transaction directory under the
// administrative directory.
func (v *Volume) CreateTransaction() (model.CreateTransactionResult, error) {
	count := v.ChangeCount()
	for i := 0; i < maxTransactionAttempts; i++ {
		name := fmt.Sprintf("%s%d", model.TransactionDirPrefix, v.txSeq.Add(1))
		path := filepath.Join(v.adminPath, name)
		err := os.Mkdir(path, 0755)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return model.CreateTransactionResult{}, errclass.ErrFailedToCreateDirectory.WithPaths(path).WithSystemError(err)
		}
		v.log.Debug("transaction directory created", map[string]any{"dir": name})
		return model.CreateTransactionResult{
			Location:             v.cfg.Location,
			ChangeCount:          count,
			TransactionDirectory: name,
			TransactionPath:      path,
		}, nil
	}
	return model.CreateTransactionResult{}, errclass.ErrFailedToCreateDirectory.WithPaths(v.adminPath).
		WithMessagef("no free transaction directory name")
}

// ActiveInfos returns the metadata of the latest state's active packages.
func (v *Volume) ActiveInfos() []*packages.Info {
	v.stateMu.RLock()
	defer v.stateMu.RUnlock()
	if v.latest == nil {
		return nil
	}
	var infos []*packages.Info
	for _, p := range v.latest.Packages() {
		if p.Active() {
			infos = append(infos, p.Info())
		}
	}
	return infos
}
