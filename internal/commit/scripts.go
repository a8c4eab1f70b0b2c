package commit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkgfs-project/pkgfsd/internal/proc"
	"github.com/pkgfs-project/pkgfsd/pkg/errclass"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
)

// runPreUninstallScripts runs the pre-uninstall scripts of deactivated
// packages in request order. Packages already gone from disk are skipped.
func (h *Handler) runPreUninstallScripts(ctx context.Context) error {
	if h.preRemoved {
		return nil
	}
	for _, m := range h.removed {
		for _, script := range m.pkg.Info().PreUninstallScripts {
			path := filepath.Join(h.vol.RootPath, script)
			if _, err := os.Stat(path); err != nil {
				h.addIssue(model.Issue{
					Kind: model.IssuePreUninstallScriptNotFound, Package: m.pkg.FileName(),
					Path1: path, SystemError: err.Error(),
				})
				continue
			}
			code, err := h.deps.Launcher.Run(ctx, proc.Command{Path: path, Dir: h.vol.RootPath})
			if err != nil {
				return errclass.ErrFailedToStartPreUninstallScript.WithPackage(m.pkg.FileName()).
					WithPaths(path).WithSystemError(err)
			}
			if code != 0 {
				h.addIssue(model.Issue{
					Kind: model.IssuePreUninstallScriptFailed, Package: m.pkg.FileName(),
					Path1: path, ExitCode: code,
				})
			}
		}
	}
	return nil
}

// runPostInstallScripts runs the post-install scripts of activated
// packages when live, and queues them for the next boot otherwise. The
// activation change is final at this point, so failures are issues.
func (h *Handler) runPostInstallScripts(ctx context.Context) {
	for _, m := range h.added {
		for _, script := range m.pkg.Info().PostInstallScripts {
			path := filepath.Join(h.vol.RootPath, script)
			if !h.live {
				if err := h.queueScript(m.pkg.Name(), path); err != nil {
					h.addIssue(model.Issue{
						Kind: model.IssueStartingScriptFailed, Package: m.pkg.FileName(),
						Path1: path, SystemError: err.Error(),
					})
				}
				continue
			}
			if _, err := os.Stat(path); err != nil {
				h.addIssue(model.Issue{
					Kind: model.IssuePostInstallScriptNotFound, Package: m.pkg.FileName(),
					Path1: path, SystemError: err.Error(),
				})
				continue
			}
			code, err := h.deps.Launcher.Run(ctx, proc.Command{Path: path, Dir: h.vol.RootPath})
			switch {
			case err != nil:
				h.addIssue(model.Issue{
					Kind: model.IssueStartingScriptFailed, Package: m.pkg.FileName(),
					Path1: path, SystemError: err.Error(),
				})
			case code != 0:
				h.addIssue(model.Issue{
					Kind: model.IssuePostInstallScriptFailed, Package: m.pkg.FileName(),
					Path1: path, ExitCode: code,
				})
			}
		}
	}
}

// queueScript links a script into the queued scripts directory. Link
// names carry a sequence number so they sort in queueing order.
func (h *Handler) queueScript(pkgName, path string) error {
	dir := filepath.Join(h.vol.AdminPath, model.QueuedScriptsDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	names, err := QueuedScripts(dir)
	if err != nil {
		return err
	}
	next := 1
	if n := len(names); n > 0 {
		if seq, err := strconv.Atoi(strings.SplitN(names[n-1], "_", 2)[0]); err == nil {
			next = seq + 1
		}
	}
	link := filepath.Join(dir, fmt.Sprintf("%06d_%s_%s", next, pkgName, filepath.Base(path)))
	return os.Symlink(path, link)
}

// QueuedScripts lists the queued script links in dir in execution order.
func QueuedScripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type()&os.ModeSymlink != 0 {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
