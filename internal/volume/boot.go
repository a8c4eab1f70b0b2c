package volume

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkgfs-project/pkgfsd/internal/commit"
	"github.com/pkgfs-project/pkgfsd/internal/proc"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
)

// runQueuedScripts runs the post-install scripts queued by commits that
// could not reach the kernel. Each script runs once, whatever its outcome.
func (v *Volume) runQueuedScripts(ctx context.Context) {
	dir := filepath.Join(v.adminPath, model.QueuedScriptsDirName)
	names, err := commit.QueuedScripts(dir)
	if err != nil {
		v.log.WarnErr("cannot list queued scripts", err, map[string]any{"dir": dir})
		return
	}
	if len(names) == 0 || v.deps.Launcher == nil {
		return
	}

	for _, name := range names {
		link := filepath.Join(dir, name)
		target, err := os.Readlink(link)
		if err != nil {
			v.log.WarnErr("cannot read queued script", err, map[string]any{"script": name})
			continue
		}
		details := map[string]any{"script": target}
		code, err := v.deps.Launcher.Run(ctx, proc.Command{Path: target, Dir: v.cfg.RootPath})
		switch {
		case err != nil:
			v.log.WarnErr("queued script failed to start", err, map[string]any{"script": target})
			details["error"] = err.Error()
		case code != 0:
			v.log.Warn("queued script failed", map[string]any{"script": target, "exit_code": code})
			details["exit_code"] = code
		default:
			v.log.Info("queued script done", map[string]any{"script": target})
		}
		if err := os.Remove(link); err != nil {
			v.log.WarnErr("cannot remove queued script link", err, map[string]any{"script": name})
		}
		v.record(model.JournalRecord{EventType: model.EventTypeBootScriptRun, Details: details})
	}
}
