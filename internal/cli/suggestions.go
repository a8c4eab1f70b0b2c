package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkgfs-project/pkgfsd/pkg/color"
	"github.com/pkgfs-project/pkgfsd/pkg/config"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
)

// suggestLocations lists the locations configured for a root.
func suggestLocations(cfg *config.Config, root string) string {
	var names []string
	for _, r := range cfg.Roots {
		if root != "" && filepath.Clean(r.Path) != filepath.Clean(root) {
			continue
		}
		for _, v := range r.Volumes {
			t := v.Type
			if t == "" {
				t = string(model.MountTypeCustom)
			}
			names = append(names, fmt.Sprintf("%s (%s)", t, r.Path))
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("No volumes configured. Run %s and add roots to it.", color.Code("pkgfsd config init"))
	}
	return fmt.Sprintf("Configured locations: %s", strings.Join(names, ", "))
}

// formatUnknownLocationError formats an invalid --location value.
func formatUnknownLocationError(s string) string {
	var sb strings.Builder
	sb.WriteString(color.Error(fmt.Sprintf("unknown location '%s'", s)))
	sb.WriteString("\n")
	sb.WriteString(color.Dim("  Valid locations: system, home, custom"))
	return sb.String()
}

// formatDaemonUnreachableError formats a failed connection to the daemon.
func formatDaemonUnreachableError(socket string, err error) string {
	var sb strings.Builder
	sb.WriteString(color.Error(fmt.Sprintf("cannot reach daemon at %s: %v", socket, err)))
	sb.WriteString("\n")
	sb.WriteString(color.Dim(fmt.Sprintf("  Is it running? Start it with %s.", color.Code("pkgfsd serve"))))
	return sb.String()
}
