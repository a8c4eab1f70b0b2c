package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkgfs-project/pkgfsd/pkg/color"
	"github.com/pkgfs-project/pkgfsd/pkg/config"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
	"github.com/pkgfs-project/pkgfsd/pkg/pkgfsd"
)

// resolvedConfigPath returns --config or the XDG default.
func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

// requireConfig loads the configuration, or exits with error.
func requireConfig() *config.Config {
	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		fmtErr("load config: %v", err)
		os.Exit(1)
	}
	if socketPath != "" {
		cfg.Socket = socketPath
	}
	return cfg
}

// requireClient connects to the daemon, or exits with error.
func requireClient(cfg *config.Config) *pkgfsd.Client {
	client, err := pkgfsd.Connect(cfg.Socket, pkgfsd.Options{Root: rootPath})
	if err != nil {
		fmt.Fprintln(os.Stderr, formatDaemonUnreachableError(cfg.Socket, err))
		os.Exit(1)
	}
	return client
}

func parseLocation(s string) (model.MountType, error) {
	switch loc := model.MountType(s); loc {
	case model.MountTypeSystem, model.MountTypeHome, model.MountTypeCustom:
		return loc, nil
	}
	return "", fmt.Errorf("unknown location %q", s)
}

// requireLocation parses a location flag, or exits with error.
func requireLocation(s string) model.MountType {
	loc, err := parseLocation(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, formatUnknownLocationError(s))
		os.Exit(1)
	}
	return loc
}

// findVolume returns the configured volume of loc in the selected root.
// An empty root selects the first root holding a system volume.
func findVolume(cfg *config.Config, root string, loc model.MountType) (config.VolumeConfig, error) {
	var candidates []config.RootConfig
	if root == "" {
		for _, r := range cfg.Roots {
			for _, v := range r.Volumes {
				if v.Type == string(model.MountTypeSystem) {
					candidates = append(candidates, r)
				}
			}
		}
		if len(candidates) == 0 && len(cfg.Roots) > 0 {
			candidates = cfg.Roots[:1]
		}
	} else {
		for _, r := range cfg.Roots {
			if filepath.Clean(r.Path) == filepath.Clean(root) {
				candidates = append(candidates, r)
			}
		}
	}
	if len(candidates) == 0 {
		return config.VolumeConfig{}, fmt.Errorf("no root %q in config", root)
	}
	for _, v := range candidates[0].Volumes {
		t := model.MountType(v.Type)
		if t == "" {
			t = model.MountTypeCustom
		}
		if t == loc {
			return v, nil
		}
	}
	return config.VolumeConfig{}, fmt.Errorf("root %s has no %s volume", candidates[0].Path, loc)
}

// requireVolume finds the volume of loc, or exits with error.
func requireVolume(cfg *config.Config, loc model.MountType) config.VolumeConfig {
	v, err := findVolume(cfg, rootPath, loc)
	if err != nil {
		fmtErr("%v", err)
		if hint := suggestLocations(cfg, rootPath); hint != "" {
			fmt.Fprintln(os.Stderr, color.Dim("  "+hint))
		}
		os.Exit(1)
	}
	return v
}

func fmtErr(format string, args ...any) {
	prefix := "pkgfsd: "
	if color.Enabled() {
		prefix = color.Error("pkgfsd:") + " "
	}
	fmt.Fprintf(os.Stderr, prefix+format+"\n", args...)
}
