package model

// PackageInfo is the wire description of one package known to a volume.
type PackageInfo struct {
	FileName string   `json:"file_name"`
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Summary  string   `json:"summary,omitempty"`
	Active   bool     `json:"active"`
	Entry    NodeRef  `json:"entry"`
	Requires []string `json:"requires,omitempty"`
	Provides []string `json:"provides,omitempty"`
}

// LocationInfo answers GetInstallationLocationInfo.
type LocationInfo struct {
	Location          MountType     `json:"location"`
	BaseDirectory     NodeRef       `json:"base_directory"`
	PackagesDirectory NodeRef       `json:"packages_directory"`
	ChangeCount       int64         `json:"change_count"`
	ActivePackages    []PackageInfo `json:"active_packages"`
	InactivePackages  []PackageInfo `json:"inactive_packages"`
	// LatestActivePackages differs from ActivePackages while a reboot is
	// pending to finish an activation change.
	LatestActivePackages   []PackageInfo `json:"latest_active_packages,omitempty"`
	LatestInactivePackages []PackageInfo `json:"latest_inactive_packages,omitempty"`
	OldStateName           string        `json:"old_state,omitempty"`
}
