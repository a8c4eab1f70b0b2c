package model

// CommitRequest asks a volume to activate and deactivate packages.
type CommitRequest struct {
	Location MountType `json:"location"`
	// ChangeCount must equal the volume's current change count.
	ChangeCount int64 `json:"change_count"`
	// TransactionDirectory is a single entry name under the volume's
	// administrative directory, as returned by CreateTransaction.
	TransactionDirectory string `json:"transaction_directory"`
	// PackagesToActivate are file names inside the transaction directory.
	PackagesToActivate []string `json:"packages_to_activate,omitempty"`
	// PackagesToDeactivate are file names of packages known to the volume,
	// dependents first.
	PackagesToDeactivate []string `json:"packages_to_deactivate,omitempty"`
}

// CreateTransactionResult answers CreateTransaction.
type CreateTransactionResult struct {
	Location             MountType `json:"location"`
	ChangeCount          int64     `json:"change_count"`
	TransactionDirectory string    `json:"transaction_directory"`
	// TransactionPath is the absolute path of the allocated directory, for
	// local clients that copy package files into it.
	TransactionPath string `json:"transaction_path"`
}

// IssueKind classifies a non-fatal problem recorded during a commit.
type IssueKind string

const (
	IssueWritableFileTypeMismatch            IssueKind = "writable_file_type_mismatch"
	IssueWritableFileNoPackageAttribute      IssueKind = "writable_file_no_package_attribute"
	IssueWritableFileOldOriginalMissing      IssueKind = "writable_file_old_original_file_missing"
	IssueWritableFileOldOriginalTypeMismatch IssueKind = "writable_file_old_original_file_type_mismatch"
	IssueWritableFileComparisonFailed        IssueKind = "writable_file_comparison_failed"
	IssueWritableFileNotEqual                IssueKind = "writable_file_not_equal"
	IssueSymlinkNotEqual                     IssueKind = "symlink_not_equal"
	IssuePostInstallScriptNotFound           IssueKind = "post_install_script_not_found"
	IssuePostInstallScriptFailed             IssueKind = "post_install_script_failed"
	IssuePreUninstallScriptNotFound          IssueKind = "pre_uninstall_script_not_found"
	IssuePreUninstallScriptFailed            IssueKind = "pre_uninstall_script_failed"
	IssueStartingScriptFailed                IssueKind = "starting_script_failed"
)

// Issue is a non-fatal problem surfaced to the caller of a commit.
type Issue struct {
	Kind        IssueKind `json:"kind"`
	Package     string    `json:"package,omitempty"`
	Path1       string    `json:"path1,omitempty"`
	Path2       string    `json:"path2,omitempty"`
	SystemError string    `json:"system_error,omitempty"`
	ExitCode    int       `json:"exit_code,omitempty"`
}

// CommitResult answers CommitTransaction. Error is "E_NONE" on success.
type CommitResult struct {
	Error             string  `json:"error"`
	ErrorPackage      string  `json:"error_package,omitempty"`
	Path1             string  `json:"path1,omitempty"`
	Path2             string  `json:"path2,omitempty"`
	String1           string  `json:"string1,omitempty"`
	String2           string  `json:"string2,omitempty"`
	SystemError       string  `json:"system_error,omitempty"`
	SystemErrno       int     `json:"system_errno,omitempty"`
	ExitCode          int     `json:"exit_code,omitempty"`
	OldStateDirectory string  `json:"old_state_directory,omitempty"`
	Issues            []Issue `json:"issues,omitempty"`
}

// Succeeded reports whether the commit went through.
func (r *CommitResult) Succeeded() bool {
	return r.Error == "" || r.Error == "E_NONE"
}
