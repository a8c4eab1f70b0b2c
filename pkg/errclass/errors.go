// Package errclass defines the stable, machine-readable error kinds reported
// by pkgfsd transactions.
package errclass

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Kind identifies a transaction error class.
type Kind string

const (
	KindNone                            Kind = "E_NONE"
	KindUnexpected                      Kind = "E_UNEXPECTED"
	KindInstallationLocationBusy        Kind = "E_INSTALLATION_LOCATION_BUSY"
	KindChangeCountMismatch             Kind = "E_CHANGE_COUNT_MISMATCH"
	KindBadRequest                      Kind = "E_BAD_REQUEST"
	KindNoSuchPackage                   Kind = "E_NO_SUCH_PACKAGE"
	KindPackageAlreadyExists            Kind = "E_PACKAGE_ALREADY_EXISTS"
	KindNoMemory                        Kind = "E_NO_MEMORY"
	KindNotSupported                    Kind = "E_NOT_SUPPORTED"
	KindFailedToOpenDirectory           Kind = "E_FAILED_TO_OPEN_DIRECTORY"
	KindFailedToCreateDirectory         Kind = "E_FAILED_TO_CREATE_DIRECTORY"
	KindFailedToRemoveDirectory         Kind = "E_FAILED_TO_REMOVE_DIRECTORY"
	KindFailedToOpenFile                Kind = "E_FAILED_TO_OPEN_FILE"
	KindFailedToCreateFile              Kind = "E_FAILED_TO_CREATE_FILE"
	KindFailedToReadFile                Kind = "E_FAILED_TO_READ_FILE"
	KindFailedToWriteFile               Kind = "E_FAILED_TO_WRITE_FILE"
	KindFailedToMoveFile                Kind = "E_FAILED_TO_MOVE_FILE"
	KindFailedToCopyFile                Kind = "E_FAILED_TO_COPY_FILE"
	KindFailedToRemoveFile              Kind = "E_FAILED_TO_REMOVE_FILE"
	KindFailedToGetEntryPath            Kind = "E_FAILED_TO_GET_ENTRY_PATH"
	KindFailedToExtractPackageFile      Kind = "E_FAILED_TO_EXTRACT_PACKAGE_FILE"
	KindFailedToOpenPackage             Kind = "E_FAILED_TO_OPEN_PACKAGE"
	KindFailedToAddGroup                Kind = "E_FAILED_TO_ADD_GROUP"
	KindFailedToAddUser                 Kind = "E_FAILED_TO_ADD_USER"
	KindFailedToAddUserToGroup          Kind = "E_FAILED_TO_ADD_USER_TO_GROUP"
	KindFailedToStartPreUninstallScript Kind = "E_FAILED_TO_START_PRE_UNINSTALL_SCRIPT"
	KindFailedToStartPostInstallScript  Kind = "E_FAILED_TO_START_POST_INSTALL_SCRIPT"
	KindFailedToChangeActivation        Kind = "E_FAILED_TO_CHANGE_PACKAGE_ACTIVATION"
	KindInternal                        Kind = "E_INTERNAL"
)

// TransactionError is the structured error produced by a failed transaction.
// Values are immutable; the With* builders return modified copies.
type TransactionError struct {
	Kind        Kind
	Package     string
	Path1       string
	Path2       string
	String1     string
	String2     string
	SystemError error
	ExitCode    int
}

func (e *TransactionError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Package != "" {
		fmt.Fprintf(&b, ": package %s", e.Package)
	}
	for _, s := range []string{e.Path1, e.Path2, e.String1, e.String2} {
		if s != "" {
			fmt.Fprintf(&b, ": %s", s)
		}
	}
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, ": exit code %d", e.ExitCode)
	}
	if e.SystemError != nil {
		fmt.Fprintf(&b, ": %v", e.SystemError)
	}
	return b.String()
}

func (e *TransactionError) Is(target error) bool {
	t, ok := target.(*TransactionError)
	return ok && e.Kind == t.Kind
}

func (e *TransactionError) Unwrap() error {
	return e.SystemError
}

func (e *TransactionError) clone() *TransactionError {
	c := *e
	return &c
}

// WithPackage returns a copy naming the implicated package.
func (e *TransactionError) WithPackage(name string) *TransactionError {
	c := e.clone()
	c.Package = name
	return c
}

// WithPaths returns a copy carrying up to two paths.
func (e *TransactionError) WithPaths(paths ...string) *TransactionError {
	c := e.clone()
	if len(paths) > 0 {
		c.Path1 = paths[0]
	}
	if len(paths) > 1 {
		c.Path2 = paths[1]
	}
	return c
}

// WithStrings returns a copy carrying up to two free-form strings.
func (e *TransactionError) WithStrings(strs ...string) *TransactionError {
	c := e.clone()
	if len(strs) > 0 {
		c.String1 = strs[0]
	}
	if len(strs) > 1 {
		c.String2 = strs[1]
	}
	return c
}

// WithSystemError returns a copy wrapping the underlying cause.
func (e *TransactionError) WithSystemError(err error) *TransactionError {
	c := e.clone()
	c.SystemError = err
	return c
}

// WithExitCode returns a copy carrying a process exit code.
func (e *TransactionError) WithExitCode(code int) *TransactionError {
	c := e.clone()
	c.ExitCode = code
	return c
}

// WithMessagef returns a copy whose first string is a formatted message.
func (e *TransactionError) WithMessagef(format string, args ...any) *TransactionError {
	return e.WithStrings(fmt.Sprintf(format, args...))
}

// Errno extracts the numeric system error code, or 0.
func (e *TransactionError) Errno() int {
	var errno syscall.Errno
	if errors.As(e.SystemError, &errno) {
		return int(errno)
	}
	return 0
}

// Sentinel values, one per kind.
var (
	ErrUnexpected                      = &TransactionError{Kind: KindUnexpected}
	ErrInstallationLocationBusy        = &TransactionError{Kind: KindInstallationLocationBusy}
	ErrChangeCountMismatch             = &TransactionError{Kind: KindChangeCountMismatch}
	ErrBadRequest                      = &TransactionError{Kind: KindBadRequest}
	ErrNoSuchPackage                   = &TransactionError{Kind: KindNoSuchPackage}
	ErrPackageAlreadyExists            = &TransactionError{Kind: KindPackageAlreadyExists}
	ErrNoMemory                        = &TransactionError{Kind: KindNoMemory}
	ErrNotSupported                    = &TransactionError{Kind: KindNotSupported}
	ErrFailedToOpenDirectory           = &TransactionError{Kind: KindFailedToOpenDirectory}
	ErrFailedToCreateDirectory         = &TransactionError{Kind: KindFailedToCreateDirectory}
	ErrFailedToRemoveDirectory         = &TransactionError{Kind: KindFailedToRemoveDirectory}
	ErrFailedToOpenFile                = &TransactionError{Kind: KindFailedToOpenFile}
	ErrFailedToCreateFile              = &TransactionError{Kind: KindFailedToCreateFile}
	ErrFailedToReadFile                = &TransactionError{Kind: KindFailedToReadFile}
	ErrFailedToWriteFile               = &TransactionError{Kind: KindFailedToWriteFile}
	ErrFailedToMoveFile                = &TransactionError{Kind: KindFailedToMoveFile}
	ErrFailedToCopyFile                = &TransactionError{Kind: KindFailedToCopyFile}
	ErrFailedToRemoveFile              = &TransactionError{Kind: KindFailedToRemoveFile}
	ErrFailedToGetEntryPath            = &TransactionError{Kind: KindFailedToGetEntryPath}
	ErrFailedToExtractPackageFile      = &TransactionError{Kind: KindFailedToExtractPackageFile}
	ErrFailedToOpenPackage             = &TransactionError{Kind: KindFailedToOpenPackage}
	ErrFailedToAddGroup                = &TransactionError{Kind: KindFailedToAddGroup}
	ErrFailedToAddUser                 = &TransactionError{Kind: KindFailedToAddUser}
	ErrFailedToAddUserToGroup          = &TransactionError{Kind: KindFailedToAddUserToGroup}
	ErrFailedToStartPreUninstallScript = &TransactionError{Kind: KindFailedToStartPreUninstallScript}
	ErrFailedToStartPostInstallScript  = &TransactionError{Kind: KindFailedToStartPostInstallScript}
	ErrFailedToChangeActivation        = &TransactionError{Kind: KindFailedToChangeActivation}
	ErrInternal                        = &TransactionError{Kind: KindInternal}
)

// As converts any error into a TransactionError. Errors that are not
// transaction errors become E_UNEXPECTED with the original as system error.
func As(err error) *TransactionError {
	if err == nil {
		return nil
	}
	var te *TransactionError
	if errors.As(err, &te) {
		return te
	}
	return ErrUnexpected.WithSystemError(err)
}

// KindOf returns the kind of err, KindNone for nil.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	return As(err).Kind
}
