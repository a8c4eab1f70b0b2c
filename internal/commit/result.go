package commit

import (
	"path/filepath"

	"github.com/pkgfs-project/pkgfsd/pkg/errclass"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
)

// ToModel converts the outcome of a commit into its wire form.
func ToModel(res *Result, err error) model.CommitResult {
	if err != nil {
		te := errclass.As(err)
		out := model.CommitResult{
			Error:        string(te.Kind),
			ErrorPackage: te.Package,
			Path1:        te.Path1,
			Path2:        te.Path2,
			String1:      te.String1,
			String2:      te.String2,
			SystemErrno:  te.Errno(),
			ExitCode:     te.ExitCode,
		}
		if te.SystemError != nil {
			out.SystemError = te.SystemError.Error()
		}
		return out
	}
	out := model.CommitResult{Error: string(errclass.KindNone)}
	if res != nil {
		out.Issues = res.Issues
		if res.OldStateDir != "" {
			out.OldStateDirectory = filepath.Base(res.OldStateDir)
		}
	}
	return out
}
