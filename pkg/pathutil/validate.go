// Package pathutil validates names and paths received from clients and
// package metadata.
package pathutil

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/pkgfs-project/pkgfsd/pkg/errclass"
	"golang.org/x/text/unicode/norm"
)

var packageNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9._+-]*$`)

// ValidateEntryName checks that name is a single path component usable as
// an entry inside a directory: not empty, not "." or "..", no separators
// and no control characters.
func ValidateEntryName(name string) error {
	if name == "" {
		return errclass.ErrBadRequest.WithMessagef("entry name must not be empty")
	}

	name = norm.NFC.String(name)

	if name == "." || name == ".." {
		return errclass.ErrBadRequest.WithMessagef("entry name must not be %q", name)
	}
	if strings.ContainsRune(name, '/') {
		return errclass.ErrBadRequest.WithMessagef("entry name must not contain separators: %s", name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return errclass.ErrBadRequest.WithMessagef("entry name must not contain control characters: %q", name)
		}
	}
	return nil
}

// ValidatePackageName checks the name declared in package metadata.
func ValidatePackageName(name string) error {
	if !packageNameRegex.MatchString(name) {
		return errclass.ErrBadRequest.WithMessagef("invalid package name %q", name)
	}
	return nil
}

// ValidateRelativePath checks a path declared relative to a volume root:
// it must be non-empty, relative and must not climb out with "..".
func ValidateRelativePath(p string) error {
	if p == "" || filepath.IsAbs(p) {
		return errclass.ErrBadRequest.WithMessagef("path must be relative: %q", p)
	}
	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return errclass.ErrBadRequest.WithMessagef("path escapes its root: %q", p)
	}
	return nil
}

// ValidatePathSafety verifies target path does not escape root once
// symlinks are resolved.
func ValidatePathSafety(root, targetPath string) error {
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return errclass.ErrBadRequest.WithMessagef("cannot resolve root: %v", err)
	}

	resolvedTarget, err := filepath.EvalSymlinks(targetPath)
	if err != nil {
		if os.IsNotExist(err) {
			resolvedTarget = resolveClosestAncestor(targetPath)
		} else {
			return errclass.ErrBadRequest.WithMessagef("cannot resolve target: %v", err)
		}
	}

	if !strings.HasPrefix(resolvedTarget+"/", resolvedRoot+"/") &&
		resolvedTarget != resolvedRoot {
		return errclass.ErrBadRequest.WithPaths(targetPath).WithMessagef("path escapes root %s", root)
	}
	return nil
}

// resolveClosestAncestor walks up from path to find the closest existing
// ancestor, resolves it, then appends the remaining components.
func resolveClosestAncestor(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		if os.IsNotExist(err) {
			resolved = resolveClosestAncestor(dir)
		} else {
			return filepath.Clean(path)
		}
	}
	return filepath.Join(resolved, base)
}
