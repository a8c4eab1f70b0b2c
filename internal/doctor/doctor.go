// Package doctor checks a volume's packages and administrative
// directories for leftovers of interrupted work.
package doctor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkgfs-project/pkgfsd/internal/activation"
	"github.com/pkgfs-project/pkgfsd/internal/commit"
	"github.com/pkgfs-project/pkgfsd/internal/journal"
	"github.com/pkgfs-project/pkgfsd/internal/lock"
	"github.com/pkgfs-project/pkgfsd/internal/packages"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
)

// Severities, mildest first.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Finding represents a detected issue.
type Finding struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Path        string `json:"path,omitempty"`
}

// Result contains doctor check results.
type Result struct {
	Healthy  bool      `json:"healthy"`
	Findings []Finding `json:"findings"`
}

func (r *Result) add(f Finding) {
	r.Findings = append(r.Findings, f)
	if f.Severity == SeverityError || f.Severity == SeverityCritical {
		r.Healthy = false
	}
}

// Options configure a Doctor.
type Options struct {
	// BootState names the old state the volume was booted into.
	BootState             string
	MaxActivationFileSize int64
}

// Doctor performs volume health checks.
type Doctor struct {
	packagesDir string
	adminDir    string
	opts        Options
}

// NewDoctor creates a doctor for the volume at packagesDir.
func NewDoctor(packagesDir string, opts Options) *Doctor {
	if opts.MaxActivationFileSize <= 0 {
		opts.MaxActivationFileSize = activation.DefaultMaxFileSize
	}
	return &Doctor{
		packagesDir: packagesDir,
		adminDir:    filepath.Join(packagesDir, model.AdminDirName),
		opts:        opts,
	}
}

// Check runs all diagnostic checks. Strict mode also verifies the journal
// chain and parses every package file.
func (d *Doctor) Check(strict bool) (*Result, error) {
	result := &Result{Healthy: true, Findings: []Finding{}}
	if _, err := os.Stat(d.packagesDir); err != nil {
		return nil, fmt.Errorf("packages directory: %w", err)
	}
	if _, err := os.Stat(d.adminDir); os.IsNotExist(err) {
		result.add(Finding{
			Category:    "admin",
			Description: "administrative directory missing, volume never initialized",
			Severity:    SeverityInfo,
			Path:        d.adminDir,
		})
		return result, nil
	}

	d.checkLock(result)
	d.checkAdminEntries(result)
	d.checkActivationFile(result)
	d.checkQueuedScripts(result)
	if strict {
		d.checkJournal(result)
		d.checkPackageFiles(result)
	}
	return result, nil
}

func (d *Doctor) checkLock(result *Result) {
	locks := lock.NewManager()
	l, err := locks.Acquire(d.adminDir, "doctor")
	if errors.Is(err, lock.ErrLocked) {
		desc := "volume is in use by a running daemon"
		if h, err := lock.ReadHolder(d.adminDir); err == nil {
			desc = fmt.Sprintf("volume is in use by pid %d since %s", h.PID, h.AcquiredAt.Format("2006-01-02 15:04:05"))
		}
		result.add(Finding{Category: "lock", Description: desc, Severity: SeverityInfo, Path: filepath.Join(d.adminDir, model.LockFileName)})
		return
	}
	if err != nil {
		result.add(Finding{Category: "lock", Description: fmt.Sprintf("cannot check lock: %v", err), Severity: SeverityWarning})
		return
	}
	_ = locks.Release(l)
}

// checkAdminEntries looks for leftover transaction directories, temporary
// files and state directories with malformed names.
func (d *Doctor) checkAdminEntries(result *Result) {
	entries, err := os.ReadDir(d.adminDir)
	if err != nil {
		result.add(Finding{Category: "admin", Description: fmt.Sprintf("cannot read administrative directory: %v", err), Severity: SeverityError, Path: d.adminDir})
		return
	}
	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(d.adminDir, name)
		switch {
		case strings.HasPrefix(name, model.TransactionDirPrefix) && e.IsDir():
			result.add(Finding{
				Category:    "transaction",
				Description: fmt.Sprintf("orphan transaction directory: %s", name),
				Severity:    SeverityWarning,
				Path:        path,
			})
		case name == model.TempActivationFileName:
			result.add(Finding{
				Category:    "activation",
				Description: "stale temporary activation file from an interrupted commit",
				Severity:    SeverityWarning,
				Path:        path,
			})
		case strings.HasPrefix(name, ".pkgfsd-tmp-"):
			result.add(Finding{
				Category:    "tmp",
				Description: fmt.Sprintf("orphan temp file: %s", name),
				Severity:    SeverityInfo,
				Path:        path,
			})
		case strings.HasPrefix(name, model.StateDirPrefix):
			if _, _, err := model.ParseStateDirName(name); err != nil || !e.IsDir() {
				result.add(Finding{
					Category:    "state",
					Description: fmt.Sprintf("malformed state directory: %s", name),
					Severity:    SeverityWarning,
					Path:        path,
				})
			}
		}
	}
}

func (d *Doctor) activationFilePath() string {
	if d.opts.BootState != "" {
		return filepath.Join(d.adminDir, d.opts.BootState, model.ActivationFileName)
	}
	return filepath.Join(d.adminDir, model.ActivationFileName)
}

// checkActivationFile reports activated packages whose file is gone.
func (d *Doctor) checkActivationFile(result *Result) {
	path := d.activationFilePath()
	names, err := activation.ReadFile(path, d.opts.MaxActivationFileSize)
	if errors.Is(err, os.ErrNotExist) {
		result.add(Finding{
			Category:    "activation",
			Description: "no activation file, all packages will be activated",
			Severity:    SeverityInfo,
			Path:        path,
		})
		return
	}
	if err != nil {
		result.add(Finding{Category: "activation", Description: fmt.Sprintf("unreadable activation file: %v", err), Severity: SeverityError, Path: path})
		return
	}

	dirs := []string{d.packagesDir}
	if d.opts.BootState != "" {
		dirs = append(dirs, filepath.Join(d.adminDir, d.opts.BootState))
	}
	for _, name := range names {
		found := false
		for _, dir := range dirs {
			if _, err := os.Lstat(filepath.Join(dir, name)); err == nil {
				found = true
				break
			}
		}
		if !found {
			result.add(Finding{
				Category:    "activation",
				Description: fmt.Sprintf("activated package %s has no package file", name),
				Severity:    SeverityError,
				Path:        filepath.Join(d.packagesDir, name),
			})
		}
	}
}

func (d *Doctor) checkQueuedScripts(result *Result) {
	dir := filepath.Join(d.adminDir, model.QueuedScriptsDirName)
	names, err := commit.QueuedScripts(dir)
	if err != nil {
		result.add(Finding{Category: "scripts", Description: fmt.Sprintf("cannot list queued scripts: %v", err), Severity: SeverityWarning, Path: dir})
		return
	}
	for _, name := range names {
		link := filepath.Join(dir, name)
		target, err := os.Readlink(link)
		if err != nil {
			continue
		}
		result.add(Finding{
			Category:    "scripts",
			Description: fmt.Sprintf("post-install script %s waits for the next boot", target),
			Severity:    SeverityInfo,
			Path:        link,
		})
	}
}

func (d *Doctor) checkJournal(result *Result) {
	path := filepath.Join(d.adminDir, model.JournalFileName)
	n, err := journal.Verify(path)
	if err == nil {
		return
	}
	severity := SeverityError
	if errors.Is(err, journal.ErrBrokenChain) {
		severity = SeverityCritical
	}
	result.add(Finding{
		Category:    "journal",
		Description: fmt.Sprintf("journal verification failed after %d records: %v", n, err),
		Severity:    severity,
		Path:        path,
	})
}

func (d *Doctor) checkPackageFiles(result *Result) {
	entries, err := os.ReadDir(d.packagesDir)
	if err != nil {
		return
	}
	var parser packages.ArchiveParser
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), model.PackageFileExtension) {
			continue
		}
		path := filepath.Join(d.packagesDir, e.Name())
		if _, err := parser.Parse(path); err != nil {
			result.add(Finding{
				Category:    "package",
				Description: fmt.Sprintf("unreadable package file %s: %v", e.Name(), err),
				Severity:    SeverityError,
				Path:        path,
			})
		}
	}
}
