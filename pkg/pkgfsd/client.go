package pkgfsd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkgfs-project/pkgfsd/internal/rpc"
	"github.com/pkgfs-project/pkgfsd/pkg/errclass"
	"github.com/pkgfs-project/pkgfsd/pkg/fsutil"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
)

// Client provides high-level operations on one root of a pkgfsd daemon.
type Client struct {
	svc    rpc.Service
	closer func() error
	root   string
}

// Options configures a Client.
type Options struct {
	Root string // Root path; empty selects the system root
}

// InstallOptions configures Install.
type InstallOptions struct {
	Location model.MountType
	Files    []string // Package files to stage and activate
	// Deactivate lists file names of active packages, dependents first.
	Deactivate []string
	// KeepTransaction leaves the transaction directory in place.
	KeepTransaction bool
}

// Connect dials the daemon socket at path.
func Connect(path string, opts Options) (*Client, error) {
	c, err := rpc.DialUnix(path)
	if err != nil {
		return nil, fmt.Errorf("pkgfsd connect: %w", err)
	}
	return &Client{svc: c, closer: c.Close, root: opts.Root}, nil
}

// New wraps an existing service implementation, for example an in-process
// daemon.
func New(svc rpc.Service, opts Options) *Client {
	return &Client{svc: svc, root: opts.Root}
}

// Close releases the connection.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// Root returns the root path the client targets.
func (c *Client) Root() string {
	return c.root
}

// Info returns the packages of an installation location.
func (c *Client) Info(ctx context.Context, loc model.MountType) (*model.LocationInfo, error) {
	return c.svc.GetInstallationLocationInfo(ctx, &rpc.LocationRequest{Root: c.root, Location: loc})
}

// Install stages opts.Files in a new transaction and commits their
// activation together with the deactivation of opts.Deactivate. The
// returned result is non-nil whenever the daemon answered; a failed commit
// is also returned as a *errclass.TransactionError.
func (c *Client) Install(ctx context.Context, opts InstallOptions) (*model.CommitResult, error) {
	tx, err := c.svc.CreateTransaction(ctx, &rpc.LocationRequest{Root: c.root, Location: opts.Location})
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	if !opts.KeepTransaction {
		defer os.RemoveAll(tx.TransactionPath)
	}

	names := make([]string, 0, len(opts.Files))
	for _, f := range opts.Files {
		name := filepath.Base(f)
		if err := fsutil.CopyTree(f, filepath.Join(tx.TransactionPath, name)); err != nil {
			return nil, fmt.Errorf("stage %s: %w", name, err)
		}
		names = append(names, name)
	}

	return c.commit(ctx, model.CommitRequest{
		Location:             opts.Location,
		ChangeCount:          tx.ChangeCount,
		TransactionDirectory: tx.TransactionDirectory,
		PackagesToActivate:   names,
		PackagesToDeactivate: opts.Deactivate,
	})
}

// Uninstall deactivates the named package files.
func (c *Client) Uninstall(ctx context.Context, loc model.MountType, fileNames ...string) (*model.CommitResult, error) {
	info, err := c.Info(ctx, loc)
	if err != nil {
		return nil, err
	}
	return c.commit(ctx, model.CommitRequest{
		Location:             loc,
		ChangeCount:          info.ChangeCount,
		PackagesToDeactivate: fileNames,
	})
}

func (c *Client) commit(ctx context.Context, req model.CommitRequest) (*model.CommitResult, error) {
	res, err := c.svc.CommitTransaction(ctx, &rpc.CommitTransactionRequest{Root: c.root, Request: req})
	if err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return res, ResultError(res)
}

// ResultError converts the error fields of a commit result back into a
// *errclass.TransactionError. It returns nil for a successful commit.
func ResultError(res *model.CommitResult) error {
	if res == nil || res.Error == "" || res.Error == string(errclass.KindNone) {
		return nil
	}
	te := &errclass.TransactionError{
		Kind:     errclass.Kind(res.Error),
		Package:  res.ErrorPackage,
		Path1:    res.Path1,
		Path2:    res.Path2,
		String1:  res.String1,
		String2:  res.String2,
		ExitCode: res.ExitCode,
	}
	if res.SystemError != "" {
		te.SystemError = errors.New(res.SystemError)
	}
	return te
}
