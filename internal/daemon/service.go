package daemon

import (
	"context"

	"github.com/pkgfs-project/pkgfsd/internal/commit"
	"github.com/pkgfs-project/pkgfsd/internal/root"
	"github.com/pkgfs-project/pkgfsd/internal/rpc"
	"github.com/pkgfs-project/pkgfsd/internal/volume"
	"github.com/pkgfs-project/pkgfsd/pkg/errclass"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ rpc.Service = (*Daemon)(nil)

func (d *Daemon) lookup(rootPath string, loc model.MountType) (*root.Root, *volume.Volume, error) {
	id, ok := d.FindRoot(rootPath)
	if !ok {
		return nil, nil, status.Errorf(codes.NotFound, "no root %q", rootPath)
	}
	r := d.roots[id]
	v := r.Volume(loc)
	if v == nil {
		return nil, nil, status.Errorf(codes.Unavailable, "no initialized %s volume in root %s", loc, r.Path())
	}
	return r, v, nil
}

func (d *Daemon) GetInstallationLocationInfo(ctx context.Context, req *rpc.LocationRequest) (*model.LocationInfo, error) {
	_, v, err := d.lookup(req.Root, req.Location)
	if err != nil {
		return nil, err
	}
	info, err := v.LocationInfo()
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &info, nil
}

func (d *Daemon) CreateTransaction(ctx context.Context, req *rpc.LocationRequest) (*model.CreateTransactionResult, error) {
	_, v, err := d.lookup(req.Root, req.Location)
	if err != nil {
		return nil, err
	}
	res, err := v.CreateTransaction()
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &res, nil
}

// CommitTransaction never fails the call for a rejected or failed commit;
// the outcome is in the result.
func (d *Daemon) CommitTransaction(ctx context.Context, req *rpc.CommitTransactionRequest) (*model.CommitResult, error) {
	r, v, err := d.lookup(req.Root, req.Request.Location)
	if err != nil {
		out := commit.ToModel(nil, errclass.ErrBadRequest.WithMessagef("%s", status.Convert(err).Message()))
		return &out, nil
	}
	res, err := r.Commit(ctx, v, req.Request)
	out := commit.ToModel(res, err)
	return &out, nil
}
