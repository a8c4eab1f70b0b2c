// Package rpc exposes the daemon over gRPC. Messages are the model types
// encoded as JSON; the service is declared by hand.
package rpc

import (
	"context"

	"github.com/pkgfs-project/pkgfsd/pkg/model"
	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "pkgfsd.v1.PackageDaemon"

const (
	methodLocationInfo      = "/" + ServiceName + "/GetInstallationLocationInfo"
	methodCreateTransaction = "/" + ServiceName + "/CreateTransaction"
	methodCommitTransaction = "/" + ServiceName + "/CommitTransaction"
)

// LocationRequest names an installation location. An empty Root selects
// the system root.
type LocationRequest struct {
	Root     string          `json:"root,omitempty"`
	Location model.MountType `json:"location"`
}

// CommitTransactionRequest asks to commit a prepared transaction. The
// request's Location selects the volume.
type CommitTransactionRequest struct {
	Root    string              `json:"root,omitempty"`
	Request model.CommitRequest `json:"request"`
}

// Service is implemented by the daemon. Commit failures are reported in
// the result, not as call errors.
type Service interface {
	GetInstallationLocationInfo(ctx context.Context, req *LocationRequest) (*model.LocationInfo, error)
	CreateTransaction(ctx context.Context, req *LocationRequest) (*model.CreateTransactionResult, error)
	CommitTransaction(ctx context.Context, req *CommitTransactionRequest) (*model.CommitResult, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetInstallationLocationInfo", Handler: locationInfoHandler},
		{MethodName: "CreateTransaction", Handler: createTransactionHandler},
		{MethodName: "CommitTransaction", Handler: commitTransactionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkgfsd/v1",
}

func locationInfoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(LocationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(Service).GetInstallationLocationInfo(ctx, req.(*LocationRequest))
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: methodLocationInfo}, call)
}

func createTransactionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(LocationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(Service).CreateTransaction(ctx, req.(*LocationRequest))
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: methodCreateTransaction}, call)
}

func commitTransactionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CommitTransactionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return srv.(Service).CommitTransaction(ctx, req.(*CommitTransactionRequest))
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: methodCommitTransaction}, call)
}
