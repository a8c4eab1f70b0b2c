package rpc

import (
	"context"
	"fmt"

	"github.com/pkgfs-project/pkgfsd/pkg/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls a pkgfsd daemon.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to target, for example "unix:///run/pkgfsd/pkgfsd.sock".
// The connection is established lazily on the first call.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// DialUnix connects to the daemon socket at path.
func DialUnix(path string, opts ...grpc.DialOption) (*Client, error) {
	return Dial("unix://"+path, opts...)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) GetInstallationLocationInfo(ctx context.Context, req *LocationRequest) (*model.LocationInfo, error) {
	out := new(model.LocationInfo)
	if err := c.conn.Invoke(ctx, methodLocationInfo, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateTransaction(ctx context.Context, req *LocationRequest) (*model.CreateTransactionResult, error) {
	out := new(model.CreateTransactionResult)
	if err := c.conn.Invoke(ctx, methodCreateTransaction, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CommitTransaction(ctx context.Context, req *CommitTransactionRequest) (*model.CommitResult, error) {
	out := new(model.CommitResult)
	if err := c.conn.Invoke(ctx, methodCommitTransaction, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

var _ Service = (*Client)(nil)
