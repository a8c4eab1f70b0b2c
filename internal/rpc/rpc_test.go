package rpc_test

import (
	"bytes"
	"context"
	"net"
	"testing"

	"github.com/pkgfs-project/pkgfsd/internal/rpc"
	"github.com/pkgfs-project/pkgfsd/pkg/logging"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeService struct {
	lastCommit *rpc.CommitTransactionRequest
}

func (s *fakeService) GetInstallationLocationInfo(_ context.Context, req *rpc.LocationRequest) (*model.LocationInfo, error) {
	if req.Root == "/missing" {
		return nil, status.Error(codes.NotFound, "no root")
	}
	return &model.LocationInfo{Location: req.Location, ChangeCount: 7}, nil
}

func (s *fakeService) CreateTransaction(_ context.Context, req *rpc.LocationRequest) (*model.CreateTransactionResult, error) {
	return &model.CreateTransactionResult{
		Location:             req.Location,
		ChangeCount:          7,
		TransactionDirectory: "transaction-1",
	}, nil
}

func (s *fakeService) CommitTransaction(_ context.Context, req *rpc.CommitTransactionRequest) (*model.CommitResult, error) {
	s.lastCommit = req
	return &model.CommitResult{Error: "E_CHANGE_COUNT_MISMATCH"}, nil
}

func setup(t *testing.T) (*fakeService, *rpc.Client) {
	t.Helper()
	log := logging.NewLogger(logging.LevelDebug)
	log.SetOutput(&bytes.Buffer{})

	svc := &fakeService{}
	srv := rpc.NewServer(svc, log)
	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	client, err := rpc.Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return svc, client
}

func TestRPC_GetInstallationLocationInfo(t *testing.T) {
	_, client := setup(t)
	info, err := client.GetInstallationLocationInfo(context.Background(), &rpc.LocationRequest{Location: model.MountTypeHome})
	require.NoError(t, err)
	assert.Equal(t, model.MountTypeHome, info.Location)
	assert.Equal(t, int64(7), info.ChangeCount)
}

func TestRPC_StatusErrorPropagates(t *testing.T) {
	_, client := setup(t)
	_, err := client.GetInstallationLocationInfo(context.Background(), &rpc.LocationRequest{Root: "/missing"})
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestRPC_CreateTransaction(t *testing.T) {
	_, client := setup(t)
	res, err := client.CreateTransaction(context.Background(), &rpc.LocationRequest{Location: model.MountTypeSystem})
	require.NoError(t, err)
	assert.Equal(t, "transaction-1", res.TransactionDirectory)
	assert.Equal(t, model.MountTypeSystem, res.Location)
}

func TestRPC_CommitTransaction(t *testing.T) {
	svc, client := setup(t)
	req := &rpc.CommitTransactionRequest{
		Root: "/",
		Request: model.CommitRequest{
			Location:             model.MountTypeHome,
			ChangeCount:          3,
			TransactionDirectory: "transaction-2",
			PackagesToActivate:   []string{"a-1.hpkg"},
		},
	}
	res, err := client.CommitTransaction(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "E_CHANGE_COUNT_MISMATCH", res.Error)
	require.NotNil(t, svc.lastCommit)
	assert.Equal(t, req.Request, svc.lastCommit.Request)
}
