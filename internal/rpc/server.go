package rpc

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/pkgfs-project/pkgfsd/pkg/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Server serves a Service.
type Server struct {
	grpc *grpc.Server
	log  *logging.Logger
}

// NewServer registers svc on a new gRPC server.
func NewServer(svc Service, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Component("rpc")
	}
	s := &Server{log: log}
	s.grpc = grpc.NewServer(grpc.UnaryInterceptor(s.logCalls))
	s.grpc.RegisterService(&serviceDesc, svc)
	return s
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	fields := map[string]any{
		"method":      info.FullMethod,
		"code":        status.Code(err).String(),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		s.log.WarnErr("rpc failed", err, fields)
	} else {
		s.log.Debug("rpc done", fields)
	}
	return resp, err
}

// ListenUnix listens on a unix socket, replacing a stale socket file.
func ListenUnix(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	if err := os.Chmod(path, 0660); err != nil {
		lis.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return lis, nil
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("rpc server listening", map[string]any{"address": lis.Addr().String()})
	return s.grpc.Serve(lis)
}

// Stop waits for running calls and stops the server.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}
