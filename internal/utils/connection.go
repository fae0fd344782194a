package utils

import (
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Connect establishes a connection to a server at the given address
// Connections are created lazily (non-blocking) and will be established on first RPC call
// Calls fail fast when the peer is down so that the caller's retry policy applies
func Connect(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create gRPC client for %s", addr)
	}
	return conn, nil
}
