package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	healthserver "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func TestWaitForReady(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	hs := healthserver.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	client, err := NewHealthCheckClient(lis.Addr().String())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	err = client.WaitForReady(context.Background(), 300*time.Millisecond)
	assert.Error(t, err)

	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	err = client.WaitForReady(context.Background(), 3*time.Second)
	assert.NoError(t, err)
}

func TestCloseWithoutConnect(t *testing.T) {
	client, err := NewHealthCheckClient("localhost:1")
	require.NoError(t, err)
	assert.NoError(t, client.Close())
}
