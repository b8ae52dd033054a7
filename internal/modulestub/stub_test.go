package modulestub

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	registrationv1 "github.com/pipestream-ai/platform-registration/api/registration/v1"
	"github.com/pipestream-ai/platform-registration/internal/consul"
)

type fakeModuleServer struct {
	meta *registrationv1.ServiceRegistrationMetadata
}

func getRegistrationHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	if err := dec(new(rawMessage)); err != nil {
		return nil, err
	}
	module := srv.(*fakeModuleServer)
	return &rawMessage{data: marshalMetadata(module.meta)}, nil
}

var moduleServiceDesc = grpc.ServiceDesc{
	ServiceName: "pipestream.module.v1.PipeStepProcessor",
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetServiceRegistration", Handler: getRegistrationHandler},
	},
}

// startFakeModule serves the PipeStepProcessor surface on a loopback port.
func startFakeModule(t *testing.T, meta *registrationv1.ServiceRegistrationMetadata) consul.Node {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := grpc.NewServer(grpc.ForceServerCodec(rawCodec{}))
	server.RegisterService(&moduleServiceDesc, &fakeModuleServer{meta: meta})
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	addr := lis.Addr().(*net.TCPAddr)
	return consul.Node{
		ServiceID: "splitter-127-0-0-1-0",
		Name:      "splitter",
		Address:   "127.0.0.1",
		Port:      addr.Port,
	}
}

type listerFunc func(ctx context.Context, serviceName string) ([]consul.Node, error)

func (f listerFunc) HealthyNodes(ctx context.Context, serviceName string) ([]consul.Node, error) {
	return f(ctx, serviceName)
}

func TestGetServiceRegistration(t *testing.T) {
	want := &registrationv1.ServiceRegistrationMetadata{
		ModuleName:       "splitter",
		Version:          "1.0.0",
		DisplayName:      "Document Splitter",
		Tags:             []string{"nlp"},
		Metadata:         map[string]string{"tier": "gold"},
		JSONConfigSchema: `{"type":"object"}`,
	}
	node := startFakeModule(t, want)

	var gotName string
	factory := NewGRPCFactory(listerFunc(func(ctx context.Context, name string) ([]consul.Node, error) {
		gotName = name
		return []consul.Node{node}, nil
	}), zap.NewNop())

	client, err := factory.Open(context.Background(), "splitter")
	require.NoError(t, err)
	defer func() { require.NoError(t, client.Close()) }()

	got, err := client.GetServiceRegistration(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "splitter", gotName)
	assert.Equal(t, want, got)
}

func TestOpenFailsWithoutHealthyInstance(t *testing.T) {
	factory := NewGRPCFactory(listerFunc(func(ctx context.Context, name string) ([]consul.Node, error) {
		return nil, nil
	}), zap.NewNop())

	_, err := factory.Open(context.Background(), "splitter")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no healthy instance of module splitter")
}

func TestOpenPropagatesResolveErrors(t *testing.T) {
	resolveErr := errors.New("agent unreachable")
	factory := NewGRPCFactory(listerFunc(func(ctx context.Context, name string) ([]consul.Node, error) {
		return nil, resolveErr
	}), zap.NewNop())

	_, err := factory.Open(context.Background(), "splitter")
	assert.ErrorIs(t, err, resolveErr)
}
