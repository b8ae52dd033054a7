// Package modulestub opens ad-hoc gRPC clients to registered modules. The
// hub has no generated stubs for module services, so calls go through a raw
// byte codec and the payloads are framed by hand.
package modulestub

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	registrationv1 "github.com/pipestream-ai/platform-registration/api/registration/v1"
	"github.com/pipestream-ai/platform-registration/internal/consul"
)

// Every module implements this method as part of the PipeStepProcessor
// contract.
const getRegistrationMethod = "/pipestream.module.v1.PipeStepProcessor/GetServiceRegistration"

const callTimeout = 10 * time.Second

// Client talks to one module instance.
type Client interface {
	GetServiceRegistration(ctx context.Context) (*registrationv1.ServiceRegistrationMetadata, error)
	Close() error
}

// Factory opens clients by module name.
type Factory interface {
	Open(ctx context.Context, moduleName string) (Client, error)
}

// GRPCFactory resolves a module through the discovery agent and dials its
// first healthy instance.
type GRPCFactory struct {
	nodes consul.NodeLister
	log   *zap.Logger
}

// NewGRPCFactory builds a factory that resolves module addresses via nodes.
func NewGRPCFactory(nodes consul.NodeLister, log *zap.Logger) *GRPCFactory {
	return &GRPCFactory{nodes: nodes, log: log}
}

// Open resolves moduleName to a healthy instance and dials it. The returned
// client owns the connection; callers must Close it.
func (f *GRPCFactory) Open(ctx context.Context, moduleName string) (Client, error) {
	nodes, err := f.nodes.HealthyNodes(ctx, moduleName)
	if err != nil {
		return nil, fmt.Errorf("resolve module %s: %w", moduleName, err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no healthy instance of module %s", moduleName)
	}

	target := fmt.Sprintf("%s:%d", nodes[0].Address, nodes[0].Port)
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial module %s at %s: %w", moduleName, target, err)
	}

	f.log.Debug("Opened module stub",
		zap.String("module", moduleName), zap.String("target", target))
	return &grpcClient{conn: conn, moduleName: moduleName}, nil
}

type grpcClient struct {
	conn       *grpc.ClientConn
	moduleName string
}

func (c *grpcClient) GetServiceRegistration(ctx context.Context) (*registrationv1.ServiceRegistrationMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	// Request is google.protobuf.Empty: zero bytes on the wire.
	in := &rawMessage{}
	out := &rawMessage{}
	if err := c.conn.Invoke(ctx, getRegistrationMethod, in, out, grpc.ForceCodec(rawCodec{})); err != nil {
		return nil, fmt.Errorf("get registration from module %s: %w", c.moduleName, err)
	}

	meta, err := unmarshalMetadata(out.data)
	if err != nil {
		return nil, fmt.Errorf("decode registration from module %s: %w", c.moduleName, err)
	}
	return meta, nil
}

func (c *grpcClient) Close() error {
	return c.conn.Close()
}

// rawMessage carries pre-encoded protobuf bytes through the grpc machinery.
type rawMessage struct {
	data []byte
}

// rawCodec moves rawMessage bytes verbatim. Name reports "proto" so the peer
// treats the frames as ordinary protobuf.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	msg, ok := v.(*rawMessage)
	if !ok {
		return nil, fmt.Errorf("rawCodec: unexpected message type %T", v)
	}
	return msg.data, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	msg, ok := v.(*rawMessage)
	if !ok {
		return fmt.Errorf("rawCodec: unexpected message type %T", v)
	}
	msg.data = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string { return "proto" }
