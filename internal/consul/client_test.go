package consul

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(strings.TrimPrefix(srv.URL, "http://"), zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestRegisterBuildsAgentRegistration(t *testing.T) {
	var got api.AgentServiceRegistration

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/agent/service/register", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	ok := client.Register(context.Background(), Registration{
		ServiceID:    "splitter-10-0-0-1-50051",
		ServiceName:  "splitter",
		Host:         "10.0.0.1",
		Port:         50051,
		Version:      "1.2.0",
		Tags:         []string{"module"},
		Metadata:     map[string]string{"team": "ingest"},
		Capabilities: []string{"PipeStepProcessor"},
	})
	require.True(t, ok)

	assert.Equal(t, "splitter-10-0-0-1-50051", got.ID)
	assert.Equal(t, "splitter", got.Name)
	assert.Equal(t, "10.0.0.1", got.Address)
	assert.Equal(t, 50051, got.Port)
	assert.Equal(t, []string{"module", "capability:PipeStepProcessor"}, got.Tags)
	assert.Equal(t, "1.2.0", got.Meta["version"])
	assert.Equal(t, "ingest", got.Meta["team"])

	require.NotNil(t, got.Check)
	assert.Equal(t, "splitter gRPC Health Check", got.Check.Name)
	assert.Equal(t, "10.0.0.1:50051", got.Check.GRPC)
	assert.Equal(t, "10s", got.Check.Interval)
	assert.Equal(t, "1m", got.Check.DeregisterCriticalServiceAfter)
}

func TestRegisterReportsAgentFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent on fire", http.StatusInternalServerError)
	})

	ok := client.Register(context.Background(), Registration{
		ServiceID:   "splitter-10-0-0-1-50051",
		ServiceName: "splitter",
		Host:        "10.0.0.1",
		Port:        50051,
	})
	assert.False(t, ok)
}

func TestDeregister(t *testing.T) {
	var gotPath string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	ok := client.Deregister(context.Background(), "splitter-10-0-0-1-50051")
	require.True(t, ok)
	assert.Equal(t, "/v1/agent/service/deregister/splitter-10-0-0-1-50051", gotPath)
}

func TestDeregisterReportsAgentFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such service", http.StatusNotFound)
	})

	assert.False(t, client.Deregister(context.Background(), "ghost-10-0-0-1-1"))
}

func TestHealthyNodes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/health/service/splitter", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("passing"))

		w.Header().Set("X-Consul-Index", "7")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]*api.ServiceEntry{
			{
				Node: &api.Node{Node: "worker-1"},
				Service: &api.AgentService{
					ID:      "splitter-10-0-0-1-50051",
					Service: "splitter",
					Address: "10.0.0.1",
					Port:    50051,
					Tags:    []string{"module"},
					Meta:    map[string]string{"version": "1.2.0"},
				},
			},
			{Node: &api.Node{Node: "worker-2"}},
		})
	})

	nodes, err := client.HealthyNodes(context.Background(), "splitter")
	require.NoError(t, err)

	// The entry without service data is skipped.
	require.Len(t, nodes, 1)
	assert.Equal(t, Node{
		ServiceID: "splitter-10-0-0-1-50051",
		Name:      "splitter",
		Address:   "10.0.0.1",
		Port:      50051,
		Tags:      []string{"module"},
		Meta:      map[string]string{"version": "1.2.0"},
	}, nodes[0])
}

func TestCatalogServicesSorted(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/catalog/services", r.URL.Path)

		w.Header().Set("X-Consul-Index", "3")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string][]string{
			"zeta-parser": {},
			"consul":      {},
			"splitter":    {"module"},
		})
	})

	names, err := client.CatalogServices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"consul", "splitter", "zeta-parser"}, names)
}

func TestAgentInfo(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agent/self", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Config":{"Datacenter":"dc1"}}`))
	})

	assert.NoError(t, client.AgentInfo(context.Background()))
}

func TestAgentInfoHonoursContext(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.AgentInfo(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
