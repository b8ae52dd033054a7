package registrationv1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceID(t *testing.T) {
	tests := []struct {
		name        string
		serviceName string
		host        string
		port        int
		expected    string
	}{
		{
			name:        "dotted host is flattened",
			serviceName: "orders",
			host:        "10.0.0.4",
			port:        9090,
			expected:    "orders-10-0-0-4-9090",
		},
		{
			name:        "plain hostname",
			serviceName: "splitter",
			host:        "localhost",
			port:        7000,
			expected:    "splitter-localhost-7000",
		},
		{
			name:        "loopback address",
			serviceName: "splitter",
			host:        "127.0.0.1",
			port:        7000,
			expected:    "splitter-127-0-0-1-7000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ServiceID(tt.serviceName, tt.host, tt.port)
			assert.Equal(t, tt.expected, got)

			// Derivation is pure: repeating it never changes the id.
			assert.Equal(t, got, ServiceID(tt.serviceName, tt.host, tt.port))
		})
	}
}

func TestSchemaID(t *testing.T) {
	tests := []struct {
		name        string
		serviceName string
		version     string
		expected    string
	}{
		{
			name:        "dots become underscores",
			serviceName: "splitter",
			version:     "1.0.0",
			expected:    "splitter-v1_0_0",
		},
		{
			name:        "single segment version",
			serviceName: "parser",
			version:     "2",
			expected:    "parser-v2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SchemaID(tt.serviceName, tt.version))
		})
	}
}

func TestServiceNameFromID(t *testing.T) {
	tests := []struct {
		name      string
		serviceID string
		expected  string
		wantErr   bool
	}{
		{
			name:      "plain hostname id",
			serviceID: "splitter-localhost-7000",
			expected:  "splitter",
		},
		{
			name:      "name containing dashes",
			serviceID: "doc-parser-localhost-7000",
			expected:  "doc-parser",
		},
		{
			name:      "single dash is malformed",
			serviceID: "bad-id",
			wantErr:   true,
		},
		{
			name:      "no dashes is malformed",
			serviceID: "badid",
			wantErr:   true,
		},
		{
			name:      "leading dash is malformed",
			serviceID: "-host-80",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ServiceNameFromID(tt.serviceID)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
