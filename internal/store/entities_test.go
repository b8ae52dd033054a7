package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServiceModuleIsHealthy(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		heartbeat time.Time
		expected  bool
	}{
		{
			name:      "recent heartbeat",
			heartbeat: now.Add(-5 * time.Second),
			expected:  true,
		},
		{
			name:      "heartbeat just inside the window",
			heartbeat: now.Add(-HeartbeatWindow + time.Second),
			expected:  true,
		},
		{
			name:      "heartbeat outside the window",
			heartbeat: now.Add(-HeartbeatWindow - time.Second),
			expected:  false,
		},
		{
			name:     "no heartbeat recorded",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &ServiceModule{LastHeartbeat: tt.heartbeat}
			assert.Equal(t, tt.expected, m.IsHealthy(now))
		})
	}
}
