package registrationv1

import (
	"fmt"
	"strings"
)

// ServiceID derives the deterministic instance id for a (name, host, port)
// triple. Dots in the host are replaced with dashes so the id is a single
// DNS-safe token. The derivation is pure: re-registering the same triple
// always yields the same id.
func ServiceID(serviceName, host string, port int) string {
	return fmt.Sprintf("%s-%s-%d", serviceName, strings.ReplaceAll(host, ".", "-"), port)
}

// SchemaID derives the store key for a config schema version, replacing dots
// in the version with underscores: ("splitter", "1.0.0") -> "splitter-v1_0_0".
func SchemaID(serviceName, version string) string {
	return fmt.Sprintf("%s-v%s", serviceName, strings.ReplaceAll(version, ".", "_"))
}

// ServiceNameFromID recovers the service name from an instance id by trimming
// the last two dash-separated segments (host token and port). Returns an
// error when the id does not carry at least two dashes with a non-empty name
// in front of them.
func ServiceNameFromID(serviceID string) (string, error) {
	last := strings.LastIndex(serviceID, "-")
	if last <= 0 {
		return "", fmt.Errorf("invalid service id %q", serviceID)
	}
	second := strings.LastIndex(serviceID[:last], "-")
	if second <= 0 {
		return "", fmt.Errorf("invalid service id %q", serviceID)
	}
	return serviceID[:second], nil
}
