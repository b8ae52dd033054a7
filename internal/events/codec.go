package events

import (
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Hand-rolled protobuf framing for the four lifecycle payloads. Consumers
// decode these with generated stubs from the platform proto tree; the field
// numbers below are the contract and must not be reshuffled.
//
//	ServiceRegistered   1 service_id, 2 service_name, 3 host, 4 port,
//	                    5 version, 6 timestamp
//	ServiceUnregistered 1 service_id, 2 service_name, 3 timestamp
//	ModuleRegistered    1 service_id, 2 module_name, 3 host, 4 port,
//	                    5 version, 6 schema_id, 7 artifact_id, 8 timestamp
//	ModuleUnregistered  1 service_id, 2 module_name, 3 timestamp
//
// timestamp is the well-known Timestamp shape: 1 seconds, 2 nanos.

func encodeServiceRegistered(serviceID, serviceName, host string, port int, version string, at time.Time) []byte {
	var b []byte
	b = appendString(b, 1, serviceID)
	b = appendString(b, 2, serviceName)
	b = appendString(b, 3, host)
	b = appendInt(b, 4, port)
	b = appendString(b, 5, version)
	return appendTimestamp(b, 6, at)
}

func encodeServiceUnregistered(serviceID, serviceName string, at time.Time) []byte {
	var b []byte
	b = appendString(b, 1, serviceID)
	b = appendString(b, 2, serviceName)
	return appendTimestamp(b, 3, at)
}

func encodeModuleRegistered(serviceID, moduleName, host string, port int, version, schemaID, artifactID string, at time.Time) []byte {
	var b []byte
	b = appendString(b, 1, serviceID)
	b = appendString(b, 2, moduleName)
	b = appendString(b, 3, host)
	b = appendInt(b, 4, port)
	b = appendString(b, 5, version)
	b = appendString(b, 6, schemaID)
	b = appendString(b, 7, artifactID)
	return appendTimestamp(b, 8, at)
}

func encodeModuleUnregistered(serviceID, moduleName string, at time.Time) []byte {
	var b []byte
	b = appendString(b, 1, serviceID)
	b = appendString(b, 2, moduleName)
	return appendTimestamp(b, 3, at)
}

// Scalar fields follow proto3 presence rules: zero values are not written.

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt(b []byte, num protowire.Number, v int) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendTimestamp(b []byte, num protowire.Number, at time.Time) []byte {
	var ts []byte
	if secs := at.Unix(); secs != 0 {
		ts = protowire.AppendTag(ts, 1, protowire.VarintType)
		ts = protowire.AppendVarint(ts, uint64(secs))
	}
	if nanos := at.Nanosecond(); nanos != 0 {
		ts = protowire.AppendTag(ts, 2, protowire.VarintType)
		ts = protowire.AppendVarint(ts, uint64(int64(nanos)))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, ts)
}
