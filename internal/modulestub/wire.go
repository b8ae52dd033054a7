package modulestub

import (
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	registrationv1 "github.com/pipestream-ai/platform-registration/api/registration/v1"
)

// ServiceRegistrationMetadata wire layout, matching the platform proto tree:
//
//	1 module_name, 2 version, 3 display_name, 4 description, 5 owner,
//	6 documentation_url, 7 tags (repeated), 8 dependencies (repeated),
//	9 metadata (map<string,string>), 10 json_config_schema

func marshalMetadata(meta *registrationv1.ServiceRegistrationMetadata) []byte {
	var b []byte
	b = appendString(b, 1, meta.ModuleName)
	b = appendString(b, 2, meta.Version)
	b = appendString(b, 3, meta.DisplayName)
	b = appendString(b, 4, meta.Description)
	b = appendString(b, 5, meta.Owner)
	b = appendString(b, 6, meta.DocumentationURL)
	for _, tag := range meta.Tags {
		b = appendString(b, 7, tag)
	}
	for _, dep := range meta.Dependencies {
		b = appendString(b, 8, dep)
	}

	// Deterministic map order keeps the output reproducible.
	keys := make([]string, 0, len(meta.Metadata))
	for k := range meta.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var entry []byte
		entry = appendString(entry, 1, k)
		entry = appendString(entry, 2, meta.Metadata[k])
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}

	return appendString(b, 10, meta.JSONConfigSchema)
}

func unmarshalMetadata(data []byte) (*registrationv1.ServiceRegistrationMetadata, error) {
	meta := &registrationv1.ServiceRegistrationMetadata{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
			continue
		}

		payload, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case 1:
			meta.ModuleName = string(payload)
		case 2:
			meta.Version = string(payload)
		case 3:
			meta.DisplayName = string(payload)
		case 4:
			meta.Description = string(payload)
		case 5:
			meta.Owner = string(payload)
		case 6:
			meta.DocumentationURL = string(payload)
		case 7:
			meta.Tags = append(meta.Tags, string(payload))
		case 8:
			meta.Dependencies = append(meta.Dependencies, string(payload))
		case 9:
			key, value, err := decodeMapEntry(payload)
			if err != nil {
				return nil, err
			}
			if meta.Metadata == nil {
				meta.Metadata = make(map[string]string)
			}
			meta.Metadata[key] = value
		case 10:
			meta.JSONConfigSchema = string(payload)
		}
	}
	return meta, nil
}

func decodeMapEntry(b []byte) (key, value string, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", protowire.ParseError(n)
		}
		b = b[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", "", protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}

		s, n := protowire.ConsumeString(b)
		if n < 0 {
			return "", "", protowire.ParseError(n)
		}
		b = b[n:]

		switch num {
		case 1:
			key = s
		case 2:
			value = s
		}
	}
	return key, value, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
