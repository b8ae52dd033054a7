package registrationv1

import "fmt"

const defaultConfigSchemaTemplate = `{
  "openapi": "3.1.0",
  "info": { "title": "%s Configuration", "version": "1.0.0" },
  "components": {
    "schemas": {
      "Config": {
        "type": "object",
        "additionalProperties": { "type": "string" },
        "description": "Key-value configuration for %s"
      }
    }
  }
}`

// DefaultConfigSchema synthesises the fallback configuration schema for a
// module that does not publish one: an OpenAPI 3.1 document describing a
// free-form key-value map. Callers see this exact shape, so the template is
// part of the contract.
func DefaultConfigSchema(moduleName string) string {
	return fmt.Sprintf(defaultConfigSchemaTemplate, moduleName, moduleName)
}
