package config

import (
	"encoding/json"
	"reflect"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
)

// SchemaID identifies the published config schema.
const SchemaID = "https://github.com/haasonsaas/agentrun/schemas/config.json"

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// durationPattern matches the strings accepted by time.ParseDuration.
const durationPattern = `^-?([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`

// JSONSchema returns the JSON Schema of an agentrun config file. Every
// setting is optional; durations are Go duration strings and the top level
// also accepts the $include directive.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag:               "yaml",
			RequiredFromJSONSchemaTags: true,
			ExpandedStruct:             true,
			Mapper:                     mapConfigType,
		}
		schema := r.Reflect(&Config{})
		schema.ID = SchemaID
		schema.Title = "agentrun configuration"
		schema.Properties.Set(includeKey, &jsonschema.Schema{
			Description: "Files merged underneath this one, resolved relative to it.",
			OneOf: []*jsonschema.Schema{
				{Type: "string"},
				{Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			},
		})
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}

func mapConfigType(t reflect.Type) *jsonschema.Schema {
	if t == reflect.TypeOf(time.Duration(0)) {
		return &jsonschema.Schema{
			Type:        "string",
			Pattern:     durationPattern,
			Description: "Go duration such as 500ms, 30s or 5m.",
		}
	}
	return nil
}
