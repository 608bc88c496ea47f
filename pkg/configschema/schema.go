// Package configschema generates a JSON Schema for the tabular configuration file.
package configschema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/nimburion/tabular/pkg/config"
)

// enums constrains string settings whose values are a closed set. A "[]" segment steps
// into array items.
var enums = map[string][]any{
	"store.backend":                   {config.StoreBackendRedis, config.StoreBackendMemory},
	"query.ordered_list_kind":         {config.OrderedListKindList, config.OrderedListKindZSet},
	"observability.log_level":         {"debug", "info", "warn", "error"},
	"observability.log_format":        {"json", "text"},
	"refresh.tasks.[].misfire_policy": {config.MisfirePolicySkip, config.MisfirePolicyFireOnce},
}

// BuildSchema returns a JSON Schema for config.Config keyed by the names the loader reads,
// with DefaultConfig values as defaults.
func BuildSchema() (*jsonschema.Schema, error) {
	opts := &jsonschema.ForOptions{
		IgnoreInvalidTypes: true,
		TypeSchemas: map[reflect.Type]*jsonschema.Schema{
			reflect.TypeOf(time.Duration(0)): {Type: "string"},
		},
	}

	t := reflect.TypeOf(config.Config{})
	schema, err := jsonschema.ForType(t, opts)
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	applyFieldNames(schema, t)
	injectDefaults(schema, reflect.ValueOf(config.DefaultConfig()))
	pruneRequiredWithDefaults(schema)

	for path, values := range enums {
		node := lookup(schema, path)
		if node == nil {
			return nil, fmt.Errorf("schema has no property %s", path)
		}
		node.Enum = values
	}

	if task := lookup(schema, "refresh.tasks.[]"); task != nil {
		task.Required = []string{"name", "schedule", "command"}
	}

	schema.Title = "tabular configuration"
	schema.Description = "Settings read from the config file; each may be overridden by TABULAR_* environment variables."
	schema.Schema = "https://json-schema.org/draft/2020-12/schema"
	return schema, nil
}

// lookup follows a dotted property path.
func lookup(schema *jsonschema.Schema, path string) *jsonschema.Schema {
	node := schema
	for _, segment := range strings.Split(path, ".") {
		if node == nil {
			return nil
		}
		if segment == "[]" {
			node = node.Items
			continue
		}
		node = node.Properties[segment]
	}
	return node
}

// applyFieldNames renames properties from Go field names to mapstructure keys.
func applyFieldNames(schema *jsonschema.Schema, t reflect.Type) {
	if schema == nil || t == nil {
		return
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Struct:
		if len(schema.Properties) == 0 {
			return
		}
		names := make(map[string]string)
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			key := fieldKeyName(field)
			names[field.Name] = key
			if prop, ok := schema.Properties[field.Name]; ok {
				delete(schema.Properties, field.Name)
				schema.Properties[key] = prop
				applyFieldNames(prop, field.Type)
			}
		}
		schema.Required = renamed(schema.Required, names)
		schema.PropertyOrder = renamed(schema.PropertyOrder, names)

	case reflect.Slice, reflect.Array:
		applyFieldNames(schema.Items, t.Elem())
	}
}

func renamed(list []string, names map[string]string) []string {
	if len(list) == 0 {
		return list
	}
	out := make([]string, 0, len(list))
	for _, name := range list {
		if mapped, ok := names[name]; ok {
			name = mapped
		}
		out = append(out, name)
	}
	return out
}

func injectDefaults(schema *jsonschema.Schema, value reflect.Value) {
	if schema == nil || !value.IsValid() {
		return
	}
	for value.Kind() == reflect.Pointer {
		if value.IsNil() {
			return
		}
		value = value.Elem()
	}

	if value.Kind() != reflect.Struct {
		if schema.Default == nil {
			if raw, ok := marshalDefault(value); ok {
				schema.Default = raw
			}
		}
		return
	}

	t := value.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		prop, ok := schema.Properties[fieldKeyName(field)]
		if !ok {
			continue
		}
		fieldVal := value.Field(i)
		// empty lists carry no default; an explicit [] would read as a recommendation
		if fieldVal.Kind() == reflect.Slice && fieldVal.Len() == 0 {
			continue
		}
		injectDefaults(prop, fieldVal)
	}
}

// pruneRequiredWithDefaults drops required markers the loader fills in anyway.
func pruneRequiredWithDefaults(schema *jsonschema.Schema) {
	if schema == nil {
		return
	}
	for _, prop := range schema.Properties {
		pruneRequiredWithDefaults(prop)
	}
	pruneRequiredWithDefaults(schema.Items)
	if len(schema.Required) == 0 || len(schema.Properties) == 0 {
		return
	}
	kept := make([]string, 0, len(schema.Required))
	for _, name := range schema.Required {
		prop := schema.Properties[name]
		if prop == nil || (prop.Default == nil && prop.Type != "object") {
			kept = append(kept, name)
		}
	}
	schema.Required = kept
}

func marshalDefault(value reflect.Value) (json.RawMessage, bool) {
	if value.Type() == reflect.TypeOf(time.Duration(0)) {
		payload, err := json.Marshal(value.Interface().(time.Duration).String())
		return payload, err == nil
	}
	payload, err := json.Marshal(value.Interface())
	return payload, err == nil
}

func fieldKeyName(field reflect.StructField) string {
	if tag := field.Tag.Get("mapstructure"); tag != "" {
		if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
			return name
		}
	}
	return strings.ToLower(field.Name)
}
