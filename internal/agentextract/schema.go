package agentextract

import (
	"fmt"
	"math"
	"reflect"
)

// Validate checks data (already json.Unmarshal'd into any) against a JSON
// Schema subset — type, required, properties, enum, items,
// additionalProperties — returning one message per violation. An empty
// result means data satisfies schema.
func Validate(schema map[string]any, data any) []string {
	return validateNode(schema, data, "$")
}

func validateNode(schema map[string]any, data any, path string) []string {
	var errs []string

	if t, ok := schema["type"].(string); ok {
		if !matchesType(t, data) {
			return append(errs, fmt.Sprintf("%s: expected type %q, got %s", path, t, jsonTypeName(data)))
		}
	}

	if enumVals, ok := schema["enum"].([]any); ok {
		if !containsValue(enumVals, data) {
			errs = append(errs, fmt.Sprintf("%s: value %v is not one of the allowed enum values", path, data))
		}
	}

	switch v := data.(type) {
	case map[string]any:
		errs = append(errs, validateObject(schema, v, path)...)
	case []any:
		if itemSchema, ok := schema["items"].(map[string]any); ok {
			for i, item := range v {
				errs = append(errs, validateNode(itemSchema, item, fmt.Sprintf("%s[%d]", path, i))...)
			}
		}
	}
	return errs
}

func validateObject(schema map[string]any, obj map[string]any, path string) []string {
	var errs []string

	props, _ := schema["properties"].(map[string]any)
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			name, _ := r.(string)
			if _, present := obj[name]; !present {
				errs = append(errs, fmt.Sprintf("%s: missing required property %q", path, name))
			}
		}
	}

	additionalAllowed := true
	if aa, ok := schema["additionalProperties"].(bool); ok {
		additionalAllowed = aa
	}

	for key, val := range obj {
		propSchema, known := props[key].(map[string]any)
		switch {
		case known:
			errs = append(errs, validateNode(propSchema, val, path+"."+key)...)
		case !additionalAllowed:
			errs = append(errs, fmt.Sprintf("%s: additional property %q is not allowed", path, key))
		}
	}
	return errs
}

func matchesType(t string, data any) bool {
	switch t {
	case "object":
		_, ok := data.(map[string]any)
		return ok
	case "array":
		_, ok := data.([]any)
		return ok
	case "string":
		_, ok := data.(string)
		return ok
	case "number":
		_, ok := data.(float64)
		return ok
	case "integer":
		f, ok := data.(float64)
		return ok && f == math.Trunc(f)
	case "boolean":
		_, ok := data.(bool)
		return ok
	case "null":
		return data == nil
	default:
		return true
	}
}

func jsonTypeName(data any) string {
	switch data.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", data)
	}
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if reflect.DeepEqual(item, v) {
			return true
		}
	}
	return false
}
