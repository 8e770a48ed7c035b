package util

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// ValidationError reports a tool argument that does not match its schema.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("argument %q: %s", e.Field, e.Message)
}

// CreateSchema derives a JSON object schema from the exported fields of a
// struct. The json tag names the property; omitempty or a pointer makes it
// optional. The description, minimum, maximum and enum tags (enum values
// separated by '|') are copied into the property schema.
func CreateSchema(v any) map[string]any {
	props := map[string]any{}
	schema := map[string]any{"type": "object", "properties": props}

	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return schema
	}

	var required []string
	for f := range fieldsOf(t) {
		name, optional, ok := jsonName(f)
		if !ok {
			continue
		}
		prop := map[string]any{"type": jsonType(f.Type)}
		if d := f.Tag.Get("description"); d != "" {
			prop["description"] = d
		}
		for _, key := range []string{"minimum", "maximum"} {
			if n, err := strconv.ParseFloat(f.Tag.Get(key), 64); err == nil {
				prop[key] = n
			}
		}
		if enum := f.Tag.Get("enum"); enum != "" {
			prop["enum"] = strings.Split(enum, "|")
		}
		props[name] = prop
		if !optional && f.Type.Kind() != reflect.Pointer {
			required = append(required, name)
		}
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func fieldsOf(t reflect.Type) func(yield func(reflect.StructField) bool) {
	return func(yield func(reflect.StructField) bool) {
		for i := range t.NumField() {
			if f := t.Field(i); f.IsExported() && !yield(f) {
				return
			}
		}
	}
}

func jsonName(f reflect.StructField) (name string, optional, ok bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, false
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	return name, slices.Contains(strings.Split(opts, ","), "omitempty"), true
}

func jsonType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Pointer:
		return jsonType(t.Elem())
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	default:
		return "string"
	}
}

// ValidateParameters checks decoded tool arguments against schema: required
// properties, types, numeric bounds and enums. Unknown arguments pass.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	for _, name := range stringList(schema["required"]) {
		if _, ok := params[name]; !ok {
			return &ValidationError{Field: name, Message: "is required"}
		}
	}
	props, _ := schema["properties"].(map[string]any)
	for name, value := range params {
		prop, ok := props[name].(map[string]any)
		if !ok || value == nil {
			continue
		}
		if err := checkValue(prop, value); err != "" {
			return &ValidationError{Field: name, Value: value, Message: err}
		}
	}
	return nil
}

func checkValue(prop map[string]any, value any) string {
	want, _ := prop["type"].(string)
	if !hasType(value, want) {
		return fmt.Sprintf("expected type %s, got %T", want, value)
	}
	if n, ok := number(value); ok {
		if lo, ok := number(prop["minimum"]); ok && n < lo {
			return fmt.Sprintf("must be at least %v", prop["minimum"])
		}
		if hi, ok := number(prop["maximum"]); ok && n > hi {
			return fmt.Sprintf("must be at most %v", prop["maximum"])
		}
	}
	if enum := stringList(prop["enum"]); len(enum) > 0 {
		if s, ok := value.(string); ok && !slices.Contains(enum, s) {
			return fmt.Sprintf("must be one of %s", strings.Join(enum, ", "))
		}
	}
	return ""
}

// stringList accepts []string from Go literals and []any from decoded JSON.
func stringList(v any) []string {
	switch l := v.(type) {
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func number(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func hasType(v any, want string) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "number":
		_, ok := number(v)
		return ok
	case "integer":
		n, ok := number(v)
		return ok && n == float64(int64(n))
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}
