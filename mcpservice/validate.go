package mcpservice

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/toolwire/mcp-stdio-go/mcp"
)

// ValidationError reports argument schema violations for a tool call. It
// carries every issue found rather than just the first, so clients can fix a
// malformed call in one round trip.
type ValidationError struct {
	Tool   string
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments: %s", strings.Join(e.Issues, "; "))
}

// ValidateArguments checks raw call arguments against a tool's declared
// input schema. A nil return means the arguments conform. The check covers
// required fields, primitive types, enum membership, array item schemas,
// nested object properties, and unknown-field rejection when the schema
// disallows additional properties.
func ValidateArguments(schema mcp.ToolInputSchema, raw json.RawMessage) *ValidationError {
	var args map[string]json.RawMessage
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return &ValidationError{Issues: []string{"arguments must be a JSON object"}}
		}
	}

	var issues []string
	for _, name := range schema.Required {
		if _, ok := args[name]; !ok {
			issues = append(issues, fmt.Sprintf("missing required property %q", name))
		}
	}
	for name, val := range args {
		prop, ok := schema.Properties[name]
		if !ok {
			if !schema.AdditionalProperties {
				issues = append(issues, fmt.Sprintf("unknown property %q", name))
			}
			continue
		}
		issues = append(issues, checkValue(name, prop, val)...)
	}
	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}

// checkValue validates one JSON value against a schema node. path names the
// value's location for error messages.
func checkValue(path string, prop mcp.SchemaProperty, raw json.RawMessage) []string {
	var issues []string

	if prop.Type != "" && !typeMatches(prop.Type, raw) {
		issues = append(issues, fmt.Sprintf("property %q must be of type %s", path, prop.Type))
		return issues
	}
	if len(prop.Enum) > 0 && !enumContains(prop.Enum, raw) {
		issues = append(issues, fmt.Sprintf("property %q must be one of the enum values", path))
		return issues
	}

	switch prop.Type {
	case "array":
		if prop.Items == nil {
			break
		}
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			break
		}
		for i, el := range elems {
			issues = append(issues, checkValue(fmt.Sprintf("%s[%d]", path, i), *prop.Items, el)...)
		}
	case "object":
		if len(prop.Properties) == 0 && len(prop.Required) == 0 {
			break
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			break
		}
		for _, name := range prop.Required {
			if _, ok := fields[name]; !ok {
				issues = append(issues, fmt.Sprintf("missing required property %q", path+"."+name))
			}
		}
		for name, val := range fields {
			sub, ok := prop.Properties[name]
			if !ok {
				continue
			}
			issues = append(issues, checkValue(path+"."+name, sub, val)...)
		}
	}
	return issues
}

// typeMatches reports whether a raw JSON value conforms to a JSON-schema
// primitive type name.
func typeMatches(typ string, raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "null" {
		// null never satisfies a typed property
		return false
	}
	switch typ {
	case "string":
		return strings.HasPrefix(trimmed, `"`)
	case "boolean":
		return trimmed == "true" || trimmed == "false"
	case "number":
		var f float64
		return json.Unmarshal(raw, &f) == nil
	case "integer":
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return false
		}
		return f == float64(int64(f))
	case "array":
		return strings.HasPrefix(trimmed, "[")
	case "object":
		return strings.HasPrefix(trimmed, "{")
	default:
		// unknown type names are not enforced
		return true
	}
}

// enumContains reports whether raw equals one of the allowed enum values
// under JSON equality.
func enumContains(allowed []any, raw json.RawMessage) bool {
	var got any
	if err := json.Unmarshal(raw, &got); err != nil {
		return false
	}
	for _, want := range allowed {
		wb, err := json.Marshal(want)
		if err != nil {
			continue
		}
		var wv any
		if err := json.Unmarshal(wb, &wv); err != nil {
			continue
		}
		if jsonEqual(got, wv) {
			return true
		}
	}
	return false
}

func jsonEqual(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}
