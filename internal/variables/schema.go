package variables

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/spf13/cast"

	"github.com/conneroisu/scaffolder/internal/descriptor"
	scaffolderrors "github.com/conneroisu/scaffolder/internal/errors"
)

// Validator checks one value against the schema registered under schemaID.
// An unknown schemaID yields no violations.
type Validator interface {
	Validate(schemaID string, value interface{}) []scaffolderrors.Violation
}

// Coercer is implemented by validators that can convert loosely typed input
// (for example strings from the command line) into the declared type.
type Coercer interface {
	Coerce(schemaID string, value interface{}) (interface{}, error)
}

// SchemaSet is the default Validator, built from descriptor variable specs.
type SchemaSet struct {
	specs    map[string]descriptor.VariableSpec
	patterns map[string]*regexp.Regexp
}

// NewSchemaSet indexes specs by name. Invalid patterns are ignored here; the
// descriptor validator reports them.
func NewSchemaSet(specs []descriptor.VariableSpec) *SchemaSet {
	s := &SchemaSet{
		specs:    make(map[string]descriptor.VariableSpec, len(specs)),
		patterns: make(map[string]*regexp.Regexp),
	}
	for _, spec := range specs {
		s.specs[spec.Name] = spec
		if spec.Pattern != "" {
			if re, err := regexp.Compile(spec.Pattern); err == nil {
				s.patterns[spec.Name] = re
			}
		}
	}
	return s
}

// Coerce converts value to the schema's declared type.
func (s *SchemaSet) Coerce(schemaID string, value interface{}) (interface{}, error) {
	spec, ok := s.specs[schemaID]
	if !ok {
		return value, nil
	}
	return coerce(spec.Type, value)
}

// Validate checks type, pattern and enum membership.
func (s *SchemaSet) Validate(schemaID string, value interface{}) []scaffolderrors.Violation {
	spec, ok := s.specs[schemaID]
	if !ok {
		return nil
	}

	var violations []scaffolderrors.Violation

	if !matchesType(spec.Type, value) {
		violations = append(violations, scaffolderrors.Violation{
			Field:   schemaID,
			Rule:    "type",
			Message: fmt.Sprintf("expected %s, got %T", spec.Type, value),
		})
		return violations
	}

	if re, ok := s.patterns[schemaID]; ok {
		if str, isString := value.(string); isString && !re.MatchString(str) {
			violations = append(violations, scaffolderrors.Violation{
				Field:   schemaID,
				Rule:    "pattern",
				Message: fmt.Sprintf("%q does not match %s", str, spec.Pattern),
			})
		}
	}

	if len(spec.Enum) > 0 && !inEnum(value, spec.Enum) {
		allowed := make([]string, len(spec.Enum))
		for i, e := range spec.Enum {
			allowed[i] = fmt.Sprint(e)
		}
		violations = append(violations, scaffolderrors.Violation{
			Field:   schemaID,
			Rule:    "enum",
			Message: fmt.Sprintf("%v is not one of [%s]", value, strings.Join(allowed, ", ")),
		})
	}

	return violations
}

func coerce(typ string, value interface{}) (interface{}, error) {
	switch typ {
	case descriptor.TypeString:
		return cast.ToStringE(value)
	case descriptor.TypeInteger:
		if f, ok := value.(float64); ok && f != math.Trunc(f) {
			return nil, fmt.Errorf("%v is not an integer", f)
		}
		if f, ok := value.(float32); ok && float64(f) != math.Trunc(float64(f)) {
			return nil, fmt.Errorf("%v is not an integer", f)
		}
		if str, ok := value.(string); ok {
			value = strings.TrimSpace(str)
		}
		return cast.ToInt64E(value)
	case descriptor.TypeNumber:
		return cast.ToFloat64E(value)
	case descriptor.TypeBoolean:
		return cast.ToBoolE(value)
	case descriptor.TypeArray:
		if str, ok := value.(string); ok {
			parts := strings.Split(str, ",")
			out := make([]interface{}, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			return out, nil
		}
		return cast.ToSliceE(value)
	case descriptor.TypeObject:
		return cast.ToStringMapE(value)
	default:
		return value, nil
	}
}

func matchesType(typ string, value interface{}) bool {
	switch typ {
	case "":
		return true
	case descriptor.TypeString:
		_, ok := value.(string)
		return ok
	case descriptor.TypeInteger:
		_, ok := value.(int64)
		return ok
	case descriptor.TypeNumber:
		_, ok := value.(float64)
		return ok
	case descriptor.TypeBoolean:
		_, ok := value.(bool)
		return ok
	case descriptor.TypeArray:
		_, ok := value.([]interface{})
		return ok
	case descriptor.TypeObject:
		_, ok := value.(map[string]interface{})
		return ok
	}
	return false
}

func inEnum(value interface{}, enum []interface{}) bool {
	want := fmt.Sprint(value)
	for _, e := range enum {
		if fmt.Sprint(e) == want {
			return true
		}
	}
	return false
}
