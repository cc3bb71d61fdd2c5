// Package schema defines the structural output contracts enforced on model
// responses: a declarative field specification, a strict validator, and the
// builder for field-specific correction instructions used on repair attempts.
package schema

import (
	"fmt"
	"strings"
)

// FieldType enumerates the supported value types.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "bool"
	TypeList   FieldType = "list"
	TypeObject FieldType = "object"
)

func (t FieldType) known() bool {
	switch t {
	case TypeString, TypeInt, TypeNumber, TypeBool, TypeList, TypeObject:
		return true
	}
	return false
}

// Field describes one field of a structured output value. Lists carry an
// Items spec; objects carry nested Fields. Nesting is intentionally shallow:
// output contracts are flat or one level deep.
type Field struct {
	Name        string   `yaml:"name"`
	Type        FieldType `yaml:"type"`
	Required    bool     `yaml:"required"`
	Description string   `yaml:"description,omitempty"`
	Enum        []string `yaml:"enum,omitempty"`
	Min         *float64 `yaml:"min,omitempty"`
	Max         *float64 `yaml:"max,omitempty"`
	Items       *Field   `yaml:"items,omitempty"`
	Fields      []Field  `yaml:"fields,omitempty"`
}

// Schema is the output contract for one task type.
type Schema struct {
	Fields []Field `yaml:"fields"`
}

// Validate checks the schema definition itself. Called once at template load;
// a schema that passes here is safe to validate outputs against.
func (s *Schema) Validate() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema declares no fields")
	}
	return validateFields("", s.Fields)
}

func validateFields(path string, fields []Field) error {
	seen := make(map[string]bool, len(fields))
	for i := range fields {
		f := &fields[i]
		p := joinPath(path, f.Name)
		if f.Name == "" {
			return fmt.Errorf("field at %q has no name", path)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %q", p)
		}
		seen[f.Name] = true
		if err := validateField(p, f); err != nil {
			return err
		}
	}
	return nil
}

func validateField(path string, f *Field) error {
	if !f.Type.known() {
		return fmt.Errorf("field %q has unknown type %q", path, f.Type)
	}
	if len(f.Enum) > 0 && f.Type != TypeString {
		return fmt.Errorf("field %q declares an enum but is not a string", path)
	}
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return fmt.Errorf("field %q has min > max", path)
	}
	if (f.Min != nil || f.Max != nil) && f.Type != TypeInt && f.Type != TypeNumber {
		return fmt.Errorf("field %q declares bounds but is not numeric", path)
	}
	switch f.Type {
	case TypeList:
		if f.Items == nil {
			return fmt.Errorf("list field %q declares no item spec", path)
		}
		if err := validateField(path+"[]", f.Items); err != nil {
			return err
		}
	case TypeObject:
		if len(f.Fields) == 0 {
			return fmt.Errorf("object field %q declares no fields", path)
		}
		if err := validateFields(path, f.Fields); err != nil {
			return err
		}
	default:
		if f.Items != nil || len(f.Fields) > 0 {
			return fmt.Errorf("field %q carries item/object specs but is scalar", path)
		}
	}
	return nil
}

// Describe renders the schema as the deterministic prompt section instructing
// the model what to return. Field order follows the declaration order, which
// is fixed per template.
func (s *Schema) Describe() string {
	var b strings.Builder
	b.WriteString("Respond with a single JSON object and nothing else: no prose, no markdown fences.\n")
	b.WriteString("The object must contain exactly these fields:\n")
	describeFields(&b, s.Fields, 0)
	return b.String()
}

func describeFields(b *strings.Builder, fields []Field, depth int) {
	indent := strings.Repeat("  ", depth)
	for i := range fields {
		f := &fields[i]
		b.WriteString(indent)
		b.WriteString("- ")
		b.WriteString(fmt.Sprintf("%q (%s", f.Name, typeLabel(f)))
		if f.Required {
			b.WriteString(", required")
		}
		if len(f.Enum) > 0 {
			b.WriteString(", one of: ")
			b.WriteString(strings.Join(f.Enum, " | "))
		}
		if f.Min != nil && f.Max != nil {
			b.WriteString(fmt.Sprintf(", between %s and %s", trimFloat(*f.Min), trimFloat(*f.Max)))
		} else if f.Min != nil {
			b.WriteString(fmt.Sprintf(", at least %s", trimFloat(*f.Min)))
		} else if f.Max != nil {
			b.WriteString(fmt.Sprintf(", at most %s", trimFloat(*f.Max)))
		}
		b.WriteString(")")
		if f.Description != "" {
			b.WriteString(": ")
			b.WriteString(f.Description)
		}
		b.WriteString("\n")
		if f.Type == TypeObject {
			describeFields(b, f.Fields, depth+1)
		}
		if f.Type == TypeList && f.Items != nil && f.Items.Type == TypeObject {
			describeFields(b, f.Items.Fields, depth+1)
		}
	}
}

func typeLabel(f *Field) string {
	switch f.Type {
	case TypeInt:
		return "integer"
	case TypeList:
		if f.Items != nil {
			return "list of " + typeLabel(f.Items)
		}
		return "list"
	case TypeObject:
		return "object"
	default:
		return string(f.Type)
	}
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%g", v)
	return s
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}
