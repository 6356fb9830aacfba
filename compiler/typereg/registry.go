// Package typereg holds the custom type registry consumed by the schema
// compiler and path resolver. Custom types come in three kinds: enums
// (integer-backed value lists), patterns (regex-validated strings) and
// aggregates (composite types that expand into multiple physical columns).
//
// A Registry is an explicit value passed into every compilation call; there
// is no package-level instance. It must be fully populated, globals plus
// every entity's local types, before schema compilation starts.
package typereg

import (
	"fmt"
	"strings"
)

// Kind classifies a custom type.
type Kind int

const (
	KindEnum Kind = iota
	KindPattern
	KindAggregate
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindEnum:
		return "enum"
	case KindPattern:
		return "pattern"
	case KindAggregate:
		return "aggregate"
	default:
		return "unknown"
	}
}

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "enum":
		return KindEnum, nil
	case "pattern":
		return KindPattern, nil
	case "aggregate":
		return KindAggregate, nil
	default:
		return 0, fmt.Errorf("unknown type kind: %s", s)
	}
}

// AggregateField is one sub-field of an aggregate type.
type AggregateField struct {
	Name    string
	Type    string // built-in type name: int, string, date, bool
	SQLType string
}

// TypeDef is a resolved custom type definition.
type TypeDef struct {
	Name       string
	Kind       Kind
	SQLType    string
	Validation string   // regex source for pattern types
	Values     []string // external enum values, declaration order
	Example    string   // example value for pattern types
	Subfields  []AggregateField
}

// EnumIndex maps an external enum value to its integer-backed internal
// representation: the zero-based position in the declared value list.
func (d *TypeDef) EnumIndex(external string) (int, bool) {
	for i, v := range d.Values {
		if strings.EqualFold(v, external) {
			return i, true
		}
	}
	return 0, false
}

// EnumValue maps an internal index back to the external enum value.
func (d *TypeDef) EnumValue(index int) (string, bool) {
	if index < 0 || index >= len(d.Values) {
		return "", false
	}
	return d.Values[index], true
}

// Registry resolves custom type names, with entity-local definitions
// shadowing global ones for their entity.
type Registry struct {
	global map[string]*TypeDef
	scoped map[string]map[string]*TypeDef
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		global: make(map[string]*TypeDef),
		scoped: make(map[string]map[string]*TypeDef),
	}
}

// Register adds a global type definition.
func (r *Registry) Register(def *TypeDef) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("type definition must have a name")
	}
	if _, exists := r.global[def.Name]; exists {
		return fmt.Errorf("duplicate global type: %s", def.Name)
	}
	r.normalize(def)
	r.global[def.Name] = def
	return nil
}

// RegisterScoped adds a type definition visible only to one entity.
func (r *Registry) RegisterScoped(entity string, def *TypeDef) error {
	if entity == "" {
		return fmt.Errorf("scoped type %s: entity name required", def.Name)
	}
	if def == nil || def.Name == "" {
		return fmt.Errorf("type definition must have a name")
	}
	types, ok := r.scoped[entity]
	if !ok {
		types = make(map[string]*TypeDef)
		r.scoped[entity] = types
	}
	if _, exists := types[def.Name]; exists {
		return fmt.Errorf("duplicate type %s on entity %s", def.Name, entity)
	}
	r.normalize(def)
	types[def.Name] = def
	return nil
}

// Resolve looks a type name up, preferring scopeEntity's local definitions.
func (r *Registry) Resolve(name, scopeEntity string) (*TypeDef, bool) {
	if scopeEntity != "" {
		if types, ok := r.scoped[scopeEntity]; ok {
			if def, ok := types[name]; ok {
				return def, true
			}
		}
	}
	def, ok := r.global[name]
	return def, ok
}

// IsAggregate reports whether the name resolves to an aggregate type.
func (r *Registry) IsAggregate(name, scopeEntity string) bool {
	def, ok := r.Resolve(name, scopeEntity)
	return ok && def.Kind == KindAggregate
}

// AggregateFields returns the sub-fields of an aggregate type, or nil when
// the name does not resolve to one.
func (r *Registry) AggregateFields(name, scopeEntity string) []AggregateField {
	def, ok := r.Resolve(name, scopeEntity)
	if !ok || def.Kind != KindAggregate {
		return nil
	}
	return def.Subfields
}

// normalize back-fills derivable attributes so resolvers never see a
// half-specified definition.
func (r *Registry) normalize(def *TypeDef) {
	if def.SQLType == "" {
		switch def.Kind {
		case KindEnum:
			def.SQLType = "INTEGER"
		case KindPattern:
			def.SQLType = "TEXT"
		}
	}
	for i := range def.Subfields {
		if def.Subfields[i].SQLType == "" {
			def.Subfields[i].SQLType = builtinSQLType(def.Subfields[i].Type)
		}
	}
}

// builtinSQLType maps the built-in type table to SQL column types.
// Aggregate sub-fields may only use built-in types.
func builtinSQLType(name string) string {
	switch strings.ToLower(name) {
	case "int":
		return "INTEGER"
	case "bool":
		return "BOOLEAN"
	case "date":
		return "DATE"
	default:
		return "TEXT"
	}
}
