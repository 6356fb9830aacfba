// Package schema defines the resolved entity schema model and the compiler
// that produces it from parsed entity documents. An EntitySchema is created
// once per compile pass and is immutable afterwards, except for the
// enrichment pass that back-fills foreign-key label fields once every entity
// is known.
package schema

import (
	"github.com/metamark-lang/metamark/compiler/annotation"
	"github.com/metamark-lang/metamark/compiler/typereg"
)

// ResultType is the client-facing value type of a column.
type ResultType int

const (
	ResultString ResultType = iota
	ResultNumber
	ResultBoolean
)

// String returns the string representation of the result type.
func (r ResultType) String() string {
	switch r {
	case ResultNumber:
		return "number"
	case ResultBoolean:
		return "boolean"
	default:
		return "string"
	}
}

// UIFlags carries the presentation tags of a column.
type UIFlags struct {
	Label    bool
	Label2   bool
	ReadOnly bool
	Hidden   bool
	Detail   bool
}

// Calculated is a client-side formula attached to a column together with
// the columns it reads.
type Calculated struct {
	Formula   string
	DependsOn []string
}

// Column is one physical column of a compiled entity.
type Column struct {
	Name        string
	SourceType  string // raw type cell text, annotations stripped
	Description string
	SQLType     string
	ResultType  ResultType
	Required    bool
	Unique      bool // bare [UNIQUE]: rendered as an inline constraint
	CustomType  string
	DisplayName string // conceptual name before _id suffixing
	ForeignKey  *ForeignKey
	UI          UIFlags

	DefaultValue string
	HasDefault   bool

	// Set when this column is one expanded field of an aggregate type.
	AggregateSource string
	AggregateType   string
	AggregateField  string

	Validation string
	EnumValues []string

	Computed   *annotation.ComputedRule
	Calculated *Calculated
}

// IsIdentity reports whether this is the entity's identity column.
func (c *Column) IsIdentity() bool { return c.Name == IdentityColumn }

// ForeignKey links a source column to the identity column of a target
// entity. LabelFields is resolved by the enrichment pass after all entities
// are compiled.
type ForeignKey struct {
	SourceColumn string
	TargetEntity string
	TargetColumn string
	DisplayName  string
	LabelFields  LabelFields
}

// LabelFields names the column(s) whose values represent a record.
type LabelFields struct {
	Primary   string
	Secondary string
}

// IdentityColumn is the fixed identity column name of every entity.
const IdentityColumn = "id"

// System columns appended to every entity, never present in source text.
const (
	CreatedColumn = "created_at"
	UpdatedColumn = "updated_at"
	VersionColumn = "version"
)

// EntitySchema is one fully resolved entity.
type EntitySchema struct {
	ClassName   string
	TableName   string
	Description string
	Area        string

	Columns     []*Column
	UniqueKeys  map[string][]string // composite UKn groups
	Indexes     map[string][]string // INDEX / IXn groups
	ForeignKeys []*ForeignKey
	EnumFields  map[string][]string // column name -> external enum values

	Labels LabelFields
	// LabelExpr is a computed label: a path expression declared as a
	// calculation named "label". When set it takes precedence over Labels
	// during path resolution.
	LabelExpr string
}

// Column returns the column with the given name, or nil.
func (e *EntitySchema) Column(name string) *Column {
	for _, c := range e.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// FindForeignKey matches a path segment against the entity's foreign keys
// by declared display name, raw column name, or column name with the _id
// suffix stripped.
func (e *EntitySchema) FindForeignKey(segment string) *ForeignKey {
	for _, fk := range e.ForeignKeys {
		if fk.DisplayName == segment || fk.SourceColumn == segment {
			return fk
		}
		if fk.SourceColumn == segment+"_id" {
			return fk
		}
	}
	return nil
}

// AggregateColumns returns the expanded columns of the aggregate attribute
// with the given source name, in declaration order.
func (e *EntitySchema) AggregateColumns(source string) []*Column {
	var cols []*Column
	for _, c := range e.Columns {
		if c.AggregateSource == source {
			cols = append(cols, c)
		}
	}
	return cols
}

// BackRef is one inverse relationship: an entity holding a foreign key
// column pointing at the map key entity.
type BackRef struct {
	Entity string
	Column string
}

// Area groups entities for presentation.
type Area struct {
	DisplayName string   `yaml:"name"`
	Color       string   `yaml:"color"`
	Entities    []string `yaml:"entities"`
}

// Graph is the compiled schema set: every entity, a dependency-safe
// creation order, the inverse foreign-key adjacency and area metadata.
// Unordered lists entities trapped in a non-self foreign-key cycle; they are
// excluded from Ordered but remain observable here.
type Graph struct {
	Entities  map[string]*EntitySchema
	Ordered   []string
	Unordered []string
	Inverse   map[string][]BackRef
	Areas     map[string]Area

	// Registry is the type registry the graph was compiled against; path
	// resolution needs it for aggregate expansion.
	Registry *typereg.Registry
}

// Entity returns the entity with the given class name, or nil.
func (g *Graph) Entity(name string) *EntitySchema {
	return g.Entities[name]
}
