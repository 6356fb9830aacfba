package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/metamark-lang/metamark/compiler/annotation"
	"github.com/metamark-lang/metamark/compiler/entity"
	"github.com/metamark-lang/metamark/compiler/graph"
	"github.com/metamark-lang/metamark/compiler/typereg"
	utilstrings "github.com/metamark-lang/metamark/internal/util/strings"
)

// CurrentDateSentinel is the implicit default for otherwise-defaultless
// columns whose name contains "date". DDL renders it unquoted.
const CurrentDateSentinel = "CURRENT_DATE"

// builtinType is one entry of the built-in type table.
type builtinType struct {
	sqlType string
	result  ResultType
}

var builtins = map[string]builtinType{
	"int":    {"INTEGER", ResultNumber},
	"string": {"TEXT", ResultString},
	"date":   {"DATE", ResultString},
	"bool":   {"BOOLEAN", ResultBoolean},
}

// Compiler turns parsed entity documents into a schema graph. It collects
// errors and warnings instead of stopping: a failed entity is dropped and
// compilation continues for the rest.
type Compiler struct {
	registry *typereg.Registry
	errors   []error
	warnings []string
}

// NewCompiler creates a compiler bound to a fully populated type registry.
func NewCompiler(registry *typereg.Registry) *Compiler {
	return &Compiler{
		registry: registry,
		errors:   make([]error, 0),
		warnings: make([]string, 0),
	}
}

// Errors returns all hard errors encountered; each one corresponds to a
// dropped entity.
func (c *Compiler) Errors() []error { return c.errors }

// Warnings returns non-fatal diagnostics (skipped attributes, fallbacks).
func (c *Compiler) Warnings() []string { return c.warnings }

// Compile resolves every document into an EntitySchema, back-fills
// foreign-key label fields, builds the inverse adjacency and computes the
// dependency-safe creation order. Deterministic for identical input.
//
// allEntityNames widens the known entity set beyond the documents being
// compiled: an attribute typed with any known entity name becomes a foreign
// key, and a foreign key whose target then fails to compile (or was never
// passed in as a document) drops the referencing entity with a hard error.
// Names only ever seen as attribute types fall through to the plain-text
// fallback instead.
func (c *Compiler) Compile(docs []*entity.Document, allEntityNames []string, areas map[string]Area) *Graph {
	known := make(map[string]bool, len(docs)+len(allEntityNames))
	for _, doc := range docs {
		known[doc.Name] = true
	}
	for _, name := range allEntityNames {
		known[name] = true
	}

	g := &Graph{
		Entities: make(map[string]*EntitySchema, len(docs)),
		Inverse:  make(map[string][]BackRef),
		Areas:    areas,
		Registry: c.registry,
	}

	order := make([]string, 0, len(docs))
	for _, doc := range docs {
		ent, err := c.compileEntity(doc, known)
		if err != nil {
			c.errors = append(c.errors, fmt.Errorf("entity %s: %w", doc.Name, err))
			continue
		}
		g.Entities[ent.ClassName] = ent
		order = append(order, ent.ClassName)
	}

	order = c.dropBrokenReferences(g, order)
	c.assignAreas(g)
	c.enrichForeignKeys(g)
	c.buildInverse(g, order)

	g.Ordered, g.Unordered = graph.Order(order, foreignKeyEdges(g))
	return g
}

// compileEntity resolves one document. Foreign keys against missing targets
// are not caught here; dropBrokenReferences removes their entities once the
// whole set is compiled.
func (c *Compiler) compileEntity(doc *entity.Document, known map[string]bool) (*EntitySchema, error) {
	ent := &EntitySchema{
		ClassName:   doc.Name,
		TableName:   utilstrings.ToSnakeCase(doc.Name),
		Description: doc.Description,
		UniqueKeys:  make(map[string][]string),
		Indexes:     make(map[string][]string),
		EnumFields:  make(map[string][]string),
	}

	for _, warning := range doc.Warnings {
		c.warnf("%s: %s", doc.Name, warning)
	}

	for _, attr := range doc.Attributes {
		if err := c.compileAttribute(ent, doc, attr, known); err != nil {
			return nil, err
		}
	}

	if ent.Column(IdentityColumn) == nil {
		ent.Columns = append([]*Column{identityColumn()}, ent.Columns...)
	}
	ent.Columns = append(ent.Columns, systemColumns()...)

	c.resolveLabels(ent)
	c.attachCalculations(ent, doc)
	return ent, nil
}

// compileAttribute applies the column resolution policy, in priority order:
// aggregate expansion, conceptual foreign key, registry type, built-in type,
// plain-text fallback.
func (c *Compiler) compileAttribute(ent *EntitySchema, doc *entity.Document, attr entity.Attribute, known map[string]bool) error {
	typeText, typeTags := annotation.Strip(attr.Type)
	descText, descTags := annotation.Strip(attr.Description)
	tags := mergeTags(typeTags, descTags)

	if c.registry.IsAggregate(typeText, doc.Name) {
		c.expandAggregate(ent, attr.Name, typeText, doc.Name, tags)
		return nil
	}

	col := &Column{
		Name:        attr.Name,
		SourceType:  typeText,
		Description: descText,
		UI: UIFlags{
			Label:    tags.Label,
			Label2:   tags.Label2,
			ReadOnly: tags.ReadOnly,
			Hidden:   tags.Hidden,
			Detail:   tags.Detail,
		},
		Computed: tags.Computed,
	}

	switch {
	case known[typeText]:
		// Conceptual foreign key: the type names another entity.
		col.Name = attr.Name + "_id"
		col.DisplayName = attr.Name
		col.SQLType = "INTEGER"
		col.ResultType = ResultNumber
		col.ForeignKey = &ForeignKey{
			SourceColumn: col.Name,
			TargetEntity: typeText,
			TargetColumn: IdentityColumn,
			DisplayName:  attr.Name,
		}
		if col.Computed != nil {
			// A column carries a foreign key or a computed rule, never both.
			c.warnf("%s.%s: computed tag ignored on foreign key column", ent.ClassName, attr.Name)
			col.Computed = nil
		}
		ent.ForeignKeys = append(ent.ForeignKeys, col.ForeignKey)

	default:
		if def, ok := c.registry.Resolve(typeText, doc.Name); ok {
			col.CustomType = def.Name
			col.SQLType = def.SQLType
			col.Validation = def.Validation
			switch def.Kind {
			case typereg.KindEnum:
				col.ResultType = ResultNumber
				col.EnumValues = def.Values
				ent.EnumFields[col.Name] = def.Values
			default:
				col.ResultType = ResultString
			}
			c.applyDefault(ent, col, def, tags)
		} else if bt, ok := builtins[strings.ToLower(typeText)]; ok {
			col.SQLType = bt.sqlType
			col.ResultType = bt.result
			c.applyDefault(ent, col, nil, tags)
		} else {
			// Permissive fallback: treat unknown types as plain text.
			c.warnf("%s.%s: unknown type %q treated as text", ent.ClassName, attr.Name, typeText)
			col.SQLType = "TEXT"
			col.ResultType = ResultString
			c.applyDefault(ent, col, nil, tags)
		}
	}

	col.Required = c.isRequired(col, attr, tags)
	c.applyConstraints(ent, col, tags)
	ent.Columns = append(ent.Columns, col)
	return nil
}

// expandAggregate produces one column per sub-field, named
// {attribute}_{subfield}. The attribute itself yields no column. Each
// expansion is optional unless overridden and inherits the parent UI flags.
func (c *Compiler) expandAggregate(ent *EntitySchema, attrName, typeName, scope string, tags *annotation.Tags) {
	ui := UIFlags{
		Label:    tags.Label,
		Label2:   tags.Label2,
		ReadOnly: tags.ReadOnly,
		Hidden:   tags.Hidden,
		Detail:   tags.Detail,
	}
	for _, sub := range c.registry.AggregateFields(typeName, scope) {
		result := ResultString
		if bt, ok := builtins[strings.ToLower(sub.Type)]; ok {
			result = bt.result
		}
		ent.Columns = append(ent.Columns, &Column{
			Name:            attrName + "_" + sub.Name,
			SourceType:      sub.Type,
			SQLType:         sub.SQLType,
			ResultType:      result,
			Required:        false,
			UI:              ui,
			AggregateSource: attrName,
			AggregateType:   typeName,
			AggregateField:  sub.Name,
		})
	}
}

// isRequired applies the requiredness policy: a field is required unless it
// is the identity column, carries [OPTIONAL], or declares the literal
// example value null.
func (c *Compiler) isRequired(col *Column, attr entity.Attribute, tags *annotation.Tags) bool {
	if col.IsIdentity() || tags.Optional {
		return false
	}
	if strings.TrimSpace(attr.Example) == "null" {
		return false
	}
	return true
}

// applyDefault resolves the default value, in priority order: explicit
// [DEFAULT=x] (enum values mapped from external to internal), type-specific
// default, built-in default. Foreign key columns never receive an implicit
// default. Columns named like dates fall back to the current-date sentinel.
func (c *Compiler) applyDefault(ent *EntitySchema, col *Column, def *typereg.TypeDef, tags *annotation.Tags) {
	if tags.HasDefault {
		value := tags.Default
		if def != nil && def.Kind == typereg.KindEnum {
			if idx, ok := def.EnumIndex(value); ok {
				value = strconv.Itoa(idx)
			} else {
				c.warnf("%s.%s: default %q is not a %s value", ent.ClassName, col.Name, value, def.Name)
				value = "0"
			}
		}
		col.DefaultValue = value
		col.HasDefault = true
		return
	}

	if def != nil {
		switch def.Kind {
		case typereg.KindEnum:
			// First-listed value is the implicit enum default.
			col.DefaultValue = "0"
			col.HasDefault = true
			return
		case typereg.KindPattern:
			if def.Example != "" {
				col.DefaultValue = def.Example
				col.HasDefault = true
				return
			}
		}
	}

	if col.IsIdentity() {
		return
	}
	if strings.Contains(strings.ToLower(col.Name), "date") {
		col.DefaultValue = CurrentDateSentinel
		col.HasDefault = true
		return
	}
	switch col.ResultType {
	case ResultNumber, ResultBoolean:
		col.DefaultValue = "0"
	default:
		col.DefaultValue = ""
	}
	col.HasDefault = true
}

// applyConstraints accumulates unique/index annotations into named groups.
// Bare tags create a single-column group named from the table and column;
// a bare [UNIQUE] is additionally rendered inline on the column itself.
func (c *Compiler) applyConstraints(ent *EntitySchema, col *Column, tags *annotation.Tags) {
	if tags.Unique {
		col.Unique = true
		name := fmt.Sprintf("uk_%s_%s", ent.TableName, col.Name)
		ent.UniqueKeys[name] = append(ent.UniqueKeys[name], col.Name)
	}
	if tags.UniqueKey > 0 {
		name := fmt.Sprintf("uk_%s_%d", ent.TableName, tags.UniqueKey)
		ent.UniqueKeys[name] = append(ent.UniqueKeys[name], col.Name)
	}
	if tags.Index {
		name := fmt.Sprintf("ix_%s_%s", ent.TableName, col.Name)
		ent.Indexes[name] = append(ent.Indexes[name], col.Name)
	}
	if tags.IndexKey > 0 {
		name := fmt.Sprintf("ix_%s_%d", ent.TableName, tags.IndexKey)
		ent.Indexes[name] = append(ent.Indexes[name], col.Name)
	}
}

// resolveLabels picks the first [LABEL] and [LABEL2] columns.
func (c *Compiler) resolveLabels(ent *EntitySchema) {
	for _, col := range ent.Columns {
		if col.UI.Label && ent.Labels.Primary == "" {
			ent.Labels.Primary = col.Name
		}
		if col.UI.Label2 && ent.Labels.Secondary == "" {
			ent.Labels.Secondary = col.Name
		}
	}
}

// attachCalculations binds calculation rows to their columns. A calculation
// named "label" declares the entity's computed label expression instead.
func (c *Compiler) attachCalculations(ent *EntitySchema, doc *entity.Document) {
	for i := range doc.Calculations {
		calc := &doc.Calculations[i]
		if strings.EqualFold(calc.Field, "label") {
			ent.LabelExpr = calc.Formula
			continue
		}
		col := ent.Column(calc.Field)
		if col == nil {
			col = ent.Column(calc.Field + "_id")
		}
		if col == nil {
			c.warnf("%s: calculation for unknown column %s skipped", ent.ClassName, calc.Field)
			continue
		}
		col.Calculated = &Calculated{Formula: calc.Formula, DependsOn: calc.DependsOn}
	}
}

// dropBrokenReferences removes entities holding a foreign key whose target
// is absent from the compiled set: a hard error for the referencing entity.
// Removal cascades until the graph is closed under foreign-key targets.
func (c *Compiler) dropBrokenReferences(g *Graph, order []string) []string {
	for {
		changed := false
		kept := order[:0]
		for _, name := range order {
			ent := g.Entities[name]
			broken := ""
			for _, fk := range ent.ForeignKeys {
				if _, ok := g.Entities[fk.TargetEntity]; !ok {
					broken = fk.TargetEntity
					break
				}
			}
			if broken != "" {
				c.errors = append(c.errors, fmt.Errorf("entity %s: foreign key target %s is not part of the compiled schema", name, broken))
				delete(g.Entities, name)
				changed = true
				continue
			}
			kept = append(kept, name)
		}
		order = kept
		if !changed {
			return order
		}
	}
}

// mergeTags combines the annotations of the type cell and the description
// cell; both are scanned, the type cell wins on conflicting values.
func mergeTags(primary, secondary *annotation.Tags) *annotation.Tags {
	merged := *primary
	merged.Unique = primary.Unique || secondary.Unique
	merged.Index = primary.Index || secondary.Index
	merged.Label = primary.Label || secondary.Label
	merged.Label2 = primary.Label2 || secondary.Label2
	merged.ReadOnly = primary.ReadOnly || secondary.ReadOnly
	merged.Hidden = primary.Hidden || secondary.Hidden
	merged.Detail = primary.Detail || secondary.Detail
	merged.Optional = primary.Optional || secondary.Optional
	if merged.UniqueKey == 0 {
		merged.UniqueKey = secondary.UniqueKey
	}
	if merged.IndexKey == 0 {
		merged.IndexKey = secondary.IndexKey
	}
	if !merged.HasDefault && secondary.HasDefault {
		merged.Default = secondary.Default
		merged.HasDefault = true
	}
	if merged.Computed == nil {
		merged.Computed = secondary.Computed
	}
	if merged.MaxSizeBytes == 0 {
		merged.MaxSizeBytes = secondary.MaxSizeBytes
	}
	if merged.Dimension == nil {
		merged.Dimension = secondary.Dimension
	}
	if merged.MaxWidth == 0 {
		merged.MaxWidth = secondary.MaxWidth
	}
	if merged.MaxHeight == 0 {
		merged.MaxHeight = secondary.MaxHeight
	}
	if merged.DurationSeconds == 0 {
		merged.DurationSeconds = secondary.DurationSeconds
	}
	return &merged
}

// assignAreas marks each entity with the area that lists it.
func (c *Compiler) assignAreas(g *Graph) {
	for name, area := range g.Areas {
		for _, entityName := range area.Entities {
			if ent := g.Entities[entityName]; ent != nil {
				ent.Area = name
			}
		}
	}
}

// enrichForeignKeys back-fills target label fields into every foreign key
// once all entities are compiled. This is the only post-compilation
// mutation of an EntitySchema.
func (c *Compiler) enrichForeignKeys(g *Graph) {
	for _, ent := range g.Entities {
		for _, fk := range ent.ForeignKeys {
			if target := g.Entities[fk.TargetEntity]; target != nil {
				fk.LabelFields = target.Labels
			}
		}
	}
}

// buildInverse produces the back-reference adjacency in compile order.
func (c *Compiler) buildInverse(g *Graph, order []string) {
	for _, name := range order {
		ent := g.Entities[name]
		for _, fk := range ent.ForeignKeys {
			g.Inverse[fk.TargetEntity] = append(g.Inverse[fk.TargetEntity], BackRef{
				Entity: ent.ClassName,
				Column: fk.SourceColumn,
			})
		}
	}
}

// foreignKeyEdges builds the dependency adjacency for ordering. Edge
// multiplicity is preserved: two foreign keys into the same target
// contribute two edges. Self-references are excluded so hierarchical links
// never block their own entity.
func foreignKeyEdges(g *Graph) map[string][]string {
	edges := make(map[string][]string, len(g.Entities))
	for name, ent := range g.Entities {
		for _, fk := range ent.ForeignKeys {
			if fk.TargetEntity == name {
				continue
			}
			if _, ok := g.Entities[fk.TargetEntity]; !ok {
				continue
			}
			edges[name] = append(edges[name], fk.TargetEntity)
		}
	}
	return edges
}

// identityColumn synthesizes the identity column for documents that omit it.
func identityColumn() *Column {
	return &Column{
		Name:       IdentityColumn,
		SourceType: "int",
		SQLType:    "INTEGER",
		ResultType: ResultNumber,
		Required:   false,
	}
}

// systemColumns are the three fixed trailing columns of every entity.
func systemColumns() []*Column {
	return []*Column{
		{
			Name:         CreatedColumn,
			SourceType:   "date",
			SQLType:      "DATETIME",
			ResultType:   ResultString,
			DefaultValue: "CURRENT_TIMESTAMP",
			HasDefault:   true,
			UI:           UIFlags{ReadOnly: true, Hidden: true},
		},
		{
			Name:         UpdatedColumn,
			SourceType:   "date",
			SQLType:      "DATETIME",
			ResultType:   ResultString,
			DefaultValue: "CURRENT_TIMESTAMP",
			HasDefault:   true,
			UI:           UIFlags{ReadOnly: true, Hidden: true},
		},
		{
			Name:         VersionColumn,
			SourceType:   "int",
			SQLType:      "INTEGER",
			ResultType:   ResultNumber,
			DefaultValue: "0",
			HasDefault:   true,
			UI:           UIFlags{ReadOnly: true, Hidden: true},
		},
	}
}

func (c *Compiler) warnf(format string, args ...interface{}) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}
