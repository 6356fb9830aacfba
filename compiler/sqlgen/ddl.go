package sqlgen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/metamark-lang/metamark/compiler/schema"
	utilstrings "github.com/metamark-lang/metamark/internal/util/strings"
)

// rawDefaults are default values rendered without quoting regardless of the
// column's result type.
var rawDefaults = map[string]bool{
	"CURRENT_DATE":      true,
	"CURRENT_TIMESTAMP": true,
	"CURRENT_TIME":      true,
}

// DDLGenerator renders CREATE TABLE, CREATE INDEX and label view statements
// from resolved entity schemas. It is a pure function of its input: the same
// schema produces byte-identical SQL on every call, and every statement uses
// IF NOT EXISTS so re-applying against a materialized store is a no-op.
type DDLGenerator struct{}

// NewDDLGenerator creates a new DDL generator.
func NewDDLGenerator() *DDLGenerator {
	return &DDLGenerator{}
}

// GenerateCreateTable renders the CREATE TABLE statement for one entity:
// columns in declaration order, the identity column as INTEGER PRIMARY KEY,
// inline UNIQUE per flagged column, then trailing FOREIGN KEY and composite
// UNIQUE constraints.
func (g *DDLGenerator) GenerateCreateTable(ent *schema.EntitySchema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", QuoteIdent(ent.TableName))

	defs := make([]string, 0, len(ent.Columns)+len(ent.ForeignKeys)+len(ent.UniqueKeys))
	for _, col := range ent.Columns {
		defs = append(defs, g.columnDefinition(col))
	}
	for _, fk := range ent.ForeignKeys {
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(%s)",
			QuoteIdent(fk.SourceColumn),
			QuoteIdent(targetTable(fk)),
			QuoteIdent(fk.TargetColumn)))
	}
	for _, name := range sortedKeys(ent.UniqueKeys) {
		cols := ent.UniqueKeys[name]
		if len(cols) == 1 && isInlineUnique(ent, cols[0]) {
			// Already rendered as inline UNIQUE on the column itself.
			continue
		}
		quoted := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = QuoteIdent(c)
		}
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)",
			QuoteIdent(name), strings.Join(quoted, ", ")))
	}

	for i, def := range defs {
		b.WriteString("  ")
		b.WriteString(def)
		if i < len(defs)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(");")
	return b.String()
}

// columnDefinition renders one column clause.
func (g *DDLGenerator) columnDefinition(col *schema.Column) string {
	if col.IsIdentity() {
		return fmt.Sprintf("%s INTEGER PRIMARY KEY", QuoteIdent(col.Name))
	}

	parts := []string{QuoteIdent(col.Name), col.SQLType}
	if col.Required {
		parts = append(parts, "NOT NULL")
	}
	if col.Unique {
		parts = append(parts, "UNIQUE")
	}
	if col.HasDefault {
		parts = append(parts, "DEFAULT "+renderDefault(col))
	}
	return strings.Join(parts, " ")
}

// renderDefault quotes text defaults and leaves numeric, boolean and
// date/time sentinels raw.
func renderDefault(col *schema.Column) string {
	if rawDefaults[col.DefaultValue] {
		return col.DefaultValue
	}
	switch col.ResultType {
	case schema.ResultNumber, schema.ResultBoolean:
		if col.DefaultValue == "" {
			return "0"
		}
		return col.DefaultValue
	default:
		return QuoteString(col.DefaultValue)
	}
}

// GenerateIndexes renders one CREATE INDEX per index group, sorted by index
// name for deterministic output.
func (g *DDLGenerator) GenerateIndexes(ent *schema.EntitySchema) []string {
	stmts := make([]string, 0, len(ent.Indexes))
	for _, name := range sortedKeys(ent.Indexes) {
		cols := ent.Indexes[name]
		quoted := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = QuoteIdent(c)
		}
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s);",
			QuoteIdent(name), QuoteIdent(ent.TableName), strings.Join(quoted, ", ")))
	}
	return stmts
}

// GenerateLabelView renders the per-entity view that left-joins every
// foreign key target to expose a {displayName}_label column alongside all
// base columns. Foreign keys whose target declares no label fields are
// skipped.
func (g *DDLGenerator) GenerateLabelView(ent *schema.EntitySchema, graph *schema.Graph) string {
	selects := []string{"t.*"}
	var joins []Join

	for _, fk := range ent.ForeignKeys {
		target := graph.Entity(fk.TargetEntity)
		if target == nil || fk.LabelFields.Primary == "" {
			continue
		}
		alias := "j_" + fk.DisplayName
		joins = append(joins, Join{
			Table: target.TableName,
			Alias: alias,
			Left:  ColumnRef("t", fk.SourceColumn),
			Right: ColumnRef(alias, fk.TargetColumn),
		})
		selects = append(selects, fmt.Sprintf("%s AS %s",
			LabelExpression(alias, fk.LabelFields),
			QuoteIdent(fk.DisplayName+"_label")))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE VIEW IF NOT EXISTS %s AS\nSELECT %s\nFROM %s t",
		QuoteIdent(ent.TableName+"_view"),
		strings.Join(selects, ", "),
		QuoteIdent(ent.TableName))
	for _, j := range joins {
		b.WriteString("\n")
		b.WriteString(j.SQL())
	}
	b.WriteString(";")
	return b.String()
}

// LabelExpression renders the human-readable label of a joined record:
// the primary label field, or primary || ' (' || secondary || ')' when a
// secondary label exists.
func LabelExpression(alias string, labels schema.LabelFields) string {
	primary := ColumnRef(alias, labels.Primary)
	if labels.Secondary == "" {
		return primary
	}
	return Concat(primary, "' ('", ColumnRef(alias, labels.Secondary), "')'")
}

// GenerateSchema renders the full base-schema statement list: tables and
// indexes in dependency order, then every label view. Applying the list in
// the given order is always safe.
func (g *DDLGenerator) GenerateSchema(graph *schema.Graph) []string {
	var stmts []string
	for _, name := range graph.Ordered {
		ent := graph.Entity(name)
		stmts = append(stmts, g.GenerateCreateTable(ent))
		stmts = append(stmts, g.GenerateIndexes(ent)...)
	}
	for _, name := range graph.Ordered {
		stmts = append(stmts, g.GenerateLabelView(graph.Entity(name), graph))
	}
	return stmts
}

func isInlineUnique(ent *schema.EntitySchema, column string) bool {
	col := ent.Column(column)
	return col != nil && col.Unique
}

// targetTable derives the target table name from the entity class name.
func targetTable(fk *schema.ForeignKey) string {
	return utilstrings.ToSnakeCase(fk.TargetEntity)
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
