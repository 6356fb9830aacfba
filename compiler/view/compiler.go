// Package view compiles user-defined view definitions into CREATE VIEW
// statements plus per-column metadata for the UI layer. Column entries are
// path expressions resolved against a compiled schema graph; unresolvable
// columns degrade per-column rather than failing the view.
package view

import (
	"fmt"
	"strings"

	"github.com/go-openapi/inflect"
	"go.uber.org/zap"

	"github.com/metamark-lang/metamark/compiler/path"
	"github.com/metamark-lang/metamark/compiler/schema"
	"github.com/metamark-lang/metamark/compiler/sqlgen"
)

// OmitNull is the default omit policy for foreign-key dot paths: rows whose
// resolved value is null are hidden by the presenting layer.
const OmitNull = "null"

// Definition is one view as declared in views.yaml.
type Definition struct {
	Name      string   `yaml:"name"`
	Base      string   `yaml:"base"`
	Columns   []string `yaml:"columns"`
	Filter    string   `yaml:"filter,omitempty"`
	Sort      string   `yaml:"sort,omitempty"`
	Prefilter string   `yaml:"prefilter,omitempty"`
}

// CompiledColumn is one select-list entry of a compiled view. Hidden columns
// exist for navigation ids and calculated-formula inputs; the UI layer does
// not render them.
type CompiledColumn struct {
	Path       string
	Label      string
	Alias      string
	Select     string
	ResultType schema.ResultType
	Omit       string // "" means no omit filter
	Hidden     bool
	Nav        *path.Navigation
	Calculated *schema.Calculated
}

// CompiledView is the output of compiling one definition: deduplicated
// joins, resolved columns, and the rendered CREATE VIEW statement.
type CompiledView struct {
	Name       string
	SQLName    string
	BaseEntity string
	BaseTable  string
	Columns    []CompiledColumn
	Joins      []sqlgen.Join
	Filter     string
	Sort       string
	Prefilter  string
}

// Compiler turns view definitions into compiled views. Degradations are
// logged, never fatal: a bad column drops the column, a bad view drops the
// view.
type Compiler struct {
	logger *zap.Logger
}

// NewCompiler creates a view compiler. A nil logger is replaced with a no-op
// logger.
func NewCompiler(logger *zap.Logger) *Compiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{logger: logger}
}

// Compile resolves every definition against the graph. Views whose base
// entity is unknown or whose columns all fail to resolve are dropped.
func (c *Compiler) Compile(defs []Definition, g *schema.Graph) []CompiledView {
	views := make([]CompiledView, 0, len(defs))
	for _, def := range defs {
		cv, ok := c.compileView(def, g)
		if !ok {
			continue
		}
		views = append(views, cv)
	}
	return views
}

func (c *Compiler) compileView(def Definition, g *schema.Graph) (CompiledView, bool) {
	base := g.Entity(def.Base)
	if base == nil {
		c.logger.Warn("dropping view: unknown base entity",
			zap.String("view", def.Name),
			zap.String("base", def.Base))
		return CompiledView{}, false
	}

	cv := CompiledView{
		Name:       def.Name,
		SQLName:    sqlName(def.Name),
		BaseEntity: base.ClassName,
		BaseTable:  base.TableName,
		Filter:     def.Filter,
		Sort:       def.Sort,
		Prefilter:  def.Prefilter,
	}

	aliases := sqlgen.NewAliasAllocator()
	aliases.Reserve(schema.IdentityColumn)

	var joins []sqlgen.Join
	for _, entry := range def.Columns {
		cols, colJoins := c.compileColumn(entry, base, g, aliases)
		cv.Columns = append(cv.Columns, cols...)
		joins = append(joins, colJoins...)
	}
	if visible(cv.Columns) == 0 {
		c.logger.Warn("dropping view: no column resolved",
			zap.String("view", def.Name),
			zap.String("base", def.Base))
		return CompiledView{}, false
	}

	c.appendCalculationInputs(&cv, base, g, aliases, &joins)
	cv.Joins = sqlgen.DedupeJoins(joins)
	return cv, true
}

// compileColumn resolves one column entry, expanding aggregate paths into
// one column per sub-field. A resolution failure logs and returns nothing.
func (c *Compiler) compileColumn(entry string, base *schema.EntitySchema, g *schema.Graph, aliases *sqlgen.AliasAllocator) ([]CompiledColumn, []sqlgen.Join) {
	pathExpr, label, omit, hasOmit := parseColumnEntry(entry)

	wildcard := strings.HasSuffix(pathExpr, ".*")
	if wildcard {
		pathExpr = strings.TrimSuffix(pathExpr, ".*")
	}

	res, err := path.Resolve(pathExpr, base.ClassName, g)
	if err != nil {
		c.logger.Warn("dropping view column",
			zap.String("view base", base.ClassName),
			zap.String("expression", entry),
			zap.Error(err))
		return nil, nil
	}

	if wildcard || res.IsAggregate {
		if !res.IsAggregate {
			c.logger.Warn("dropping view column: wildcard on non-aggregate path",
				zap.String("view base", base.ClassName),
				zap.String("expression", entry))
			return nil, nil
		}
		return c.expandAggregate(pathExpr, label, res, base, g, aliases)
	}

	if label == "" {
		label = res.Label
	}
	if !hasOmit {
		omit = defaultOmit(pathExpr, res)
	}

	cols := []CompiledColumn{{
		Path:       pathExpr,
		Label:      label,
		Alias:      aliases.Alias(sqlName(label)),
		Select:     res.Select,
		ResultType: res.ResultType,
		Omit:       omit,
		Nav:        res.Nav,
	}}
	if res.Column != nil && res.Column.Calculated != nil {
		cols[0].Calculated = res.Column.Calculated
	}
	// Navigation needs the target row id available in the result set.
	if res.Nav != nil {
		cols = append(cols, CompiledColumn{
			Path:       pathExpr,
			Label:      label,
			Alias:      aliases.Alias(sqlName(label) + "_id"),
			Select:     res.Nav.IDSelect,
			ResultType: schema.ResultNumber,
			Hidden:     true,
		})
	}
	return cols, res.Joins
}

// expandAggregate rewrites the terminal segment of an aggregate path once
// per sub-field and resolves each rewritten expression. Sub-field columns
// share the base path's joins and a common label prefix.
func (c *Compiler) expandAggregate(pathExpr, label string, res *path.Resolution, base *schema.EntitySchema, g *schema.Graph, aliases *sqlgen.AliasAllocator) ([]CompiledColumn, []sqlgen.Join) {
	owner := g.Entity(res.AggregateEntity)
	if owner == nil {
		return nil, nil
	}
	prefix := label
	if prefix == "" {
		prefix = inflect.Titleize(res.AggregateSource)
	}

	var cols []CompiledColumn
	var joins []sqlgen.Join
	for _, sub := range owner.AggregateColumns(res.AggregateSource) {
		rewritten := rewriteTerminal(pathExpr, sub.Name)
		subRes, err := path.Resolve(rewritten, base.ClassName, g)
		if err != nil {
			c.logger.Warn("dropping aggregate sub-column",
				zap.String("view base", base.ClassName),
				zap.String("expression", rewritten),
				zap.Error(err))
			continue
		}
		subLabel := prefix + " " + inflect.Titleize(sub.AggregateField)
		cols = append(cols, CompiledColumn{
			Path:       rewritten,
			Label:      subLabel,
			Alias:      aliases.Alias(sqlName(subLabel)),
			Select:     subRes.Select,
			ResultType: subRes.ResultType,
		})
		joins = append(joins, subRes.Joins...)
	}
	return cols, joins
}

// appendCalculationInputs auto-resolves the dependency columns of every
// calculated column already in the view and appends the missing ones as
// hidden columns. A dependency that fails to resolve is skipped.
func (c *Compiler) appendCalculationInputs(cv *CompiledView, base *schema.EntitySchema, g *schema.Graph, aliases *sqlgen.AliasAllocator, joins *[]sqlgen.Join) {
	present := make(map[string]bool, len(cv.Columns))
	for _, col := range cv.Columns {
		present[col.Path] = true
	}

	for _, col := range cv.Columns {
		if col.Calculated == nil {
			continue
		}
		for _, dep := range col.Calculated.DependsOn {
			depPath := rewriteTerminal(col.Path, dep)
			if present[depPath] {
				continue
			}
			res, err := path.Resolve(depPath, base.ClassName, g)
			if err != nil || res.IsAggregate {
				c.logger.Warn("skipping calculation input",
					zap.String("view", cv.Name),
					zap.String("formula column", col.Path),
					zap.String("dependency", dep),
					zap.Error(err))
				continue
			}
			present[depPath] = true
			cv.Columns = append(cv.Columns, CompiledColumn{
				Path:       depPath,
				Label:      dep,
				Alias:      aliases.Alias(sqlName(dep)),
				Select:     res.Select,
				ResultType: res.ResultType,
				Hidden:     true,
			})
			*joins = append(*joins, res.Joins...)
		}
	}
}

// SQL renders the CREATE VIEW statement: the base row id, every compiled
// column under its alias, the deduplicated joins, and the optional filter.
func (v *CompiledView) SQL() string {
	selects := []string{sqlgen.ColumnRef(path.BaseAlias, schema.IdentityColumn)}
	for _, col := range v.Columns {
		selects = append(selects, fmt.Sprintf("%s AS %s", col.Select, sqlgen.QuoteIdent(col.Alias)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE VIEW IF NOT EXISTS %s AS\nSELECT %s\nFROM %s %s",
		sqlgen.QuoteIdent(v.SQLName),
		strings.Join(selects, ", "),
		sqlgen.QuoteIdent(v.BaseTable),
		path.BaseAlias)
	for _, j := range v.Joins {
		b.WriteString("\n")
		b.WriteString(j.SQL())
	}
	if v.Filter != "" {
		b.WriteString("\nWHERE ")
		b.WriteString(v.Filter)
	}
	b.WriteString(";")
	return b.String()
}

// parseColumnEntry splits `path [AS label] [OMIT value]`.
func parseColumnEntry(entry string) (pathExpr, label, omit string, hasOmit bool) {
	pathExpr = strings.TrimSpace(entry)
	if i := strings.LastIndex(pathExpr, " OMIT "); i >= 0 {
		omit = strings.TrimSpace(pathExpr[i+len(" OMIT "):])
		pathExpr = strings.TrimSpace(pathExpr[:i])
		hasOmit = true
	}
	if i := strings.LastIndex(pathExpr, " AS "); i >= 0 {
		label = strings.TrimSpace(pathExpr[i+len(" AS "):])
		pathExpr = strings.TrimSpace(pathExpr[:i])
	}
	return pathExpr, label, omit, hasOmit
}

// defaultOmit applies the implicit omit policy: foreign-key dot paths hide
// null values, same-table scalar columns do not.
func defaultOmit(pathExpr string, res *path.Resolution) string {
	if strings.Contains(pathExpr, "<") {
		return ""
	}
	if strings.Contains(pathExpr, ".") || res.Nav != nil {
		return OmitNull
	}
	return ""
}

// rewriteTerminal replaces the terminal segment of a path expression. For
// back-references the terminal is the tail column after the directives.
func rewriteTerminal(pathExpr, segment string) string {
	if strings.Contains(pathExpr, "<") {
		if _, tail, ok := path.ParseBackRef(pathExpr); ok && tail != "" {
			return pathExpr[:len(pathExpr)-len(tail)] + segment
		}
		return pathExpr + "." + segment
	}
	if i := strings.LastIndexByte(pathExpr, '.'); i >= 0 {
		return pathExpr[:i+1] + segment
	}
	return segment
}

// sqlName lowercases a human name into an identifier-safe snake form.
func sqlName(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

func visible(cols []CompiledColumn) int {
	n := 0
	for _, c := range cols {
		if !c.Hidden {
			n++
		}
	}
	return n
}
