// Package path compiles dot-notation and back-reference path expressions
// against a compiled schema graph into SQL select fragments: an ordered
// join list, a select expression, and result metadata. Resolution is pure
// and graph-read-only; nothing is cached across calls.
package path

import (
	"fmt"
	"strings"

	"github.com/metamark-lang/metamark/compiler/schema"
	"github.com/metamark-lang/metamark/compiler/sqlgen"
)

// BaseAlias is the alias of the base entity's table in generated SQL.
const BaseAlias = "b"

// LabelSegment is the reserved terminal segment forcing label-expression
// resolution of the entity reached so far.
const LabelSegment = "_label"

// maxLabelDepth bounds recursive computed-label inlining so cyclic label
// declarations fail instead of looping.
const maxLabelDepth = 8

// Navigation tells the UI layer which entity a resolved value belongs to
// and how to select its id, so the value can be made clickable.
type Navigation struct {
	Entity   string
	IDSelect string
}

// Resolution is the compiled form of one path expression. Ephemeral:
// recomputed per expression, never cached across schema changes.
type Resolution struct {
	Joins      []sqlgen.Join
	Select     string
	Label      string
	ResultType schema.ResultType
	Column     *schema.Column // terminal column when scalar, nil otherwise
	Nav        *Navigation

	// Aggregate marker: set when the terminal segment names an aggregate
	// attribute rather than a real column. The caller must expand it into
	// one column per sub-field.
	IsAggregate     bool
	AggregateEntity string
	AggregateSource string
	AggregateType   string
	AggregateAlias  string
}

// ResolveError reports an unresolvable path. It always names the offending
// segment and the full original expression.
type ResolveError struct {
	Expression string
	Segment    string
	Reason     string
}

// Error implements the error interface.
func (e *ResolveError) Error() string {
	return fmt.Sprintf("cannot resolve %q in path %q: %s", e.Segment, e.Expression, e.Reason)
}

func errf(expr, segment, format string, args ...interface{}) *ResolveError {
	return &ResolveError{Expression: expr, Segment: segment, Reason: fmt.Sprintf(format, args...)}
}

// Resolve compiles a path expression against the graph. Expressions
// containing '<' are back-references; everything else is a forward
// dot-notation walk over foreign keys.
func Resolve(expr, baseEntity string, g *schema.Graph) (*Resolution, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errf(expr, "", "empty path expression")
	}
	if strings.Contains(expr, "<") {
		return resolveBackRef(expr, baseEntity, g)
	}
	return resolveForward(expr, expr, baseEntity, g, "", BaseAlias, 0)
}

// resolveForward walks a dot path. prefix namespaces join aliases when the
// walk is an inlined computed label (prefix is then the outer join alias);
// baseAlias is the alias the first segment resolves against.
func resolveForward(expr, fullExpr, baseEntity string, g *schema.Graph, prefix, baseAlias string, depth int) (*Resolution, error) {
	if depth > maxLabelDepth {
		return nil, errf(fullExpr, expr, "computed label recursion exceeds depth %d", maxLabelDepth)
	}

	cur := g.Entity(baseEntity)
	if cur == nil {
		return nil, errf(fullExpr, baseEntity, "unknown entity")
	}

	segments := strings.Split(expr, ".")
	res := &Resolution{}
	curAlias := baseAlias
	var chain []string

	for i, seg := range segments {
		seg = strings.TrimSpace(seg)
		terminal := i == len(segments)-1

		if !terminal {
			fk := cur.FindForeignKey(seg)
			if fk == nil {
				return nil, errf(fullExpr, seg, "no foreign key named %q on entity %s", seg, cur.ClassName)
			}
			target := g.Entity(fk.TargetEntity)
			if target == nil {
				return nil, errf(fullExpr, seg, "foreign key target %s is not compiled", fk.TargetEntity)
			}
			chain = append(chain, aliasSegment(fk))
			alias := joinAlias(prefix, chain)
			res.Joins = append(res.Joins, sqlgen.Join{
				Table: target.TableName,
				Alias: alias,
				Left:  sqlgen.ColumnRef(curAlias, fk.SourceColumn),
				Right: sqlgen.ColumnRef(alias, fk.TargetColumn),
			})
			cur = target
			curAlias = alias
			continue
		}

		return resolveTerminal(res, fullExpr, seg, cur, curAlias, chain, g, prefix, depth)
	}
	return res, nil
}

// resolveTerminal handles the final segment of a forward path.
func resolveTerminal(res *Resolution, fullExpr, seg string, cur *schema.EntitySchema, curAlias string, chain []string, g *schema.Graph, prefix string, depth int) (*Resolution, error) {
	// Explicit label request for the entity reached so far.
	if seg == LabelSegment {
		if err := applyLabel(res, fullExpr, cur, curAlias, g, depth); err != nil {
			return nil, err
		}
		res.Label = cur.ClassName
		return res, nil
	}

	// A terminal foreign key auto-resolves to the target's label rather
	// than the raw id.
	if fk := cur.FindForeignKey(seg); fk != nil {
		target := g.Entity(fk.TargetEntity)
		if target == nil {
			return nil, errf(fullExpr, seg, "foreign key target %s is not compiled", fk.TargetEntity)
		}
		chain = append(chain, aliasSegment(fk))
		alias := joinAlias(prefix, chain)
		res.Joins = append(res.Joins, sqlgen.Join{
			Table: target.TableName,
			Alias: alias,
			Left:  sqlgen.ColumnRef(curAlias, fk.SourceColumn),
			Right: sqlgen.ColumnRef(alias, fk.TargetColumn),
		})
		if err := applyLabel(res, fullExpr, target, alias, g, depth); err != nil {
			return nil, err
		}
		res.Label = fk.DisplayName
		res.Nav = &Navigation{
			Entity:   target.ClassName,
			IDSelect: sqlgen.ColumnRef(curAlias, fk.SourceColumn),
		}
		return res, nil
	}

	// A terminal segment matching an aggregate attribute yields an
	// expansion marker instead of a scalar.
	if len(cur.AggregateColumns(seg)) > 0 {
		agg := cur.AggregateColumns(seg)[0]
		res.IsAggregate = true
		res.AggregateEntity = cur.ClassName
		res.AggregateSource = seg
		res.AggregateType = agg.AggregateType
		res.AggregateAlias = curAlias
		res.Label = seg
		return res, nil
	}

	col := cur.Column(seg)
	if col == nil {
		return nil, errf(fullExpr, seg, "no column named %q on entity %s", seg, cur.ClassName)
	}
	res.Select = sqlgen.ColumnRef(curAlias, col.Name)
	res.ResultType = col.ResultType
	res.Column = col
	res.Label = seg
	return res, nil
}

// applyLabel fills res with the label expression of target as seen through
// alias. A computed label declared on the target is inlined by resolving it
// recursively with its join aliases namespaced under alias; otherwise the
// declared label fields are used, falling back to the identity column.
func applyLabel(res *Resolution, fullExpr string, target *schema.EntitySchema, alias string, g *schema.Graph, depth int) error {
	if target.LabelExpr != "" {
		sub, err := resolveForward(target.LabelExpr, fullExpr, target.ClassName, g, alias, alias, depth+1)
		if err != nil {
			return err
		}
		if sub.IsAggregate {
			return errf(fullExpr, target.LabelExpr, "computed label of %s resolves to an aggregate", target.ClassName)
		}
		res.Joins = append(res.Joins, sub.Joins...)
		res.Select = sub.Select
		res.ResultType = sub.ResultType
		res.Column = sub.Column
		return nil
	}
	if target.Labels.Primary != "" {
		res.Select = sqlgen.LabelExpression(alias, target.Labels)
		res.ResultType = schema.ResultString
		return nil
	}
	// No label declared anywhere: the id is the only representative value.
	res.Select = sqlgen.ColumnRef(alias, schema.IdentityColumn)
	res.ResultType = schema.ResultNumber
	return nil
}

// aliasSegment canonicalizes one join-chain segment. A path may name a
// foreign key by its conceptual attribute ("type") or by its raw column
// ("type_id"); both must yield the same alias so alias-keyed join dedup
// collapses them to one join.
func aliasSegment(fk *schema.ForeignKey) string {
	if fk.DisplayName != "" {
		return fk.DisplayName
	}
	return strings.TrimSuffix(fk.SourceColumn, "_id")
}

// joinAlias builds the alias for the join chain walked so far. With an
// empty prefix the alias is j_{seg1}_{seg2}...; inlined label expressions
// pass the outer alias as prefix so their joins never collide with the
// caller's.
func joinAlias(prefix string, chain []string) string {
	if prefix == "" {
		return "j_" + strings.Join(chain, "_")
	}
	return prefix + "_" + strings.Join(chain, "_")
}
