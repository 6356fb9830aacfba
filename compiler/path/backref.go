package path

import (
	"strconv"
	"strings"

	"github.com/metamark-lang/metamark/compiler/schema"
	"github.com/metamark-lang/metamark/compiler/sqlgen"
)

// subAlias is the alias of the child table inside a correlated subquery.
const subAlias = "s"

// backRef is the parsed form of ChildEntity<fkField(params).tail.
type backRef struct {
	Child    string
	FKField  string
	Count    bool
	List     bool
	Wheres   []whereClause
	OrderBy  string
	OrderDir string
	Limit    int
	Tail     string
}

type whereClause struct {
	Column string
	Value  string // raw text; "null" is the IS NULL literal
}

// ParseBackRef splits a back-reference expression without touching the
// graph. Exported for the view compiler's wildcard handling.
func ParseBackRef(expr string) (child, tail string, ok bool) {
	ref, err := parseBackRef(expr)
	if err != nil {
		return "", "", false
	}
	return ref.Child, ref.Tail, true
}

func parseBackRef(expr string) (*backRef, error) {
	lt := strings.IndexByte(expr, '<')
	if lt <= 0 {
		return nil, errf(expr, expr, "malformed back-reference")
	}
	ref := &backRef{Child: strings.TrimSpace(expr[:lt])}
	rest := expr[lt+1:]

	if open := strings.IndexByte(rest, '('); open >= 0 {
		close := strings.LastIndexByte(rest, ')')
		if close < open {
			return nil, errf(expr, rest, "unbalanced directive parentheses")
		}
		ref.FKField = strings.TrimSpace(rest[:open])
		if err := ref.parseDirectives(expr, rest[open+1:close]); err != nil {
			return nil, err
		}
		rest = rest[close+1:]
	} else if dot := strings.IndexByte(rest, '.'); dot >= 0 {
		ref.FKField = strings.TrimSpace(rest[:dot])
		rest = rest[dot:]
	} else {
		ref.FKField = strings.TrimSpace(rest)
		rest = ""
	}

	if strings.HasPrefix(rest, ".") {
		ref.Tail = strings.TrimSpace(rest[1:])
	} else if strings.TrimSpace(rest) != "" {
		return nil, errf(expr, rest, "unexpected text after directives")
	}
	if ref.FKField == "" {
		return nil, errf(expr, expr, "back-reference names no foreign key field")
	}
	return ref, nil
}

// parseDirectives handles the comma-separated directive grammar:
// COUNT, LIST, WHERE col=value, ORDER BY col [ASC|DESC], LIMIT n.
func (ref *backRef) parseDirectives(expr, params string) error {
	for _, part := range strings.Split(params, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		upper := strings.ToUpper(part)
		switch {
		case upper == "COUNT":
			ref.Count = true
		case upper == "LIST":
			ref.List = true
		case strings.HasPrefix(upper, "WHERE "):
			body := strings.TrimSpace(part[len("WHERE "):])
			eq := strings.IndexByte(body, '=')
			if eq <= 0 {
				return errf(expr, part, "WHERE directive needs col=value")
			}
			ref.Wheres = append(ref.Wheres, whereClause{
				Column: strings.TrimSpace(body[:eq]),
				Value:  strings.TrimSpace(body[eq+1:]),
			})
		case strings.HasPrefix(upper, "ORDER BY "):
			body := strings.TrimSpace(part[len("ORDER BY "):])
			fields := strings.Fields(body)
			if len(fields) == 0 {
				return errf(expr, part, "ORDER BY directive needs a column")
			}
			ref.OrderBy = fields[0]
			if len(fields) > 1 {
				dir := strings.ToUpper(fields[1])
				if dir != "ASC" && dir != "DESC" {
					return errf(expr, part, "ORDER BY direction must be ASC or DESC")
				}
				ref.OrderDir = dir
			}
		case strings.HasPrefix(upper, "LIMIT "):
			n, err := strconv.Atoi(strings.TrimSpace(part[len("LIMIT "):]))
			if err != nil || n <= 0 {
				return errf(expr, part, "LIMIT directive needs a positive integer")
			}
			ref.Limit = n
		default:
			return errf(expr, part, "unknown directive")
		}
	}
	return nil
}

// resolveBackRef compiles ChildEntity<fkField(params).tail into a scalar
// correlated subquery. Three aggregation modes produce three SQL shapes:
// COUNT(*), GROUP_CONCAT(col, ', '), or a LIMITed scalar select.
func resolveBackRef(expr, baseEntity string, g *schema.Graph) (*Resolution, error) {
	ref, err := parseBackRef(expr)
	if err != nil {
		return nil, err
	}

	child := g.Entity(ref.Child)
	if child == nil {
		return nil, errf(expr, ref.Child, "unknown entity")
	}
	fk := child.FindForeignKey(ref.FKField)
	if fk == nil {
		return nil, errf(expr, ref.FKField, "no foreign key named %q on entity %s", ref.FKField, ref.Child)
	}
	if fk.TargetEntity != baseEntity {
		return nil, errf(expr, ref.FKField, "foreign key %s.%s targets %s, not %s",
			ref.Child, ref.FKField, fk.TargetEntity, baseEntity)
	}
	if ref.Count == (ref.Tail != "") {
		// Exactly one of COUNT or a tail column is required.
		return nil, errf(expr, ref.FKField, "exactly one of COUNT or a target column is required")
	}

	sub := sqlgen.Subquery{
		Table: child.TableName,
		Alias: subAlias,
		Where: []string{
			sqlgen.ColumnRef(subAlias, fk.SourceColumn) + " = " + sqlgen.ColumnRef(BaseAlias, schema.IdentityColumn),
		},
	}
	for _, w := range ref.Wheres {
		pred, err := wherePredicate(expr, child, w)
		if err != nil {
			return nil, err
		}
		sub.Where = append(sub.Where, pred)
	}
	if ref.OrderBy != "" {
		if child.Column(ref.OrderBy) == nil {
			return nil, errf(expr, ref.OrderBy, "no column named %q on entity %s", ref.OrderBy, ref.Child)
		}
		sub.OrderBy = sqlgen.ColumnRef(subAlias, ref.OrderBy)
		if ref.OrderDir != "" {
			sub.OrderBy += " " + ref.OrderDir
		}
	}

	res := &Resolution{Label: ref.Child}
	switch {
	case ref.Count:
		sub.Select = "COUNT(*)"
		res.ResultType = schema.ResultNumber
		res.Label = ref.Child + " count"

	default:
		// A tail naming an aggregate attribute yields an expansion marker;
		// the caller rewrites the expression per sub-field.
		if len(child.AggregateColumns(ref.Tail)) > 0 {
			agg := child.AggregateColumns(ref.Tail)[0]
			res.IsAggregate = true
			res.AggregateEntity = child.ClassName
			res.AggregateSource = ref.Tail
			res.AggregateType = agg.AggregateType
			res.Label = ref.Tail
			return res, nil
		}
		col := child.Column(ref.Tail)
		if col == nil {
			return nil, errf(expr, ref.Tail, "no column named %q on entity %s", ref.Tail, ref.Child)
		}
		colRef := sqlgen.ColumnRef(subAlias, col.Name)
		if ref.List {
			sub.Select = "GROUP_CONCAT(" + colRef + ", ', ')"
			res.ResultType = schema.ResultString
		} else {
			sub.Select = colRef
			res.ResultType = col.ResultType
			res.Column = col
			// Scalar mode defaults to the first matching row.
			if ref.Limit == 0 {
				ref.Limit = 1
			}
			sub.Limit = ref.Limit
			if col.Name == child.Labels.Primary {
				idSub := sub
				idSub.Select = sqlgen.ColumnRef(subAlias, schema.IdentityColumn)
				res.Nav = &Navigation{Entity: child.ClassName, IDSelect: idSub.SQL()}
			}
		}
		res.Label = ref.Tail
	}

	res.Select = sub.SQL()
	return res, nil
}

// wherePredicate renders one WHERE directive. The literal null compiles to
// an IS NULL test; numeric values stay raw; enum columns map external values
// to their internal integer representation; everything else is quoted.
func wherePredicate(expr string, child *schema.EntitySchema, w whereClause) (string, error) {
	col := child.Column(w.Column)
	if col == nil {
		col = child.Column(w.Column + "_id")
	}
	if col == nil {
		return "", errf(expr, w.Column, "no column named %q on entity %s", w.Column, child.ClassName)
	}
	ref := sqlgen.ColumnRef(subAlias, col.Name)

	value := strings.Trim(w.Value, `"'`)
	if strings.EqualFold(value, "null") {
		return ref + " IS NULL", nil
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return ref + " = " + value, nil
	}
	if len(col.EnumValues) > 0 {
		for i, v := range col.EnumValues {
			if strings.EqualFold(v, value) {
				return ref + " = " + strconv.Itoa(i), nil
			}
		}
		return "", errf(expr, w.Column, "%q is not a value of enum column %s", value, col.Name)
	}
	return ref + " = " + sqlgen.QuoteString(value), nil
}
