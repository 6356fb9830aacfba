// Package sqlgen builds the constrained SQL dialect emitted by the
// compiler: CREATE TABLE/INDEX/VIEW statements and SELECT fragments with
// LEFT JOINs and scalar correlated subqueries. Identifier quoting, join
// clauses and alias uniqueness are enforced structurally here instead of by
// string-concatenation convention.
package sqlgen

import (
	"fmt"
	"strings"
)

// QuoteIdent quotes an identifier with double quotes, doubling embedded
// quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteString quotes a literal with single quotes, doubling embedded quotes.
func QuoteString(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// ColumnRef renders an alias-qualified column reference. Aliases are
// compiler-generated and stay unquoted; column names are always quoted.
func ColumnRef(alias, column string) string {
	if alias == "" {
		return QuoteIdent(column)
	}
	return alias + "." + QuoteIdent(column)
}

// Concat renders the SQL string concatenation of its parts.
func Concat(parts ...string) string {
	return strings.Join(parts, " || ")
}

// Join is one LEFT JOIN clause. Left and Right are already-rendered
// expressions (normally ColumnRef results).
type Join struct {
	Table string
	Alias string
	Left  string
	Right string
}

// SQL renders the join clause.
func (j Join) SQL() string {
	return fmt.Sprintf("LEFT JOIN %s %s ON %s = %s", QuoteIdent(j.Table), j.Alias, j.Left, j.Right)
}

// DedupeJoins keeps the first join per alias, preserving order.
func DedupeJoins(joins []Join) []Join {
	seen := make(map[string]bool, len(joins))
	out := joins[:0:0]
	for _, j := range joins {
		if seen[j.Alias] {
			continue
		}
		seen[j.Alias] = true
		out = append(out, j)
	}
	return out
}

// Subquery is a scalar correlated subquery.
type Subquery struct {
	Select  string
	Table   string
	Alias   string
	Where   []string // AND-combined predicates
	OrderBy string
	Limit   int // 0 = no LIMIT clause
}

// SQL renders the parenthesized subquery.
func (s Subquery) SQL() string {
	var b strings.Builder
	b.WriteString("(SELECT ")
	b.WriteString(s.Select)
	b.WriteString(" FROM ")
	b.WriteString(QuoteIdent(s.Table))
	if s.Alias != "" {
		b.WriteString(" ")
		b.WriteString(s.Alias)
	}
	if len(s.Where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(s.Where, " AND "))
	}
	if s.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(s.OrderBy)
	}
	if s.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", s.Limit)
	}
	b.WriteString(")")
	return b.String()
}

// AliasAllocator hands out unique join aliases. Conflicting requests get a
// monotonic numeric suffix; there is no textual renaming after the fact.
type AliasAllocator struct {
	used map[string]int
}

// NewAliasAllocator creates an empty allocator.
func NewAliasAllocator() *AliasAllocator {
	return &AliasAllocator{used: make(map[string]int)}
}

// Alias returns base unchanged when free, otherwise base_2, base_3, ...
func (a *AliasAllocator) Alias(base string) string {
	n := a.used[base]
	a.used[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, n+1)
}

// Reserve marks an alias as taken without returning it.
func (a *AliasAllocator) Reserve(alias string) {
	if a.used[alias] == 0 {
		a.used[alias] = 1
	}
}
