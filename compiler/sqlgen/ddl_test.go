package sqlgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metamark-lang/metamark/compiler/schema"
)

func bookSchema() *schema.EntitySchema {
	ent := &schema.EntitySchema{
		ClassName: "Book",
		TableName: "book",
		Columns: []*schema.Column{
			{Name: "id", SQLType: "INTEGER", ResultType: schema.ResultNumber},
			{Name: "title", SQLType: "TEXT", ResultType: schema.ResultString, Required: true, UI: schema.UIFlags{Label: true}},
			{Name: "isbn", SQLType: "TEXT", ResultType: schema.ResultString, Required: true, Unique: true},
			{Name: "genre", SQLType: "INTEGER", ResultType: schema.ResultNumber, Required: true, HasDefault: true, DefaultValue: "0", EnumValues: []string{"Fiction", "Reference"}},
			{Name: "author_id", SQLType: "INTEGER", ResultType: schema.ResultNumber, DisplayName: "author"},
			{Name: "added_date", SQLType: "DATE", ResultType: schema.ResultString, Required: true, HasDefault: true, DefaultValue: "CURRENT_DATE"},
		},
		UniqueKeys: map[string][]string{
			"uk_book_1":    {"title", "author_id"},
			"uk_book_isbn": {"isbn"},
		},
		Indexes:    map[string][]string{"ix_book_genre": {"genre"}},
		Labels:     schema.LabelFields{Primary: "title"},
	}
	ent.ForeignKeys = []*schema.ForeignKey{{
		SourceColumn: "author_id",
		TargetEntity: "Author",
		TargetColumn: "id",
		DisplayName:  "author",
		LabelFields:  schema.LabelFields{Primary: "name"},
	}}
	return ent
}

func bookGraph() *schema.Graph {
	author := &schema.EntitySchema{
		ClassName: "Author",
		TableName: "author",
		Columns: []*schema.Column{
			{Name: "id", SQLType: "INTEGER", ResultType: schema.ResultNumber},
			{Name: "name", SQLType: "TEXT", ResultType: schema.ResultString, UI: schema.UIFlags{Label: true}},
		},
		Labels: schema.LabelFields{Primary: "name"},
	}
	book := bookSchema()
	return &schema.Graph{
		Entities: map[string]*schema.EntitySchema{"Author": author, "Book": book},
		Ordered:  []string{"Author", "Book"},
	}
}

func TestGenerateCreateTable(t *testing.T) {
	g := NewDDLGenerator()
	sql := g.GenerateCreateTable(bookSchema())

	assert.True(t, strings.HasPrefix(sql, `CREATE TABLE IF NOT EXISTS "book" (`))
	assert.Contains(t, sql, `"id" INTEGER PRIMARY KEY`)
	assert.Contains(t, sql, `"title" TEXT NOT NULL`)
	assert.Contains(t, sql, `"isbn" TEXT NOT NULL UNIQUE`)
	assert.Contains(t, sql, `"genre" INTEGER NOT NULL DEFAULT 0`)
	// Date sentinels render unquoted.
	assert.Contains(t, sql, `"added_date" DATE NOT NULL DEFAULT CURRENT_DATE`)
	assert.Contains(t, sql, `FOREIGN KEY ("author_id") REFERENCES "author"("id")`)
	assert.Contains(t, sql, `CONSTRAINT "uk_book_1" UNIQUE ("title", "author_id")`)
	// The single-column isbn group is covered by the inline UNIQUE; no
	// duplicate trailing constraint.
	assert.NotContains(t, sql, `"uk_book_isbn"`)
	assert.True(t, strings.HasSuffix(sql, ");"))
}

func TestGenerateCreateTable_TextDefaultQuoted(t *testing.T) {
	ent := &schema.EntitySchema{
		ClassName: "Note",
		TableName: "note",
		Columns: []*schema.Column{
			{Name: "id", SQLType: "INTEGER", ResultType: schema.ResultNumber},
			{Name: "body", SQLType: "TEXT", ResultType: schema.ResultString, Required: true, HasDefault: true, DefaultValue: ""},
			{Name: "kind", SQLType: "TEXT", ResultType: schema.ResultString, HasDefault: true, DefaultValue: "memo"},
		},
	}
	sql := NewDDLGenerator().GenerateCreateTable(ent)
	assert.Contains(t, sql, `"body" TEXT NOT NULL DEFAULT ''`)
	assert.Contains(t, sql, `"kind" TEXT DEFAULT 'memo'`)
}

func TestGenerateIndexes_SortedByName(t *testing.T) {
	ent := bookSchema()
	ent.Indexes["ix_book_added"] = []string{"added_date"}

	stmts := NewDDLGenerator().GenerateIndexes(ent)
	require.Len(t, stmts, 2)
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "ix_book_added" ON "book" ("added_date");`, stmts[0])
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "ix_book_genre" ON "book" ("genre");`, stmts[1])
}

func TestGenerateLabelView(t *testing.T) {
	g := bookGraph()
	sql := NewDDLGenerator().GenerateLabelView(g.Entity("Book"), g)

	assert.True(t, strings.HasPrefix(sql, `CREATE VIEW IF NOT EXISTS "book_view" AS`))
	assert.Contains(t, sql, "SELECT t.*")
	assert.Contains(t, sql, `j_author."name" AS "author_label"`)
	assert.Contains(t, sql, `LEFT JOIN "author" j_author ON t."author_id" = j_author."id"`)
}

func TestGenerateLabelView_SkipsUnlabeledTargets(t *testing.T) {
	g := bookGraph()
	g.Entity("Book").ForeignKeys[0].LabelFields = schema.LabelFields{}

	sql := NewDDLGenerator().GenerateLabelView(g.Entity("Book"), g)
	assert.NotContains(t, sql, "LEFT JOIN")
	assert.NotContains(t, sql, "author_label")
}

func TestGenerateSchema_OrderAndIdempotence(t *testing.T) {
	g := bookGraph()
	gen := NewDDLGenerator()

	first := gen.GenerateSchema(g)
	second := gen.GenerateSchema(g)
	assert.Equal(t, first, second, "same input must yield byte-identical SQL")

	// Tables in dependency order, views after all tables.
	require.Len(t, first, 5)
	assert.Contains(t, first[0], `CREATE TABLE IF NOT EXISTS "author"`)
	assert.Contains(t, first[1], `CREATE TABLE IF NOT EXISTS "book"`)
	assert.Contains(t, first[2], `CREATE INDEX IF NOT EXISTS "ix_book_genre"`)
	assert.Contains(t, first[3], `CREATE VIEW IF NOT EXISTS "author_view"`)
	assert.Contains(t, first[4], `CREATE VIEW IF NOT EXISTS "book_view"`)
}

func TestLabelExpression(t *testing.T) {
	assert.Equal(t, `t."name"`, LabelExpression("t", schema.LabelFields{Primary: "name"}))
	assert.Equal(t, `t."name" || ' (' || t."code" || ')'`,
		LabelExpression("t", schema.LabelFields{Primary: "name", Secondary: "code"}))
}
