package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metamark-lang/metamark/compiler/entity"
	"github.com/metamark-lang/metamark/compiler/typereg"
)

func mustParse(t *testing.T, source string) *entity.Document {
	t.Helper()
	doc, err := entity.Parse(source)
	require.NoError(t, err)
	return doc
}

func newRegistry(t *testing.T) *typereg.Registry {
	t.Helper()
	reg := typereg.New()
	require.NoError(t, reg.Register(&typereg.TypeDef{
		Name:   "BookGenre",
		Kind:   typereg.KindEnum,
		Values: []string{"Fiction", "Reference", "Poetry"},
	}))
	require.NoError(t, reg.Register(&typereg.TypeDef{
		Name:       "ISBN",
		Kind:       typereg.KindPattern,
		Validation: `^\d{13}$`,
		Example:    "9780000000000",
	}))
	require.NoError(t, reg.Register(&typereg.TypeDef{
		Name: "Address",
		Kind: typereg.KindAggregate,
		Subfields: []typereg.AggregateField{
			{Name: "street", Type: "string"},
			{Name: "city", Type: "string"},
		},
	}))
	return reg
}

const personDoc = `# Person

A person record.

## Attributes

| Name | Type | Description | Example |
|------|------|-------------|---------|
| id | int | Identifier | 1 |
| name | string [LABEL] | Full name | "Ada" |
| birth_date | date | Day of birth | 1815-12-10 |
| active | bool | Still active | true |
`

func TestCompile_ColumnsInDeclarationOrderPlusSystemColumns(t *testing.T) {
	c := NewCompiler(newRegistry(t))
	g := c.Compile([]*entity.Document{mustParse(t, personDoc)}, nil, nil)
	require.Empty(t, c.Errors())

	ent := g.Entity("Person")
	require.NotNil(t, ent)
	assert.Equal(t, "person", ent.TableName)

	// One column per attribute plus exactly three system columns.
	names := make([]string, len(ent.Columns))
	for i, col := range ent.Columns {
		names[i] = col.Name
	}
	assert.Equal(t, []string{"id", "name", "birth_date", "active", CreatedColumn, UpdatedColumn, VersionColumn}, names)

	assert.Equal(t, "name", ent.Labels.Primary)
	assert.True(t, ent.Column(CreatedColumn).UI.ReadOnly)
}

func TestCompile_IdentitySynthesizedWhenMissing(t *testing.T) {
	doc := mustParse(t, `# Tag

## Attributes

| Name | Type | Description | Example |
|------|------|-------------|---------|
| name | string [LABEL] | Tag text | "red" |
`)
	c := NewCompiler(newRegistry(t))
	g := c.Compile([]*entity.Document{doc}, nil, nil)

	ent := g.Entity("Tag")
	require.NotNil(t, ent)
	assert.Equal(t, IdentityColumn, ent.Columns[0].Name)
	assert.True(t, ent.Columns[0].IsIdentity())
	assert.False(t, ent.Columns[0].Required)
}

func TestCompile_AggregateExpandsToSubfieldColumnsOnly(t *testing.T) {
	doc := mustParse(t, `# Warehouse

## Attributes

| Name | Type | Description | Example |
|------|------|-------------|---------|
| id | int | Identifier | 1 |
| addr | Address | Location | |
`)
	c := NewCompiler(newRegistry(t))
	g := c.Compile([]*entity.Document{doc}, nil, nil)

	ent := g.Entity("Warehouse")
	require.NotNil(t, ent)
	assert.Nil(t, ent.Column("addr"))
	street := ent.Column("addr_street")
	require.NotNil(t, street)
	assert.Equal(t, "addr", street.AggregateSource)
	assert.Equal(t, "Address", street.AggregateType)
	assert.Equal(t, "street", street.AggregateField)
	assert.False(t, street.Required)
	require.NotNil(t, ent.Column("addr_city"))
	assert.Len(t, ent.AggregateColumns("addr"), 2)
}

const bookDoc = `# Book

## Attributes

| Name | Type | Description | Example |
|------|------|-------------|---------|
| id | int | Identifier | 1 |
| title | string [LABEL] | Title | "Dune" |
| isbn | ISBN [UNIQUE] | ISBN-13 | "9780441172719" |
| genre | BookGenre | Genre | "Fiction" |
`

func TestCompile_BookScenario(t *testing.T) {
	c := NewCompiler(newRegistry(t))
	g := c.Compile([]*entity.Document{mustParse(t, bookDoc)}, nil, nil)
	require.Empty(t, c.Errors())

	ent := g.Entity("Book")
	require.NotNil(t, ent)

	isbn := ent.Column("isbn")
	require.NotNil(t, isbn)
	assert.True(t, isbn.Unique)
	assert.Equal(t, "TEXT", isbn.SQLType)
	assert.Equal(t, `^\d{13}$`, isbn.Validation)
	// A bare [UNIQUE] also registers a named single-column group.
	assert.Equal(t, []string{"isbn"}, ent.UniqueKeys["uk_book_isbn"])

	genre := ent.Column("genre")
	require.NotNil(t, genre)
	assert.Equal(t, "INTEGER", genre.SQLType)
	assert.Equal(t, ResultNumber, genre.ResultType)
	assert.Equal(t, []string{"Fiction", "Reference", "Poetry"}, genre.EnumValues)
	// First-listed enum value is the implicit default.
	assert.True(t, genre.HasDefault)
	assert.Equal(t, "0", genre.DefaultValue)

	assert.Equal(t, "title", ent.Labels.Primary)
	assert.Empty(t, ent.ForeignKeys)
}

func TestCompile_ForeignKeyColumn(t *testing.T) {
	author := mustParse(t, `# Author

## Attributes

| Name | Type | Description | Example |
|------|------|-------------|---------|
| id | int | Identifier | 1 |
| name | string [LABEL] | Name | "Herbert" |
`)
	book := mustParse(t, `# Book

## Attributes

| Name | Type | Description | Example |
|------|------|-------------|---------|
| id | int | Identifier | 1 |
| title | string [LABEL] | Title | "Dune" |
| author | Author | Writer | |
`)
	c := NewCompiler(newRegistry(t))
	g := c.Compile([]*entity.Document{author, book}, nil, nil)
	require.Empty(t, c.Errors())

	ent := g.Entity("Book")
	require.NotNil(t, ent)
	assert.Nil(t, ent.Column("author"))

	col := ent.Column("author_id")
	require.NotNil(t, col)
	assert.Equal(t, "INTEGER", col.SQLType)
	assert.Equal(t, "author", col.DisplayName)
	// Foreign keys never receive an implicit default.
	assert.False(t, col.HasDefault)

	require.Len(t, ent.ForeignKeys, 1)
	fk := ent.ForeignKeys[0]
	assert.Equal(t, "Author", fk.TargetEntity)
	assert.Equal(t, IdentityColumn, fk.TargetColumn)
	// Label fields are back-filled from the target after compilation.
	assert.Equal(t, "name", fk.LabelFields.Primary)

	// FindForeignKey answers all three addressing forms.
	assert.NotNil(t, ent.FindForeignKey("author"))
	assert.NotNil(t, ent.FindForeignKey("author_id"))

	// Inverse adjacency records the back-reference.
	require.Len(t, g.Inverse["Author"], 1)
	assert.Equal(t, "Book", g.Inverse["Author"][0].Entity)
	assert.Equal(t, "author_id", g.Inverse["Author"][0].Column)

	// Author must be created before Book.
	assert.Equal(t, []string{"Author", "Book"}, g.Ordered)
	assert.Empty(t, g.Unordered)
}

func TestCompile_BrokenReferenceDropsEntityAndCascades(t *testing.T) {
	order := mustParse(t, `# Order

## Attributes

| Name | Type | Description | Example |
|------|------|-------------|---------|
| id | int | Identifier | 1 |
| customer | Customer | Buyer | |
`)
	item := mustParse(t, `# Item

## Attributes

| Name | Type | Description | Example |
|------|------|-------------|---------|
| id | int | Identifier | 1 |
| order | Order | Parent | |
`)
	c := NewCompiler(newRegistry(t))
	// Customer is a known entity name but no document for it is compiled, so
	// the foreign key is created and then found broken.
	g := c.Compile([]*entity.Document{order, item}, []string{"Order", "Item", "Customer"}, nil)

	// Order references the missing Customer; Item references Order and is
	// dragged down with it.
	assert.Nil(t, g.Entity("Order"))
	assert.Nil(t, g.Entity("Item"))
	assert.Len(t, c.Errors(), 2)
}

func TestCompile_CycleIsObservableInUnordered(t *testing.T) {
	a := mustParse(t, `# Alpha

## Attributes

| Name | Type | Description | Example |
|------|------|-------------|---------|
| id | int | Identifier | 1 |
| twin | Beta | Pair | |
`)
	b := mustParse(t, `# Beta

## Attributes

| Name | Type | Description | Example |
|------|------|-------------|---------|
| id | int | Identifier | 1 |
| twin | Alpha | Pair | |
`)
	c := NewCompiler(newRegistry(t))
	g := c.Compile([]*entity.Document{a, b}, nil, nil)

	assert.Empty(t, g.Ordered)
	assert.ElementsMatch(t, []string{"Alpha", "Beta"}, g.Unordered)
}

func TestCompile_SelfReferenceNeverBlocks(t *testing.T) {
	doc := mustParse(t, `# Category

## Attributes

| Name | Type | Description | Example |
|------|------|-------------|---------|
| id | int | Identifier | 1 |
| name | string [LABEL] | Name | "Tools" |
| parent | Category | Parent category | null |
`)
	c := NewCompiler(newRegistry(t))
	g := c.Compile([]*entity.Document{doc}, nil, nil)

	assert.Equal(t, []string{"Category"}, g.Ordered)
	assert.Empty(t, g.Unordered)
	col := g.Entity("Category").Column("parent_id")
	require.NotNil(t, col)
	assert.False(t, col.Required, "null example makes the column optional")
}

func TestCompile_DefaultPolicy(t *testing.T) {
	doc := mustParse(t, `# Ticket

## Attributes

| Name | Type | Description | Example |
|------|------|-------------|---------|
| id | int | Identifier | 1 |
| open_date | date | Opened | 2024-01-01 |
| seats | int | Seat count | 2 |
| notes | string [OPTIONAL] | Free text | null |
| genre | BookGenre [DEFAULT=Poetry] | Genre | "Poetry" |
`)
	c := NewCompiler(newRegistry(t))
	g := c.Compile([]*entity.Document{doc}, nil, nil)

	ent := g.Entity("Ticket")
	require.NotNil(t, ent)

	// Date-named columns fall back to the current-date sentinel.
	assert.Equal(t, CurrentDateSentinel, ent.Column("open_date").DefaultValue)
	assert.Equal(t, "0", ent.Column("seats").DefaultValue)
	assert.Equal(t, "", ent.Column("notes").DefaultValue)
	assert.False(t, ent.Column("notes").Required)
	// Explicit enum defaults are stored as the internal index.
	assert.Equal(t, "2", ent.Column("genre").DefaultValue)
	// The identity column carries no default.
	assert.False(t, ent.Column(IdentityColumn).HasDefault)
}

func TestCompile_ConstraintGroups(t *testing.T) {
	doc := mustParse(t, `# Booking

## Attributes

| Name | Type | Description | Example |
|------|------|-------------|---------|
| id | int | Identifier | 1 |
| room | string [UK1] | Room code | "A1" |
| day | date [UK1] | Day | 2024-01-01 |
| guest | string [INDEX] | Guest name | "Ada" |
| start | date [IX2] | Start | 2024-01-01 |
| finish | date [IX2] | End | 2024-01-02 |
`)
	c := NewCompiler(newRegistry(t))
	g := c.Compile([]*entity.Document{doc}, nil, nil)

	ent := g.Entity("Booking")
	require.NotNil(t, ent)
	assert.Equal(t, []string{"room", "day"}, ent.UniqueKeys["uk_booking_1"])
	assert.Equal(t, []string{"guest"}, ent.Indexes["ix_booking_guest"])
	assert.Equal(t, []string{"start", "finish"}, ent.Indexes["ix_booking_2"])
}

func TestCompile_UnknownTypeFallsBackToText(t *testing.T) {
	doc := mustParse(t, `# Widget

## Attributes

| Name | Type | Description | Example |
|------|------|-------------|---------|
| id | int | Identifier | 1 |
| shape | Rhombus | Outline | "wide" |
`)
	c := NewCompiler(newRegistry(t))
	g := c.Compile([]*entity.Document{doc}, nil, nil)

	col := g.Entity("Widget").Column("shape")
	require.NotNil(t, col)
	assert.Equal(t, "TEXT", col.SQLType)
	assert.NotEmpty(t, c.Warnings())
}

func TestCompile_CalculationsAndComputedLabel(t *testing.T) {
	doc := mustParse(t, `# Invoice

## Attributes

| Name | Type | Description | Example |
|------|------|-------------|---------|
| id | int | Identifier | 1 |
| price | int | Unit price | 10 |
| quantity | int | Units | 3 |
| total | int | Total | 30 |

## Calculations

| Field | Formula | Depends On |
|-------|---------|------------|
| total | price * quantity | price, quantity |
| label | number | number |
`)
	c := NewCompiler(newRegistry(t))
	g := c.Compile([]*entity.Document{doc}, nil, nil)

	ent := g.Entity("Invoice")
	require.NotNil(t, ent)
	require.NotNil(t, ent.Column("total").Calculated)
	assert.Equal(t, []string{"price", "quantity"}, ent.Column("total").Calculated.DependsOn)
	assert.Equal(t, "number", ent.LabelExpr)
}

func TestCompile_AreasAssigned(t *testing.T) {
	c := NewCompiler(newRegistry(t))
	areas := map[string]Area{
		"People": {DisplayName: "People", Color: "#336699", Entities: []string{"Person"}},
	}
	g := c.Compile([]*entity.Document{mustParse(t, personDoc)}, nil, areas)
	assert.Equal(t, "People", g.Entity("Person").Area)
}
