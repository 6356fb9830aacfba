package path

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metamark-lang/metamark/compiler/schema"
)

func TestResolveBackRef_Count(t *testing.T) {
	g := buildTestGraph()
	res, err := Resolve("Allocation<engine(COUNT)", "Engine", g)
	require.NoError(t, err)

	assert.Contains(t, res.Select, "COUNT(*)")
	assert.Contains(t, res.Select, `s."engine_id" = b."id"`)
	assert.Equal(t, schema.ResultNumber, res.ResultType)
	assert.Equal(t, "Allocation count", res.Label)
	assert.Empty(t, res.Joins)
}

func TestResolveBackRef_List(t *testing.T) {
	g := buildTestGraph()
	res, err := Resolve("Allocation<engine(LIST).site", "Engine", g)
	require.NoError(t, err)

	assert.Contains(t, res.Select, `GROUP_CONCAT(s."site", ', ')`)
	assert.Contains(t, res.Select, `s."engine_id" = b."id"`)
	assert.Equal(t, schema.ResultString, res.ResultType)
	assert.Equal(t, "site", res.Label)
}

func TestResolveBackRef_ScalarDefaultsToLimitOne(t *testing.T) {
	g := buildTestGraph()
	res, err := Resolve("Allocation<engine(ORDER BY started DESC).site", "Engine", g)
	require.NoError(t, err)

	assert.Contains(t, res.Select, `ORDER BY s."started" DESC`)
	assert.Contains(t, res.Select, "LIMIT 1")
	assert.Equal(t, schema.ResultString, res.ResultType)

	// site is Allocation's primary label, so the value navigates to the row.
	require.NotNil(t, res.Nav)
	assert.Equal(t, "Allocation", res.Nav.Entity)
	assert.Contains(t, res.Nav.IDSelect, `SELECT s."id"`)
	assert.Contains(t, res.Nav.IDSelect, "LIMIT 1")
}

func TestResolveBackRef_ExplicitLimit(t *testing.T) {
	g := buildTestGraph()
	res, err := Resolve("Allocation<engine(ORDER BY started, LIMIT 3).started", "Engine", g)
	require.NoError(t, err)
	assert.Contains(t, res.Select, "LIMIT 3")
	assert.Nil(t, res.Nav)
}

func TestResolveBackRef_WhereDirectives(t *testing.T) {
	g := buildTestGraph()

	// Enum values map to their zero-based internal representation,
	// case-insensitively.
	res, err := Resolve("Allocation<engine(COUNT, WHERE status=active)", "Engine", g)
	require.NoError(t, err)
	assert.Contains(t, res.Select, `s."status" = 1`)

	// null compiles to IS NULL.
	res, err = Resolve("Allocation<engine(COUNT, WHERE site=null)", "Engine", g)
	require.NoError(t, err)
	assert.Contains(t, res.Select, `s."site" IS NULL`)

	// Text values are single-quoted, numbers stay raw.
	res, err = Resolve("Allocation<engine(COUNT, WHERE site=Depot 9)", "Engine", g)
	require.NoError(t, err)
	assert.Contains(t, res.Select, `s."site" = 'Depot 9'`)

	res, err = Resolve("Allocation<engine(COUNT, WHERE id=7)", "Engine", g)
	require.NoError(t, err)
	assert.Contains(t, res.Select, `s."id" = 7`)

	// A value outside the enum set is an error, not a silent string compare.
	_, err = Resolve("Allocation<engine(COUNT, WHERE status=Bogus)", "Engine", g)
	assert.Error(t, err)
}

func TestResolveBackRef_Errors(t *testing.T) {
	g := buildTestGraph()

	cases := map[string]string{
		"unknown child":       "Ghost<engine(COUNT)",
		"unknown fk field":    "Allocation<pilot(COUNT)",
		"both count and tail": "Allocation<engine(COUNT).site",
		"neither":             "Allocation<engine",
		"unknown directive":   "Allocation<engine(SHUFFLE)",
		"bad limit":           "Allocation<engine(LIMIT 0).site",
		"unknown tail column": "Allocation<engine.missing",
		"unknown order col":   "Allocation<engine(ORDER BY missing).site",
	}
	for name, expr := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Resolve(expr, "Engine", g)
			require.Error(t, err)
			var re *ResolveError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, expr, re.Expression)
		})
	}

	// The foreign key exists but points at a different entity than the base.
	_, err := Resolve("Allocation<engine(COUNT)", "Manufacturer", g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "targets Engine")
}

func TestParseBackRef(t *testing.T) {
	child, tail, ok := ParseBackRef("Allocation<engine.dims")
	require.True(t, ok)
	assert.Equal(t, "Allocation", child)
	assert.Equal(t, "dims", tail)

	_, _, ok = ParseBackRef("<engine")
	assert.False(t, ok)
}
