package annotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ConstraintTags(t *testing.T) {
	tags := Parse("Serial number [UNIQUE] [INDEX]")
	assert.True(t, tags.Unique)
	assert.True(t, tags.Index)
	assert.Zero(t, tags.UniqueKey)

	tags = Parse("Part of composite key [UK1] [IX2]")
	assert.False(t, tags.Unique)
	assert.Equal(t, 1, tags.UniqueKey)
	assert.Equal(t, 2, tags.IndexKey)
}

func TestParse_CaseInsensitive(t *testing.T) {
	tags := Parse("[unique] [label] [Optional] [default=5]")
	assert.True(t, tags.Unique)
	assert.True(t, tags.Label)
	assert.True(t, tags.Optional)
	assert.True(t, tags.HasDefault)
	assert.Equal(t, "5", tags.Default)
}

func TestParse_UIFlags(t *testing.T) {
	tags := Parse("[LABEL] [LABEL2] [READONLY] [HIDDEN] [DETAIL]")
	assert.True(t, tags.Label)
	assert.True(t, tags.Label2)
	assert.True(t, tags.ReadOnly)
	assert.True(t, tags.Hidden)
	assert.True(t, tags.Detail)
}

func TestParse_NoTags(t *testing.T) {
	tags := Parse("plain description with no annotations")
	assert.Equal(t, &Tags{}, tags)
}

func TestParse_SizeUnits(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"[SIZE=512B]", 512},
		{"[MAXSIZE=10KB]", 10 * 1024},
		{"[MAXSIZE=2MB]", 2 * 1024 * 1024},
		{"[SIZE=1GB]", 1024 * 1024 * 1024},
		{"[SIZE=1.5KB]", 1536},
	}
	for _, tt := range tests {
		tags := Parse(tt.in)
		assert.Equal(t, tt.want, tags.MaxSizeBytes, tt.in)
	}
}

func TestParse_DurationUnits(t *testing.T) {
	assert.Equal(t, 90, Parse("[DURATION=90sec]").DurationSeconds)
	assert.Equal(t, 120, Parse("[DURATION=2min]").DurationSeconds)
	assert.Equal(t, 3600, Parse("[DURATION=1h]").DurationSeconds)
	// Fractional values floor to an integer.
	assert.Equal(t, 90, Parse("[DURATION=1.5min]").DurationSeconds)
}

func TestParse_Dimension(t *testing.T) {
	tags := Parse("[DIMENSION=800x600] [MAXWIDTH=1920] [MAXHEIGHT=1080]")
	require.NotNil(t, tags.Dimension)
	assert.Equal(t, 800, tags.Dimension.Width)
	assert.Equal(t, 600, tags.Dimension.Height)
	assert.Equal(t, 1920, tags.MaxWidth)
	assert.Equal(t, 1080, tags.MaxHeight)
}

func TestParse_ComputedPlainCondition(t *testing.T) {
	tags := Parse("[DAILY=Order[status=paid].total]")
	require.NotNil(t, tags.Computed)
	rule := tags.Computed
	assert.Equal(t, ScheduleDaily, rule.Schedule)
	assert.Equal(t, "Order", rule.SourceEntity)
	assert.Equal(t, "status=paid", rule.Condition)
	assert.Equal(t, "total", rule.SourceField)
	assert.Empty(t, rule.Aggregate)
}

func TestParse_ComputedAggregateDirective(t *testing.T) {
	tags := Parse("[ONCHANGE=Reading[MAX(taken_at)].value]")
	require.NotNil(t, tags.Computed)
	rule := tags.Computed
	assert.Equal(t, ScheduleOnChange, rule.Schedule)
	assert.Equal(t, "Reading", rule.SourceEntity)
	assert.Equal(t, "MAX", rule.Aggregate)
	assert.Equal(t, "taken_at", rule.AggregateField)
	assert.Equal(t, "value", rule.SourceField)
	assert.Empty(t, rule.Condition)
}

func TestParse_ComputedWithoutCondition(t *testing.T) {
	tags := Parse("[HOURLY=Sensor.last_value]")
	require.NotNil(t, tags.Computed)
	assert.Equal(t, ScheduleHourly, tags.Computed.Schedule)
	assert.Equal(t, "Sensor", tags.Computed.SourceEntity)
	assert.Equal(t, "last_value", tags.Computed.SourceField)
}

func TestParse_MultipleTagsCoexist(t *testing.T) {
	tags := Parse("string [LABEL] [UNIQUE] [DEFAULT=unknown]")
	assert.True(t, tags.Label)
	assert.True(t, tags.Unique)
	assert.Equal(t, "unknown", tags.Default)
}

func TestStrip_RemovesRecognizedTagsOnly(t *testing.T) {
	text, tags := Strip("Engine serial [UNIQUE] used in [reports]")
	assert.True(t, tags.Unique)
	assert.Equal(t, "Engine serial used in [reports]", text)
}

func TestStrip_TypeCell(t *testing.T) {
	text, tags := Strip("string [OPTIONAL] [DEFAULT=n/a]")
	assert.Equal(t, "string", text)
	assert.True(t, tags.Optional)
	assert.Equal(t, "n/a", tags.Default)
}

func TestParse_UnbalancedBrackets(t *testing.T) {
	tags := Parse("broken ] text [UNIQUE")
	assert.Equal(t, &Tags{}, tags)
}
