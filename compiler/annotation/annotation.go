// Package annotation extracts bracket-tag annotations from the free-text
// type and description cells of an entity attribute table. Tags look like
// [UNIQUE], [UK1], [LABEL], [DEFAULT=0], [MAXSIZE=10MB] or
// [DAILY=Order[status=paid].total] and are matched case-insensitively.
//
// The parser is a set of independent matchers run over a single scan of the
// bracket groups: each matcher either claims a tag and records a structured
// result, or passes. Unrecognized tags are left untouched.
package annotation

import (
	"strconv"
	"strings"
)

// Schedule is the recomputation trigger of a computed-field tag.
type Schedule int

const (
	ScheduleDaily Schedule = iota
	ScheduleHourly
	ScheduleImmediate
	ScheduleOnDemand
	ScheduleOnChange
)

// String returns the string representation of the schedule.
func (s Schedule) String() string {
	switch s {
	case ScheduleDaily:
		return "daily"
	case ScheduleHourly:
		return "hourly"
	case ScheduleImmediate:
		return "immediate"
	case ScheduleOnDemand:
		return "on_demand"
	case ScheduleOnChange:
		return "onchange"
	default:
		return "unknown"
	}
}

// ComputedRule describes a server-side computed field:
// SCHEDULE=Entity[condition].field, where condition is either a boolean
// filter over the source entity or an aggregate directive MAX(f)/MIN(f).
type ComputedRule struct {
	Schedule       Schedule
	SourceEntity   string
	SourceField    string
	Condition      string // raw boolean filter, empty if none or aggregate
	Aggregate      string // "MAX" or "MIN", empty for plain conditions
	AggregateField string
}

// Dimension is a WxH pixel constraint for media columns.
type Dimension struct {
	Width  int
	Height int
}

// Tags is the structured result of scanning one text cell.
// The zero value is the fully-default state: no tag present.
type Tags struct {
	Unique    bool // bare [UNIQUE]
	UniqueKey int  // n from [UKn], 0 when absent
	Index     bool // bare [INDEX]
	IndexKey  int  // n from [IXn], 0 when absent

	Label    bool
	Label2   bool
	ReadOnly bool
	Hidden   bool
	Detail   bool

	Optional   bool
	Default    string
	HasDefault bool

	MaxSizeBytes    int64 // from [SIZE=..] / [MAXSIZE=..], 0 when absent
	Dimension       *Dimension
	MaxWidth        int
	MaxHeight       int
	DurationSeconds int // from [DURATION=..], 0 when absent

	Computed *ComputedRule
}

// matcher inspects one tag body and claims it by returning true.
type matcher func(body string, t *Tags) bool

var matchers = []matcher{
	matchConstraint,
	matchUIFlag,
	matchTypeLevel,
	matchMedia,
	matchComputed,
}

// Parse extracts all recognized tags from text without modifying it.
func Parse(text string) *Tags {
	tags := &Tags{}
	for _, body := range scanBrackets(text) {
		apply(body, tags)
	}
	return tags
}

// Strip returns text with every recognized tag removed, collapsing the
// whitespace the tag occupied, alongside the extracted tags.
func Strip(text string) (string, *Tags) {
	tags := &Tags{}
	var b strings.Builder
	last := 0
	for _, span := range scanBracketSpans(text) {
		body := text[span.start+1 : span.end]
		if !apply(body, tags) {
			continue
		}
		b.WriteString(strings.TrimRight(text[last:span.start], " \t"))
		last = span.end + 1
	}
	b.WriteString(text[last:])
	return strings.TrimSpace(b.String()), tags
}

func apply(body string, tags *Tags) bool {
	body = strings.TrimSpace(body)
	if body == "" {
		return false
	}
	for _, m := range matchers {
		if m(body, tags) {
			return true
		}
	}
	return false
}

type span struct {
	start int // index of '['
	end   int // index of matching ']'
}

// scanBracketSpans finds top-level bracket groups in one pass. Nesting is
// tracked with a depth counter so computed tags like
// [DAILY=Order[status=paid].total] come out as a single group.
func scanBracketSpans(text string) []span {
	var spans []span
	depth := 0
	start := -1
	for i, r := range text {
		switch r {
		case '[':
			if depth == 0 {
				start = i
			}
			depth++
		case ']':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				spans = append(spans, span{start: start, end: i})
				start = -1
			}
		}
	}
	return spans
}

func scanBrackets(text string) []string {
	spans := scanBracketSpans(text)
	bodies := make([]string, 0, len(spans))
	for _, s := range spans {
		bodies = append(bodies, text[s.start+1:s.end])
	}
	return bodies
}

// matchConstraint handles UNIQUE, UKn, INDEX and IXn.
func matchConstraint(body string, t *Tags) bool {
	upper := strings.ToUpper(body)
	switch {
	case upper == "UNIQUE":
		t.Unique = true
		return true
	case upper == "INDEX":
		t.Index = true
		return true
	case strings.HasPrefix(upper, "UK"):
		if n, err := strconv.Atoi(upper[2:]); err == nil && n > 0 {
			t.UniqueKey = n
			return true
		}
	case strings.HasPrefix(upper, "IX"):
		if n, err := strconv.Atoi(upper[2:]); err == nil && n > 0 {
			t.IndexKey = n
			return true
		}
	}
	return false
}

// matchUIFlag handles LABEL, LABEL2, READONLY, HIDDEN and DETAIL.
func matchUIFlag(body string, t *Tags) bool {
	switch strings.ToUpper(body) {
	case "LABEL":
		t.Label = true
	case "LABEL2":
		t.Label2 = true
	case "READONLY":
		t.ReadOnly = true
	case "HIDDEN":
		t.Hidden = true
	case "DETAIL":
		t.Detail = true
	default:
		return false
	}
	return true
}

// matchTypeLevel handles DEFAULT=value and OPTIONAL.
func matchTypeLevel(body string, t *Tags) bool {
	upper := strings.ToUpper(body)
	if upper == "OPTIONAL" {
		t.Optional = true
		return true
	}
	if strings.HasPrefix(upper, "DEFAULT=") {
		t.Default = strings.TrimSpace(body[len("DEFAULT="):])
		t.HasDefault = true
		return true
	}
	return false
}

var sizeUnits = map[string]int64{
	"B":  1,
	"KB": 1024,
	"MB": 1024 * 1024,
	"GB": 1024 * 1024 * 1024,
}

var durationUnits = map[string]int{
	"SEC": 1,
	"MIN": 60,
	"H":   3600,
}

// matchMedia handles SIZE/MAXSIZE, DIMENSION, MAXWIDTH, MAXHEIGHT and
// DURATION constraints. Unit conversion uses exact multipliers and floors
// fractional values to an integer.
func matchMedia(body string, t *Tags) bool {
	key, value, ok := splitTag(body)
	if !ok {
		return false
	}
	switch key {
	case "SIZE", "MAXSIZE":
		n, unit := splitUnit(value)
		mult, ok := sizeUnits[unit]
		if !ok {
			return false
		}
		t.MaxSizeBytes = int64(n * float64(mult))
		return true
	case "DIMENSION":
		parts := strings.SplitN(strings.ToUpper(value), "X", 2)
		if len(parts) != 2 {
			return false
		}
		w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
		h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
		if errW != nil || errH != nil {
			return false
		}
		t.Dimension = &Dimension{Width: w, Height: h}
		return true
	case "MAXWIDTH":
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			t.MaxWidth = n
			return true
		}
	case "MAXHEIGHT":
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			t.MaxHeight = n
			return true
		}
	case "DURATION":
		n, unit := splitUnit(value)
		mult, ok := durationUnits[unit]
		if !ok {
			return false
		}
		t.DurationSeconds = int(n * float64(mult))
		return true
	}
	return false
}

var schedules = map[string]Schedule{
	"DAILY":     ScheduleDaily,
	"HOURLY":    ScheduleHourly,
	"IMMEDIATE": ScheduleImmediate,
	"ON_DEMAND": ScheduleOnDemand,
	"ONCHANGE":  ScheduleOnChange,
}

// matchComputed handles SCHEDULE=Entity[condition].field tags. The condition
// block is optional; MAX(field)/MIN(field) inside it is an aggregate
// directive rather than a boolean filter.
func matchComputed(body string, t *Tags) bool {
	key, value, ok := splitTag(body)
	if !ok {
		return false
	}
	schedule, ok := schedules[key]
	if !ok {
		return false
	}

	rule := &ComputedRule{Schedule: schedule}

	source := strings.TrimSpace(value)
	if open := strings.IndexByte(source, '['); open >= 0 {
		close := strings.LastIndexByte(source, ']')
		if close < open {
			return false
		}
		rule.SourceEntity = strings.TrimSpace(source[:open])
		cond := strings.TrimSpace(source[open+1 : close])
		if agg, field, ok := parseAggregate(cond); ok {
			rule.Aggregate = agg
			rule.AggregateField = field
		} else {
			rule.Condition = cond
		}
		source = source[close+1:]
	} else if dot := strings.IndexByte(source, '.'); dot >= 0 {
		rule.SourceEntity = strings.TrimSpace(source[:dot])
		source = source[dot:]
	}

	if strings.HasPrefix(source, ".") {
		rule.SourceField = strings.TrimSpace(source[1:])
	}
	if rule.SourceEntity == "" || rule.SourceField == "" {
		return false
	}
	t.Computed = rule
	return true
}

// parseAggregate recognizes MAX(field) / MIN(field) directives.
func parseAggregate(cond string) (string, string, bool) {
	upper := strings.ToUpper(cond)
	for _, fn := range []string{"MAX", "MIN"} {
		if strings.HasPrefix(upper, fn+"(") && strings.HasSuffix(upper, ")") {
			field := strings.TrimSpace(cond[len(fn)+1 : len(cond)-1])
			if field != "" {
				return fn, field, true
			}
		}
	}
	return "", "", false
}

// splitTag splits "KEY=value" into an upper-cased key and raw value.
func splitTag(body string) (string, string, bool) {
	eq := strings.IndexByte(body, '=')
	if eq <= 0 {
		return "", "", false
	}
	return strings.ToUpper(strings.TrimSpace(body[:eq])), body[eq+1:], true
}

// splitUnit splits "10MB" / "1.5 min" into a number and an upper-cased unit.
func splitUnit(value string) (float64, string) {
	value = strings.TrimSpace(value)
	i := 0
	for i < len(value) && (value[i] >= '0' && value[i] <= '9' || value[i] == '.') {
		i++
	}
	n, err := strconv.ParseFloat(value[:i], 64)
	if err != nil {
		return 0, ""
	}
	return n, strings.ToUpper(strings.TrimSpace(value[i:]))
}
