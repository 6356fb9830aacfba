// Package entity parses one markdown entity document into a structural
// record: name, description, the ordered attribute table, entity-local type
// definitions and calculation rows. No type resolution happens here; that is
// the schema compiler's job.
package entity

import (
	"bufio"
	"fmt"
	"strings"
)

// Attribute is one row of the "## Attributes" table. Type and Description
// carry their raw cell text including any bracket-tag annotations.
type Attribute struct {
	Name        string
	Type        string
	Description string
	Example     string
}

// TypeRow is one row of the "## Types" table: an entity-local type
// definition registered into the type registry before compilation.
type TypeRow struct {
	Name       string
	Kind       string // enum | pattern | aggregate
	Definition string // value list, regex or subfield list
	Example    string
}

// Calculation is one row of the "## Calculations" table: a client-side
// formula with its declared input columns.
type Calculation struct {
	Field     string
	Formula   string
	DependsOn []string
}

// Document is the structural parse of one entity markdown file.
type Document struct {
	Name         string
	Description  string
	Attributes   []Attribute
	Types        []TypeRow
	Calculations []Calculation
	Warnings     []string
}

// section names are matched case-insensitively on "## " headings.
const (
	sectionAttributes   = "attributes"
	sectionTypes        = "types"
	sectionCalculations = "calculations"
)

// Parse reads one markdown entity document. Malformed table rows are skipped
// and reported through Document.Warnings; only a document without an entity
// heading is a hard error.
func Parse(source string) (*Document, error) {
	doc := &Document{}
	section := ""
	var description []string

	scanner := bufio.NewScanner(strings.NewReader(source))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "# ") && !strings.HasPrefix(line, "## "):
			if doc.Name == "" {
				doc.Name = strings.TrimSpace(line[2:])
			}
		case strings.HasPrefix(line, "## "):
			section = strings.ToLower(strings.TrimSpace(line[3:]))
		case strings.HasPrefix(line, "|"):
			cells, ok := splitRow(line)
			if !ok {
				continue // header separator row
			}
			doc.addRow(section, cells, lineNo)
		default:
			if section == "" && doc.Name != "" {
				description = append(description, line)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("entity document has no \"# Name\" heading")
	}
	doc.Description = strings.Join(description, " ")
	return doc, nil
}

// addRow dispatches a table row to its section, skipping rows with the
// wrong shape.
func (d *Document) addRow(section string, cells []string, lineNo int) {
	switch section {
	case sectionAttributes:
		if len(cells) < 2 || cells[0] == "" || cells[1] == "" || isHeaderRow(cells) {
			if !isHeaderRow(cells) {
				d.warn(lineNo, "attribute row needs at least name and type")
			}
			return
		}
		attr := Attribute{Name: cells[0], Type: cells[1]}
		if len(cells) > 2 {
			attr.Description = cells[2]
		}
		if len(cells) > 3 {
			attr.Example = cells[3]
		}
		d.Attributes = append(d.Attributes, attr)

	case sectionTypes:
		if len(cells) < 3 || cells[0] == "" || isHeaderRow(cells) {
			if !isHeaderRow(cells) {
				d.warn(lineNo, "type row needs name, kind and definition")
			}
			return
		}
		row := TypeRow{Name: cells[0], Kind: cells[1], Definition: cells[2]}
		if len(cells) > 3 {
			row.Example = cells[3]
		}
		d.Types = append(d.Types, row)

	case sectionCalculations:
		if len(cells) < 2 || cells[0] == "" || isHeaderRow(cells) {
			if !isHeaderRow(cells) {
				d.warn(lineNo, "calculation row needs field and formula")
			}
			return
		}
		calc := Calculation{Field: cells[0], Formula: cells[1]}
		if len(cells) > 2 && cells[2] != "" {
			for _, dep := range strings.Split(cells[2], ",") {
				if dep = strings.TrimSpace(dep); dep != "" {
					calc.DependsOn = append(calc.DependsOn, dep)
				}
			}
		}
		d.Calculations = append(d.Calculations, calc)
	}
}

func (d *Document) warn(lineNo int, msg string) {
	d.Warnings = append(d.Warnings, fmt.Sprintf("line %d: %s", lineNo, msg))
}

// splitRow splits a markdown table row into trimmed cells. Returns false for
// separator rows like |---|---|.
func splitRow(line string) ([]string, bool) {
	trimmed := strings.Trim(line, "|")
	parts := strings.Split(trimmed, "|")
	cells := make([]string, 0, len(parts))
	separator := true
	for _, p := range parts {
		cell := strings.TrimSpace(p)
		if strings.Trim(cell, "-: ") != "" {
			separator = false
		}
		cells = append(cells, cell)
	}
	if separator {
		return nil, false
	}
	return cells, true
}

// isHeaderRow recognizes the conventional header rows by their full shape
// (name|type, name|kind, field|formula) so documents may carry them without
// producing a bogus attribute. An attribute legitimately named "name" or
// "field" is not a header: its type cell distinguishes it.
func isHeaderRow(cells []string) bool {
	if len(cells) < 2 {
		return false
	}
	second := strings.ToLower(cells[1])
	switch strings.ToLower(cells[0]) {
	case "name":
		return second == "type" || second == "kind"
	case "field":
		return second == "formula"
	}
	return false
}

// Calculation lookup by field name; returns nil when absent.
func (d *Document) CalculationFor(field string) *Calculation {
	for i := range d.Calculations {
		if strings.EqualFold(d.Calculations[i].Field, field) {
			return &d.Calculations[i]
		}
	}
	return nil
}
