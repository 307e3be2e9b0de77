// Package ui renders command output tables.
package ui

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fatih/color"
)

// Table renders rows under a header with aligned columns.
type Table struct {
	writer  io.Writer
	headers []string
	rows    [][]string
	noColor bool
	// Style colors a cell, nil leaves it plain
	Style func(column int, cell string) *color.Color
}

// NewTable creates a table with the given headers
func NewTable(w io.Writer, noColor bool, headers ...string) *Table {
	return &Table{writer: w, headers: headers, noColor: noColor}
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Len returns the number of rows
func (t *Table) Len() int { return len(t.rows) }

// Render writes the table
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = len(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	bold := t.color(color.Bold, color.FgCyan)
	for i, header := range t.headers {
		bold.Fprint(t.writer, t.pad(header, widths, i))
	}
	fmt.Fprintln(t.writer)

	gray := t.color(color.FgHiBlack)
	for i, width := range widths {
		sep := strings.Repeat("─", width)
		if i < len(widths)-1 {
			sep += "  "
		}
		gray.Fprint(t.writer, sep)
	}
	fmt.Fprintln(t.writer)

	for _, row := range t.rows {
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			text := t.pad(cell, widths, i)
			if t.Style != nil && !t.noColor {
				if c := t.Style(i, cell); c != nil {
					c.Fprint(t.writer, text)
					continue
				}
			}
			fmt.Fprint(t.writer, text)
		}
		fmt.Fprintln(t.writer)
	}
}

func (t *Table) color(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if t.noColor {
		c.DisableColor()
	}
	return c
}

// pad right-aligns every column but the last.
func (t *Table) pad(s string, widths []int, column int) string {
	if column == len(widths)-1 {
		return s
	}
	return padRight(s, widths[column]) + "  "
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// MethodColor colors HTTP methods in the given column
func MethodColor(column int) func(int, string) *color.Color {
	return func(c int, cell string) *color.Color {
		if c != column {
			return nil
		}
		switch cell {
		case http.MethodGet:
			return color.New(color.FgGreen)
		case http.MethodPost:
			return color.New(color.FgYellow)
		case http.MethodPut, http.MethodPatch:
			return color.New(color.FgBlue)
		case http.MethodDelete:
			return color.New(color.FgRed)
		}
		return nil
	}
}

// KeyValueTable renders "key: value" lines with aligned values
type KeyValueTable struct {
	writer  io.Writer
	keys    []string
	values  []string
	noColor bool
}

// NewKeyValueTable creates a new key-value table
func NewKeyValueTable(w io.Writer, noColor bool) *KeyValueTable {
	return &KeyValueTable{writer: w, noColor: noColor}
}

// AddRow adds a key-value pair to the table
func (t *KeyValueTable) AddRow(key, value string) {
	t.keys = append(t.keys, key)
	t.values = append(t.values, value)
}

// Render writes the table
func (t *KeyValueTable) Render() {
	width := 0
	for _, k := range t.keys {
		if len(k) > width {
			width = len(k)
		}
	}

	cyan := color.New(color.FgCyan)
	if t.noColor {
		cyan.DisableColor()
	}
	for i, k := range t.keys {
		cyan.Fprint(t.writer, padRight(k+":", width+1))
		fmt.Fprintf(t.writer, " %s\n", t.values[i])
	}
}
