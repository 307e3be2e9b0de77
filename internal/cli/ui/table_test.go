package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, true, "METHOD", "PATH", "NAME")
	table.AddRow("GET", "/books/{id}", "_api_/books/{id}_get")
	table.AddRow("DELETE", "/books/{id}", "_api_/books/{id}_delete")
	table.Style = MethodColor(0)
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "METHOD  PATH         NAME", lines[0])
	assert.Equal(t, "──────  ───────────  ───────────────────────", lines[1])
	assert.Equal(t, "GET     /books/{id}  _api_/books/{id}_get", lines[2])
	assert.Equal(t, "DELETE  /books/{id}  _api_/books/{id}_delete", lines[3])
	assert.Equal(t, 2, table.Len())
}

func TestTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	NewTable(&buf, true).Render()
	assert.Empty(t, buf.String())
}

func TestMethodColor(t *testing.T) {
	style := MethodColor(1)
	assert.Nil(t, style(0, "GET"))
	assert.Nil(t, style(1, "OPTIONS"))

	c := style(1, "DELETE")
	require.NotNil(t, c)
	assert.True(t, c.Equals(color.New(color.FgRed)))
}

func TestKeyValueTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewKeyValueTable(&buf, true)
	table.AddRow("Version", "1.2.0")
	table.AddRow("Go version", "go1.24.0")
	table.Render()

	assert.Equal(t, "Version:    1.2.0\nGo version: go1.24.0\n", buf.String())
}
