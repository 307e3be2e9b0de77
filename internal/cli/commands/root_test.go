package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testResources = `
resources:
  - class: Book
    table: books
    fields:
      id: {type: int}
      title: {type: string}
    operations:
      - kind: get
      - kind: get_collection
      - kind: post
      - kind: delete
    graphql:
      - kind: query
`

func writeProject(t *testing.T, resources string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "resources.yaml"), []byte(resources), 0o644))
	path := filepath.Join(dir, "restkit.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: \":9090\"\n"), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--no-color"))
	err := cmd.Execute()
	return out.String(), err
}

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "restkit", cmd.Use)
	assert.NotEmpty(t, cmd.Short)

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "routes", "validate", "version"}, names)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestVersionCommand(t *testing.T) {
	Version = "1.2.0"
	GitCommit = "abc123"
	BuildDate = "2025-01-01"
	GoVersion = "unknown"

	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    1.2.0\n")
	assert.Contains(t, out, "Git commit: abc123\n")
	assert.Contains(t, out, "Go version: "+runtime.Version())
}

func TestRoutesCommand(t *testing.T) {
	path := writeProject(t, testResources)

	out, err := run(t, "routes", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "METHOD")
	assert.Contains(t, out, "/books/{id}")
	assert.Contains(t, out, "_api_/books_get_collection")
	assert.Contains(t, out, "DELETE")

	out, err = run(t, "routes", "--config", path, "--method", "post")
	require.NoError(t, err)
	assert.Contains(t, out, "POST")
	assert.NotContains(t, out, "DELETE")

	out, err = run(t, "routes", "--config", path, "--method", "PUT")
	require.NoError(t, err)
	assert.Equal(t, "No routes found.\n", out)
}

func TestValidateCommand(t *testing.T) {
	path := writeProject(t, testResources)

	out, err := run(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "1 resources, 4 HTTP operations, 1 GraphQL operations")

	t.Run("unknown relation target", func(t *testing.T) {
		path := writeProject(t, `
resources:
  - class: Book
    fields:
      id: {type: int}
    relations:
      author: {type: belongs_to, target: Author}
    operations:
      - kind: get
`)
		_, err := run(t, "validate", "--config", path)
		assert.Error(t, err)
	})

	t.Run("missing resource file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "restkit.yml")
		require.NoError(t, os.WriteFile(path, []byte("resources: nope.yaml\n"), 0o644))
		_, err := run(t, "validate", "--config", path)
		assert.ErrorContains(t, err, "failed to read resource file")
	})
}

func TestServeCommandConfigError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "restkit.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: \"\"\n"), 0o644))

	_, err := run(t, "serve", "--config", path)
	assert.ErrorContains(t, err, "server.address")
}
