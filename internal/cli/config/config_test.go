package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldWd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "resources.yaml", cfg.Resources)
	assert.Equal(t, 30, cfg.Pagination.ItemsPerPage)
	assert.Equal(t, "page", cfg.Pagination.PageParameterName)
	assert.Equal(t, "__", cfg.GraphQL.NestingSeparator)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "/docs.json", cfg.Docs.Path)
	assert.Equal(t, "API", cfg.Docs.Title)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoadWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	content := `
resources: api/resources.yaml
debug: true
server:
  address: 0.0.0.0:9000
  request_timeout: 5s
  cors:
    allowed_origins: ["https://*.example.com"]
database:
  url: postgres://localhost/library
pagination:
  items_per_page: 10
  maximum_items_per_page: 50
  client_items_per_page: true
security:
  jwt_secret: s3cret
  roles:
    ROLE_ADMIN: [ROLE_USER, books.delete]
    ROLE_USER: [books.read]
docs:
  title: Library
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile("restkit.yml", []byte(content), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, "api/resources.yaml", cfg.Resources)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Address)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, []string{"https://*.example.com"}, cfg.Server.CORS.AllowedOrigins)
	assert.Equal(t, "postgres://localhost/library", cfg.Database.URL)
	assert.Equal(t, 10, cfg.Pagination.ItemsPerPage)
	assert.True(t, cfg.Pagination.ClientItemsPerPage)
	assert.Equal(t, "s3cret", cfg.Security.JWTSecret)
	assert.Equal(t, []string{"ROLE_USER", "books.delete"}, cfg.Security.Roles["ROLE_ADMIN"])
	assert.Equal(t, "Library", cfg.Docs.Title)
	assert.Equal(t, "console", cfg.Log.Format)

	t.Run("explicit path resolves resources relative to it", func(t *testing.T) {
		cfg, err := Load(filepath.Join(dir, "restkit.yml"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "api/resources.yaml"), cfg.Resources)
	})
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("RESTKIT_DATABASE_URL", "postgres://env/db")
	t.Setenv("RESTKIT_SERVER_ADDRESS", ":7000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, ":7000", cfg.Server.Address)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	tests := map[string]string{
		"docs path":      "docs:\n  path: docs.json\n",
		"items per page": "pagination:\n  items_per_page: 100\n  maximum_items_per_page: 50\n",
		"separator":      "graphql:\n  nesting_separator: .\n",
		"mongo database": "mongo:\n  uri: mongodb://localhost\n  database: ''\n",
		"hub url":        "mercure:\n  hub_url: hub\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "restkit.yml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestFindConfig(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "restkit.yaml"), []byte("debug: false\n"), 0o644))
	chdir(t, nested)

	path, err := FindConfig()
	require.NoError(t, err)
	resolved, _ := filepath.EvalSymlinks(root)
	got, _ := filepath.EvalSymlinks(filepath.Dir(path))
	assert.Equal(t, resolved, got)
}
