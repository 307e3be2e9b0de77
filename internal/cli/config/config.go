package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conduit-lang/restkit/internal/logging"
	"github.com/conduit-lang/restkit/internal/openapi"
	"github.com/conduit-lang/restkit/internal/pagination"
	"github.com/conduit-lang/restkit/internal/web/middleware"
	"github.com/conduit-lang/restkit/internal/web/server"
)

// EnvPrefix prefixes the environment variables overriding the configuration
const EnvPrefix = "RESTKIT"

// Config represents the restkit configuration
type Config struct {
	Resources     string              `mapstructure:"resources"`
	Debug         bool                `mapstructure:"debug"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Mongo         MongoConfig         `mapstructure:"mongo"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Pagination    pagination.Options  `mapstructure:"pagination"`
	GraphQL       GraphQLConfig       `mapstructure:"graphql"`
	Mercure       MercureConfig       `mapstructure:"mercure"`
	Security      SecurityConfig      `mapstructure:"security"`
	Log           logging.Config      `mapstructure:"log"`
	Docs          DocsConfig          `mapstructure:"docs"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

// ServerConfig represents the HTTP server configuration
type ServerConfig struct {
	server.Config  `mapstructure:",squash"`
	RequestTimeout time.Duration         `mapstructure:"request_timeout"`
	CORS           middleware.CORSConfig `mapstructure:"cors"`
}

// DatabaseConfig represents the PostgreSQL configuration. An empty URL
// disables the ORM backend.
type DatabaseConfig struct {
	URL          string `mapstructure:"url"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxRetries   int    `mapstructure:"max_retries"`
}

// RedisConfig represents the Redis configuration backing subscriptions and
// the update relay. An empty address disables both.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
	Channel  string        `mapstructure:"channel"`
}

// MongoConfig represents the document store configuration
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// ElasticsearchConfig represents the search backend configuration
type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

// GraphQLConfig holds the GraphQL read settings
type GraphQLConfig struct {
	NestingSeparator string `mapstructure:"nesting_separator"`
}

// MercureConfig configures update publication. HubURL is advertised to
// clients; Enabled mounts the built-in WebSocket hub.
type MercureConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	HubURL         string   `mapstructure:"hub_url"`
	BaseURL        string   `mapstructure:"base_url"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SecurityConfig configures bearer tokens and the role hierarchy
type SecurityConfig struct {
	JWTSecret string              `mapstructure:"jwt_secret"`
	JWTIssuer string              `mapstructure:"jwt_issuer"`
	TokenTTL  time.Duration       `mapstructure:"token_ttl"`
	Roles     map[string][]string `mapstructure:"roles"`
}

// DocsConfig configures the API documentation
type DocsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Path         string `mapstructure:"path"`
	openapi.Info `mapstructure:",squash"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load loads the configuration from path, or from restkit.yml/restkit.yaml in
// the working directory when path is empty. RESTKIT_ prefixed environment
// variables override file values, e.g. RESTKIT_DATABASE_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("restkit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.Security.Roles = upperKeys(config.Security.Roles)
	if config.Resources != "" && path != "" && !filepath.IsAbs(config.Resources) {
		config.Resources = filepath.Join(filepath.Dir(path), config.Resources)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// upperKeys restores role names, which viper lowercases.
func upperKeys(roles map[string][]string) map[string][]string {
	if roles == nil {
		return nil
	}
	out := make(map[string][]string, len(roles))
	for name, entries := range roles {
		out[strings.ToUpper(name)] = entries
	}
	return out
}

func setDefaults(v *viper.Viper) {
	srv := server.DefaultConfig()
	v.SetDefault("resources", "resources.yaml")
	v.SetDefault("debug", false)
	v.SetDefault("server.address", srv.Address)
	v.SetDefault("server.read_timeout", srv.ReadTimeout)
	v.SetDefault("server.write_timeout", srv.WriteTimeout)
	v.SetDefault("server.idle_timeout", srv.IdleTimeout)
	v.SetDefault("server.read_header_timeout", srv.ReadHeaderTimeout)
	v.SetDefault("server.shutdown_timeout", srv.ShutdownTimeout)
	v.SetDefault("server.max_header_bytes", srv.MaxHeaderBytes)
	v.SetDefault("server.request_timeout", 30*time.Second)

	cors := middleware.DefaultCORSConfig()
	v.SetDefault("server.cors.allowed_origins", cors.AllowedOrigins)
	v.SetDefault("server.cors.allowed_methods", cors.AllowedMethods)
	v.SetDefault("server.cors.allowed_headers", cors.AllowedHeaders)
	v.SetDefault("server.cors.exposed_headers", cors.ExposedHeaders)
	v.SetDefault("server.cors.allow_credentials", cors.AllowCredentials)
	v.SetDefault("server.cors.max_age", cors.MaxAge)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_retries", 3)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "restkit:subscriptions:")
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("redis.channel", "restkit:updates")

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "restkit")

	v.SetDefault("elasticsearch.addresses", []string{})
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")

	pg := pagination.DefaultOptions()
	v.SetDefault("pagination.enabled", pg.Enabled)
	v.SetDefault("pagination.client_enabled", pg.ClientEnabled)
	v.SetDefault("pagination.client_items_per_page", pg.ClientItemsPerPage)
	v.SetDefault("pagination.items_per_page", pg.ItemsPerPage)
	v.SetDefault("pagination.maximum_items_per_page", pg.MaximumItemsPerPage)
	v.SetDefault("pagination.partial", pg.Partial)
	v.SetDefault("pagination.client_partial", pg.ClientPartial)
	v.SetDefault("pagination.page_parameter_name", pg.PageParameterName)
	v.SetDefault("pagination.enabled_parameter_name", pg.EnabledParameterName)
	v.SetDefault("pagination.items_per_page_parameter_name", pg.ItemsPerPageParameterName)
	v.SetDefault("pagination.partial_parameter_name", pg.PartialParameterName)

	v.SetDefault("graphql.nesting_separator", "__")

	v.SetDefault("mercure.enabled", false)
	v.SetDefault("mercure.hub_url", "")
	v.SetDefault("mercure.base_url", "")
	v.SetDefault("mercure.allowed_origins", []string{})

	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.jwt_issuer", "restkit")
	v.SetDefault("security.token_ttl", time.Hour)

	log := logging.DefaultConfig()
	v.SetDefault("log.level", log.Level)
	v.SetDefault("log.format", log.Format)
	v.SetDefault("log.development", log.Development)

	v.SetDefault("docs.enabled", true)
	v.SetDefault("docs.path", "/docs.json")
	v.SetDefault("docs.title", "API")
	v.SetDefault("docs.version", "1.0.0")
	v.SetDefault("docs.description", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// FindConfig looks for restkit.yml or restkit.yaml from the working
// directory upwards.
func FindConfig() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		for _, name := range []string{"restkit.yml", "restkit.yaml"} {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no restkit.yml found")
		}
		dir = parent
	}
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	for name, path := range map[string]string{"docs.path": cfg.Docs.Path, "metrics.path": cfg.Metrics.Path} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%s must start with '/', got: %s", name, path)
		}
	}
	if cfg.Pagination.ItemsPerPage < 0 || cfg.Pagination.MaximumItemsPerPage < 0 {
		return fmt.Errorf("pagination item counts must not be negative")
	}
	if cfg.Pagination.MaximumItemsPerPage > 0 && cfg.Pagination.ItemsPerPage > cfg.Pagination.MaximumItemsPerPage {
		return fmt.Errorf("pagination.items_per_page (%d) exceeds pagination.maximum_items_per_page (%d)",
			cfg.Pagination.ItemsPerPage, cfg.Pagination.MaximumItemsPerPage)
	}
	if cfg.Pagination.PageParameterName == "" {
		return fmt.Errorf("pagination.page_parameter_name is required")
	}
	if cfg.GraphQL.NestingSeparator == "" || strings.Contains(cfg.GraphQL.NestingSeparator, ".") {
		return fmt.Errorf("graphql.nesting_separator must be set and must not contain '.'")
	}
	if cfg.Mongo.URI != "" && cfg.Mongo.Database == "" {
		return fmt.Errorf("mongo.database is required when mongo.uri is set")
	}
	if cfg.Mercure.HubURL != "" && !strings.HasPrefix(cfg.Mercure.HubURL, "/") && !strings.Contains(cfg.Mercure.HubURL, "://") {
		return fmt.Errorf("mercure.hub_url must be absolute or start with '/', got: %s", cfg.Mercure.HubURL)
	}
	return nil
}
