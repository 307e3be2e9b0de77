package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORSConfig lists the cross origin rules
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// DefaultCORSConfig allows every origin for the API methods
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader, "Link", "Location"},
		MaxAge:         86400,
	}
}

// CORS answers preflight requests and decorates responses with the
// Access-Control headers of config. Wildcard subdomains like
// https://*.example.com are supported.
func CORS(config CORSConfig) Middleware {
	c := cors.New(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowedMethods:   config.AllowedMethods,
		AllowedHeaders:   config.AllowedHeaders,
		ExposedHeaders:   config.ExposedHeaders,
		AllowCredentials: config.AllowCredentials,
		MaxAge:           config.MaxAge,
	})
	return c.Handler
}
