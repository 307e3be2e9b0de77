package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/restkit/internal/cli/config"
	"github.com/conduit-lang/restkit/internal/cli/ui"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/state"
)

// NewRoutesCommand creates the routes command
func NewRoutesCommand(flags *globalFlags) *cobra.Command {
	var method string
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "List the HTTP operations of the declared resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			registry, err := loadRegistry(cfg)
			if err != nil {
				return err
			}

			t := ui.NewTable(cmd.OutOrStdout(), flags.noColor, "METHOD", "PATH", "NAME", "CLASS")
			t.Style = ui.MethodColor(0)
			for _, op := range registry.HTTPOperations() {
				if method != "" && !strings.EqualFold(op.Method(), method) {
					continue
				}
				t.AddRow(op.Method(), op.URITemplate(), op.Name(), op.Class())
			}
			if t.Len() == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No routes found.")
				return nil
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVarP(&method, "method", "m", "", "Only list routes with this HTTP method")
	return cmd
}

// NewValidateCommand creates the validate command
func NewValidateCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and resource file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			registry, err := loadRegistry(cfg)
			if err != nil {
				return err
			}

			graphql := 0
			for _, res := range registry.Resources() {
				graphql += len(res.GraphQLOperations)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d resources, %d HTTP operations, %d GraphQL operations\n",
				cfg.Resources, registry.Count(), len(registry.HTTPOperations()), graphql)
			return nil
		},
	}
}

// loadRegistry registers the resources of the configured file and checks
// their links.
func loadRegistry(cfg *config.Config) (*metadata.Registry, error) {
	resources, err := metadata.LoadYAMLFile(cfg.Resources, state.ErrorKinds())
	if err != nil {
		return nil, err
	}
	registry := metadata.NewRegistry()
	for _, res := range resources {
		if err := registry.Register(res); err != nil {
			return nil, err
		}
	}
	if err := registry.ValidateAll(); err != nil {
		return nil, err
	}
	return registry, nil
}
