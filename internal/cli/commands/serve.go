package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/restkit/internal/app"
	"github.com/conduit-lang/restkit/internal/logging"
)

// NewServeCommand creates the serve command
func NewServeCommand(flags *globalFlags) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the resource API",
		Long: `Load the configuration and resource file, open the configured backends
and serve the API until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}

			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Load(ctx, cfg, logger)
			if err != nil {
				logger.Error("failed to build application", zap.Error(err))
				return err
			}
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&address, "address", "a", "", "Listen address, overrides server.address")
	return cmd
}

// commandContext falls back to the background context for commands run
// outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
