package commands

import (
	"io"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/restkit/internal/cli/config"
	"github.com/conduit-lang/restkit/internal/cli/ui"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath string
	noColor    bool
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "restkit",
		Short: "Metadata-driven REST and GraphQL API server",
		Long: color.CyanString(`restkit - Resource API server

restkit serves resources declared in a YAML file over REST and GraphQL,
backed by PostgreSQL, MongoDB or Elasticsearch.`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to restkit.yml (searched upwards when empty)")
	rootCmd.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewServeCommand(flags))
	rootCmd.AddCommand(NewRoutesCommand(flags))
	rootCmd.AddCommand(NewValidateCommand(flags))
	rootCmd.AddCommand(NewVersionCommand(flags))

	return rootCmd
}

// loadConfig reads the configuration named by the flags, or the nearest
// restkit.yml. Without one the defaults apply.
func (f *globalFlags) loadConfig() (*config.Config, error) {
	path := f.configPath
	if path == "" {
		if found, err := config.FindConfig(); err == nil {
			path = found
		}
	}
	return config.Load(path)
}

// NewVersionCommand creates the version command
func NewVersionCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the restkit version, Git commit, build date, and Go version",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout(), flags.noColor)
		},
	}
}

func printVersion(w io.Writer, noColor bool) {
	goVer := GoVersion
	if goVer == "unknown" {
		goVer = runtime.Version()
	}

	t := ui.NewKeyValueTable(w, noColor)
	t.AddRow("Version", Version)
	t.AddRow("Git commit", GitCommit)
	t.AddRow("Build date", BuildDate)
	t.AddRow("Go version", goVer)
	t.Render()
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		errorColor := color.New(color.FgRed, color.Bold)
		errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}
