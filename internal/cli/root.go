package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vellum",
	Short: "Vellum - manuscript writing assistant runtime",
	Long: `Vellum is the daemon behind an LLM-backed manuscript writing assistant.
It keeps a long-lived model session synchronized with your editor state,
runs manuscript tools on the model's behalf, and exposes a local gateway
for editor frontends.`,
	Version: version,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.vellum/vellum.json)")
	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// Execute runs the CLI. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd exposes the root command for tests.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion reports the build version.
func GetVersion() string {
	return version
}
