package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inkwell/vellum/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a starter configuration file",
	Long: `Write a starter configuration file with default settings.
Edit the generated file to set your model API key, gateway secret, and
personas before starting the daemon.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	cfg := config.DefaultConfig()
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	configPath := loader.GetConfigPath()
	fmt.Printf("Configuration written to: %s\n", configPath)
	fmt.Println("\nSet models.api_key (or the VELLUM_MODELS_API_KEY environment variable),")
	fmt.Println("then start the daemon with: vellum start")

	return nil
}
