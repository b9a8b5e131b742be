package cmd

import (
	"fmt"

	"github.com/scribehub/recordcache/internal/config"
	"github.com/spf13/cobra"
)

var writeConfig bool

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration recordcache would run with, as YAML.
With --write the defaults are saved to the --config path.`,
		RunE: runConfig,
	}
	configCmd.Flags().BoolVar(&writeConfig, "write", false, "write the default configuration to --config")

	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	if writeConfig {
		if configFile == "" {
			return fmt.Errorf("--write requires --config")
		}
		if err := config.SaveToFile(config.DefaultConfig(), configFile); err != nil {
			return err
		}
		cmd.Printf("Default configuration written to %s\n", configFile)
		return nil
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}

	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	cmd.Print(string(data))
	return nil
}
