package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gitcentral/gitcentral/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after files, GITCENTRAL_* environment variables
and defaults have been merged. The yaml output can be saved as
.git/gitcentral/gitcentral.yaml.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, _ := cmd.Flags().GetString("format")
		return writeConfig(os.Stdout, format, cfg)
	},
}

// writeConfig encodes c as yaml, json or toml.
func writeConfig(w io.Writer, format string, c *config.Config) error {
	switch format {
	case "yaml", "yml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	case "toml":
		return toml.NewEncoder(w).Encode(c)
	}
	return fmt.Errorf("unknown format %q (want yaml, json or toml)", format)
}

func init() {
	configShowCmd.Flags().StringP("format", "f", "yaml", "Output format: yaml, json or toml")
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
