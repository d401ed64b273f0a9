package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/pktstack/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and PKTSTACK_*
environment overrides have been applied, in the config file format.

Examples:
  pktstack config show
  PKTSTACK_SINK_COMPRESSION=zstd pktstack -c pktstack.yml config show`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigShow(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}

func runConfigShow(w io.Writer, c *config.Config) error {
	root := struct {
		Pktstack *config.Config `yaml:"pktstack"`
	}{c}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
