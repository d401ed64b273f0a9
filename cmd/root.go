// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/pktstack/internal/config"
	"firestige.xyz/pktstack/internal/log"
)

// Version is set at build time through -ldflags.
var Version = "0.1.0"

var (
	// Global flags
	configFile string

	// cfg is the effective configuration, loaded before any subcommand runs.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pktstack",
	Short: "pktstack - zero-copy packet decoding and reassembly",
	Long: `pktstack reads pcap and pcapng captures, decodes Ethernet, 802.1Q, IPv4,
TCP and UDP into shared chunks without copying payload bytes, reassembles
IPv4 fragments and TCP streams, and writes the streams to files.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if err := log.Init(loaded.Log); err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		cfg = loaded
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults only when empty)")

	rootCmd.AddCommand(reassembleCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
