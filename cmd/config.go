package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configMode string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(cfg.Redacted()); err != nil {
			return eris.Wrap(err, "encode config")
		}
		return enc.Close()
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the settings a command needs are present",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(configMode); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuration ok for %s\n", configMode)
		return nil
	},
}

func init() {
	configCheckCmd.Flags().StringVar(&configMode, "mode", "report", "command to check: report, dry-run, token, schedule, serve")
	configCmd.AddCommand(configShowCmd, configCheckCmd)
	rootCmd.AddCommand(configCmd)
}
