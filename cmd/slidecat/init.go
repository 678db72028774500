package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"slidecat/pkg/config"
)

func newInitCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(a.configFile); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", a.configFile)
			}
			cfg := config.DefaultConfig()
			if dir, _ := cmd.Flags().GetString("dataset"); dir != "" {
				cfg.Dataset.Dir = dir
			}
			if err := config.SaveConfig(cfg, a.configFile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", a.configFile)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
