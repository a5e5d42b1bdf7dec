package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/assetq/internal/config"
)

func newConfigCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFilePath("config", root.configPath); err != nil {
				return err
			}
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "configuration valid: %d platform(s), %d scan folder(s), %d concurrent job(s)\n",
				len(cfg.Platforms), len(cfg.ScanFolders), cfg.EffectiveMaxJobs())
			if host := cfg.HostPlatform(); host != "" {
				fmt.Fprintf(out, "host platform: %s\n", host)
			}
			return nil
		},
	})

	return cmd
}
