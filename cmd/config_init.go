package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config.yaml",
	Long:  "Writes the effective configuration, defaults plus any overrides already in place, to config.yaml in the current directory.",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		const path = "config.yaml"
		if _, err := os.Stat(path); err == nil && !force {
			return eris.Errorf("%s already exists (use --force to overwrite)", path)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return eris.Wrap(err, "config init: marshal")
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return eris.Wrapf(err, "config init: write %s", path)
		}

		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing config.yaml")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
