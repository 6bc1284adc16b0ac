package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/clementine-kb/clementine/configs"
	"github.com/clementine-kb/clementine/internal/config"
)

func newInitCmd() *cobra.Command {
	var (
		global bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write configuration templates",
		Long: `Write a sync manifest template (clementine.yaml) in the current
directory, ready to point at document directories.

With --global, a commented user config template is written to
~/.config/clementine/config.yaml instead.`,
		Example: `  # Start a manifest in the current directory
  clementine init

  # Install the machine-level config template
  clementine init --global`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if global {
				return writeTemplate(cmd, config.GetUserConfigPath(), configs.UserConfigTemplate, force)
			}
			return writeTemplate(cmd, "clementine.yaml", configs.ManifestTemplate, force)
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "Write the user config template instead of a manifest")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}

func writeTemplate(cmd *cobra.Command, path, content string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
