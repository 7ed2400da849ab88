package main

import (
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return fmt.Errorf("no configuration loaded")
	}

	out := cmd.OutOrStdout()

	if flagJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")

		return enc.Encode(resolvedCfg)
	}

	fmt.Fprintf(out, "# %s\n", resolvedPath)

	if err := toml.NewEncoder(out).Encode(resolvedCfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return nil
}
