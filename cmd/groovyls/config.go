package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"groovyls/internal/config"
	"groovyls/internal/paths"
)

var (
	configFormat   string
	configDefaults bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect groovyls configuration",
	Long:  "View the configuration read from <workspace>/.groovyls/config.yaml and GROOVYLS_* variables",
}

var configShowCmd = &cobra.Command{
	Use:   "show [dir]",
	Short: "Show the effective configuration",
	Long: `Display the configuration in effect for a workspace.

Examples:
  groovyls config show               # YAML as it would be saved
  groovyls config show --format json
  groovyls config show --defaults    # Built-in defaults only`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write the default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "yaml", "Output format (yaml, json)")
	configShowCmd.Flags().BoolVar(&configDefaults, "defaults", false, "Show built-in defaults")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(configFormat)
	if err != nil {
		return err
	}
	cfg := config.DefaultConfig()
	source := "defaults"
	if !configDefaults {
		root, err := workspaceArg(args)
		if err != nil {
			return err
		}
		loaded, v, err := loadConfig(cmd, root, nil)
		if err != nil {
			return err
		}
		cfg = loaded
		if used := v.ConfigFileUsed(); used != "" {
			source = used
		}
	}
	if format == FormatHuman {
		format = FormatYAML
	}
	if format == FormatYAML {
		fmt.Fprintf(os.Stderr, "# source: %s\n", source)
	}
	return render(os.Stdout, format, cfg, func(io.Writer) error { return nil })
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	root, err := workspaceArg(args)
	if err != nil {
		return err
	}
	path := paths.ConfigPath(root)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.DefaultConfig().Save(root); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
