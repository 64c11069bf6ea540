package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spiffcs/firststep/config"
	"github.com/spiffcs/firststep/internal/constants"
)

// NewCmdConfig creates the config command. Without a subcommand it shows
// the merged configuration.
func NewCmdConfig() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or manage configuration",
		Long: `Shows the configuration merged from the global file and ./.firststep.yaml.
Use the subcommands to create, locate or edit config files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, format)
		},
	}
	addFormatFlag(cmd, &format)

	cmd.AddCommand(
		NewCmdConfigInit(),
		NewCmdConfigPath(),
		NewCmdConfigDefaults(),
		NewCmdConfigShow(),
		NewCmdConfigSet(),
	)
	return cmd
}

// NewCmdConfigInit creates the config init subcommand.
func NewCmdConfigInit() *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a starter config file",
		Long: `Writes a commented starter config to the global config file, or to
./.firststep.yaml with --local. Existing files are left alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.ConfigPath()
			if local {
				path = config.LocalConfigPath()
			}
			return runConfigInit(cmd.OutOrStdout(), path)
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "Write ./.firststep.yaml instead of the global file")
	return cmd
}

// NewCmdConfigPath creates the config path subcommand.
func NewCmdConfigPath() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show config file locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigPath(cmd.OutOrStdout())
		},
	}
}

// NewCmdConfigDefaults creates the config defaults subcommand.
func NewCmdConfigDefaults() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "defaults",
		Short: "Print every setting with its default value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printConfig(cmd.OutOrStdout(), config.DefaultConfig(), format)
		},
	}
	addFormatFlag(cmd, &format)
	return cmd
}

// NewCmdConfigShow creates the config show subcommand.
func NewCmdConfigShow() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, format)
		},
	}
	addFormatFlag(cmd, &format)
	return cmd
}

// NewCmdConfigSet creates the config set subcommand.
func NewCmdConfigSet() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a value in the global config file",
		Long: `Validates and writes one setting to the global config file. Keys:
  ` + strings.Join(config.SettableKeys, "\n  ") + `

API and session keys are only read from the environment.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSet(cmd.OutOrStdout(), args[0], args[1])
		},
	}
}

func addFormatFlag(cmd *cobra.Command, format *string) {
	cmd.Flags().StringVarP(format, "output", "o", "yaml", "Output format (yaml, json)")
}

func runConfigInit(w io.Writer, path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists; edit it or use 'firststep config set'", path)
	}
	if err := config.SaveTo(path, config.MinimalConfig()); err != nil {
		return err
	}

	fmt.Fprintf(w, "Wrote %s\n", path)
	fmt.Fprintf(w, "Secrets stay out of it: export %s or put it in %s.\n", constants.EnvAPIKey, config.EnvFilePath)
	return nil
}

func runConfigPath(w io.Writer) error {
	paths := config.GetConfigPaths()
	for _, f := range []struct {
		label  string
		path   string
		exists bool
	}{
		{"global", paths.GlobalPath, paths.GlobalExists},
		{"local", paths.LocalPath, paths.LocalExists},
		{"env", config.EnvFilePath, fileExists(config.EnvFilePath)},
	} {
		mark := dimColor.Sprint("missing")
		if f.exists {
			mark = okColor.Sprint("found")
		}
		fmt.Fprintf(w, "%-7s %s (%s)\n", f.label, f.path, mark)
	}
	fmt.Fprintln(w, dimColor.Sprint("local overrides global; secrets come from the environment or env file"))
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func runConfigShow(cmd *cobra.Command, format string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := printConfig(cmd.OutOrStdout(), cfg, format); err != nil {
		return err
	}

	if err := config.LoadEnv(); err != nil {
		return err
	}
	w := cmd.ErrOrStderr()
	fmt.Fprintln(w)
	for _, env := range []string{constants.EnvAPIKey, constants.EnvSessionKey} {
		state := "unset"
		if os.Getenv(env) != "" {
			state = "set"
		}
		fmt.Fprintf(w, "# %s: %s\n", env, state)
	}
	return nil
}

func printConfig(w io.Writer, cfg *config.Config, format string) error {
	switch format {
	case "yaml":
		out, err := cfg.ToYAML()
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want yaml or json)", format)
	}
}

func runConfigSet(w io.Writer, key, value string) error {
	cfg, err := config.LoadGlobal()
	if err != nil {
		return err
	}
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if err := cfg.Save(); err != nil {
		return err
	}
	okColor.Fprintf(w, "✓ %s = %s\n", key, value)
	dimColor.Fprintf(w, "  saved to %s\n", config.ConfigPath())
	return nil
}
