// Package cli builds the tabular command tree.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/nimburion/tabular/pkg/config"
	"github.com/nimburion/tabular/pkg/configschema"
	"github.com/nimburion/tabular/pkg/observability/logger"
	"github.com/nimburion/tabular/pkg/version"
)

const defaultEnvPrefix = "TABULAR"

// Output formats accepted by --output.
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// Options configures the root command.
type Options struct {
	Name       string
	ConfigPath string
	EnvPrefix  string
}

// globalFlags holds persistent flag values shared by every subcommand.
type globalFlags struct {
	configPath     string
	secretFilePath string
	output         string
}

// NewRootCommand creates the tabular CLI with get, count, exec, refresh, healthcheck,
// config and version subcommands.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "tabular"
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = defaultEnvPrefix
	}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         "Sort, filter, window and group-count records held in a key-value store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	g := &globalFlags{}
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&g.configPath, "config-file", "c", opts.ConfigPath, "config file path")
	pf.StringVar(&g.secretFilePath, "secret-file", "", "path to secrets file (sets "+opts.EnvPrefix+"_SECRETS_FILE)")
	pf.StringVarP(&g.output, "output", "o", OutputText, "output format: text, json, yaml")
	pf.String("store-backend", "", "record store backend: redis, memory")
	pf.String("fixture", "", "YAML fixture seeding the memory backend (implies --store-backend memory)")
	pf.String("redis-url", "", "redis connection URL")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: json, text")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		switch g.output {
		case OutputText, OutputJSON, OutputYAML:
		default:
			return fmt.Errorf("invalid --output %q (supported: text, json, yaml)", g.output)
		}
		flags := cmd.Flags()
		if flags.Changed("fixture") && !flags.Changed("store-backend") {
			return flags.Set("store-backend", config.StoreBackendMemory)
		}
		return nil
	}

	loadConfig := func(cmd *cobra.Command) (*config.Config, logger.Logger, error) {
		return LoadConfigAndLogger(g.configPath, opts.EnvPrefix, g.secretFilePath, cmd.Flags())
	}

	rootCmd.AddCommand(
		newGetCommand(g, loadConfig),
		newCountCommand(g, loadConfig),
		newExecCommand(g, loadConfig),
		newRefreshCommand(g, loadConfig),
		newHealthcheckCommand(g, loadConfig),
		newConfigCommand(g, opts.EnvPrefix),
		newVersionCommand(g, opts.Name),
	)
	return rootCmd
}

type configLoader func(cmd *cobra.Command) (*config.Config, logger.Logger, error)

func newVersionCommand(g *globalFlags, name string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Current(name)
			if g.output != OutputText {
				return writeStructured(cmd.OutOrStdout(), g.output, info)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
			fmt.Fprintf(out, "Go:         %s\n", info.GoVersion)
			fmt.Fprintf(out, "Commands:   %s\n", strings.Join(info.Commands, ", "))
			return nil
		},
	}
}

func newConfigCommand(g *globalFlags, envPrefix string) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := applySecretFileFlag(envPrefix, g.secretFilePath); err != nil {
				return err
			}
			if _, _, err := config.NewViperLoader(g.configPath, envPrefix).WithFlags(cmd.Flags()).LoadWithSecrets(); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := configschema.BuildSchema()
			if err != nil {
				return err
			}
			return jsonEncoder(cmd.OutOrStdout()).Encode(schema)
		},
	})

	var showSecrets bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := applySecretFileFlag(envPrefix, g.secretFilePath); err != nil {
				return err
			}
			cfg, secrets, err := config.NewViperLoader(g.configPath, envPrefix).WithFlags(cmd.Flags()).LoadWithSecrets()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			// values from the secrets file are masked unless asked for; a redis url password
			// is masked either way
			if showSecrets {
				fmt.Fprint(cmd.OutOrStdout(), cfg.String())
			} else {
				fmt.Fprint(cmd.OutOrStdout(), cfg.Redacted(secrets))
			}
			return nil
		},
	}
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	configCmd.AddCommand(showCmd)
	return configCmd
}

// LoadConfigAndLogger loads and validates configuration, then builds the logger it describes.
func LoadConfigAndLogger(cfgPath, envPrefix, secretFilePath string, flags *pflag.FlagSet) (*config.Config, logger.Logger, error) {
	if err := applySecretFileFlag(envPrefix, secretFilePath); err != nil {
		return nil, nil, err
	}
	cfg, err := config.NewViperLoader(cfgPath, envPrefix).WithFlags(flags).Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(cfg.Observability.LogLevel),
		Format: logger.LogFormat(cfg.Observability.LogFormat),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	log.Debug("configuration loaded", "config", cfg.String())
	return cfg, log, nil
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(envPrefix+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case OutputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := jsonEncoder(w)
		return enc.Encode(v)
	}
}

// Execute runs the command and exits non-zero on error.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
