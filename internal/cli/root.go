// Package cli implements the eddi-conform command line: running scenario
// suites, validating scenario files, deploying and talking to bots by hand,
// and inspecting the run log.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/labsai/EDDI-integration-tests/internal/client"
	"github.com/labsai/EDDI-integration-tests/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	settings *viper.Viper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootOptions returns options with default flag values.
func NewRootOptions() *RootOptions {
	return &RootOptions{Format: "text", settings: config.New()}
}

// NewRootCommand creates the root command for the eddi-conform CLI.
func NewRootCommand() *cobra.Command {
	opts := NewRootOptions()

	cmd := &cobra.Command{
		Use:   "eddi-conform",
		Short: "EDDI conformance harness",
		Long: `Drive a running EDDI chatbot service over HTTP and check that it
honours its resource, deployment and conversation contracts.

Settings come from flags, EDDI_* environment variables and an optional
eddi-conform.yaml, in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.ConfigFile, "config", "", "config file (default ./eddi-conform.yaml)")
	pf.String("base-uri", client.DefaultBaseURI, "service base URI")
	pf.Int("port", client.DefaultPort, "service port, applied when base-uri has none (-1 keeps base-uri as is)")
	pf.String("environment", client.DefaultEnvironment, "deployment environment")
	for key, name := range map[string]string{
		config.KeyBaseURI:     "base-uri",
		config.KeyPort:        "port",
		config.KeyEnvironment: "environment",
	} {
		if err := opts.bind(key, pf.Lookup(name)); err != nil {
			panic(err)
		}
	}

	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewDeployCommand(opts))
	cmd.AddCommand(NewSayCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))

	return cmd
}

// bind lets flag override key. Unchanged flags leave the key to the
// environment, the config file and the defaults.
func (o *RootOptions) bind(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("bind %s: flag not defined", key)
	}
	if err := o.viper().BindPFlag(key, flag); err != nil {
		return fmt.Errorf("bind %s: %w", key, err)
	}
	return nil
}

func (o *RootOptions) viper() *viper.Viper {
	if o.settings == nil {
		o.settings = config.New()
	}
	return o.settings
}

// LoadConfig resolves the effective configuration.
func (o *RootOptions) LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.viper(), o.ConfigFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// Logger returns a text logger on w. Verbose mode logs every exchange.
func (o *RootOptions) Logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// formatter returns the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
