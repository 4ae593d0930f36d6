// Package app builds the cobra command of a bridge binary: flags grouped in
// named sections, an optional config file, environment overrides and option
// validation before the run function is called.
package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"
	"k8s.io/component-base/term"

	"github.com/autopeer-io/fordpass-bridge/pkg/log"
)

// RunFunc is the entry point called once options are complete and valid.
type RunFunc func() error

// Option configures an App.
type Option func(*App)

// App is a command line application.
type App struct {
	basename    string
	name        string
	description string
	envPrefix   string
	options     NamedFlagSetOptions
	logOptions  *log.Options
	runFunc     RunFunc
	silence     bool
	noConfig    bool
	args        cobra.PositionalArgs

	configFile  string
	printConfig bool

	viper *viper.Viper
	cmd   *cobra.Command
}

func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opts }
}

// WithLogOptions names the logger options inside the bundle. The global
// logger is initialized from them before the run function is called.
func WithLogOptions(opts *log.Options) Option {
	return func(a *App) { a.logOptions = opts }
}

func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.runFunc = run }
}

func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithEnvPrefix sets the prefix of environment overrides. The default is the
// upper-cased basename with dashes replaced by underscores.
func WithEnvPrefix(prefix string) Option {
	return func(a *App) { a.envPrefix = prefix }
}

// WithSilence suppresses the startup banner and the printed config.
func WithSilence() Option {
	return func(a *App) { a.silence = true }
}

// WithNoConfig drops the --config flag.
func WithNoConfig() Option {
	return func(a *App) { a.noConfig = true }
}

func WithValidArgs(args cobra.PositionalArgs) Option {
	return func(a *App) { a.args = args }
}

// WithDefaultValidArgs rejects any positional argument.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// NewApp creates an application with the given basename and short name.
func NewApp(basename, name string, opts ...Option) *App {
	a := &App{
		basename:  basename,
		name:      name,
		envPrefix: strings.ToUpper(strings.ReplaceAll(basename, "-", "_")),
		viper:     viper.New(),
	}
	for _, o := range opts {
		o(a)
	}
	a.buildCommand()
	return a
}

// Command returns the cobra command of the application.
func (a *App) Command() *cobra.Command { return a.cmd }

// Viper returns the configuration registry of the application.
func (a *App) Viper() *viper.Viper { return a.viper }

// Run executes the command and exits the process on failure.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.basename,
		Short:         a.name,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true

	var namedFlagSets cliflag.NamedFlagSets
	if a.options != nil {
		namedFlagSets = a.options.Flags()
	}
	globalflag.AddGlobalFlags(namedFlagSets.FlagSet("global"), cmd.Name())
	if !a.noConfig {
		a.addConfigFlags(namedFlagSets.FlagSet("global"))
	}
	for _, f := range namedFlagSets.FlagSets {
		cmd.Flags().AddFlagSet(f)
	}

	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, namedFlagSets, cols)

	if a.runFunc != nil {
		cmd.RunE = a.runCommand
	}
	a.cmd = cmd
}

func (a *App) runCommand(cmd *cobra.Command, _ []string) error {
	if !a.noConfig {
		if err := a.loadConfig(); err != nil {
			return err
		}
	}
	if err := a.viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if a.options != nil {
		if err := a.applyOptions(); err != nil {
			return err
		}
	}

	if a.logOptions != nil {
		log.Init(a.logOptions)
	}
	defer log.Sync()

	if !a.silence {
		log.Info("Starting application", "name", a.name, "basename", a.basename)
		if a.viper.ConfigFileUsed() != "" {
			log.Info("Using config file", "file", a.viper.ConfigFileUsed())
		}
		if a.printConfig {
			printConfigTable(cmd.OutOrStdout(), a.viper)
		}
	}

	return a.runFunc()
}

func (a *App) applyOptions() error {
	if err := a.viper.Unmarshal(a.options); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := a.options.Complete(); err != nil {
		return fmt.Errorf("failed to complete options: %w", err)
	}
	if err := a.options.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}
