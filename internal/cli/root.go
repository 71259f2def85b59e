package cli

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/awmpietro/reaction-sim/internal/app"
	"github.com/awmpietro/reaction-sim/internal/config"
	"github.com/awmpietro/reaction-sim/internal/scenario"
	"github.com/awmpietro/reaction-sim/internal/scenario/cache"
	"github.com/awmpietro/reaction-sim/internal/sim"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Runtime is loaded from the environment on first use when nil.
	Runtime *config.Runtime
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "reactsim",
		Short: "Multilayer reaction simulation engine",
		Long:  "Validate and simulate shipboard reaction scenarios across the crew, system and AI layers.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewSimulateCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

func (o *RootOptions) runtime() (config.Runtime, error) {
	if o.Runtime != nil {
		return *o.Runtime, nil
	}
	rt, err := config.Load()
	if err != nil {
		return config.Runtime{}, err
	}
	o.Runtime = &rt
	return rt, nil
}

// logger writes to stderr so JSON output on stdout stays parseable.
func (o *RootOptions) logger(rt config.Runtime) *slog.Logger {
	level := rt.LogLevel
	if o.Verbose {
		level = "debug"
	}
	return config.NewLogger(os.Stderr, level, rt.LogFormat)
}

func newService(rt config.Runtime, logger *slog.Logger, engineOpts ...sim.Option) *app.Service {
	return app.NewService(
		app.DecoderFunc(scenario.Decode),
		cache.NewInMemory(rt.CacheMaxItems),
		app.WithDefaults(rt.RunConfig()),
		app.WithRunTimeout(rt.RunTimeout),
		app.WithLogger(logger),
		app.WithEngineOptions(engineOpts...),
	)
}
