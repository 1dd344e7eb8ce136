// Package cmd holds the roastbench command line.
package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bdougie/roastbench/internal/config"
	"github.com/bdougie/roastbench/internal/logging"
)

// app carries what every sub-command needs once flags are parsed
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd builds the command tree. Each call gets its own viper instance.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	config.SetDefaults(a.v)

	root := &cobra.Command{
		Use:   "roastbench",
		Short: "Stress-test a video generation backend and grade what it returns",
		Long: `Roastbench fans a batch of prompts out to a video generation backend
under a fixed in-flight limit, then downloads every returned video, samples
its frames and scores it for warping, melting, coherence and motion
consistency. Videos that score badly are flagged for roasting.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (YAML)")
	flags.String("log-level", "", "log level: DEBUG, INFO, WARN, ERROR")
	flags.String("log-format", "", "log format: text or json")
	flags.String("output", "", "output directory")
	_ = a.v.BindPFlag("config", flags.Lookup("config"))
	_ = a.v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("logging.format", flags.Lookup("log-format"))
	_ = a.v.BindPFlag("output.dir", flags.Lookup("output"))

	root.AddCommand(newGenerateCmd(a), newAnalyzeCmd(a), newRunCmd(a))
	return root
}

// Execute runs the root command until ctx is cancelled
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (a *app) load() error {
	if path := a.v.GetString("config"); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return err
		}
	}

	cfg, err := config.FromViper(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(a.logger)
	return nil
}
