package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"videosync/config"
	"videosync/internal/logging"
)

const appName = "videosync"

// env carries what PersistentPreRunE resolved for the subcommands.
type env struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
	log     zerolog.Logger
}

func newRootCmd() *cobra.Command {
	e := &env{log: zerolog.Nop()}

	root := &cobra.Command{
		Use:           appName,
		Short:         "Mirror a YouTube channel into the local content store",
		Long:          `videosync authenticates against YouTube with OAuth, then creates and updates one local record per uploaded video, on demand or on a schedule.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&e.cfgFile, "config", "",
		fmt.Sprintf("config file (default is ./%s.yaml or $HOME/.%s/%s.yaml)", appName, appName, appName))
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().Bool("pretty", false, "human-readable log output")

	root.AddCommand(
		newConfigureCmd(e),
		newAuthCmd(e),
		newStatusCmd(e),
		newSyncCmd(e),
		newListCmd(e),
		newServeCmd(e),
		newDurationCmd(),
	)

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w\nRun '%s --help' for usage", err, cmd.CommandPath())
	})
	return root
}

// load reads configuration and builds the logger. Flags bound to viper
// override the file and the environment when set.
func (e *env) load(cmd *cobra.Command) error {
	e.v = config.New(e.cfgFile)
	flags := cmd.Root().PersistentFlags()
	if err := e.v.BindPFlag("log.level", flags.Lookup("log-level")); err != nil {
		return err
	}
	if err := e.v.BindPFlag("log.pretty", flags.Lookup("pretty")); err != nil {
		return err
	}

	cfg, err := config.Load(e.v)
	if err != nil {
		return err
	}
	e.cfg = cfg

	pretty := cfg.Log.Pretty || logging.IsTerminal(os.Stderr)
	e.log = logging.New(cmd.ErrOrStderr(), cfg.Log.Level, pretty)
	e.log.Debug().Str("config_file", e.v.ConfigFileUsed()).Str("backend", cfg.Storage.Backend).Msg("Configuration loaded")
	return nil
}
