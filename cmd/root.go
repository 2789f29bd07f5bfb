package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/gordon-go/cmd/capture"
	"github.com/tphakala/gordon-go/cmd/classify"
	"github.com/tphakala/gordon-go/cmd/serve"
	"github.com/tphakala/gordon-go/cmd/session"
	"github.com/tphakala/gordon-go/cmd/speak"
	"github.com/tphakala/gordon-go/internal/app"
	"github.com/tphakala/gordon-go/internal/buildinfo"
	"github.com/tphakala/gordon-go/internal/conf"
)

// RootCommand creates and returns the root command. Settings are loaded
// before any subcommand runs, so subcommands see the final values through
// the shared settings pointer.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var (
		configPath   string
		closeLogging func()
	)

	rootCmd := &cobra.Command{
		Use:           "gordon",
		Short:         "Gordon-Go kitchen coach",
		Long:          "Watches the cooking station, files frames by activity and narrates recipe sessions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       buildinfo.Get().String(),
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: search standard locations)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug output")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		panic(fmt.Sprintf("error binding debug flag: %v", err))
	}

	subcommands := []*cobra.Command{
		serve.Command(settings),
		capture.Command(settings),
		classify.Command(settings),
		speak.Command(settings),
		session.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := load(configPath)
		if err != nil {
			return err
		}
		*settings = *loaded

		closeLogging, err = app.InitLogging(settings)
		return err
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if closeLogging != nil {
			closeLogging()
		}
	}

	return rootCmd
}

func load(path string) (*conf.Settings, error) {
	if path != "" {
		return conf.LoadFile(path)
	}
	return conf.Load()
}
