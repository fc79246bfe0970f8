package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/astromechza/notesync/pkg/config"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	v := config.New()
	root := &cobra.Command{
		Use:           "notesync",
		Short:         "Real-time shared note server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to a config file (yaml, json or toml)")
	root.PersistentFlags().String("log-level", "info", "one of debug, info, warn, error")
	root.PersistentFlags().String("log-format", "text", "one of text or json")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return setup(v, cmd)
	}

	root.AddCommand(newServeCmd(v), newGenIDCmd())
	return root.Execute()
}

// setup merges the config file and flags into v and installs the default logger.
func setup(v *viper.Viper, cmd *cobra.Command) error {
	if err := config.BindFlags(v, cmd.Flags(), map[string]string{
		"log-level":  config.KeyLogLevel,
		"log-format": config.KeyLogFormat,
	}); err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString("config")
	if err := config.ReadFile(v, path); err != nil {
		return err
	}
	c := config.Config{LogLevel: v.GetString(config.KeyLogLevel), LogFormat: v.GetString(config.KeyLogFormat)}
	if _, err := config.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	slog.SetDefault(c.Logger())
	return nil
}
