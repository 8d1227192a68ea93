package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xraph/bridge/internal/config"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:           "bridged",
	Short:         "bridged dispatches new job requests to the compute backend.",
	Long:          `bridged watches the request store's change feed, claims each new request and submits it to the compute backend exactly once.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (yaml, json or toml)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")
	flags.String("store-driver", config.DriverMemory, "store driver: memory, postgres, sqlite, bun-postgres, redis, mongo")
	flags.String("store-dsn", "", "store connection string")

	bind := map[string]string{
		"log.level":    "log-level",
		"log.format":   "log-format",
		"store.driver": "store-driver",
		"store.dsn":    "store-dsn",
	}
	for key, flag := range bind {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			slog.Error("Error binding flag", "flag", flag, "error", err)
			os.Exit(1)
		}
	}

	rootCmd.AddCommand(serveCmd, migrateCmd, sweepCmd, reconcileCmd)
}

// initConfig registers defaults and the BRIDGE_ environment prefix.
func initConfig() {
	config.SetDefaults(v)
	config.BindEnv(v)
}

// loadConfig reads the optional config file and validates the result.
func loadConfig() (*config.Config, error) {
	if err := config.ReadFile(v, cfgFile); err != nil {
		return nil, err
	}
	return config.Load(v)
}
