package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// config holds the boot parameters every subcommand shares, grounded
// on gcsfuse's cfg.Config + viper-based flag/env/config-file
// resolution.
type config struct {
	DiskPath           string        `mapstructure:"disk"`
	SwapPath           string        `mapstructure:"swap"`
	Frames             int           `mapstructure:"frames"`
	CacheSize          int           `mapstructure:"cache-size"`
	WriteBehindInterval time.Duration `mapstructure:"write-behind-interval"`
	MetricsAddr        string        `mapstructure:"metrics-addr"`
	LogLevel           string        `mapstructure:"log-level"`
}

var v = viper.New()

func bindConfigFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("disk", "pintoscore.img", "path to the main disk image")
	flags.String("swap", "pintoscore.swap", "path to the swap device image")
	flags.Int("frames", 256, "number of physical frames in the simulated pool")
	flags.Int("cache-size", 64, "maximum resident block-cache entries")
	flags.Duration("write-behind-interval", 5*time.Second, "block cache write-behind period")
	flags.String("metrics-addr", "", "address to serve Prometheus /metrics on, empty to disable")
	flags.String("log-level", "info", "log level: debug, info, warn, error")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("PINTOSCORE")
	v.AutomaticEnv()
}

func loadConfig() (config, error) {
	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}
