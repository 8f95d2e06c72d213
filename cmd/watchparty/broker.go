package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sharetube/watchparty/internal/app"
)

var (
	brokerHost = configVar[string]{
		envKey:       "WATCHPARTY_BROKER_HOST",
		flagKey:      "host",
		defaultValue: "0.0.0.0",
		usage:        "Broker host",
	}
	brokerPort = configVar[int]{
		envKey:       "WATCHPARTY_BROKER_PORT",
		flagKey:      "port",
		defaultValue: 8080,
		usage:        "Broker port",
	}
	brokerLogLevel = configVar[string]{
		envKey:       "WATCHPARTY_BROKER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
		usage:        "Logging level",
	}
	brokerHeartbeat = configVar[time.Duration]{
		envKey:       "WATCHPARTY_BROKER_HEARTBEAT",
		flagKey:      "heartbeat",
		defaultValue: 10 * time.Second,
		usage:        "Ping interval towards clients",
	}
)

func newBrokerCmd() *cobra.Command {
	vp := viper.New()

	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run the development topic broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &app.BrokerConfig{
				Host:      vp.GetString(brokerHost.flagKey),
				Port:      vp.GetInt(brokerPort.flagKey),
				LogLevel:  vp.GetString(brokerLogLevel.flagKey),
				Heartbeat: vp.GetDuration(brokerHeartbeat.flagKey),
			}
			printConfig(cfg)

			if err := cfg.Validate(); err != nil {
				return err
			}

			return app.RunBroker(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	bind(vp, fs, brokerHost)
	bind(vp, fs, brokerPort)
	bind(vp, fs, brokerLogLevel)
	bind(vp, fs, brokerHeartbeat)

	return cmd
}
