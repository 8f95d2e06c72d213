package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sharetube/watchparty/internal/app"
)

var (
	token = configVar[string]{
		envKey:  "WATCHPARTY_TOKEN",
		flagKey: "token",
		usage:   "JWT identifying the user",
	}
	tokenFile = configVar[string]{
		envKey:  "WATCHPARTY_TOKEN_FILE",
		flagKey: "token-file",
		usage:   "File holding the JWT, read when --token is empty",
	}
	roomID = configVar[string]{
		envKey:  "WATCHPARTY_ROOM_ID",
		flagKey: "room-id",
		usage:   "Room to join",
	}
	apiURL = configVar[string]{
		envKey:       "WATCHPARTY_API_URL",
		flagKey:      "api-url",
		defaultValue: "https://colkidclub-hutech.id.vn/api",
		usage:        "Rooms API base URL",
	}
	transportKind = configVar[string]{
		envKey:       "WATCHPARTY_TRANSPORT",
		flagKey:      "transport",
		defaultValue: app.TransportWS,
		usage:        "Room transport: inmemory, redis or ws",
	}
	brokerURL = configVar[string]{
		envKey:       "WATCHPARTY_BROKER_URL",
		flagKey:      "broker-url",
		defaultValue: "ws://localhost:8080/ws",
		usage:        "Websocket broker URL",
	}
	redisHost = configVar[string]{
		envKey:       "WATCHPARTY_REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "localhost",
		usage:        "Redis host",
	}
	redisPort = configVar[int]{
		envKey:       "WATCHPARTY_REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
		usage:        "Redis port",
	}
	redisPassword = configVar[string]{
		envKey:  "WATCHPARTY_REDIS_PASSWORD",
		flagKey: "redis-password",
		usage:   "Redis password",
	}
	youtubeAPIKey = configVar[string]{
		envKey:  "WATCHPARTY_YOUTUBE_API_KEY",
		flagKey: "youtube-api-key",
		usage:   "YouTube Data API key for search and trending",
	}
	cache = configVar[string]{
		envKey:       "WATCHPARTY_CACHE",
		flagKey:      "cache",
		defaultValue: app.CachePebble,
		usage:        "Queue cache: memory, pebble or redis",
	}
	cachePath = configVar[string]{
		envKey:       "WATCHPARTY_CACHE_PATH",
		flagKey:      "cache-path",
		defaultValue: defaultCachePath(),
		usage:        "Directory of the pebble queue cache",
	}
	videoID = configVar[string]{
		envKey:  "WATCHPARTY_VIDEO_ID",
		flagKey: "video-id",
		usage:   "YouTube video the owner plays on join",
	}
	autoplay = configVar[bool]{
		envKey:       "WATCHPARTY_AUTOPLAY",
		flagKey:      "autoplay",
		defaultValue: true,
		usage:        "Start --video-id playing right away",
	}
	shareURLBase = configVar[string]{
		envKey:       "WATCHPARTY_SHARE_URL_BASE",
		flagKey:      "share-url-base",
		defaultValue: "https://cinemate.website",
		usage:        "Base of the room link posted by the owner",
	}
	joinLogLevel = configVar[string]{
		envKey:       "WATCHPARTY_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
		usage:        "Logging level",
	}
	reconnectDelay = configVar[time.Duration]{
		envKey:       "WATCHPARTY_RECONNECT_DELAY",
		flagKey:      "reconnect-delay",
		defaultValue: 5 * time.Second,
		usage:        "Delay between reconnect attempts",
	}
	heartbeat = configVar[time.Duration]{
		envKey:       "WATCHPARTY_HEARTBEAT",
		flagKey:      "heartbeat",
		defaultValue: 10 * time.Second,
		usage:        "Transport heartbeat interval",
	}
)

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".watchparty"
	}
	return filepath.Join(dir, "watchparty")
}

func newJoinCmd() *cobra.Command {
	vp := viper.New()

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a room and control it from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadJoinConfig(vp)
			printConfig(cfg)

			if err := cfg.Validate(); err != nil {
				return err
			}

			return app.RunJoin(cmd.Context(), cfg, os.Stdin, os.Stdout)
		},
	}

	fs := cmd.Flags()
	bind(vp, fs, token)
	bind(vp, fs, tokenFile)
	bind(vp, fs, roomID)
	bind(vp, fs, apiURL)
	bind(vp, fs, transportKind)
	bind(vp, fs, brokerURL)
	bind(vp, fs, redisHost)
	bind(vp, fs, redisPort)
	bind(vp, fs, redisPassword)
	bind(vp, fs, youtubeAPIKey)
	bind(vp, fs, cache)
	bind(vp, fs, cachePath)
	bind(vp, fs, videoID)
	bind(vp, fs, autoplay)
	bind(vp, fs, shareURLBase)
	bind(vp, fs, joinLogLevel)
	bind(vp, fs, reconnectDelay)
	bind(vp, fs, heartbeat)

	return cmd
}

func loadJoinConfig(vp *viper.Viper) *app.JoinConfig {
	return &app.JoinConfig{
		Token:          vp.GetString(token.flagKey),
		TokenFile:      vp.GetString(tokenFile.flagKey),
		RoomID:         vp.GetString(roomID.flagKey),
		APIURL:         vp.GetString(apiURL.flagKey),
		Transport:      vp.GetString(transportKind.flagKey),
		BrokerURL:      vp.GetString(brokerURL.flagKey),
		RedisHost:      vp.GetString(redisHost.flagKey),
		RedisPort:      vp.GetInt(redisPort.flagKey),
		RedisPassword:  vp.GetString(redisPassword.flagKey),
		YouTubeAPIKey:  vp.GetString(youtubeAPIKey.flagKey),
		Cache:          vp.GetString(cache.flagKey),
		CachePath:      vp.GetString(cachePath.flagKey),
		VideoID:        vp.GetString(videoID.flagKey),
		Autoplay:       vp.GetBool(autoplay.flagKey),
		ShareURLBase:   vp.GetString(shareURLBase.flagKey),
		LogLevel:       vp.GetString(joinLogLevel.flagKey),
		ReconnectDelay: vp.GetDuration(reconnectDelay.flagKey),
		Heartbeat:      vp.GetDuration(heartbeat.flagKey),
	}
}
