package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/pebble/v2/vfs"
	"github.com/redis/go-redis/v9"
	"github.com/sharetube/watchparty/internal/api"
	"github.com/sharetube/watchparty/internal/authority"
	"github.com/sharetube/watchparty/internal/broker"
	"github.com/sharetube/watchparty/internal/catalog"
	"github.com/sharetube/watchparty/internal/identity"
	"github.com/sharetube/watchparty/internal/queue"
	queuemem "github.com/sharetube/watchparty/internal/repository/queue/inmemory"
	queuepebble "github.com/sharetube/watchparty/internal/repository/queue/pebble"
	queueredis "github.com/sharetube/watchparty/internal/repository/queue/redis"
	"github.com/sharetube/watchparty/internal/room"
	"github.com/sharetube/watchparty/internal/transport"
	"github.com/sharetube/watchparty/internal/transport/inmemory"
	redistransport "github.com/sharetube/watchparty/internal/transport/redis"
	"github.com/sharetube/watchparty/internal/transport/ws"
	"github.com/sharetube/watchparty/pkg/ctxlogger"
	"github.com/sharetube/watchparty/pkg/redisclient"
	"github.com/sharetube/watchparty/pkg/ytvideodata"
)

const (
	queueCacheExpire = 24 * 14 * time.Hour
	shutdownTimeout  = 30 * time.Second
	closeTimeout     = 5 * time.Second
)

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	logLevel := slog.LevelInfo
	if level != "" {
		if err := logLevel.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}

	return slog.New(&h), nil
}

// notifyShutdown cancels the returned context on the first termination signal.
func notifyShutdown(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		defer signal.Stop(sig)
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// RunBroker serves the development topic broker until a termination signal.
func RunBroker(ctx context.Context, cfg *BrokerConfig) error {
	logger, err := newLogger(cfg.LogLevel, os.Stdout)
	if err != nil {
		return err
	}

	b := broker.New(&broker.Config{HeartbeatInterval: cfg.Heartbeat}, logger)
	server := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: b.Mux()}

	// graceful shutdown
	serverCtx, serverStopCtx := notifyShutdown(ctx)
	defer serverStopCtx()

	shutdownErr := make(chan error, 1)
	go func() {
		<-serverCtx.Done()

		shutdownCtx, c := context.WithTimeout(context.Background(), shutdownTimeout)
		defer c()

		shutdownErr <- server.Shutdown(shutdownCtx)
	}()

	logger.InfoContext(serverCtx, "starting broker", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if err := <-shutdownErr; err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

// deps holds what RunJoin builds from the config, with the matching cleanup.
type deps struct {
	conn    transport.Conn
	store   queue.Store
	closers []func() error
}

func (d *deps) close(logger *slog.Logger) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.Warn("failed to release resource", "error", err)
		}
	}
}

func buildDeps(ctx context.Context, cfg *JoinConfig, clk clock.Clock, logger *slog.Logger) (*deps, error) {
	d := &deps{}

	var rc *redis.Client
	redisClient := func() (*redis.Client, error) {
		if rc != nil {
			return rc, nil
		}
		c, err := redisclient.NewRedisClient(ctx, &redisclient.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		rc = c
		d.closers = append(d.closers, rc.Close)
		return rc, nil
	}

	opts := transport.Options{
		ReconnectDelay:    cfg.ReconnectDelay,
		HeartbeatInterval: cfg.Heartbeat,
	}
	switch cfg.Transport {
	case TransportRedis:
		c, err := redisClient()
		if err != nil {
			d.close(logger)
			return nil, err
		}
		d.conn = redistransport.New(c, opts, clk, logger)
	case TransportWS:
		d.conn = ws.New(cfg.BrokerURL, opts, clk, logger)
	default:
		d.conn = inmemory.NewBroker().NewConn(opts, clk, logger)
	}

	switch cfg.Cache {
	case CacheRedis:
		c, err := redisClient()
		if err != nil {
			d.close(logger)
			return nil, err
		}
		d.store = queueredis.NewRepo(c, queueCacheExpire)
	case CachePebble:
		repo, err := queuepebble.NewRepo(cfg.CachePath, vfs.Default, logger)
		switch {
		case errors.Is(err, queuepebble.ErrLocked):
			logger.WarnContext(ctx, "queue cache is used by another session, keeping the queue in memory",
				"cache_path", cfg.CachePath, "error", err)
			d.store = queuemem.NewRepo()
		case err != nil:
			d.close(logger)
			return nil, fmt.Errorf("failed to open queue cache: %w", err)
		default:
			d.closers = append(d.closers, repo.Close)
			d.store = repo
		}
	default:
		d.store = queuemem.NewRepo()
	}

	return d, nil
}

func tokenSource(cfg *JoinConfig) identity.TokenSource {
	if cfg.Token != "" || cfg.TokenFile == "" {
		return identity.StaticToken(cfg.Token)
	}
	return identity.FileToken(cfg.TokenFile)
}

// RunJoin joins a room and drives it from the commands read from in until the
// user leaves, in is exhausted or a termination signal arrives.
func RunJoin(ctx context.Context, cfg *JoinConfig, in io.Reader, out io.Writer) error {
	logger, err := newLogger(cfg.LogLevel, os.Stderr)
	if err != nil {
		return err
	}

	ctx, cancel := notifyShutdown(ctx)
	defer cancel()

	clk := clock.New()
	source := tokenSource(cfg)
	user := identity.NewResolver(source, logger).Resolve(ctx)

	apiClient, err := api.New(&api.Config{
		BaseURL: cfg.APIURL,
		Token: func(ctx context.Context) string {
			token, _ := source.Token(ctx)
			return token
		},
	}, logger)
	if err != nil {
		return err
	}
	videos := catalog.New(ytvideodata.New(cfg.YouTubeAPIKey, nil), apiClient, logger)

	d, err := buildDeps(ctx, cfg, clk, logger)
	if err != nil {
		return err
	}
	defer d.close(logger)

	var deepLink *room.DeepLink
	if cfg.VideoID != "" {
		deepLink = &room.DeepLink{VideoID: cfg.VideoID, Autoplay: cfg.Autoplay}
	}

	console := NewConsole(out)
	ctl := room.New(&room.Params{
		RoomID:       cfg.RoomID,
		User:         user,
		Conn:         d.conn,
		Rooms:        apiClient,
		Catalog:      videos,
		Store:        d.store,
		Notifier:     authority.NotifierFunc(console.Notify),
		Navigator:    room.NavigatorFunc(func(context.Context) { cancel() }),
		DeepLink:     deepLink,
		ShareURLBase: cfg.ShareURLBase,
		Clock:        clk,
		Logger:       logger,
	})

	if err := ctl.Join(ctx); err != nil {
		return err
	}
	console.Printf("joined room %s as %s (owner: %t)\n", cfg.RoomID, user.Username, ctl.IsOwner())

	done := make(chan error, 1)
	go func() {
		done <- console.Run(ctx, ctl, in)
	}()

	select {
	case <-ctx.Done():
	case err := <-done:
		if err != nil {
			logger.WarnContext(ctx, "console stopped", "error", err)
		}
	}

	closeCtx, c := context.WithTimeout(context.Background(), closeTimeout)
	defer c()

	return ctl.Close(closeCtx)
}
