package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/roomsync/internal/account"
	"github.com/npezzotti/roomsync/internal/api"
	"github.com/npezzotti/roomsync/internal/broker"
	"github.com/npezzotti/roomsync/internal/clock"
	"github.com/npezzotti/roomsync/internal/config"
	"github.com/npezzotti/roomsync/internal/database"
	"github.com/npezzotti/roomsync/internal/logger"
	"github.com/npezzotti/roomsync/internal/mailer"
	"github.com/npezzotti/roomsync/internal/rooms"
	"github.com/npezzotti/roomsync/internal/server"
	"github.com/npezzotti/roomsync/internal/session"
	"github.com/npezzotti/roomsync/internal/stats"
	"github.com/npezzotti/roomsync/internal/watch"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
	shutdownTimeout   = 10 * time.Second
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func main() {
	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "load .env:", err)
		os.Exit(1)
	}

	var (
		p              config.Params
		allowedOrigins stringSliceFlag
	)
	flag.StringVar(&p.Addr, "addr", config.Getenv("ROOMSYNC_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&p.DSN, "dsn", config.Getenv("ROOMSYNC_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&p.SigningKey, "signing-key", config.Getenv("ROOMSYNC_SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.DurationVar(&p.SessionTTL, "session-ttl", config.GetenvDuration("ROOMSYNC_SESSION_TTL", config.DefaultSessionTTL), "time a session stays valid after sign-in")
	flag.StringVar(&p.RoomKeys, "room-keys", config.Getenv("ROOMSYNC_ROOM_KEYS", rooms.SchemeShortId), "room key scheme (sequential or shortid)")
	flag.StringVar(&p.Broker, "broker", config.Getenv("ROOMSYNC_BROKER", broker.KindLocal), "snapshot broker (local, redis or nats)")
	flag.StringVar(&p.RedisURL, "redis-url", config.Getenv("ROOMSYNC_REDIS_URL", ""), "redis url for the broker and session store")
	flag.StringVar(&p.NatsURL, "nats-url", config.Getenv("ROOMSYNC_NATS_URL", ""), "nats url for the broker")
	flag.StringVar(&p.SMTPHost, "smtp-host", config.Getenv("ROOMSYNC_SMTP_HOST", ""), "smtp host; emails are logged when empty")
	flag.IntVar(&p.SMTPPort, "smtp-port", config.GetenvInt("ROOMSYNC_SMTP_PORT", 587), "smtp port")
	flag.StringVar(&p.SMTPUser, "smtp-user", config.Getenv("ROOMSYNC_SMTP_USER", ""), "smtp user")
	flag.StringVar(&p.SMTPPassword, "smtp-password", config.Getenv("ROOMSYNC_SMTP_PASSWORD", ""), "smtp password")
	flag.StringVar(&p.SMTPFrom, "smtp-from", config.Getenv("ROOMSYNC_SMTP_FROM", ""), "sender address")
	flag.StringVar(&p.PublicURL, "public-url", config.Getenv("ROOMSYNC_PUBLIC_URL", "http://localhost:8000"), "url used in emailed links")
	flag.StringVar(&p.LogFile, "log-file", config.Getenv("ROOMSYNC_LOG_FILE", ""), "json log file, rotated")
	flag.BoolVar(&p.Production, "production", config.GetenvBool("ROOMSYNC_PRODUCTION", false), "production logging and secure cookies")
	flag.StringVar(&p.StaticDir, "static-dir", config.Getenv("ROOMSYNC_STATIC_DIR", ""), "directory holding the web client")
	flag.Parse()

	p.AllowedOrigins = allowedOrigins
	if len(p.AllowedOrigins) == 0 {
		if env := config.Getenv("ROOMSYNC_ALLOWED_ORIGINS", ""); env != "" {
			p.AllowedOrigins = strings.Split(env, ",")
		}
	}

	log := logger.New(logger.Options{File: p.LogFile, Production: p.Production})
	defer log.Sync()

	if err := run(p, log); err != nil {
		log.Errorw("server exited", "error", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(p config.Params, log *zap.SugaredLogger) error {
	cfg, err := config.NewConfig(p)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbConn, err := database.NewPgGoChatRepository(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			log.Errorw("db close", "error", err)
		}
	}()

	if err := dbConn.Migrate(); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}

	b, redisClient, err := newBroker(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	store, closeStore, err := newSessionStore(ctx, cfg, redisClient)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Errorw("session store close", "error", err)
		}
	}()

	keys, err := rooms.NewKeyScheme(cfg.RoomKeys, uint64(time.Now().UnixNano()))
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	hub := watch.NewHub(log, b, statsUpdater)
	if err := hub.Start(ctx); err != nil {
		return err
	}
	defer hub.Close()

	clk := clock.Real()
	guard := session.NewGuard(log, store, clk, cfg.SessionTTL)

	chatServer, err := server.NewChatServer(log, server.Options{
		DB:    dbConn,
		Hub:   hub,
		Guard: guard,
		Stats: statsUpdater,
		Clock: clk,
		Keys:  keys,
	})
	if err != nil {
		return fmt.Errorf("new chat server: %w", err)
	}

	accounts := account.NewService(log, dbConn, newMailer(cfg, log), account.NewTokenStore(), cfg.PublicURL)

	app := api.NewGoChatApp(mux, log, api.Deps{
		Accounts:   accounts,
		Guard:      guard,
		ChatServer: chatServer,
		DB:         dbConn,
	}, cfg)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		chatServer.Run()
		return nil
	})

	g.Go(func() error {
		if err := chatServer.Directory().Refresh(gctx); err != nil {
			log.Warnw("failed to publish initial room list", "error", err)
		}
		return nil
	})

	g.Go(app.Start)

	g.Go(func() error {
		<-gctx.Done()
		log.Infow("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return errors.Join(
			app.Shutdown(shutdownCtx),
			chatServer.Shutdown(shutdownCtx),
		)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Infow("shutdown complete")
	return nil
}

// newBroker connects the snapshot broker. The redis client is returned so
// the session store can share it.
func newBroker(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (broker.Broker, *redis.Client, error) {
	switch cfg.Broker {
	case broker.KindRedis:
		b, err := broker.NewRedis(ctx, cfg.RedisURL, log)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Client(), nil
	case broker.KindNats:
		b, err := broker.NewNats(cfg.NatsURL, log)
		if err != nil {
			return nil, nil, err
		}
		return b, nil, nil
	default:
		return broker.NewLocal(), nil, nil
	}
}

// newSessionStore picks the session store. A redis client shared with the
// broker is closed by the broker; one opened here is returned in the closer.
func newSessionStore(ctx context.Context, cfg *config.Config, client *redis.Client) (session.Store, func() error, error) {
	nop := func() error { return nil }

	if client != nil {
		return session.NewRedisStore(client, session.DefaultRetention), nop, nil
	}
	if cfg.RedisURL == "" {
		return session.NewMemoryStore(session.DefaultRetention), nop, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client = redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("session store: redis ping: %w", err)
	}

	return session.NewRedisStore(client, session.DefaultRetention), client.Close, nil
}

func newMailer(cfg *config.Config, log *zap.SugaredLogger) mailer.Mailer {
	if cfg.SMTP.Host == "" {
		log.Warnw("no smtp host configured, emails will be logged")
		return mailer.NewLogMailer(log)
	}

	return mailer.NewSMTPMailer(log, cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From)
}
