package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/dharmasatrya/awardsearch/internal/auth"
	"github.com/dharmasatrya/awardsearch/internal/config"
	"github.com/dharmasatrya/awardsearch/internal/dispatcher"
	"github.com/dharmasatrya/awardsearch/internal/filter"
	"github.com/dharmasatrya/awardsearch/internal/handler"
	"github.com/dharmasatrya/awardsearch/internal/logging"
	"github.com/dharmasatrya/awardsearch/internal/otp"
	"github.com/dharmasatrya/awardsearch/internal/providers"
	"github.com/dharmasatrya/awardsearch/internal/ratelimit"
	"github.com/dharmasatrya/awardsearch/internal/sink"
	"github.com/dharmasatrya/awardsearch/internal/transport"
)

const (
	tokenCacheSize = 256
	tokenMaxTTL    = 24 * time.Hour
	lockLease      = 60 * time.Second
)

func main() {
	cfg, err := config.Load()
	logger := logging.New(os.Stdout, cfg.PrettyPrint, cfg.LogLevel)
	slog.SetDefault(logger)
	if err != nil {
		fatal("failed to load config", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = auth.NewRedisClient(auth.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			fatal("failed to connect to redis", err)
		}
		defer redisClient.Close()
		slog.Info("redis token store enabled", "host", cfg.Redis.Host, "port", cfg.Redis.Port)
	} else {
		slog.Info("redis disabled, tokens are kept in memory")
	}

	limiter := ratelimit.New(ratelimit.DefaultLimit())
	limits, err := ratelimit.ParseLimits(cfg.RateLimits)
	if err != nil {
		fatal("invalid RATE_LIMITS", err)
	}
	for name, l := range limits {
		limiter.Set(name, l)
	}

	registry := dispatcher.NewRegistry(initializeProviders(cfg, redisClient, limiter)...)
	slog.Info("initialized award providers", "providers", registry.Names())

	results, closeSinks := initializeSinks(cfg)
	defer closeSinks()

	dcfg := dispatcher.DefaultConfig()
	dcfg.Workers = cfg.Workers
	dcfg.Timeout = cfg.JobTimeout
	dcfg.MaxRetries = cfg.MaxRetries
	dcfg.SinkTimeout = cfg.TrackerTimeout
	dcfg.Rules = filter.ParseFarelessProviders(cfg.DropFarelessProviders)
	jobs := dispatcher.New(registry, results, sink.NewFileDebugSink(cfg.DebugDir), dcfg)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())

	handler.NewJobHandler(jobs, results, cfg.DefaultProvider).Register(e)

	go func() {
		slog.Info("starting award search server", "port", cfg.Port, "default_provider", cfg.DefaultProvider)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("failed to start server", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.JobTimeout+cfg.TrackerTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "err", err)
	}
	if err := jobs.Wait(shutdownCtx); err != nil {
		slog.Error("jobs still running at shutdown", "err", err)
	}
}

func initializeProviders(cfg config.Config, rdb *redis.Client, limiter *ratelimit.ProviderLimiter) []providers.Provider {
	proxies := transport.EvomiProxyList(transport.ProxyConfig{
		Host:            cfg.Proxy.Host,
		Port:            cfg.Proxy.Port,
		Username:        cfg.Proxy.Username,
		Password:        cfg.Proxy.Password,
		SessionIDPrefix: cfg.Proxy.SessionIDPrefix,
		SessionTime:     cfg.Proxy.SessionTime,
		SessionCount:    cfg.Proxy.SessionCount,
	})
	if len(proxies) > 0 {
		slog.Info("proxy sessions configured", "count", len(proxies))
	}

	client := func(name string) *transport.Client {
		return transport.NewClient(transport.Options{
			Provider: name,
			Proxies:  proxies,
			Limiter:  limiter,
		})
	}

	lockOpts := auth.LockOptions{PollInterval: cfg.LockPollInterval, Timeout: cfg.LockTimeout}

	if cfg.AviancaAuthorizationCode != "" {
		if exp, err := providers.AuthorizationCodeExpiry(cfg.AviancaAuthorizationCode); err != nil {
			slog.Warn("cannot read avianca authorization code expiry", "err", err)
		} else if time.Until(exp) < 7*24*time.Hour {
			slog.Warn("avianca authorization code expires soon", "expires_at", exp)
		}
	}

	accounts := make([]providers.ThaiAccount, 0, len(cfg.ThaiAccounts))
	for _, a := range cfg.ThaiAccounts {
		accounts = append(accounts, providers.ThaiAccount{MemberID: a.MemberID, Password: a.Password})
	}
	codes := otp.NewMailosaur(otp.MailosaurConfig{
		APIKey:   cfg.MailosaurAPIKey,
		SentFrom: cfg.MailosaurSentFrom,
	})

	return []providers.Provider{
		providers.NewAAdvantageProvider(client("aadvantage"), providers.AAdvantageSession{
			CID:       cfg.AACID,
			XSRFToken: cfg.AAXSRFToken,
			Referer:   cfg.AAReferer,
		}),
		providers.NewAviancaProvider(client("avianca"), newTokenManager("avianca", rdb, nil), providers.AviancaConfig{
			AuthorizationCode: cfg.AviancaAuthorizationCode,
		}),
		providers.NewEtihadProvider(client("etihad"), newTokenManager("etihad", rdb, nil), providers.NewDeviceTokens(cfg.EtihadXDTokens)),
		providers.NewQatarProvider(client("qatar"), providers.QatarConfig{
			BearerToken: cfg.QatarBearerToken,
			DeviceID:    cfg.QatarDeviceID,
		}),
		providers.NewVirginProvider(client("virgin"), providers.VirginConfig{
			CookiesURL: cfg.VirginCookiesURL,
		}),
		providers.NewThaiProvider(client("thai"), newTokenManager("thai", rdb, &lockOpts), codes, providers.ThaiConfig{
			Accounts:      accounts,
			OTPDelay:      cfg.OTPDelay,
			OTPInterval:   cfg.OTPInterval,
			OTPTimeout:    cfg.OTPTimeout,
			ZoneDirection: cfg.ThaiZoneDirection,
		}),
	}
}

// newTokenManager builds the token manager for one provider. Only a provider
// whose login must not run twice at once gets lockOpts; token endpoints keyed
// per credential refresh independently.
func newTokenManager(name string, rdb *redis.Client, lockOpts *auth.LockOptions) *auth.Manager {
	var opts []auth.ManagerOption
	if rdb == nil {
		if lockOpts != nil {
			opts = append(opts, auth.WithLock(auth.NewMutexLock(*lockOpts)))
		}
		return auth.NewManager(name, auth.NewMemoryStore(tokenCacheSize, tokenMaxTTL), opts...)
	}
	if lockOpts != nil {
		opts = append(opts, auth.WithLock(auth.NewRedisLock(rdb, "awardsearch:lock:"+name, lockLease, *lockOpts)))
	}
	return auth.NewManager(name, auth.NewRedisStore(rdb, "awardsearch:token:"+name+":"), opts...)
}

func initializeSinks(cfg config.Config) (sink.Sink, func()) {
	var sinks sink.Multi
	closers := []func(){}

	if cfg.TrackerEndpoint != "" {
		sinks = append(sinks, sink.NewTracker(sink.TrackerConfig{
			Endpoint: cfg.TrackerEndpoint,
			Timeout:  cfg.TrackerTimeout,
		}))
	} else {
		slog.Warn("REWARD_SEAT_TRACKER_ENDPOINT not set, results are discarded")
	}

	if len(cfg.KafkaBrokers) > 0 {
		k := sink.NewKafkaSink(sink.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		sinks = append(sinks, k)
		closers = append(closers, func() {
			if err := k.Close(); err != nil {
				slog.Error("failed to close kafka writer", "err", err)
			}
		})
		slog.Info("kafka result sink enabled", "topic", cfg.KafkaTopic)
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(sinks) == 0 {
		return sink.Discard{}, closeAll
	}
	return sinks, closeAll
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
