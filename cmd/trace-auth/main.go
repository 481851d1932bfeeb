package main

import (
	"context"
	"database/sql"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-trace-auth"
	"github.com/goliatone/go-trace-auth/activitymap"
	"github.com/goliatone/go-trace-auth/cache/redisstore"
	"github.com/goliatone/go-trace-auth/config"
	"github.com/goliatone/go-trace-auth/logging"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"go.uber.org/zap"
)

type App struct {
	config   *config.BaseConfig
	logger   *logging.ZapLogger
	zap      *zap.Logger
	db       *bun.DB
	redis    *redis.Client
	repo     auth.RepositoryManager
	registry *prometheus.Registry
	metrics  *auth.Metrics
	limiter  *auth.RateLimiter
	srv      *fiber.App
}

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	zlgr, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		panic(err)
	}
	defer zlgr.Sync()

	app := &App{
		config:   cfg,
		logger:   logging.NewZapLogger(zlgr),
		zap:      zlgr,
		registry: prometheus.NewRegistry(),
	}
	app.metrics = auth.NewMetrics(app.registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := WithPersistence(ctx, app); err != nil {
		zlgr.Fatal("failed to initialize persistence", zap.Error(err))
	}
	defer app.db.Close()

	if err := WithRedis(ctx, app); err != nil {
		zlgr.Fatal("failed to initialize redis", zap.Error(err))
	}

	if err := WithHTTPServer(ctx, app); err != nil {
		zlgr.Fatal("failed to initialize http server", zap.Error(err))
	}

	go func() {
		app.logger.Info("listening on %s", cfg.Server.Address)
		if err := app.srv.Listen(cfg.Server.Address); err != nil {
			zlgr.Fatal("http server stopped", zap.Error(err))
		}
	}()

	sweeping := make(chan struct{})
	go func() {
		defer close(sweeping)
		SweepOutstanding(ctx, app)
	}()

	<-ctx.Done()
	stop()
	app.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.srv.ShutdownWithContext(shutdownCtx); err != nil {
		app.logger.Error("http server shutdown: %v", err)
	}
	<-sweeping
	if app.redis != nil {
		app.redis.Close()
	}
}

func WithPersistence(ctx context.Context, app *App) error {
	cfg := app.config.Persistence

	var db *bun.DB
	switch cfg.Driver {
	case "postgres":
		sqldb, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return err
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DSN)
		if err != nil {
			return err
		}
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	}

	if err := db.PingContext(ctx); err != nil {
		return err
	}

	if err := auth.CreateSchema(ctx, db); err != nil {
		return err
	}

	app.db = db
	app.repo = auth.NewRepositoryManager(db)
	return app.repo.Validate()
}

func WithRedis(ctx context.Context, app *App) error {
	cfg := app.config.Redis
	if !cfg.Enabled() {
		app.logger.Info("redis disabled, blacklist and nonces use the database only")
		return nil
	}

	client, err := redisstore.Connect(ctx, cfg.Address, cfg.Password, cfg.DB)
	if err != nil {
		return err
	}
	app.redis = client
	return nil
}

func WithHTTPServer(ctx context.Context, app *App) error {
	cfg := app.config
	lgr := app.logger

	activity := activitymap.Sink(func(_ context.Context, e activitymap.Entry) error {
		app.zap.Named("activity").Info(e.Action,
			zap.String("tenant", e.Tenant),
			zap.String("actor", e.Actor),
			zap.String("subject_kind", e.SubjectKind),
			zap.String("subject_id", e.SubjectID),
			zap.String("outcome", e.Outcome),
			zap.Any("attributes", e.Attributes),
			zap.Time("at", e.At),
		)
		return nil
	}, activitymap.WithAnonymousActor("anonymous"))

	var store *redisstore.Store
	if app.redis != nil {
		store = redisstore.New(app.redis, redisstore.WithPrefix(cfg.Redis.Prefix))
	}

	ledgerOpts := []auth.LedgerOption{
		auth.WithLedgerLogger(lgr.Named("ledger")),
		auth.WithLedgerMetrics(app.metrics),
	}
	if store != nil {
		ledgerOpts = append(ledgerOpts, auth.WithLedgerCache(store))
	}
	ledger := auth.NewLedger(app.repo, ledgerOpts...)

	codec := auth.NewTokenCodecFromConfig(cfg,
		auth.WithCodecBlacklist(ledger),
		auth.WithCodecLogger(lgr.Named("codec")),
	)

	handshakeOpts := []auth.HandshakeOption{
		auth.WithHandshakeLogger(lgr.Named("handshake")),
		auth.WithHandshakeMetrics(app.metrics),
		auth.WithHandshakeActivitySink(activity),
	}
	if store != nil {
		handshakeOpts = append(handshakeOpts, auth.WithNonceClaimer(store))
	}
	handshakes := auth.NewHandshakeServiceFromConfig(app.repo, cfg, handshakeOpts...)

	devices := auth.NewDeviceRegistry(app.repo,
		auth.WithDeviceLogger(lgr.Named("devices")),
		auth.WithDeviceActivitySink(activity),
	)

	auther := auth.NewAuthenticator(app.repo, codec, ledger, devices).
		WithLogger(lgr.Named("auther")).
		WithMetrics(app.metrics).
		WithActivitySink(activity).
		WithPasswordAuthenticator(auth.BcryptAuthenticator{Cost: cfg.Server.BcryptCost}).
		WithNotifier(auth.NotifierFunc(func(ctx context.Context, user *auth.User, token *auth.ValidationToken) error {
			lgr.Named("notifier").Info("validation token type=%d issued for user %s", token.Type, user.ID)
			return nil
		}))

	dispatcher := auth.NewDispatcher(
		auth.WithDispatcherLogger(lgr.Named("dispatcher")),
		auth.WithDispatcherMetrics(app.metrics),
	)
	dispatcher.Register(auth.AuthTypePasswordGrant, auth.NewJWTStrategy(codec, app.repo, devices,
		auth.WithJWTHeaderTypes(cfg.GetAuthHeaderTypes()...),
		auth.WithJWTLogger(lgr.Named("jwt")),
	))
	dispatcher.Register(auth.AuthTypeClientCredentials, auth.NewOAuth2Strategy(
		auth.NewOAuth2Store(app.db), app.repo,
		auth.WithOAuth2Logger(lgr.Named("oauth2")),
	))

	if path := cfg.GetSSOPublicKeyPath(); path != "" {
		verifier, err := auth.NewSSOVerifier(path,
			auth.WithSSOKeyID(cfg.GetSSOKeyID()),
			auth.WithSSOAlgorithms(cfg.GetSSOAlgorithms()...),
			auth.WithSSOUserClaim(cfg.GetSSOUserIDClaim()),
			auth.WithSSOBlacklist(ledger),
		)
		if err != nil {
			return err
		}
		dispatcher.Register(auth.AuthTypeSSO, auth.NewSSOStrategy(verifier, app.repo, handshakes,
			auth.WithSSOHeaderTypes(cfg.GetSSOHeaderTypes()...),
			auth.WithHMACValidation(cfg.GetValidateHMACSignature()),
			auth.WithSSOLogger(lgr.Named("sso")),
		))
	}

	app.limiter = auth.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	httpAuth := auth.NewHTTPAuthenticator(dispatcher, auther).
		WithLogger(lgr.Named("http")).
		WithRateLimiter(app.limiter)

	app.srv = fiber.New(fiber.Config{
		AppName:               cfg.GetServerName(),
		ErrorHandler:          httpAuth.ErrorHandler,
		DisableStartupMessage: true,
	})
	app.srv.Use(auth.RequestContext())

	controller := auth.NewAuthController(auther, handshakes, devices, httpAuth,
		auth.WithControllerLogger(lgr.Named("controller")),
		auth.WithControllerDebug(cfg.Server.Debug),
	)
	auth.RegisterAuthRoutes(app.srv.Group("/auth"), controller)
	auth.RegisterMetricsRoute(app.srv, controller, app.registry)

	return nil
}

// SweepOutstanding drops expired outstanding tokens once an hour and
// idle rate limit buckets every few minutes
func SweepOutstanding(ctx context.Context, app *App) {
	ledger := auth.NewLedger(app.repo, auth.WithLedgerLogger(app.logger.Named("sweeper")))
	tokens := time.NewTicker(time.Hour)
	defer tokens.Stop()
	buckets := time.NewTicker(5 * time.Minute)
	defer buckets.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tokens.C:
			if _, err := ledger.Sweep(ctx); err != nil {
				app.logger.Error("outstanding token sweep failed: %v", err)
			}
		case <-buckets.C:
			if n := app.limiter.Sweep(); n > 0 {
				app.logger.Debug("dropped %d idle rate limit buckets", n)
			}
		}
	}
}

