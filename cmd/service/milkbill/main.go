package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	_ "github.com/jackc/pgx/v5/stdlib" // Postgres stdlib driver, used for migrations.
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rschio/milkbill/internal/auth"
	"github.com/rschio/milkbill/internal/core/ledger"
	"github.com/rschio/milkbill/internal/core/ledger/store/ledgerdb"
	"github.com/rschio/milkbill/internal/core/ledger/store/ledgersqlite"
	"github.com/rschio/milkbill/internal/core/ledger/store/statuscache"
	"github.com/rschio/milkbill/internal/data/dbschema"
	db "github.com/rschio/milkbill/internal/data/dbsql/pgx"
	"github.com/rschio/milkbill/internal/data/dbsql/sqlite"
	"github.com/rschio/milkbill/internal/handlers"
	"github.com/rschio/milkbill/internal/logger"
	"github.com/rschio/milkbill/internal/metrics"
	"github.com/rschio/milkbill/internal/trace"
)

var build = "develop"

const service = "MilkBill"

func main() {
	log := logger.New(service)

	if err := run(log); err != nil {
		log.Error("startup", "ERROR", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx := context.Background()

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Env string `conf:"default:DEV"`
		Web struct {
			Port            int           `conf:"default:5000"`
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			CORSOrigin      string        `conf:"default:*"`
		}
		DB struct {
			Driver     string `conf:"default:sqlite,help:postgres or sqlite"`
			User       string `conf:"default:postgres"`
			Password   string `conf:"default:postgres,mask"`
			Host       string `conf:"default:localhost:5432"`
			Name       string `conf:"default:milkbill"`
			MaxConns   int    `conf:"default:10"`
			DisableTLS bool   `conf:"default:true"`
			Path       string `conf:"default:data/milkbill.db"`
		}
		Auth struct {
			Secret    string        `conf:"required,mask"`
			TokenTTL  time.Duration `conf:"default:1h"`
			AdminUser string        `conf:"default:admin"`
			AdminPass string        `conf:"required,mask,help:plain text or bcrypt hash"`
		}
		Ledger struct {
			ClampPending bool `conf:"default:false"`
		}
		Cache struct {
			Enabled  bool          `conf:"default:false"`
			Addr     string        `conf:"default:localhost:6379"`
			Password string        `conf:"mask"`
			TTL      time.Duration `conf:"default:30s"`
		}
		Trace struct {
			Endpoint       string
			SampleFraction float64 `conf:"default:0.05"`
			Discard        bool    `conf:"default:false"`
		}
		Log struct {
			Level string `conf:"default:info"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "milk delivery billing ledger",
		},
	}

	// Values from a .env file in the working directory fill the variables
	// not already set in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	const prefix = "MILKBILL"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	log = logger.NewWithConfig(os.Stdout, logger.Config{
		Service: service,
		Level:   cfg.Log.Level,
		Pretty:  cfg.Env == "DEV",
	})

	// =========================================================================
	// App Starting

	log.Info("starting service", "version", build)
	defer log.Info("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Info("startup", "config", out)

	// =========================================================================
	// Tracing Support

	log.Info("startup", "status", "initializing tracing support", "endpoint", cfg.Trace.Endpoint)

	traceProvider, err := trace.NewProvider(ctx, trace.Config{
		Env:            cfg.Env,
		Endpoint:       cfg.Trace.Endpoint,
		Service:        service,
		SampleFraction: cfg.Trace.SampleFraction,
		DiscardTraces:  cfg.Trace.Discard,
	})
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer traceProvider.Shutdown(context.Background())

	tracer := traceProvider.Tracer(service)

	// =========================================================================
	// Database Support

	store, ready, closeDB, err := openStore(ctx, log, cfg.DB.Driver, db.Config{
		User:       cfg.DB.User,
		Password:   cfg.DB.Password,
		Host:       cfg.DB.Host,
		Name:       cfg.DB.Name,
		MaxConns:   cfg.DB.MaxConns,
		DisableTLS: cfg.DB.DisableTLS,
	}, cfg.DB.Path)
	if err != nil {
		return err
	}
	defer closeDB()

	// =========================================================================
	// Cache Support

	if cfg.Cache.Enabled {
		log.Info("startup", "status", "initializing cache support", "addr", cfg.Cache.Addr)

		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
		})
		defer func() {
			log.Info("shutdown", "status", "stopping cache support", "addr", cfg.Cache.Addr)
			rdb.Close()
		}()

		cache := statuscache.NewStore(log, store, rdb, cfg.Cache.TTL)
		if err := cache.Ping(ctx); err != nil {
			return fmt.Errorf("cache not healthy: %w", err)
		}
		store = cache

		dbReady := ready
		ready = func(ctx context.Context) error {
			if err := dbReady(ctx); err != nil {
				return err
			}
			return cache.Ping(ctx)
		}
	}

	// =========================================================================
	// Auth Support

	authn, err := auth.New(auth.Config{
		Secret:    cfg.Auth.Secret,
		TokenTTL:  cfg.Auth.TokenTTL,
		Issuer:    service,
		AdminUser: cfg.Auth.AdminUser,
		AdminPass: cfg.Auth.AdminPass,
	})
	if err != nil {
		return fmt.Errorf("constructing auth: %w", err)
	}

	// =========================================================================
	// Start API Service

	log.Info("startup", "status", "initializing MILKBILL API support")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	mux := handlers.APIMux(handlers.Config{
		Log:        log,
		Ledger:     ledger.NewCore(store, ledger.WithClampPending(cfg.Ledger.ClampPending)),
		Auth:       authn,
		Metrics:    metrics.New(),
		Tracer:     tracer,
		Ready:      ready,
		CORSOrigin: cfg.Web.CORSOrigin,
	})

	api := http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(log.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("startup", "status", "api router started", "host", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Info("shutdown", "status", "shutdown complete", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}

// openStore opens and migrates the database selected by driver and returns
// the ledger store over it, a readiness check and a close function.
func openStore(ctx context.Context, log *slog.Logger, driver string, pgCfg db.Config, path string) (ledger.Store, func(context.Context) error, func(), error) {
	switch driver {
	case "postgres":
		log.Info("startup", "status", "initializing database support", "driver", driver, "host", pgCfg.Host)

		database, err := db.Open(ctx, pgCfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connecting to db: %w", err)
		}

		ctxWithTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := db.StatusCheck(ctxWithTimeout, database); err != nil {
			database.Close()
			return nil, nil, nil, fmt.Errorf("database not healthy: %w", err)
		}

		stdDB, err := sql.Open("pgx", db.ConnString(pgCfg))
		if err != nil {
			database.Close()
			return nil, nil, nil, fmt.Errorf("failed to open DB for migration: %w", err)
		}
		err = dbschema.Migrate(ctxWithTimeout, stdDB)
		stdDB.Close()
		if err != nil {
			database.Close()
			return nil, nil, nil, fmt.Errorf("migrating error: %w", err)
		}

		ready := func(ctx context.Context) error {
			return db.StatusCheck(ctx, database)
		}
		closeDB := func() {
			log.Info("shutdown", "status", "stopping database support", "host", pgCfg.Host)
			database.Close()
		}
		return ledgerdb.NewStore(log, database), ready, closeDB, nil

	case "sqlite":
		log.Info("startup", "status", "initializing database support", "driver", driver, "path", path)

		database, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening db: %w", err)
		}

		ready := func(ctx context.Context) error {
			return sqlite.StatusCheck(ctx, database)
		}
		closeDB := func() {
			log.Info("shutdown", "status", "stopping database support", "path", path)
			database.Close()
		}
		return ledgersqlite.NewStore(log, database), ready, closeDB, nil
	}

	return nil, nil, nil, fmt.Errorf("unknown database driver %q", driver)
}
