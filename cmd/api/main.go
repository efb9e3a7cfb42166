package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"switchboard.dev/internal/admins"
	"switchboard.dev/internal/auth"
	"switchboard.dev/internal/cache"
	"switchboard.dev/internal/config"
	"switchboard.dev/internal/contacts"
	"switchboard.dev/internal/events"
	"switchboard.dev/internal/httpapi"
	"switchboard.dev/internal/journal"
	"switchboard.dev/internal/obs"
	"switchboard.dev/internal/rulesets"
	"switchboard.dev/internal/store/pg"
	"switchboard.dev/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		obs.Logger().Fatal().Err(err).Msg("load config")
	}
	log := obs.NewLogger("switchboard-api", cfg.Env, cfg.LogLevel)
	obs.SetLogger(log)

	// регистрация метрик и build info
	obs.Init()
	obs.InitBuildInfo(version, commit)

	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}

	var (
		ruleCache *cache.Cache
		redisCli  *redis.Client
	)
	if cfg.RedisURL != "" {
		redisCli, err = cache.Open(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("open redis")
		}
		ruleCache = cache.New(redisCli)
	}

	live := stream.New()
	jopts := []journal.Option{
		journal.WithAPIPrefix(cfg.APIPrefix),
		journal.WithLogger(log),
		journal.WithPublisher(live),
	}
	var publisher *events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		jopts = append(jopts, journal.WithPublisher(publisher))
	}
	j := journal.New(store, jopts...)

	tokens, err := auth.NewTokens(cfg.AuthSecret, auth.WithTTL(cfg.TokenTTL))
	if err != nil {
		log.Fatal().Err(err).Msg("init tokens")
	}
	authSvc := auth.NewService(store, tokens)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probe := httpapi.ReadyProbe{DB: store.DB()}
	api := httpapi.New(httpapi.Options{
		Version:      version,
		Prefix:       cfg.APIPrefix,
		Auth:         authSvc,
		Login:        authSvc,
		Journal:      j,
		Stream:       live,
		Ready:        probe,
		RateBurst:    cfg.RateBurst,
		RatePerSec:   cfg.RatePerSec,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Done:         ctx.Done(),
	})
	httpapi.Mount(api, admins.New(store.Admins(), j, store, admins.Options{
		BuiltinLogin: cfg.BuiltinAdmin,
		History:      cfg.PasswordHistory,
		BcryptCost:   cfg.BcryptCost,
	}))
	httpapi.Mount(api, contacts.New(store.Contacts(), j, store))
	var rc rulesets.Cache
	if ruleCache != nil {
		rc = ruleCache
	}
	httpapi.MountRuleSets(api, rulesets.New(store.RuleSets(), j, store, rc))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewGRPCServer(probe, 10*time.Second)
	gs := grpc.NewServer()
	health.Register(gs)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		log.Info().Str("addr", cfg.GRPCAddr).Msg("grpc health listening")
		return gs.Serve(lis)
	})
	g.Go(func() error {
		health.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		return shutdown(srv, gs, publisher, redisCli, store)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("stopped")
}

// shutdown drains the servers and closes every backend, reporting all failures.
func shutdown(srv *http.Server, gs *grpc.Server, publisher *events.Publisher, redisCli *redis.Client, store *pg.Store) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs *multierror.Error
	if err := srv.Shutdown(ctx); err != nil {
		errs = multierror.Append(errs, err)
	}
	gs.GracefulStop()
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if redisCli != nil {
		if err := redisCli.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := store.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}
