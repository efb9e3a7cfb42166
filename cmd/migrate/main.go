package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"switchboard.dev/internal/admins"
	"switchboard.dev/internal/migrate"
	"switchboard.dev/internal/obs"
	"switchboard.dev/internal/store/pg"
)

const usage = "usage: migrate [flags] up|down|seed|status|bootstrap-admin -login NAME -password SECRET"

func main() {
	_ = godotenv.Load()
	var (
		dsn      = flag.String("dsn", os.Getenv("SWITCHBOARD_PG_DSN"), "PostgreSQL DSN")
		dir      = flag.String("dir", "", "Read migrations from DIR/sql and seeds from DIR/seeds instead of the built-in files")
		timeout  = flag.Duration("timeout", 2*time.Minute, "Overall timeout")
		logLevel = flag.String("log-level", os.Getenv("SWITCHBOARD_LOG_LEVEL"), "Log level")
	)
	flag.Parse()

	log := obs.NewLogger("switchboard-migrate", "cli", *logLevel)
	obs.SetLogger(log)

	if *dsn == "" {
		log.Fatal().Msg("missing DSN: provide via -dsn or SWITCHBOARD_PG_DSN")
	}
	if flag.NArg() == 0 {
		log.Fatal().Msg(usage)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer store.Close()

	opts := []migrate.Option{migrate.WithLogger(log)}
	if *dir != "" {
		opts = append(opts, migrate.WithSource(os.DirFS(*dir), "sql", "seeds"))
	}
	mgr := migrate.NewManager(store.DB(), opts...)

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		log.Info().Strs("applied", applied).Msg("migrations up")
	case "down":
		var last string
		last, err = mgr.Down(ctx)
		if err == nil {
			log.Info().Str("migration", last).Msg("migration down")
		}
	case "seed":
		var applied []string
		applied, err = mgr.Seed(ctx)
		log.Info().Strs("applied", applied).Msg("seeds applied")
	case "status":
		var status []migrate.Migration
		status, err = mgr.Status(ctx)
		for _, m := range status {
			at := "pending"
			if m.AppliedAt != nil {
				at = m.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Printf("%-40s %s\n", m.Name, at)
		}
	case "bootstrap-admin":
		err = bootstrapAdmin(ctx, store, flag.Args()[1:])
	default:
		log.Fatal().Str("command", cmd).Msg(usage)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("migrate failed")
	}
}

func bootstrapAdmin(ctx context.Context, store *pg.Store, args []string) error {
	fs := flag.NewFlagSet("bootstrap-admin", flag.ContinueOnError)
	login := fs.String("login", "administrator", "Login of the system admin")
	password := fs.String("password", os.Getenv("SWITCHBOARD_BOOTSTRAP_PASSWORD"), "Initial password")
	cost := fs.Int("bcrypt-cost", 13, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := admins.Bootstrap(ctx, store.Admins(), store, *login, *password, admins.Options{BcryptCost: *cost})
	if err != nil {
		return err
	}
	obs.Logger().Info().Int64("id", a.ID).Str("login", a.Login).Msg("system admin created")
	return nil
}
