package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/voyagen/guidevault/internal/cache"
	"github.com/voyagen/guidevault/internal/config"
	"github.com/voyagen/guidevault/internal/fetcher"
	"github.com/voyagen/guidevault/internal/jobs"
	"github.com/voyagen/guidevault/internal/logging"
	"github.com/voyagen/guidevault/internal/server"
	"github.com/voyagen/guidevault/internal/service"
	"github.com/voyagen/guidevault/internal/store"
)

const usage = `usage: guidevault [-config file.yaml] [serve]
       guidevault sync -server URL -kind playlist|epgFile -id N [flags]
       guidevault reap -server URL -kind playlist|epgFile -id N`

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = serve(args)
	case "sync":
		err = runSync(args)
	case "reap":
		err = runReap(args)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Optional config file path (YAML); else use env DATABASE_URL")
	_ = fs.Parse(args)

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.WaitForDatabase(cfg.DatabaseURL, 10, 2*time.Second); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if err := store.RunMigrations(cfg.DatabaseURL, "file://"+migrationsDir(cfg.MigrationsPath)); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pg.Close()

	var appStore store.Store = pg
	opts := jobs.Options{StuckAfter: cfg.JobStuckAfter}
	var queue *jobs.QueueDispatcher
	if cfg.RedisURL != "" {
		rds, err := cache.New(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rds.Close()
		if err := rds.Ping(ctx); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}

		cs := store.NewCachedStore(pg, rds)
		cs.Flush(ctx)
		appStore = cs
		opts.Locks = cache.NewLocks(rds, "guidevault:lock:")
		if cfg.JobWorkers > 0 {
			queue = jobs.NewQueueDispatcher(rds, cache.DefaultQueue)
			opts.Dispatcher = queue
		}
		logging.Info().Bool("queue", queue != nil).Msg("redis connected (locks and caching enabled)")
	} else {
		logging.Info().Msg("redis disabled (REDIS_URL not set); exclusivity is per process")
	}

	fc := fetcher.NewClient(cfg.UserAgent, cfg.Timeout)
	svc := service.New(appStore, fc, fetcher.NewXtream(fc, cfg.ProviderRateLimit, cfg.ProviderConcurrency))
	mgr := jobs.NewManager(appStore, svc, opts)
	svc.SetGuard(mgr)

	if queue != nil {
		for i := 0; i < cfg.JobWorkers; i++ {
			go mgr.Work(ctx, queue)
		}
	}

	srv := server.New(svc, mgr, appStore, cfg)
	srv.SetHealthCheck(pg.Ping)
	err = srv.ListenAndServe(ctx)
	logging.Info().Msg("waiting for running jobs")
	mgr.Wait()
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// migrationsDir resolves path against the working directory, then against
// the executable's directory.
func migrationsDir(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if _, err := os.Stat(abs); err != nil && !filepath.IsAbs(path) {
		if exe, e := os.Executable(); e == nil {
			abs = filepath.Join(filepath.Dir(exe), path)
		}
	}
	return abs
}
