package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/voyagen/guidevault/internal/client"
	"github.com/voyagen/guidevault/internal/models"
)

type targetFlags struct {
	server string
	kind   string
	id     int64
}

func (f *targetFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.server, "server", envOr("GUIDEVAULT_URL", "http://localhost:8080"), "GuideVault base URL")
	fs.StringVar(&f.kind, "kind", "playlist", "Target kind: playlist or epgFile")
	fs.Int64Var(&f.id, "id", 0, "Target id")
}

func (f *targetFlags) target() (models.Target, error) {
	kind, ok := models.ParseTargetKind(f.kind)
	if !ok {
		return models.Target{}, fmt.Errorf("unknown kind %q", f.kind)
	}
	if f.id <= 0 {
		return models.Target{}, errors.New("-id is required")
	}
	return models.Target{Kind: kind, ID: f.id}, nil
}

// runSync starts a sync and polls it to a terminal state, printing the job.
func runSync(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	var tf targetFlags
	tf.register(fs)
	categories := fs.String("categories", "", "Comma-separated provider API category ids to select")
	interval := fs.Duration("interval", 2*time.Second, "Polling interval")
	timeout := fs.Duration("timeout", 30*time.Minute, "Give up waiting after this long")
	_ = fs.Parse(args)

	target, err := tf.target()
	if err != nil {
		return err
	}
	var categoryIDs []string
	if *categories != "" {
		for _, c := range strings.Split(*categories, ",") {
			if c = strings.TrimSpace(c); c != "" {
				categoryIDs = append(categoryIDs, c)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	c := client.New(tf.server, 30*time.Second)
	jobID, err := c.StartSync(ctx, target, categoryIDs)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "sync job %d started for %s\n", jobID, target)

	j, err := c.WaitSyncJob(ctx, jobID, *interval, 0)
	if err != nil {
		return err
	}
	if err := printJSON(j); err != nil {
		return err
	}
	if j.Status == models.JobFailed {
		return fmt.Errorf("job %d failed: %s", j.ID, j.Message)
	}
	return nil
}

// runReap fails the stuck jobs of a target and prints the report.
func runReap(args []string) error {
	fs := flag.NewFlagSet("reap", flag.ExitOnError)
	var tf targetFlags
	tf.register(fs)
	_ = fs.Parse(args)

	target, err := tf.target()
	if err != nil {
		return err
	}
	report, err := client.New(tf.server, 30*time.Second).ReapStuckJobs(context.Background(), target)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
