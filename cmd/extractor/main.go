package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/arukereso-extractor/internal/archive"
	"github.com/ignite/arukereso-extractor/internal/config"
	"github.com/ignite/arukereso-extractor/internal/job"
	"github.com/ignite/arukereso-extractor/internal/ledger"
	"github.com/ignite/arukereso-extractor/internal/metrics"
	"github.com/ignite/arukereso-extractor/internal/output"
	"github.com/ignite/arukereso-extractor/internal/pkg/awsconf"
	"github.com/ignite/arukereso-extractor/internal/pkg/distlock"
	"github.com/ignite/arukereso-extractor/internal/pkg/httpretry"
	"github.com/ignite/arukereso-extractor/internal/pkg/logger"
	"github.com/ignite/arukereso-extractor/internal/remote"
	"github.com/ignite/arukereso-extractor/internal/warehouse"
)

type options struct {
	DataDir string `long:"data-dir" env:"KBC_DATADIR" default:"/data/" description:"Data directory holding config.json, in/ and out/"`
	Config  string `long:"config" env:"CONFIG_PATH" description:"Path to config.json (default <data-dir>/config.json)"`
	Level   string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"Minimum log level"`
	Debug   bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts options
	if _, err := flags.NewParser(&opts, flags.Default).Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return 0
		}
		return 2
	}

	level := logger.ParseLevel(opts.Level)
	if opts.Debug {
		level = logger.DEBUG
	}
	log := logger.New(os.Stdout, level)

	path := opts.Config
	if path == "" {
		path = filepath.Join(opts.DataDir, "config.json")
	}
	cfg, err := config.LoadFromEnv(path)
	if err != nil {
		log.Error("failed to load configuration", "path", path, "error", err)
		return 1
	}
	cfg.DataDir = opts.DataDir
	log.Info("configuration loaded", cfg.LogFields()...)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		return 1
	}

	ctx := context.Background()

	deps, cleanup, err := buildDeps(ctx, cfg, log)
	defer cleanup()
	if err != nil {
		log.Error("failed to initialise job", "error", err)
		return 1
	}

	res, err := job.New(cfg, deps, log).Run(ctx)
	pushMetrics(cfg, deps.Metrics, log)

	switch {
	case errors.Is(err, job.ErrNoNewFiles):
		log.Info("no new files since last run", "watermark", res.PreviousWatermark)
		return 0
	case err != nil:
		log.Error("job failed", "run_id", res.RunID.String(), "error", err)
		return 1
	}
	return 0
}

// buildDeps wires the optional backends. cleanup is always safe to call.
func buildDeps(ctx context.Context, cfg *config.Config, log *logger.Logger) (job.Deps, func(), error) {
	p := cfg.Parameters
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("cleanup failed", "error", err)
			}
		}
	}

	awsOpts := awsOptions(cfg)

	deps := job.Deps{
		OpenSource: openSource(cfg, awsOpts, log),
		Metrics:    metrics.NewRegistry(),
	}

	if p.Ledger.Enabled() {
		db, err := ledger.Open(p.Ledger.DatabaseURL)
		if err != nil {
			return deps, cleanup, err
		}
		closers = append(closers, db.Close)
		l := ledger.New(db)
		if err := l.EnsureSchema(ctx); err != nil {
			return deps, cleanup, err
		}
		deps.Ledger = l
	}

	lockKey := "arukereso:" + p.Retailer
	ttl := time.Duration(p.Lock.TTLSeconds) * time.Second
	switch {
	case p.Lock.RedisURL != "":
		ropts, err := redis.ParseURL(p.Lock.RedisURL)
		if err != nil {
			return deps, cleanup, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(ropts)
		closers = append(closers, client.Close)
		deps.Lock = distlock.New(client, nil, lockKey, ttl)
	case deps.Ledger != nil:
		deps.Lock = distlock.New(nil, deps.Ledger.DB(), lockKey, ttl)
	}

	if p.Warehouse.Enabled() {
		db, err := warehouse.Open(p.Warehouse)
		if err != nil {
			return deps, cleanup, err
		}
		closers = append(closers, db.Close)
		table := p.Warehouse.Table
		deps.Warehouse = func(ctx context.Context, columns []string) (output.Sink, error) {
			return warehouse.NewSink(ctx, db, table, columns, log.With("component", "warehouse"))
		}
	}

	if p.Archive.Enabled() {
		archOpts := awsOpts
		archOpts.Region = p.Archive.Region
		a, err := archive.New(ctx, p.Archive.S3Bucket, p.Archive.Prefix, archOpts)
		if err != nil {
			return deps, cleanup, fmt.Errorf("archive: %w", err)
		}
		deps.Archiver = a
	}

	return deps, cleanup, nil
}

func awsOptions(cfg *config.Config) awsconf.Options {
	p := cfg.Parameters
	return awsconf.Options{
		Region:          p.S3Region,
		Profile:         p.AWSProfile,
		AccessKeyID:     p.AWSAccessKeyID,
		SecretAccessKey: p.AWSSecretAccessKey,
	}
}

func openSource(cfg *config.Config, awsOpts awsconf.Options, log *logger.Logger) func(context.Context) (remote.Source, error) {
	p := cfg.Parameters
	return func(ctx context.Context) (remote.Source, error) {
		switch p.Source {
		case config.SourceS3:
			return remote.NewS3Source(ctx, p.S3Bucket, p.S3Prefix, awsOpts)
		default:
			return remote.DialSFTP(ctx, remote.SFTPConfig{
				Server:     p.Server,
				Port:       int(p.Port),
				Username:   p.Username,
				Password:   p.Password,
				Key:        p.Key,
				Passphrase: p.Passphrase,
				Timeout:    time.Duration(p.ConnectTimeoutSeconds) * time.Second,
			}, log.With("component", "sftp"))
		}
	}
}

func pushMetrics(cfg *config.Config, reg *metrics.Registry, log *logger.Logger) {
	url := cfg.Parameters.PushgatewayURL
	if url == "" || reg == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// one best-effort attempt
	client := httpretry.New(nil, 0, log.With("component", "pushgateway"))
	if err := reg.Push(ctx, client, url, cfg.Parameters.Retailer); err != nil {
		log.Warn("failed to push metrics", "error", err)
	}
}
