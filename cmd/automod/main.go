package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/pef-moderation/firehose-automod/automod/consumer"
	"github.com/pef-moderation/firehose-automod/automod/countstore"
	"github.com/pef-moderation/firehose-automod/automod/embed"
	"github.com/pef-moderation/firehose-automod/automod/eventcache"
	"github.com/pef-moderation/firehose-automod/automod/matcher"
	"github.com/pef-moderation/firehose-automod/automod/router"
	"github.com/pef-moderation/firehose-automod/bsky"
	"github.com/pef-moderation/firehose-automod/config"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "automod",
		Usage:   "firehose moderation agent",
		Version: versioninfo.Short(),
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the moderation agent",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "config",
			Usage:    "path to the YAML configuration file",
			Value:    "automod.yaml",
			EnvVars:  []string{"AUTOMOD_CONFIG"},
			Required: false,
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics",
			EnvVars: []string{"AUTOMOD_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity (debug, info, warn, error)",
			EnvVars: []string{"AUTOMOD_LOG_LEVEL"},
		},
	},
	Action: runAutomod,
}

func runAutomod(cctx *cli.Context) error {
	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return err
	}
	if v := cctx.String("metrics-listen"); v != "" {
		cfg.MetricsListen = v
	}
	if v := cctx.String("log-level"); v != "" {
		cfg.LogLevel = v
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := bsky.NewClient(bsky.ClientConfig{
		Host:       cfg.BaseURL(),
		Handle:     cfg.Handle,
		Password:   cfg.Password,
		Did:        cfg.Did,
		ServiceDID: cfg.ServiceDid,
		DryRun:     cfg.DryRun,
		UseToken:   cfg.UseToken,
	}, logger)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("establishing session: %w", err)
	}

	rules := matcher.NewKeywordMatcher(cfg.Rules)
	counts := countstore.NewCountStore()
	cache := eventcache.NewEventCache(cfg.AccountCacheSize, func(did string, account *eventcache.AccountRecord) {
		logger.Info("account state flushed",
			"did", did,
			"posts", account.Posts,
			"reposts", account.Reposts,
			"likes", account.Likes,
			"follows", account.Follows,
			"lastSeen", account.LastSeen)
	}, logger)
	actions := router.NewRouter(client, cfg.QueueLimit, logger)
	checker := embed.NewChecker(embed.CheckerConfig{
		Workers:           cfg.NumberOfThreads,
		QueueLimit:        cfg.QueueLimit,
		RedirectLimit:     cfg.URLRedirectLimit,
		URIHostPrefix:     cfg.URIHostPrefix,
		WhitelistURIs:     cfg.WhitelistURIs,
		ImageFactor:       cfg.ImageFactor,
		VideoFactor:       cfg.VideoFactor,
		RecordFactor:      cfg.RecordFactor,
		LinkFactor:        cfg.LinkFactor,
		RedirectRateLimit: cfg.RedirectRateLimit,
	}, counts, rules, actions, logger)
	sink := consumer.NewSink(checker, cache, logger)

	logger.Info("starting moderation agent",
		"host", cfg.BaseURL(),
		"did", client.Session().DID(),
		"dryRun", cfg.DryRun,
		"workers", cfg.NumberOfThreads)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return runMetrics(ctx, cfg.MetricsListen, logger)
	})
	eg.Go(func() error {
		return checker.Run(ctx)
	})
	eg.Go(func() error {
		return actions.Run(ctx)
	})
	eg.Go(func() error {
		var src consumer.Source = consumer.NopSource{}
		return src.Run(ctx, sink)
	})

	err = eg.Wait()
	if err != nil && err != context.Canceled {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func runMetrics(ctx context.Context, listen string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: listen, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	logger.Info("metrics listening", "addr", listen)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
