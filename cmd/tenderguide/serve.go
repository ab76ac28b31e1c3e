package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/urfave/cli/v3"

	"github.com/rlt-tender/tenderguide/internal/api"
	"github.com/rlt-tender/tenderguide/internal/chatlog"
	"github.com/rlt-tender/tenderguide/internal/inference"
	"github.com/rlt-tender/tenderguide/internal/logger"
	"github.com/rlt-tender/tenderguide/internal/metrics"
	"github.com/rlt-tender/tenderguide/internal/version"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		redisURL    string
		cacheTTL    time.Duration
		readTimeout time.Duration
		preload     bool
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the JSON API",
		Flags: append(modelFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:5000",
				Sources:     cli.EnvVars("TENDERGUIDE_ADDR"),
				Destination: &addr,
			},
			&cli.StringFlag{
				Name:        "redis-url",
				Usage:       "chat log store (empty keeps transcripts in memory)",
				Sources:     cli.EnvVars("REDIS_URL"),
				Destination: &redisURL,
			},
			&cli.DurationFlag{
				Name:        "answer-cache-ttl",
				Usage:       "cache deterministic answers for this long (0 disables)",
				Value:       defaultCacheTTL,
				Destination: &cacheTTL,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.BoolFlag{
				Name:        "preload",
				Usage:       "load the model before accepting requests",
				Destination: &preload,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, fileCfg, &addr, &redisURL, &cacheTTL, &preload)

			info := version.Resolve()
			m := metrics.New()
			m.SetBuildInfo(info.Version, info.Commit)

			svc, err := inference.New(serviceConfig(),
				inference.WithLogger(log),
				inference.WithMetrics(m),
			)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			chats, err := chatlog.Open(ctx, redisURL)
			if err != nil {
				return err
			}
			defer func() { _ = chats.Close() }()

			if preload {
				if _, err := svc.Init(ctx); err != nil {
					return err
				}
			}

			server := api.NewServer(api.Options{
				Answerer: svc,
				Chats:    chats,
				Metrics:  m,
				Logger:   log,
				CacheTTL: cacheTTL,
				Version:  info.Version,
			})
			defer server.Close()

			log.Info("starting server", "address", addr, "base_model", baseModel, "redis", redisURL != "")
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, server.Echo())
		},
	}
}
