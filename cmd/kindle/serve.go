package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/kindle/internal/api"
	"github.com/samcharles93/kindle/internal/inference"
	"github.com/samcharles93/kindle/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		preload     bool
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the generation REST API",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.BoolFlag{
				Name:        "preload",
				Usage:       "load the default model before accepting requests",
				Destination: &preload,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, LoadConfig(), &addr)

			provider := api.NewCachedEngineProvider(api.EngineProviderConfig{
				DefaultModelPath: modelPath,
				ModelsPath:       modelsPath,
				Loader: func(dir string) (*inference.Engine, error) {
					log.Info("loading model", "path", dir)
					return inference.Load(dir, inference.WithLogger(log.WithGroup("engine")))
				},
			})
			if preload {
				if err := provider.WithEngine(ctx, "", func(id string, _ *inference.Engine) error {
					log.Info("model ready", "model", id)
					return nil
				}); err != nil {
					return err
				}
			}

			server := api.NewServer(api.NewGenerationStore(), provider, log.WithGroup("api"))
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
