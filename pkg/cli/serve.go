package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/devicelab-dev/apiflow/pkg/logger"
	"github.com/devicelab-dev/apiflow/pkg/server"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Start the HTTP run surface",
	Description: `Serve stored flows and ad-hoc requests over HTTP.

Endpoints:
  GET  /health
  GET  /flows, POST /flows, GET /flows/:id
  POST /flows/:id/run
  POST /requests/run
  GET  /history`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "listen",
			Usage:   "Listen address (default: server.listen or :8080)",
			EnvVars: []string{"APIFLOW_LISTEN"},
		},
	},
	Action: serve,
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	if cfg.Log.File != "" {
		if err := logger.Init(cfg.Log.File); err != nil {
			return err
		}
	} else {
		level := zapcore.InfoLevel
		if c.Bool("verbose") {
			level = zapcore.DebugLevel
		}
		logger.InitWriter(os.Stderr, level)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ws, err := openWorkspace(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := ws.Close(); err != nil {
			logger.Warn("Close workspace: %v", err)
		}
	}()

	runner, err := ws.newRunner(runSettings{})
	if err != nil {
		return err
	}

	addr := c.String("listen")
	if addr == "" {
		addr = cfg.Server.Listen
	}
	fmt.Printf("apiflow %s listening on %s\n", Version, addr)
	return server.New(runner, ws.store, ws.store, Version).Serve(ctx, addr)
}
