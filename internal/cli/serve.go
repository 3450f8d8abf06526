package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/gasketvision/internal/app"
	"github.com/ayusman/gasketvision/internal/capture"
	"github.com/ayusman/gasketvision/internal/detector"
	"github.com/ayusman/gasketvision/internal/hooks"
	"github.com/ayusman/gasketvision/internal/inspection"
	"github.com/ayusman/gasketvision/internal/metrics"
	"github.com/ayusman/gasketvision/internal/mqtt"
	"github.com/ayusman/gasketvision/internal/server"
)

func newServeCommand(e *env) *cobra.Command {
	var staticDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the robot bus bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if staticDir == "" {
				staticDir = findWebDir()
			}
			return e.serve(cmd.Context(), staticDir)
		},
	}
	cmd.Flags().StringVar(&staticDir, "static", "", "directory with the operator panel files (default: ./web if present)")
	return cmd
}

func (e *env) serve(ctx context.Context, staticDir string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := e.settings
	logger := e.logger.Logger

	st, err := e.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	dets, err := detector.Open(s.Models)
	if err != nil {
		return err
	}
	defer dets.Close()

	m, err := metrics.New()
	if err != nil {
		return err
	}

	hookMgr := hooks.NewManager(s.Hooks.Dir, hooks.NewExecutor(s.Hooks.Timeout), logger)
	if err := hookMgr.Discover(); err != nil {
		logger.Warn("hook discovery failed", "dir", s.Hooks.Dir, "error", err)
	}

	cam := capture.Shared(capture.NewCamera(s.Camera))
	src := capture.NewSource(cam, s.Camera, logger)
	defer src.Close()

	events := server.NewEventHub(logger)
	a, err := app.New(app.Config{
		Settings:  e.provider,
		Store:     st,
		Detectors: dets,
		Source:    src,
		Metrics:   m,
		Hooks:     hookMgr,
		Observers: []inspection.Observer{events},
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(server.Config{
		StaticDir:   staticDir,
		Store:       st,
		Camera:      cam,
		Inspector:   a,
		Events:      events,
		Metrics:     m.Handler(),
		JPEGQuality: s.Render.JPEGQuality,
		Logger:      logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, s.Server.Addr)
	})

	if s.MQTT.Enabled {
		client := mqtt.NewClient(mqtt.ConfigFrom(s.MQTT), logger, m.SetBusConnected)
		bridge := mqtt.NewBridge(client, a, s.MQTT.Topics, logger)
		g.Go(func() error {
			defer client.Disconnect()
			if err := client.Connect(gctx); err != nil && gctx.Err() == nil {
				logger.Warn("MQTT broker not reachable, retrying in background", "broker", s.MQTT.Broker, "error", err)
			}
			return bridge.Run(gctx)
		})
	}

	logger.Info("gasketvision started", "version", e.version, "addr", s.Server.Addr, "mqtt", s.MQTT.Enabled)
	err = g.Wait()
	logger.Info("gasketvision stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// findWebDir returns the first of web, ../web and ../../web that exists,
// or "" when there is none.
func findWebDir() string {
	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
