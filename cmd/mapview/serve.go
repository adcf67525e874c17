package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/OCAP2/mapview/internal/api"
	"github.com/OCAP2/mapview/internal/bridge"
	"github.com/OCAP2/mapview/internal/config"
	"github.com/OCAP2/mapview/internal/monitor"
	"github.com/OCAP2/mapview/internal/placement"
)

const shutdownTimeout = 10 * time.Second

// bridgeConfig assembles the per-page views from the loaded config.
func bridgeConfig() (bridge.Config, error) {
	mapCfg, err := config.GetMapConfig()
	if err != nil {
		return bridge.Config{}, err
	}
	placeCfg := config.GetPlacementConfig()

	view := bridge.View{
		Center:  mapCfg.Center,
		Zoom:    mapCfg.Zoom,
		MinZoom: mapCfg.MinZoom,
		MaxZoom: mapCfg.MaxZoom,
		Width:   mapCfg.ViewportWidth,
		Height:  mapCfg.ViewportHeight,
	}
	newLocation := view
	newLocation.Zoom = placeCfg.Zoom

	return bridge.Config{
		Map:             view,
		NewLocation:     newLocation,
		RequeryDistance: mapCfg.RequeryDistance,
		Fields:          placement.Fields{Lat: placeCfg.LatField, Lng: placeCfg.LngField},
	}, nil
}

// newRouter mounts the bridge at path next to the health and status routes.
func newRouter(path string, srv http.Handler, mon *monitor.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, strings.Join(mon.GetProgramStatus(), "\n"))
	})
	r.Handle(path, srv)
	return r
}

func runServe() error {
	cfg, err := bridgeConfig()
	if err != nil {
		return fmt.Errorf("invalid map config: %w", err)
	}
	apiCfg := config.GetAPIConfig()
	bridgeCfg := config.GetBridgeConfig()

	client := api.New(apiCfg.ServerURL, apiCfg.Timeout)
	srv := bridge.NewServer(cfg, client, Logger, EventLogger)

	monCfg := config.GetMonitorConfig()
	mon := monitor.NewService(monitor.Dependencies{
		Logger:     Logger,
		StatusFile: monCfg.StatusFile,
		Interval:   monCfg.Interval,
		Sessions:   srv.Sessions,
	})
	mon.Start()
	defer mon.Stop()

	httpSrv := &http.Server{
		Addr:              bridgeCfg.Listen,
		Handler:           newRouter(bridgeCfg.Path, srv, mon),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		Logger.Info("Bridge listening", "addr", bridgeCfg.Listen, "path", bridgeCfg.Path, "api", apiCfg.ServerURL)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("bridge server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		Logger.Info("Shutting down bridge", "sessions", srv.Sessions())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// hijacked websocket connections are not tracked by http.Server
		if err := srv.Close(); err != nil {
			Logger.Warn("Bridge close failed", "error", err)
		}
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
