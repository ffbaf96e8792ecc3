// Package pushgateway assembles the configured pushkins, the dispatcher
// and the HTTP surface into a runnable service.
package pushgateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinywideclouds/go-push-gateway/internal/api"
	"github.com/tinywideclouds/go-push-gateway/internal/dispatcher"
	"github.com/tinywideclouds/go-push-gateway/internal/httpclient"
	"github.com/tinywideclouds/go-push-gateway/internal/metrics"
	"github.com/tinywideclouds/go-push-gateway/internal/platform/apns"
	"github.com/tinywideclouds/go-push-gateway/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-gateway/internal/platform/web"
	"github.com/tinywideclouds/go-push-gateway/internal/registry"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
	"github.com/tinywideclouds/go-push-gateway/pushgateway/config"
)

const shutdownGrace = 10 * time.Second

// Wrapper owns the listeners and the pushkin registry for one gateway
// process.
type Wrapper struct {
	registry *registry.Registry
	router   chi.Router
	servers  []*http.Server
	logger   *slog.Logger
}

// Handler exposes the gateway's HTTP routes for embedding and tests.
func (w *Wrapper) Handler() http.Handler { return w.router }

// New assembles the service from validated configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Wrapper, error) {
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)

	// 1. Pushkins
	reg := registry.New(logger)
	for appID, app := range cfg.Apps {
		pushkin, err := buildPushkin(appID, app, httpclient.Options{
			ProxyURL: cfg.ProxyURL,
			CAFile:   cfg.CAFile,
		}, m, logger)
		if err != nil {
			return nil, fmt.Errorf("app %q: %w", appID, err)
		}
		reg.Add(pushkin)
		logger.Info("Pushkin configured", "app_id", appID, "type", app.Type)
	}

	// 2. Dispatcher
	d := dispatcher.New(reg, m, cfg.RequestTimeout, logger)

	// 3. API
	notifyAPI := api.NewNotifyAPI(d, m, logger)

	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Post("/_matrix/push/v1/notify", notifyAPI.Notify)
	router.Get("/health", api.Health)

	metricsHandler := promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
	router.Handle("/_matrix/metrics", metricsHandler)

	w := &Wrapper{registry: reg, router: router, logger: logger}
	for _, addr := range cfg.BindAddresses {
		w.servers = append(w.servers, &http.Server{
			Addr:    net.JoinHostPort(addr, strconv.Itoa(cfg.Port)),
			Handler: router,
		})
	}

	if cfg.MetricsEnabled {
		metricsRouter := chi.NewRouter()
		metricsRouter.Handle("/metrics", metricsHandler)
		w.servers = append(w.servers, &http.Server{
			Addr:    net.JoinHostPort(cfg.MetricsAddress, strconv.Itoa(cfg.MetricsPort)),
			Handler: metricsRouter,
		})
	}

	return w, nil
}

// buildPushkin constructs the pushkin for one app entry. clientOpts
// carries the gateway-wide outbound settings (proxy, extra CA roots).
func buildPushkin(appID string, app config.AppConfig, clientOpts httpclient.Options, m *metrics.Metrics, logger *slog.Logger) (dispatch.Pushkin, error) {
	switch app.Type {
	case config.TypeAPNS:
		// apns2 manages its own HTTP/2 client; the proxy setting does not
		// apply to it.
		return apns.NewPushkin(appID, apns.Config{
			Topic:          app.Topic,
			Platform:       app.Platform,
			CertFile:       app.Certfile,
			KeyFile:        app.Keyfile,
			KeyID:          app.KeyID,
			TeamID:         app.TeamID,
			EventIDOnly:    app.EventIDOnly,
			MaxConnections: app.MaxConnections,
		}, m, logger)

	case config.TypeGCM:
		client, err := httpclient.New(clientOpts)
		if err != nil {
			return nil, err
		}
		return fcm.NewPushkin(appID, fcm.Config{
			ServiceAccountFile: app.ServiceAccountFile,
			APIKey:             app.APIKey,
			ProjectID:          app.ProjectID,
			EventIDOnly:        app.EventIDOnly,
			MaxConnections:     app.MaxConnections,
		}, client, m, logger)

	case config.TypeWebPush:
		client, err := httpclient.New(clientOpts)
		if err != nil {
			return nil, err
		}
		return web.NewPushkin(appID, web.Config{
			VapidPrivateKey:  app.VapidPrivateKey,
			VapidPublicKey:   app.VapidPublicKey,
			VapidContactURI:  app.VapidContactURI,
			TTL:              app.TTL,
			AllowedEndpoints: app.AllowedEndpoints,
			FullPayload:      app.FullPayload,
			MaxConnections:   app.MaxConnections,
		}, client, m, logger)

	default:
		return nil, fmt.Errorf("unknown pushkin type %q", app.Type)
	}
}

// Start brings up all listeners and blocks until the context is
// cancelled or a listener fails.
func (w *Wrapper) Start(ctx context.Context) error {
	errCh := make(chan error, len(w.servers))
	for _, srv := range w.servers {
		srv := srv
		w.logger.Info("HTTP server listening", "addr", srv.Addr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("listener %s: %w", srv.Addr, err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown drains the listeners and closes pushkin connections.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	ctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()

	var finalErr error
	for _, srv := range w.servers {
		if err := srv.Shutdown(ctx); err != nil {
			w.logger.Error("HTTP server shutdown failed.", "addr", srv.Addr, "err", err)
			finalErr = err
		}
	}
	w.registry.Shutdown()
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
