package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"aura-gateway/internal/config"
	"aura-gateway/internal/factory"
	"aura-gateway/internal/handler"
	"aura-gateway/internal/util"
)

func main() {
	// Initialize factory (which loads config, builds clients and starts the pipeline)
	f, err := factory.NewFactory()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize gateway:", err)
		os.Exit(1)
	}

	cfg := f.Config()
	router := setupRouter(f)

	var serverAddr string
	if cfg.Server.EnableTLS {
		serverAddr = fmt.Sprintf(":%d", cfg.Server.TLSPort)
	} else {
		serverAddr = cfg.GetServerAddress()
	}

	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Server.EnableTLS {
		tlsManager := f.TLSManager()
		server.TLSConfig = tlsManager.GetTLSConfig()

		if cfg.IsProduction() && cfg.Server.AutoCert {
			startProductionServerWithAutoCert(f, server, cfg)
			return
		}

		util.Info("Starting HTTPS server",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.TLSPort),
			util.Bool("auto_cert", cfg.Server.AutoCert),
		)
	} else {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
	}

	startServer(f, server, cfg)
}

// setupRouter wires the handlers onto the Chi router behind the role gate
func setupRouter(f *factory.Factory) http.Handler {
	cfg := f.Config()
	logger := f.Logger()
	alertService := f.ServiceFactory().AlertService()

	handlers := handler.Handlers{
		Telemetry: handler.NewTelemetryHandler(f.Pipeline(), cfg.Server.MaxBodyBytes, logger),
		Alerts:    handler.NewAlertHandler(alertService, cfg.Server.MaxBodyBytes, logger),
		Dashboard: handler.NewDashboardHandler(alertService, logger),
		Health:    handler.NewHealthHandler("aura-gateway", f, f.Pipeline(), logger),
		Metrics:   f.MetricsHandler(),
	}

	return handler.NewRouter(handlers, f.Gate(), handler.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MetricsPath:    cfg.Metrics.Path,
		RequestTimeout: cfg.Server.WriteTimeout,
		RequireHTTPS:   cfg.Server.EnableTLS && cfg.IsProduction(),
	}, logger)
}

func startProductionServerWithAutoCert(f *factory.Factory, server *http.Server, cfg *config.Config) {
	autoCertManager := f.TLSManager().GetAutocertManager()
	if autoCertManager == nil {
		util.Fatal("AutoCert manager is not available in production")
	}

	// HTTP server for ACME challenge and redirect only
	httpServer := &http.Server{
		Addr:    ":80",
		Handler: autoCertManager.HTTPHandler(nil),
	}
	server.Addr = ":443"

	go func() {
		util.Info("Starting HTTP redirect server on port 80")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Error("HTTP redirect server failed", util.ErrorField(err))
		}
	}()

	go func() {
		util.Info("Starting HTTPS server with AutoCert on port 443",
			util.String("domain", cfg.Server.Domain),
		)
		if err := server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			util.Error("HTTPS AutoCert server failed", util.ErrorField(err))
		}
	}()

	waitForShutdown(f, server, httpServer)
}

func startServer(f *factory.Factory, server *http.Server, cfg *config.Config) {
	go func() {
		var err error
		if cfg.Server.EnableTLS {
			// certificates come from the TLS manager's GetCertificate
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			util.Fatal("Server failed to start", util.ErrorField(err))
		}
	}()

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("address", server.Addr),
	)

	waitForShutdown(f, server)
}

// waitForShutdown stops accepting connections first, then lets the factory
// drain the pipeline and close its clients.
func waitForShutdown(f *factory.Factory, servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), f.Config().Server.ShutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.ErrorField(err))
		} else {
			util.Info("Server shutdown completed", util.String("address", srv.Addr))
		}
	}

	if err := f.Close(); err != nil {
		util.Warn("Factory closed with errors", util.ErrorField(err))
	}
}
