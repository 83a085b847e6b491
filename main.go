package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"home-control/client"
	"home-control/config"
	"home-control/console"
	"home-control/panel"
	"home-control/server"
	"home-control/service"
	"home-control/services/philipshue"
	"home-control/store"

	"golang.org/x/sync/errgroup"
)

// Version is reported to panels in the hello message
var Version = "dev"

func main() {
	// Command line arguments override the configuration file
	args := config.ParseCommandLineArgs()

	cfg, err := config.LoadConfig(args.ConfigFile)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyCommandLineArgs(args)
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Logging goes to the log file; SIGHUP rotates it
	logManager, err := server.NewLogManager(cfg.Log.Filename, cfg.Debug)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Log setup error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logManager.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SIGINT and SIGTERM stop everything
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signalCh:
			fmt.Println("\nSignal received, exiting...")
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.Enabled {
		if err := runServer(gctx, g, cfg); err != nil {
			cancel()
			if werr := g.Wait(); werr != nil {
				err = werr
			}
			slog.Error("Server startup failed", "err", err)
			_, _ = fmt.Fprintf(os.Stderr, "Server startup failed: %v\n", err)
			os.Exit(1)
		}
	}

	if cfg.Panel.Enabled {
		if err := runPanel(gctx, g, cfg, cancel); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panel startup failed: %v\n", err)
			cancel()
			_ = g.Wait()
			os.Exit(1)
		}
	}

	if err := g.Wait(); err != nil {
		slog.Error("Stopped with an error", "err", err)
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runServer starts the server and returns once it listens. SIGUSR1 reloads
// the environment file.
func runServer(ctx context.Context, g *errgroup.Group, cfg *config.Config) error {
	st, err := store.Open(ctx, cfg.Database.File)
	if err != nil {
		return err
	}

	var services []service.Service
	var hue *philipshue.Service
	if cfg.PhilipsHue.Enabled {
		bridge, err := philipshue.NewHTTPBridge(cfg.PhilipsHue.Address)
		if err != nil {
			_ = st.Close()
			return err
		}
		conn := philipshue.NewConnection(st.Bucket(philipshue.Identifier), bridge, cfg.PhilipsHue.Address, cfg.PhilipsHue.DeviceType)
		hue = philipshue.NewService(conn)
		services = append(services, hue)
	}

	srv := server.NewServer(server.Options{
		EnvironmentFile: cfg.Environment.File,
		Version:         Version,
	})
	if err := srv.Initialize(ctx, services...); err != nil {
		_ = st.Close()
		return err
	}

	ws := server.NewWebSocketServer(ctx, cfg.ServerAddr(), srv)
	if hue != nil {
		hue.SetBroadcaster(ws)
	}
	if transport, ok := ws.Transport().(*server.DefaultWebSocketTransport); ok {
		if err := transport.SetupStaticFileServer(cfg.Server.WebRoot); err != nil {
			_ = st.Close()
			return err
		}
	}

	ready := make(chan struct{})
	options := server.StartOptions{Ready: ready}
	if cfg.TLS.Enabled {
		options.CertFile = cfg.TLS.CertFile
		options.KeyFile = cfg.TLS.KeyFile
	}

	g.Go(func() error {
		if err := ws.Start(options); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	reloadCh := make(chan os.Signal, 1)
	signal.Notify(reloadCh, syscall.SIGUSR1)
	g.Go(func() error {
		defer signal.Stop(reloadCh)
		for {
			select {
			case <-reloadCh:
				slog.Info("SIGUSR1 received, reloading the environment")
				// failures are logged and keep the current environment
				_ = srv.ReloadEnvironment()
			case <-ctx.Done():
				_ = ws.Stop()
				return st.Close()
			}
		}
	})

	select {
	case <-ready:
		fmt.Printf("Server listening on %s\n", cfg.ServerAddr())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runPanel starts the terminal panel. Leaving the console stops the process.
func runPanel(ctx context.Context, g *errgroup.Group, cfg *config.Config, stop context.CancelFunc) error {
	initial, limit, err := cfg.PanelBackoff()
	if err != nil {
		return err
	}
	conn, err := client.NewConnection(cfg.Panel.ServerURL, client.ExponentialBackoff{Initial: initial, Max: limit})
	if err != nil {
		return err
	}

	registry := panel.NewRegistry()
	if err := philipshue.Register(registry); err != nil {
		return err
	}

	surface := console.NewSurface(os.Stdout)
	controller := panel.NewController(conn, surface, registry)

	g.Go(func() error {
		if err := conn.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	// The console blocks on stdin, so it is not waited for
	go func() {
		console.ConsoleProcess(ctx, console.NewSession(ctx, surface, controller, conn, os.Stdout))
		stop()
	}()

	return nil
}
