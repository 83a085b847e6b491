//go:build integration

package helpers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"home-control/config"
	"home-control/server"
	"home-control/services/philipshue"
	"home-control/store"
)

// TestServer runs the server with a Philips Hue service backed by an
// in-memory bridge
type TestServer struct {
	Server     *server.Server
	WSServer   *server.WebSocketServer
	Config     *config.Config
	Bridge     *HueBridge
	Port       int
	tempDir    string
	mu         sync.Mutex
	running    bool
	store      *store.Store
	logManager *server.LogManager
	ctx        context.Context
	cancel     context.CancelFunc
	serveErr   chan error
}

// NewTestServer prepares a server serving the given environment file content
func NewTestServer(environmentJSON string, lights map[string]string) (*TestServer, error) {
	port, err := findFreePort()
	if err != nil {
		return nil, fmt.Errorf("no free port: %v", err)
	}

	tempDir, err := os.MkdirTemp("", "home-control-test-*")
	if err != nil {
		return nil, fmt.Errorf("cannot create a temporary directory: %v", err)
	}

	bridge := NewHueBridge(lights)

	cfg := config.NewConfig()
	cfg.Debug = true
	cfg.Server.Host = "localhost"
	cfg.Server.Port = port
	cfg.Log.Filename = filepath.Join(tempDir, "test-home-control.log")
	cfg.Environment.File = filepath.Join(tempDir, "environment.json")
	cfg.Database.File = filepath.Join(tempDir, "home-control.db")
	cfg.PhilipsHue.Enabled = true
	cfg.PhilipsHue.Address = bridge.URL()

	ts := &TestServer{
		Config:  cfg,
		Bridge:  bridge,
		Port:    port,
		tempDir: tempDir,
	}
	if err := ts.WriteEnvironment(environmentJSON); err != nil {
		ts.Close()
		return nil, err
	}
	return ts, nil
}

// WriteEnvironment replaces the environment file. The server only sees it
// after a reload.
func (ts *TestServer) WriteEnvironment(content string) error {
	return os.WriteFile(ts.Config.Environment.File, []byte(content), 0644)
}

// Start starts the server on its port and waits until it listens. A stopped
// server can be started again; the database is kept.
func (ts *TestServer) Start() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.running {
		return fmt.Errorf("server already running")
	}
	ts.ctx, ts.cancel = context.WithCancel(context.Background())

	logManager, err := server.NewLogManager(ts.Config.Log.Filename, ts.Config.Debug)
	if err != nil {
		return fmt.Errorf("log manager: %v", err)
	}
	ts.logManager = logManager

	st, err := store.Open(ts.ctx, ts.Config.Database.File)
	if err != nil {
		return fmt.Errorf("store: %v", err)
	}
	ts.store = st

	bridge, err := philipshue.NewHTTPBridge(ts.Config.PhilipsHue.Address)
	if err != nil {
		return err
	}
	conn := philipshue.NewConnection(st.Bucket(philipshue.Identifier), bridge, ts.Config.PhilipsHue.Address, ts.Config.PhilipsHue.DeviceType)
	hue := philipshue.NewService(conn)

	s := server.NewServer(server.Options{
		EnvironmentFile: ts.Config.Environment.File,
		Version:         "integration",
	})
	if err := s.Initialize(ts.ctx, hue); err != nil {
		return fmt.Errorf("server initialization: %w", err)
	}
	ts.Server = s

	wsServer := server.NewWebSocketServer(ts.ctx, ts.Config.ServerAddr(), s)
	hue.SetBroadcaster(wsServer)
	ts.WSServer = wsServer

	ready := make(chan struct{})
	ts.serveErr = make(chan error, 1)
	go func() {
		err := wsServer.Start(server.StartOptions{Ready: ready})
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		ts.serveErr <- err
	}()

	select {
	case <-ready:
		ts.running = true
		return nil
	case err := <-ts.serveErr:
		return fmt.Errorf("server did not start: %v", err)
	case <-time.After(10 * time.Second):
		return fmt.Errorf("server startup timed out")
	}
}

// Stop stops the server. Connected panels see the connection drop.
func (ts *TestServer) Stop() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	var errs []error

	if ts.running && ts.WSServer != nil {
		if err := ts.WSServer.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("websocket server: %w", err))
		}
		if err := <-ts.serveErr; err != nil {
			errs = append(errs, err)
		}
	}

	if ts.store != nil {
		if err := ts.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
		ts.store = nil
	}

	if ts.logManager != nil {
		if err := ts.logManager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("log manager: %w", err))
		}
		ts.logManager = nil
	}

	if ts.cancel != nil {
		ts.cancel()
	}
	ts.running = false

	return errors.Join(errs...)
}

// Close stops the server, the bridge and removes the temporary files
func (ts *TestServer) Close() {
	_ = ts.Stop()
	ts.Bridge.Close()
	_ = os.RemoveAll(ts.tempDir)
}

// GetWebSocketURL returns the URL panels connect to
func (ts *TestServer) GetWebSocketURL() string {
	return fmt.Sprintf("ws://%s:%d/ws", ts.Config.Server.Host, ts.Port)
}

// IsRunning reports whether the server is running
func (ts *TestServer) IsRunning() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.running
}

// findFreePort returns a port that is free at the time of the call
func findFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port, nil
}
