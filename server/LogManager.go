package server

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"home-control/log"
)

type LogManager struct {
	signalCh chan os.Signal
}

// NewLogManager opens the log file, routes slog output to it and rotates the
// file on SIGHUP.
func NewLogManager(logFilename string, debug bool) (*LogManager, error) {
	logger, err := log.NewLogger(logFilename)
	if err != nil {
		return nil, err
	}
	log.SetLogger(logger)

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logger, &slog.HandlerOptions{Level: level})))

	lm := &LogManager{signalCh: make(chan os.Signal, 1)}
	signal.Notify(lm.signalCh, syscall.SIGHUP)
	go func() {
		for range lm.signalCh {
			fmt.Fprintln(os.Stderr, "SIGHUP received, rotating log file...")
			logger := log.GetLogger()
			if logger == nil {
				continue
			}
			logger.Log("SIGHUP received, rotating log file...")
			if err := logger.Rotate(); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "log rotation error: %v\n", err)
			}
		}
	}()

	return lm, nil
}

func (lm *LogManager) Close() error {
	signal.Stop(lm.signalCh)
	close(lm.signalCh)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	log.SetLogger(nil)
	return nil
}
