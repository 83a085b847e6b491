package log

import (
	"fmt"
	"log"
	"os"
	"sync"
)

// Logger writes to a log file that can be rotated while the process runs.
type Logger struct {
	logFile    *os.File
	logMutex   sync.Mutex
	fileLogger *log.Logger
}

var (
	logger *Logger
)

func GetLogger() *Logger {
	return logger
}

func SetLogger(l *Logger) {
	if logger != nil {
		logger.Close()
	}
	logger = l
}

// NewLogger creates a new logger that appends to the specified file
func NewLogger(filename string) (*Logger, error) {
	logFile, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("cannot open log file: %w", err)
	}

	return &Logger{
		logFile:    logFile,
		fileLogger: log.New(logFile, "", log.LstdFlags|log.Lmicroseconds),
	}, nil
}

func (l *Logger) Close() {
	l.logMutex.Lock()
	defer l.logMutex.Unlock()

	if l.logFile != nil {
		_ = l.logFile.Close()
		l.logFile = nil
		l.fileLogger = nil
	}
}

// Log writes a formatted line to the log file
func (l *Logger) Log(format string, v ...interface{}) {
	l.logMutex.Lock()
	defer l.logMutex.Unlock()

	if l.fileLogger != nil {
		l.fileLogger.Printf(format, v...)
	}
}

// Write implements io.Writer so the file can back a slog handler.
func (l *Logger) Write(p []byte) (int, error) {
	l.logMutex.Lock()
	defer l.logMutex.Unlock()

	if l.logFile == nil {
		return 0, os.ErrClosed
	}
	return l.logFile.Write(p)
}

// Rotate closes and reopens the log file
func (l *Logger) Rotate() error {
	l.logMutex.Lock()
	defer l.logMutex.Unlock()

	if l.logFile == nil {
		return nil // No log file to rotate
	}

	currentLogPath := l.logFile.Name()
	_ = l.logFile.Close()

	logFile, err := os.OpenFile(currentLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		l.logFile = nil
		l.fileLogger = nil
		return fmt.Errorf("cannot reopen log file: %w", err)
	}

	l.fileLogger = log.New(logFile, "", log.LstdFlags|log.Lmicroseconds)
	l.logFile = logFile

	return nil
}
