package console

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const historyFileName = ".home_control_history"

const maxHistorySize = 1000

// getHistoryFilePath returns the path of the history file in the home directory
func getHistoryFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("Home directory not found, keeping the history in the current directory", "err", err)
		return historyFileName
	}
	return filepath.Join(home, historyFileName)
}

// loadHistory reads the history file, dropping blank lines and older duplicates
func loadHistory(filePath string) []string {
	file, err := os.Open(filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Error reading history file", "file", filePath, "err", err)
		}
		return []string{}
	}
	defer file.Close()

	var history []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		history = append(history, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("Error scanning history file", "file", filePath, "err", err)
	}

	// newest first, so the most recent copy of a duplicate survives
	cleaned := make([]string, 0, len(history))
	seen := make(map[string]struct{})
	for i := len(history) - 1; i >= 0; i-- {
		line := strings.TrimSpace(history[i])
		if line == "" {
			continue
		}
		if _, ok := seen[line]; !ok {
			cleaned = append(cleaned, line)
			seen[line] = struct{}{}
		}
	}
	for i, j := 0, len(cleaned)-1; i < j; i, j = i+1, j-1 {
		cleaned[i], cleaned[j] = cleaned[j], cleaned[i]
	}

	if len(cleaned) > maxHistorySize {
		cleaned = cleaned[len(cleaned)-maxHistorySize:]
	}
	return cleaned
}

// saveHistory writes history to the file
func saveHistory(filePath string, history []string) {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		slog.Warn("Error writing history file", "file", filePath, "err", err)
		return
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, line := range history {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, err := fmt.Fprintln(writer, line); err != nil {
			slog.Warn("Error writing history", "file", filePath, "err", err)
			return
		}
	}

	if err := writer.Flush(); err != nil {
		slog.Warn("Error flushing history file", "file", filePath, "err", err)
	}
}
