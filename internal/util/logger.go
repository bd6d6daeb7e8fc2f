// Package util provides host probing and logging helpers shared across the relay.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxSizeMB:  10,
		MaxBackups: 5,
		Console:    true,
	}
}

// InitLogger points the zerolog global logger at a date-stamped JSON file
// in cfg.Directory, plus a console writer when enabled. A file that grew
// past MaxSizeMB is rolled aside before reuse, and backups beyond
// MaxBackups are pruned in the background.
func InitLogger(cfg LogConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if err := EnsureDir(cfg.Directory); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
	}

	logFile, logFilePath, err := openLogFile(cfg)
	if err != nil {
		return err
	}

	writers := []io.Writer{logFile}
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", "relaygate").
		Logger()

	log.Info().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	go pruneLogBackups(cfg.Directory, cfg.MaxBackups)

	return nil
}

// openLogFile opens today's log file for appending, rolling it aside under
// a timestamped name first when it already exceeds the size cap.
func openLogFile(cfg LogConfig) (*os.File, string, error) {
	name := fmt.Sprintf("relaygate_%s.log", time.Now().Format("2006-01-02"))
	path := filepath.Join(cfg.Directory, name)

	if cfg.MaxSizeMB > 0 {
		if info, err := os.Stat(path); err == nil && info.Size() > int64(cfg.MaxSizeMB)*1024*1024 {
			rolled := fmt.Sprintf("%s.%s", path, time.Now().Format("150405"))
			if err := os.Rename(path, rolled); err != nil {
				log.Warn().Err(err).Str("file", path).Msg("log rollover failed")
			}
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return f, path, nil
}

// pruneLogBackups deletes the oldest log files once more than maxBackups
// remain, ordered by modification time.
func pruneLogBackups(directory string, maxBackups int) {
	if maxBackups <= 0 {
		return
	}
	entries, err := os.ReadDir(directory)
	if err != nil {
		return
	}

	type logEntry struct {
		path    string
		modTime time.Time
	}
	var files []logEntry
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, logEntry{
			path:    filepath.Join(directory, entry.Name()),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	for i := 0; i < len(files)-maxBackups; i++ {
		os.Remove(files[i].path)
		log.Debug().Str("file", files[i].path).Msg("removed old log file")
	}
}
