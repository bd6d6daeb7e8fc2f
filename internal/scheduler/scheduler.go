// Package scheduler implements background maintenance for the relay,
// including log file cleanup and room history pruning.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaygate-project/relaygate/internal/config"
	"github.com/relaygate-project/relaygate/internal/db"
	"github.com/relaygate-project/relaygate/internal/relay"
)

const (
	// Daily maintenance runs at this local time.
	maintenanceHour   = 4
	maintenanceMinute = 0

	logRetention     = 14 * 24 * time.Hour
	historyRetention = 30 * 24 * time.Hour
)

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg     *config.Config
	relay   *relay.Server
	roomLog *db.RoomLog
}

// NewScheduler creates a new task scheduler. roomLog may be nil when
// the database is disabled.
func NewScheduler(cfg *config.Config, relayServer *relay.Server, roomLog *db.RoomLog) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		relay:   relayServer,
		roomLog: roomLog,
	}
}

// Start begins running all scheduled tasks and blocks until ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	go s.runMaintenanceLoop(ctx)
	go s.runStatsLoop(ctx)

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

// runMaintenanceLoop runs daily maintenance at the configured time.
func (s *Scheduler) runMaintenanceLoop(ctx context.Context) {
	for {
		nextRun := nextMaintenanceTime(time.Now())
		sleepDuration := time.Until(nextRun)
		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("maintenance scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepDuration):
			s.runMaintenance()
		}
	}
}

// runMaintenance performs the daily cleanup pass.
func (s *Scheduler) runMaintenance() {
	s.cleanLogFiles()

	if s.roomLog != nil {
		cutoff := time.Now().Add(-historyRetention)
		pruned, err := s.roomLog.PruneBefore(cutoff)
		if err != nil {
			log.Warn().Err(err).Msg("room history prune failed")
		} else if pruned > 0 {
			log.Info().Int64("rows", pruned).Msg("pruned old room history")
		}
	}
}

// cleanLogFiles removes rotated log files older than the retention
// window from the logging directory.
func (s *Scheduler) cleanLogFiles() {
	logDir := s.cfg.ApplicationData.Logging.Directory
	if logDir == "" {
		return
	}

	var (
		deletedCount int
		deletedSize  int64
	)

	err := filepath.Walk(logDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}

		if info.IsDir() {
			return nil
		}

		if !strings.HasSuffix(strings.ToLower(info.Name()), ".log") {
			return nil
		}

		if time.Since(info.ModTime()) > logRetention {
			if err := os.Remove(path); err == nil {
				deletedCount++
				deletedSize += info.Size()
				log.Debug().Str("file", info.Name()).Msg("deleted old log file")
			}
		}

		return nil
	})

	if err != nil {
		log.Warn().Err(err).Msg("log cleanup encountered errors")
	}

	if deletedCount > 0 {
		log.Info().
			Int("deleted_files", deletedCount).
			Str("freed_space", formatBytes(deletedSize)).
			Msg("log cleanup completed")
	}
}

// runStatsLoop logs daily relay statistics.
func (s *Scheduler) runStatsLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectStats()
		}
	}
}

// collectStats gathers and logs a daily snapshot.
func (s *Scheduler) collectStats() {
	rooms := s.relay.Rooms.Rooms()
	inGame := 0
	connections := 0
	for _, room := range rooms {
		if room.Started() {
			inGame++
		}
		connections += room.Len()
	}

	log.Info().
		Int("rooms", len(rooms)).
		Int("in_game", inGame).
		Int("connections", connections).
		Msg("daily stats collected")
}

// nextMaintenanceTime returns the next daily maintenance time after now.
func nextMaintenanceTime(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(),
		maintenanceHour, maintenanceMinute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// formatBytes formats bytes into human-readable form.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
