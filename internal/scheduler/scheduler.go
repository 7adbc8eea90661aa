// Package scheduler fires configured backup schedules on cron expressions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/mcpilot/mcpilot/internal/backupengine"
	"github.com/mcpilot/mcpilot/internal/config"
	"github.com/mcpilot/mcpilot/internal/excludes"
	"github.com/mcpilot/mcpilot/internal/models"
)

// scheduledBy is the principal scheduled backups run as.
const scheduledBy = "scheduler"

// backupTimeout bounds one scheduled backup run.
const backupTimeout = 30 * time.Minute

// Backuper runs one backup. The orchestrator satisfies it.
type Backuper interface {
	Backup(ctx context.Context, user, serverID string, opts backupengine.CreateOptions) (*backupengine.Record, error)
}

// ServerResolver maps a configured server name to its record. The registry
// satisfies it.
type ServerResolver interface {
	GetByName(ctx context.Context, name string) (*models.ServerRecord, error)
}

// Scheduler owns the cron runner for configured backup schedules.
type Scheduler struct {
	backuper Backuper
	servers  ServerResolver
	cron     *cron.Cron
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	entries []cron.EntryID
}

// New creates a stopped Scheduler.
func New(backuper Backuper, servers ServerResolver, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		backuper: backuper,
		servers:  servers,
		cron:     cron.New(),
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers every schedule and starts the cron runner. A schedule with
// an invalid expression fails the whole call so a typo is caught at startup
// rather than silently never firing.
func (s *Scheduler) Start(schedules []config.BackupSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}

	for _, schedule := range schedules {
		sched := schedule
		entryID, err := s.cron.AddFunc(schedule.Cron, func() {
			s.executeBackup(sched)
		})
		if err != nil {
			return fmt.Errorf("schedule for server %q: %w", schedule.Server, err)
		}
		s.entries = append(s.entries, entryID)
		s.logger.Debug().
			Str("server", schedule.Server).
			Str("cron", schedule.Cron).
			Msg("backup schedule registered")
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().Int("schedules", len(s.entries)).Msg("scheduler started")
	return nil
}

// Stop halts the cron runner. The returned context is done when in-flight
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	s.running = false
	s.logger.Info().Msg("scheduler stopping")
	return s.cron.Stop()
}

// Entries reports how many schedules are registered.
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) executeBackup(schedule config.BackupSchedule) {
	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()

	logger := s.logger.With().Str("server", schedule.Server).Logger()

	server, err := s.servers.GetByName(ctx, schedule.Server)
	if err != nil {
		logger.Error().Err(err).Msg("scheduled backup skipped: server not found")
		return
	}

	opts := optionsFor(schedule)
	opts.ExcludePatterns = excludes.Defaults(server.Kind)

	rec, err := s.backuper.Backup(ctx, scheduledBy, server.ID, opts)
	if err != nil {
		logger.Error().Err(err).Msg("scheduled backup failed")
		return
	}
	logger.Info().
		Str("backup_id", rec.ID).
		Int64("size", rec.Size).
		Msg("scheduled backup completed")
}

// optionsFor maps a configured schedule onto engine options. An unknown type
// falls back to a full backup.
func optionsFor(schedule config.BackupSchedule) backupengine.CreateOptions {
	opts := backupengine.CreateOptions{IncludeLogs: schedule.IncludeLogs}
	switch schedule.Type {
	case string(backupengine.TypeConfig):
		opts.Type = backupengine.TypeConfig
	case string(backupengine.TypeData):
		opts.Type = backupengine.TypeData
	default:
		opts.Type = backupengine.TypeFull
	}
	return opts
}
