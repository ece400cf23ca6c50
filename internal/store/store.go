// Copyright (C) 2026 Flowpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store persists accepted workflow events. The gateway uses it to
// replay recent history to subscribers that connect mid-run and to answer the
// REST timeline endpoints. Records are append-only.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowpulse/flowpulse/internal/config"
	"github.com/flowpulse/flowpulse/internal/logger"
	"github.com/flowpulse/flowpulse/internal/workflow"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetDatabaseLogger()
		log = &l
	})
	return log
}

// EventRecord is the persisted form of one workflow event. Seq doubles as the
// SSE event ID handed to subscribers for resume.
type EventRecord struct {
	Seq           uint64    `gorm:"primaryKey;autoIncrement"`
	WorkflowID    string    `gorm:"index;not null"`
	StateName     string    `gorm:"not null"`
	Timestamp     time.Time `gorm:"index"`
	IsSuccess     bool
	CurrentStatus string
	EventMessage  string
	FileID        string
	WorkflowName  string
	DedupeKey     string `gorm:"uniqueIndex;not null"`
	CreatedAt     time.Time
}

// Event converts the record back to the wire model.
func (r EventRecord) Event() workflow.Event {
	return workflow.Event{
		WorkflowID:    r.WorkflowID,
		StateName:     r.StateName,
		Timestamp:     r.Timestamp,
		IsSuccess:     r.IsSuccess,
		CurrentStatus: r.CurrentStatus,
		EventMessage:  r.EventMessage,
		FileID:        r.FileID,
		WorkflowName:  r.WorkflowName,
	}
}

// Record builds the persisted form of e with its assigned sequence number.
func Record(seq uint64, e workflow.Event) EventRecord {
	return EventRecord{
		Seq:           seq,
		WorkflowID:    e.WorkflowID,
		StateName:     e.StateName,
		Timestamp:     e.Timestamp,
		IsSuccess:     e.IsSuccess,
		CurrentStatus: e.CurrentStatus,
		EventMessage:  e.EventMessage,
		FileID:        e.FileID,
		WorkflowName:  e.WorkflowName,
		DedupeKey:     e.Key(),
	}
}

// Store wraps the GORM connection for the event log.
type Store struct {
	db *gorm.DB
}

// New opens the event store and runs migrations.
func New(cfg *config.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.GetDSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent), // Reduce GORM log noise
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate event store: %w", err)
	}

	return s, nil
}

// Append persists one event and returns its sequence number. A duplicate
// delivery (same normalized tuple) is not stored twice; the existing
// record's sequence is returned.
func (s *Store) Append(ctx context.Context, e workflow.Event) (uint64, error) {
	record := EventRecord{
		WorkflowID:    e.WorkflowID,
		StateName:     e.StateName,
		Timestamp:     e.Timestamp,
		IsSuccess:     e.IsSuccess,
		CurrentStatus: e.CurrentStatus,
		EventMessage:  e.EventMessage,
		FileID:        e.FileID,
		WorkflowName:  e.WorkflowName,
		DedupeKey:     e.Key(),
	}

	err := s.db.WithContext(ctx).Create(&record).Error
	if err == nil {
		return record.Seq, nil
	}

	// Unique violation on the dedupe key means we already have this event.
	var existing EventRecord
	findErr := s.db.WithContext(ctx).
		Where("dedupe_key = ?", record.DedupeKey).
		First(&existing).Error
	if findErr == nil {
		getLog().Debug().
			Str("workflow_id", e.WorkflowID).
			Str("state", e.StateName).
			Msg("Duplicate event already stored")
		return existing.Seq, nil
	}

	return 0, fmt.Errorf("failed to append event: %w", err)
}

// ListByWorkflow returns one workflow's events ordered by timestamp, then by
// insertion sequence for exact ties.
func (s *Store) ListByWorkflow(ctx context.Context, workflowID string) ([]workflow.Event, error) {
	var records []EventRecord
	err := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("timestamp ASC, seq ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list events for workflow %s: %w", workflowID, err)
	}

	events := make([]workflow.Event, len(records))
	for i, r := range records {
		events[i] = r.Event()
	}
	return events, nil
}

// ListAfter returns up to limit records with Seq greater than after, in
// sequence order. Used for history replay on subscribe; after=0 replays from
// the start of the retained window.
func (s *Store) ListAfter(ctx context.Context, after uint64, limit int) ([]EventRecord, error) {
	var records []EventRecord
	q := s.db.WithContext(ctx).
		Where("seq > ?", after).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list events after %d: %w", after, err)
	}
	return records, nil
}

// ListRecent returns the most recent limit records in sequence order.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]EventRecord, error) {
	var records []EventRecord
	q := s.db.WithContext(ctx).Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list recent events: %w", err)
	}

	// Reverse into ascending sequence order.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// WorkflowIDs returns all distinct workflow IDs in lexical order.
func (s *Store) WorkflowIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&EventRecord{}).
		Distinct("workflow_id").
		Order("workflow_id ASC").
		Pluck("workflow_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow ids: %w", err)
	}
	return ids, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
