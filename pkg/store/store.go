package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nimdanitro/fenceline-dashboard/pkg/dashboard"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SnapshotRecord is one successful table refresh as persisted.
type SnapshotRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Pathway        string    `gorm:"index:idx_pathway_taken;not null;size:64" json:"pathway"`
	Average        string    `gorm:"not null;size:16" json:"average"`
	Mode           string    `gorm:"not null;size:16" json:"mode"`
	WindowStart    int64     `json:"windowStart"`
	WindowEnd      int64     `json:"windowEnd"`
	EventTimestamp *int64    `json:"eventTimestamp,omitempty"`
	Rows           string    `gorm:"type:text;not null" json:"-"`
	Summary        string    `gorm:"type:text" json:"-"`
	TakenAt        time.Time `gorm:"index:idx_pathway_taken;not null" json:"takenAt"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (SnapshotRecord) TableName() string {
	return "snapshots"
}

// Snapshot decodes the stored rows and summary.
func (r SnapshotRecord) Snapshot() (dashboard.Snapshot, error) {
	s := dashboard.Snapshot{
		Pathway: r.Pathway,
		Average: r.Average,
		Mode:    dashboard.Mode(r.Mode),
		TakenAt: r.TakenAt,
	}
	s.Window.Start, s.Window.End = r.WindowStart, r.WindowEnd
	if err := json.Unmarshal([]byte(r.Rows), &s.Rows); err != nil {
		return s, fmt.Errorf("decode rows of snapshot %d: %w", r.ID, err)
	}
	if r.Summary != "" {
		s.Summary = &dashboard.Summary{}
		if err := json.Unmarshal([]byte(r.Summary), s.Summary); err != nil {
			return s, fmt.Errorf("decode summary of snapshot %d: %w", r.ID, err)
		}
	}
	if r.EventTimestamp != nil {
		ev := dashboard.NewEvent(*r.EventTimestamp)
		s.Event = &ev
	}
	return s, nil
}

// Store keeps the history of displayed snapshots.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects with the named driver ("sqlite", "postgres", "mysql") and migrates the schema.
func Open(driver, dsn string, log *zap.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&SnapshotRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate snapshots: %w", err)
	}
	if log == nil {
		log = zap.L()
	}
	log.Info("snapshot store ready", zap.String("driver", driver))
	return &Store{db: db, log: log}, nil
}

// Record implements dashboard.SnapshotSink.
func (s *Store) Record(ctx context.Context, snap dashboard.Snapshot) error {
	rows, err := json.Marshal(snap.Rows)
	if err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}
	rec := SnapshotRecord{
		Pathway:     snap.Pathway,
		Average:     snap.Average,
		Mode:        string(snap.Mode),
		WindowStart: snap.Window.Start,
		WindowEnd:   snap.Window.End,
		Rows:        string(rows),
		TakenAt:     snap.TakenAt.UTC(),
	}
	if snap.Summary != nil {
		b, err := json.Marshal(snap.Summary)
		if err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
		rec.Summary = string(b)
	}
	if snap.Event != nil {
		ts := snap.Event.TS
		rec.EventTimestamp = &ts
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	s.log.Debug("snapshot stored", zap.Uint("id", rec.ID), zap.String("pathway", rec.Pathway))
	return nil
}

// Recent returns up to limit snapshots, newest first. An empty pathway matches all.
func (s *Store) Recent(ctx context.Context, pathway string, limit int) ([]SnapshotRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("taken_at DESC").Order("id DESC").Limit(limit)
	if pathway != "" {
		q = q.Where("pathway = ?", pathway)
	}
	var out []SnapshotRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	return out, nil
}

// Latest returns the newest snapshot for a pathway and averaging interval.
func (s *Store) Latest(ctx context.Context, pathway, average string) (*SnapshotRecord, error) {
	var rec SnapshotRecord
	err := s.db.WithContext(ctx).
		Where("pathway = ? AND average = ?", pathway, average).
		Order("taken_at DESC").Order("id DESC").
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	return &rec, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}
