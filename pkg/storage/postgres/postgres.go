// Package postgres persists the journal to PostgreSQL through gorm.
package postgres

import (
	"fmt"
	"time"

	"github.com/meridian-labs/emissions-engine/internal/config"
	"github.com/meridian-labs/emissions-engine/pkg/storage"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// JournalEvent is the gorm model backing the journal_events table.
type JournalEvent struct {
	ID          string `gorm:"primaryKey"`
	Kind        string `gorm:"index"`
	Participant string `gorm:"index"`
	PositionID  uint64
	Epoch       uint64 `gorm:"index"`
	Amount      string
	Weight      string
	OccurredAt  time.Time
	CreatedAt   time.Time
}

func (JournalEvent) TableName() string {
	return "journal_events"
}

type Sink struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormFromDbConfig opens a gorm connection from the database config and
// runs the automigration for the journal schema.
func NewGormFromDbConfig(cfg *config.DatabaseConfig, l *zap.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DbName,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}
	if err := db.AutoMigrate(&JournalEvent{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate journal schema")
	}
	return db, nil
}

func NewSink(db *gorm.DB, l *zap.Logger) *Sink {
	return &Sink{db: db, logger: l}
}

func (s *Sink) Write(event *storage.Event) error {
	model := &JournalEvent{
		ID:          event.ID,
		Kind:        string(event.Kind),
		Participant: event.Participant,
		PositionID:  event.PositionID,
		Epoch:       event.Epoch,
		Amount:      event.Amount,
		Weight:      event.Weight,
		OccurredAt:  event.OccurredAt,
	}
	if res := s.db.Create(model); res.Error != nil {
		return errors.Wrap(res.Error, "failed to write journal event")
	}
	return nil
}

// Events returns journal entries for a participant, newest first.
func (s *Sink) Events(participant string, limit int) ([]*JournalEvent, error) {
	var out []*JournalEvent
	res := s.db.
		Where("participant = ?", participant).
		Order("occurred_at desc").
		Limit(limit).
		Find(&out)
	if res.Error != nil {
		return nil, res.Error
	}
	return out, nil
}
