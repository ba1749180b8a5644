package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"conduitdash/internal/model"
)

// offsetRowID is the primary key of the only row the offsets table holds.
const offsetRowID = 1

type offsetRow struct {
	ID             uint  `gorm:"primaryKey;autoIncrement:false"`
	UploadOffset   int64 `gorm:"not null"`
	DownloadOffset int64 `gorm:"not null"`
	LastUpload     int64 `gorm:"not null"`
	LastDownload   int64 `gorm:"not null"`
}

func (offsetRow) TableName() string { return "offsets" }

type statsRow struct {
	ID            uint   `gorm:"primaryKey"`
	Timestamp     int64  `gorm:"not null;index:idx_stats_timestamp"`
	Status        string `gorm:"size:16"`
	Clients       int64  `gorm:"not null"`
	UploadBytes   int64  `gorm:"not null"`
	DownloadBytes int64  `gorm:"not null"`
	Uptime        string `gorm:"size:32"`
}

func (statsRow) TableName() string { return "stats" }

// Store persists the offset record and the stats time series in one SQLite
// file. Every mutating call commits before returning.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.New(log.New(os.Stderr, "", log.LstdFlags), logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// A single connection keeps SQLite writers strictly ordered.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&offsetRow{}, &statsRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ReadOffset returns the persisted offset record, or the zero record if none
// has been written yet.
func (s *Store) ReadOffset(ctx context.Context) (model.OffsetRecord, error) {
	var row offsetRow
	err := s.db.WithContext(ctx).Take(&row, offsetRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.OffsetRecord{}, nil
	}
	if err != nil {
		return model.OffsetRecord{}, err
	}
	return model.OffsetRecord{
		UploadOffset:   row.UploadOffset,
		DownloadOffset: row.DownloadOffset,
		LastUpload:     row.LastUpload,
		LastDownload:   row.LastDownload,
	}, nil
}

// WriteOffset replaces the offset record.
func (s *Store) WriteOffset(ctx context.Context, rec model.OffsetRecord) error {
	return upsertOffset(s.db.WithContext(ctx), rec)
}

func upsertOffset(tx *gorm.DB, rec model.OffsetRecord) error {
	row := offsetRow{
		ID:             offsetRowID,
		UploadOffset:   rec.UploadOffset,
		DownloadOffset: rec.DownloadOffset,
		LastUpload:     rec.LastUpload,
		LastDownload:   rec.LastDownload,
	}
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// ResetOffsets deletes the offset record.
func (s *Store) ResetOffsets(ctx context.Context) error {
	return s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&offsetRow{}).Error
}

// Append adds one row to the time series.
func (s *Store) Append(ctx context.Context, rec model.StatsRecord) error {
	row := toRow(rec)
	return s.db.WithContext(ctx).Create(&row).Error
}

// AppendBatch adds rows in order within a single transaction.
func (s *Store) AppendBatch(ctx context.Context, recs []model.StatsRecord) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]statsRow, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, toRow(rec))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(rows, 500).Error
	})
}

// Commit appends rec and replaces the offset record atomically. On error
// neither change is persisted.
func (s *Store) Commit(ctx context.Context, rec model.StatsRecord, offset model.OffsetRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toRow(rec)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("append stats: %w", err)
		}
		if err := upsertOffset(tx, offset); err != nil {
			return fmt.Errorf("write offset: %w", err)
		}
		return nil
	})
}

// Query returns rows with timestamp > since, oldest first.
func (s *Store) Query(ctx context.Context, since int64) ([]model.StatsRecord, error) {
	var rows []statsRow
	err := s.db.WithContext(ctx).
		Where("timestamp > ?", since).
		Order("timestamp ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.StatsRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

// Latest returns the most recent row, if any.
func (s *Store) Latest(ctx context.Context) (model.StatsRecord, bool, error) {
	var rows []statsRow
	err := s.db.WithContext(ctx).
		Order("timestamp DESC").
		Order("id DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return model.StatsRecord{}, false, err
	}
	if len(rows) == 0 {
		return model.StatsRecord{}, false, nil
	}
	return fromRow(rows[0]), true, nil
}

// ClearStats deletes every time series row.
func (s *Store) ClearStats(ctx context.Context) error {
	return s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&statsRow{}).Error
}

// ClearAll deletes the time series and the offset record together.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if err := all.Delete(&statsRow{}).Error; err != nil {
			return err
		}
		return all.Delete(&offsetRow{}).Error
	})
}

func toRow(rec model.StatsRecord) statsRow {
	return statsRow{
		Timestamp:     rec.Timestamp,
		Status:        string(rec.Status),
		Clients:       rec.Clients,
		UploadBytes:   rec.UploadBytes,
		DownloadBytes: rec.DownloadBytes,
		Uptime:        rec.Uptime,
	}
}

func fromRow(row statsRow) model.StatsRecord {
	return model.StatsRecord{
		Timestamp:     row.Timestamp,
		Status:        model.Status(row.Status),
		Clients:       row.Clients,
		UploadBytes:   row.UploadBytes,
		DownloadBytes: row.DownloadBytes,
		Uptime:        row.Uptime,
	}
}
