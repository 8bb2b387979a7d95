// Package history keeps an audit log of completed exports in SQLite.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bjaus/tabexport/pipeline"
)

// ExportRecord is the GORM model of one completed export.
type ExportRecord struct {
	ID        uint      `gorm:"primaryKey;column:id" json:"id"`
	FormID    int       `gorm:"index;column:form_id" json:"form_id"`
	FormType  string    `gorm:"column:form_type" json:"form_type"`
	Format    string    `gorm:"column:format" json:"format"`
	Mode      string    `gorm:"column:mode" json:"mode"`
	Rows      int       `gorm:"column:row_count" json:"rows"`
	Bytes     int64     `gorm:"column:byte_count" json:"bytes"`
	CreatedAt time.Time `gorm:"index;column:created_at" json:"created_at"`
}

// TableName specifies the table name for GORM.
func (ExportRecord) TableName() string {
	return "export_history"
}

// FormSummary aggregates the exports of one form.
type FormSummary struct {
	FormID     int       `json:"form_id"`
	Exports    int64     `json:"exports"`
	Rows       int64     `json:"rows"`
	LastExport time.Time `json:"last_export"`
}

// Store persists export records.
type Store struct {
	db *gorm.DB
}

// Open opens or creates the history database at path. The path ":memory:"
// opens a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// SQLite allows a single writer; one connection also keeps an in-memory
	// database alive for the life of the store.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := db.AutoMigrate(&ExportRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record implements pipeline.Recorder.
func (s *Store) Record(ctx context.Context, r pipeline.Record) error {
	rec := ExportRecord{
		FormID:    r.FormID,
		FormType:  string(r.FormType),
		Format:    r.Format,
		Mode:      r.Mode,
		Rows:      r.Rows,
		Bytes:     r.Bytes,
		CreatedAt: r.Time,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to record export: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first. A positive formID
// restricts the result to that form.
func (s *Store) Recent(ctx context.Context, formID, limit int) ([]ExportRecord, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if formID > 0 {
		q = q.Where("form_id = ?", formID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []ExportRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}
	return out, nil
}

// Summary returns the export totals for formID.
func (s *Store) Summary(ctx context.Context, formID int) (FormSummary, error) {
	var row struct {
		Exports   int64
		TotalRows int64
	}
	err := s.db.WithContext(ctx).Model(&ExportRecord{}).
		Select("COUNT(*) AS exports, COALESCE(SUM(row_count), 0) AS total_rows").
		Where("form_id = ?", formID).
		Scan(&row).Error
	if err != nil {
		return FormSummary{}, fmt.Errorf("failed to summarize exports: %w", err)
	}
	sum := FormSummary{FormID: formID, Exports: row.Exports, Rows: row.TotalRows}
	if row.Exports > 0 {
		var last ExportRecord
		err := s.db.WithContext(ctx).Where("form_id = ?", formID).
			Order("created_at DESC").Order("id DESC").First(&last).Error
		if err != nil {
			return FormSummary{}, fmt.Errorf("failed to summarize exports: %w", err)
		}
		sum.LastExport = last.CreatedAt
	}
	return sum, nil
}

// Prune deletes records created before cutoff and returns how many it
// removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&ExportRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune exports: %w", res.Error)
	}
	return res.RowsAffected, nil
}
