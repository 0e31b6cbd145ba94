package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/live-presence/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type presenceRecord struct {
	ID          uint   `gorm:"primaryKey"`
	UserID      string `gorm:"size:128;uniqueIndex;not null"`
	UserName    string `gorm:"size:128;not null"`
	Latitude    float64
	Longitude   float64
	Accuracy    *float64
	Speed       *float64
	Heading     *float64
	Color       string `gorm:"size:32"`
	LastUpdated int64  `gorm:"index;not null"`
	IsActive    bool   `gorm:"not null"`
}

func (presenceRecord) TableName() string { return PresenceCollectionName }

func (r presenceRecord) toModel() models.PresenceRow {
	return models.PresenceRow{
		PositionSample: models.PositionSample{
			UserID:    r.UserID,
			UserName:  r.UserName,
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
			Accuracy:  r.Accuracy,
			Speed:     r.Speed,
			Heading:   r.Heading,
			Color:     r.Color,
		},
		LastUpdated: r.LastUpdated,
		IsActive:    r.IsActive,
	}
}

type historyRecord struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"size:128;index:idx_history_user_ts,priority:1;not null"`
	UserName  string `gorm:"size:128"`
	Latitude  float64
	Longitude float64
	Accuracy  *float64
	Speed     *float64
	Heading   *float64
	Color     string `gorm:"size:32"`
	Timestamp int64  `gorm:"index:idx_history_user_ts,priority:2;index;not null"`
}

func (historyRecord) TableName() string { return HistoryCollectionName }

// OpenGorm opens a SQL-backed store with retry. driver is "postgres" or "sqlite".
func OpenGorm(driver, dsn string, attempts int, delay time.Duration) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		gdb, err := gorm.Open(dialector, &gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.Warn),
		})
		if err == nil {
			if err := gdb.AutoMigrate(&presenceRecord{}, &historyRecord{}); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
			return gdb, nil
		}
		lastErr = err
		log.WithError(err).WithField("attempt", i).Warn("SQL store not ready, retrying")
		time.Sleep(delay)
	}
	return nil, fmt.Errorf("sql connect failed after %d attempts: %w", attempts, lastErr)
}

// GormPresenceCollection stores presence rows in a SQL table.
type GormPresenceCollection struct {
	DB *gorm.DB
}

func (c *GormPresenceCollection) FindByUserID(ctx context.Context, userID string) (*models.PresenceRow, error) {
	var rec presenceRecord
	err := c.DB.WithContext(ctx).Where("user_id = ?", userID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	row := rec.toModel()
	return &row, nil
}

func (c *GormPresenceCollection) Insert(ctx context.Context, row models.PresenceRow) error {
	rec := presenceRecord{
		UserID:      row.UserID,
		UserName:    row.UserName,
		Latitude:    row.Latitude,
		Longitude:   row.Longitude,
		Accuracy:    row.Accuracy,
		Speed:       row.Speed,
		Heading:     row.Heading,
		Color:       row.Color,
		LastUpdated: row.LastUpdated,
		IsActive:    row.IsActive,
	}
	err := c.DB.WithContext(ctx).Create(&rec).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (c *GormPresenceCollection) Patch(ctx context.Context, userID string, patch models.PresencePatch) error {
	// A map is used so that false and nil values are written too.
	fields := map[string]interface{}{
		"is_active":    patch.IsActive,
		"last_updated": patch.LastUpdated,
	}
	if s := patch.Sample; s != nil {
		fields["user_name"] = s.UserName
		fields["latitude"] = s.Latitude
		fields["longitude"] = s.Longitude
		fields["accuracy"] = s.Accuracy
		fields["speed"] = s.Speed
		fields["heading"] = s.Heading
		fields["color"] = s.Color
	}
	result := c.DB.WithContext(ctx).Model(&presenceRecord{}).Where("user_id = ?", userID).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *GormPresenceCollection) FindAll(ctx context.Context) ([]models.PresenceRow, error) {
	var recs []presenceRecord
	if err := c.DB.WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, err
	}
	rows := make([]models.PresenceRow, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, r.toModel())
	}
	return rows, nil
}

func (c *GormPresenceCollection) DeleteNotUpdatedSince(ctx context.Context, cutoff int64) (int64, error) {
	result := c.DB.WithContext(ctx).Where("last_updated < ?", cutoff).Delete(&presenceRecord{})
	return result.RowsAffected, result.Error
}

// GormHistoryCollection stores the history log in a SQL table.
type GormHistoryCollection struct {
	DB *gorm.DB
}

func (c *GormHistoryCollection) Insert(ctx context.Context, entry models.HistoryEntry) error {
	rec := historyRecord{
		UserID:    entry.UserID,
		UserName:  entry.UserName,
		Latitude:  entry.Latitude,
		Longitude: entry.Longitude,
		Accuracy:  entry.Accuracy,
		Speed:     entry.Speed,
		Heading:   entry.Heading,
		Color:     entry.Color,
		Timestamp: entry.Timestamp,
	}
	return c.DB.WithContext(ctx).Create(&rec).Error
}

func (c *GormHistoryCollection) FindByUserID(ctx context.Context, userID string, limit int64) ([]models.HistoryEntry, error) {
	q := c.DB.WithContext(ctx).Where("user_id = ?", userID).Order("timestamp DESC, id DESC")
	if limit > 0 {
		q = q.Limit(int(limit))
	}
	var recs []historyRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	entries := make([]models.HistoryEntry, 0, len(recs))
	for _, r := range recs {
		entries = append(entries, models.HistoryEntry{
			PositionSample: models.PositionSample{
				UserID:    r.UserID,
				UserName:  r.UserName,
				Latitude:  r.Latitude,
				Longitude: r.Longitude,
				Accuracy:  r.Accuracy,
				Speed:     r.Speed,
				Heading:   r.Heading,
				Color:     r.Color,
			},
			Timestamp: r.Timestamp,
		})
	}
	return entries, nil
}

func (c *GormHistoryCollection) CountByUserID(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := c.DB.WithContext(ctx).Model(&historyRecord{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

func (c *GormHistoryCollection) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	result := c.DB.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&historyRecord{})
	return result.RowsAffected, result.Error
}
