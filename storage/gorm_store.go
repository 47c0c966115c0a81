package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"curator_backend/models"
)

// GormStore is the postgres-backed PersistenceGateway.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an already-opened gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// InsertQuotes appends a batch of quotes.
func (s *GormStore) InsertQuotes(ctx context.Context, quotes []models.Quote) (int, error) {
	if len(quotes) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).Create(&quotes)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to insert quotes: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

// InsertNews inserts articles, silently skipping duplicates by the
// (headline, source, published_at) natural key.
func (s *GormStore) InsertNews(ctx context.Context, articles []models.NewsArticle) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "headline"}, {Name: "source"}, {Name: "published_at"}},
			DoNothing: true,
		}).
		Create(&articles)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to insert news: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

// UpsertBars inserts bars, overwriting the value columns when the
// (ticker, date, source) key already exists.
func (s *GormStore) UpsertBars(ctx context.Context, bars []models.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ticker"}, {Name: "date"}, {Name: "source"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "adj_close", "interval"}),
		}).
		Create(&bars)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to upsert bars: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

// GetLatestQuote returns the most recent stored quote for the ticker.
func (s *GormStore) GetLatestQuote(ctx context.Context, ticker string) (*models.Quote, error) {
	var quote models.Quote
	err := s.db.WithContext(ctx).
		Where("ticker = ?", ticker).
		Order("timestamp DESC").
		First(&quote).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest quote for %s: %w", ticker, err)
	}
	return &quote, nil
}

// GetBars returns up to limit bars for the ticker and interval, newest first.
func (s *GormStore) GetBars(ctx context.Context, ticker, interval string, limit int) ([]models.Bar, error) {
	var bars []models.Bar
	query := s.db.WithContext(ctx).Where("ticker = ?", ticker)
	if interval != "" {
		query = query.Where("interval = ?", interval)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Order("date DESC").Find(&bars).Error; err != nil {
		return nil, fmt.Errorf("failed to query bars for %s: %w", ticker, err)
	}
	return bars, nil
}

// SearchNews returns stored articles matching the filter, newest first.
func (s *GormStore) SearchNews(ctx context.Context, filter NewsFilter) ([]models.NewsArticle, error) {
	var articles []models.NewsArticle
	query := s.db.WithContext(ctx).Model(&models.NewsArticle{})
	if filter.Ticker != "" {
		// Tickers are stored as a JSON array.
		query = query.Where("tickers LIKE ?", "%\""+filter.Ticker+"\"%")
	}
	if filter.Query != "" {
		query = query.Where("headline ILIKE ?", "%"+filter.Query+"%")
	}
	if filter.Since != nil {
		query = query.Where("published_at >= ?", *filter.Since)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	if err := query.Order("published_at DESC").Limit(limit).Find(&articles).Error; err != nil {
		return nil, fmt.Errorf("failed to search news: %w", err)
	}
	return articles, nil
}

// RecordSourceError upserts the source row, bumping its error count.
func (s *GormStore) RecordSourceError(ctx context.Context, sourceName, message string) error {
	now := time.Now()
	row := models.SourceHealth{
		SourceName: sourceName,
		Status:     models.SourceStatusUnknown,
		LastError:  message,
		ErrorCount: 1,
		UpdatedAt:  now,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "source_name"}},
			DoUpdates: clause.Assignments(map[string]any{
				"last_error":  message,
				"error_count": gorm.Expr("source_healths.error_count + 1"),
				"updated_at":  now,
			}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to record source error for %s: %w", sourceName, err)
	}
	return nil
}

// UpsertSourceHealth marks the source with the given status and refreshes its
// last-successful-fetch timestamp.
func (s *GormStore) UpsertSourceHealth(ctx context.Context, sourceName, status string) error {
	now := time.Now()
	row := models.SourceHealth{
		SourceName:          sourceName,
		Status:              status,
		LastSuccessfulFetch: &now,
		UpdatedAt:           now,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "source_name"}},
			DoUpdates: clause.Assignments(map[string]any{
				"status":                status,
				"last_successful_fetch": now,
				"updated_at":            now,
			}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert source health for %s: %w", sourceName, err)
	}
	return nil
}

// HealthCheck pings the underlying connection.
func (s *GormStore) HealthCheck(ctx context.Context) bool {
	sqlDB, err := s.db.DB()
	if err != nil {
		return false
	}
	return sqlDB.PingContext(ctx) == nil
}
