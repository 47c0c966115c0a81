package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Quote represents a single market quote fetched from an upstream source.
// Price is required; a quote without a price is treated as a failed fetch.
type Quote struct {
	ID        uint                `gorm:"primaryKey" json:"id,omitempty"`
	Ticker    string              `gorm:"index;not null" json:"ticker"`
	Timestamp time.Time           `gorm:"index" json:"timestamp"`
	Price     decimal.Decimal     `gorm:"type:decimal(15,4)" json:"price"`
	Bid       decimal.NullDecimal `gorm:"type:decimal(15,4)" json:"bid"`
	Ask       decimal.NullDecimal `gorm:"type:decimal(15,4)" json:"ask"`
	BidSize   *int64              `json:"bid_size"`
	AskSize   *int64              `json:"ask_size"`
	Volume    int64               `json:"volume"`
	Source    string              `json:"source"`
	Metadata  map[string]any      `gorm:"serializer:json" json:"metadata,omitempty"`
	CreatedAt time.Time           `json:"created_at,omitempty"`
}

// Bar represents one OHLCV bar. The tuple (ticker, date, source) is the
// uniqueness key: re-importing the same key overwrites the value columns.
type Bar struct {
	ID        uint                `gorm:"primaryKey" json:"id,omitempty"`
	Ticker    string              `gorm:"uniqueIndex:idx_bar_key;not null" json:"ticker"`
	Date      time.Time           `gorm:"uniqueIndex:idx_bar_key" json:"date"`
	Source    string              `gorm:"uniqueIndex:idx_bar_key" json:"source"`
	Interval  string              `gorm:"index;default:1day" json:"interval"`
	Open      decimal.Decimal     `gorm:"type:decimal(15,4)" json:"open"`
	High      decimal.Decimal     `gorm:"type:decimal(15,4)" json:"high"`
	Low       decimal.Decimal     `gorm:"type:decimal(15,4)" json:"low"`
	Close     decimal.Decimal     `gorm:"type:decimal(15,4)" json:"close"`
	Volume    int64               `json:"volume"`
	AdjClose  decimal.NullDecimal `gorm:"type:decimal(15,4)" json:"adj_close"`
	CreatedAt time.Time           `json:"created_at,omitempty"`
}

// NewsArticle represents one news item. Duplicates by
// (headline, source, published_at) are silently dropped on insert.
type NewsArticle struct {
	ID             uint           `gorm:"primaryKey" json:"id,omitempty"`
	Headline       string         `gorm:"uniqueIndex:idx_news_key;not null" json:"headline"`
	Source         string         `gorm:"uniqueIndex:idx_news_key" json:"source"`
	PublishedAt    time.Time      `gorm:"uniqueIndex:idx_news_key;index" json:"published_at"`
	Content        string         `json:"content,omitempty"`
	Summary        string         `json:"summary,omitempty"`
	URL            string         `json:"url,omitempty"`
	Tickers        []string       `gorm:"serializer:json" json:"tickers"`
	SentimentScore *float64       `json:"sentiment_score"`
	SentimentLabel string         `json:"sentiment_label,omitempty"`
	Metadata       map[string]any `gorm:"serializer:json" json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at,omitempty"`
}

// Source health statuses.
const (
	SourceStatusActive   = "active"
	SourceStatusDegraded = "degraded"
	SourceStatusUnknown  = "unknown"
)

// SourceHealth tracks per-source status and error history. Rows are created
// lazily on first contact and upserted by source name, never deleted.
type SourceHealth struct {
	ID                  uint       `gorm:"primaryKey" json:"id,omitempty"`
	SourceName          string     `gorm:"uniqueIndex;not null" json:"source_name"`
	Status              string     `gorm:"default:unknown" json:"status"`
	LastSuccessfulFetch *time.Time `json:"last_successful_fetch"`
	LastError           string     `json:"last_error,omitempty"`
	ErrorCount          int64      `json:"error_count"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// MigrateMarketModels runs database migrations for the market data models.
func MigrateMarketModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Quote{},
		&Bar{},
		&NewsArticle{},
		&SourceHealth{},
	)
}
