package storage

import (
	"context"
	"time"

	"curator_backend/models"
)

// NewsFilter narrows a stored-news search.
type NewsFilter struct {
	Ticker string
	Query  string
	Since  *time.Time
	Limit  int
}

// PersistenceGateway abstracts the durable store. Implementations must treat
// (ticker, date, source) as the bar uniqueness key and silently skip duplicate
// news articles by (headline, source, published_at). The curator never assumes
// exclusive access to the store.
type PersistenceGateway interface {
	InsertQuotes(ctx context.Context, quotes []models.Quote) (int, error)
	InsertNews(ctx context.Context, articles []models.NewsArticle) (int, error)
	UpsertBars(ctx context.Context, bars []models.Bar) (int, error)

	// GetLatestQuote returns (nil, nil) when no quote is stored.
	GetLatestQuote(ctx context.Context, ticker string) (*models.Quote, error)
	GetBars(ctx context.Context, ticker, interval string, limit int) ([]models.Bar, error)
	SearchNews(ctx context.Context, filter NewsFilter) ([]models.NewsArticle, error)

	RecordSourceError(ctx context.Context, sourceName, message string) error
	UpsertSourceHealth(ctx context.Context, sourceName, status string) error

	HealthCheck(ctx context.Context) bool
}

// ObjectInfo describes one object in a bulk store.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
	ETag         string
}

// ObjectStore is the read-side interface over a bulk object store, consumed
// by the ETL pipeline.
type ObjectStore interface {
	// List returns at most maxKeys object keys under prefix whose names end
	// with suffix (empty suffix matches everything).
	List(ctx context.Context, prefix, suffix string, maxKeys int) ([]string, error)
	ReadObject(ctx context.Context, key string) ([]byte, error)
	// HeadObject returns (nil, nil) when the object does not exist.
	HeadObject(ctx context.Context, key string) (*ObjectInfo, error)
}
