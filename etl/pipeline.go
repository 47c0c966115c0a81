package etl

import (
	"context"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"curator_backend/models"
	"curator_backend/storage"
)

// defaultBatchSize is the number of rows sent to the store per write.
const defaultBatchSize = 1000

// Data type names accepted by ImportAll and returned by detectDataType.
const (
	DataTypeQuotes = "quotes"
	DataTypeOHLCV  = "ohlcv"
	DataTypeNews   = "news"
)

// ImportStats summarizes one import run.
type ImportStats struct {
	Quotes         int `json:"quotes_imported"`
	OHLCV          int `json:"ohlcv_imported"`
	News           int `json:"news_imported"`
	FilesProcessed int `json:"files_processed"`
	FilesFailed    int `json:"files_failed"`
	FilesSkipped   int `json:"files_skipped"`
}

// Pipeline pulls bulk export files from one object store and loads them into
// the persistence gateway. A file that fails to parse or load is counted and
// skipped; the run continues with the remaining files.
type Pipeline struct {
	store      storage.ObjectStore
	gateway    storage.PersistenceGateway
	sourceName string
	batchSize  int
}

// NewPipeline creates a pipeline for one named bulk source.
func NewPipeline(store storage.ObjectStore, gateway storage.PersistenceGateway, sourceName string) *Pipeline {
	return &Pipeline{
		store:      store,
		gateway:    gateway,
		sourceName: sourceName,
		batchSize:  defaultBatchSize,
	}
}

// ListFiles returns the object keys under prefix, optionally filtered by
// suffix.
func (p *Pipeline) ListFiles(ctx context.Context, prefix, suffix string) ([]string, error) {
	return p.store.List(ctx, prefix, suffix, 1000)
}

// ImportQuotes imports the given objects as quote files. A file that fails to
// read or parse is logged and skipped. Returns rows inserted and files failed.
func (p *Pipeline) ImportQuotes(ctx context.Context, keys []string, deduplicate bool) (int, int) {
	total, failed := 0, 0
	for _, key := range keys {
		n, err := p.importQuoteFile(ctx, key, deduplicate)
		total += n
		if err != nil {
			log.Printf("Failed to import quotes from %s: %v", key, err)
			failed++
		}
	}
	return total, failed
}

// ImportOHLCV imports the given objects as bar files, upserting by
// (ticker, date, source).
func (p *Pipeline) ImportOHLCV(ctx context.Context, keys []string) (int, int) {
	total, failed := 0, 0
	for _, key := range keys {
		n, err := p.importBarFile(ctx, key)
		total += n
		if err != nil {
			log.Printf("Failed to import bars from %s: %v", key, err)
			failed++
		}
	}
	return total, failed
}

// ImportNews imports the given objects as news files with duplicate-skip
// semantics.
func (p *Pipeline) ImportNews(ctx context.Context, keys []string) (int, int) {
	total, failed := 0, 0
	for _, key := range keys {
		n, err := p.importNewsFile(ctx, key)
		total += n
		if err != nil {
			log.Printf("Failed to import news from %s: %v", key, err)
			failed++
		}
	}
	return total, failed
}

// DescribeFile probes one object without downloading it. Missing objects
// return (nil, nil).
func (p *Pipeline) DescribeFile(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	return p.store.HeadObject(ctx, key)
}

// ImportAll imports every file under prefix. When dataType is empty the type
// of each file is detected from its name; files that match no known pattern
// are skipped with a warning.
func (p *Pipeline) ImportAll(ctx context.Context, prefix, dataType string) (*ImportStats, error) {
	keys, err := p.ListFiles(ctx, prefix, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list files under %q: %w", prefix, err)
	}

	if dataType == "auto" {
		dataType = ""
	}

	stats := &ImportStats{}
	for _, key := range keys {
		dt := dataType
		if dt == "" {
			dt = detectDataType(key)
		}

		var n int
		var importErr error
		switch dt {
		case DataTypeQuotes:
			n, importErr = p.importQuoteFile(ctx, key, true)
			stats.Quotes += n
		case DataTypeOHLCV:
			n, importErr = p.importBarFile(ctx, key)
			stats.OHLCV += n
		case DataTypeNews:
			n, importErr = p.importNewsFile(ctx, key)
			stats.News += n
		default:
			log.Printf("Skipping %s: cannot determine data type from name", key)
			stats.FilesSkipped++
			continue
		}

		if importErr != nil {
			log.Printf("Failed to import %s: %v", key, importErr)
			stats.FilesFailed++
			continue
		}
		stats.FilesProcessed++
	}

	log.Printf("Bulk import from %s done: %d quotes, %d bars, %d articles (%d files, %d failed, %d skipped)",
		p.sourceName, stats.Quotes, stats.OHLCV, stats.News,
		stats.FilesProcessed, stats.FilesFailed, stats.FilesSkipped)
	return stats, nil
}

// detectDataType classifies a file by key substrings. Quote patterns win over
// bar patterns, bar patterns over news.
func detectDataType(key string) string {
	name := strings.ToLower(path.Base(key))
	switch {
	case strings.Contains(name, "quote"), strings.Contains(name, "tick"):
		return DataTypeQuotes
	case strings.Contains(name, "ohlc"), strings.Contains(name, "bar"), strings.Contains(name, "daily"):
		return DataTypeOHLCV
	case strings.Contains(name, "news"), strings.Contains(name, "article"):
		return DataTypeNews
	}
	return ""
}

func (p *Pipeline) importQuoteFile(ctx context.Context, key string, deduplicate bool) (int, error) {
	data, err := p.store.ReadObject(ctx, key)
	if err != nil {
		return 0, err
	}
	records, err := decodeRecords[quoteRecord](data)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool, len(records))
	quotes := make([]models.Quote, 0, len(records))
	for _, r := range records {
		ticker := strings.ToUpper(strings.TrimSpace(r.ticker()))
		if ticker == "" || r.Price == nil {
			continue
		}
		ts, err := parseRecordTime(r.Timestamp)
		if err != nil {
			ts = time.Now()
		}
		if deduplicate {
			dedupKey := ticker + "|" + ts.UTC().Format(time.RFC3339Nano)
			if seen[dedupKey] {
				continue
			}
			seen[dedupKey] = true
		}

		quote := models.Quote{
			Ticker:    ticker,
			Timestamp: ts,
			Price:     decimal.NewFromFloat(*r.Price),
			BidSize:   r.BidSize,
			AskSize:   r.AskSize,
			Volume:    r.Volume,
			Source:    p.recordSource(r.Source),
			Metadata:  r.Metadata,
		}
		if r.Bid != nil {
			quote.Bid = decimal.NewNullDecimal(decimal.NewFromFloat(*r.Bid))
		}
		if r.Ask != nil {
			quote.Ask = decimal.NewNullDecimal(decimal.NewFromFloat(*r.Ask))
		}
		quotes = append(quotes, quote)
	}

	return insertChunked(ctx, quotes, p.batchSize, p.gateway.InsertQuotes)
}

func (p *Pipeline) importBarFile(ctx context.Context, key string) (int, error) {
	data, err := p.store.ReadObject(ctx, key)
	if err != nil {
		return 0, err
	}
	records, err := decodeRecords[barRecord](data)
	if err != nil {
		return 0, err
	}

	// No in-file dedup for bars: the upsert key (ticker, date, source)
	// already absorbs repeats, and collapsing rows here would drop intraday
	// bars sharing a calendar day.
	bars := make([]models.Bar, 0, len(records))
	for _, r := range records {
		ticker := strings.ToUpper(strings.TrimSpace(r.ticker()))
		if ticker == "" || r.Date == "" {
			continue
		}
		date, err := parseRecordTime(r.Date)
		if err != nil {
			continue
		}

		interval := r.Interval
		if interval == "" {
			interval = "1day"
		}
		bar := models.Bar{
			Ticker:   ticker,
			Date:     date,
			Source:   p.recordSource(r.Source),
			Interval: interval,
			Open:     decimal.NewFromFloat(r.Open),
			High:     decimal.NewFromFloat(r.High),
			Low:      decimal.NewFromFloat(r.Low),
			Close:    decimal.NewFromFloat(r.Close),
			Volume:   r.Volume,
		}
		if r.AdjClose != nil {
			bar.AdjClose = decimal.NewNullDecimal(decimal.NewFromFloat(*r.AdjClose))
		}
		bars = append(bars, bar)
	}

	return insertChunked(ctx, bars, p.batchSize, p.gateway.UpsertBars)
}

func (p *Pipeline) importNewsFile(ctx context.Context, key string) (int, error) {
	data, err := p.store.ReadObject(ctx, key)
	if err != nil {
		return 0, err
	}
	records, err := decodeRecords[articleRecord](data)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool, len(records))
	articles := make([]models.NewsArticle, 0, len(records))
	for _, r := range records {
		headline := strings.TrimSpace(r.headline())
		if headline == "" {
			continue
		}
		publishedAt, err := parseRecordTime(r.PublishedAt)
		if err != nil {
			publishedAt = time.Now()
		}
		dedupKey := headline + "|" + publishedAt.UTC().Format(time.RFC3339)
		if seen[dedupKey] {
			continue
		}
		seen[dedupKey] = true

		articles = append(articles, models.NewsArticle{
			Headline:       headline,
			Source:         p.recordSource(r.Source),
			PublishedAt:    publishedAt,
			Content:        r.Content,
			Summary:        r.Summary,
			URL:            r.URL,
			Tickers:        r.Tickers,
			SentimentScore: r.SentimentScore,
			SentimentLabel: r.SentimentLabel,
			Metadata:       r.Metadata,
		})
	}

	return insertChunked(ctx, articles, p.batchSize, p.gateway.InsertNews)
}

// recordSource prefers the source named in the record, falling back to the
// bulk source name.
func (p *Pipeline) recordSource(recordSource string) string {
	if recordSource != "" {
		return recordSource
	}
	return p.sourceName
}

func insertChunked[T any](ctx context.Context, rows []T, batchSize int, insert func(context.Context, []T) (int, error)) (int, error) {
	total := 0
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		n, err := insert(ctx, rows[start:end])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
