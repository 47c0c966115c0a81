package curator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"curator_backend/etl"
	"curator_backend/models"
	"curator_backend/sources"
	"curator_backend/storage"
)

// QuotePublisher receives every freshly fetched quote, typically to push it
// out over websockets. Implementations must not block.
type QuotePublisher interface {
	PublishQuote(quote models.Quote)
}

// UnknownBulkSourceError is returned when an import names a bulk source that
// was never registered.
type UnknownBulkSourceError struct {
	Name  string
	Known []string
}

func (e *UnknownBulkSourceError) Error() string {
	return fmt.Sprintf("unknown bulk source %q (known: %s)", e.Name, strings.Join(e.Known, ", "))
}

// Curator owns the quote cache, the source dispatcher, the watchlist and the
// bulk import pipelines. All methods are safe for concurrent use.
type Curator struct {
	registry   *sources.Registry
	gateway    storage.PersistenceGateway
	cache      *QuoteCache
	dispatcher *Dispatcher
	stats      *Stats
	publisher  QuotePublisher

	watchlist    []string
	watchlistSet map[string]bool
	bulk         map[string]*etl.Pipeline

	mu sync.RWMutex

	workerMu      sync.Mutex
	workerStop    chan struct{}
	workerDone    chan struct{}
	workerRunning bool
}

// NewCurator wires the curator together. cacheTTL bounds quote freshness.
func NewCurator(registry *sources.Registry, gateway storage.PersistenceGateway, cacheTTL time.Duration) *Curator {
	return &Curator{
		registry:     registry,
		gateway:      gateway,
		cache:        NewQuoteCache(cacheTTL),
		dispatcher:   NewDispatcher(registry, gateway),
		stats:        NewStats(),
		watchlistSet: make(map[string]bool),
		bulk:         make(map[string]*etl.Pipeline),
	}
}

// SetPublisher attaches a quote publisher. Call before starting the worker.
func (c *Curator) SetPublisher(p QuotePublisher) { c.publisher = p }

// RegisterBulkSource makes a bulk pipeline available for imports under name.
func (c *Curator) RegisterBulkSource(name string, pipeline *etl.Pipeline) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bulk[name] = pipeline
}

// FetchQuote fetches a live quote through the source chain. A non-empty
// onlySource restricts the fetch to that single named source. It returns
// (nil, nil) when every candidate was exhausted without data; errors are
// reserved for invalid input.
func (c *Curator) FetchQuote(ctx context.Context, ticker, onlySource string) (*models.Quote, error) {
	ticker = normalizeTicker(ticker)
	if ticker == "" {
		return nil, fmt.Errorf("ticker is required")
	}

	if cached, ok := c.cache.Get(ticker); ok {
		c.stats.Inc("cache_hits")
		return cached, nil
	}

	payload, sourceName, ok := c.dispatcher.Fetch(ctx, sources.CapabilityQuote, sources.Params{Symbol: ticker}, onlySource)
	if !ok {
		c.stats.Inc("fetch_failures")
		return nil, nil
	}
	if payload.Quote == nil || payload.Quote.Price == nil {
		log.Printf("Source %s returned quote without price for %s, discarding", sourceName, ticker)
		c.stats.Inc("fetch_failures")
		return nil, nil
	}

	quote := normalizeQuote(ticker, sourceName, payload.Quote)
	c.stats.Inc("quotes_fetched")
	c.cache.Put(ticker, quote)

	if n, err := c.gateway.InsertQuotes(ctx, []models.Quote{quote}); err != nil {
		log.Printf("Failed to persist quote for %s: %v", ticker, err)
		c.stats.Inc("persist_failures")
	} else {
		c.stats.Add("quotes_persisted", int64(n))
	}

	if c.publisher != nil {
		c.publisher.PublishQuote(quote)
	}
	return &quote, nil
}

// FetchQuotesBatch fetches each ticker independently. Tickers with no data are
// omitted from the result rather than failing the batch.
func (c *Curator) FetchQuotesBatch(ctx context.Context, tickers []string) map[string]*models.Quote {
	results := make(map[string]*models.Quote, len(tickers))
	for _, ticker := range tickers {
		quote, err := c.FetchQuote(ctx, ticker, "")
		if err != nil || quote == nil {
			continue
		}
		results[quote.Ticker] = quote
	}
	return results
}

// FetchNews aggregates articles from every news-capable source, persisting
// each source's batch as it arrives. A non-nil since is passed through to the
// sources as a lower bound on publication time. The combined result keeps the
// order sources returned and is truncated to limit after aggregation.
func (c *Curator) FetchNews(ctx context.Context, ticker string, limit int, since *time.Time) ([]models.NewsArticle, error) {
	ticker = normalizeTicker(ticker)
	if limit <= 0 {
		limit = 10
	}

	params := sources.Params{Symbol: ticker, Limit: limit}
	if since != nil {
		params.Since = since.UTC().Format(time.RFC3339)
	}
	var combined []models.NewsArticle
	for _, src := range c.registry.WithCapability(sources.CapabilityNews) {
		payload, err := src.GetResource(ctx, sources.CapabilityNews, params)
		if err != nil {
			log.Printf("News source %s failed for %q: %v", src.Name(), ticker, err)
			if recordErr := c.gateway.RecordSourceError(ctx, src.Name(), err.Error()); recordErr != nil {
				log.Printf("Failed to record source error for %s: %v", src.Name(), recordErr)
			}
			continue
		}
		if payload.Empty() {
			continue
		}

		articles := normalizeArticles(src.Name(), payload.Articles)
		if _, err := c.gateway.InsertNews(ctx, articles); err != nil {
			log.Printf("Failed to persist news from %s: %v", src.Name(), err)
			c.stats.Inc("persist_failures")
		}
		if err := c.gateway.UpsertSourceHealth(ctx, src.Name(), models.SourceStatusActive); err != nil {
			log.Printf("Failed to update source health for %s: %v", src.Name(), err)
		}
		combined = append(combined, articles...)
	}

	if len(combined) > limit {
		combined = combined[:limit]
	}
	c.stats.Add("news_fetched", int64(len(combined)))
	return combined, nil
}

// FetchHistoricalData fetches OHLCV bars through the source chain and upserts
// them. It returns (nil, nil) when no source had data.
func (c *Curator) FetchHistoricalData(ctx context.Context, ticker, period, interval string) ([]models.Bar, error) {
	ticker = normalizeTicker(ticker)
	if ticker == "" {
		return nil, fmt.Errorf("ticker is required")
	}
	if interval == "" {
		interval = "1day"
	}

	params := sources.Params{Symbol: ticker, Period: period, Interval: interval}
	payload, sourceName, ok := c.dispatcher.Fetch(ctx, sources.CapabilityHistorical, params, "")
	if !ok {
		c.stats.Inc("fetch_failures")
		return nil, nil
	}

	bars := make([]models.Bar, 0, len(payload.Bars))
	for _, b := range payload.Bars {
		date, err := parseBarDate(b.Date)
		if err != nil {
			log.Printf("Skipping bar with bad date %q from %s: %v", b.Date, sourceName, err)
			continue
		}
		bar := models.Bar{
			Ticker:   ticker,
			Date:     date,
			Source:   sourceName,
			Interval: interval,
			Open:     decimal.NewFromFloat(b.Open),
			High:     decimal.NewFromFloat(b.High),
			Low:      decimal.NewFromFloat(b.Low),
			Close:    decimal.NewFromFloat(b.Close),
			Volume:   b.Volume,
		}
		if b.AdjClose != nil {
			bar.AdjClose = decimal.NewNullDecimal(decimal.NewFromFloat(*b.AdjClose))
		}
		bars = append(bars, bar)
	}

	if _, err := c.gateway.UpsertBars(ctx, bars); err != nil {
		log.Printf("Failed to persist bars for %s: %v", ticker, err)
		c.stats.Inc("persist_failures")
	}
	c.stats.Add("historical_bars_fetched", int64(len(bars)))
	return bars, nil
}

// GetQuote serves a quote preferring cache, then the durable store, then a
// live fetch. (nil, nil) means no quote anywhere.
func (c *Curator) GetQuote(ctx context.Context, ticker string) (*models.Quote, error) {
	ticker = normalizeTicker(ticker)
	if ticker == "" {
		return nil, fmt.Errorf("ticker is required")
	}

	if cached, ok := c.cache.Get(ticker); ok {
		c.stats.Inc("cache_hits")
		return cached, nil
	}

	stored, err := c.gateway.GetLatestQuote(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		return stored, nil
	}

	return c.FetchQuote(ctx, ticker, "")
}

// GetOHLCV reads stored bars.
func (c *Curator) GetOHLCV(ctx context.Context, ticker, interval string, limit int) ([]models.Bar, error) {
	return c.gateway.GetBars(ctx, normalizeTicker(ticker), interval, limit)
}

// SearchNews searches stored articles.
func (c *Curator) SearchNews(ctx context.Context, filter storage.NewsFilter) ([]models.NewsArticle, error) {
	filter.Ticker = normalizeTicker(filter.Ticker)
	return c.gateway.SearchNews(ctx, filter)
}

// AddToWatchlist registers tickers for the background worker to refresh.
// Tickers keep their insertion order; re-adding one is a no-op.
func (c *Curator) AddToWatchlist(tickers ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tickers {
		if t = normalizeTicker(t); t != "" && !c.watchlistSet[t] {
			c.watchlistSet[t] = true
			c.watchlist = append(c.watchlist, t)
		}
	}
}

// RemoveFromWatchlist drops tickers from the watchlist.
func (c *Curator) RemoveFromWatchlist(tickers ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tickers {
		t = normalizeTicker(t)
		if !c.watchlistSet[t] {
			continue
		}
		delete(c.watchlistSet, t)
		for i, existing := range c.watchlist {
			if existing == t {
				c.watchlist = append(c.watchlist[:i], c.watchlist[i+1:]...)
				break
			}
		}
	}
}

// Watchlist returns a snapshot of the watched tickers in insertion order.
func (c *Curator) Watchlist() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.watchlist...)
}

// GetStats returns the counters plus a few gauges.
func (c *Curator) GetStats() map[string]any {
	snapshot := c.stats.Snapshot()
	out := make(map[string]any, len(snapshot)+4)
	for k, v := range snapshot {
		out[k] = v
	}

	c.mu.RLock()
	out["watchlist_size"] = len(c.watchlist)
	c.mu.RUnlock()

	out["cache_size"] = c.cache.Len()
	out["worker_running"] = c.WorkerRunning()

	names := make([]string, 0, c.registry.Len())
	for _, src := range c.registry.All() {
		names = append(names, src.Name())
	}
	out["sources"] = names
	return out
}

// ClearCache drops every cached quote.
func (c *Curator) ClearCache() { c.cache.Clear() }

// HealthCheck reports whether the store is reachable and at least one source
// is configured.
func (c *Curator) HealthCheck(ctx context.Context) bool {
	return c.gateway.HealthCheck(ctx) && c.registry.Len() > 0
}

// ImportFromBulkSource runs an import against one registered bulk source.
// dataType may be empty for per-file auto-detection.
func (c *Curator) ImportFromBulkSource(ctx context.Context, name, prefix, dataType string) (*etl.ImportStats, error) {
	pipeline, err := c.bulkPipeline(name)
	if err != nil {
		return nil, err
	}

	c.stats.Inc("bulk_imports")
	stats, err := pipeline.ImportAll(ctx, prefix, dataType)
	if err != nil {
		c.stats.Inc("bulk_import_failures")
		return nil, err
	}

	c.stats.Add("bulk_quotes_imported", int64(stats.Quotes))
	c.stats.Add("bulk_ohlcv_imported", int64(stats.OHLCV))
	c.stats.Add("bulk_news_imported", int64(stats.News))
	if stats.FilesFailed > 0 {
		c.stats.Add("bulk_import_failures", int64(stats.FilesFailed))
	}
	return stats, nil
}

// ImportBulkQuotes imports the named files from a bulk source as quote files.
func (c *Curator) ImportBulkQuotes(ctx context.Context, name string, keys []string) (int, error) {
	pipeline, err := c.bulkPipeline(name)
	if err != nil {
		return 0, err
	}
	n, failed := pipeline.ImportQuotes(ctx, keys, true)
	c.stats.Add("bulk_quotes_imported", int64(n))
	if failed > 0 {
		c.stats.Add("bulk_import_failures", int64(failed))
	}
	return n, nil
}

// ImportBulkOHLCV imports the named files from a bulk source as bar files.
func (c *Curator) ImportBulkOHLCV(ctx context.Context, name string, keys []string) (int, error) {
	pipeline, err := c.bulkPipeline(name)
	if err != nil {
		return 0, err
	}
	n, failed := pipeline.ImportOHLCV(ctx, keys)
	c.stats.Add("bulk_ohlcv_imported", int64(n))
	if failed > 0 {
		c.stats.Add("bulk_import_failures", int64(failed))
	}
	return n, nil
}

// ImportBulkNews imports the named files from a bulk source as news files.
func (c *Curator) ImportBulkNews(ctx context.Context, name string, keys []string) (int, error) {
	pipeline, err := c.bulkPipeline(name)
	if err != nil {
		return 0, err
	}
	n, failed := pipeline.ImportNews(ctx, keys)
	c.stats.Add("bulk_news_imported", int64(n))
	if failed > 0 {
		c.stats.Add("bulk_import_failures", int64(failed))
	}
	return n, nil
}

// DescribeBulkFile probes one object's metadata in a bulk source. A missing
// object yields (nil, nil).
func (c *Curator) DescribeBulkFile(ctx context.Context, name, key string) (*storage.ObjectInfo, error) {
	pipeline, err := c.bulkPipeline(name)
	if err != nil {
		return nil, err
	}
	return pipeline.DescribeFile(ctx, key)
}

// ListBulkFiles lists the files a bulk source has under prefix, optionally
// filtered by suffix.
func (c *Curator) ListBulkFiles(ctx context.Context, name, prefix, suffix string) ([]string, error) {
	pipeline, err := c.bulkPipeline(name)
	if err != nil {
		return nil, err
	}
	return pipeline.ListFiles(ctx, prefix, suffix)
}

// BulkSourceNames returns the registered bulk source names, sorted.
func (c *Curator) BulkSourceNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.bulk))
	for name := range c.bulk {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Curator) bulkPipeline(name string) (*etl.Pipeline, error) {
	c.mu.RLock()
	pipeline, ok := c.bulk[name]
	c.mu.RUnlock()
	if !ok {
		return nil, &UnknownBulkSourceError{Name: name, Known: c.BulkSourceNames()}
	}
	return pipeline, nil
}

func normalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

func normalizeQuote(ticker, sourceName string, q *sources.QuoteData) models.Quote {
	quote := models.Quote{
		Ticker:    ticker,
		Timestamp: time.Now(),
		Price:     decimal.NewFromFloat(*q.Price),
		BidSize:   q.BidSize,
		AskSize:   q.AskSize,
		Volume:    q.Volume,
		Source:    sourceName,
		Metadata:  q.Raw,
	}
	if q.Bid != nil {
		quote.Bid = decimal.NewNullDecimal(decimal.NewFromFloat(*q.Bid))
	}
	if q.Ask != nil {
		quote.Ask = decimal.NewNullDecimal(decimal.NewFromFloat(*q.Ask))
	}
	return quote
}

func normalizeArticles(sourceName string, raw []sources.ArticleData) []models.NewsArticle {
	articles := make([]models.NewsArticle, 0, len(raw))
	for _, a := range raw {
		if strings.TrimSpace(a.Headline) == "" {
			continue
		}
		publishedAt, err := parseBarDate(a.PublishedAt)
		if err != nil {
			publishedAt = time.Now()
		}
		articles = append(articles, models.NewsArticle{
			Headline:       a.Headline,
			Source:         sourceName,
			PublishedAt:    publishedAt,
			Content:        a.Content,
			Summary:        a.Summary,
			URL:            a.URL,
			Tickers:        a.Tickers,
			SentimentScore: a.SentimentScore,
			SentimentLabel: a.SentimentLabel,
			Metadata:       a.Raw,
		})
	}
	return articles
}

func parseBarDate(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}
