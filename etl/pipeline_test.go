package etl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"curator_backend/models"
	"curator_backend/storage"
)

// fakeObjectStore serves objects from a map.
type fakeObjectStore struct {
	objects map[string][]byte
	readErr map[string]error
}

func (s *fakeObjectStore) List(ctx context.Context, prefix, suffix string, maxKeys int) ([]string, error) {
	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) && (suffix == "" || strings.HasSuffix(key, suffix)) {
			keys = append(keys, key)
		}
	}
	// map order is random; tests that care sort or count
	return keys, nil
}

func (s *fakeObjectStore) ReadObject(ctx context.Context, key string) ([]byte, error) {
	if err := s.readErr[key]; err != nil {
		return nil, err
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (s *fakeObjectStore) HeadObject(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, nil
	}
	return &storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

// countingGateway tallies inserts without storing much.
type countingGateway struct {
	mu       sync.Mutex
	quotes   []models.Quote
	bars     []models.Bar
	articles []models.NewsArticle

	barBatches []int
	upsertErr  error
}

func (g *countingGateway) InsertQuotes(ctx context.Context, quotes []models.Quote) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quotes = append(g.quotes, quotes...)
	return len(quotes), nil
}

func (g *countingGateway) InsertNews(ctx context.Context, articles []models.NewsArticle) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.articles = append(g.articles, articles...)
	return len(articles), nil
}

func (g *countingGateway) UpsertBars(ctx context.Context, bars []models.Bar) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.upsertErr != nil {
		return 0, g.upsertErr
	}
	g.bars = append(g.bars, bars...)
	g.barBatches = append(g.barBatches, len(bars))
	return len(bars), nil
}

func (g *countingGateway) GetLatestQuote(ctx context.Context, ticker string) (*models.Quote, error) {
	return nil, nil
}
func (g *countingGateway) GetBars(ctx context.Context, ticker, interval string, limit int) ([]models.Bar, error) {
	return nil, nil
}
func (g *countingGateway) SearchNews(ctx context.Context, filter storage.NewsFilter) ([]models.NewsArticle, error) {
	return nil, nil
}
func (g *countingGateway) RecordSourceError(ctx context.Context, sourceName, message string) error {
	return nil
}
func (g *countingGateway) UpsertSourceHealth(ctx context.Context, sourceName, status string) error {
	return nil
}
func (g *countingGateway) HealthCheck(ctx context.Context) bool { return true }

func TestDetectDataType(t *testing.T) {
	cases := map[string]string{
		"exports/daily_bars.parquet":  DataTypeOHLCV,
		"exports/quotes_2026.json":    DataTypeQuotes,
		"exports/tick_data.ndjson":    DataTypeQuotes,
		"exports/news_feed.parquet":   DataTypeNews,
		"exports/articles_aug.json":   DataTypeNews,
		"exports/ohlcv_backfill.json": DataTypeOHLCV,
		"exports/metadata.json":       "",
		// quote wins over bar when both substrings match
		"exports/daily_quotes.json": DataTypeQuotes,
	}
	for key, want := range cases {
		if got := detectDataType(key); got != want {
			t.Errorf("detectDataType(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestImportAllAutoDetect(t *testing.T) {
	store := &fakeObjectStore{objects: map[string][]byte{
		"exports/daily_bars.parquet": []byte(`[
			{"ticker":"AAPL","date":"2026-08-19","open":100,"high":105,"low":99,"close":104,"volume":500},
			{"ticker":"AAPL","date":"2026-08-20","open":104,"high":110,"low":103,"close":109,"volume":600}
		]`),
		"exports/news_feed.parquet": []byte(`[
			{"headline":"Apple beats estimates","published_at":"2026-08-20T10:00:00Z","source":"wire"}
		]`),
	}}
	gateway := &countingGateway{}
	p := NewPipeline(store, gateway, "warehouse")

	stats, err := p.ImportAll(context.Background(), "exports/", "")
	if err != nil {
		t.Fatalf("ImportAll: %v", err)
	}
	if stats.FilesProcessed != 2 || stats.FilesFailed != 0 {
		t.Errorf("files processed=%d failed=%d, want 2/0", stats.FilesProcessed, stats.FilesFailed)
	}
	if stats.OHLCV != 2 {
		t.Errorf("OHLCV = %d, want 2", stats.OHLCV)
	}
	if stats.News != 1 {
		t.Errorf("News = %d, want 1", stats.News)
	}
	if len(gateway.bars) != 2 || len(gateway.articles) != 1 {
		t.Errorf("gateway got %d bars, %d articles", len(gateway.bars), len(gateway.articles))
	}
}

func TestImportAllSkipsUnknownFiles(t *testing.T) {
	store := &fakeObjectStore{objects: map[string][]byte{
		"exports/metadata.json": []byte(`{"schema":"v1"}`),
	}}
	p := NewPipeline(store, &countingGateway{}, "warehouse")

	stats, err := p.ImportAll(context.Background(), "exports/", "")
	if err != nil {
		t.Fatalf("ImportAll: %v", err)
	}
	if stats.FilesSkipped != 1 || stats.FilesProcessed != 0 || stats.FilesFailed != 0 {
		t.Errorf("skipped=%d processed=%d failed=%d, want 1/0/0",
			stats.FilesSkipped, stats.FilesProcessed, stats.FilesFailed)
	}
}

func TestImportQuotesDedupWithinFile(t *testing.T) {
	store := &fakeObjectStore{objects: map[string][]byte{
		"quotes.json": []byte(`[
			{"ticker":"AAPL","timestamp":"2026-08-20T10:00:00Z","price":180.5,"volume":100},
			{"ticker":"AAPL","timestamp":"2026-08-20T10:00:00Z","price":180.6,"volume":101},
			{"symbol":"MSFT","timestamp":"2026-08-20T10:00:00Z","price":400.0}
		]`),
	}}
	gateway := &countingGateway{}
	p := NewPipeline(store, gateway, "warehouse")

	stats, err := p.ImportAll(context.Background(), "", DataTypeQuotes)
	if err != nil {
		t.Fatalf("ImportAll: %v", err)
	}
	if stats.Quotes != 2 {
		t.Errorf("Quotes = %d, want 2 (duplicate dropped)", stats.Quotes)
	}

	var tickers []string
	for _, q := range gateway.quotes {
		tickers = append(tickers, q.Ticker)
	}
	want := map[string]bool{"AAPL": true, "MSFT": true}
	for _, tk := range tickers {
		if !want[tk] {
			t.Errorf("unexpected ticker %q", tk)
		}
	}
}

func TestImportHandlesNDJSON(t *testing.T) {
	store := &fakeObjectStore{objects: map[string][]byte{
		"quotes.ndjson": []byte(
			`{"ticker":"AAPL","timestamp":"2026-08-20T10:00:00Z","price":180.5}` + "\n" +
				`{"ticker":"MSFT","timestamp":"2026-08-20T10:00:00Z","price":400.0}` + "\n"),
	}}
	gateway := &countingGateway{}
	p := NewPipeline(store, gateway, "warehouse")

	stats, err := p.ImportAll(context.Background(), "", DataTypeQuotes)
	if err != nil {
		t.Fatalf("ImportAll: %v", err)
	}
	if stats.Quotes != 2 {
		t.Errorf("Quotes = %d, want 2", stats.Quotes)
	}
}

func TestImportSkipsRowsWithoutKeyFields(t *testing.T) {
	store := &fakeObjectStore{objects: map[string][]byte{
		"quotes.json": []byte(`[
			{"ticker":"AAPL","timestamp":"2026-08-20T10:00:00Z","price":180.5},
			{"timestamp":"2026-08-20T10:00:00Z","price":1.0},
			{"ticker":"NOPRICE","timestamp":"2026-08-20T10:00:00Z"}
		]`),
	}}
	gateway := &countingGateway{}
	p := NewPipeline(store, gateway, "warehouse")

	stats, err := p.ImportAll(context.Background(), "", DataTypeQuotes)
	if err != nil {
		t.Fatalf("ImportAll: %v", err)
	}
	if stats.Quotes != 1 {
		t.Errorf("Quotes = %d, want 1", stats.Quotes)
	}
}

func TestImportQuotesByKeyList(t *testing.T) {
	store := &fakeObjectStore{
		objects: map[string][]byte{
			"a.json": []byte(`[{"ticker":"AAPL","timestamp":"2026-08-20T10:00:00Z","price":1.0}]`),
			"b.json": []byte(`broken`),
		},
	}
	gateway := &countingGateway{}
	p := NewPipeline(store, gateway, "warehouse")

	imported, failed := p.ImportQuotes(context.Background(), []string{"a.json", "b.json", "missing.json"}, true)
	if imported != 1 {
		t.Errorf("imported = %d, want 1", imported)
	}
	if failed != 2 {
		t.Errorf("failed = %d, want 2 (broken parse and missing object)", failed)
	}
}

func TestListFilesSuffixFilter(t *testing.T) {
	store := &fakeObjectStore{objects: map[string][]byte{
		"exports/quotes.json": []byte(`[]`),
		"exports/readme.txt":  []byte(`hi`),
	}}
	p := NewPipeline(store, &countingGateway{}, "warehouse")

	keys, err := p.ListFiles(context.Background(), "exports/", ".json")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(keys) != 1 || keys[0] != "exports/quotes.json" {
		t.Errorf("keys = %v", keys)
	}
}

func TestImportPerFileFailureIsolation(t *testing.T) {
	store := &fakeObjectStore{
		objects: map[string][]byte{
			"a_quotes.json": []byte(`[{"ticker":"AAPL","timestamp":"2026-08-20T10:00:00Z","price":1.0}]`),
			"b_quotes.json": []byte(`not json at all`),
		},
	}
	gateway := &countingGateway{}
	p := NewPipeline(store, gateway, "warehouse")

	stats, err := p.ImportAll(context.Background(), "", DataTypeQuotes)
	if err != nil {
		t.Fatalf("ImportAll: %v", err)
	}
	if stats.FilesProcessed != 1 || stats.FilesFailed != 1 {
		t.Errorf("processed=%d failed=%d, want 1/1", stats.FilesProcessed, stats.FilesFailed)
	}
	if stats.Quotes != 1 {
		t.Errorf("Quotes = %d, want 1", stats.Quotes)
	}
}

func TestImportBarsKeepsIntradayAndPerSourceRows(t *testing.T) {
	// Two hourly AAPL bars on the same day plus a daily bar from a second
	// source. All three land on distinct (ticker, date, source) keys and
	// must reach the store.
	store := &fakeObjectStore{objects: map[string][]byte{
		"bars.json": []byte(`[
			{"ticker":"AAPL","date":"2026-08-20T10:00:00Z","interval":"1h","source":"alpha","open":100,"high":101,"low":99,"close":100.5,"volume":50},
			{"ticker":"AAPL","date":"2026-08-20T11:00:00Z","interval":"1h","source":"alpha","open":100.5,"high":102,"low":100,"close":101.5,"volume":60},
			{"ticker":"AAPL","date":"2026-08-20","interval":"1day","source":"beta","open":100,"high":102,"low":99,"close":101,"volume":500}
		]`),
	}}
	gateway := &countingGateway{}
	p := NewPipeline(store, gateway, "warehouse")

	imported, failed := p.ImportOHLCV(context.Background(), []string{"bars.json"})
	if failed != 0 {
		t.Fatalf("failed = %d, want 0", failed)
	}
	if imported != 3 {
		t.Fatalf("imported = %d, want 3 (2 intraday alpha + 1 daily beta)", imported)
	}
	if len(gateway.bars) != 3 {
		t.Fatalf("gateway got %d bars, want 3", len(gateway.bars))
	}
	sources := map[string]int{}
	for _, b := range gateway.bars {
		sources[b.Source]++
	}
	if sources["alpha"] != 2 || sources["beta"] != 1 {
		t.Errorf("bars by source = %v, want alpha:2 beta:1", sources)
	}
}

func TestImportBarsChunksBatches(t *testing.T) {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	var rows []string
	for i := 0; i < 2500; i++ {
		date := base.AddDate(0, 0, i).Format("2006-01-02")
		rows = append(rows, fmt.Sprintf(
			`{"ticker":"AAPL","date":"%s","open":1,"high":2,"low":0.5,"close":1.5,"volume":10}`, date))
	}
	store := &fakeObjectStore{objects: map[string][]byte{
		"bars.ndjson": []byte(strings.Join(rows, "\n")),
	}}
	gateway := &countingGateway{}
	p := NewPipeline(store, gateway, "warehouse")

	stats, err := p.ImportAll(context.Background(), "", DataTypeOHLCV)
	if err != nil {
		t.Fatalf("ImportAll: %v", err)
	}
	if stats.OHLCV != 2500 {
		t.Fatalf("OHLCV = %d, want 2500", stats.OHLCV)
	}
	for i, size := range gateway.barBatches {
		if size > defaultBatchSize {
			t.Errorf("batch %d has %d rows, exceeds %d", i, size, defaultBatchSize)
		}
	}
	if len(gateway.barBatches) != 3 {
		t.Errorf("got %d batches, want 3", len(gateway.barBatches))
	}
}
