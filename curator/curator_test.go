package curator

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"curator_backend/models"
	"curator_backend/sources"
)

func newTestCurator(gateway *fakeGateway, srcs ...sources.Source) *Curator {
	return NewCurator(mustRegistry(srcs...), gateway, 5*time.Minute)
}

func TestFetchQuoteCachesAndPersists(t *testing.T) {
	src := newFakeQuoteSource("alpha", 180.50)
	bid, ask := 180.40, 180.60
	src.payload.Quote.Bid = &bid
	src.payload.Quote.Ask = &ask

	gateway := newFakeGateway()
	cur := newTestCurator(gateway, src)

	quote, err := cur.FetchQuote(context.Background(), "aapl", "")
	if err != nil {
		t.Fatalf("FetchQuote: %v", err)
	}
	if quote == nil {
		t.Fatal("expected a quote")
	}
	if quote.Ticker != "AAPL" {
		t.Errorf("ticker = %q, want AAPL (normalized)", quote.Ticker)
	}
	if quote.Price.InexactFloat64() != 180.50 {
		t.Errorf("price = %v, want 180.50", quote.Price)
	}
	if !quote.Bid.Valid || quote.Bid.Decimal.InexactFloat64() != 180.40 {
		t.Errorf("bid = %v, want 180.40", quote.Bid)
	}
	if !quote.Ask.Valid || quote.Ask.Decimal.InexactFloat64() != 180.60 {
		t.Errorf("ask = %v, want 180.60", quote.Ask)
	}
	if quote.Volume != 1000000 {
		t.Errorf("volume = %d, want 1000000", quote.Volume)
	}
	if quote.Source != "alpha" {
		t.Errorf("source = %q, want alpha", quote.Source)
	}
	if gateway.quoteCount() != 1 {
		t.Errorf("persisted %d quotes, want 1", gateway.quoteCount())
	}

	// Second fetch must come from cache without touching the source
	again, err := cur.FetchQuote(context.Background(), "AAPL", "")
	if err != nil || again == nil {
		t.Fatalf("second FetchQuote: %v", err)
	}
	if src.callCount() != 1 {
		t.Errorf("source called %d times, want 1", src.callCount())
	}

	stats := cur.GetStats()
	if stats["cache_hits"] != int64(1) {
		t.Errorf("cache_hits = %v, want 1", stats["cache_hits"])
	}
	if stats["quotes_fetched"] != int64(1) {
		t.Errorf("quotes_fetched = %v, want 1", stats["quotes_fetched"])
	}
}

func TestFetchQuoteRejectsMissingPrice(t *testing.T) {
	src := &fakeSource{
		name:    "broken",
		caps:    sources.NewCapabilitySet(sources.CapabilityQuote),
		payload: &sources.Payload{Quote: &sources.QuoteData{Volume: 500}},
	}
	gateway := newFakeGateway()
	cur := newTestCurator(gateway, src)

	quote, err := cur.FetchQuote(context.Background(), "AAPL", "")
	if err != nil {
		t.Fatalf("FetchQuote: %v", err)
	}
	if quote != nil {
		t.Fatal("quote without price must be discarded")
	}
	if gateway.quoteCount() != 0 {
		t.Error("discarded quote must not be persisted")
	}
	if cur.GetStats()["fetch_failures"] != int64(1) {
		t.Error("expected fetch_failures to increment")
	}
	// And it must not poison the cache
	if _, ok := cur.cache.Get("AAPL"); ok {
		t.Error("discarded quote must not be cached")
	}
}

func TestFetchQuotePersistFailureIsBestEffort(t *testing.T) {
	src := newFakeQuoteSource("alpha", 42.0)
	gateway := newFakeGateway()
	gateway.insertQuotesErr = errors.New("disk full")
	cur := newTestCurator(gateway, src)

	quote, err := cur.FetchQuote(context.Background(), "AAPL", "")
	if err != nil {
		t.Fatalf("FetchQuote: %v", err)
	}
	if quote == nil {
		t.Fatal("persist failure must not drop the quote")
	}
	if cur.GetStats()["persist_failures"] != int64(1) {
		t.Error("expected persist_failures to increment")
	}
}

func TestFetchQuotesBatchIsolatesFailures(t *testing.T) {
	price := 10.0
	src := &fakeSource{
		name: "selective",
		caps: sources.NewCapabilitySet(sources.CapabilityQuote),
		payload: &sources.Payload{Quote: &sources.QuoteData{
			Price: &price,
		}},
	}
	gateway := newFakeGateway()
	cur := newTestCurator(gateway, src)

	// Pre-cache a quote for MSFT, then break the source: AAPL fails, MSFT
	// still comes back from cache.
	if q, _ := cur.FetchQuote(context.Background(), "MSFT", ""); q == nil {
		t.Fatal("seed fetch failed")
	}
	src.err = errors.New("upstream down")

	quotes := cur.FetchQuotesBatch(context.Background(), []string{"AAPL", "MSFT"})
	if len(quotes) != 1 {
		t.Fatalf("got %d quotes, want 1", len(quotes))
	}
	if _, ok := quotes["MSFT"]; !ok {
		t.Error("MSFT should be served from cache")
	}
}

func TestFetchQuoteFromNamedSource(t *testing.T) {
	first := newFakeQuoteSource("alpha", 100.0)
	second := newFakeQuoteSource("beta", 200.0)
	cur := newTestCurator(newFakeGateway(), first, second)

	quote, err := cur.FetchQuote(context.Background(), "AAPL", "beta")
	if err != nil {
		t.Fatalf("FetchQuote: %v", err)
	}
	if quote == nil || quote.Source != "beta" {
		t.Fatalf("got %+v, want a quote from beta", quote)
	}
	if first.callCount() != 0 {
		t.Error("alpha must not be consulted when beta is named explicitly")
	}
}

func TestFetchQuoteFromUnknownSource(t *testing.T) {
	src := newFakeQuoteSource("alpha", 100.0)
	cur := newTestCurator(newFakeGateway(), src)

	quote, err := cur.FetchQuote(context.Background(), "AAPL", "nonexistent")
	if err != nil {
		t.Fatalf("FetchQuote: %v", err)
	}
	if quote != nil {
		t.Fatal("unknown named source must exhaust, not fall back")
	}
	if src.callCount() != 0 {
		t.Error("alpha must not be consulted when another source is named")
	}
	if cur.GetStats()["fetch_failures"] != int64(1) {
		t.Error("expected fetch_failures to increment")
	}
}

func TestGetQuotePrefersStoreOverLiveFetch(t *testing.T) {
	src := newFakeQuoteSource("alpha", 300.0)
	gateway := newFakeGateway()
	gateway.quotes = append(gateway.quotes, models.Quote{Ticker: "AAPL", Source: "stored"})
	cur := newTestCurator(gateway, src)

	quote, err := cur.GetQuote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if quote == nil || quote.Source != "stored" {
		t.Fatalf("got %+v, want the stored quote", quote)
	}
	if src.callCount() != 0 {
		t.Error("live source must not be consulted when the store has data")
	}
}

func TestGetQuoteFallsBackToLiveFetch(t *testing.T) {
	src := newFakeQuoteSource("alpha", 300.0)
	cur := newTestCurator(newFakeGateway(), src)

	quote, err := cur.GetQuote(context.Background(), "NVDA")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if quote == nil || quote.Source != "alpha" {
		t.Fatalf("got %+v, want a live quote from alpha", quote)
	}
}

func TestFetchNewsAggregatesAllSources(t *testing.T) {
	score := 0.8
	mkNews := func(name string, headlines ...string) *fakeSource {
		articles := make([]sources.ArticleData, 0, len(headlines))
		for _, h := range headlines {
			articles = append(articles, sources.ArticleData{
				Headline:       h,
				PublishedAt:    "2026-08-20T10:00:00Z",
				SentimentScore: &score,
			})
		}
		return &fakeSource{
			name:    name,
			caps:    sources.NewCapabilitySet(sources.CapabilityNews),
			payload: &sources.Payload{Articles: articles},
		}
	}

	a := mkNews("wire-a", "Apple beats earnings", "Apple raises guidance")
	b := mkNews("wire-b", "Analysts upgrade Apple")
	broken := &fakeSource{
		name: "wire-c",
		caps: sources.NewCapabilitySet(sources.CapabilityNews),
		err:  errors.New("rate limited"),
	}

	gateway := newFakeGateway()
	cur := newTestCurator(gateway, a, broken, b)

	articles, err := cur.FetchNews(context.Background(), "AAPL", 10, nil)
	if err != nil {
		t.Fatalf("FetchNews: %v", err)
	}
	if len(articles) != 3 {
		t.Fatalf("got %d articles, want 3 from the two working wires", len(articles))
	}
	if gateway.errorCount("wire-c") != 1 {
		t.Error("broken wire should have a recorded error")
	}

	seen := map[string]bool{}
	for _, art := range articles {
		seen[art.Source] = true
	}
	if !seen["wire-a"] || !seen["wire-b"] {
		t.Errorf("articles carry sources %v, want both wires", seen)
	}
}

func TestFetchNewsTruncatesToLimit(t *testing.T) {
	articles := make([]sources.ArticleData, 5)
	for i := range articles {
		articles[i] = sources.ArticleData{
			Headline:    "headline " + string(rune('a'+i)),
			PublishedAt: "2026-08-20T10:00:00Z",
		}
	}
	src := &fakeSource{
		name:    "wire",
		caps:    sources.NewCapabilitySet(sources.CapabilityNews),
		payload: &sources.Payload{Articles: articles},
	}
	cur := newTestCurator(newFakeGateway(), src)

	got, err := cur.FetchNews(context.Background(), "AAPL", 2, nil)
	if err != nil {
		t.Fatalf("FetchNews: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d articles, want 2", len(got))
	}
}

func TestFetchNewsPreservesSourceOrder(t *testing.T) {
	src := &fakeSource{
		name: "wire",
		caps: sources.NewCapabilitySet(sources.CapabilityNews),
		payload: &sources.Payload{Articles: []sources.ArticleData{
			{Headline: "older story", PublishedAt: "2026-08-18T09:00:00Z"},
			{Headline: "newer story", PublishedAt: "2026-08-20T09:00:00Z"},
		}},
	}
	cur := newTestCurator(newFakeGateway(), src)

	// The wire returned the older story first; the pipeline must not reorder.
	got, err := cur.FetchNews(context.Background(), "AAPL", 10, nil)
	if err != nil {
		t.Fatalf("FetchNews: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d articles, want 2", len(got))
	}
	if got[0].Headline != "older story" || got[1].Headline != "newer story" {
		t.Errorf("order = [%s, %s], want source order preserved", got[0].Headline, got[1].Headline)
	}
}

func TestFetchNewsPassesSinceToSources(t *testing.T) {
	src := &fakeSource{
		name:    "wire",
		caps:    sources.NewCapabilitySet(sources.CapabilityNews),
		payload: &sources.Payload{Articles: []sources.ArticleData{{Headline: "story", PublishedAt: "2026-08-20T09:00:00Z"}}},
	}
	cur := newTestCurator(newFakeGateway(), src)

	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if _, err := cur.FetchNews(context.Background(), "AAPL", 10, &since); err != nil {
		t.Fatalf("FetchNews: %v", err)
	}
	if got := src.lastSeenParams().Since; got != "2026-08-01T00:00:00Z" {
		t.Errorf("Since = %q, want 2026-08-01T00:00:00Z", got)
	}
}

func TestFetchHistoricalDataUpserts(t *testing.T) {
	src := &fakeSource{
		name: "hist",
		caps: sources.NewCapabilitySet(sources.CapabilityHistorical),
		payload: &sources.Payload{Bars: []sources.BarData{
			{Date: "2026-08-19", Open: 100, High: 105, Low: 99, Close: 104, Volume: 500},
			{Date: "2026-08-20", Open: 104, High: 110, Low: 103, Close: 109, Volume: 600},
		}},
	}
	gateway := newFakeGateway()
	cur := newTestCurator(gateway, src)

	bars, err := cur.FetchHistoricalData(context.Background(), "aapl", "1M", "")
	if err != nil {
		t.Fatalf("FetchHistoricalData: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	if bars[0].Ticker != "AAPL" || bars[0].Source != "hist" || bars[0].Interval != "1day" {
		t.Errorf("bar not normalized: %+v", bars[0])
	}
	if len(gateway.bars) != 2 {
		t.Errorf("persisted %d bars, want 2", len(gateway.bars))
	}
}

func TestFetchHistoricalDataNoSource(t *testing.T) {
	cur := newTestCurator(newFakeGateway())
	bars, err := cur.FetchHistoricalData(context.Background(), "AAPL", "1M", "1day")
	if err != nil {
		t.Fatalf("FetchHistoricalData: %v", err)
	}
	if bars != nil {
		t.Error("expected nil bars when no source has data")
	}
}

func TestWatchlist(t *testing.T) {
	cur := newTestCurator(newFakeGateway())

	cur.AddToWatchlist("aapl", "MSFT", " nvda ", "AAPL")
	got := cur.Watchlist()
	want := []string{"AAPL", "MSFT", "NVDA"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Watchlist() = %v, want %v", got, want)
	}

	cur.RemoveFromWatchlist("msft")
	got = cur.Watchlist()
	want = []string{"AAPL", "NVDA"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("after remove: %v, want %v", got, want)
	}
}

func TestWatchlistPreservesInsertionOrder(t *testing.T) {
	cur := newTestCurator(newFakeGateway())

	cur.AddToWatchlist("msft", "aapl", "nvda")
	want := []string{"MSFT", "AAPL", "NVDA"}
	if got := cur.Watchlist(); !reflect.DeepEqual(got, want) {
		t.Errorf("Watchlist() = %v, want insertion order %v", got, want)
	}

	// Re-adding keeps the original position.
	cur.AddToWatchlist("MSFT")
	if got := cur.Watchlist(); !reflect.DeepEqual(got, want) {
		t.Errorf("after re-add: %v, want %v", got, want)
	}

	cur.RemoveFromWatchlist("aapl")
	want = []string{"MSFT", "NVDA"}
	if got := cur.Watchlist(); !reflect.DeepEqual(got, want) {
		t.Errorf("after remove: %v, want %v", got, want)
	}
}

func TestImportFromUnknownBulkSource(t *testing.T) {
	cur := newTestCurator(newFakeGateway())

	_, err := cur.ImportFromBulkSource(context.Background(), "warehouse", "", "")
	var unknown *UnknownBulkSourceError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want UnknownBulkSourceError", err)
	}
	if unknown.Name != "warehouse" {
		t.Errorf("Name = %q, want warehouse", unknown.Name)
	}
}

func TestHealthCheck(t *testing.T) {
	gateway := newFakeGateway()
	src := newFakeQuoteSource("alpha", 1.0)

	if !newTestCurator(gateway, src).HealthCheck(context.Background()) {
		t.Error("healthy gateway plus one source should be healthy")
	}
	if newTestCurator(gateway).HealthCheck(context.Background()) {
		t.Error("no sources must be unhealthy")
	}

	gateway.healthy = false
	if newTestCurator(gateway, src).HealthCheck(context.Background()) {
		t.Error("unreachable gateway must be unhealthy")
	}
}
