package curator

import (
	"context"
	"fmt"
	"sync"

	"curator_backend/models"
	"curator_backend/sources"
	"curator_backend/storage"
)

// fakeSource returns a canned payload or error for every call and counts how
// often it was asked.
type fakeSource struct {
	name    string
	caps    sources.CapabilitySet
	payload *sources.Payload
	err     error

	mu         sync.Mutex
	calls      int
	lastParams sources.Params
}

func newFakeQuoteSource(name string, price float64) *fakeSource {
	return &fakeSource{
		name: name,
		caps: sources.NewCapabilitySet(sources.CapabilityQuote),
		payload: &sources.Payload{Quote: &sources.QuoteData{
			Price:  &price,
			Volume: 1000000,
		}},
	}
}

func (s *fakeSource) Name() string                        { return s.name }
func (s *fakeSource) Capabilities() sources.CapabilitySet { return s.caps }

func (s *fakeSource) GetResource(ctx context.Context, resourceType sources.Capability, params sources.Params) (*sources.Payload, error) {
	s.mu.Lock()
	s.calls++
	s.lastParams = params
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.payload, nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeSource) lastSeenParams() sources.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastParams
}

// fakeGateway is an in-memory PersistenceGateway.
type fakeGateway struct {
	mu           sync.Mutex
	quotes       []models.Quote
	bars         []models.Bar
	articles     []models.NewsArticle
	sourceErrors map[string]int
	healthy      bool

	insertQuotesErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		sourceErrors: make(map[string]int),
		healthy:      true,
	}
}

func (g *fakeGateway) InsertQuotes(ctx context.Context, quotes []models.Quote) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.insertQuotesErr != nil {
		return 0, g.insertQuotesErr
	}
	g.quotes = append(g.quotes, quotes...)
	return len(quotes), nil
}

func (g *fakeGateway) InsertNews(ctx context.Context, articles []models.NewsArticle) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.articles = append(g.articles, articles...)
	return len(articles), nil
}

func (g *fakeGateway) UpsertBars(ctx context.Context, bars []models.Bar) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bars = append(g.bars, bars...)
	return len(bars), nil
}

func (g *fakeGateway) GetLatestQuote(ctx context.Context, ticker string) (*models.Quote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.quotes) - 1; i >= 0; i-- {
		if g.quotes[i].Ticker == ticker {
			quote := g.quotes[i]
			return &quote, nil
		}
	}
	return nil, nil
}

func (g *fakeGateway) GetBars(ctx context.Context, ticker, interval string, limit int) ([]models.Bar, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []models.Bar
	for _, b := range g.bars {
		if b.Ticker == ticker {
			out = append(out, b)
		}
	}
	return out, nil
}

func (g *fakeGateway) SearchNews(ctx context.Context, filter storage.NewsFilter) ([]models.NewsArticle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.NewsArticle(nil), g.articles...), nil
}

func (g *fakeGateway) RecordSourceError(ctx context.Context, sourceName, message string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sourceErrors[sourceName]++
	return nil
}

func (g *fakeGateway) UpsertSourceHealth(ctx context.Context, sourceName, status string) error {
	return nil
}

func (g *fakeGateway) HealthCheck(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.healthy
}

func (g *fakeGateway) quoteCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.quotes)
}

func (g *fakeGateway) errorCount(sourceName string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sourceErrors[sourceName]
}

func mustRegistry(srcs ...sources.Source) *sources.Registry {
	r, err := sources.NewRegistry(srcs...)
	if err != nil {
		panic(fmt.Sprintf("registry: %v", err))
	}
	return r
}
