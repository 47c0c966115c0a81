package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// RESTSource fetches market data from a vendor-neutral REST endpoint. The
// concrete vendor adapters all expose the same three routes:
//
//	GET {base}/quote?symbol=AAPL
//	GET {base}/historical?symbol=AAPL&period=1M&interval=1day
//	GET {base}/news?symbol=AAPL&limit=10&since=...
type RESTSource struct {
	name    string
	caps    CapabilitySet
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRESTSource creates a REST-backed source with the given capability set.
func NewRESTSource(name, baseURL, apiKey string, caps CapabilitySet) *RESTSource {
	return &RESTSource{
		name:    name,
		caps:    caps,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns the configured source name.
func (s *RESTSource) Name() string { return s.name }

// Capabilities returns the advertised capability set.
func (s *RESTSource) Capabilities() CapabilitySet { return s.caps }

// restQuote mirrors the quote JSON the upstream endpoints return.
type restQuote struct {
	Price   *float64 `json:"price"`
	Bid     *float64 `json:"bid"`
	Ask     *float64 `json:"ask"`
	BidSize *int64   `json:"bid_size"`
	AskSize *int64   `json:"ask_size"`
	Volume  int64    `json:"volume"`
}

type restBar struct {
	Date     string   `json:"date"`
	Open     float64  `json:"open"`
	High     float64  `json:"high"`
	Low      float64  `json:"low"`
	Close    float64  `json:"close"`
	Volume   int64    `json:"volume"`
	AdjClose *float64 `json:"adj_close"`
}

type restArticle struct {
	Headline       string   `json:"headline"`
	Content        string   `json:"content"`
	Summary        string   `json:"summary"`
	URL            string   `json:"url"`
	PublishedAt    string   `json:"published_at"`
	Tickers        []string `json:"tickers"`
	SentimentScore *float64 `json:"sentiment_score"`
	SentimentLabel string   `json:"sentiment_label"`
}

// GetResource fetches one resource from the upstream endpoint. A 404 or an
// empty body is reported as "no data" (nil payload, nil error); everything
// else non-2xx is a source failure.
func (s *RESTSource) GetResource(ctx context.Context, resourceType Capability, params Params) (*Payload, error) {
	if !s.caps.Has(resourceType) {
		return nil, fmt.Errorf("source %s does not support resource %s", s.name, resourceType)
	}

	body, status, err := s.get(ctx, string(resourceType), params)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound || len(body) == 0 {
		return nil, nil
	}

	switch resourceType {
	case CapabilityQuote:
		var q restQuote
		if err := json.Unmarshal(body, &q); err != nil {
			return nil, fmt.Errorf("failed to parse quote response: %w", err)
		}
		var raw map[string]any
		_ = json.Unmarshal(body, &raw)
		return &Payload{Quote: &QuoteData{
			Price:   q.Price,
			Bid:     q.Bid,
			Ask:     q.Ask,
			BidSize: q.BidSize,
			AskSize: q.AskSize,
			Volume:  q.Volume,
			Raw:     raw,
		}}, nil

	case CapabilityHistorical:
		var bars []restBar
		if err := json.Unmarshal(body, &bars); err != nil {
			return nil, fmt.Errorf("failed to parse historical response: %w", err)
		}
		out := make([]BarData, 0, len(bars))
		for _, b := range bars {
			out = append(out, BarData{
				Date:     b.Date,
				Open:     b.Open,
				High:     b.High,
				Low:      b.Low,
				Close:    b.Close,
				Volume:   b.Volume,
				AdjClose: b.AdjClose,
			})
		}
		return &Payload{Bars: out}, nil

	case CapabilityNews:
		var articles []restArticle
		if err := json.Unmarshal(body, &articles); err != nil {
			return nil, fmt.Errorf("failed to parse news response: %w", err)
		}
		out := make([]ArticleData, 0, len(articles))
		for _, a := range articles {
			out = append(out, ArticleData{
				Headline:       a.Headline,
				Content:        a.Content,
				Summary:        a.Summary,
				URL:            a.URL,
				PublishedAt:    a.PublishedAt,
				Tickers:        a.Tickers,
				SentimentScore: a.SentimentScore,
				SentimentLabel: a.SentimentLabel,
			})
		}
		return &Payload{Articles: out}, nil
	}

	return nil, fmt.Errorf("unknown resource type: %s", resourceType)
}

// get performs the HTTP request and returns the body and status code.
func (s *RESTSource) get(ctx context.Context, path string, params Params) ([]byte, int, error) {
	q := url.Values{}
	if params.Symbol != "" {
		q.Set("symbol", params.Symbol)
	}
	if params.Period != "" {
		q.Set("period", params.Period)
	}
	if params.Interval != "" {
		q.Set("interval", params.Interval)
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Since != "" {
		q.Set("since", params.Since)
	}

	reqURL := fmt.Sprintf("%s/%s", s.baseURL, path)
	if encoded := q.Encode(); encoded != "" {
		reqURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, err
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch from %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return nil, resp.StatusCode, fmt.Errorf("%s returned status %d", s.name, resp.StatusCode)
	}

	return body, resp.StatusCode, nil
}

// SourceConfig is one entry in the sources JSON config file.
type SourceConfig struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	BaseURL      string   `json:"base_url"`
	APIKey       string   `json:"api_key"`
	APIKeyEnv    string   `json:"api_key_env"`
	Capabilities []string `json:"capabilities"`
}

// LoadRegistry reads the sources config file and builds the registry.
// Missing file is not an error: the curator can run with zero sources,
// it just fails its health check.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("No sources config at %s, starting with empty registry", path)
			return NewRegistry()
		}
		return nil, fmt.Errorf("failed to read sources config: %w", err)
	}

	var configs []SourceConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("failed to parse sources config: %w", err)
	}

	var srcs []Source
	for _, c := range configs {
		if c.Type != "" && c.Type != "rest" {
			log.Printf("Skipping source %s: unknown type %q", c.Name, c.Type)
			continue
		}
		caps := make(CapabilitySet)
		for _, name := range c.Capabilities {
			switch Capability(name) {
			case CapabilityQuote, CapabilityHistorical, CapabilityNews:
				caps[Capability(name)] = true
			default:
				log.Printf("Source %s advertises unknown capability %q, ignoring", c.Name, name)
			}
		}
		apiKey := c.APIKey
		if c.APIKeyEnv != "" {
			apiKey = os.Getenv(c.APIKeyEnv)
		}
		srcs = append(srcs, NewRESTSource(c.Name, c.BaseURL, apiKey, caps))
	}

	return NewRegistry(srcs...)
}
