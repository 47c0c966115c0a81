package sources

import (
	"context"
	"fmt"
)

// Capability identifies one kind of resource a source can serve.
type Capability string

const (
	CapabilityQuote      Capability = "quote"
	CapabilityHistorical Capability = "historical"
	CapabilityNews       Capability = "news"
)

// CapabilitySet is a small membership set of capabilities.
type CapabilitySet map[Capability]bool

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return set
}

// Has reports whether the set contains the capability.
func (s CapabilitySet) Has(c Capability) bool { return s[c] }

// Params carries request parameters for a resource fetch
// (symbol, period, interval, limit, since).
type Params struct {
	Symbol   string
	Period   string
	Interval string
	Limit    int
	Since    string
}

// QuoteData is the raw quote shape returned by a source before normalization.
type QuoteData struct {
	Price   *float64
	Bid     *float64
	Ask     *float64
	BidSize *int64
	AskSize *int64
	Volume  int64
	Raw     map[string]any
}

// BarData is one raw OHLCV bar returned by a source.
type BarData struct {
	Date     string
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
	AdjClose *float64
}

// ArticleData is one raw news article returned by a source.
type ArticleData struct {
	Headline       string
	Content        string
	Summary        string
	URL            string
	PublishedAt    string
	Tickers        []string
	SentimentScore *float64
	SentimentLabel string
	Raw            map[string]any
}

// Payload is the structured result of a GetResource call. Exactly one of the
// fields is populated depending on the requested resource type. A nil payload
// with a nil error means the source had no data, which is distinct from a
// source failure.
type Payload struct {
	Quote    *QuoteData
	Bars     []BarData
	Articles []ArticleData
}

// Empty reports whether the payload carries no data at all.
func (p *Payload) Empty() bool {
	return p == nil || (p.Quote == nil && len(p.Bars) == 0 && len(p.Articles) == 0)
}

// Source is a single upstream data provider.
type Source interface {
	Name() string
	Capabilities() CapabilitySet
	GetResource(ctx context.Context, resourceType Capability, params Params) (*Payload, error)
}

// Registry holds the configured sources in priority order. It is built once
// at startup and never mutated afterwards.
type Registry struct {
	ordered []Source
	byName  map[string]Source
}

// NewRegistry builds a registry from the given sources. Source names must be
// unique.
func NewRegistry(srcs ...Source) (*Registry, error) {
	r := &Registry{byName: make(map[string]Source, len(srcs))}
	for _, s := range srcs {
		if _, exists := r.byName[s.Name()]; exists {
			return nil, fmt.Errorf("duplicate source name: %s", s.Name())
		}
		r.byName[s.Name()] = s
		r.ordered = append(r.ordered, s)
	}
	return r, nil
}

// All returns the sources in registry order.
func (r *Registry) All() []Source { return r.ordered }

// Get returns the source with the given name, if registered.
func (r *Registry) Get(name string) (Source, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// WithCapability returns the sources advertising the capability, in registry
// order.
func (r *Registry) WithCapability(c Capability) []Source {
	var out []Source
	for _, s := range r.ordered {
		if s.Capabilities().Has(c) {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of registered sources.
func (r *Registry) Len() int { return len(r.ordered) }
