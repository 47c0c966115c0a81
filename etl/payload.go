package etl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Bulk export files are JSON, either one array per file or newline-delimited
// records. decodeRecords accepts both.
func decodeRecords[T any](data []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var records []T
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("failed to parse record array: %w", err)
		}
		return records, nil
	}

	var records []T
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var record T
		if err := json.Unmarshal([]byte(text), &record); err != nil {
			return nil, fmt.Errorf("failed to parse record on line %d: %w", line, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// quoteRecord is one quote row in a bulk export. Exports from different
// vendors disagree on the ticker field name.
type quoteRecord struct {
	Ticker    string         `json:"ticker"`
	Symbol    string         `json:"symbol"`
	Timestamp string         `json:"timestamp"`
	Price     *float64       `json:"price"`
	Bid       *float64       `json:"bid"`
	Ask       *float64       `json:"ask"`
	BidSize   *int64         `json:"bid_size"`
	AskSize   *int64         `json:"ask_size"`
	Volume    int64          `json:"volume"`
	Source    string         `json:"source"`
	Metadata  map[string]any `json:"metadata"`
}

func (r quoteRecord) ticker() string {
	if r.Ticker != "" {
		return r.Ticker
	}
	return r.Symbol
}

type barRecord struct {
	Ticker   string   `json:"ticker"`
	Symbol   string   `json:"symbol"`
	Date     string   `json:"date"`
	Interval string   `json:"interval"`
	Open     float64  `json:"open"`
	High     float64  `json:"high"`
	Low      float64  `json:"low"`
	Close    float64  `json:"close"`
	Volume   int64    `json:"volume"`
	AdjClose *float64 `json:"adj_close"`
	Source   string   `json:"source"`
}

func (r barRecord) ticker() string {
	if r.Ticker != "" {
		return r.Ticker
	}
	return r.Symbol
}

type articleRecord struct {
	Headline       string         `json:"headline"`
	Title          string         `json:"title"`
	Source         string         `json:"source"`
	PublishedAt    string         `json:"published_at"`
	Content        string         `json:"content"`
	Summary        string         `json:"summary"`
	URL            string         `json:"url"`
	Tickers        []string       `json:"tickers"`
	SentimentScore *float64       `json:"sentiment_score"`
	SentimentLabel string         `json:"sentiment_label"`
	Metadata       map[string]any `json:"metadata"`
}

func (r articleRecord) headline() string {
	if r.Headline != "" {
		return r.Headline
	}
	return r.Title
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseRecordTime(value string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}
