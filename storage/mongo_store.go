package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shopspring/decimal"

	"curator_backend/models"
)

// MongoStore is the document-database PersistenceGateway. Decimal fields are
// stored as float64 documents since the decimal type has no BSON encoding.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects and ensures the uniqueness indexes exist.
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	store := &MongoStore{client: client, db: client.Database(dbName)}
	if err := store.ensureIndexes(ctx); err != nil {
		log.Printf("Warning: failed to create mongodb indexes: %v", err)
	}
	return store, nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	_, err := s.db.Collection("quotes").Indexes().CreateOne(indexCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "ticker", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	if err != nil {
		return err
	}

	unique := options.Index().SetUnique(true)
	_, err = s.db.Collection("daily_bars").Indexes().CreateOne(indexCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "ticker", Value: 1}, {Key: "date", Value: 1}, {Key: "source", Value: 1}},
		Options: unique,
	})
	if err != nil {
		return err
	}

	_, err = s.db.Collection("news_articles").Indexes().CreateOne(indexCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "headline", Value: 1}, {Key: "source", Value: 1}, {Key: "published_at", Value: 1}},
		Options: unique,
	})
	if err != nil {
		return err
	}

	_, err = s.db.Collection("source_health").Indexes().CreateOne(indexCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "source_name", Value: 1}},
		Options: unique,
	})
	return err
}

type quoteDoc struct {
	Ticker    string         `bson:"ticker"`
	Timestamp time.Time      `bson:"timestamp"`
	Price     float64        `bson:"price"`
	Bid       *float64       `bson:"bid,omitempty"`
	Ask       *float64       `bson:"ask,omitempty"`
	BidSize   *int64         `bson:"bid_size,omitempty"`
	AskSize   *int64         `bson:"ask_size,omitempty"`
	Volume    int64          `bson:"volume"`
	Source    string         `bson:"source"`
	Metadata  map[string]any `bson:"metadata,omitempty"`
	CreatedAt time.Time      `bson:"created_at"`
}

type barDoc struct {
	Ticker    string    `bson:"ticker"`
	Date      time.Time `bson:"date"`
	Source    string    `bson:"source"`
	Interval  string    `bson:"interval"`
	Open      float64   `bson:"open"`
	High      float64   `bson:"high"`
	Low       float64   `bson:"low"`
	Close     float64   `bson:"close"`
	Volume    int64     `bson:"volume"`
	AdjClose  *float64  `bson:"adj_close,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}

type articleDoc struct {
	Headline       string         `bson:"headline"`
	Source         string         `bson:"source"`
	PublishedAt    time.Time      `bson:"published_at"`
	Content        string         `bson:"content,omitempty"`
	Summary        string         `bson:"summary,omitempty"`
	URL            string         `bson:"url,omitempty"`
	Tickers        []string       `bson:"tickers,omitempty"`
	SentimentScore *float64       `bson:"sentiment_score,omitempty"`
	SentimentLabel string         `bson:"sentiment_label,omitempty"`
	Metadata       map[string]any `bson:"metadata,omitempty"`
	CreatedAt      time.Time      `bson:"created_at"`
}

type sourceHealthDoc struct {
	SourceName          string     `bson:"source_name"`
	Status              string     `bson:"status"`
	LastSuccessfulFetch *time.Time `bson:"last_successful_fetch,omitempty"`
	LastError           string     `bson:"last_error,omitempty"`
	ErrorCount          int64      `bson:"error_count"`
	UpdatedAt           time.Time  `bson:"updated_at"`
}

// InsertQuotes appends a batch of quotes.
func (s *MongoStore) InsertQuotes(ctx context.Context, quotes []models.Quote) (int, error) {
	if len(quotes) == 0 {
		return 0, nil
	}
	docs := make([]any, 0, len(quotes))
	now := time.Now()
	for _, q := range quotes {
		docs = append(docs, quoteDoc{
			Ticker:    q.Ticker,
			Timestamp: q.Timestamp,
			Price:     q.Price.InexactFloat64(),
			Bid:       nullDecimalPtr(q.Bid),
			Ask:       nullDecimalPtr(q.Ask),
			BidSize:   q.BidSize,
			AskSize:   q.AskSize,
			Volume:    q.Volume,
			Source:    q.Source,
			Metadata:  q.Metadata,
			CreatedAt: now,
		})
	}
	result, err := s.db.Collection("quotes").InsertMany(ctx, docs)
	if err != nil {
		return 0, fmt.Errorf("failed to insert quotes: %w", err)
	}
	return len(result.InsertedIDs), nil
}

// InsertNews inserts articles unordered so duplicate-key failures do not block
// the rest of the batch.
func (s *MongoStore) InsertNews(ctx context.Context, articles []models.NewsArticle) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}
	docs := make([]any, 0, len(articles))
	now := time.Now()
	for _, a := range articles {
		docs = append(docs, articleDoc{
			Headline:       a.Headline,
			Source:         a.Source,
			PublishedAt:    a.PublishedAt,
			Content:        a.Content,
			Summary:        a.Summary,
			URL:            a.URL,
			Tickers:        a.Tickers,
			SentimentScore: a.SentimentScore,
			SentimentLabel: a.SentimentLabel,
			Metadata:       a.Metadata,
			CreatedAt:      now,
		})
	}

	opts := options.InsertMany().SetOrdered(false)
	result, err := s.db.Collection("news_articles").InsertMany(ctx, docs, opts)
	inserted := 0
	if result != nil {
		inserted = len(result.InsertedIDs)
	}
	if err != nil {
		var bulkErr mongo.BulkWriteException
		if errors.As(err, &bulkErr) && allDuplicateKeys(bulkErr) {
			return inserted, nil
		}
		return inserted, fmt.Errorf("failed to insert news: %w", err)
	}
	return inserted, nil
}

func allDuplicateKeys(bulkErr mongo.BulkWriteException) bool {
	if len(bulkErr.WriteErrors) == 0 {
		return false
	}
	for _, we := range bulkErr.WriteErrors {
		if !mongo.IsDuplicateKeyError(we.WriteError) {
			return false
		}
	}
	return true
}

// UpsertBars replaces each bar document by its (ticker, date, source) key.
func (s *MongoStore) UpsertBars(ctx context.Context, bars []models.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	coll := s.db.Collection("daily_bars")
	now := time.Now()
	count := 0
	for _, b := range bars {
		doc := barDoc{
			Ticker:    b.Ticker,
			Date:      b.Date,
			Source:    b.Source,
			Interval:  b.Interval,
			Open:      b.Open.InexactFloat64(),
			High:      b.High.InexactFloat64(),
			Low:       b.Low.InexactFloat64(),
			Close:     b.Close.InexactFloat64(),
			Volume:    b.Volume,
			AdjClose:  nullDecimalPtr(b.AdjClose),
			CreatedAt: now,
		}
		filter := bson.M{"ticker": b.Ticker, "date": b.Date, "source": b.Source}
		_, err := coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
		if err != nil {
			return count, fmt.Errorf("failed to upsert bar for %s: %w", b.Ticker, err)
		}
		count++
	}
	return count, nil
}

// GetLatestQuote returns the most recent stored quote for the ticker.
func (s *MongoStore) GetLatestQuote(ctx context.Context, ticker string) (*models.Quote, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	var doc quoteDoc
	err := s.db.Collection("quotes").FindOne(ctx, bson.M{"ticker": ticker}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest quote for %s: %w", ticker, err)
	}

	quote := &models.Quote{
		Ticker:    doc.Ticker,
		Timestamp: doc.Timestamp,
		Price:     decimal.NewFromFloat(doc.Price),
		BidSize:   doc.BidSize,
		AskSize:   doc.AskSize,
		Volume:    doc.Volume,
		Source:    doc.Source,
		Metadata:  doc.Metadata,
		CreatedAt: doc.CreatedAt,
	}
	if doc.Bid != nil {
		quote.Bid = decimal.NewNullDecimal(decimal.NewFromFloat(*doc.Bid))
	}
	if doc.Ask != nil {
		quote.Ask = decimal.NewNullDecimal(decimal.NewFromFloat(*doc.Ask))
	}
	return quote, nil
}

// GetBars returns up to limit bars for the ticker and interval, newest first.
func (s *MongoStore) GetBars(ctx context.Context, ticker, interval string, limit int) ([]models.Bar, error) {
	filter := bson.M{"ticker": ticker}
	if interval != "" {
		filter["interval"] = interval
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.db.Collection("daily_bars").Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars for %s: %w", ticker, err)
	}
	defer cursor.Close(ctx)

	var bars []models.Bar
	for cursor.Next(ctx) {
		var doc barDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		bar := models.Bar{
			Ticker:   doc.Ticker,
			Date:     doc.Date,
			Source:   doc.Source,
			Interval: doc.Interval,
			Open:     decimal.NewFromFloat(doc.Open),
			High:     decimal.NewFromFloat(doc.High),
			Low:      decimal.NewFromFloat(doc.Low),
			Close:    decimal.NewFromFloat(doc.Close),
			Volume:   doc.Volume,
		}
		if doc.AdjClose != nil {
			bar.AdjClose = decimal.NewNullDecimal(decimal.NewFromFloat(*doc.AdjClose))
		}
		bars = append(bars, bar)
	}
	return bars, cursor.Err()
}

// SearchNews returns stored articles matching the filter, newest first.
func (s *MongoStore) SearchNews(ctx context.Context, filter NewsFilter) ([]models.NewsArticle, error) {
	query := bson.M{}
	if filter.Ticker != "" {
		query["tickers"] = filter.Ticker
	}
	if filter.Query != "" {
		query["headline"] = bson.M{"$regex": filter.Query, "$options": "i"}
	}
	if filter.Since != nil {
		query["published_at"] = bson.M{"$gte": *filter.Since}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	opts := options.Find().SetSort(bson.D{{Key: "published_at", Value: -1}}).SetLimit(int64(limit))

	cursor, err := s.db.Collection("news_articles").Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search news: %w", err)
	}
	defer cursor.Close(ctx)

	var articles []models.NewsArticle
	for cursor.Next(ctx) {
		var doc articleDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		articles = append(articles, models.NewsArticle{
			Headline:       doc.Headline,
			Source:         doc.Source,
			PublishedAt:    doc.PublishedAt,
			Content:        doc.Content,
			Summary:        doc.Summary,
			URL:            doc.URL,
			Tickers:        doc.Tickers,
			SentimentScore: doc.SentimentScore,
			SentimentLabel: doc.SentimentLabel,
			Metadata:       doc.Metadata,
			CreatedAt:      doc.CreatedAt,
		})
	}
	return articles, cursor.Err()
}

// RecordSourceError upserts the source document, bumping its error count.
func (s *MongoStore) RecordSourceError(ctx context.Context, sourceName, message string) error {
	update := bson.M{
		"$set": bson.M{
			"last_error": message,
			"updated_at": time.Now(),
		},
		"$setOnInsert": bson.M{"status": models.SourceStatusUnknown},
		"$inc":         bson.M{"error_count": 1},
	}
	_, err := s.db.Collection("source_health").UpdateOne(ctx,
		bson.M{"source_name": sourceName}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to record source error for %s: %w", sourceName, err)
	}
	return nil
}

// UpsertSourceHealth marks the source with the given status and refreshes its
// last-successful-fetch timestamp.
func (s *MongoStore) UpsertSourceHealth(ctx context.Context, sourceName, status string) error {
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"status":                status,
			"last_successful_fetch": now,
			"updated_at":            now,
		},
	}
	_, err := s.db.Collection("source_health").UpdateOne(ctx,
		bson.M{"source_name": sourceName}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert source health for %s: %w", sourceName, err)
	}
	return nil
}

// HealthCheck pings the server.
func (s *MongoStore) HealthCheck(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.client.Ping(pingCtx, nil) == nil
}

func nullDecimalPtr(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	v := d.Decimal.InexactFloat64()
	return &v
}
