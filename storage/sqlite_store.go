package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"curator_backend/models"
)

// SQLiteStore is the local-file PersistenceGateway used in development and
// single-node deployments.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database file and its tables.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) createTables() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS quotes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ticker TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			price REAL NOT NULL,
			bid REAL,
			ask REAL,
			bid_size INTEGER,
			ask_size INTEGER,
			volume INTEGER DEFAULT 0,
			source TEXT,
			metadata TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quotes_ticker_ts ON quotes(ticker, timestamp)`,
		`CREATE TABLE IF NOT EXISTS daily_bars (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ticker TEXT NOT NULL,
			date TIMESTAMP NOT NULL,
			source TEXT NOT NULL,
			interval TEXT DEFAULT '1day',
			open REAL, high REAL, low REAL, close REAL,
			volume INTEGER DEFAULT 0,
			adj_close REAL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(ticker, date, source)
		)`,
		`CREATE TABLE IF NOT EXISTS news_articles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			headline TEXT NOT NULL,
			source TEXT,
			published_at TIMESTAMP,
			content TEXT,
			summary TEXT,
			url TEXT,
			tickers TEXT,
			sentiment_score REAL,
			sentiment_label TEXT,
			metadata TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(headline, source, published_at)
		)`,
		`CREATE TABLE IF NOT EXISTS source_health (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_name TEXT NOT NULL UNIQUE,
			status TEXT DEFAULT 'unknown',
			last_successful_fetch TIMESTAMP,
			last_error TEXT,
			error_count INTEGER DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertQuotes appends a batch of quotes in a single transaction.
func (s *SQLiteStore) InsertQuotes(ctx context.Context, quotes []models.Quote) (int, error) {
	if len(quotes) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO quotes
		(ticker, timestamp, price, bid, ask, bid_size, ask_size, volume, source, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	count := 0
	for _, q := range quotes {
		metadata, _ := json.Marshal(q.Metadata)
		_, err := stmt.ExecContext(ctx,
			q.Ticker, q.Timestamp, q.Price.InexactFloat64(),
			nullDecimalValue(q.Bid), nullDecimalValue(q.Ask),
			q.BidSize, q.AskSize, q.Volume, q.Source, string(metadata))
		if err != nil {
			return count, fmt.Errorf("failed to insert quote for %s: %w", q.Ticker, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// InsertNews inserts articles with INSERT OR IGNORE duplicate-skip semantics.
func (s *SQLiteStore) InsertNews(ctx context.Context, articles []models.NewsArticle) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO news_articles
		(headline, source, published_at, content, summary, url, tickers, sentiment_score, sentiment_label, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	count := 0
	for _, a := range articles {
		tickers, _ := json.Marshal(a.Tickers)
		metadata, _ := json.Marshal(a.Metadata)
		result, err := stmt.ExecContext(ctx,
			a.Headline, a.Source, a.PublishedAt, a.Content, a.Summary, a.URL,
			string(tickers), a.SentimentScore, a.SentimentLabel, string(metadata))
		if err != nil {
			return count, fmt.Errorf("failed to insert article: %w", err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			count++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// UpsertBars inserts bars, overwriting the value columns on key conflict.
func (s *SQLiteStore) UpsertBars(ctx context.Context, bars []models.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO daily_bars
		(ticker, date, source, interval, open, high, low, close, volume, adj_close)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker, date, source) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			adj_close = excluded.adj_close,
			interval = excluded.interval`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	count := 0
	for _, b := range bars {
		_, err := stmt.ExecContext(ctx,
			b.Ticker, b.Date, b.Source, b.Interval,
			b.Open.InexactFloat64(), b.High.InexactFloat64(),
			b.Low.InexactFloat64(), b.Close.InexactFloat64(),
			b.Volume, nullDecimalValue(b.AdjClose))
		if err != nil {
			return count, fmt.Errorf("failed to upsert bar for %s: %w", b.Ticker, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// GetLatestQuote returns the most recent stored quote for the ticker.
func (s *SQLiteStore) GetLatestQuote(ctx context.Context, ticker string) (*models.Quote, error) {
	row := s.db.QueryRowContext(ctx, `SELECT ticker, timestamp, price, bid, ask,
		bid_size, ask_size, volume, source, metadata
		FROM quotes WHERE ticker = ? ORDER BY timestamp DESC LIMIT 1`, ticker)

	var q models.Quote
	var price float64
	var bid, ask sql.NullFloat64
	var bidSize, askSize sql.NullInt64
	var metadata sql.NullString
	err := row.Scan(&q.Ticker, &q.Timestamp, &price, &bid, &ask,
		&bidSize, &askSize, &q.Volume, &q.Source, &metadata)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest quote for %s: %w", ticker, err)
	}

	q.Price = decimal.NewFromFloat(price)
	if bid.Valid {
		q.Bid = decimal.NewNullDecimal(decimal.NewFromFloat(bid.Float64))
	}
	if ask.Valid {
		q.Ask = decimal.NewNullDecimal(decimal.NewFromFloat(ask.Float64))
	}
	if bidSize.Valid {
		q.BidSize = &bidSize.Int64
	}
	if askSize.Valid {
		q.AskSize = &askSize.Int64
	}
	if metadata.Valid && metadata.String != "" {
		_ = json.Unmarshal([]byte(metadata.String), &q.Metadata)
	}
	return &q, nil
}

// GetBars returns up to limit bars for the ticker and interval, newest first.
func (s *SQLiteStore) GetBars(ctx context.Context, ticker, interval string, limit int) ([]models.Bar, error) {
	query := `SELECT ticker, date, source, interval, open, high, low, close, volume, adj_close
		FROM daily_bars WHERE ticker = ?`
	args := []any{ticker}
	if interval != "" {
		query += ` AND interval = ?`
		args = append(args, interval)
	}
	query += ` ORDER BY date DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars for %s: %w", ticker, err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var b models.Bar
		var open, high, low, closePrice float64
		var adjClose sql.NullFloat64
		if err := rows.Scan(&b.Ticker, &b.Date, &b.Source, &b.Interval,
			&open, &high, &low, &closePrice, &b.Volume, &adjClose); err != nil {
			return nil, err
		}
		b.Open = decimal.NewFromFloat(open)
		b.High = decimal.NewFromFloat(high)
		b.Low = decimal.NewFromFloat(low)
		b.Close = decimal.NewFromFloat(closePrice)
		if adjClose.Valid {
			b.AdjClose = decimal.NewNullDecimal(decimal.NewFromFloat(adjClose.Float64))
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// SearchNews returns stored articles matching the filter, newest first.
func (s *SQLiteStore) SearchNews(ctx context.Context, filter NewsFilter) ([]models.NewsArticle, error) {
	query := `SELECT headline, source, published_at, content, summary, url,
		tickers, sentiment_score, sentiment_label
		FROM news_articles WHERE 1=1`
	var args []any
	if filter.Ticker != "" {
		query += ` AND tickers LIKE ?`
		args = append(args, `%"`+filter.Ticker+`"%`)
	}
	if filter.Query != "" {
		query += ` AND headline LIKE ?`
		args = append(args, "%"+filter.Query+"%")
	}
	if filter.Since != nil {
		query += ` AND published_at >= ?`
		args = append(args, *filter.Since)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	query += ` ORDER BY published_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search news: %w", err)
	}
	defer rows.Close()

	var articles []models.NewsArticle
	for rows.Next() {
		var a models.NewsArticle
		var tickers sql.NullString
		var score sql.NullFloat64
		var label sql.NullString
		if err := rows.Scan(&a.Headline, &a.Source, &a.PublishedAt, &a.Content,
			&a.Summary, &a.URL, &tickers, &score, &label); err != nil {
			return nil, err
		}
		if tickers.Valid && tickers.String != "" {
			_ = json.Unmarshal([]byte(tickers.String), &a.Tickers)
		}
		if score.Valid {
			v := score.Float64
			a.SentimentScore = &v
		}
		if label.Valid {
			a.SentimentLabel = label.String
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// RecordSourceError upserts the source row, bumping its error count.
func (s *SQLiteStore) RecordSourceError(ctx context.Context, sourceName, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO source_health
		(source_name, status, last_error, error_count, updated_at)
		VALUES (?, 'unknown', ?, 1, ?)
		ON CONFLICT(source_name) DO UPDATE SET
			last_error = excluded.last_error,
			error_count = source_health.error_count + 1,
			updated_at = excluded.updated_at`,
		sourceName, message, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record source error for %s: %w", sourceName, err)
	}
	return nil
}

// UpsertSourceHealth marks the source with the given status and refreshes its
// last-successful-fetch timestamp.
func (s *SQLiteStore) UpsertSourceHealth(ctx context.Context, sourceName, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO source_health
		(source_name, status, last_successful_fetch, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source_name) DO UPDATE SET
			status = excluded.status,
			last_successful_fetch = excluded.last_successful_fetch,
			updated_at = excluded.updated_at`,
		sourceName, status, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert source health for %s: %w", sourceName, err)
	}
	return nil
}

// HealthCheck pings the database file.
func (s *SQLiteStore) HealthCheck(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// nullDecimalValue converts a nullable decimal into a driver-friendly value.
func nullDecimalValue(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.InexactFloat64()
}
