package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"curator_backend/curator"
)

// Scheduler manages the recurring curation jobs.
type Scheduler struct {
	cron *gocron.Scheduler
	cur  *curator.Curator
}

// NewScheduler creates a scheduler bound to the curator.
func NewScheduler(cur *curator.Curator) *Scheduler {
	return &Scheduler{
		cron: gocron.NewScheduler(time.UTC),
		cur:  cur,
	}
}

// Start registers all jobs and launches the scheduler.
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Refresh watchlist quotes every 5 minutes during market hours
	s.cron.Every(5).Minutes().Do(func() {
		if isMarketOpen() {
			s.refreshWatchlist()
		}
	})

	// Backfill daily bars at 16:00 (after market close)
	s.cron.Every(1).Day().At("16:00").Do(func() {
		s.backfillHistoricalData()
	})

	// Sweep bulk sources nightly at 02:00
	s.cron.Every(1).Day().At("02:00").Do(func() {
		s.runBulkImports()
	})

	// Probe store and source health every 10 minutes
	s.cron.Every(10).Minutes().Do(func() {
		s.probeHealth()
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// refreshWatchlist pulls a fresh quote for every watched ticker.
func (s *Scheduler) refreshWatchlist() {
	tickers := s.cur.Watchlist()
	if len(tickers) == 0 {
		return
	}
	log.Printf("Refreshing %d watchlist quotes...", len(tickers))
	quotes := s.cur.FetchQuotesBatch(context.Background(), tickers)
	log.Printf("Refreshed %d/%d watchlist quotes", len(quotes), len(tickers))
}

// backfillHistoricalData fetches the trailing month of daily bars for every
// watched ticker.
func (s *Scheduler) backfillHistoricalData() {
	log.Println("Backfilling daily historical data...")

	ctx := context.Background()
	for _, ticker := range s.cur.Watchlist() {
		bars, err := s.cur.FetchHistoricalData(ctx, ticker, "1M", "1day")
		if err != nil {
			log.Printf("Error backfilling %s: %v", ticker, err)
			continue
		}
		if bars == nil {
			log.Printf("No historical data available for %s", ticker)
		}
	}
}

// runBulkImports sweeps every registered bulk source with auto-detection.
func (s *Scheduler) runBulkImports() {
	ctx := context.Background()
	for _, name := range s.cur.BulkSourceNames() {
		log.Printf("Running bulk import from %s...", name)
		if _, err := s.cur.ImportFromBulkSource(ctx, name, "", ""); err != nil {
			log.Printf("Bulk import from %s failed: %v", name, err)
		}
	}
}

// probeHealth logs when the curator reports unhealthy.
func (s *Scheduler) probeHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if !s.cur.HealthCheck(ctx) {
		log.Println("Health probe failed: store unreachable or no sources configured")
	}
}

// isMarketOpen checks US equity market hours, Monday to Friday 9:30-16:00 ET.
func isMarketOpen() bool {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}

	minutes := now.Hour()*60 + now.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}
