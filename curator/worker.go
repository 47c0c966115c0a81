package curator

import (
	"context"
	"log"
	"time"

	"curator_backend/models"
)

// stopGracePeriod bounds how long StopWorker waits for the loop to exit.
const stopGracePeriod = 5 * time.Second

// StartWorker launches the background refresh loop. Calling it while a worker
// is already running is a logged no-op.
func (c *Curator) StartWorker(interval time.Duration) {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()

	if c.workerRunning {
		log.Println("Worker already running, ignoring start request")
		return
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}

	c.workerStop = make(chan struct{})
	c.workerDone = make(chan struct{})
	c.workerRunning = true

	go c.workerLoop(interval, c.workerStop, c.workerDone)
	log.Printf("Worker started with %s interval", interval)
}

// StopWorker signals the loop and waits up to the grace period for it to
// finish the in-flight cycle. Stopping a stopped worker is a no-op.
func (c *Curator) StopWorker() {
	c.workerMu.Lock()
	if !c.workerRunning {
		c.workerMu.Unlock()
		return
	}
	stop, done := c.workerStop, c.workerDone
	c.workerRunning = false
	c.workerMu.Unlock()

	close(stop)
	select {
	case <-done:
		log.Println("Worker stopped")
	case <-time.After(stopGracePeriod):
		log.Println("Worker did not stop within grace period, abandoning")
	}
}

// WorkerRunning reports whether the loop is active.
func (c *Curator) WorkerRunning() bool {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()
	return c.workerRunning
}

func (c *Curator) workerLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.runWorkerCycle()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.runWorkerCycle()
		}
	}
}

// runWorkerCycle refreshes every watched quote and pulls fresh market news.
// A panic in one cycle is logged and the loop carries on.
func (c *Curator) runWorkerCycle() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Worker cycle panicked: %v", r)
		}
	}()

	ctx := context.Background()
	tickers := c.Watchlist()
	if len(tickers) > 0 {
		quotes := c.FetchQuotesBatch(ctx, tickers)
		log.Printf("Worker refreshed %d/%d watchlist quotes", len(quotes), len(tickers))
	}

	if _, err := c.FetchNews(ctx, "", 20, nil); err != nil {
		log.Printf("Worker news fetch failed: %v", err)
	}

	// Mark every registered source active unless a fetch above said otherwise.
	for _, src := range c.registry.All() {
		if err := c.gateway.UpsertSourceHealth(ctx, src.Name(), models.SourceStatusActive); err != nil {
			log.Printf("Failed to refresh health for source %s: %v", src.Name(), err)
		}
	}
}
