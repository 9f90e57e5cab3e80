/*
ticker.go - Background maturation ticker

PURPOSE:
  Periodically sweeps every known user for refill slots that have matured
  and midnight boundaries that were crossed, and applies them through the
  pool. Reads on GetState apply the same maturations lazily; the ticker
  exists so hearts come back even for users nobody is looking at.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Delegates entirely to Pool.ProcessDue, which is idempotent: the ticker,
    lazy reads, and redundant admin sweeps all converge via deterministic
    transaction ids and ledger dedup
  - Errors are logged and skipped; one bad user never stops the sweep

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 minute)
  - Enabled: Whether the ticker is active (default: true)

USAGE:
  ticker := NewMaturationTicker(pool, users)
  ticker.Start()
  // ... later
  ticker.Stop()

SEE ALSO:
  - handlers.go: ProcessDue endpoint (manual sweep)
  - hearts/pool.go: ProcessDue semantics
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pulse/hearts-engine/hearts"
)

// MaturationTicker applies due refills and midnight resets in the background.
type MaturationTicker struct {
	Pool          *hearts.Pool
	Users         hearts.UserStore
	Clock         hearts.Clock
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewMaturationTicker creates a new ticker.
func NewMaturationTicker(pool *hearts.Pool, users hearts.UserStore) *MaturationTicker {
	return &MaturationTicker{
		Pool:          pool,
		Users:         users,
		Clock:         hearts.SystemClock{},
		CheckInterval: 1 * time.Minute,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the ticker.
func (mt *MaturationTicker) Start() {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	if !mt.Enabled {
		log.Println("[Ticker] Disabled, not starting")
		return
	}

	mt.ticker = time.NewTicker(mt.CheckInterval)
	mt.wg.Add(1)

	go mt.run()

	log.Printf("[Ticker] Started with check interval: %v", mt.CheckInterval)
}

// Stop stops the ticker.
func (mt *MaturationTicker) Stop() {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	if mt.ticker != nil {
		mt.ticker.Stop()
		close(mt.stop)
		mt.wg.Wait()
		log.Println("[Ticker] Stopped")
	}
}

func (mt *MaturationTicker) run() {
	defer mt.wg.Done()

	// Run immediately on start
	mt.sweep()

	for {
		select {
		case <-mt.ticker.C:
			mt.sweep()
		case <-mt.stop:
			return
		}
	}
}

func (mt *MaturationTicker) sweep() {
	ctx := context.Background()
	now := mt.Clock.Now()

	users, err := mt.Users.ListUsers(ctx)
	if err != nil {
		log.Printf("[Ticker] Error listing users: %v", err)
		return
	}

	resets := 0
	refills := 0
	for _, u := range users {
		res, err := mt.Pool.ProcessDue(ctx, u.UserID, now)
		if err != nil {
			log.Printf("[Ticker] Error processing user %s: %v", u.UserID, err)
			continue
		}
		if res.MidnightReset {
			resets++
		}
		refills += res.RefilledSlots
	}

	if resets > 0 || refills > 0 {
		log.Printf("[Ticker] Swept %d users: %d midnight resets, %d refills", len(users), resets, refills)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (mt *MaturationTicker) RunNow() {
	mt.sweep()
}
