package runs

import (
	"context"
	"sync"

	"stride/core"
)

// Fetcher is the subset of Client the Refresher needs.
type Fetcher interface {
	ListRuns(ctx context.Context, userID string, limit int) ([]Run, error)
}

// Refresher re-fetches runs whenever Trigger is called. Triggers that arrive
// while a fetch is running collapse into one follow-up fetch.
type Refresher struct {
	fetcher Fetcher
	userID  string
	limit   int
	logger  *core.Logger

	// OnRuns receives every successful fetch.
	OnRuns func(runs []Run)

	trigger chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRefresher creates a Refresher; call Start to begin serving triggers.
func NewRefresher(fetcher Fetcher, userID string, limit int, logger *core.Logger) *Refresher {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Refresher{
		fetcher: fetcher,
		userID:  userID,
		limit:   limit,
		logger:  logger.With(map[string]interface{}{"component": "runs"}),
		trigger: make(chan struct{}, 1),
	}
}

// Start launches the refresh loop.
func (r *Refresher) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
}

// Trigger requests a refresh without blocking.
func (r *Refresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Stop ends the loop and waits for an in-flight fetch to return.
func (r *Refresher) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Refresher) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.trigger:
			runs, err := r.fetcher.ListRuns(ctx, r.userID, r.limit)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.With(map[string]interface{}{"error": err}).Warn("failed to refresh runs")
				}
				continue
			}
			r.logger.With(map[string]interface{}{"count": len(runs)}).Debug("runs refreshed")
			if r.OnRuns != nil {
				r.OnRuns(runs)
			}
		}
	}
}
