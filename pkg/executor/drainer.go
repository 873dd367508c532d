package executor

import (
	"context"

	"golang.org/x/time/rate"
)

// drainBatch is how many queued operations one Drain call pulls.
const drainBatch = 25

// kickDrain schedules a queue drain for a recovered service. When the
// drain channel is backed up the service is remembered instead of dropped,
// and the sweeper retries it on its next tick.
func (e *Executor) kickDrain(service string) {
	select {
	case e.drains <- service:
		e.mu.Lock()
		delete(e.pendingDrain, service)
		e.mu.Unlock()
	default:
		e.mu.Lock()
		e.pendingDrain[service] = struct{}{}
		e.mu.Unlock()
	}
}

// flushPendingDrains re-kicks every service whose drain signal was dropped.
func (e *Executor) flushPendingDrains() {
	e.mu.Lock()
	services := make([]string, 0, len(e.pendingDrain))
	for s := range e.pendingDrain {
		services = append(services, s)
	}
	e.mu.Unlock()

	for _, s := range services {
		e.kickDrain(s)
	}
}

// drainer replays queued operations after a service recovers. Replays go
// through the full pipeline again, approval re-check and gate included,
// paced by a rate limiter so a recovering service is not flooded. One
// service draining slowly never blocks another: each drain request is
// handled to completion but services queue independently and a failed
// replay re-queues rather than stalling the loop.
func (e *Executor) drainer(ctx context.Context) {
	defer e.wg.Done()

	limit := rate.Limit(e.cfg.DrainRate)
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := e.cfg.DrainBurst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)

	for {
		select {
		case <-ctx.Done():
			return
		case service := <-e.drains:
			e.drainService(ctx, service, limiter)
		}
	}
}

func (e *Executor) drainService(ctx context.Context, service string, limiter *rate.Limiter) {
	for {
		if e.deps.Tracker != nil && e.deps.Tracker.IsDegraded(service) {
			return
		}

		ops, err := e.deps.Queue.Drain(ctx, service, drainBatch)
		if err != nil || len(ops) == 0 {
			return
		}

		for _, op := range ops {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			if e.isCancelled(op.Request.ID) {
				continue
			}
			e.process(ctx, task{req: op.Request, attempts: op.Attempts, replayed: true})
		}
	}
}
