package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"go.uber.org/zap"
)

// Locker hands out a short-lived cluster-wide lock. ok is false when another holder
// has it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

const resumerLockKey = "lock:orders:intent-resumer"

// Resumer re-runs intents left pending by a failed or interrupted request. Only the
// replica holding the lock sweeps.
type Resumer struct {
	Store    Store
	Executor *Executor
	Locker   Locker
	Interval time.Duration
	// MinAge leaves fresh intents to the request that created them.
	MinAge time.Duration
	Batch  int
}

// Run sweeps every Interval until ctx is done. A zero Interval disables it.
func (r *Resumer) Run(ctx context.Context) {
	if r.Interval <= 0 {
		return
	}
	log := logging.FromContext(ctx)
	t := time.NewTicker(r.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := r.Sweep(ctx); err != nil {
				log.Warn("intent_sweep_failed", zap.Error(err))
			} else if n > 0 {
				log.Info("intent_sweep_done", zap.Int("completed", n))
			}
		}
	}
}

// Sweep runs one pass and reports how many intents completed.
func (r *Resumer) Sweep(ctx context.Context) (int, error) {
	if r.Locker != nil {
		ttl := r.Interval
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		release, ok, err := r.Locker.TryLock(ctx, resumerLockKey, ttl)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
		defer func() { _ = release(context.Background()) }()
	}

	pending, err := r.Store.PendingIntents(ctx, r.Batch)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, in := range pending {
		if ctx.Err() != nil {
			break
		}
		if time.Since(in.UpdatedAt) < r.MinAge {
			continue
		}
		if err := r.Executor.Run(ctx, in); err == nil {
			done++
		}
	}
	return done, nil
}
