package lease

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"collabcanvas/api/internal/logging"
	"collabcanvas/api/internal/metrics"
	"collabcanvas/api/internal/retry"
)

// Guard runs a mutation while holding the leases of every shape it
// touches, retrying with backoff while any of them is held elsewhere.
type Guard struct {
	manager Manager
	policy  retry.Policy
	logger  *zap.Logger
}

func NewGuard(manager Manager, policy retry.Policy, logger *zap.Logger) *Guard {
	return &Guard{
		manager: manager,
		policy:  policy,
		logger:  logging.OrNop(logger).Named("lease"),
	}
}

// Do acquires a lease for each id, runs fn, and releases every lease it
// took in that attempt whether fn succeeded or not. Only contention is
// retried; fn's own errors end the command at once. Exhausting the
// attempts yields a *ContentionError.
func (g *Guard) Do(ctx context.Context, ids []string, fn func(ctx context.Context) error) error {
	ids = dedupe(ids)
	attempts, err := retry.Do(ctx, g.policy, IsContention, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			metrics.RetryAttempts.Inc()
			g.logger.Debug("retrying after lease contention", zap.Int("attempt", attempt), zap.Strings("shape_ids", ids))
		}
		return g.attempt(ctx, ids, fn)
	})
	if err != nil && IsContention(err) {
		var contention *ContentionError
		if errors.As(err, &contention) {
			return err
		}
		g.logger.Info("giving up on busy shapes", zap.Strings("shape_ids", ids), zap.Int("attempts", attempts))
		return &ContentionError{IDs: ids, Attempts: attempts}
	}
	return err
}

func (g *Guard) attempt(ctx context.Context, ids []string, fn func(ctx context.Context) error) error {
	held := make([]Lease, 0, len(ids))
	defer func() {
		releaseCtx := context.WithoutCancel(ctx)
		for _, l := range held {
			if err := g.manager.Release(releaseCtx, l); err != nil {
				g.logger.Warn("release lease", zap.String("shape_id", l.ID), zap.Error(err))
			}
		}
	}()

	for _, id := range ids {
		l, err := g.manager.Acquire(ctx, id)
		if err != nil {
			if IsContention(err) {
				metrics.LeaseAcquisitions.WithLabelValues("held").Inc()
			} else {
				metrics.LeaseAcquisitions.WithLabelValues("error").Inc()
			}
			return err
		}
		metrics.LeaseAcquisitions.WithLabelValues("acquired").Inc()
		held = append(held, l)
	}
	return fn(ctx)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
