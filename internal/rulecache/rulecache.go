// Package rulecache fetches, caches, and serves the per-(pts, processing
// entity) calculation rules that decide which settlements contribute to a
// group subtotal (spec.md §4.2). The cache is read by every concurrent
// ingestion; replacement is a single atomic swap of the map reference so
// readers never observe a partially updated map — the same "lock-free swap
// replaces cell-by-cell update" shape spec.md §9 calls out.
package rulecache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/colinzhu/limit-monitoring-sub000/internal/model"
)

// Provider is the external rule-provider contract: a fetch returning the
// finite list of per-(pts, pe) rules currently in force.
type Provider interface {
	FetchRules(ctx context.Context) ([]model.Rule, error)
}

func ruleKey(pts, pe string) string { return pts + ":" + pe }

// Cache serves Rule lookups with a default fallback and refreshes its
// backing map on a timer.
type Cache struct {
	provider Provider
	logger   *zap.Logger
	timeout  time.Duration

	current atomic.Pointer[map[string]model.Rule]
}

func New(provider Provider, logger *zap.Logger, fetchTimeout time.Duration) *Cache {
	c := &Cache{provider: provider, logger: logger, timeout: fetchTimeout}
	empty := map[string]model.Rule{}
	c.current.Store(&empty)
	return c
}

// Initialize performs the blocking first load. Process startup must not
// proceed past this call failing — spec.md §4.2/§4.7: "If initialization
// fails, the process exits with a fatal error."
func (c *Cache) Initialize(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rules, err := c.provider.FetchRules(fetchCtx)
	if err != nil {
		return model.NewFatalError("rule cache: initial load failed", err)
	}
	c.replace(rules)
	c.logger.Info("rule cache initialized", zap.Int("rule_count", len(rules)))
	return nil
}

// RunRefreshLoop attempts a refresh every interval until ctx is cancelled.
// A failed refresh is logged and the last-good map is retained — it never
// returns an error to its caller.
func (c *Cache) RunRefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshOnce(ctx)
		}
	}
}

func (c *Cache) refreshOnce(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.timeout

	var rules []model.Rule
	err := backoff.Retry(func() error {
		r, err := c.provider.FetchRules(fetchCtx)
		if err != nil {
			return err
		}
		rules = r
		return nil
	}, backoff.WithContext(bo, fetchCtx))

	if err != nil {
		c.logger.Warn("rule cache refresh failed, retaining last-good map", zap.Error(errors.Wrap(err, "rule provider fetch")))
		return
	}
	c.replace(rules)
	c.logger.Info("rule cache refreshed", zap.Int("rule_count", len(rules)))
}

func (c *Cache) replace(rules []model.Rule) {
	next := make(map[string]model.Rule, len(rules))
	for _, r := range rules {
		next[ruleKey(r.PTS, r.ProcessingEntity)] = r
	}
	c.current.Store(&next)
}

// Get returns the cached rule for (pts, pe), or the default rule if none is
// cached — never an error. A cache miss is logged at warn level.
func (c *Cache) Get(pts, pe string) model.Rule {
	m := *c.current.Load()
	if r, ok := m[ruleKey(pts, pe)]; ok {
		return r
	}
	c.logger.Warn("rule cache miss, using default rule", zap.String("pts", pts), zap.String("processing_entity", pe))
	return model.DefaultRule(pts, pe)
}
