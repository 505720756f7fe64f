// Package ratesource is the external exchange-rate provider contract and
// the periodic job that keeps the persisted EXCHANGE_RATE table current.
// It mirrors internal/rulecache's fetch/refresh shape (spec.md §4.7: a
// refresh failure is logged and the existing rows are left untouched) but
// the authoritative copy lives in Postgres, not an in-process map, because
// the subtotal engine's MERGE joins against it directly.
package ratesource

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/colinzhu/limit-monitoring-sub000/internal/model"
	"github.com/colinzhu/limit-monitoring-sub000/internal/store"
)

// Provider is the external exchange-rate lookup contract: a fetch returning
// every currency's rate to USD currently known.
type Provider interface {
	FetchRates(ctx context.Context) ([]model.ExchangeRate, error)
}

type Refresher struct {
	provider Provider
	rates    *store.ExchangeRateStore
	db       *store.DB
	logger   *zap.Logger
	timeout  time.Duration
}

func NewRefresher(provider Provider, rates *store.ExchangeRateStore, db *store.DB, logger *zap.Logger, timeout time.Duration) *Refresher {
	return &Refresher{provider: provider, rates: rates, db: db, logger: logger, timeout: timeout}
}

// Initialize performs a best-effort first load. Unlike the rule cache, a
// failure here is not fatal: spec.md §4.7 treats a missing exchange rate as
// USD pass-through, so an empty table is a degraded-but-valid start state.
func (r *Refresher) Initialize(ctx context.Context) {
	r.refreshOnce(ctx)
}

func (r *Refresher) RunRefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshOnce(ctx)
		}
	}
}

func (r *Refresher) refreshOnce(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = r.timeout

	var rates []model.ExchangeRate
	err := backoff.Retry(func() error {
		fetched, err := r.provider.FetchRates(fetchCtx)
		if err != nil {
			return err
		}
		rates = fetched
		return nil
	}, backoff.WithContext(bo, fetchCtx))

	if err != nil {
		r.logger.Warn("exchange rate refresh failed, retaining stored rates", zap.Error(errors.Wrap(err, "exchange rate provider fetch")))
		return
	}

	conn := r.db.Conn()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		r.logger.Warn("exchange rate refresh: failed to open transaction", zap.Error(err))
		return
	}
	for _, rate := range rates {
		if err := r.rates.Upsert(ctx, tx, rate); err != nil {
			r.logger.Warn("exchange rate refresh: upsert failed", zap.String("currency", rate.Currency), zap.Error(err))
			tx.Rollback()
			return
		}
	}
	if err := tx.Commit(); err != nil {
		r.logger.Warn("exchange rate refresh: commit failed", zap.Error(err))
		return
	}
	r.logger.Info("exchange rates refreshed", zap.Int("count", len(rates)))
}
