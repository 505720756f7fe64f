package ingest

import (
	"context"
	"database/sql"

	"github.com/colinzhu/limit-monitoring-sub000/internal/model"
	"github.com/colinzhu/limit-monitoring-sub000/internal/store"
	"github.com/colinzhu/limit-monitoring-sub000/internal/subtotal"
)

// PostgresTxBeginner is the production TxBeginner: it opens a *sql.Tx from
// the connection pool and hands back a Tx that drives the same
// SettlementStore/subtotal.Engine methods the rest of the service uses.
type PostgresTxBeginner struct {
	DB          *store.DB
	Settlements *store.SettlementStore
	Engine      *subtotal.Engine
}

func NewPostgresTxBeginner(db *store.DB, settlements *store.SettlementStore, engine *subtotal.Engine) *PostgresTxBeginner {
	return &PostgresTxBeginner{DB: db, Settlements: settlements, Engine: engine}
}

func (b *PostgresTxBeginner) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := b.DB.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx, settlements: b.Settlements, engine: b.Engine}, nil
}

// pgTx adapts *sql.Tx plus the concrete store/subtotal types to the Tx
// interface Pipeline depends on.
type pgTx struct {
	tx          *sql.Tx
	settlements *store.SettlementStore
	engine      *subtotal.Engine
}

func (t *pgTx) SaveSettlement(ctx context.Context, st model.Settlement) (int64, error) {
	return t.settlements.Save(ctx, t.tx, st)
}

func (t *pgTx) MarkOldVersions(ctx context.Context, settlementID, pts, pe string) error {
	return t.settlements.MarkOldVersions(ctx, t.tx, settlementID, pts, pe)
}

func (t *pgTx) FindPreviousCounterparty(ctx context.Context, settlementID, pts, pe string, currentRefID int64) (string, bool, error) {
	return t.settlements.FindPreviousCounterparty(ctx, t.tx, settlementID, pts, pe, currentRefID)
}

func (t *pgTx) MissingRates(ctx context.Context, key model.GroupKey, refID int64, rule model.Rule) ([]string, error) {
	return t.engine.MissingRates(ctx, t.tx, key, refID, rule)
}

func (t *pgTx) RecomputeGroup(ctx context.Context, key model.GroupKey, refID int64, rule model.Rule) error {
	return t.engine.RecomputeGroup(ctx, t.tx, key, refID, rule)
}

func (t *pgTx) Commit() error   { return t.tx.Commit() }
func (t *pgTx) Rollback() error { return t.tx.Rollback() }
