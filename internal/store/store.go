// Package store is the append-only settlement persistence layer: it owns
// the SETTLEMENT table, the version/is_old discipline, prior-counterparty
// lookup, and group reads. Every mutating method takes a transaction handle
// and performs no commit of its own (spec.md §4.1 "Consistency").
//
// The query style — explicit column lists, QueryRowContext/QueryContext,
// wrapped errors (via github.com/pkg/errors) — follows the teacher's stellar-query-api/go/hot_reader.go.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub000/internal/model"
)

// execer is satisfied by *sql.DB; used only to run the schema DDL.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// Querier is satisfied by both *sql.DB and *sql.Tx, so read paths can run
// either inside or outside a transaction.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Execer is the subset of *sql.Tx the mutating store operations need.
type Execer interface {
	Querier
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// DB wraps the underlying connection pool and exposes transaction
// boundaries to callers (the ingestion pipeline owns the transaction).
type DB struct {
	conn *sql.DB
}

func Open(dsn string, maxConns int) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres connection")
	}
	if maxConns > 0 {
		conn.SetMaxOpenConns(maxConns)
	}
	conn.SetConnMaxLifetime(5 * time.Minute)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to ping postgres")
	}
	if err := InitSchema(conn); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to initialize schema")
	}
	return &DB{conn: conn}, nil
}

func (d *DB) Close() error { return d.conn.Close() }

func (d *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return d.conn.BeginTx(ctx, nil)
}

// Conn exposes the raw pool for read-only query paths that don't need a
// transaction (the status/group read endpoints).
func (d *DB) Conn() *sql.DB { return d.conn }

// SettlementStore implements spec.md §4.1.
type SettlementStore struct{}

func NewSettlementStore() *SettlementStore { return &SettlementStore{} }

// Save inserts one settlement row, returning its auto-sequence ref_id. If a
// duplicate of the (settlement_id, pts, pe, settlement_version) unique key
// is attempted, it re-fetches and returns the existing row's ref_id instead
// of failing — ingestion retries are idempotent by construction.
func (s *SettlementStore) Save(ctx context.Context, tx Execer, st model.Settlement) (int64, error) {
	var refID int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO settlement (
			settlement_id, settlement_version, pts, processing_entity,
			counterparty_id, value_date, currency, amount,
			business_status, direction, settlement_type
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (settlement_id, pts, processing_entity, settlement_version)
		DO UPDATE SET settlement_id = EXCLUDED.settlement_id
		RETURNING ref_id
	`,
		st.SettlementID, st.SettlementVersion, st.PTS, st.ProcessingEntity,
		st.CounterpartyID, st.ValueDate, st.Currency, st.Amount,
		st.BusinessStatus, st.Direction, st.SettlementType,
	).Scan(&refID)
	if err != nil {
		return 0, errors.Wrap(err, "settlement store: save")
	}
	return refID, nil
}

// MarkOldVersions sets is_old = true on every row whose settlement_version
// is strictly less than the current max within the identity. It is
// idempotent: rows already marked old are left untouched by the WHERE
// clause, so repeated calls are no-ops.
func (s *SettlementStore) MarkOldVersions(ctx context.Context, tx Execer, settlementID, pts, pe string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE settlement
		SET is_old = TRUE, update_time = now()
		WHERE settlement_id = $1 AND pts = $2 AND processing_entity = $3
		  AND is_old = FALSE
		  AND settlement_version < (
			SELECT MAX(settlement_version) FROM settlement
			WHERE settlement_id = $1 AND pts = $2 AND processing_entity = $3
		  )
	`, settlementID, pts, pe)
	if err != nil {
		return errors.Wrap(err, "settlement store: mark old versions")
	}
	return nil
}

// FindPreviousCounterparty returns the counterparty of the row with the
// greatest ref_id strictly less than currentRefID for the given identity.
// It returns ("", false) when no earlier row exists.
func (s *SettlementStore) FindPreviousCounterparty(ctx context.Context, tx Querier, settlementID, pts, pe string, currentRefID int64) (string, bool, error) {
	var cp string
	err := tx.QueryRowContext(ctx, `
		SELECT counterparty_id FROM settlement
		WHERE settlement_id = $1 AND pts = $2 AND processing_entity = $3
		  AND ref_id < $4
		ORDER BY ref_id DESC
		LIMIT 1
	`, settlementID, pts, pe, currentRefID).Scan(&cp)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "settlement store: find previous counterparty")
	}
	return cp, true, nil
}

// FindLatestVersion returns the row with the maximum settlement_version for
// the identity, ties broken by the maximum ref_id (spec.md §9 Open Question).
func (s *SettlementStore) FindLatestVersion(ctx context.Context, tx Querier, settlementID, pts, pe string) (*model.Settlement, error) {
	var st model.Settlement
	var amount decimal.Decimal
	err := tx.QueryRowContext(ctx, `
		SELECT ref_id, settlement_id, settlement_version, pts, processing_entity,
		       counterparty_id, value_date, currency, amount,
		       business_status, direction, settlement_type, is_old, create_time, update_time
		FROM settlement
		WHERE settlement_id = $1 AND pts = $2 AND processing_entity = $3
		ORDER BY settlement_version DESC, ref_id DESC
		LIMIT 1
	`, settlementID, pts, pe).Scan(
		&st.RefID, &st.SettlementID, &st.SettlementVersion, &st.PTS, &st.ProcessingEntity,
		&st.CounterpartyID, &st.ValueDate, &st.Currency, &amount,
		&st.BusinessStatus, &st.Direction, &st.SettlementType, &st.IsOld, &st.CreateTime, &st.UpdateTime,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "settlement store: find latest version")
	}
	st.Amount = amount
	return &st, nil
}

// FindGroupLatestVersions returns, for each settlement_id whose true
// latest version (per (settlement_id, pts, pe), spec.md §3 — not scoped by
// group) still belongs to this group and has ref_id <= maxRefID, that row —
// filtered by the rule's allowed business-status/direction/settlement-type
// sets. It mirrors the projection the subtotal engine's MERGE computes,
// exposed here for audit/read callers that want the contributing rows
// rather than just the sum.
//
// The DISTINCT ON must run over the whole (pts, pe) before the group-key
// filter is applied: scoping "latest" by counterparty_id/value_date would
// let a settlement whose latest version migrated to a different
// counterparty (spec.md §8 Scenario B) still surface its stale row under
// its old group.
func (s *SettlementStore) FindGroupLatestVersions(ctx context.Context, q Querier, key model.GroupKey, maxRefID int64, rule model.Rule) ([]model.Settlement, error) {
	rows, err := q.QueryContext(ctx, `
		WITH latest AS (
			SELECT DISTINCT ON (settlement_id)
			       ref_id, settlement_id, settlement_version, pts, processing_entity,
			       counterparty_id, value_date, currency, amount,
			       business_status, direction, settlement_type, is_old, create_time, update_time
			FROM settlement
			WHERE pts = $1 AND processing_entity = $2
			  AND ref_id <= $5
			ORDER BY settlement_id, settlement_version DESC, ref_id DESC
		)
		SELECT ref_id, settlement_id, settlement_version, pts, processing_entity,
		       counterparty_id, value_date, currency, amount,
		       business_status, direction, settlement_type, is_old, create_time, update_time
		FROM latest
		WHERE counterparty_id = $3 AND value_date = $4
		  AND business_status = ANY($6)
		  AND direction = ANY($7)
		  AND settlement_type = ANY($8)
	`,
		key.PTS, key.ProcessingEntity, key.CounterpartyID, key.ValueDate, maxRefID,
		pq.Array(rule.IncludedBusinessStatuses), pq.Array(rule.IncludedDirections), pq.Array(rule.IncludedSettlementTypes),
	)
	if err != nil {
		return nil, errors.Wrap(err, "settlement store: find group latest versions")
	}
	defer rows.Close()

	var out []model.Settlement
	for rows.Next() {
		var st model.Settlement
		var amount decimal.Decimal
		if err := rows.Scan(
			&st.RefID, &st.SettlementID, &st.SettlementVersion, &st.PTS, &st.ProcessingEntity,
			&st.CounterpartyID, &st.ValueDate, &st.Currency, &amount,
			&st.BusinessStatus, &st.Direction, &st.SettlementType, &st.IsOld, &st.CreateTime, &st.UpdateTime,
		); err != nil {
			return nil, errors.Wrap(err, "settlement store: scan group latest version row")
		}
		st.Amount = amount
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "settlement store: iterate group latest versions")
	}
	return out, nil
}

// GroupStore is the read-only view over the materialized subtotal table.
// Ownership of writes belongs exclusively to internal/subtotal.
type GroupStore struct{}

func NewGroupStore() *GroupStore { return &GroupStore{} }

func (g *GroupStore) Find(ctx context.Context, q Querier, key model.GroupKey) (*model.GroupSubtotal, error) {
	var gs model.GroupSubtotal
	var total decimal.Decimal
	err := q.QueryRowContext(ctx, `
		SELECT pts, processing_entity, counterparty_id, value_date,
		       running_total, settlement_count, ref_id, create_time, update_time
		FROM running_total
		WHERE pts = $1 AND processing_entity = $2 AND counterparty_id = $3 AND value_date = $4
	`, key.PTS, key.ProcessingEntity, key.CounterpartyID, key.ValueDate).Scan(
		&gs.Key.PTS, &gs.Key.ProcessingEntity, &gs.Key.CounterpartyID, &gs.Key.ValueDate,
		&total, &gs.SettlementCount, &gs.RefID, &gs.CreateTime, &gs.UpdateTime,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "group store: find")
	}
	gs.RunningTotal = total
	return &gs, nil
}

// ExchangeRateStore owns the EXCHANGE_RATE table: idempotent upserts and a
// currency -> rate lookup. The subtotal engine does not call Lookup; its
// SQL joins the exchange_rate table directly.
type ExchangeRateStore struct{}

func NewExchangeRateStore() *ExchangeRateStore { return &ExchangeRateStore{} }

func (e *ExchangeRateStore) Upsert(ctx context.Context, tx Execer, rate model.ExchangeRate) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO exchange_rate (currency, rate_to_usd, update_time)
		VALUES ($1, $2, now())
		ON CONFLICT (currency) DO UPDATE SET
			rate_to_usd = EXCLUDED.rate_to_usd,
			update_time = now()
	`, rate.Currency, rate.RateToUSD)
	if err != nil {
		return errors.Wrap(err, "exchange rate store: upsert")
	}
	return nil
}

func (e *ExchangeRateStore) Lookup(ctx context.Context, q Querier, currency string) (decimal.Decimal, bool, error) {
	var rate decimal.Decimal
	err := q.QueryRowContext(ctx, `SELECT rate_to_usd FROM exchange_rate WHERE currency = $1`, currency).Scan(&rate)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, errors.Wrap(err, "exchange rate store: lookup")
	}
	return rate, true, nil
}
