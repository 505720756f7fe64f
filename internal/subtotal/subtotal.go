// Package subtotal implements the single hardest primitive in the system
// (spec.md §4.3): one SQL statement that recomputes a group's USD subtotal
// from the filtered latest-version settlement set and commits it guarded by
// the caller's ref_id, so two concurrent recomputations for the same group
// converge regardless of commit order.
//
// The statement is built the same way the teacher's own upsert primitive
// ("ON CONFLICT ... DO UPDATE") is used elsewhere in the pack — see
// other_examples' microgrid-cloud settlement repository's
// "ON CONFLICT (tenant_id, station_id, day_start) DO UPDATE ... version = version + 1"
// — generalized here with a conditional WHERE clause on the stored ref_id,
// which is the portable upsert-with-guard primitive spec.md §6 requires.
package subtotal

import (
	"context"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/colinzhu/limit-monitoring-sub000/internal/model"
	"github.com/colinzhu/limit-monitoring-sub000/internal/store"
)

// recomputeSQL is the MERGE-equivalent statement described in spec.md §4.3:
//
//  1. latest: the true latest row per settlement_id for the whole
//     (pts, processing_entity), among rows with ref_id <= the caller's
//     ref_id — the maximum settlement_version, ties broken by the maximum
//     ref_id (DISTINCT ON + matching ORDER BY). This must NOT be scoped by
//     counterparty_id/value_date: a settlement's latest version may have
//     migrated to a different counterparty than the group being recomputed
//     (spec.md §8 Scenario B), and "latest" is defined per
//     (settlement_id, pts, pe) alone (spec.md §3) — scoping the CTE by the
//     group key would let a stale row in a group the settlement has since
//     left masquerade as latest forever.
//  2. filtered: keep only latest rows that (a) still belong to the group
//     being recomputed (counterparty_id/value_date) and (b) have
//     (business_status, direction, settlement_type) in the rule's allowed
//     sets, then join the exchange rate, treating a missing rate as 1.0
//     (USD pass-through).
//  3. agg: sum amount * rate.
//  4. The INSERT ... ON CONFLICT ... DO UPDATE ... WHERE clause is the
//     guard: it only overwrites the stored row when the caller's ref_id is
//     >= the value already stored there, so an out-of-order, lower-ref_id
//     recomputation that loses the race leaves the row untouched.
const recomputeSQL = `
WITH latest AS (
	SELECT DISTINCT ON (settlement_id)
	       settlement_id, counterparty_id, value_date, currency, amount, business_status, direction, settlement_type
	FROM settlement
	WHERE pts = $1 AND processing_entity = $2
	  AND ref_id <= $5
	ORDER BY settlement_id, settlement_version DESC, ref_id DESC
),
filtered AS (
	SELECT l.amount, COALESCE(er.rate_to_usd, 1.0) AS rate
	FROM latest l
	LEFT JOIN exchange_rate er ON er.currency = l.currency
	WHERE l.counterparty_id = $3 AND l.value_date = $4
	  AND l.business_status = ANY($6) AND l.direction = ANY($7) AND l.settlement_type = ANY($8)
),
agg AS (
	SELECT COALESCE(SUM(amount * rate), 0)::numeric(20,2) AS total, COUNT(*)::bigint AS cnt
	FROM filtered
)
INSERT INTO running_total (pts, processing_entity, counterparty_id, value_date, running_total, settlement_count, ref_id, create_time, update_time)
SELECT $1, $2, $3, $4, agg.total, agg.cnt, $5, now(), now() FROM agg
ON CONFLICT (pts, processing_entity, counterparty_id, value_date)
DO UPDATE SET
	running_total    = EXCLUDED.running_total,
	settlement_count = EXCLUDED.settlement_count,
	ref_id           = EXCLUDED.ref_id,
	update_time      = now()
WHERE running_total.ref_id <= EXCLUDED.ref_id
`

// missingRatesSQL finds the distinct currencies among a group's filtered
// latest-version rows that have no exchange_rate entry (and are not USD,
// whose rate is always 1 by definition — spec.md §3). It backs the
// fail-on-missing-rate config toggle described in spec.md §9's open
// question: rather than silently falling back to 1.0, a deployment can ask
// to reject the recomputation outright. The latest CTE is scoped the same
// way as recomputeSQL's, for the same reason.
const missingRatesSQL = `
WITH latest AS (
	SELECT DISTINCT ON (settlement_id)
	       counterparty_id, value_date, currency, business_status, direction, settlement_type
	FROM settlement
	WHERE pts = $1 AND processing_entity = $2
	  AND ref_id <= $5
	ORDER BY settlement_id, settlement_version DESC, ref_id DESC
)
SELECT DISTINCT l.currency
FROM latest l
LEFT JOIN exchange_rate er ON er.currency = l.currency
WHERE l.counterparty_id = $3 AND l.value_date = $4
  AND l.business_status = ANY($6) AND l.direction = ANY($7) AND l.settlement_type = ANY($8)
  AND l.currency <> 'USD' AND er.currency IS NULL
`

// Engine runs the recompute statement inside the caller's transaction.
type Engine struct{}

func New() *Engine { return &Engine{} }

// MissingRates returns every currency contributing to the group that has no
// stored exchange rate, for callers operating with FailOnMissingRate
// enabled. An empty result means the recompute is safe to run.
func (e *Engine) MissingRates(ctx context.Context, tx store.Querier, key model.GroupKey, refID int64, rule model.Rule) ([]string, error) {
	rows, err := tx.QueryContext(ctx, missingRatesSQL,
		key.PTS, key.ProcessingEntity, key.CounterpartyID, key.ValueDate, refID,
		pq.Array(rule.IncludedBusinessStatuses), pq.Array(rule.IncludedDirections), pq.Array(rule.IncludedSettlementTypes),
	)
	if err != nil {
		return nil, errors.Wrap(err, "subtotal engine: missing rates check")
	}
	defer rows.Close()

	var missing []string
	for rows.Next() {
		var currency string
		if err := rows.Scan(&currency); err != nil {
			return nil, errors.Wrap(err, "subtotal engine: scan missing rate currency")
		}
		missing = append(missing, currency)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "subtotal engine: iterate missing rate currencies")
	}
	return missing, nil
}

// RecomputeGroup executes recomputeSQL for one group key, guarded by refID.
// It must be called within the ingestion transaction; it performs no commit.
func (e *Engine) RecomputeGroup(ctx context.Context, tx store.Execer, key model.GroupKey, refID int64, rule model.Rule) error {
	_, err := tx.ExecContext(ctx, recomputeSQL,
		key.PTS, key.ProcessingEntity, key.CounterpartyID, key.ValueDate, refID,
		pq.Array(rule.IncludedBusinessStatuses), pq.Array(rule.IncludedDirections), pq.Array(rule.IncludedSettlementTypes),
	)
	if err != nil {
		return errors.Wrapf(err, "subtotal engine: recompute group pts=%s pe=%s cp=%s", key.PTS, key.ProcessingEntity, key.CounterpartyID)
	}
	return nil
}
