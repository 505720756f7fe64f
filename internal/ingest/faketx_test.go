package ingest

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub000/internal/model"
)

// fakeDB is an in-memory stand-in for the settlement table, the running
// total table, and the exchange rate table, exercised through the same Tx
// contract the production pgTx satisfies. Its recompute logic deliberately
// mirrors the corrected SQL in subtotal.go/store.go — true "latest version"
// is determined per (settlement_id, pts, processing_entity) across the
// whole identity, then filtered by group key and rule — so a regression of
// that bug (spec.md §8 Scenario B) fails a test here instead of only
// showing up against a live Postgres instance.
type fakeDB struct {
	settlements []model.Settlement
	groups      map[model.GroupKey]model.GroupSubtotal
	rates       map[string]decimal.Decimal
	nextRefID   int64
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		groups: map[model.GroupKey]model.GroupSubtotal{},
		rates:  map[string]decimal.Decimal{},
	}
}

func (db *fakeDB) BeginTx(ctx context.Context) (Tx, error) {
	settlements := append([]model.Settlement(nil), db.settlements...)
	groups := make(map[model.GroupKey]model.GroupSubtotal, len(db.groups))
	for k, v := range db.groups {
		groups[k] = v
	}
	return &fakeTx{db: db, settlements: settlements, groups: groups, nextRefID: db.nextRefID}, nil
}

// fakeTx operates on a snapshot of fakeDB's state; Commit writes the
// snapshot back, Rollback (including the deferred one after a successful
// Commit) discards it.
type fakeTx struct {
	db          *fakeDB
	settlements []model.Settlement
	groups      map[model.GroupKey]model.GroupSubtotal
	nextRefID   int64
	done        bool
}

func (t *fakeTx) SaveSettlement(ctx context.Context, st model.Settlement) (int64, error) {
	for _, s := range t.settlements {
		if s.SettlementID == st.SettlementID && s.PTS == st.PTS && s.ProcessingEntity == st.ProcessingEntity &&
			s.SettlementVersion == st.SettlementVersion {
			return s.RefID, nil
		}
	}
	t.nextRefID++
	st.RefID = t.nextRefID
	t.settlements = append(t.settlements, st)
	return st.RefID, nil
}

func (t *fakeTx) MarkOldVersions(ctx context.Context, settlementID, pts, pe string) error {
	var maxVersion int64 = -1
	for _, s := range t.settlements {
		if s.SettlementID == settlementID && s.PTS == pts && s.ProcessingEntity == pe && s.SettlementVersion > maxVersion {
			maxVersion = s.SettlementVersion
		}
	}
	for i := range t.settlements {
		s := &t.settlements[i]
		if s.SettlementID == settlementID && s.PTS == pts && s.ProcessingEntity == pe && s.SettlementVersion < maxVersion {
			s.IsOld = true
		}
	}
	return nil
}

func (t *fakeTx) FindPreviousCounterparty(ctx context.Context, settlementID, pts, pe string, currentRefID int64) (string, bool, error) {
	var best *model.Settlement
	for i := range t.settlements {
		s := &t.settlements[i]
		if s.SettlementID == settlementID && s.PTS == pts && s.ProcessingEntity == pe && s.RefID < currentRefID {
			if best == nil || s.RefID > best.RefID {
				best = s
			}
		}
	}
	if best == nil {
		return "", false, nil
	}
	return best.CounterpartyID, true, nil
}

// latestByIdentity mirrors recomputeSQL's "latest" CTE: the true latest row
// per settlement_id for (pts, pe), among rows with ref_id <= maxRefID, with
// no group-key filter applied yet.
func (t *fakeTx) latestByIdentity(pts, pe string, maxRefID int64) map[string]model.Settlement {
	latest := map[string]model.Settlement{}
	for _, s := range t.settlements {
		if s.PTS != pts || s.ProcessingEntity != pe || s.RefID > maxRefID {
			continue
		}
		cur, ok := latest[s.SettlementID]
		if !ok || s.SettlementVersion > cur.SettlementVersion ||
			(s.SettlementVersion == cur.SettlementVersion && s.RefID > cur.RefID) {
			latest[s.SettlementID] = s
		}
	}
	return latest
}

func ruleIncludes(rule model.Rule, s model.Settlement) bool {
	status, direction, typ := false, false, false
	for _, v := range rule.IncludedBusinessStatuses {
		if v == s.BusinessStatus {
			status = true
		}
	}
	for _, v := range rule.IncludedDirections {
		if v == s.Direction {
			direction = true
		}
	}
	for _, v := range rule.IncludedSettlementTypes {
		if v == s.SettlementType {
			typ = true
		}
	}
	return status && direction && typ
}

// groupRows applies the group-key and rule filters to the true latest rows —
// mirroring the "filtered" CTE that must run AFTER, not instead of, identity
// deduplication.
func (t *fakeTx) groupRows(key model.GroupKey, maxRefID int64, rule model.Rule) []model.Settlement {
	var out []model.Settlement
	for _, s := range t.latestByIdentity(key.PTS, key.ProcessingEntity, maxRefID) {
		if s.CounterpartyID != key.CounterpartyID || !s.ValueDate.Equal(key.ValueDate) {
			continue
		}
		if !ruleIncludes(rule, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (t *fakeTx) rateFor(currency string) decimal.Decimal {
	if currency == "USD" {
		return decimal.NewFromInt(1)
	}
	if r, ok := t.db.rates[currency]; ok {
		return r
	}
	return decimal.NewFromInt(1)
}

func (t *fakeTx) MissingRates(ctx context.Context, key model.GroupKey, refID int64, rule model.Rule) ([]string, error) {
	seen := map[string]bool{}
	var missing []string
	for _, s := range t.groupRows(key, refID, rule) {
		if s.Currency == "USD" {
			continue
		}
		if _, ok := t.db.rates[s.Currency]; !ok && !seen[s.Currency] {
			missing = append(missing, s.Currency)
			seen[s.Currency] = true
		}
	}
	return missing, nil
}

func (t *fakeTx) RecomputeGroup(ctx context.Context, key model.GroupKey, refID int64, rule model.Rule) error {
	if existing, ok := t.groups[key]; ok && existing.RefID > refID {
		return nil
	}
	total := decimal.Zero
	var count int64
	for _, s := range t.groupRows(key, refID, rule) {
		total = total.Add(s.Amount.Mul(t.rateFor(s.Currency)))
		count++
	}
	t.groups[key] = model.GroupSubtotal{Key: key, RunningTotal: total, SettlementCount: count, RefID: refID}
	return nil
}

func (t *fakeTx) Commit() error {
	if t.done {
		return nil
	}
	t.db.settlements = t.settlements
	t.db.groups = t.groups
	t.db.nextRefID = t.nextRefID
	t.done = true
	return nil
}

func (t *fakeTx) Rollback() error {
	t.done = true
	return nil
}

// fakeRuleSource serves one fixed rule regardless of (pts, pe), enough for
// scenario tests that operate within a single processing entity.
type fakeRuleSource struct {
	rule model.Rule
}

func (f fakeRuleSource) Get(pts, pe string) model.Rule { return f.rule }
