// Package ingest is the orchestration core (spec.md §1, §4.4): validate a
// settlement submission, persist it, roll the version/is_old discipline,
// detect a counterparty migration, and recompute every affected group's
// subtotal — all inside one transaction, committed once — then publish a
// best-effort event per affected group after the commit.
//
// Pipeline depends on Tx/TxBeginner/RuleSource/Publisher rather than the
// concrete store/subtotal/rulecache/eventbus types directly, so the seed
// scenarios from spec.md §8 can run against an in-memory fake Tx in tests
// without a live Postgres connection (see ingest_scenarios_test.go). The
// production wiring for Tx/TxBeginner lives in pgstore.go.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub000/internal/model"
)

// Request is the wire-level submission shape before validation. Amount and
// ValueDate arrive as strings because the HTTP layer hands ingest raw JSON
// scalars; ingest owns parsing so every validation failure funnels through
// one FieldError list.
type Request struct {
	SettlementID      string
	SettlementVersion int64
	PTS               string
	ProcessingEntity  string
	CounterpartyID    string
	ValueDate         string // YYYY-MM-DD
	Currency          string
	Amount            string
	BusinessStatus    string
	Direction         string
	SettlementType    string
}

// Result reports what ingestion did, for the HTTP layer's response body.
type Result struct {
	RefID          int64
	AffectedGroups []model.GroupKey
}

// Tx is the transactional unit of work one Process call drives: save,
// version, migration-lookup, and recompute operations that must commit or
// roll back together. The production implementation (pgTx, in pgstore.go)
// backs every method with the real store/subtotal SQL inside a *sql.Tx; the
// in-memory fake used in ingest_scenarios_test.go backs them with plain Go
// so spec.md §8's seed scenarios can run without a live database.
type Tx interface {
	SaveSettlement(ctx context.Context, st model.Settlement) (int64, error)
	MarkOldVersions(ctx context.Context, settlementID, pts, pe string) error
	FindPreviousCounterparty(ctx context.Context, settlementID, pts, pe string, currentRefID int64) (string, bool, error)
	MissingRates(ctx context.Context, key model.GroupKey, refID int64, rule model.Rule) ([]string, error)
	RecomputeGroup(ctx context.Context, key model.GroupKey, refID int64, rule model.Rule) error
	Commit() error
	Rollback() error
}

// TxBeginner opens a new Tx. Satisfied in production by *PostgresTxBeginner.
type TxBeginner interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// RuleSource resolves the calculation rule in force for a (pts, pe) pair.
// Satisfied by *rulecache.Cache.
type RuleSource interface {
	Get(pts, pe string) model.Rule
}

// Publisher fans out a group-recalculation event once a commit succeeds.
// Satisfied by *eventbus.Bus.
type Publisher interface {
	Publish(key model.GroupKey, refID int64)
}

// Pipeline wires the five steps described in spec.md §4.4 together.
type Pipeline struct {
	txs               TxBeginner
	rules             RuleSource
	bus               Publisher
	failOnMissingRate bool
}

func New(txs TxBeginner, rules RuleSource, bus Publisher, failOnMissingRate bool) *Pipeline {
	return &Pipeline{txs: txs, rules: rules, bus: bus, failOnMissingRate: failOnMissingRate}
}

// Process runs the full pipeline. On any error the transaction is rolled
// back and no event is published; a successful return guarantees the
// settlement row, the is_old flags, and every affected group's running
// total are committed together.
func (p *Pipeline) Process(ctx context.Context, req Request) (Result, error) {
	st, ferrs := validate(req)
	if len(ferrs) > 0 {
		return Result{}, model.NewValidationError(ferrs...)
	}

	tx, err := p.txs.BeginTx(ctx)
	if err != nil {
		return Result{}, model.NewUpstreamError("ingest: begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	refID, err := tx.SaveSettlement(ctx, st)
	if err != nil {
		return Result{}, model.NewUpstreamError("ingest: save settlement", err)
	}

	if err := tx.MarkOldVersions(ctx, st.SettlementID, st.PTS, st.ProcessingEntity); err != nil {
		return Result{}, model.NewUpstreamError("ingest: mark old versions", err)
	}

	groups := []model.GroupKey{{
		PTS: st.PTS, ProcessingEntity: st.ProcessingEntity,
		CounterpartyID: st.CounterpartyID, ValueDate: st.ValueDate,
	}}

	prevCP, found, err := tx.FindPreviousCounterparty(ctx, st.SettlementID, st.PTS, st.ProcessingEntity, refID)
	if err != nil {
		return Result{}, model.NewUpstreamError("ingest: find previous counterparty", err)
	}
	if found && prevCP != st.CounterpartyID {
		groups = append(groups, model.GroupKey{
			PTS: st.PTS, ProcessingEntity: st.ProcessingEntity,
			CounterpartyID: prevCP, ValueDate: st.ValueDate,
		})
	}

	rule := p.rules.Get(st.PTS, st.ProcessingEntity)
	for _, key := range groups {
		if p.failOnMissingRate {
			missing, err := tx.MissingRates(ctx, key, refID, rule)
			if err != nil {
				return Result{}, model.NewUpstreamError("ingest: check missing rates", err)
			}
			if len(missing) > 0 {
				return Result{}, model.NewPreconditionError(fmt.Sprintf("missing exchange rate for currencies: %s", strings.Join(missing, ", ")))
			}
		}
		if err := tx.RecomputeGroup(ctx, key, refID, rule); err != nil {
			return Result{}, model.NewUpstreamError("ingest: recompute group", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, model.NewUpstreamError("ingest: commit", err)
	}

	for _, key := range groups {
		p.bus.Publish(key, refID)
	}

	return Result{RefID: refID, AffectedGroups: groups}, nil
}

// validate implements spec.md §4.4's field rules, accumulating every
// violation rather than failing fast on the first one.
func validate(req Request) (model.Settlement, []model.FieldError) {
	var errs []model.FieldError
	add := func(field, msg string) { errs = append(errs, model.FieldError{Field: field, Message: msg}) }

	requireNonEmpty := func(field, val string) {
		if strings.TrimSpace(val) == "" {
			add(field, "must not be empty")
		}
	}
	requireNonEmpty("settlement_id", req.SettlementID)
	requireNonEmpty("pts", req.PTS)
	requireNonEmpty("processing_entity", req.ProcessingEntity)
	requireNonEmpty("counterparty_id", req.CounterpartyID)

	if req.SettlementVersion <= 0 {
		add("settlement_version", "must be a positive integer")
	}

	valueDate, err := time.Parse("2006-01-02", req.ValueDate)
	if err != nil {
		add("value_date", "must be an ISO-8601 date (YYYY-MM-DD)")
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 || !isAlpha(currency) {
		add("currency", "must be a 3-letter ISO 4217 code")
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		add("amount", "must be a valid decimal number")
	} else if amount.IsNegative() {
		add("amount", "must not be negative")
	}

	businessStatus := model.BusinessStatus(strings.ToUpper(strings.TrimSpace(req.BusinessStatus)))
	if !businessStatus.Valid() {
		add("business_status", fmt.Sprintf("unrecognized value %q", req.BusinessStatus))
	}

	direction := model.Direction(strings.ToUpper(strings.TrimSpace(req.Direction)))
	if !direction.Valid() {
		add("direction", fmt.Sprintf("unrecognized value %q", req.Direction))
	}

	settlementType := model.SettlementType(strings.ToUpper(strings.TrimSpace(req.SettlementType)))
	if !settlementType.Valid() {
		add("settlement_type", fmt.Sprintf("unrecognized value %q", req.SettlementType))
	}

	if len(errs) > 0 {
		return model.Settlement{}, errs
	}

	return model.Settlement{
		SettlementID:      req.SettlementID,
		SettlementVersion: req.SettlementVersion,
		PTS:               req.PTS,
		ProcessingEntity:  req.ProcessingEntity,
		CounterpartyID:    req.CounterpartyID,
		ValueDate:         valueDate,
		Currency:          currency,
		Amount:            amount,
		BusinessStatus:    businessStatus,
		Direction:         direction,
		SettlementType:    settlementType,
	}, nil
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
