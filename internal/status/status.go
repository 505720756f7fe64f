// Package status implements the pure on-demand status derivation of
// spec.md §4.5: status is never stored, it is a function of the
// settlement, its group's running total, the exposure limit, and the
// approval workflow state.
package status

import (
	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub000/internal/model"
)

// LimitProvider resolves a counterparty's exposure limit. The MVP
// implementation in this package returns a single fixed value for every
// counterparty; spec.md §4.5 explicitly allows substituting a
// counterparty-keyed table later without changing this contract.
type LimitProvider interface {
	ExposureLimit(counterpartyID string) decimal.Decimal
}

// FixedLimitProvider is the MVP limit provider: the same Limit for every
// counterparty (cmd/limitmonitor sets it from exposure.default_limit_usd,
// which defaults to 500,000,000.00 USD).
type FixedLimitProvider struct {
	Limit decimal.Decimal
}

func (f FixedLimitProvider) ExposureLimit(string) decimal.Decimal { return f.Limit }

// Derive computes the status table from spec.md §4.5 exhaustively.
func Derive(st model.Settlement, runningTotal decimal.Decimal, limit decimal.Decimal, workflow model.WorkflowInfo) model.Status {
	if st.Direction == model.DirectionReceive || st.BusinessStatus == model.StatusCancelled {
		return model.StatusCreated
	}
	if runningTotal.Cmp(limit) <= 0 {
		return model.StatusCreated
	}
	if workflow.IsAuthorised() {
		return model.StatusAuthorised
	}
	if workflow.HasRequestRelease() {
		return model.StatusPendingAuthorise
	}
	if st.Direction == model.DirectionPay && st.BusinessStatus == model.StatusVerified {
		return model.StatusBlocked
	}
	return model.StatusCreated
}
