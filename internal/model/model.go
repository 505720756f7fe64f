// Package model holds the domain types shared by every component of the
// limit-monitoring settlement exposure core: the settlement row, the
// group subtotal, the calculation rule, the approval activity, and the
// exchange rate.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BusinessStatus is the settlement's business-status enum.
type BusinessStatus string

const (
	StatusPending   BusinessStatus = "PENDING"
	StatusInvalid   BusinessStatus = "INVALID"
	StatusVerified  BusinessStatus = "VERIFIED"
	StatusCancelled BusinessStatus = "CANCELLED"
)

func (s BusinessStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInvalid, StatusVerified, StatusCancelled:
		return true
	}
	return false
}

// Direction is the settlement's payment direction.
type Direction string

const (
	DirectionPay     Direction = "PAY"
	DirectionReceive Direction = "RECEIVE"
)

func (d Direction) Valid() bool {
	return d == DirectionPay || d == DirectionReceive
}

// SettlementType distinguishes gross and net settlement.
type SettlementType string

const (
	SettlementGross SettlementType = "GROSS"
	SettlementNet   SettlementType = "NET"
)

func (t SettlementType) Valid() bool {
	return t == SettlementGross || t == SettlementNet
}

// Settlement is one append-only row, unique by
// (settlement_id, pts, processing_entity, settlement_version).
type Settlement struct {
	RefID              int64
	SettlementID       string
	SettlementVersion  int64
	PTS                string
	ProcessingEntity   string
	CounterpartyID     string
	ValueDate          time.Time // date only, UTC midnight
	Currency           string
	Amount             decimal.Decimal
	BusinessStatus     BusinessStatus
	Direction          Direction
	SettlementType     SettlementType
	IsOld              bool
	CreateTime         time.Time
	UpdateTime         time.Time
}

// GroupKey is the tuple that a running subtotal is maintained against.
type GroupKey struct {
	PTS              string
	ProcessingEntity string
	CounterpartyID   string
	ValueDate        time.Time
}

// GroupSubtotal is the materialized per-group USD running total.
type GroupSubtotal struct {
	Key             GroupKey
	RunningTotal    decimal.Decimal
	SettlementCount int64
	RefID           int64
	CreateTime      time.Time
	UpdateTime      time.Time
}

// Rule is the per-(pts, processing entity) inclusion predicate used by the
// subtotal engine to decide which settlements contribute to a group total.
type Rule struct {
	PTS                       string
	ProcessingEntity          string
	IncludedBusinessStatuses  []BusinessStatus
	IncludedDirections        []Direction
	IncludedSettlementTypes   []SettlementType
}

// DefaultRule is used whenever no rule is cached for a (pts, pe) key.
func DefaultRule(pts, pe string) Rule {
	return Rule{
		PTS:                      pts,
		ProcessingEntity:         pe,
		IncludedBusinessStatuses: []BusinessStatus{StatusPending, StatusInvalid, StatusVerified},
		IncludedDirections:       []Direction{DirectionPay},
		IncludedSettlementTypes:  []SettlementType{SettlementGross, SettlementNet},
	}
}

// ActivityAction enumerates the approval ledger's append-only action kinds.
type ActivityAction string

const (
	ActionRequestRelease ActivityAction = "REQUEST_RELEASE"
	ActionAuthorise      ActivityAction = "AUTHORISE"
)

func (a ActivityAction) Valid() bool {
	return a == ActionRequestRelease || a == ActionAuthorise
}

// Activity is one append-only row in the approval ledger.
type Activity struct {
	ID                int64
	PTS               string
	ProcessingEntity  string
	SettlementID      string
	SettlementVersion int64
	UserID            string
	UserName          string
	Action            ActivityAction
	Comment           string
	CreateTime        time.Time
}

// WorkflowInfo is the read model the status deriver and query layer use.
type WorkflowInfo struct {
	Requesters  []string
	Authorisers []string
}

func (w WorkflowInfo) HasRequestRelease() bool { return len(w.Requesters) > 0 }
func (w WorkflowInfo) IsAuthorised() bool      { return len(w.Authorisers) > 0 }

// ExchangeRate is the currency -> USD conversion row. USD's rate is always 1.
type ExchangeRate struct {
	Currency   string
	RateToUSD  decimal.Decimal
	UpdateTime time.Time
}

// Status is the on-demand derived approval status of a settlement.
type Status string

const (
	StatusCreated          Status = "CREATED"
	StatusAuthorised       Status = "AUTHORISED"
	StatusPendingAuthorise Status = "PENDING_AUTHORISE"
	StatusBlocked          Status = "BLOCKED"
)
