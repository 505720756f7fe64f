// Package approval is the append-only activity ledger (spec.md §4.6): the
// segregation-of-duties check, the REQUEST_RELEASE/AUTHORISE workflow, and
// the read model the status deriver consumes.
package approval

import (
	"context"

	"github.com/pkg/errors"

	"github.com/colinzhu/limit-monitoring-sub000/internal/model"
	"github.com/colinzhu/limit-monitoring-sub000/internal/store"
)

type Ledger struct{}

func New() *Ledger { return &Ledger{} }

// HasRequestRelease reports whether a REQUEST_RELEASE row exists for the
// exact settlement version, optionally restricted to one user (userID ""
// matches any user).
func (l *Ledger) HasRequestRelease(ctx context.Context, q store.Querier, settlementID string, version int64, userID string) (bool, error) {
	var exists bool
	var err error
	if userID == "" {
		err = q.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM activities WHERE settlement_id = $1 AND settlement_version = $2 AND action = $3)
		`, settlementID, version, model.ActionRequestRelease).Scan(&exists)
	} else {
		err = q.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM activities WHERE settlement_id = $1 AND settlement_version = $2 AND action = $3 AND user_id = $4)
		`, settlementID, version, model.ActionRequestRelease, userID).Scan(&exists)
	}
	if err != nil {
		return false, errors.Wrap(err, "approval ledger: has request release")
	}
	return exists, nil
}

// IsAuthorised reports whether an AUTHORISE row exists for the exact
// settlement version.
func (l *Ledger) IsAuthorised(ctx context.Context, q store.Querier, settlementID string, version int64) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM activities WHERE settlement_id = $1 AND settlement_version = $2 AND action = $3)
	`, settlementID, version, model.ActionAuthorise).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "approval ledger: is authorised")
	}
	return exists, nil
}

// WorkflowInfo reads every requester and authoriser recorded for a
// settlement version.
func (l *Ledger) WorkflowInfo(ctx context.Context, q store.Querier, settlementID string, version int64) (model.WorkflowInfo, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT user_id, action FROM activities
		WHERE settlement_id = $1 AND settlement_version = $2
		ORDER BY create_time ASC
	`, settlementID, version)
	if err != nil {
		return model.WorkflowInfo{}, errors.Wrap(err, "approval ledger: workflow info")
	}
	defer rows.Close()

	var info model.WorkflowInfo
	for rows.Next() {
		var userID string
		var action model.ActivityAction
		if err := rows.Scan(&userID, &action); err != nil {
			return model.WorkflowInfo{}, errors.Wrap(err, "approval ledger: scan workflow row")
		}
		switch action {
		case model.ActionRequestRelease:
			info.Requesters = append(info.Requesters, userID)
		case model.ActionAuthorise:
			info.Authorisers = append(info.Authorisers, userID)
		}
	}
	if err := rows.Err(); err != nil {
		return model.WorkflowInfo{}, errors.Wrap(err, "approval ledger: iterate workflow rows")
	}
	return info, nil
}

// userRequested reports whether userID already has a REQUEST_RELEASE row
// for this settlement version — used by the AUTHORISE segregation check.
func (l *Ledger) userRequested(info model.WorkflowInfo, userID string) bool {
	for _, u := range info.Requesters {
		if u == userID {
			return true
		}
	}
	return false
}

// Record appends one activity row after re-verifying the segregation-of-duties
// precondition inside the same transaction (spec.md §4.6):
//
//   - REQUEST_RELEASE is accepted only when the settlement currently derives
//     to BLOCKED status — the caller passes that pre-derived fact in
//     isBlocked, since deriving it requires the group subtotal and limit
//     that this package has no access to.
//   - AUTHORISE is accepted only when a REQUEST_RELEASE exists for the exact
//     (settlement_id, settlement_version) and userID is not among its
//     requesters.
func (l *Ledger) Record(ctx context.Context, tx store.Execer, act model.Activity, isBlocked bool) error {
	switch act.Action {
	case model.ActionRequestRelease:
		if !isBlocked {
			return model.NewPreconditionError("REQUEST_RELEASE only accepted for a BLOCKED settlement")
		}
	case model.ActionAuthorise:
		info, err := l.WorkflowInfo(ctx, tx, act.SettlementID, act.SettlementVersion)
		if err != nil {
			return err
		}
		if !info.HasRequestRelease() {
			return model.NewPreconditionError("AUTHORISE requires an existing REQUEST_RELEASE")
		}
		if l.userRequested(info, act.UserID) {
			return model.NewPreconditionError("AUTHORISE cannot be performed by the same user who requested release")
		}
	default:
		return model.NewPreconditionError("unknown activity action")
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO activities (pts, processing_entity, settlement_id, settlement_version, user_id, user_name, action, comment)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, act.PTS, act.ProcessingEntity, act.SettlementID, act.SettlementVersion, act.UserID, act.UserName, act.Action, act.Comment)
	if err != nil {
		return errors.Wrap(err, "approval ledger: record")
	}
	return nil
}
