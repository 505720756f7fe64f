package approval

import (
	"testing"

	"github.com/colinzhu/limit-monitoring-sub000/internal/model"
)

func TestUserRequested(t *testing.T) {
	l := New()
	info := model.WorkflowInfo{Requesters: []string{"alice", "carol"}}

	if !l.userRequested(info, "alice") {
		t.Error("expected alice to be found among requesters")
	}
	if l.userRequested(info, "bob") {
		t.Error("did not expect bob among requesters")
	}
}

func TestRecordRejectsRequestReleaseWhenNotBlocked(t *testing.T) {
	l := New()
	err := l.Record(nil, nil, model.Activity{Action: model.ActionRequestRelease}, false)
	if _, ok := err.(*model.PreconditionError); !ok {
		t.Fatalf("expected a *model.PreconditionError, got %T (%v)", err, err)
	}
}

func TestRecordRejectsUnknownAction(t *testing.T) {
	l := New()
	err := l.Record(nil, nil, model.Activity{Action: "BOGUS"}, true)
	if _, ok := err.(*model.PreconditionError); !ok {
		t.Fatalf("expected a *model.PreconditionError for an unknown action, got %T (%v)", err, err)
	}
}
