package model

import "testing"

func TestBusinessStatusValid(t *testing.T) {
	valid := []BusinessStatus{StatusPending, StatusInvalid, StatusVerified, StatusCancelled}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if BusinessStatus("BOGUS").Valid() {
		t.Error("BOGUS should not be valid")
	}
}

func TestDirectionValid(t *testing.T) {
	if !DirectionPay.Valid() || !DirectionReceive.Valid() {
		t.Error("PAY and RECEIVE should be valid")
	}
	if Direction("SIDEWAYS").Valid() {
		t.Error("SIDEWAYS should not be valid")
	}
}

func TestSettlementTypeValid(t *testing.T) {
	if !SettlementGross.Valid() || !SettlementNet.Valid() {
		t.Error("GROSS and NET should be valid")
	}
	if SettlementType("BOGUS").Valid() {
		t.Error("BOGUS should not be valid")
	}
}

func TestActivityActionValid(t *testing.T) {
	if !ActionRequestRelease.Valid() || !ActionAuthorise.Valid() {
		t.Error("REQUEST_RELEASE and AUTHORISE should be valid")
	}
	if ActivityAction("REJECT").Valid() {
		t.Error("REJECT should not be valid")
	}
}

func TestWorkflowInfoHelpers(t *testing.T) {
	var empty WorkflowInfo
	if empty.HasRequestRelease() || empty.IsAuthorised() {
		t.Error("empty workflow info should report neither requested nor authorised")
	}

	requested := WorkflowInfo{Requesters: []string{"alice"}}
	if !requested.HasRequestRelease() {
		t.Error("expected HasRequestRelease true")
	}
	if requested.IsAuthorised() {
		t.Error("did not expect IsAuthorised true")
	}

	authorised := WorkflowInfo{Requesters: []string{"alice"}, Authorisers: []string{"bob"}}
	if !authorised.IsAuthorised() {
		t.Error("expected IsAuthorised true")
	}
}

func TestDefaultRule(t *testing.T) {
	r := DefaultRule("PTS1", "PE1")
	if r.PTS != "PTS1" || r.ProcessingEntity != "PE1" {
		t.Errorf("default rule key mismatch: %+v", r)
	}
	if len(r.IncludedBusinessStatuses) == 0 || len(r.IncludedDirections) == 0 || len(r.IncludedSettlementTypes) == 0 {
		t.Error("default rule should include at least one value per dimension")
	}
}
