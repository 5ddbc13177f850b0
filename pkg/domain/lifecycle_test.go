package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestReplayIsDeterministicForEveryPrefix(t *testing.T) {
	h := DefaultHasher()
	events := sealAll(t, h, "batch-1", fullJourney())
	wantStates := []State{
		StateCreated, StateAssignedToAgency, StateAssignedToAgency, StateCollectedByAgency,
		StateInTransit, StateReceivedByLab, StateTestPassed, StateReceivedByManufacturer,
		StateProcessed, StateDistributed,
	}
	wantCustodians := []string{
		"farmer-1", "farmer-1", "farmer-1", "agent-1", "agent-1", "lab-1", "lab-1",
		"maker-1", "maker-1", "maker-1",
	}
	var folded Batch
	for i := range events {
		var err error
		folded, err = Apply(folded, events[i])
		if err != nil {
			t.Fatalf("apply %d: %v", i+1, err)
		}
		first, err := Replay(events[:i+1])
		if err != nil {
			t.Fatalf("replay %d: %v", i+1, err)
		}
		second, _ := Replay(events[:i+1])
		if first != second || !SameHead(first, folded) {
			t.Fatalf("replay of prefix %d is not deterministic", i+1)
		}
		if first.State != wantStates[i] || first.CurrentCustodianID != wantCustodians[i] {
			t.Fatalf("prefix %d: got state %s custodian %s", i+1, first.State, first.CurrentCustodianID)
		}
		if first.LatestSequenceNumber != int64(i+1) || first.LatestContentHash != events[i].ContentHash {
			t.Fatalf("prefix %d: head not tracked", i+1)
		}
	}
	if !folded.AgentAcknowledged || folded.AssignedAgentID != "agent-1" || folded.LatestVerdict != VerdictPass {
		t.Fatalf("unexpected derived fields %+v", folded)
	}
}

func TestNextStateTable(t *testing.T) {
	cases := []struct {
		name    string
		from    State
		evt     EventType
		verdict Verdict
		want    State
		kind    ErrorKind
	}{
		{"create", "", EventCreated, "", StateCreated, ""},
		{"must start with create", "", EventCollected, "", "", KindInvalidTransition},
		{"collect before assignment", StateCreated, EventCollected, "", "", KindInvalidTransition},
		{"processing too early", StateCollectedByAgency, EventProcessingSubmitted, "", "", KindInvalidTransition},
		{"lab fail", StateReceivedByLab, EventLabTestSubmitted, VerdictFail, StateTestFailed, ""},
		{"lab conditional", StateReceivedByLab, EventLabTestSubmitted, VerdictConditional, StateTestConditional, ""},
		{"retest", StateTestConditional, EventLabTestSubmitted, VerdictPass, StateTestPassed, ""},
		{"unknown verdict", StateReceivedByLab, EventLabTestSubmitted, "Maybe", "", KindValidationFailure},
		{"skip reception", StateTestPassed, EventProcessingSubmitted, "", StateProcessed, ""},
		{"recall distributed", StateDistributed, EventRecalled, "", StateRecalled, ""},
		{"distributed is closed", StateDistributed, EventProcessingSubmitted, "", "", KindInvalidTransition},
		{"failed is terminal", StateTestFailed, EventProcessingSubmitted, "", "", KindTerminalState},
		{"recalled is terminal", StateRecalled, EventRecalled, "", "", KindTerminalState},
		{"conditional cannot process", StateTestConditional, EventProcessingSubmitted, "", "", KindInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NextState(tc.from, tc.evt, tc.verdict)
			if tc.kind != "" {
				if !IsKind(err, tc.kind) {
					t.Fatalf("expected %s, got %v", tc.kind, err)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("expected %s, got %s (%v)", tc.want, got, err)
			}
		})
	}
}

func TestRecallAllowedFromEveryNonTerminalState(t *testing.T) {
	for state := range transitions {
		if state == "" {
			continue
		}
		if !Allowed(state, EventRecalled) {
			t.Fatalf("recall must be allowed from %s", state)
		}
	}
	if !IsTerminal(StateTestFailed) || !IsTerminal(StateRecalled) || IsTerminal(StateDistributed) {
		t.Fatalf("unexpected terminal set")
	}
}

func TestReplayReportsFirstIllegalEvent(t *testing.T) {
	h := DefaultHasher()
	steps := append(fullJourney()[:2:2], step{"agent-1", RoleCollectionAgent, EventInTransitMarked, HandoffRecord{}})
	events := sealAll(t, h, "batch-2", steps)
	_, err := Replay(events)
	var de *Error
	if !errors.As(err, &de) || de.Kind != KindCorruptLedger {
		t.Fatalf("expected corrupt ledger, got %v", err)
	}
	if de.Sequence != 3 {
		t.Fatalf("expected sequence 3, got %d", de.Sequence)
	}
}

func TestReplayRejectsGapsAndBackwardsTime(t *testing.T) {
	h := DefaultHasher()
	events := sealAll(t, h, "batch-3", fullJourney()[:3])
	gap := []CustodyEvent{events[0], events[2]}
	if _, err := Replay(gap); !IsKind(err, KindCorruptLedger) {
		t.Fatalf("expected corrupt ledger for gap, got %v", err)
	}
	back := append([]CustodyEvent(nil), events...)
	back[2].Timestamp = back[0].Timestamp.Add(-1)
	if _, err := Replay(back); !IsKind(err, KindCorruptLedger) {
		t.Fatalf("expected corrupt ledger for backwards timestamp, got %v", err)
	}
}

func TestApplyRejectsMalformedPayload(t *testing.T) {
	b := Batch{State: StateCreated}
	_, err := Apply(b, CustodyEvent{EventType: EventAssignedToAgency, Payload: json.RawMessage(`{"agent":1}`)})
	if !IsKind(err, KindValidationFailure) {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	if !Can(RoleFarmer, EventCreated) || Can(RoleFarmer, EventCollected) {
		t.Fatalf("unexpected farmer capabilities")
	}
	if !Can(RoleAdministrator, EventRecalled) || Can(RoleAdministrator, EventCreated) {
		t.Fatalf("unexpected administrator capabilities")
	}
	if len(CapabilitiesOf(Role("Auditor"))) != 0 {
		t.Fatalf("unknown roles have no capabilities")
	}
	err := Authorize(RoleLaboratory, EventProcessingSubmitted)
	var de *Error
	if !errors.As(err, &de) || de.Kind != KindUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if de.Role != RoleLaboratory {
		t.Fatalf("expected role to be reported, got %q", de.Role)
	}
	caps := CapabilitiesOf(RoleManufacturer)
	if len(caps) != 3 || caps[0] != EventDistributed {
		t.Fatalf("expected sorted manufacturer capabilities, got %v", caps)
	}
}

func TestStateValid(t *testing.T) {
	for _, s := range []State{StateCreated, StateInTransit, StateTestConditional, StateRecalled} {
		if !s.Valid() {
			t.Fatalf("%s should be valid", s)
		}
	}
	for _, s := range []State{"", "Harvested", "created"} {
		if s.Valid() {
			t.Fatalf("%q should be invalid", s)
		}
	}
}
