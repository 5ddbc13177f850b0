package domain

import "time"

// verdictDriven marks transitions whose successor depends on the quality gate
// verdict recorded in the event payload.
const verdictDriven State = "*verdict"

var terminalStates = map[State]struct{}{
	StateTestFailed: {},
	StateRecalled:   {},
}

// transitions is the full (state, event) table. The empty state is the
// position of a batch that does not exist yet.
var transitions = func() map[State]map[EventType]State {
	table := map[State]map[EventType]State{
		"":                          {EventCreated: StateCreated},
		StateCreated:                {EventAssignedToAgency: StateAssignedToAgency},
		StateAssignedToAgency:       {EventAssignmentAcknowledged: StateAssignedToAgency, EventCollected: StateCollectedByAgency},
		StateCollectedByAgency:      {EventInTransitMarked: StateInTransit},
		StateInTransit:              {EventReceivedByLab: StateReceivedByLab},
		StateReceivedByLab:          {EventLabTestSubmitted: verdictDriven},
		StateTestConditional:        {EventLabTestSubmitted: verdictDriven},
		StateTestPassed:             {EventReceivedByManufacturer: StateReceivedByManufacturer, EventProcessingSubmitted: StateProcessed},
		StateReceivedByManufacturer: {EventProcessingSubmitted: StateProcessed},
		StateProcessed:              {EventDistributed: StateDistributed},
		StateDistributed:            {},
	}
	for state, events := range table {
		if state == "" {
			continue
		}
		events[EventRecalled] = StateRecalled
	}
	return table
}()

// IsTerminal reports whether no further events are accepted in state s.
func IsTerminal(s State) bool {
	_, ok := terminalStates[s]
	return ok
}

// Allowed reports whether evt is defined for a batch in state from.
func Allowed(from State, evt EventType) bool {
	_, ok := transitions[from][evt]
	return ok
}

// VerdictState maps a quality gate verdict to the resulting batch state.
func VerdictState(v Verdict) (State, bool) {
	switch v {
	case VerdictPass:
		return StateTestPassed, true
	case VerdictFail:
		return StateTestFailed, true
	case VerdictConditional:
		return StateTestConditional, true
	}
	return "", false
}

// NextState resolves the successor of from under evt. verdict is consulted
// only for LabTestSubmitted.
func NextState(from State, evt EventType, verdict Verdict) (State, error) {
	if IsTerminal(from) {
		return "", newError(KindTerminalState, "batch is %s and accepts no further events", from)
	}
	next, ok := transitions[from][evt]
	if !ok {
		if from == "" {
			return "", newError(KindInvalidTransition, "batch must start with %s, got %s", EventCreated, evt)
		}
		return "", newError(KindInvalidTransition, "%s is not allowed from state %s", evt, from)
	}
	if next != verdictDriven {
		return next, nil
	}
	state, ok := VerdictState(verdict)
	if !ok {
		return "", Invalid("verdict", "unknown verdict %q", verdict)
	}
	return state, nil
}

// Apply folds one ledger event into the batch summary. It is the single
// definition of how summaries derive from the ledger and is used both when
// appending and when replaying.
func Apply(b Batch, e CustodyEvent) (Batch, error) {
	var verdict Verdict
	if e.EventType == EventLabTestSubmitted {
		rec, err := DecodePayload[LabTestRecord](e.Payload)
		if err != nil {
			return b, err
		}
		verdict = rec.Verdict
	}
	next, err := NextState(b.State, e.EventType, verdict)
	if err != nil {
		return b, err
	}

	switch e.EventType {
	case EventCreated:
		rec, err := DecodePayload[CreationRecord](e.Payload)
		if err != nil {
			return b, err
		}
		b = Batch{
			ID:                  e.BatchID,
			Species:             rec.Species,
			ScientificName:      rec.ScientificName,
			Quantity:            rec.Quantity,
			Unit:                rec.Unit,
			CollectionTimestamp: rec.CollectionTimestamp.UTC(),
			CollectionLocation:  rec.Location,
			OriginActorID:       e.ActorID,
			CurrentCustodianID:  e.ActorID,
			CreatedAt:           e.Timestamp,
		}
	case EventAssignedToAgency:
		rec, err := DecodePayload[AssignmentRecord](e.Payload)
		if err != nil {
			return b, err
		}
		b.AssignedAgentID = rec.AgentID
		b.AgentAcknowledged = false
	case EventAssignmentAcknowledged:
		b.AgentAcknowledged = true
	case EventLabTestSubmitted:
		b.LatestVerdict = verdict
	case EventCollected, EventReceivedByLab, EventReceivedByManufacturer, EventProcessingSubmitted:
		b.CurrentCustodianID = e.ActorID
	}

	b.State = next
	b.LatestSequenceNumber = e.SequenceNumber
	b.LatestContentHash = e.ContentHash
	b.UpdatedAt = e.Timestamp
	return b, nil
}

// Replay rebuilds a batch summary from its ledger. Any event that the state
// machine would not have accepted is reported as CorruptLedger at its
// sequence number.
func Replay(events []CustodyEvent) (Batch, error) {
	var b Batch
	var last time.Time
	for i, e := range events {
		want := int64(i + 1)
		if e.SequenceNumber != want {
			return Batch{}, Corrupt(want, "expected sequence %d, found %d", want, e.SequenceNumber)
		}
		if i > 0 && e.Timestamp.Before(last) {
			return Batch{}, Corrupt(want, "timestamp precedes previous event")
		}
		next, err := Apply(b, e)
		if err != nil {
			return Batch{}, Corrupt(want, "replay %s: %v", e.EventType, err)
		}
		b = next
		last = e.Timestamp
	}
	return b, nil
}

// SameHead reports whether summary agrees with the replayed batch on every
// ledger-derived field.
func SameHead(summary, replayed Batch) bool {
	return summary.State == replayed.State &&
		summary.CurrentCustodianID == replayed.CurrentCustodianID &&
		summary.AssignedAgentID == replayed.AssignedAgentID &&
		summary.AgentAcknowledged == replayed.AgentAcknowledged &&
		summary.LatestVerdict == replayed.LatestVerdict &&
		summary.LatestSequenceNumber == replayed.LatestSequenceNumber &&
		summary.LatestContentHash == replayed.LatestContentHash
}
