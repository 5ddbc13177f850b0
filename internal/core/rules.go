package core

import (
	"herbtrace/pkg/domain"
)

// NewDefaultRulesEngine builds a rules engine with the built-in ledger policy
// set. The rules re-check every staged append after the service's own
// validation.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(LifecycleTransitionRule())
	engine.Register(ChainLinkRule())
	engine.Register(TimestampOrderRule())
	engine.Register(QualityGateRule())
	return engine
}

// stagedAppend extracts the appended event and the batch summary before and
// after it from a transaction's change set.
type stagedAppend struct {
	event   CustodyEvent
	before  Batch
	created bool
	after   Batch
}

func stagedAppends(changes []Change) []stagedAppend {
	var out []stagedAppend
	for i, change := range changes {
		if change.Entity != domain.EntityCustodyEvent || change.Action != domain.ActionCreate {
			continue
		}
		event, ok := domain.DecodeChangePayload[CustodyEvent](change.After)
		if !ok {
			continue
		}
		staged := stagedAppend{event: event}
		if i+1 < len(changes) && changes[i+1].Entity == domain.EntityBatch {
			next := changes[i+1]
			staged.created = next.Action == domain.ActionCreate
			staged.after, _ = domain.DecodeChangePayload[Batch](next.After)
			if !staged.created {
				staged.before, _ = domain.DecodeChangePayload[Batch](next.Before)
			}
		}
		out = append(out, staged)
	}
	return out
}

// AppendedEvents returns the custody events a change set appends, in order.
// Plugin rules use it to inspect staged appends.
func AppendedEvents(changes []Change) []CustodyEvent {
	staged := stagedAppends(changes)
	out := make([]CustodyEvent, 0, len(staged))
	for _, s := range staged {
		out = append(out, s.event)
	}
	return out
}

func blockViolation(rule string, kind domain.ErrorKind, e CustodyEvent, field, message string) Violation {
	return Violation{
		Rule:     rule,
		Severity: SeverityBlock,
		Kind:     kind,
		Field:    field,
		Sequence: e.SequenceNumber,
		Message:  message,
		Entity:   domain.EntityCustodyEvent,
		EntityID: e.BatchID,
	}
}
