package core

import (
	"context"
	"fmt"

	"herbtrace/pkg/domain"
)

// LifecycleTransitionRule blocks appends whose summary change does not match
// the state machine.
func LifecycleTransitionRule() domain.Rule {
	return lifecycleTransitionRule{}
}

type lifecycleTransitionRule struct{}

// custodyChanging lists the events after which the appending actor holds the batch.
var custodyChanging = toSet(
	domain.EventCreated,
	domain.EventCollected,
	domain.EventReceivedByLab,
	domain.EventReceivedByManufacturer,
	domain.EventProcessingSubmitted,
)

func (lifecycleTransitionRule) Name() string { return "lifecycle_transition" }

func (r lifecycleTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, staged := range stagedAppends(changes) {
		e := staged.event
		from := staged.before.State
		if staged.created {
			from = ""
		}
		var verdict domain.Verdict
		if e.EventType == domain.EventLabTestSubmitted {
			rec, err := domain.DecodePayload[domain.LabTestRecord](e.Payload)
			if err != nil {
				res.Violations = append(res.Violations, blockViolation(r.Name(), domain.KindValidationFailure, e, "payload", err.Error()))
				continue
			}
			verdict = rec.Verdict
		}
		want, err := domain.NextState(from, e.EventType, verdict)
		if err != nil {
			kind := domain.KindOf(err)
			if kind == "" {
				kind = domain.KindInvalidTransition
			}
			res.Violations = append(res.Violations, blockViolation(r.Name(), kind, e, "", err.Error()))
			continue
		}
		if staged.after.State != want {
			res.Violations = append(res.Violations, blockViolation(r.Name(), domain.KindInvalidTransition, e, "",
				fmt.Sprintf("batch %s moved to %s, expected %s after %s", e.BatchID, staged.after.State, want, e.EventType)))
			continue
		}
		if _, moves := custodyChanging[e.EventType]; moves && staged.after.CurrentCustodianID != e.ActorID {
			res.Violations = append(res.Violations, blockViolation(r.Name(), domain.KindInvalidTransition, e, "",
				fmt.Sprintf("%s must hand custody to %s", e.EventType, e.ActorID)))
		}
	}
	return res, nil
}

func toSet[T comparable](values ...T) map[T]struct{} {
	set := make(map[T]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
