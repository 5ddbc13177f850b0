package core

import (
	"context"
	"fmt"

	"herbtrace/pkg/domain"
)

// TimestampOrderRule blocks events stamped before their predecessor.
func TimestampOrderRule() domain.Rule {
	return timestampOrderRule{}
}

type timestampOrderRule struct{}

func (timestampOrderRule) Name() string { return "timestamp_order" }

func (r timestampOrderRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, staged := range stagedAppends(changes) {
		e := staged.event
		events := view.ListEvents(e.BatchID)
		if len(events) < 2 {
			continue
		}
		prev := events[len(events)-2]
		if e.Timestamp.Before(prev.Timestamp) {
			res.Violations = append(res.Violations, blockViolation(r.Name(), domain.KindValidationFailure, e, "timestamp",
				fmt.Sprintf("event timestamp precedes sequence %d", prev.SequenceNumber)))
		}
	}
	return res, nil
}
