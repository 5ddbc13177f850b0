package core

import (
	"context"
	"errors"

	"herbtrace/pkg/domain"
)

// QualityGateRule blocks lab submissions whose stored assessment is
// inconsistent: a missing verdict, fail reasons without Fail or advisories
// without Conditional.
func QualityGateRule() domain.Rule {
	return qualityGateRule{}
}

type qualityGateRule struct{}

func (qualityGateRule) Name() string { return "quality_gate" }

func (r qualityGateRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, staged := range stagedAppends(changes) {
		e := staged.event
		if e.EventType != domain.EventLabTestSubmitted {
			continue
		}
		rec, err := domain.DecodePayload[domain.LabTestRecord](e.Payload)
		if err == nil {
			err = domain.CheckAssessment(rec)
		}
		if err != nil {
			field := "payload"
			var de *domain.Error
			if errors.As(err, &de) && de.Field != "" {
				field = de.Field
			}
			res.Violations = append(res.Violations, blockViolation(r.Name(), domain.KindValidationFailure, e, field, err.Error()))
		}
	}
	return res, nil
}
