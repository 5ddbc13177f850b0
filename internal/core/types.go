package core

import "herbtrace/pkg/domain"

type (
	Batch              = domain.Batch
	CustodyEvent       = domain.CustodyEvent
	Actor              = domain.Actor
	Role               = domain.Role
	EventType          = domain.EventType
	State              = domain.State
	Severity           = domain.Severity
	Change             = domain.Change
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	Rule               = domain.Rule
	RuleView           = domain.RuleView
	RulesEngine        = domain.RulesEngine
	Timeline           = domain.Timeline
	VerificationToken  = domain.VerificationToken
	VerificationResult = domain.VerificationResult
	PersistentStore    = domain.PersistentStore
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}
