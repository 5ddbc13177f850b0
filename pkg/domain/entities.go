// Package domain defines the batch custody entities, value types, and rule
// evaluation primitives used by herbtrace.
package domain

import (
	"encoding/json"
	"time"
)

// EntityType identifies the type of record touched by a ledger change.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityBatch identifies a batch summary record.
	EntityBatch EntityType = "batch"
	// EntityCustodyEvent identifies an appended custody ledger entry.
	EntityCustodyEvent EntityType = "custody_event"
	// EntityActor identifies a supply-chain participant in the identity directory.
	EntityActor EntityType = "actor"
)

// Role enumerates the fixed set of supply-chain actors.
type Role string

// Canonical actor roles.
const (
	RoleFarmer          Role = "Farmer"
	RoleCollectionAgent Role = "CollectionAgent"
	RoleLaboratory      Role = "Laboratory"
	RoleManufacturer    Role = "Manufacturer"
	RoleAdministrator   Role = "Administrator"
)

// Valid reports whether r is one of the canonical roles.
func (r Role) Valid() bool {
	switch r {
	case RoleFarmer, RoleCollectionAgent, RoleLaboratory, RoleManufacturer, RoleAdministrator:
		return true
	}
	return false
}

// EventType identifies the kind of custody ledger entry.
type EventType string

// Custody event types accepted by the lifecycle machine.
const (
	EventCreated                EventType = "Created"
	EventAssignedToAgency       EventType = "AssignedToAgency"
	EventAssignmentAcknowledged EventType = "AssignmentAcknowledged"
	EventCollected              EventType = "Collected"
	EventInTransitMarked        EventType = "InTransitMarked"
	EventReceivedByLab          EventType = "ReceivedByLab"
	EventLabTestSubmitted       EventType = "LabTestSubmitted"
	EventReceivedByManufacturer EventType = "ReceivedByManufacturer"
	EventProcessingSubmitted    EventType = "ProcessingSubmitted"
	EventDistributed            EventType = "Distributed"
	EventRecalled               EventType = "Recalled"
)

// Valid reports whether e is a known custody event type.
func (e EventType) Valid() bool {
	switch e {
	case EventCreated, EventAssignedToAgency, EventAssignmentAcknowledged, EventCollected,
		EventInTransitMarked, EventReceivedByLab, EventLabTestSubmitted, EventReceivedByManufacturer,
		EventProcessingSubmitted, EventDistributed, EventRecalled:
		return true
	}
	return false
}

// State represents the lifecycle position of a batch.
type State string

// Canonical batch states in lifecycle order.
const (
	StateCreated                State = "Created"
	StateAssignedToAgency       State = "AssignedToAgency"
	StateCollectedByAgency      State = "CollectedByAgency"
	StateInTransit              State = "InTransit"
	StateReceivedByLab          State = "ReceivedByLab"
	StateTestPassed             State = "TestPassed"
	StateTestFailed             State = "TestFailed"
	StateTestConditional        State = "TestConditional"
	StateReceivedByManufacturer State = "ReceivedByManufacturer"
	StateProcessed              State = "Processed"
	StateDistributed            State = "Distributed"
	StateRecalled               State = "Recalled"
)

// Valid reports whether s is a known batch state.
func (s State) Valid() bool {
	switch s {
	case StateCreated, StateAssignedToAgency, StateCollectedByAgency, StateInTransit, StateReceivedByLab,
		StateTestPassed, StateTestFailed, StateTestConditional, StateReceivedByManufacturer,
		StateProcessed, StateDistributed, StateRecalled:
		return true
	}
	return false
}

// Verdict is the outcome of a laboratory quality gate evaluation.
type Verdict string

// Quality gate verdicts.
const (
	VerdictPass        Verdict = "Pass"
	VerdictFail        Verdict = "Fail"
	VerdictConditional Verdict = "Conditional"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	AltitudeM *float64 `json:"altitudeM,omitempty"`
}

// Actor is an identity owned by the external identity collaborator. The core
// references actors by id and role only.
type Actor struct {
	ID           string `json:"id" yaml:"id"`
	Role         Role   `json:"role" yaml:"role"`
	DisplayName  string `json:"displayName" yaml:"displayName"`
	Organization string `json:"organization,omitempty" yaml:"organization"`
	Location     string `json:"location,omitempty" yaml:"location"`
}

// Batch is the summary row for a herb batch. Every field below the location is
// derived from the ledger and cached for O(1) head lookups.
type Batch struct {
	ID                  string    `json:"id"`
	Species             string    `json:"species"`
	ScientificName      string    `json:"scientificName,omitempty"`
	Quantity            float64   `json:"quantity"`
	Unit                string    `json:"unit"`
	CollectionTimestamp time.Time `json:"collectionTimestamp"`
	CollectionLocation  GeoPoint  `json:"collectionLocation"`
	OriginActorID       string    `json:"originActorId"`

	State                State     `json:"state"`
	CurrentCustodianID   string    `json:"currentCustodianId"`
	AssignedAgentID      string    `json:"assignedAgentId,omitempty"`
	AgentAcknowledged    bool      `json:"agentAcknowledged,omitempty"`
	LatestVerdict        Verdict   `json:"latestVerdict,omitempty"`
	LatestSequenceNumber int64     `json:"latestSequenceNumber"`
	LatestContentHash    string    `json:"latestContentHash"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// CustodyEvent is one immutable ledger entry.
type CustodyEvent struct {
	ID             string          `json:"id"`
	BatchID        string          `json:"batchId"`
	SequenceNumber int64           `json:"sequenceNumber"`
	ActorID        string          `json:"actorId"`
	ActorRole      Role            `json:"actorRole"`
	EventType      EventType       `json:"eventType"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"payload"`
	PreviousHash   string          `json:"previousHash"`
	ContentHash    string          `json:"contentHash"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before ChangePayload
	After  ChangePayload
}

// Action indicates the type of modification performed.
type Action string

// Change actions captured in the audit trail. Ledger entries are never
// updated or deleted so only create and update exist.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string     `json:"rule"`
	Severity Severity   `json:"severity"`
	Kind     ErrorKind  `json:"kind,omitempty"`
	Field    string     `json:"field,omitempty"`
	Sequence int64      `json:"sequence,omitempty"`
	Message  string     `json:"message"`
	Entity   EntityType `json:"entity,omitempty"`
	EntityID string     `json:"entityId,omitempty"`
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Blocking returns the first blocking violation, if any.
func (r Result) Blocking() (Violation, bool) {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return v, true
		}
	}
	return Violation{}, false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	if v, ok := e.Result.Blocking(); ok {
		return "transaction blocked by rule " + v.Rule + ": " + v.Message
	}
	return "transaction blocked by rules"
}
