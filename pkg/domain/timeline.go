package domain

import "time"

// Stage is one human-readable step of a batch's chain of custody.
type Stage struct {
	Name              string    `json:"name"`
	EventType         EventType `json:"eventType"`
	SequenceNumber    int64     `json:"sequenceNumber"`
	ActorID           string    `json:"actorId"`
	ActorName         string    `json:"actorName"`
	ActorRole         Role      `json:"actorRole"`
	Organization      string    `json:"organization,omitempty"`
	Location          *GeoPoint `json:"location,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	Summary           string    `json:"summary"`
	ContentHash       string    `json:"contentHash"`
	CumulativeKm      float64   `json:"cumulativeKm"`
	StateAfter        State     `json:"stateAfter"`
	Advisories        []string  `json:"advisories,omitempty"`
	ThresholdsVersion string    `json:"thresholdsVersion,omitempty"`
}

// Timeline is the reconstructed provenance of a batch ordered by sequence.
type Timeline struct {
	BatchID      string        `json:"batchId"`
	Species      string        `json:"species"`
	State        State         `json:"state"`
	HeadSequence int64         `json:"headSequence"`
	HeadHash     string        `json:"headHash"`
	Algorithm    HashAlgorithm `json:"algorithm"`
	DistanceKm   float64       `json:"distanceKm"`
	Stages       []Stage       `json:"stages"`
}

// StageName returns the display label for an event type.
func StageName(evt EventType) string {
	switch evt {
	case EventCreated:
		return "Harvest registered"
	case EventAssignedToAgency:
		return "Assigned to collection agency"
	case EventAssignmentAcknowledged:
		return "Assignment acknowledged"
	case EventCollected:
		return "Collected by agency"
	case EventInTransitMarked:
		return "In transit to laboratory"
	case EventReceivedByLab:
		return "Received by laboratory"
	case EventLabTestSubmitted:
		return "Quality test"
	case EventReceivedByManufacturer:
		return "Received by manufacturer"
	case EventProcessingSubmitted:
		return "Processed"
	case EventDistributed:
		return "Distributed"
	case EventRecalled:
		return "Recalled"
	}
	return string(evt)
}
