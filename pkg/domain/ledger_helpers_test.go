package domain

import (
	"encoding/json"
	"testing"
	"time"
)

type step struct {
	actor   string
	role    Role
	evt     EventType
	payload any
}

var baseTime = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func sampleCreation() CreationRecord {
	return CreationRecord{
		Species:             "Ashwagandha",
		ScientificName:      "Withania somnifera",
		Quantity:            50,
		Unit:                "kg",
		CollectionTimestamp: baseTime.Add(-2 * time.Hour),
		Location:            GeoPoint{Latitude: 26.9124, Longitude: 75.7873},
		Region:              Region{Village: "Sanganer", District: "Jaipur", State: "Rajasthan", Country: "India"},
	}
}

func passingLab() LabTestRecord {
	return LabTestRecord{MoisturePct: 8, AshPct: 5, DNABarcodeMatch: true}
}

func sampleProcessing() ProcessingRecord {
	return ProcessingRecord{
		InputQuantity:  48,
		OutputQuantity: 40,
		Method:         "shade drying",
		Equipment:      "tray dryer",
		LotNumber:      "LOT-7",
		ProcessDate:    baseTime.Add(24 * time.Hour),
		ExpiryDate:     baseTime.Add(24 * time.Hour * 365),
	}
}

func fullJourney() []step {
	lab, _ := Stamp(passingLab(), DefaultThresholds())
	return []step{
		{"farmer-1", RoleFarmer, EventCreated, sampleCreation()},
		{"farmer-1", RoleFarmer, EventAssignedToAgency, AssignmentRecord{AgentID: "agent-1"}},
		{"agent-1", RoleCollectionAgent, EventAssignmentAcknowledged, HandoffRecord{}},
		{"agent-1", RoleCollectionAgent, EventCollected, HandoffRecord{}},
		{"agent-1", RoleCollectionAgent, EventInTransitMarked, HandoffRecord{Vehicle: "RJ14 AB 1234"}},
		{"lab-1", RoleLaboratory, EventReceivedByLab, HandoffRecord{}},
		{"lab-1", RoleLaboratory, EventLabTestSubmitted, lab},
		{"maker-1", RoleManufacturer, EventReceivedByManufacturer, HandoffRecord{}},
		{"maker-1", RoleManufacturer, EventProcessingSubmitted, sampleProcessing()},
		{"maker-1", RoleManufacturer, EventDistributed, DistributionRecord{Destination: "Delhi depot"}},
	}
}

func sealAll(t *testing.T, h Hasher, batchID string, steps []step) []CustodyEvent {
	t.Helper()
	var events []CustodyEvent
	for i, s := range steps {
		raw, err := json.Marshal(s.payload)
		if err != nil {
			t.Fatalf("marshal payload %d: %v", i, err)
		}
		var prev *CustodyEvent
		if len(events) > 0 {
			prev = &events[len(events)-1]
		}
		e, err := h.Seal(CustodyEvent{
			ID:        batchID + "-" + string(s.evt),
			BatchID:   batchID,
			ActorID:   s.actor,
			ActorRole: s.role,
			EventType: s.evt,
			Timestamp: baseTime.Add(time.Duration(i) * time.Minute),
			Payload:   raw,
		}, prev)
		if err != nil {
			t.Fatalf("seal %d: %v", i, err)
		}
		events = append(events, e)
	}
	return events
}
