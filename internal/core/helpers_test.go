package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"herbtrace/internal/infra/persistence/memory"
	"herbtrace/pkg/domain"
)

var baseTime = time.Date(2025, 3, 14, 6, 30, 0, 0, time.UTC)

// stepClock advances by one second on every read.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: baseTime}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func testDirectory(t *testing.T) *Directory {
	t.Helper()
	dir, err := NewDirectory(
		Actor{ID: "farmer-1", Role: domain.RoleFarmer, DisplayName: "Ravi Kumar", Organization: "Sahyadri Growers"},
		Actor{ID: "farmer-2", Role: domain.RoleFarmer, DisplayName: "Meena Patil"},
		Actor{ID: "agent-1", Role: domain.RoleCollectionAgent, DisplayName: "Anil Shinde", Organization: "Deccan Collection Co"},
		Actor{ID: "agent-2", Role: domain.RoleCollectionAgent, DisplayName: "Sunil More"},
		Actor{ID: "lab-1", Role: domain.RoleLaboratory, DisplayName: "Mumbai Herbal Testing Lab"},
		Actor{ID: "lab-2", Role: domain.RoleLaboratory, DisplayName: "Nashik Analytical"},
		Actor{ID: "mfr-1", Role: domain.RoleManufacturer, DisplayName: "Ayur Pharma", Organization: "Ayur Pharma Ltd"},
		Actor{ID: "mfr-2", Role: domain.RoleManufacturer, DisplayName: "Vedic Extracts"},
		Actor{ID: "admin-1", Role: domain.RoleAdministrator, DisplayName: "Registry Admin"},
	)
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	return dir
}

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	base := []ServiceOption{WithIdentityProvider(testDirectory(t)), WithClock(newStepClock())}
	return NewInMemoryService(nil, append(base, opts...)...)
}

func memoryStore(t *testing.T, svc *Service) *memory.Store {
	t.Helper()
	store, ok := svc.Store().(*memory.Store)
	if !ok {
		t.Fatalf("expected *memory.Store, got %T", svc.Store())
	}
	return store
}

func creationRecord() domain.CreationRecord {
	return domain.CreationRecord{
		Species:             "Ashwagandha",
		ScientificName:      "Withania somnifera",
		Quantity:            120,
		Unit:                "kg",
		CollectionTimestamp: baseTime.Add(-2 * time.Hour),
		Location:            domain.GeoPoint{Latitude: 18.5204, Longitude: 73.8567},
		Region:              domain.Region{Village: "Mulshi", District: "Pune", State: "Maharashtra", Country: "India"},
		PlantPart:           "root",
		OrganicCertified:    true,
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func passingLab() domain.LabTestRecord {
	return domain.LabTestRecord{
		MoisturePct:       8,
		AshPct:            5,
		HeavyMetals:       domain.HeavyMetals{Lead: 1, Mercury: 0.1, Arsenic: 0.5, Cadmium: 0.1},
		Microbial:         domain.MicrobialLoad{TotalBacterialCount: 1000, YeastMold: 100},
		DNABarcodeMatch:   true,
		CertificateNumber: "MHTL-2025-0042",
	}
}

func processingRecord() domain.ProcessingRecord {
	return domain.ProcessingRecord{
		InputQuantity:  120,
		OutputQuantity: 96,
		Unit:           "kg",
		Method:         "shade drying",
		Equipment:      "tray dryer",
		LotNumber:      "AP-ASH-0425",
		ProcessDate:    baseTime.Add(72 * time.Hour),
		ExpiryDate:     baseTime.Add(72*time.Hour + 2*365*24*time.Hour),
	}
}

func geo(lat, lng float64) *domain.GeoPoint {
	return &domain.GeoPoint{Latitude: lat, Longitude: lng}
}

type lifecycleStep struct {
	state   domain.State
	event   domain.EventType
	actor   string
	payload any
}

// happyPath lists the events that take a batch from Created to Distributed.
var happyPath = []lifecycleStep{
	{domain.StateAssignedToAgency, domain.EventAssignedToAgency, "farmer-1", domain.AssignmentRecord{AgentID: "agent-1"}},
	{domain.StateCollectedByAgency, domain.EventCollected, "agent-1", domain.HandoffRecord{Location: geo(18.6298, 73.7997), Vehicle: "MH12AB1234"}},
	{domain.StateInTransit, domain.EventInTransitMarked, "agent-1", domain.HandoffRecord{Vehicle: "MH12AB1234"}},
	{domain.StateReceivedByLab, domain.EventReceivedByLab, "lab-1", domain.HandoffRecord{Location: geo(19.0760, 72.8777)}},
	{domain.StateTestPassed, domain.EventLabTestSubmitted, "lab-1", passingLab()},
	{domain.StateReceivedByManufacturer, domain.EventReceivedByManufacturer, "mfr-1", domain.HandoffRecord{Location: geo(12.9716, 77.5946)}},
	{domain.StateProcessed, domain.EventProcessingSubmitted, "mfr-1", processingRecord()},
	{domain.StateDistributed, domain.EventDistributed, "mfr-1", domain.DistributionRecord{Destination: "Bengaluru depot", Carrier: "BlueDart"}},
}

func createBatch(t *testing.T, svc *Service) Batch {
	t.Helper()
	acc, err := svc.CreateBatch(context.Background(), "farmer-1", creationRecord())
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	return acc.Batch
}

func submit(t *testing.T, svc *Service, batchID string, evt domain.EventType, actor string, payload any) Accepted {
	t.Helper()
	acc, err := svc.SubmitTransition(context.Background(), TransitionRequest{
		BatchID:   batchID,
		EventType: evt,
		ActorID:   actor,
		Payload:   mustJSON(t, payload),
	})
	if err != nil {
		t.Fatalf("submit %s by %s: %v", evt, actor, err)
	}
	return acc
}

// advance creates a batch and drives it along the happy path until it
// reaches target.
func advance(t *testing.T, svc *Service, target domain.State) Batch {
	t.Helper()
	batch := createBatch(t, svc)
	for _, step := range happyPath {
		if batch.State == target {
			return batch
		}
		batch = submit(t, svc, batch.ID, step.event, step.actor, step.payload).Batch
	}
	if batch.State != target {
		t.Fatalf("state %s is not on the happy path", target)
	}
	return batch
}

func expectKind(t *testing.T, err error, kind domain.ErrorKind) *domain.Error {
	t.Helper()
	if !domain.IsKind(err, kind) {
		t.Fatalf("expected %s, got %v", kind, err)
	}
	var de *domain.Error
	errors.As(err, &de)
	return de
}
