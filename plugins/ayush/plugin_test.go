package ayush

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"herbtrace/internal/core"
	"herbtrace/pkg/domain"
	"herbtrace/testutil"
)

func TestPackUsesRuleViewOnly(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.StorageImportForbidden, "packs read batches through core.RuleView")
	testutil.AssertNoDirectImports(t, ".", testutil.TransportImportForbidden, "packs run inside the service, not behind HTTP")
}

func TestPluginRegistration(t *testing.T) {
	registry := core.NewPluginRegistry()
	if err := New().Register(registry); err != nil {
		t.Fatalf("register plugin: %v", err)
	}
	rules := registry.Rules()
	if len(rules) != 4 {
		t.Fatalf("expected four rules, got %d", len(rules))
	}
	names := []string{rules[0].Name(), rules[1].Name(), rules[2].Name(), rules[3].Name()}
	if strings.Join(names, ",") != RuleAflatoxin+","+RulePesticideResidue+","+RuleOrganicCertificate+","+RuleLabDeclaration {
		t.Fatalf("unexpected rule order: %v", names)
	}
	if _, ok := registry.Thresholds(); ok {
		t.Fatalf("the pack must not replace the quality gate profile")
	}
	if got := len(registry.Requirements()[domain.EventLabTestSubmitted]); got != 4 {
		t.Fatalf("expected four lab requirements, got %d", got)
	}
	if err := NewWithLimits(Limits{AflatoxinsPpb: 0, PesticideResiduePpm: 1}).Register(core.NewPluginRegistry()); err == nil {
		t.Fatalf("expected zero limit to be rejected")
	}
}

type labCase struct {
	name     string
	organic  bool
	record   func(*domain.LabTestRecord)
	expected []string
}

func TestAdvisoriesOnLabResults(t *testing.T) {
	aflatoxins := func(v float64) *float64 { return &v }
	declared := func(v bool) *bool { return &v }
	cases := []labCase{
		{
			name:    "clean conventional batch",
			organic: false,
			record:  func(*domain.LabTestRecord) {},
		},
		{
			name:     "organic batch without certificate",
			organic:  true,
			record:   func(r *domain.LabTestRecord) { r.CertificateNumber = "" },
			expected: []string{RuleOrganicCertificate + "/certificateNumber"},
		},
		{
			name:    "aflatoxins and residues over the ceilings",
			organic: true,
			record: func(r *domain.LabTestRecord) {
				r.AflatoxinsPpb = aflatoxins(32.5)
				r.PesticideResidues = map[string]float64{"malathion": 0.4, "chlorpyrifos": 0.25, "dichlorvos": 0.01}
			},
			expected: []string{
				RuleAflatoxin + "/aflatoxinsPpb",
				RulePesticideResidue + "/pesticideResidues.chlorpyrifos",
				RulePesticideResidue + "/pesticideResidues.malathion",
			},
		},
		{
			name:    "laboratory declares non-compliance",
			organic: false,
			record: func(r *domain.LabTestRecord) {
				r.AyushCompliant = declared(false)
				r.Remarks = "total ash near the monograph ceiling"
			},
			expected: []string{RuleLabDeclaration + "/ayushCompliance"},
		},
		{
			name:    "laboratory declares compliance",
			organic: false,
			record:  func(r *domain.LabTestRecord) { r.AyushCompliant = declared(true) },
		},
		{
			name:    "aflatoxins at the ceiling",
			organic: false,
			record:  func(r *domain.LabTestRecord) { r.AflatoxinsPpb = aflatoxins(20) },
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newService(t)
			batchID := toLab(t, svc, tc.organic)
			rec := domain.LabTestRecord{
				MoisturePct:       8,
				AshPct:            5,
				HeavyMetals:       domain.HeavyMetals{Lead: 1, Mercury: 0.1, Arsenic: 0.5, Cadmium: 0.1},
				Microbial:         domain.MicrobialLoad{TotalBacterialCount: 1000, YeastMold: 100},
				DNABarcodeMatch:   true,
				CertificateNumber: "MHTL-2025-0042",
			}
			tc.record(&rec)
			acc := submit(t, svc, batchID, domain.EventLabTestSubmitted, "lab-1", rec)
			if acc.State != domain.StateTestPassed {
				t.Fatalf("advisories must not change the verdict, got %s", acc.State)
			}
			var got []string
			for _, w := range acc.Warnings {
				if w.Severity != core.SeverityWarn || w.EntityID != batchID || w.Sequence != acc.Event.SequenceNumber {
					t.Fatalf("unexpected warning shape: %+v", w)
				}
				got = append(got, w.Rule+"/"+w.Field)
			}
			if strings.Join(got, ",") != strings.Join(tc.expected, ",") {
				t.Fatalf("expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestRulesIgnoreOtherEvents(t *testing.T) {
	svc := newService(t)
	acc, err := svc.CreateBatch(context.Background(), "farmer-1", creation(true))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(acc.Warnings) != 0 {
		t.Fatalf("creation should not warn, got %+v", acc.Warnings)
	}
	plugins := svc.RegisteredPlugins()
	if len(plugins) != 1 || plugins[0].Name != "ayush" || len(plugins[0].Rules) != 4 {
		t.Fatalf("unexpected plugin metadata: %+v", plugins)
	}
}

func newService(t *testing.T) *core.Service {
	t.Helper()
	dir, err := core.NewDirectory(
		domain.Actor{ID: "farmer-1", Role: domain.RoleFarmer},
		domain.Actor{ID: "agent-1", Role: domain.RoleCollectionAgent},
		domain.Actor{ID: "lab-1", Role: domain.RoleLaboratory},
	)
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	svc := core.NewInMemoryService(nil, core.WithIdentityProvider(dir))
	if _, err := svc.InstallPlugin(New()); err != nil {
		t.Fatalf("install: %v", err)
	}
	return svc
}

func creation(organic bool) domain.CreationRecord {
	return domain.CreationRecord{
		Species:             "Brahmi",
		ScientificName:      "Bacopa monnieri",
		Quantity:            40,
		Unit:                "kg",
		CollectionTimestamp: time.Date(2025, 7, 2, 5, 0, 0, 0, time.UTC),
		Location:            domain.GeoPoint{Latitude: 10.8505, Longitude: 76.2711},
		OrganicCertified:    organic,
	}
}

func toLab(t *testing.T, svc *core.Service, organic bool) string {
	t.Helper()
	acc, err := svc.CreateBatch(context.Background(), "farmer-1", creation(organic))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := acc.Batch.ID
	submit(t, svc, id, domain.EventAssignedToAgency, "farmer-1", domain.AssignmentRecord{AgentID: "agent-1"})
	submit(t, svc, id, domain.EventCollected, "agent-1", domain.HandoffRecord{Location: &domain.GeoPoint{Latitude: 10.52, Longitude: 76.21}, Vehicle: "KL08AB2211"})
	submit(t, svc, id, domain.EventInTransitMarked, "agent-1", domain.HandoffRecord{Vehicle: "KL08AB2211"})
	submit(t, svc, id, domain.EventReceivedByLab, "lab-1", domain.HandoffRecord{Location: &domain.GeoPoint{Latitude: 9.9312, Longitude: 76.2673}})
	return id
}

func submit(t *testing.T, svc *core.Service, batchID string, evt domain.EventType, actor string, payload any) core.Accepted {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	acc, err := svc.SubmitTransition(context.Background(), core.TransitionRequest{
		BatchID:   batchID,
		EventType: evt,
		ActorID:   actor,
		Payload:   raw,
	})
	if err != nil {
		t.Fatalf("submit %s: %v", evt, err)
	}
	return acc
}
