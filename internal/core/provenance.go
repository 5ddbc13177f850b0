package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/golang/geo/s2"
	"github.com/shopspring/decimal"

	"herbtrace/pkg/domain"
)

// EarthRadiusKm is the mean Earth radius used for trace distances.
const EarthRadiusKm = 6371.0088

// GetTimeline reconstructs the chain of custody of a batch from a consistent
// ledger snapshot. Any chain or replay inconsistency is reported as
// CorruptLedger at the first bad sequence.
func (s *Service) GetTimeline(ctx context.Context, id string) (Timeline, error) {
	var out Timeline
	err := s.run(ctx, opGetTimeline, &opScope{entityID: id}, func(ctx context.Context) error {
		batch, events, err := s.snapshot(ctx, id)
		if err != nil {
			return err
		}
		out, err = s.reconstruct(ctx, batch, events)
		return err
	})
	return out, err
}

func (s *Service) reconstruct(ctx context.Context, batch Batch, events []CustodyEvent) (Timeline, error) {
	hasher := s.store.Hasher()
	if _, err := verifyLedger(hasher, batch, events); err != nil {
		return Timeline{}, err
	}
	names := newActorNames(ctx, s.identity, s.logger)
	tl := Timeline{
		BatchID:      batch.ID,
		Species:      batch.Species,
		State:        batch.State,
		HeadSequence: batch.LatestSequenceNumber,
		HeadHash:     batch.LatestContentHash,
		Algorithm:    hasher.Algorithm(),
		Stages:       make([]domain.Stage, 0, len(events)),
	}

	var (
		state    Batch
		last     *domain.GeoPoint
		traveled float64
	)
	for _, e := range events {
		next, err := domain.Apply(state, e)
		if err != nil {
			return Timeline{}, domain.Corrupt(e.SequenceNumber, "replay %s: %v", e.EventType, err)
		}
		state = next

		actor := names.resolve(e.ActorID, e.ActorRole)
		stage := domain.Stage{
			Name:           domain.StageName(e.EventType),
			EventType:      e.EventType,
			SequenceNumber: e.SequenceNumber,
			ActorID:        e.ActorID,
			ActorName:      actor.DisplayName,
			ActorRole:      e.ActorRole,
			Organization:   actor.Organization,
			Timestamp:      e.Timestamp,
			ContentHash:    e.ContentHash,
			StateAfter:     state.State,
		}
		if err := describe(&stage, e, names); err != nil {
			return Timeline{}, domain.Corrupt(e.SequenceNumber, "decode %s payload: %v", e.EventType, err)
		}
		if stage.Location != nil {
			if last != nil {
				traveled += DistanceKm(*last, *stage.Location)
			}
			last = stage.Location
		}
		stage.CumulativeKm = traveled
		tl.Stages = append(tl.Stages, stage)
	}
	tl.DistanceKm = traveled
	return tl, nil
}

// DistanceKm returns the great-circle distance between two points.
func DistanceKm(a, b domain.GeoPoint) float64 {
	from := s2.LatLngFromDegrees(a.Latitude, a.Longitude)
	to := s2.LatLngFromDegrees(b.Latitude, b.Longitude)
	return from.Distance(to).Radians() * EarthRadiusKm
}

// describe fills the location and human-readable summary of a stage from the
// event payload. Stored verdicts are reported as recorded.
func describe(stage *domain.Stage, e CustodyEvent, names *actorNames) error {
	switch e.EventType {
	case domain.EventCreated:
		rec, err := domain.DecodePayload[domain.CreationRecord](e.Payload)
		if err != nil {
			return err
		}
		loc := rec.Location
		stage.Location = &loc
		species := rec.Species
		if rec.ScientificName != "" {
			species = fmt.Sprintf("%s (%s)", rec.Species, rec.ScientificName)
		}
		stage.Summary = fmt.Sprintf("Harvested %g %s of %s", rec.Quantity, rec.Unit, species)
		if region := rec.Region.String(); region != "" {
			stage.Summary += " at " + region
		}
		if rec.OrganicCertified {
			stage.Summary += ", organic certified"
		}
	case domain.EventAssignedToAgency:
		rec, err := domain.DecodePayload[domain.AssignmentRecord](e.Payload)
		if err != nil {
			return err
		}
		agent := names.resolve(rec.AgentID, domain.RoleCollectionAgent)
		stage.Summary = "Assigned to " + agent.DisplayName
		if agent.Organization != "" {
			stage.Summary += " of " + agent.Organization
		}
	case domain.EventAssignmentAcknowledged, domain.EventCollected, domain.EventInTransitMarked,
		domain.EventReceivedByLab, domain.EventReceivedByManufacturer:
		rec, err := domain.DecodePayload[domain.HandoffRecord](e.Payload)
		if err != nil {
			return err
		}
		stage.Location = rec.Location
		stage.Summary = handoffSummary(stage.Name, rec)
	case domain.EventLabTestSubmitted:
		rec, err := domain.DecodePayload[domain.LabTestRecord](e.Payload)
		if err != nil {
			return err
		}
		stage.Summary = "Verdict " + string(rec.Verdict)
		if rec.TestType != "" {
			stage.Summary = rec.TestType + ": " + stage.Summary
		}
		if len(rec.FailReasons) > 0 {
			stage.Summary += ": " + strings.Join(rec.FailReasons, "; ")
		}
		if rec.CertificateNumber != "" {
			stage.Summary += " (certificate " + rec.CertificateNumber + ")"
		}
		if compounds := compoundSummary(rec.ActiveCompounds); compounds != "" {
			stage.Summary += ", actives " + compounds
		}
		if rec.Remarks != "" {
			stage.Summary += ". " + rec.Remarks
		}
		stage.Advisories = append([]string(nil), rec.Advisories...)
		stage.ThresholdsVersion = rec.ThresholdsVersion
	case domain.EventProcessingSubmitted:
		rec, err := domain.DecodePayload[domain.ProcessingRecord](e.Payload)
		if err != nil {
			return err
		}
		stage.Summary = fmt.Sprintf("Lot %s: %s using %s, %g to %g %s, yield %s%%, expires %s",
			rec.LotNumber, rec.Method, rec.Equipment, rec.InputQuantity, rec.OutputQuantity, rec.Unit,
			YieldPercent(rec).StringFixed(2), rec.ExpiryDate.Format("2006-01-02"))
	case domain.EventDistributed:
		rec, err := domain.DecodePayload[domain.DistributionRecord](e.Payload)
		if err != nil {
			return err
		}
		stage.Summary = "Shipped to " + rec.Destination
		if rec.Carrier != "" {
			stage.Summary += " via " + rec.Carrier
		}
	case domain.EventRecalled:
		rec, err := domain.DecodePayload[domain.RecallRecord](e.Payload)
		if err != nil {
			return err
		}
		stage.Summary = "Recalled: " + rec.Reason
	default:
		stage.Summary = stage.Name
	}
	return nil
}

func handoffSummary(name string, rec domain.HandoffRecord) string {
	parts := []string{name}
	if rec.ObservedQuantity != nil {
		parts = append(parts, fmt.Sprintf("observed %g", *rec.ObservedQuantity))
	}
	if rec.Vehicle != "" {
		parts = append(parts, "vehicle "+rec.Vehicle)
	}
	if rec.Notes != "" {
		parts = append(parts, rec.Notes)
	}
	return strings.Join(parts, ", ")
}

// YieldPercent returns output/input as a percentage with exact decimal
// arithmetic.
func YieldPercent(rec domain.ProcessingRecord) decimal.Decimal {
	in := decimal.NewFromFloat(rec.InputQuantity)
	if in.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromFloat(rec.OutputQuantity).Div(in).Mul(decimal.NewFromInt(100))
}

// actorNames caches identity lookups for one reconstruction. Unknown actors
// fall back to their id.
type actorNames struct {
	ctx      context.Context
	identity IdentityProvider
	logger   Logger
	cache    map[string]Actor
}

func newActorNames(ctx context.Context, identity IdentityProvider, logger Logger) *actorNames {
	return &actorNames{ctx: ctx, identity: identity, logger: logger, cache: make(map[string]Actor)}
}

func (n *actorNames) resolve(id string, role domain.Role) Actor {
	if a, ok := n.cache[id]; ok {
		return a
	}
	a, err := n.identity.GetActor(n.ctx, id)
	if err != nil {
		if !domain.IsKind(err, domain.KindNotFound) {
			n.logger.Warn("identity lookup failed", "actorId", id, "error", err.Error())
		}
		a = Actor{ID: id, Role: role}
	}
	if strings.TrimSpace(a.DisplayName) == "" {
		a.DisplayName = id
	}
	n.cache[id] = a
	return a
}

// compoundSummary lists marker compounds by name as "name x%".
func compoundSummary(compounds map[string]float64) string {
	names := make([]string, 0, len(compounds))
	for name := range compounds {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s %g%%", name, compounds[name])
	}
	return strings.Join(parts, ", ")
}
