// Package ayush is the compliance pack for herbal raw material destined for
// AYUSH manufacturing. Its rules only warn; they never block an append.
package ayush

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"herbtrace/internal/core"
	"herbtrace/pkg/domain"
)

// Rule names.
const (
	RuleAflatoxin          = "ayush_aflatoxin_advisory"
	RulePesticideResidue   = "ayush_pesticide_residue_advisory"
	RuleOrganicCertificate = "ayush_organic_certificate_note"
	RuleLabDeclaration     = "ayush_lab_declaration_note"
)

// Limits are the advisory ceilings checked on laboratory results.
type Limits struct {
	// AflatoxinsPpb is the total aflatoxin ceiling (B1+B2+G1+G2).
	AflatoxinsPpb float64
	// PesticideResiduePpm applies to every reported chemical.
	PesticideResiduePpm float64
}

// DefaultLimits returns the pack's built-in ceilings.
func DefaultLimits() Limits {
	return Limits{AflatoxinsPpb: 20, PesticideResiduePpm: 0.1}
}

// Plugin registers the AYUSH advisory rules.
type Plugin struct {
	limits Limits
}

// New constructs the plugin with DefaultLimits.
func New() Plugin {
	return Plugin{limits: DefaultLimits()}
}

// NewWithLimits constructs the plugin with custom ceilings.
func NewWithLimits(l Limits) Plugin {
	return Plugin{limits: l}
}

// Name returns the plugin identifier.
func (Plugin) Name() string { return "ayush" }

// Version returns the plugin semantic version.
func (Plugin) Version() string { return "0.3.0" }

// Register wires the advisory rules and documents the payload fields they
// read.
func (p Plugin) Register(registry *core.PluginRegistry) error {
	if p.limits.AflatoxinsPpb <= 0 || p.limits.PesticideResiduePpm <= 0 {
		return fmt.Errorf("ayush: limits must be positive, got %+v", p.limits)
	}
	registry.RegisterRule(aflatoxinRule{limit: p.limits.AflatoxinsPpb})
	registry.RegisterRule(pesticideRule{limit: p.limits.PesticideResiduePpm})
	registry.RegisterRule(organicCertificateRule{})
	registry.RegisterRule(labDeclarationRule{})

	registry.RegisterRequirement(domain.EventLabTestSubmitted, "report total aflatoxins in ppb as aflatoxinsPpb")
	registry.RegisterRequirement(domain.EventLabTestSubmitted, "report pesticide residues per chemical in ppm as pesticideResidues")
	registry.RegisterRequirement(domain.EventLabTestSubmitted, "organic batches carry the laboratory certificateNumber")
	registry.RegisterRequirement(domain.EventLabTestSubmitted, "declare conformity with the AYUSH monograph as ayushCompliance")
	return nil
}

// labResults yields the decodable laboratory results among the staged
// appends. Undecodable payloads are left to the built-in quality gate.
func labResults(changes []core.Change) []labResult {
	var out []labResult
	for _, e := range core.AppendedEvents(changes) {
		if e.EventType != domain.EventLabTestSubmitted {
			continue
		}
		rec, err := domain.DecodePayload[domain.LabTestRecord](e.Payload)
		if err != nil {
			continue
		}
		out = append(out, labResult{event: e, record: rec})
	}
	return out
}

type labResult struct {
	event  core.CustodyEvent
	record domain.LabTestRecord
}

func warning(rule string, e core.CustodyEvent, field, message string) core.Violation {
	return core.Violation{
		Rule:     rule,
		Severity: core.SeverityWarn,
		Field:    field,
		Sequence: e.SequenceNumber,
		Message:  message,
		Entity:   domain.EntityCustodyEvent,
		EntityID: e.BatchID,
	}
}

type aflatoxinRule struct {
	limit float64
}

func (aflatoxinRule) Name() string { return RuleAflatoxin }

func (r aflatoxinRule) Evaluate(_ context.Context, _ core.RuleView, changes []core.Change) (core.Result, error) {
	var res core.Result
	for _, lab := range labResults(changes) {
		if lab.record.AflatoxinsPpb == nil || *lab.record.AflatoxinsPpb <= r.limit {
			continue
		}
		res.Violations = append(res.Violations, warning(RuleAflatoxin, lab.event, "aflatoxinsPpb",
			fmt.Sprintf("total aflatoxins %.2f ppb exceed %.2f ppb", *lab.record.AflatoxinsPpb, r.limit)))
	}
	return res, nil
}

type pesticideRule struct {
	limit float64
}

func (pesticideRule) Name() string { return RulePesticideResidue }

func (r pesticideRule) Evaluate(_ context.Context, _ core.RuleView, changes []core.Change) (core.Result, error) {
	var res core.Result
	for _, lab := range labResults(changes) {
		chemicals := make([]string, 0, len(lab.record.PesticideResidues))
		for chem := range lab.record.PesticideResidues {
			chemicals = append(chemicals, chem)
		}
		sort.Strings(chemicals)
		for _, chem := range chemicals {
			ppm := lab.record.PesticideResidues[chem]
			if ppm <= r.limit {
				continue
			}
			res.Violations = append(res.Violations, warning(RulePesticideResidue, lab.event, "pesticideResidues."+chem,
				fmt.Sprintf("%s residue %.3f ppm exceeds %.3f ppm", chem, ppm, r.limit)))
		}
	}
	return res, nil
}

// organicCertificateRule notes organic batches whose laboratory result has no
// certificate number. Organic status comes from the batch's Created event.
type organicCertificateRule struct{}

func (organicCertificateRule) Name() string { return RuleOrganicCertificate }

func (organicCertificateRule) Evaluate(_ context.Context, view core.RuleView, changes []core.Change) (core.Result, error) {
	var res core.Result
	for _, lab := range labResults(changes) {
		if strings.TrimSpace(lab.record.CertificateNumber) != "" {
			continue
		}
		if !organic(view, lab.event.BatchID) {
			continue
		}
		res.Violations = append(res.Violations, warning(RuleOrganicCertificate, lab.event, "certificateNumber",
			"organic batch tested without a laboratory certificate number"))
	}
	return res, nil
}

// labDeclarationRule notes results the laboratory itself declared
// non-compliant with the AYUSH monograph.
type labDeclarationRule struct{}

func (labDeclarationRule) Name() string { return RuleLabDeclaration }

func (labDeclarationRule) Evaluate(_ context.Context, _ core.RuleView, changes []core.Change) (core.Result, error) {
	var res core.Result
	for _, lab := range labResults(changes) {
		if lab.record.AyushCompliant == nil || *lab.record.AyushCompliant {
			continue
		}
		msg := "laboratory declared the sample non-compliant with the AYUSH monograph"
		if remarks := strings.TrimSpace(lab.record.Remarks); remarks != "" {
			msg += ": " + remarks
		}
		res.Violations = append(res.Violations, warning(RuleLabDeclaration, lab.event, "ayushCompliance", msg))
	}
	return res, nil
}

func organic(view core.RuleView, batchID string) bool {
	for _, e := range view.ListEvents(batchID) {
		if e.EventType != domain.EventCreated {
			continue
		}
		rec, err := domain.DecodePayload[domain.CreationRecord](e.Payload)
		return err == nil && rec.OrganicCertified
	}
	return false
}
