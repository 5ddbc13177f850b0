package domain

import (
	"fmt"
	"slices"
)

// Thresholds are the regulatory limits applied by the quality gate. Version is
// recorded in every lab payload so historical verdicts stay explainable after
// limits change.
type Thresholds struct {
	Version             string  `json:"version" yaml:"version"`
	LeadPpm             float64 `json:"leadPpm" yaml:"leadPpm"`
	MercuryPpm          float64 `json:"mercuryPpm" yaml:"mercuryPpm"`
	ArsenicPpm          float64 `json:"arsenicPpm" yaml:"arsenicPpm"`
	CadmiumPpm          float64 `json:"cadmiumPpm" yaml:"cadmiumPpm"`
	MoisturePct         float64 `json:"moisturePct" yaml:"moisturePct"`
	TotalBacterialCount float64 `json:"totalBacterialCount" yaml:"totalBacterialCount"`
	YeastMold           float64 `json:"yeastMold" yaml:"yeastMold"`
}

// DefaultThresholds returns the built-in limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Version:             "default-1",
		LeadPpm:             10,
		MercuryPpm:          1,
		ArsenicPpm:          3,
		CadmiumPpm:          0.3,
		MoisturePct:         12,
		TotalBacterialCount: 100000,
		YeastMold:           1000,
	}
}

// Assessment is the outcome of a quality gate evaluation.
type Assessment struct {
	Verdict           Verdict
	FailReasons       []string
	Advisories        []string
	ThresholdsVersion string
}

// ReasonSpeciesMismatch is recorded when the DNA barcode does not match.
const ReasonSpeciesMismatch = "species mismatch"

// Evaluate applies the gate to a lab record. Rules run in order and the first
// failing tier decides: heavy metals, then DNA barcode, then moisture and
// microbial load.
func Evaluate(rec LabTestRecord, t Thresholds) Assessment {
	out := Assessment{ThresholdsVersion: t.Version}

	metals := []struct {
		name  string
		value float64
		limit float64
	}{
		{"lead", rec.HeavyMetals.Lead, t.LeadPpm},
		{"mercury", rec.HeavyMetals.Mercury, t.MercuryPpm},
		{"arsenic", rec.HeavyMetals.Arsenic, t.ArsenicPpm},
		{"cadmium", rec.HeavyMetals.Cadmium, t.CadmiumPpm},
	}
	for _, m := range metals {
		if m.value > m.limit {
			out.FailReasons = append(out.FailReasons, fmt.Sprintf("%s %g ppm exceeds limit %g ppm", m.name, m.value, m.limit))
		}
	}
	if len(out.FailReasons) > 0 {
		out.Verdict = VerdictFail
		return out
	}
	if !rec.DNABarcodeMatch {
		out.Verdict = VerdictFail
		out.FailReasons = []string{ReasonSpeciesMismatch}
		return out
	}

	if rec.MoisturePct > t.MoisturePct {
		out.Advisories = append(out.Advisories, fmt.Sprintf("moisture %g%% exceeds %g%%", rec.MoisturePct, t.MoisturePct))
	}
	if rec.Microbial.TotalBacterialCount > t.TotalBacterialCount {
		out.Advisories = append(out.Advisories, fmt.Sprintf("total bacterial count %g cfu/g exceeds %g cfu/g", rec.Microbial.TotalBacterialCount, t.TotalBacterialCount))
	}
	if rec.Microbial.YeastMold > t.YeastMold {
		out.Advisories = append(out.Advisories, fmt.Sprintf("yeast and mould %g cfu/g exceeds %g cfu/g", rec.Microbial.YeastMold, t.YeastMold))
	}
	if rec.Microbial.EColiDetected {
		out.Advisories = append(out.Advisories, "E. coli detected")
	}
	if rec.Microbial.SalmonellaDetected {
		out.Advisories = append(out.Advisories, "Salmonella detected")
	}
	if len(out.Advisories) > 0 {
		out.Verdict = VerdictConditional
		return out
	}
	out.Verdict = VerdictPass
	return out
}

// Stamp runs the gate and writes the assessment into the record. A verdict
// already supplied by the laboratory must agree with the gate.
func Stamp(rec LabTestRecord, t Thresholds) (LabTestRecord, error) {
	a := Evaluate(rec, t)
	if rec.Verdict != "" && rec.Verdict != a.Verdict {
		return rec, Invalid("verdict", "submitted verdict %s disagrees with computed verdict %s", rec.Verdict, a.Verdict)
	}
	rec.Verdict = a.Verdict
	rec.FailReasons = slices.Clone(a.FailReasons)
	rec.Advisories = slices.Clone(a.Advisories)
	rec.ThresholdsVersion = a.ThresholdsVersion
	return rec, nil
}

// CheckAssessment verifies the structural invariant of a stamped record:
// reasons are present exactly when the verdict is Fail and advisories exactly
// when it is Conditional.
func CheckAssessment(rec LabTestRecord) error {
	if _, ok := VerdictState(rec.Verdict); !ok {
		return Invalid("verdict", "verdict missing or unknown: %q", rec.Verdict)
	}
	if (rec.Verdict == VerdictFail) != (len(rec.FailReasons) > 0) {
		return Invalid("failReasons", "fail reasons must be present exactly when verdict is Fail")
	}
	if (rec.Verdict == VerdictConditional) != (len(rec.Advisories) > 0) {
		return Invalid("advisories", "advisories must be present exactly when verdict is Conditional")
	}
	return nil
}
