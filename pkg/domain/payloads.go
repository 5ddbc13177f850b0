package domain

import (
	"math"
	"strings"
	"time"
)

// Region is the administrative location of a harvest.
type Region struct {
	Village  string `json:"village,omitempty"`
	District string `json:"district,omitempty"`
	State    string `json:"state,omitempty"`
	Country  string `json:"country,omitempty"`
}

// String renders the non-empty parts of the region, most specific first.
func (r Region) String() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{r.Village, r.District, r.State, r.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Weather captures the harvest conditions reported by the farmer.
type Weather struct {
	TemperatureC *float64 `json:"temperatureC,omitempty"`
	HumidityPct  *float64 `json:"humidityPct,omitempty"`
	Rainfall     string   `json:"rainfall,omitempty"`
}

// CreationRecord is the payload of a Created event.
type CreationRecord struct {
	Species             string    `json:"species"`
	ScientificName      string    `json:"scientificName,omitempty"`
	Quantity            float64   `json:"quantity"`
	Unit                string    `json:"unit"`
	CollectionTimestamp time.Time `json:"collectionTimestamp"`
	Location            GeoPoint  `json:"location"`
	Region              Region    `json:"region,omitempty"`
	SoilType            string    `json:"soilType,omitempty"`
	Weather             Weather   `json:"weather,omitempty"`
	HarvestingMethod    string    `json:"harvestingMethod,omitempty"`
	PlantPart           string    `json:"plantPart,omitempty"`
	PlantAge            string    `json:"plantAge,omitempty"`
	OrganicCertified    bool      `json:"organicCertified"`
}

// Validate checks required fields, quantity and coordinates.
func (r CreationRecord) Validate() error {
	if strings.TrimSpace(r.Species) == "" {
		return Invalid("species", "species is required")
	}
	if !(r.Quantity > 0) || math.IsInf(r.Quantity, 0) {
		return Invalid("quantity", "quantity must be positive, got %v", r.Quantity)
	}
	if strings.TrimSpace(r.Unit) == "" {
		return Invalid("unit", "unit is required")
	}
	if r.CollectionTimestamp.IsZero() {
		return Invalid("collectionTimestamp", "collection timestamp is required")
	}
	return r.Location.validate("location")
}

func (p GeoPoint) validate(field string) error {
	if math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return Invalid(field+".latitude", "latitude %v outside [-90,90]", p.Latitude)
	}
	if math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return Invalid(field+".longitude", "longitude %v outside [-180,180]", p.Longitude)
	}
	return nil
}

// AssignmentRecord is the payload of an AssignedToAgency event.
type AssignmentRecord struct {
	AgentID string `json:"agentId"`
	Notes   string `json:"notes,omitempty"`
}

// Validate checks that an agent is named.
func (r AssignmentRecord) Validate() error {
	if strings.TrimSpace(r.AgentID) == "" {
		return Invalid("agentId", "agent id is required")
	}
	return nil
}

// HandoffRecord is the payload shared by the plain custody handoff events.
type HandoffRecord struct {
	Location         *GeoPoint `json:"location,omitempty"`
	ObservedQuantity *float64  `json:"observedQuantity,omitempty"`
	Vehicle          string    `json:"vehicle,omitempty"`
	Notes            string    `json:"notes,omitempty"`
}

// Validate checks the optional location and observed quantity.
func (r HandoffRecord) Validate() error {
	if r.Location != nil {
		if err := r.Location.validate("location"); err != nil {
			return err
		}
	}
	if r.ObservedQuantity != nil && !(*r.ObservedQuantity > 0) {
		return Invalid("observedQuantity", "observed quantity must be positive")
	}
	return nil
}

// HeavyMetals holds concentrations in ppm.
type HeavyMetals struct {
	Lead    float64 `json:"lead"`
	Mercury float64 `json:"mercury"`
	Arsenic float64 `json:"arsenic"`
	Cadmium float64 `json:"cadmium"`
}

// MicrobialLoad holds counts in cfu/g plus pathogen presence flags.
type MicrobialLoad struct {
	TotalBacterialCount float64 `json:"totalBacterialCount"`
	YeastMold           float64 `json:"yeastMold"`
	EColiDetected       bool    `json:"eColiDetected"`
	SalmonellaDetected  bool    `json:"salmonellaDetected"`
}

// LabTestRecord is the payload of a LabTestSubmitted event. Verdict,
// FailReasons, Advisories and ThresholdsVersion are written by the quality gate
// at submission time and are never recomputed.
type LabTestRecord struct {
	TestType                 string             `json:"testType,omitempty"`
	MoisturePct              float64            `json:"moisturePct"`
	AshPct                   float64            `json:"ashPct"`
	AcidInsolubleAshPct      *float64           `json:"acidInsolubleAshPct,omitempty"`
	WaterSolubleExtractPct   *float64           `json:"waterSolubleExtractPct,omitempty"`
	AlcoholSolubleExtractPct *float64           `json:"alcoholSolubleExtractPct,omitempty"`
	HeavyMetals              HeavyMetals        `json:"heavyMetals"`
	Microbial                MicrobialLoad      `json:"microbial"`
	// ActiveCompounds maps a marker compound to its content in percent w/w.
	ActiveCompounds   map[string]float64 `json:"activeCompounds,omitempty"`
	AflatoxinsPpb     *float64           `json:"aflatoxinsPpb,omitempty"`
	PesticideResidues map[string]float64 `json:"pesticideResidues,omitempty"`
	DNABarcodeMatch   bool               `json:"dnaBarcodeMatch"`
	// AyushCompliant is the laboratory's own declaration against the AYUSH
	// pharmacopoeia monograph. It does not feed the quality gate.
	AyushCompliant    *bool      `json:"ayushCompliance,omitempty"`
	CertificateNumber string     `json:"certificateNumber,omitempty"`
	Remarks           string     `json:"remarks,omitempty"`
	TestedAt          *time.Time `json:"testedAt,omitempty"`
	Verdict           Verdict    `json:"verdict,omitempty"`
	FailReasons       []string   `json:"failReasons,omitempty"`
	Advisories        []string   `json:"advisories,omitempty"`
	ThresholdsVersion string     `json:"thresholdsVersion,omitempty"`
}

// Validate checks measurement ranges. Verdict consistency is checked by the
// quality gate.
func (r LabTestRecord) Validate() error {
	if r.MoisturePct < 0 || r.MoisturePct > 100 || math.IsNaN(r.MoisturePct) {
		return Invalid("moisturePct", "moisture must be within [0,100]")
	}
	if r.AshPct < 0 || r.AshPct > 100 || math.IsNaN(r.AshPct) {
		return Invalid("ashPct", "ash must be within [0,100]")
	}
	for _, pct := range []struct {
		field string
		value *float64
	}{
		{"acidInsolubleAshPct", r.AcidInsolubleAshPct},
		{"waterSolubleExtractPct", r.WaterSolubleExtractPct},
		{"alcoholSolubleExtractPct", r.AlcoholSolubleExtractPct},
	} {
		if pct.value != nil && !validPercent(*pct.value) {
			return Invalid(pct.field, "percentage must be within [0,100]")
		}
	}
	metals := map[string]float64{
		"heavyMetals.lead":    r.HeavyMetals.Lead,
		"heavyMetals.mercury": r.HeavyMetals.Mercury,
		"heavyMetals.arsenic": r.HeavyMetals.Arsenic,
		"heavyMetals.cadmium": r.HeavyMetals.Cadmium,
	}
	for _, field := range []string{"heavyMetals.lead", "heavyMetals.mercury", "heavyMetals.arsenic", "heavyMetals.cadmium"} {
		if v := metals[field]; v < 0 || math.IsNaN(v) {
			return Invalid(field, "concentration must not be negative")
		}
	}
	if r.Microbial.TotalBacterialCount < 0 {
		return Invalid("microbial.totalBacterialCount", "count must not be negative")
	}
	if r.Microbial.YeastMold < 0 {
		return Invalid("microbial.yeastMold", "count must not be negative")
	}
	if r.AflatoxinsPpb != nil && *r.AflatoxinsPpb < 0 {
		return Invalid("aflatoxinsPpb", "aflatoxins must not be negative")
	}
	for name, v := range r.PesticideResidues {
		if v < 0 {
			return Invalid("pesticideResidues."+name, "residue must not be negative")
		}
	}
	for name, v := range r.ActiveCompounds {
		if strings.TrimSpace(name) == "" {
			return Invalid("activeCompounds", "compound name is required")
		}
		if !validPercent(v) {
			return Invalid("activeCompounds."+name, "content must be within [0,100]")
		}
	}
	switch r.Verdict {
	case "", VerdictPass, VerdictFail, VerdictConditional:
	default:
		return Invalid("verdict", "unknown verdict %q", r.Verdict)
	}
	return nil
}

func validPercent(v float64) bool {
	return v >= 0 && v <= 100 && !math.IsNaN(v)
}

// ProcessingRecord is the payload of a ProcessingSubmitted event.
type ProcessingRecord struct {
	InputQuantity     float64   `json:"inputQuantity"`
	OutputQuantity    float64   `json:"outputQuantity"`
	Unit              string    `json:"unit,omitempty"`
	ProcessType       string    `json:"processType,omitempty"`
	Method            string    `json:"method"`
	Equipment         string    `json:"equipment"`
	LotNumber         string    `json:"lotNumber"`
	ProcessDate       time.Time `json:"processDate"`
	ExpiryDate        time.Time `json:"expiryDate"`
	TemperatureC      *float64  `json:"temperatureC,omitempty"`
	Duration          string    `json:"duration,omitempty"`
	StorageConditions string    `json:"storageConditions,omitempty"`
	QualityGrade      string    `json:"qualityGrade,omitempty"`
	Packaging         string    `json:"packaging,omitempty"`
}

// Validate checks quantities, required descriptors and dates.
func (r ProcessingRecord) Validate() error {
	if !(r.InputQuantity > 0) {
		return Invalid("inputQuantity", "input quantity must be positive")
	}
	if !(r.OutputQuantity > 0) {
		return Invalid("outputQuantity", "output quantity must be positive")
	}
	if r.OutputQuantity > r.InputQuantity {
		return Invalid("outputQuantity", "output quantity %v exceeds input %v", r.OutputQuantity, r.InputQuantity)
	}
	if strings.TrimSpace(r.Method) == "" {
		return Invalid("method", "processing method is required")
	}
	if strings.TrimSpace(r.Equipment) == "" {
		return Invalid("equipment", "equipment is required")
	}
	if strings.TrimSpace(r.LotNumber) == "" {
		return Invalid("lotNumber", "lot number is required")
	}
	if r.ProcessDate.IsZero() {
		return Invalid("processDate", "process date is required")
	}
	if !r.ExpiryDate.After(r.ProcessDate) {
		return Invalid("expiryDate", "expiry date must be after process date")
	}
	return nil
}

// DistributionRecord is the payload of a Distributed event.
type DistributionRecord struct {
	Destination string     `json:"destination"`
	Carrier     string     `json:"carrier,omitempty"`
	ShippedAt   *time.Time `json:"shippedAt,omitempty"`
}

// Validate checks that a destination is named.
func (r DistributionRecord) Validate() error {
	if strings.TrimSpace(r.Destination) == "" {
		return Invalid("destination", "destination is required")
	}
	return nil
}

// RecallRecord is the payload of a Recalled event.
type RecallRecord struct {
	Reason string `json:"reason"`
	Notice string `json:"notice,omitempty"`
}

// Validate checks that a reason is given.
func (r RecallRecord) Validate() error {
	if strings.TrimSpace(r.Reason) == "" {
		return Invalid("reason", "recall reason is required")
	}
	return nil
}
