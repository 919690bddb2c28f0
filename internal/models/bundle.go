package models

import "fmt"

// Resource type names used in flattened bundle entries and case-level
// deduplication keys.
const (
	ResourceTypePatient          = "Patient"
	ResourceTypeCondition        = "Condition"
	ResourceTypeEncounter        = "Encounter"
	ResourceTypeDiagnosticReport = "DiagnosticReport"
	ResourceTypeClaim            = "Claim"
)

// Patient is the subject of a case's clinical resources.
type Patient struct {
	ID         string `json:"id"`
	FamilyName string `json:"family_name"`
	GivenName  string `json:"given_name,omitempty"`
	BirthDate  string `json:"birth_date,omitempty"` // YYYY-MM-DD
	Gender     string `json:"gender,omitempty"`
}

// Condition is an ICD-10 coded diagnosis.
type Condition struct {
	ID            string `json:"id"`
	PatientID     string `json:"patient_id,omitempty"`
	Code          string `json:"code"` // ICD-10
	Display       string `json:"display,omitempty"`
	OnsetDateTime string `json:"onset_date_time,omitempty"`
}

// Period is a bounded time range on an encounter.
type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Encounter is a patient interaction (visit, admission, consult).
type Encounter struct {
	ID          string `json:"id"`
	PatientID   string `json:"patient_id,omitempty"`
	Class       string `json:"class,omitempty"` // inpatient, outpatient, emergency
	Period      Period `json:"period,omitempty"`
	Description string `json:"description,omitempty"`
}

// DiagnosticReport is a coded report (lab, imaging) with an effective time.
type DiagnosticReport struct {
	ID                string `json:"id"`
	PatientID         string `json:"patient_id,omitempty"`
	Code              string `json:"code"`
	EffectiveDateTime string `json:"effective_date_time,omitempty"`
	Conclusion        string `json:"conclusion,omitempty"`
}

// ClaimLineItem is one billed service on a claim.
type ClaimLineItem struct {
	Sequence int     `json:"sequence"`
	Service  string  `json:"service"`
	Code     string  `json:"code,omitempty"`
	Amount   float64 `json:"amount"`
}

// Claim is a billing claim with its line items.
type Claim struct {
	ID        string          `json:"id"`
	PatientID string          `json:"patient_id,omitempty"`
	Provider  string          `json:"provider,omitempty"`
	Total     float64         `json:"total,omitempty"`
	LineItems []ClaimLineItem `json:"line_items,omitempty"`
}

// Bundle is a structured collection of typed clinical/claims resources for
// a page, document or case. Within one merge scope no two resources of the
// same type share a deduplication key.
type Bundle struct {
	Patients          []Patient          `json:"patients,omitempty"`
	Conditions        []Condition        `json:"conditions,omitempty"`
	Encounters        []Encounter        `json:"encounters,omitempty"`
	DiagnosticReports []DiagnosticReport `json:"diagnostic_reports,omitempty"`
	Claims            []Claim            `json:"claims,omitempty"`
}

// BundleEntry is one resource in the flattened bundle output, tagged with a
// synthetic stable URI derived from its id.
type BundleEntry struct {
	ResourceType string      `json:"resource_type"`
	ID           string      `json:"id"`
	URI          string      `json:"uri"`
	Resource     interface{} `json:"resource"`
}

// ResourceURI builds the synthetic stable URI for a resource.
func ResourceURI(resourceType, id string) string {
	return fmt.Sprintf("urn:caseflow:%s:%s", resourceType, id)
}

// IsEmpty reports whether the bundle carries no resources at all.
func (b *Bundle) IsEmpty() bool {
	if b == nil {
		return true
	}
	return len(b.Patients) == 0 && len(b.Conditions) == 0 && len(b.Encounters) == 0 &&
		len(b.DiagnosticReports) == 0 && len(b.Claims) == 0
}

// Entries flattens the bundle into a list of typed entries in a fixed
// resource-type order. Resources within a type keep insertion order.
func (b *Bundle) Entries() []BundleEntry {
	if b == nil {
		return nil
	}

	entries := make([]BundleEntry, 0,
		len(b.Patients)+len(b.Conditions)+len(b.Encounters)+len(b.DiagnosticReports)+len(b.Claims))

	for _, p := range b.Patients {
		entries = append(entries, BundleEntry{ResourceTypePatient, p.ID, ResourceURI(ResourceTypePatient, p.ID), p})
	}
	for _, c := range b.Conditions {
		entries = append(entries, BundleEntry{ResourceTypeCondition, c.ID, ResourceURI(ResourceTypeCondition, c.ID), c})
	}
	for _, e := range b.Encounters {
		entries = append(entries, BundleEntry{ResourceTypeEncounter, e.ID, ResourceURI(ResourceTypeEncounter, e.ID), e})
	}
	for _, d := range b.DiagnosticReports {
		entries = append(entries, BundleEntry{ResourceTypeDiagnosticReport, d.ID, ResourceURI(ResourceTypeDiagnosticReport, d.ID), d})
	}
	for _, cl := range b.Claims {
		entries = append(entries, BundleEntry{ResourceTypeClaim, cl.ID, ResourceURI(ResourceTypeClaim, cl.ID), cl})
	}

	return entries
}
