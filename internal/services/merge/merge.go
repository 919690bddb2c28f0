// -----------------------------------------------------------------------
// Bundle merge engine - document-scope page merge with content-keyed
// deduplication, and case-scope document merge keyed on (type, id).
// -----------------------------------------------------------------------

package merge

import (
	"sort"
	"strings"

	"github.com/ternarybob/caseflow/internal/models"
)

// MergePages folds per-page bundles into one document bundle. Pages are
// sorted by page number first, so the result does not depend on completion
// order. Duplicate resources are dropped whole, first seen wins, and every
// cross-reference is rewritten to the surviving patient's canonical id.
func MergePages(pages []*models.PageRecord) *models.Bundle {
	sorted := make([]*models.PageRecord, len(pages))
	copy(sorted, pages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PageNumber < sorted[j].PageNumber
	})

	out := &models.Bundle{}
	seen := map[string]map[string]bool{
		models.ResourceTypePatient:          {},
		models.ResourceTypeCondition:        {},
		models.ResourceTypeEncounter:        {},
		models.ResourceTypeDiagnosticReport: {},
		models.ResourceTypeClaim:            {},
	}

	for _, page := range sorted {
		bundle := page.Bundle
		if bundle.IsEmpty() {
			continue
		}

		// Page-local patient ids map to canonical content-derived ids;
		// every reference on the same page follows the mapping.
		alias := map[string]string{}
		for _, p := range bundle.Patients {
			key := patientKey(p)
			id := canonicalID("patient", key)
			alias[p.ID] = id
			if seen[models.ResourceTypePatient][key] {
				continue
			}
			seen[models.ResourceTypePatient][key] = true
			p.ID = id
			out.Patients = append(out.Patients, p)
		}

		for _, c := range bundle.Conditions {
			c.PatientID = resolveRef(alias, c.PatientID)
			key := conditionKey(c)
			if key == "" || seen[models.ResourceTypeCondition][key] {
				continue
			}
			seen[models.ResourceTypeCondition][key] = true
			c.ID = canonicalID("cond", key)
			out.Conditions = append(out.Conditions, c)
		}

		for _, e := range bundle.Encounters {
			e.PatientID = resolveRef(alias, e.PatientID)
			key := encounterKey(e)
			if key == "|" || seen[models.ResourceTypeEncounter][key] {
				continue
			}
			seen[models.ResourceTypeEncounter][key] = true
			e.ID = canonicalID("enc", key)
			out.Encounters = append(out.Encounters, e)
		}

		for _, d := range bundle.DiagnosticReports {
			d.PatientID = resolveRef(alias, d.PatientID)
			key := diagnosticReportKey(d)
			if seen[models.ResourceTypeDiagnosticReport][key] {
				continue
			}
			seen[models.ResourceTypeDiagnosticReport][key] = true
			d.ID = canonicalID("report", key)
			out.DiagnosticReports = append(out.DiagnosticReports, d)
		}

		for _, cl := range bundle.Claims {
			cl.PatientID = resolveRef(alias, cl.PatientID)
			key := claimKey(cl)
			if seen[models.ResourceTypeClaim][key] {
				continue
			}
			seen[models.ResourceTypeClaim][key] = true
			cl.ID = canonicalID("claim", key)
			out.Claims = append(out.Claims, cl)
		}
	}

	return out
}

// MergeDocuments folds document bundles into the case bundle. The key is
// (resourceType, id); resources without an id are dropped; insertion order
// follows document order and the first occurrence wins.
func MergeDocuments(bundles []*models.Bundle) *models.Bundle {
	out := &models.Bundle{}
	seen := map[string]bool{}

	keep := func(resourceType, id string) bool {
		if strings.TrimSpace(id) == "" {
			return false
		}
		key := resourceType + "|" + id
		if seen[key] {
			return false
		}
		seen[key] = true
		return true
	}

	for _, bundle := range bundles {
		if bundle.IsEmpty() {
			continue
		}
		for _, p := range bundle.Patients {
			if keep(models.ResourceTypePatient, p.ID) {
				out.Patients = append(out.Patients, p)
			}
		}
		for _, c := range bundle.Conditions {
			if keep(models.ResourceTypeCondition, c.ID) {
				out.Conditions = append(out.Conditions, c)
			}
		}
		for _, e := range bundle.Encounters {
			if keep(models.ResourceTypeEncounter, e.ID) {
				out.Encounters = append(out.Encounters, e)
			}
		}
		for _, d := range bundle.DiagnosticReports {
			if keep(models.ResourceTypeDiagnosticReport, d.ID) {
				out.DiagnosticReports = append(out.DiagnosticReports, d)
			}
		}
		for _, cl := range bundle.Claims {
			if keep(models.ResourceTypeClaim, cl.ID) {
				out.Claims = append(out.Claims, cl)
			}
		}
	}

	return out
}

// ConcatPageText joins per-page text in page order for Document.RawText.
func ConcatPageText(pages []*models.PageRecord) string {
	sorted := make([]*models.PageRecord, len(pages))
	copy(sorted, pages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PageNumber < sorted[j].PageNumber
	})

	parts := make([]string, 0, len(sorted))
	for _, page := range sorted {
		if page.Text == nil || *page.Text == "" {
			continue
		}
		parts = append(parts, *page.Text)
	}
	return strings.Join(parts, "\n\n")
}

func resolveRef(alias map[string]string, patientID string) string {
	if canonical, ok := alias[patientID]; ok {
		return canonical
	}
	return patientID
}
