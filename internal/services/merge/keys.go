package merge

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/ternarybob/caseflow/internal/models"
)

// Document-scope deduplication keys. Two resources of the same type with
// equal keys describe the same real-world fact; the first-seen copy wins.

func patientKey(p models.Patient) string {
	return strings.ToLower(strings.TrimSpace(p.FamilyName)) + "|" + strings.TrimSpace(p.BirthDate)
}

func conditionKey(c models.Condition) string {
	return strings.ToUpper(strings.TrimSpace(c.Code))
}

func encounterKey(e models.Encounter) string {
	if id := strings.TrimSpace(e.ID); id != "" {
		return id
	}
	return e.Period.Start + "|" + e.Period.End
}

func diagnosticReportKey(d models.DiagnosticReport) string {
	return strings.ToUpper(strings.TrimSpace(d.Code)) + "|" + strings.TrimSpace(d.EffectiveDateTime)
}

func claimKey(c models.Claim) string {
	if len(c.LineItems) == 0 {
		return "id|" + c.ID
	}
	first := c.LineItems[0]
	return fmt.Sprintf("%d|%s|%s|%.2f", first.Sequence, strings.TrimSpace(first.Service), first.Code, first.Amount)
}

// canonicalID derives a stable resource id from the dedup key, so the same
// fact extracted from different pages or documents converges on one id and
// the case-level merge can drop the overlap.
func canonicalID(prefix, key string) string {
	h := fnv.New32a()
	h.Write([]byte(key))
	return fmt.Sprintf("%s-%08x", prefix, h.Sum32())
}
