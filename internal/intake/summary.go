package intake

import (
	"fmt"
	"strings"
)

// SummaryHeader starts every completion summary. Clients use it to detect
// that the intake is finished.
const SummaryHeader = "Information collected:"

// Summarize renders the deterministic completion summary.
func Summarize(s State) string {
	status := s.LicenseStatus
	if status == "" {
		status = "N/A"
	}

	var b strings.Builder
	b.WriteString(SummaryHeader)
	fmt.Fprintf(&b, "\n- ZIP: %s", s.Zip)
	fmt.Fprintf(&b, "\n- Name: %s", s.Name)
	fmt.Fprintf(&b, "\n- Email: %s", s.Email)
	fmt.Fprintf(&b, "\n- Vehicles: %d", len(s.Vehicles))
	fmt.Fprintf(&b, "\n- License Type: %s", s.LicenseType)
	fmt.Fprintf(&b, "\n- License Status: %s", status)
	return b.String()
}
