package notify

import (
	"fmt"
	"strings"

	"github.com/gilito11/casaTevaLeads-sub001/internal/lifecycle"
	"github.com/gilito11/casaTevaLeads-sub001/internal/quality"
)

// FormatLifecycleSummary renders a lifecycle run summary as a
// plain-text mail body.
func FormatLifecycleSummary(s *lifecycle.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Lifecycle check run %s\n\n", s.RunStarted.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Checked:  %d\n", s.Checked)
	fmt.Fprintf(&b, "Active:   %d\n", s.Active)
	fmt.Fprintf(&b, "Removed:  %d\n", s.Removed)
	fmt.Fprintf(&b, "Unknown:  %d\n", s.Unknown)
	fmt.Fprintf(&b, "Skipped:  %d\n", s.Skipped)
	return b.String()
}

// FormatQualityReport renders a quality audit report as a plain-text
// mail body. Unhealthy portals are listed first so the problem is
// visible without scrolling.
func FormatQualityReport(r *quality.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Quality audit %s\n\n", r.RunID)

	if bad := r.Unhealthy(); len(bad) > 0 {
		b.WriteString("UNHEALTHY PORTALS:\n")
		for _, p := range bad {
			if p.ZeroListings {
				fmt.Fprintf(&b, "  - %s: no recent listings\n", p.Portal)
				continue
			}
			fmt.Fprintf(&b, "  - %s: score %.2f (%d passed / %d failed / %d inconclusive)\n",
				p.Portal, p.Score, p.Passed, p.Failed, p.Inconclusive)
		}
		b.WriteString("\n")
	}

	b.WriteString("All portals:\n")
	for _, p := range r.Portals {
		fmt.Fprintf(&b, "  %-12s sampled=%d score=%.2f passed=%d failed=%d inconclusive=%d\n",
			p.Portal, p.Sampled, p.Score, p.Passed, p.Failed, p.Inconclusive)
	}
	return b.String()
}
