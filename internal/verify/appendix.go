package verify

import (
	"fmt"
	"strings"
)

// Appendix renders a verification summary as the Markdown section
// appended to the report. threshold is the flagging threshold used for
// the by-source counts.
func Appendix(s *Summary, threshold float64) string {
	var lines []string
	lines = append(lines, "# Verification Report\n")
	lines = append(lines, "## Summary\n")
	lines = append(lines, fmt.Sprintf("- **Total Claims**: %d", s.TotalClaims))
	lines = append(lines, fmt.Sprintf("- **Fully Supported**: %d (%d%%)", s.Supported, percentage(s.Supported, s.TotalClaims)))
	lines = append(lines, fmt.Sprintf("- **Partially Supported**: %d (%d%%)", s.Partial, percentage(s.Partial, s.TotalClaims)))
	lines = append(lines, fmt.Sprintf("- **Unsupported**: %d (%d%%)", s.Unsupported, percentage(s.Unsupported, s.TotalClaims)))
	if s.Contradicted > 0 {
		lines = append(lines, fmt.Sprintf("- **Contradicted**: %d (%d%%)", s.Contradicted, percentage(s.Contradicted, s.TotalClaims)))
	}
	lines = append(lines, fmt.Sprintf("- **Average Confidence**: %.2f\n", s.AvgConfidence))

	if len(s.Flagged) > 0 {
		lines = append(lines, "## Flagged Claims\n")
		lines = append(lines, fmt.Sprintf("The following %d claims require attention:\n", len(s.Flagged)))
		for i, r := range s.Flagged {
			lines = append(lines, fmt.Sprintf("### %s Claim %d: %s\n", verdictIcon(r.Verdict), i+1, strings.ToUpper(string(r.Verdict))))
			lines = append(lines, fmt.Sprintf("**Claim**: \"%s\"\n", r.Claim.Text))
			lines = append(lines, fmt.Sprintf("- **Source**: %s", r.Claim.SourceURL))
			lines = append(lines, fmt.Sprintf("- **Confidence**: %.2f", r.Confidence))
			lines = append(lines, fmt.Sprintf("- **Reasoning**: %s", r.Reasoning))
			if r.Evidence != "" {
				lines = append(lines, fmt.Sprintf("- **Evidence**: \"%s\"", r.Evidence))
			}
			lines = append(lines, "")
		}
	}

	lines = append(lines, "## By-Source Analysis\n")
	for _, src := range s.BySource {
		total := len(src.Results)
		supported := 0
		flagged := 0
		var confSum float64
		for _, r := range src.Results {
			if r.Verdict == VerdictSupported {
				supported++
			}
			if isFlagged(r, threshold) {
				flagged++
			}
			confSum += r.Confidence
		}
		avg := 0.0
		if total > 0 {
			avg = confSum / float64(total)
		}
		lines = append(lines, fmt.Sprintf("**Source**: %s", src.URL))
		lines = append(lines, fmt.Sprintf("- Claims verified: %d", total))
		lines = append(lines, fmt.Sprintf("- Supported: %d (%d%%)", supported, percentage(supported, total)))
		lines = append(lines, fmt.Sprintf("- Flagged: %d", flagged))
		lines = append(lines, fmt.Sprintf("- Avg confidence: %.2f\n", avg))
	}

	return strings.Join(lines, "\n")
}

func percentage(part, total int) int {
	if total == 0 {
		return 0
	}
	return 100 * part / total
}

func verdictIcon(v Verdict) string {
	switch v {
	case VerdictSupported:
		return "✅"
	case VerdictPartial:
		return "⚠️"
	case VerdictUnsupported:
		return "❌"
	case VerdictContradicted:
		return "🚫"
	}
	return "❓"
}
