package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/yoockh/casescribe/internal/pipeline"
)

// NullReport explains a search that produced no usable evidence.
type NullReport struct {
	Methodology string `json:"methodology"`
	Rationale   string `json:"rationale"`
	Synthesized bool   `json:"synthesized"` // false when the fixed template was used
}

func (r *NullReport) String() string {
	if r == nil {
		return ""
	}
	return "## Search methodology\n" + r.Methodology + "\n\n## Null finding\n" + r.Rationale
}

const nullReportSystem = `You are a medical librarian documenting a literature search that returned no usable citations.
Respond in JSON with two string fields:
"methodology": how the search was performed (database, expression, recency filter, inclusion rules),
"rationale": why no qualifying evidence was found and what that means for the clinician.
Be factual and concise. Do not invent citations.`

// ExplainNull attaches a report to a null result. The report is generated
// when possible and falls back to a deterministic template, so it is never
// empty.
func (s *Service) ExplainNull(ctx context.Context, res *Result) *NullReport {
	if res == nil || !res.Null {
		return nil
	}
	report := s.templateReport(res)

	if s.gen != nil {
		user, _ := json.Marshal(map[string]any{
			"query":          res.Query,
			"expression":     res.Expression,
			"recency_years":  s.cfg.RecencyYears,
			"excluded":       res.Excluded,
			"index_error":    res.IndexError,
			"min_abstract":   s.cfg.MinAbstractLen,
			"excluded_types": []string{"Editorial"},
		})
		out, err := s.gen.Complete(ctx, pipeline.Prompt{
			System: nullReportSystem,
			User:   string(user),
			JSON:   true,
		})
		if err != nil {
			s.log.WithError(err).Warn("null evidence report generation failed, using template")
		} else {
			var gen NullReport
			if json.Unmarshal([]byte(out.Text), &gen) == nil &&
				strings.TrimSpace(gen.Methodology) != "" && strings.TrimSpace(gen.Rationale) != "" {
				gen.Synthesized = true
				report = &gen
			}
		}
	}

	res.Report = report
	return report
}

func (s *Service) templateReport(res *Result) *NullReport {
	methodology := fmt.Sprintf(
		"PubMed was searched with the expression %q restricted to publications from the last %d years. "+
			"Records without an abstract, with an abstract shorter than %d characters, or classified as editorials were excluded.",
		res.Expression, s.cfg.RecencyYears, s.cfg.MinAbstractLen)

	var rationale string
	switch {
	case res.IndexError != "":
		rationale = "The literature index could not be reached after repeated attempts, so no citations could be evaluated. " +
			"Clinical reasoning in this report relies on established guidelines rather than recent literature."
	case len(res.Excluded) > 0:
		reasons := make([]string, 0, len(res.Excluded))
		for k, n := range res.Excluded {
			reasons = append(reasons, fmt.Sprintf("%d %s", n, strings.ReplaceAll(k, "_", " ")))
		}
		sort.Strings(reasons)
		rationale = "Matching records were found but none met the inclusion rules (" + strings.Join(reasons, ", ") + "). " +
			"The absence of qualifying evidence does not rule out the differential; it indicates limited recent reporting for this presentation."
	default:
		rationale = "No records matched the search within the recency window. " +
			"This may reflect a rare presentation or terminology not indexed in recent literature."
	}
	return &NullReport{Methodology: methodology, Rationale: rationale}
}
