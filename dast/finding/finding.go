// Package finding implements false-positive suppression, summary
// aggregation and scope filtering over scan findings.
package finding

import (
	"fmt"

	"github.com/mqxerror/qa-guardian/dast/model"
	"github.com/mqxerror/qa-guardian/dast/scope"
)

// suppresses reports whether the suppression matches the finding. PluginID
// and URL must match exactly; a suppression with a param matches only
// findings carrying that param, and a suppression without one matches only
// findings that have no param.
func suppresses(fp model.FalsePositive, f model.Finding) bool {
	if fp.PluginID != f.PluginID || fp.URL != f.URL {
		return false
	}
	if fp.Param == nil {
		return f.Param == ""
	}
	return *fp.Param == f.Param
}

// ApplyFalsePositives flags every finding matched by a suppression and
// returns the number of findings flagged. Findings already flagged stay
// flagged.
func ApplyFalsePositives(findings []model.Finding, suppressions []model.FalsePositive) int {
	flagged := 0
	for i := range findings {
		if findings[i].IsFalsePositive {
			continue
		}
		for _, fp := range suppressions {
			if suppresses(fp, findings[i]) {
				findings[i].IsFalsePositive = true
				flagged++
				break
			}
		}
	}
	return flagged
}

// ReapplyFalsePositives recomputes every flag from scratch against the
// current suppression set. Used when a suppression is removed: flags that
// no remaining suppression justifies are cleared.
func ReapplyFalsePositives(findings []model.Finding, suppressions []model.FalsePositive) {
	for i := range findings {
		findings[i].IsFalsePositive = false
	}
	ApplyFalsePositives(findings, suppressions)
}

// RecomputeSummary aggregates the findings that are not flagged false
// positive. An unrecognised risk or confidence value is a data error, not
// something to drop silently.
func RecomputeSummary(findings []model.Finding) (model.Summary, error) {
	var s model.Summary
	for _, f := range findings {
		if f.IsFalsePositive {
			continue
		}
		switch f.Risk {
		case model.RiskHigh:
			s.High++
		case model.RiskMedium:
			s.Medium++
		case model.RiskLow:
			s.Low++
		case model.RiskInformational:
			s.Informational++
		default:
			return model.Summary{}, fmt.Errorf("finding %q has unknown risk %q", f.Name, f.Risk)
		}
		switch f.Confidence {
		// User-confirmed findings count in the high-confidence bucket.
		case model.ConfidenceHigh, model.ConfidenceUserConfirmed:
			s.ConfidenceHigh++
		case model.ConfidenceMedium:
			s.ConfidenceMedium++
		case model.ConfidenceLow, model.ConfidenceFalsePositive:
			s.ConfidenceLow++
		default:
			return model.Summary{}, fmt.Errorf("finding %q has unknown confidence %q", f.Name, f.Confidence)
		}
		s.Total++
	}
	return s, nil
}

// FilterByScope keeps only findings whose URL is inside the include/exclude
// scope.
func FilterByScope(findings []model.Finding, include, exclude []string) []model.Finding {
	kept := make([]model.Finding, 0, len(findings))
	for _, f := range findings {
		if scope.InScope(f.URL, include, exclude) {
			kept = append(kept, f)
		}
	}
	return kept
}
