// Package score maps alignment labels to a 0-100 trust score and a
// severity class. Scoring is a pure function of the label multiset: it
// reads alignments only, never claims or findings.
package score

import (
	"github.com/carmmmm/RadiologyTrustLayer/internal/model"
)

// Scorer applies fixed per-label penalties.
type Scorer struct {
	uncertainPenalty int
	reviewPenalty    int
}

// NewScorer creates a scorer from configuration. ReviewPenalty is expected
// to exceed UncertainPenalty.
func NewScorer(cfg model.ScoringConfig) *Scorer {
	return &Scorer{
		uncertainPenalty: cfg.UncertainPenalty,
		reviewPenalty:    cfg.ReviewPenalty,
	}
}

// Calculate returns the score, severity and label tallies. Starting at 100,
// each uncertain alignment subtracts the uncertain penalty and each
// needs_review alignment subtracts the review penalty; supported and
// not_assessable subtract nothing. The result is clamped to [0,100] and is
// order-independent. An empty list scores 100/low.
func (s *Scorer) Calculate(alignments []model.Alignment) (int, model.Severity, model.FlagCounts) {
	var counts model.FlagCounts
	total := 100

	for _, a := range alignments {
		switch a.Label {
		case model.LabelSupported:
			counts.Supported++
		case model.LabelNotAssessable:
			counts.NotAssessable++
		case model.LabelUncertain:
			counts.Uncertain++
			total -= s.uncertainPenalty
		case model.LabelNeedsReview:
			counts.NeedsReview++
			total -= s.reviewPenalty
		}
	}

	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}

	return total, severityFor(total), counts
}

func severityFor(score int) model.Severity {
	switch {
	case score >= 80:
		return model.SeverityLow
	case score >= 50:
		return model.SeverityMedium
	default:
		return model.SeverityHigh
	}
}
