// Package label recommends a sensitivity label for a scanned file.
package label

import "github.com/CompassSecurity/docleek/pkg/model"

type Resolver struct {
	tiers map[model.EntityType]model.Label
}

func New(tiers map[model.EntityType]model.Label) *Resolver {
	return &Resolver{tiers: tiers}
}

// Tier returns the label for entity. Types missing from the table get the
// most protective label.
func (r *Resolver) Tier(entity model.EntityType) model.Label {
	if l, ok := r.tiers[entity]; ok && l.Rank() > 0 {
		return l
	}
	return model.LabelHighlyConfidential
}

// Recommend returns the highest tier among TP and PENDING matches. FP and
// SKIPPED matches never count. No qualifying match leaves the label unset.
func (r *Resolver) Recommend(matches []model.ResolvedMatch) model.Label {
	best := model.LabelNone
	for _, m := range matches {
		if m.Verdict != model.VerdictTP && m.Verdict != model.VerdictPending {
			continue
		}
		if l := r.Tier(m.EntityType); l.Rank() > best.Rank() {
			best = l
		}
	}
	return best
}

// Apply sets the recommendation on f.
func (r *Resolver) Apply(f *model.FileResult) {
	f.LabelRecommendation = r.Recommend(f.Matches)
}
