package merge

import (
	"slices"
	"strings"

	"github.com/sells-group/lead-engine/internal/model"
)

// absorb fills gaps in the principal from the secondaries, oldest first.
// CRM attribution, stage and funnel flags are never taken from a
// secondary. Financial fields are handled by the investment aggregate.
func absorb(p *model.Lead, secondaries []model.Lead) {
	for i := range secondaries {
		s := &secondaries[i]
		fill(&p.Name, s.Name)
		fill(&p.Email, s.Email)
		fill(&p.Phone, s.Phone)
		fill(&p.TicketID, s.TicketID)
		fill(&p.AdID, s.AdID)
		fill(&p.MauticContactID, s.MauticContactID)
		fill(&p.ExternalLeadID, s.ExternalLeadID)
		fill(&p.LandingPage, s.LandingPage)
		fill(&p.MatchText, s.MatchText)
		fill(&p.City, s.City)
		fill(&p.State, s.State)

		p.EngagementScore = max(p.EngagementScore, s.EngagementScore)
		p.PageHits = max(p.PageHits, s.PageHits)
		p.Tags = UnionFold(p.Tags, s.Tags)
	}
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// UnionFold appends the values of b missing from a, comparing without case.
// Order of first appearance is kept.
func UnionFold(a, b []string) []string {
	out := slices.Clone(a)
	for _, v := range b {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !slices.ContainsFunc(out, func(x string) bool { return strings.EqualFold(x, v) }) {
			out = append(out, v)
		}
	}
	return out
}

// profileChanged reports whether absorb touched a column UpdateLead writes.
func profileChanged(before, after *model.Lead) bool {
	return before.Name != after.Name ||
		before.Email != after.Email ||
		before.Phone != after.Phone ||
		before.TicketID != after.TicketID ||
		before.AdID != after.AdID ||
		before.MauticContactID != after.MauticContactID ||
		before.ExternalLeadID != after.ExternalLeadID ||
		before.LandingPage != after.LandingPage ||
		before.MatchText != after.MatchText ||
		before.City != after.City ||
		before.State != after.State ||
		before.EngagementScore != after.EngagementScore ||
		before.PageHits != after.PageHits ||
		!slices.Equal(before.Tags, after.Tags)
}
