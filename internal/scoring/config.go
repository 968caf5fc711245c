// Package scoring computes the 0-100 temperature score and priority label
// of a lead from its funnel, engagement and financial attributes.
package scoring

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-engine/internal/config"
)

// DefaultConfig returns the default weights. Positive weights sum to 115,
// so a lead can still reach 100 after a staleness penalty.
func DefaultConfig() config.ScoringConfig {
	return config.ScoringConfig{
		// Funnel.
		MQLWeight:         15,
		RaisedHandWeight:  15,
		MeetingWeight:     15,
		MeetingHeldWeight: 10,
		SaleWeight:        10,

		// Financial.
		InvestorWeight:         10,
		RecentInvestmentWeight: 5,
		RecentInvestmentDays:   30,
		AbandonedCartWeight:    10,

		// Engagement.
		EngagementDivisor: 10,
		EngagementCap:     10,
		PageHitsDivisor:   5,
		PageHitsCap:       5,

		// Staleness.
		StaleGraceDays:  7,
		StaleStepDays:   3,
		StaleMaxPenalty: 15,
	}
}

// ValidateConfig checks that a ScoringConfig is internally consistent.
func ValidateConfig(c config.ScoringConfig) error {
	var errs []string

	weights := map[string]int{
		"mql_weight":               c.MQLWeight,
		"raised_hand_weight":       c.RaisedHandWeight,
		"meeting_weight":           c.MeetingWeight,
		"meeting_held_weight":      c.MeetingHeldWeight,
		"sale_weight":              c.SaleWeight,
		"investor_weight":          c.InvestorWeight,
		"recent_investment_weight": c.RecentInvestmentWeight,
		"abandoned_cart_weight":    c.AbandonedCartWeight,
		"engagement_cap":           c.EngagementCap,
		"page_hits_cap":            c.PageHitsCap,
		"stale_max_penalty":        c.StaleMaxPenalty,
		"stale_grace_days":         c.StaleGraceDays,
	}
	for name, w := range weights {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
	}
	if c.EngagementDivisor <= 0 {
		errs = append(errs, "engagement_divisor must be > 0")
	}
	if c.PageHitsDivisor <= 0 {
		errs = append(errs, "page_hits_divisor must be > 0")
	}
	if c.StaleStepDays <= 0 {
		errs = append(errs, "stale_step_days must be > 0")
	}
	if c.RecentInvestmentDays <= 0 {
		errs = append(errs, "recent_investment_days must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("scoring: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
