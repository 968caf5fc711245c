package scoring

import (
	"time"

	"github.com/sells-group/lead-engine/internal/config"
	"github.com/sells-group/lead-engine/internal/model"
)

// Priority labels, hottest first.
const (
	LabelUrgente = "URGENTE"
	LabelQuente  = "QUENTE"
	LabelMorno   = "MORNO"
	LabelFrio    = "FRIO"
)

// Component names reported in Result.Components.
const (
	CompMQL              = "mql"
	CompRaisedHand       = "levantou_mao"
	CompMeeting          = "tem_reuniao"
	CompMeetingHeld      = "reuniao_realizada"
	CompSale             = "venda_realizada"
	CompInvestor         = "investidor"
	CompRecentInvestment = "investimento_recente"
	CompAbandonedCart    = "carrinho_abandonado"
	CompEngagement       = "engajamento"
	CompPageHits         = "page_hits"
	CompStaleness        = "estagnacao"
)

// Result is a computed temperature.
type Result struct {
	Value      int            `json:"score"`
	Label      string         `json:"label"`
	Components map[string]int `json:"components"`
}

// Score computes the temperature of l as of now. It is deterministic and
// bounded to [0, 100]. Turning on any positive signal never lowers it.
func Score(l *model.Lead, now time.Time, cfg config.ScoringConfig) Result {
	comps := make(map[string]int)
	add := func(name string, pts int) {
		if pts > 0 {
			comps[name] = pts
		}
	}

	if l.IsMQL {
		add(CompMQL, cfg.MQLWeight)
	}
	if l.RaisedHand {
		add(CompRaisedHand, cfg.RaisedHandWeight)
	}
	if l.HasMeeting {
		add(CompMeeting, cfg.MeetingWeight)
	}
	if l.MeetingHeld {
		add(CompMeetingHeld, cfg.MeetingHeldWeight)
	}
	if l.SaleClosed {
		add(CompSale, cfg.SaleWeight)
	}

	// An abandoned cart only adds urgency above what a completed
	// investment already earns.
	if l.Investor {
		add(CompInvestor, cfg.InvestorWeight)
		if l.AbandonedCart {
			add(CompAbandonedCart, cfg.AbandonedCartWeight-cfg.InvestorWeight)
		}
		if l.LastInvestmentAt != nil && now.Sub(*l.LastInvestmentAt) <= days(cfg.RecentInvestmentDays) {
			add(CompRecentInvestment, cfg.RecentInvestmentWeight)
		}
	} else if l.AbandonedCart {
		add(CompAbandonedCart, cfg.AbandonedCartWeight)
	}

	add(CompEngagement, scaled(l.EngagementScore, cfg.EngagementDivisor, cfg.EngagementCap))
	add(CompPageHits, scaled(l.PageHits, cfg.PageHitsDivisor, cfg.PageHitsCap))

	total := 0
	for _, pts := range comps {
		total += pts
	}

	if penalty := stalePenalty(l.LastStageAt(), now, cfg); penalty > 0 {
		comps[CompStaleness] = -penalty
		total -= penalty
	}

	total = clamp(total, 0, 100)
	return Result{Value: total, Label: Label(total), Components: comps}
}

// Label maps a score to its priority label.
func Label(score int) string {
	switch {
	case score >= 75:
		return LabelUrgente
	case score >= 50:
		return LabelQuente
	case score >= 25:
		return LabelMorno
	default:
		return LabelFrio
	}
}

// stalePenalty is one point per StaleStepDays without stage movement past
// the grace period, capped at StaleMaxPenalty.
func stalePenalty(lastStage, now time.Time, cfg config.ScoringConfig) int {
	if cfg.StaleStepDays <= 0 {
		return 0
	}
	idle := int(now.Sub(lastStage) / (24 * time.Hour))
	over := idle - cfg.StaleGraceDays
	if over <= 0 {
		return 0
	}
	return min(over/cfg.StaleStepDays, cfg.StaleMaxPenalty)
}

func scaled(v, divisor, limit int) int {
	if v <= 0 || divisor <= 0 {
		return 0
	}
	return min(v/divisor, limit)
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
