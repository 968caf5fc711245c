// Package match resolves identity signals to at most one live lead of a
// tenant. It only reads.
package match

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-engine/internal/config"
	"github.com/sells-group/lead-engine/internal/model"
	"github.com/sells-group/lead-engine/internal/normalize"
	"github.com/sells-group/lead-engine/internal/store"
)

// Tier is the cascade step that produced a match. Lower is more confident.
type Tier int

const (
	TierExternalID Tier = 1
	TierURL        Tier = 2
	TierPhone      Tier = 3
	TierEmail      Tier = 4
	TierText       Tier = 5
)

func (t Tier) String() string {
	switch t {
	case TierExternalID:
		return "external_id"
	case TierURL:
		return "url"
	case TierPhone:
		return "phone"
	case TierEmail:
		return "email"
	case TierText:
		return "text"
	default:
		return "none"
	}
}

// LeadFinder is the read side of the store the cascade needs.
type LeadFinder interface {
	FindByExternalID(ctx context.Context, tenantID string, kind model.ExternalIDKind, value string) ([]model.Lead, error)
	FindByPhone(ctx context.Context, tenantID, phone string) ([]model.Lead, error)
	FindByEmail(ctx context.Context, tenantID, email string) ([]model.Lead, error)
	ListCandidates(ctx context.Context, tenantID string, filter store.CandidateFilter) ([]model.Lead, error)
}

// Signals is the bag of identity signals one ingestion call carries. Any
// subset may be empty.
type Signals struct {
	ExternalIDs map[model.ExternalIDKind]string `json:"external_ids,omitempty"`
	LandingPage string                          `json:"landing_page,omitempty"`
	Phone       string                          `json:"phone,omitempty"`
	Email       string                          `json:"email,omitempty"`
	Text        string                          `json:"text,omitempty"`
}

// Empty reports whether the bag carries no usable signal.
func (s Signals) Empty() bool {
	for _, v := range s.ExternalIDs {
		if v != "" {
			return false
		}
	}
	return s.LandingPage == "" && s.Phone == "" && s.Email == "" && s.Text == ""
}

// Match is a resolved lead and how it was found.
type Match struct {
	Lead  model.Lead `json:"lead"`
	Tier  Tier       `json:"tier"`
	Score float64    `json:"score,omitempty"`
}

// Resolver runs the matching cascade.
type Resolver struct {
	finder LeadFinder
	cfg    config.MatchConfig
}

// NewResolver creates a Resolver. Zero config values fall back to a 0.2
// text threshold and 200 candidates.
func NewResolver(finder LeadFinder, cfg config.MatchConfig) *Resolver {
	if cfg.TextThreshold <= 0 {
		cfg.TextThreshold = 0.2
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 200
	}
	return &Resolver{finder: finder, cfg: cfg}
}

type step struct {
	tier Tier
	run  func(ctx context.Context, tenantID string, s Signals) (*Match, error)
}

// Resolve runs the cascade in fixed precedence and returns the first hit,
// or nil when nothing qualifies and a new lead should be created. A failed
// lookup skips its step.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, s Signals) (*Match, error) {
	if tenantID == "" {
		return nil, model.NewValidationError("empresa_id", "", "tenant is required for matching")
	}
	log := zap.L().With(zap.String("tenant_id", tenantID))

	steps := []step{
		{TierExternalID, r.byExternalID},
		{TierURL, r.byURL},
		{TierPhone, r.byPhone},
		{TierEmail, r.byEmail},
		{TierText, r.byText},
	}
	for _, st := range steps {
		m, err := st.run(ctx, tenantID, s)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "match: resolve")
			}
			log.Warn("match: step failed, continuing",
				zap.Stringer("tier", st.tier),
				zap.Error(err),
			)
			continue
		}
		if m != nil {
			log.Debug("match: resolved",
				zap.String("lead_id", m.Lead.ID),
				zap.Int("tier", int(m.Tier)),
				zap.Float64("score", m.Score),
			)
			return m, nil
		}
	}

	log.Debug("match: no candidate")
	return nil, nil
}

func (r *Resolver) byExternalID(ctx context.Context, tenantID string, s Signals) (*Match, error) {
	for _, kind := range model.ExternalIDKinds() {
		v := s.ExternalIDs[kind]
		if v == "" {
			continue
		}
		leads, err := r.finder.FindByExternalID(ctx, tenantID, kind, v)
		if err != nil {
			return nil, eris.Wrapf(err, "match: find by %s", kind)
		}
		if l := firstEligible(leads, tenantID); l != nil {
			return &Match{Lead: *l, Tier: TierExternalID}, nil
		}
	}
	return nil, nil
}

func (r *Resolver) byURL(ctx context.Context, tenantID string, s Signals) (*Match, error) {
	want := normalize.URL(s.LandingPage)
	if want == "" {
		return nil, nil
	}
	cands, err := r.finder.ListCandidates(ctx, tenantID, store.CandidateFilter{
		LandingPage: want,
		Limit:       r.cfg.CandidateLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "match: list url candidates")
	}
	for i := range cands {
		if !eligible(&cands[i], tenantID) {
			continue
		}
		if URLContains(want, normalize.URL(cands[i].LandingPage)) {
			return &Match{Lead: cands[i], Tier: TierURL}, nil
		}
	}
	return nil, nil
}

func (r *Resolver) byPhone(ctx context.Context, tenantID string, s Signals) (*Match, error) {
	if s.Phone == "" {
		return nil, nil
	}
	phone, err := normalize.Phone(s.Phone)
	if err != nil {
		zap.L().Debug("match: phone signal dropped", zap.Error(err))
		return nil, nil
	}
	leads, err := r.finder.FindByPhone(ctx, tenantID, phone)
	if err != nil {
		return nil, eris.Wrap(err, "match: find by phone")
	}
	if l := firstEligible(leads, tenantID); l != nil {
		return &Match{Lead: *l, Tier: TierPhone}, nil
	}
	return nil, nil
}

func (r *Resolver) byEmail(ctx context.Context, tenantID string, s Signals) (*Match, error) {
	email, err := normalize.Email(s.Email)
	if err != nil {
		zap.L().Debug("match: email signal dropped", zap.Error(err))
		return nil, nil
	}
	if email == "" {
		return nil, nil
	}
	// The store orders by created_at, so the first is the earliest.
	leads, err := r.finder.FindByEmail(ctx, tenantID, email)
	if err != nil {
		return nil, eris.Wrap(err, "match: find by email")
	}
	if l := firstEligible(leads, tenantID); l != nil {
		return &Match{Lead: *l, Tier: TierEmail}, nil
	}
	return nil, nil
}

func (r *Resolver) byText(ctx context.Context, tenantID string, s Signals) (*Match, error) {
	words := normalize.Words(s.Text)
	if len(words) == 0 {
		return nil, nil
	}
	// Only leads sharing a word can score above zero.
	cands, err := r.finder.ListCandidates(ctx, tenantID, store.CandidateFilter{
		Words: words,
		Limit: r.cfg.CandidateLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "match: list text candidates")
	}

	best, bestScore := -1, 0.0
	for i := range cands {
		if !eligible(&cands[i], tenantID) {
			continue
		}
		score := Jaccard(words, normalize.Words(cands[i].MatchText))
		if score > bestScore || (best >= 0 && score == bestScore && cands[i].CreatedAt.Before(cands[best].CreatedAt)) {
			best, bestScore = i, score
		}
	}
	if best < 0 || bestScore <= r.cfg.TextThreshold {
		return nil, nil
	}
	return &Match{Lead: cands[best], Tier: TierText, Score: bestScore}, nil
}

// eligible guards against a store returning rows outside the tenant or
// already superseded.
func eligible(l *model.Lead, tenantID string) bool {
	return l.TenantID == tenantID && !l.Merged
}

func firstEligible(leads []model.Lead, tenantID string) *model.Lead {
	for i := range leads {
		if eligible(&leads[i], tenantID) {
			return &leads[i]
		}
	}
	return nil
}
