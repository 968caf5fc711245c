// Package ingest turns source signals into lead writes: it normalizes the
// identity signals, resolves them through the matching cascade, creates or
// patches the lead, records lifecycle events and notifies webhook
// destinations.
package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-engine/internal/config"
	"github.com/sells-group/lead-engine/internal/dispatch"
	"github.com/sells-group/lead-engine/internal/match"
	"github.com/sells-group/lead-engine/internal/merge"
	"github.com/sells-group/lead-engine/internal/metrics"
	"github.com/sells-group/lead-engine/internal/model"
	"github.com/sells-group/lead-engine/internal/scoring"
)

// Store is the persistence the service needs.
type Store interface {
	match.LeadFinder
	CreateLead(ctx context.Context, l *model.Lead) error
	UpdateLead(ctx context.Context, l *model.Lead) error
	GetLead(ctx context.Context, tenantID, id string) (*model.Lead, error)
	ListGroup(ctx context.Context, tenantID string, key model.GroupKey) ([]model.Lead, error)
	AppendEvents(ctx context.Context, events []model.Event) error
	UpsertInvestment(ctx context.Context, inv *model.Investment) error
	ListInvestments(ctx context.Context, tenantID string, leadIDs []string) ([]model.Investment, error)
	UpdateFinancials(ctx context.Context, l *model.Lead) (bool, error)
}

// Merger consolidates duplicate groups.
type Merger interface {
	Merge(ctx context.Context, req merge.Request) (*merge.Result, error)
}

// Dispatcher delivers lifecycle events to webhook destinations.
type Dispatcher interface {
	Dispatch(ctx context.Context, event model.EventType, lead *model.Lead, data map[string]any) []dispatch.DeliveryResult
}

// Outcome reports what one ingestion did.
type Outcome struct {
	Lead       model.Lead                `json:"lead"`
	Created    bool                      `json:"created"`
	Tier       string                    `json:"tier"`
	Score      scoring.Result            `json:"score"`
	Events     []model.EventType         `json:"events"`
	Merged     []string                  `json:"merged,omitempty"`
	Suspects   []string                  `json:"duplicate_suspects,omitempty"`
	Dropped    []string                  `json:"dropped,omitempty"`
	Deliveries []dispatch.DeliveryResult `json:"deliveries,omitempty"`
}

// Service ingests signals.
type Service struct {
	store      Store
	resolver   *match.Resolver
	merger     Merger
	dispatcher Dispatcher
	scoring    config.ScoringConfig
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewService creates a Service. merger, dispatcher and m may be nil.
func NewService(store Store, resolver *match.Resolver, merger Merger, dispatcher Dispatcher, scoringCfg config.ScoringConfig, m *metrics.Metrics) *Service {
	return &Service{
		store:      store,
		resolver:   resolver,
		merger:     merger,
		dispatcher: dispatcher,
		scoring:    scoringCfg,
		metrics:    m,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Ingest applies one signal. Invalid phones or emails are dropped, not
// fatal. A patch that loses a race with a merge is retried once against the
// surviving lead.
func (s *Service) Ingest(ctx context.Context, sig Signal) (*Outcome, error) {
	out, err := s.ingest(ctx, sig)
	switch {
	case err != nil:
		s.metrics.Ingest("error")
	case out.Created:
		s.metrics.Ingest("created")
	default:
		s.metrics.Ingest("updated")
	}
	return out, err
}

func (s *Service) ingest(ctx context.Context, raw Signal) (*Outcome, error) {
	if raw.TenantID == "" {
		return nil, model.NewValidationError("empresa_id", "", "tenant is required")
	}
	sig, dropped := raw.normalized()
	log := zap.L().With(zap.String("tenant_id", sig.TenantID), zap.String("source", string(sig.Source)))

	out := &Outcome{Tier: "none"}
	for _, err := range dropped {
		log.Warn("ingest: signal dropped", zap.Error(err))
		out.Dropped = append(out.Dropped, err.Error())
	}

	signals := match.Signals{
		ExternalIDs: sig.ExternalIDs,
		LandingPage: sig.LandingPage,
		Phone:       sig.Phone,
		Email:       sig.Email,
		Text:        sig.Text,
	}
	if signals.Empty() {
		return nil, model.NewValidationError("signal", "", "no identity signal left after normalization")
	}

	at := s.now()
	if sig.OccurredAt != nil {
		at = sig.OccurredAt.UTC()
	}

	var (
		lead   model.Lead
		events []model.EventType
		m      *match.Match
	)
	for attempt := 0; ; attempt++ {
		var err error
		m, err = s.resolver.Resolve(ctx, sig.TenantID, signals)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: resolve")
		}

		if m == nil {
			lead = model.Lead{TenantID: sig.TenantID, Source: sig.Source}
			_, events = patch(&lead, &sig, at)
			events = append([]model.EventType{model.EventLeadNovo}, events...)
			if err := s.store.CreateLead(ctx, &lead); err != nil {
				return nil, eris.Wrap(err, "ingest: create lead")
			}
			out.Created = true
			break
		}

		lead = m.Lead
		var changed bool
		changed, events = patch(&lead, &sig, at)
		if !changed {
			break
		}
		err = s.store.UpdateLead(ctx, &lead)
		if err == nil {
			// Columns written concurrently survive the update; read them back.
			if fresh, gerr := s.store.GetLead(ctx, lead.TenantID, lead.ID); gerr == nil && fresh != nil {
				lead = *fresh
			}
			break
		}
		if !model.IsConflict(err) || attempt > 0 {
			return nil, eris.Wrap(err, "ingest: update lead")
		}
		log.Debug("ingest: lead merged underneath, resolving again", zap.String("lead_id", lead.ID))
	}

	if m != nil {
		out.Tier = m.Tier.String()
	}
	s.metrics.Match(out.Tier)
	log = log.With(zap.String("lead_id", lead.ID), zap.String("tier", out.Tier))

	if err := s.appendEvents(ctx, &lead, events, map[string]any{"tier": out.Tier}); err != nil {
		return nil, err
	}

	if len(sig.Investments) > 0 {
		invEvents, err := s.recordInvestments(ctx, &lead, sig.Investments)
		if err != nil {
			return nil, err
		}
		events = append(events, invEvents...)
	}

	if m != nil {
		switch m.Tier {
		case match.TierExternalID:
			out.Merged = s.autoMerge(ctx, &lead, sig.ExternalIDs, log)
		case match.TierPhone, match.TierEmail, match.TierText:
			out.Suspects = s.flagSuspects(ctx, &lead, log)
		}
	}

	out.Lead = lead
	out.Events = events
	out.Score = scoring.Score(&lead, s.now(), s.scoring)
	out.Deliveries = s.dispatch(ctx, &lead, events, map[string]any{
		"tier":  out.Tier,
		"score": out.Score.Value,
		"label": out.Score.Label,
	})

	log.Info("ingest: applied",
		zap.Bool("created", out.Created),
		zap.Int("events", len(events)),
		zap.Int("score", out.Score.Value),
	)
	return out, nil
}

// autoMerge consolidates other live leads carrying one of the signal's
// external ids into the earliest-created lead of that group. Exact
// external-id matches are the only ones merged without an operator.
func (s *Service) autoMerge(ctx context.Context, lead *model.Lead, ids map[model.ExternalIDKind]string, log *zap.Logger) []string {
	if s.merger == nil {
		return nil
	}
	var superseded []string
	for _, kind := range model.ExternalIDKinds() {
		v := ids[kind]
		if v == "" {
			continue
		}
		key := model.GroupKey{Kind: model.GroupExternalID, IDKind: kind, Value: v}
		group, err := s.store.ListGroup(ctx, lead.TenantID, key)
		if err != nil {
			log.Warn("ingest: list external id group", zap.String("group", key.String()), zap.Error(err))
			continue
		}
		if len(group) < 2 {
			continue
		}

		res, err := s.merger.Merge(ctx, merge.Request{
			TenantID:    lead.TenantID,
			Key:         key,
			PrincipalID: group[0].ID,
			Actor:       merge.Actor{ID: merge.ActorSystem, Role: merge.ActorSystem},
		})
		if err != nil {
			log.Warn("ingest: automatic merge failed", zap.String("group", key.String()), zap.Error(err))
			continue
		}
		superseded = append(superseded, res.Superseded...)
		*lead = res.Principal
	}
	return superseded
}

// flagSuspects records a DUPLICATE_SUSPECT event when other live leads
// share the resolved lead's phone or email. Nothing is merged.
func (s *Service) flagSuspects(ctx context.Context, lead *model.Lead, log *zap.Logger) []string {
	seen := map[string]bool{lead.ID: true}
	var suspects []string
	collect := func(leads []model.Lead, err error, by string) {
		if err != nil {
			log.Warn("ingest: duplicate lookup", zap.String("by", by), zap.Error(err))
			return
		}
		for _, l := range leads {
			if !seen[l.ID] && !l.Merged && l.TenantID == lead.TenantID {
				seen[l.ID] = true
				suspects = append(suspects, l.ID)
			}
		}
	}
	if lead.Phone != "" {
		leads, err := s.store.FindByPhone(ctx, lead.TenantID, lead.Phone)
		collect(leads, err, "phone")
	}
	if lead.Email != "" {
		leads, err := s.store.FindByEmail(ctx, lead.TenantID, lead.Email)
		collect(leads, err, "email")
	}
	if len(suspects) == 0 {
		return nil
	}

	err := s.store.AppendEvents(ctx, []model.Event{{
		LeadID:    lead.ID,
		TenantID:  lead.TenantID,
		Type:      model.EventDuplicateSuspect,
		Note:      "other live leads share this contact",
		Metadata:  map[string]any{"lead_ids": suspects},
		CreatedAt: s.now(),
	}})
	if err != nil {
		log.Warn("ingest: append duplicate suspect", zap.Error(err))
	}
	return suspects
}

func (s *Service) appendEvents(ctx context.Context, lead *model.Lead, types []model.EventType, meta map[string]any) error {
	if len(types) == 0 {
		return nil
	}
	now := s.now()
	events := make([]model.Event, 0, len(types))
	for _, t := range types {
		events = append(events, model.Event{
			LeadID:    lead.ID,
			TenantID:  lead.TenantID,
			Type:      t,
			Metadata:  meta,
			CreatedAt: now,
		})
	}
	return eris.Wrapf(s.store.AppendEvents(ctx, events), "ingest: append events for lead %s", lead.ID)
}

// dispatch notifies destinations after every write has landed.
func (s *Service) dispatch(ctx context.Context, lead *model.Lead, events []model.EventType, data map[string]any) []dispatch.DeliveryResult {
	if s.dispatcher == nil {
		return nil
	}
	var results []dispatch.DeliveryResult
	for _, ev := range events {
		results = append(results, s.dispatcher.Dispatch(ctx, ev, lead, data)...)
	}
	return results
}
