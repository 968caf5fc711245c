// Package merge consolidates duplicate leads into one principal record.
//
// The principal's financial fields are recomputed from the investment rows
// of the whole group and written first. Secondaries are then superseded one
// by one, each in its own atomic update. A crash between the two phases
// leaves the principal correct and the secondaries pending, and running the
// merge again only touches what is still live.
package merge

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-engine/internal/config"
	"github.com/sells-group/lead-engine/internal/lock"
	"github.com/sells-group/lead-engine/internal/metrics"
	"github.com/sells-group/lead-engine/internal/model"
	"github.com/sells-group/lead-engine/internal/normalize"
)

// ActorSystem is the actor recorded on automatic merges.
const ActorSystem = "system"

// Store is the persistence the consolidator needs.
type Store interface {
	GetLead(ctx context.Context, tenantID, id string) (*model.Lead, error)
	ListGroup(ctx context.Context, tenantID string, key model.GroupKey) ([]model.Lead, error)
	ListInvestments(ctx context.Context, tenantID string, leadIDs []string) ([]model.Investment, error)
	UpdateFinancials(ctx context.Context, l *model.Lead) (bool, error)
	UpdateLead(ctx context.Context, l *model.Lead) error
	SupersedeLead(ctx context.Context, tenantID, id, principalID, actor string, at time.Time) (bool, error)
	AppendEvents(ctx context.Context, events []model.Event) error
}

// Actor is who asked for the merge.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Request names a duplicate group and the lead that survives.
type Request struct {
	TenantID    string         `json:"empresa_id"`
	Key         model.GroupKey `json:"key"`
	PrincipalID string         `json:"principal_id"`
	Actor       Actor          `json:"actor"`
}

// Pending is a secondary whose supersede write failed. Running the merge
// again retries it.
type Pending struct {
	LeadID string `json:"lead_id"`
	Error  string `json:"error"`
}

// Result reports what a merge changed.
type Result struct {
	Principal  model.Lead `json:"principal"`
	Superseded []string   `json:"superseded"`
	Pending    []Pending  `json:"pending,omitempty"`
}

// Consolidator runs merges.
type Consolidator struct {
	store   Store
	locker  lock.Locker
	cfg     config.MergeConfig
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewConsolidator creates a Consolidator. metrics may be nil.
func NewConsolidator(store Store, locker lock.Locker, cfg config.MergeConfig, m *metrics.Metrics) *Consolidator {
	if cfg.LockTTLSecs <= 0 {
		cfg.LockTTLSecs = 30
	}
	if len(cfg.ElevatedRoles) == 0 {
		cfg.ElevatedRoles = []string{"admin", "gestor", ActorSystem}
	}
	return &Consolidator{
		store:   store,
		locker:  locker,
		cfg:     cfg,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// LockKey is the lock taken for a duplicate group.
func LockKey(tenantID string, key model.GroupKey) string {
	return "merge:" + tenantID + ":" + key.String()
}

// Merge consolidates the group in req into req.PrincipalID.
//
// Errors: ForbiddenError for a non-elevated actor, NotFoundError for an
// unknown principal or a group with no live leads, ConflictError when the
// principal is already merged or another merge holds the group,
// ValidationError when the principal is not part of the group. Failed
// supersede writes are returned in Result.Pending, not as an error.
func (c *Consolidator) Merge(ctx context.Context, req Request) (*Result, error) {
	res, err := c.merge(ctx, req)
	switch {
	case err == nil && len(res.Pending) > 0:
		c.metrics.Merge("partial", len(res.Superseded))
	case err == nil:
		c.metrics.Merge("success", len(res.Superseded))
	case model.IsConflict(err):
		c.metrics.Merge("conflict", 0)
	case model.IsForbidden(err), model.IsValidation(err), model.IsNotFound(err):
		c.metrics.Merge("rejected", 0)
	default:
		c.metrics.Merge("error", 0)
	}
	return res, err
}

func (c *Consolidator) merge(ctx context.Context, req Request) (*Result, error) {
	if req.TenantID == "" {
		return nil, model.NewValidationError("empresa_id", "", "tenant is required")
	}
	if req.PrincipalID == "" {
		return nil, model.NewValidationError("principal_id", "", "principal is required")
	}
	key, err := canonicalKey(req.Key)
	if err != nil {
		return nil, err
	}
	req.Key = key
	if !slices.Contains(c.cfg.ElevatedRoles, req.Actor.Role) {
		return nil, model.NewForbiddenError(req.Actor.ID, req.Actor.Role, "merge leads")
	}

	log := zap.L().With(
		zap.String("tenant_id", req.TenantID),
		zap.String("group", req.Key.String()),
		zap.String("principal_id", req.PrincipalID),
		zap.String("actor", req.Actor.ID),
	)

	ttl := time.Duration(c.cfg.LockTTLSecs) * time.Second
	l := c.locker.NewLock(LockKey(req.TenantID, req.Key), ttl)
	acquired, err := l.Acquire(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "merge: acquire group lock")
	}
	if !acquired {
		return nil, model.NewConflictError(req.PrincipalID, "another merge is in progress for "+req.Key.String())
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("merge: release group lock", zap.Error(err))
		}
	}()

	principal, err := c.store.GetLead(ctx, req.TenantID, req.PrincipalID)
	if err != nil {
		return nil, eris.Wrap(err, "merge: load principal")
	}
	if principal == nil {
		return nil, model.NewNotFoundError("lead", req.PrincipalID)
	}
	if principal.Merged {
		into := ""
		if principal.MergedIntoID != nil {
			into = *principal.MergedIntoID
		}
		return nil, model.NewConflictError(principal.ID, "principal is already merged into "+into)
	}

	group, err := c.store.ListGroup(ctx, req.TenantID, req.Key)
	if err != nil {
		return nil, eris.Wrap(err, "merge: load group")
	}
	if len(group) == 0 {
		return nil, model.NewNotFoundError("group", req.Key.String())
	}
	if !containsLead(group, principal.ID) {
		return nil, model.NewValidationError("principal_id", principal.ID, "principal does not belong to group "+req.Key.String())
	}

	secondaries := make([]model.Lead, 0, len(group))
	ids := []string{principal.ID}
	for _, g := range group {
		if g.ID != principal.ID {
			secondaries = append(secondaries, g)
			ids = append(ids, g.ID)
		}
	}

	// Phase 1: the principal carries the full aggregate before anyone is
	// superseded.
	invs, err := c.store.ListInvestments(ctx, req.TenantID, ids)
	if err != nil {
		return nil, eris.Wrap(err, "merge: load investments")
	}
	merged := *principal
	model.AggregateInvestments(invs).ApplyTo(&merged)
	absorb(&merged, secondaries)

	if err := c.keepLock(ctx, l, ttl); err != nil {
		return nil, err
	}
	ok, err := c.store.UpdateFinancials(ctx, &merged)
	if err != nil {
		return nil, eris.Wrap(err, "merge: principal financials write")
	}
	if !ok {
		return nil, model.NewConflictError(principal.ID, "principal was merged concurrently")
	}
	if profileChanged(principal, &merged) {
		if err := c.store.UpdateLead(ctx, &merged); err != nil {
			return nil, eris.Wrap(err, "merge: principal profile write")
		}
	}

	// Phase 2: supersede each secondary on its own.
	res := &Result{Principal: merged, Superseded: []string{}}
	at := c.now()
	events := []model.Event{}
	for i, sec := range secondaries {
		if err := c.keepLock(ctx, l, ttl); err != nil {
			log.Warn("merge: group lock lost, remaining secondaries left pending", zap.Error(err))
			for _, rest := range secondaries[i:] {
				res.Pending = append(res.Pending, Pending{LeadID: rest.ID, Error: err.Error()})
			}
			break
		}
		changed, err := c.store.SupersedeLead(ctx, req.TenantID, sec.ID, principal.ID, req.Actor.ID, at)
		if err != nil {
			log.Warn("merge: supersede failed, left pending",
				zap.String("lead_id", sec.ID),
				zap.Error(err),
			)
			res.Pending = append(res.Pending, Pending{LeadID: sec.ID, Error: err.Error()})
			continue
		}
		if !changed {
			// Someone else already merged it, or the principal stopped
			// being live. Only the latter leaves work behind.
			if cur, gerr := c.store.GetLead(ctx, req.TenantID, sec.ID); gerr == nil && cur != nil && !cur.Merged {
				res.Pending = append(res.Pending, Pending{LeadID: sec.ID, Error: "principal is no longer live"})
			}
			continue
		}
		res.Superseded = append(res.Superseded, sec.ID)
		events = append(events, model.Event{
			LeadID:   sec.ID,
			TenantID: req.TenantID,
			Type:     model.EventMerged,
			Note:     "merged into " + principal.ID,
			Metadata: map[string]any{
				"principal_id": principal.ID,
				"group":        req.Key.String(),
				"actor":        req.Actor.ID,
			},
			CreatedAt: at,
		})
	}

	if len(res.Superseded) > 0 {
		events = append(events, model.Event{
			LeadID:   principal.ID,
			TenantID: req.TenantID,
			Type:     model.EventMergePrincipal,
			Note:     "absorbed duplicates from " + req.Key.String(),
			Metadata: map[string]any{
				"superseded":       res.Superseded,
				"actor":            req.Actor.ID,
				"total_invested":   merged.TotalInvested,
				"investment_count": merged.InvestmentCount,
			},
			CreatedAt: at,
		})
		if err := c.store.AppendEvents(ctx, events); err != nil {
			log.Warn("merge: append events", zap.Error(err))
		}
	}

	log.Info("merge: complete",
		zap.Int("superseded", len(res.Superseded)),
		zap.Int("pending", len(res.Pending)),
		zap.Float64("total_invested", merged.TotalInvested),
	)
	return res, nil
}

// keepLock renews an expiring group lock before a write. A lock that is no
// longer owned yields a ConflictError.
func (c *Consolidator) keepLock(ctx context.Context, l lock.DistLock, ttl time.Duration) error {
	ext, ok := l.(lock.Extender)
	if !ok {
		return nil
	}
	held, err := ext.Extend(ctx, ttl)
	if err != nil {
		return eris.Wrap(err, "merge: extend group lock")
	}
	if !held {
		return model.NewConflictError("", "group lock expired before the merge finished")
	}
	return nil
}

// canonicalKey normalizes the key value the way stored leads are.
func canonicalKey(k model.GroupKey) (model.GroupKey, error) {
	var err error
	switch k.Kind {
	case model.GroupEmail:
		k.Value, err = normalize.Email(k.Value)
	case model.GroupPhone:
		k.Value, err = normalize.Phone(k.Value)
	case model.GroupExternalID:
		if k.IDKind.Column() == "" {
			return k, model.NewValidationError("id_kind", string(k.IDKind), "unknown external id kind")
		}
		k.Value = strings.TrimSpace(k.Value)
	default:
		return k, model.NewValidationError("kind", string(k.Kind), "unknown group kind")
	}
	if err != nil {
		return k, err
	}
	if k.Value == "" {
		return k, model.NewValidationError("key", k.String(), "group key is required")
	}
	return k, nil
}

func containsLead(leads []model.Lead, id string) bool {
	return slices.ContainsFunc(leads, func(l model.Lead) bool { return l.ID == id })
}
