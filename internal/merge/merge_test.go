package merge

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-engine/internal/config"
	"github.com/sells-group/lead-engine/internal/lock"
	"github.com/sells-group/lead-engine/internal/metrics"
	"github.com/sells-group/lead-engine/internal/model"
	"github.com/sells-group/lead-engine/internal/store"
)

var (
	admin    = Actor{ID: "op-1", Role: "admin"}
	emailKey = model.GroupKey{Kind: model.GroupEmail, Value: "x@y.com"}
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "merge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newConsolidator(s Store) *Consolidator {
	return NewConsolidator(s, lock.NewMemoryLocker(), config.MergeConfig{}, nil)
}

func create(t *testing.T, s store.Store, l model.Lead) *model.Lead {
	t.Helper()
	require.NoError(t, s.CreateLead(context.Background(), &l))
	return &l
}

func invest(t *testing.T, s store.Store, leadID, extID, project string, amount float64, status model.InvestmentStatus, at time.Time) {
	t.Helper()
	require.NoError(t, s.UpsertInvestment(context.Background(), &model.Investment{
		LeadID: leadID, TenantID: "t1", ExternalID: extID, Project: project,
		Amount: amount, Status: status, InvestedAt: at,
	}))
}

func get(t *testing.T, s store.Store, id string) *model.Lead {
	t.Helper()
	l, err := s.GetLead(context.Background(), "t1", id)
	require.NoError(t, err)
	require.NotNil(t, l)
	return l
}

// A CRM lead and a crowdfunding lead share an email; the CRM lead survives
// and ends up with the crowdfunding money.
func TestMerge_CrossSourceScenario(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := create(t, s, model.Lead{
		TenantID: "t1", Phone: "5511999998888", Email: "x@y.com",
		Source: model.SourcePipedrive, UTMCampaign: "lancamento", Stage: "proposta",
	})
	b := create(t, s, model.Lead{
		TenantID: "t1", Email: "x@y.com", Name: "Xavier",
		Source: model.SourceTokeniza, UTMCampaign: "outra", Tags: []string{"investidor"},
	})
	invest(t, s, b.ID, "ord-1", "Edificio Aurora", 1000, model.InvestmentPaid, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	res, err := newConsolidator(s).Merge(ctx, Request{TenantID: "t1", Key: emailKey, PrincipalID: a.ID, Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, res.Superseded)
	assert.Empty(t, res.Pending)

	gotA := get(t, s, a.ID)
	assert.InDelta(t, 1000, gotA.TotalInvested, 0.001)
	assert.Equal(t, 1, gotA.InvestmentCount)
	assert.True(t, gotA.Investor)
	assert.True(t, gotA.SaleClosed)
	assert.Equal(t, "5511999998888", gotA.Phone, "phone unchanged")
	assert.Equal(t, "lancamento", gotA.UTMCampaign, "CRM attribution kept from principal")
	assert.Equal(t, "proposta", gotA.Stage)
	assert.Equal(t, "Xavier", gotA.Name, "empty contact fields filled")
	assert.Equal(t, []string{"investidor"}, gotA.Tags)
	assert.Equal(t, []string{"Edificio Aurora"}, gotA.Projects)
	assert.Equal(t, "Edificio Aurora", gotA.CurrentProject)
	assert.False(t, gotA.Merged)

	gotB := get(t, s, b.ID)
	assert.True(t, gotB.Merged)
	require.NotNil(t, gotB.MergedIntoID)
	assert.Equal(t, a.ID, *gotB.MergedIntoID)
	assert.Equal(t, "op-1", gotB.MergedBy)
	assert.NotNil(t, gotB.MergedAt)

	events, err := s.ListEvents(ctx, "t1", a.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventMergePrincipal, events[0].Type)
}

func TestMerge_NoFinancialLoss(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	day := func(d int) time.Time { return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC) }

	p := create(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})
	s1 := create(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})
	s2 := create(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})
	invest(t, s, p.ID, "o1", "Alfa", 100, model.InvestmentPaid, day(1))
	invest(t, s, s1.ID, "o2", "beta", 200, model.InvestmentPaid, day(2))
	invest(t, s, s1.ID, "o3", "alfa", 300, model.InvestmentPaid, day(3))
	invest(t, s, s2.ID, "o4", "Gama", 50, model.InvestmentPending, day(4))
	invest(t, s, s2.ID, "o5", "Gama", 70, model.InvestmentAbandoned, day(5))

	_, err := newConsolidator(s).Merge(ctx, Request{TenantID: "t1", Key: emailKey, PrincipalID: s2.ID, Actor: admin})
	require.NoError(t, err)

	got := get(t, s, s2.ID)
	assert.Equal(t, 3, got.InvestmentCount, "sum of paid orders across the group")
	assert.InDelta(t, 600, got.TotalInvested, 0.001)
	assert.Equal(t, []string{"Alfa", "beta"}, got.Projects)
	assert.Equal(t, "alfa", got.CurrentProject, "latest paid project")
	assert.True(t, got.AbandonedCart)
	assert.InDelta(t, 70, got.AbandonedCartValue, 0.001)

	for _, id := range []string{p.ID, s1.ID} {
		sec := get(t, s, id)
		assert.True(t, sec.Merged)
		assert.Equal(t, s2.ID, *sec.MergedIntoID)
	}
}

func TestMerge_IntoMergedPrincipalConflicts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := create(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})
	b := create(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})
	c := newConsolidator(s)

	_, err := c.Merge(ctx, Request{TenantID: "t1", Key: emailKey, PrincipalID: a.ID, Actor: admin})
	require.NoError(t, err)
	before := get(t, s, a.ID)

	_, err = c.Merge(ctx, Request{TenantID: "t1", Key: emailKey, PrincipalID: b.ID, Actor: admin})
	require.Error(t, err)
	assert.True(t, model.IsConflict(err))
	assert.Contains(t, err.Error(), a.ID)

	after := get(t, s, a.ID)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt, "no state change")
	assert.False(t, after.Merged)
}

func TestMerge_RetryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := create(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})
	b := create(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})
	invest(t, s, b.ID, "o1", "", 500, model.InvestmentPaid, time.Now().UTC())
	c := newConsolidator(s)

	req := Request{TenantID: "t1", Key: emailKey, PrincipalID: a.ID, Actor: admin}
	_, err := c.Merge(ctx, req)
	require.NoError(t, err)

	res, err := c.Merge(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, res.Superseded)
	assert.InDelta(t, 500, get(t, s, a.ID).TotalInvested, 0.001, "never double counted")
}

// failingStore fails supersede writes for chosen leads.
type failingStore struct {
	store.Store
	failFor map[string]bool
}

func (f *failingStore) SupersedeLead(ctx context.Context, tenantID, id, principalID, actor string, at time.Time) (bool, error) {
	if f.failFor[id] {
		return false, errors.New("deadlock detected")
	}
	return f.Store.SupersedeLead(ctx, tenantID, id, principalID, actor, at)
}

func TestMerge_SecondaryFailureIsPendingAndRetryable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := create(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})
	b := create(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})
	c2 := create(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})
	invest(t, s, b.ID, "o1", "", 100, model.InvestmentPaid, time.Now().UTC())
	invest(t, s, c2.ID, "o2", "", 250, model.InvestmentPaid, time.Now().UTC())

	fs := &failingStore{Store: s, failFor: map[string]bool{c2.ID: true}}
	req := Request{TenantID: "t1", Key: emailKey, PrincipalID: a.ID, Actor: admin}

	res, err := newConsolidator(fs).Merge(ctx, req)
	require.NoError(t, err, "secondary failures are not fatal")
	assert.Equal(t, []string{b.ID}, res.Superseded)
	require.Len(t, res.Pending, 1)
	assert.Equal(t, c2.ID, res.Pending[0].LeadID)

	// The principal already holds the full aggregate.
	assert.InDelta(t, 350, get(t, s, a.ID).TotalInvested, 0.001)
	assert.False(t, get(t, s, c2.ID).Merged)

	fs.failFor = nil
	res, err = newConsolidator(fs).Merge(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []string{c2.ID}, res.Superseded)
	assert.InDelta(t, 350, get(t, s, a.ID).TotalInvested, 0.001)
	assert.Equal(t, 2, get(t, s, a.ID).InvestmentCount)
}

func TestMerge_Authorization(t *testing.T) {
	s := newTestStore(t)
	a := create(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})

	_, err := newConsolidator(s).Merge(context.Background(), Request{
		TenantID: "t1", Key: emailKey, PrincipalID: a.ID, Actor: Actor{ID: "sdr-7", Role: "vendedor"},
	})
	require.Error(t, err)
	assert.True(t, model.IsForbidden(err))
}

func TestMerge_Validation(t *testing.T) {
	s := newTestStore(t)
	a := create(t, s, model.Lead{TenantID: "t1", Email: "a@y.com"})
	create(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})
	c := newConsolidator(s)
	ctx := context.Background()

	_, err := c.Merge(ctx, Request{Key: emailKey, PrincipalID: a.ID, Actor: admin})
	assert.True(t, model.IsValidation(err))

	_, err = c.Merge(ctx, Request{TenantID: "t1", Key: emailKey, Actor: admin})
	assert.True(t, model.IsValidation(err))

	_, err = c.Merge(ctx, Request{TenantID: "t1", Key: emailKey, PrincipalID: "missing", Actor: admin})
	assert.True(t, model.IsNotFound(err))

	_, err = c.Merge(ctx, Request{TenantID: "t1", Key: emailKey, PrincipalID: a.ID, Actor: admin})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err), "principal outside the group")
}

func TestMerge_LockedGroupConflicts(t *testing.T) {
	s := newTestStore(t)
	a := create(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})
	create(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})

	locker := lock.NewMemoryLocker()
	held := locker.NewLock(LockKey("t1", emailKey), time.Minute)
	ok, err := held.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := NewConsolidator(s, locker, config.MergeConfig{}, m)

	_, err = c.Merge(context.Background(), Request{TenantID: "t1", Key: emailKey, PrincipalID: a.ID, Actor: admin})
	require.Error(t, err)
	assert.True(t, model.IsConflict(err))
	assert.False(t, get(t, s, a.ID).Merged)

	count, err := testutil.GatherAndCount(reg, "leads_merge_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, held.Release(context.Background()))
	_, err = c.Merge(context.Background(), Request{TenantID: "t1", Key: emailKey, PrincipalID: a.ID, Actor: admin})
	require.NoError(t, err)
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, "merge:t1:email:x@y.com", LockKey("t1", emailKey))
}

func TestUnionFold(t *testing.T) {
	assert.Equal(t, []string{"VIP", "sp", "rj"}, UnionFold([]string{"VIP", "sp"}, []string{"vip", " rj ", ""}))
	assert.Empty(t, UnionFold(nil, nil))
}

func TestMerge_KeyIsNormalized(t *testing.T) {
	s := newTestStore(t)
	a := create(t, s, model.Lead{TenantID: "t1", Phone: "5511999998888"})
	b := create(t, s, model.Lead{TenantID: "t1", Phone: "5511999998888"})
	c := newConsolidator(s)

	res, err := c.Merge(context.Background(), Request{
		TenantID:    "t1",
		Key:         model.GroupKey{Kind: model.GroupPhone, Value: "(11) 99999-8888"},
		PrincipalID: a.ID,
		Actor:       admin,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, res.Superseded)

	_, err = c.Merge(context.Background(), Request{
		TenantID:    "t1",
		Key:         model.GroupKey{Kind: model.GroupExternalID, IDKind: "cpf", Value: "1"},
		PrincipalID: a.ID,
		Actor:       admin,
	})
	assert.True(t, model.IsValidation(err))
}

// expiringLocker hands out locks that stay owned for a fixed number of
// extensions.
type expiringLocker struct {
	allowed int
	extends int
}

func (e *expiringLocker) NewLock(string, time.Duration) lock.DistLock { return &expiringLock{e} }

type expiringLock struct{ l *expiringLocker }

func (l *expiringLock) Acquire(context.Context) (bool, error) { return true, nil }
func (l *expiringLock) Release(context.Context) error         { return nil }

func (l *expiringLock) Extend(context.Context, time.Duration) (bool, error) {
	l.l.extends++
	return l.l.extends <= l.l.allowed, nil
}

func TestMerge_ExtendsLockBeforeEachWrite(t *testing.T) {
	s := newTestStore(t)
	a := create(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})
	create(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})
	create(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})

	locker := &expiringLocker{allowed: 10}
	c := NewConsolidator(s, locker, config.MergeConfig{}, nil)
	res, err := c.Merge(context.Background(), Request{TenantID: "t1", Key: emailKey, PrincipalID: a.ID, Actor: admin})
	require.NoError(t, err)
	assert.Len(t, res.Superseded, 2)
	assert.Equal(t, 3, locker.extends, "principal write plus one per secondary")
}

func TestMerge_LostLockStopsSuperseding(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := create(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})
	b := create(t, s, model.Lead{TenantID: "t1", Email: "x@y.com", CreatedAt: time.Now().UTC().Add(time.Second)})
	c2 := create(t, s, model.Lead{TenantID: "t1", Email: "x@y.com", CreatedAt: time.Now().UTC().Add(2 * time.Second)})
	invest(t, s, c2.ID, "o1", "", 300, model.InvestmentPaid, time.Now().UTC())
	req := Request{TenantID: "t1", Key: emailKey, PrincipalID: a.ID, Actor: admin}

	// Owned for the principal write and the first secondary only.
	res, err := NewConsolidator(s, &expiringLocker{allowed: 2}, config.MergeConfig{}, nil).Merge(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, res.Superseded)
	require.Len(t, res.Pending, 1)
	assert.Equal(t, c2.ID, res.Pending[0].LeadID)
	assert.False(t, get(t, s, c2.ID).Merged)
	assert.InDelta(t, 300, get(t, s, a.ID).TotalInvested, 0.001)

	// Lost before the principal write: nothing changes.
	d := create(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})
	_, err = NewConsolidator(s, &expiringLocker{allowed: 0}, config.MergeConfig{}, nil).Merge(ctx, req)
	require.Error(t, err)
	assert.True(t, model.IsConflict(err))
	assert.False(t, get(t, s, d.ID).Merged)

	res, err = newConsolidator(s).Merge(ctx, req)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{c2.ID, d.ID}, res.Superseded)
}

func TestMerge_EmptyGroupIsNotFound(t *testing.T) {
	s := newTestStore(t)
	a := create(t, s, model.Lead{TenantID: "t1", Email: "a@y.com"})

	_, err := newConsolidator(s).Merge(context.Background(), Request{
		TenantID: "t1", Key: model.GroupKey{Kind: model.GroupEmail, Value: "nobody@y.com"}, PrincipalID: a.ID, Actor: admin,
	})
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))
	assert.False(t, get(t, s, a.ID).Merged)

	// A group of one is the principal alone: nothing to supersede.
	res, err := newConsolidator(s).Merge(context.Background(), Request{
		TenantID: "t1", Key: model.GroupKey{Kind: model.GroupEmail, Value: "a@y.com"}, PrincipalID: a.ID, Actor: admin,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Superseded)
}
