package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-engine/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func mustCreate(t *testing.T, s Store, l model.Lead) *model.Lead {
	t.Helper()
	require.NoError(t, s.CreateLead(context.Background(), &l))
	return &l
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetLead", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mql := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		l := mustCreate(t, s, model.Lead{
			TenantID:    "t1",
			Name:        "Maria Silva",
			Email:       "maria@example.com",
			Phone:       "5511988887777",
			Source:      model.SourcePipedrive,
			TicketID:    "tk-1",
			UTMCampaign: "lancamento",
			IsMQL:       true,
			MQLAt:       &mql,
			Tags:        []string{"vip", "sp"},
		})
		assert.NotEmpty(t, l.ID)

		got, err := s.GetLead(ctx, "t1", l.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Maria Silva", got.Name)
		assert.Equal(t, model.SourcePipedrive, got.Source)
		assert.Equal(t, "tk-1", got.TicketID)
		assert.True(t, got.IsMQL)
		require.NotNil(t, got.MQLAt)
		assert.True(t, mql.Equal(*got.MQLAt))
		assert.Nil(t, got.MeetingAt)
		assert.Equal(t, []string{"vip", "sp"}, got.Tags)
		assert.False(t, got.Merged)
		assert.Nil(t, got.MergedIntoID)
	})

	t.Run("GetLeadWrongTenant", func(t *testing.T) {
		s := newStore(t)
		l := mustCreate(t, s, model.Lead{TenantID: "t1", Email: "a@b.com"})

		got, err := s.GetLead(context.Background(), "t2", l.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("UpdateLead", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		l := mustCreate(t, s, model.Lead{TenantID: "t1", Email: "a@b.com"})

		l.Phone = "5511999998888"
		l.RaisedHand = true
		require.NoError(t, s.UpdateLead(ctx, l))

		got, err := s.GetLead(ctx, "t1", l.ID)
		require.NoError(t, err)
		assert.Equal(t, "5511999998888", got.Phone)
		assert.True(t, got.RaisedHand)
	})

	t.Run("UpdateMergedLeadConflicts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := mustCreate(t, s, model.Lead{TenantID: "t1", Email: "a@b.com"})
		b := mustCreate(t, s, model.Lead{TenantID: "t1", Email: "a@b.com"})

		ok, err := s.SupersedeLead(ctx, "t1", b.ID, a.ID, "u1", time.Now().UTC())
		require.NoError(t, err)
		require.True(t, ok)

		b.Name = "late write"
		err = s.UpdateLead(ctx, b)
		require.Error(t, err)
		assert.True(t, model.IsConflict(err))
	})

	t.Run("StaleUpdateKeepsFlagsAndSale", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mql := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		paid := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
		l := mustCreate(t, s, model.Lead{TenantID: "t1", Email: "a@b.com", IsMQL: true, MQLAt: &mql})
		stale := *l

		// Financials land between the read and the profile write.
		fresh := *l
		fresh.Investor = true
		fresh.TotalInvested = 1000
		fresh.InvestmentCount = 1
		fresh.LastInvestmentAt = &paid
		fresh.SaleClosed = true
		fresh.SaleAt = &paid
		fresh.SaleValue = 1000
		ok, err := s.UpdateFinancials(ctx, &fresh)
		require.NoError(t, err)
		require.True(t, ok)

		later := mql.Add(48 * time.Hour)
		stale.Name = "Ana"
		stale.IsMQL = false
		stale.MQLAt = &later
		stale.SaleValue = 50
		require.NoError(t, s.UpdateLead(ctx, &stale))

		got, err := s.GetLead(ctx, "t1", l.ID)
		require.NoError(t, err)
		assert.Equal(t, "Ana", got.Name)
		assert.True(t, got.IsMQL)
		require.NotNil(t, got.MQLAt)
		assert.True(t, mql.Equal(*got.MQLAt))
		assert.True(t, got.SaleClosed)
		require.NotNil(t, got.SaleAt)
		assert.True(t, paid.Equal(*got.SaleAt))
		assert.InDelta(t, 1000.0, got.SaleValue, 0.001)
		assert.InDelta(t, 1000.0, got.TotalInvested, 0.001)
	})

	t.Run("UpdateLeadSetsSaleWithoutInvestments", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		l := mustCreate(t, s, model.Lead{TenantID: "t1", Email: "a@b.com"})

		at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
		l.SaleClosed = true
		l.SaleAt = &at
		l.SaleValue = 320
		require.NoError(t, s.UpdateLead(ctx, l))

		got, err := s.GetLead(ctx, "t1", l.ID)
		require.NoError(t, err)
		assert.True(t, got.SaleClosed)
		assert.InDelta(t, 320.0, got.SaleValue, 0.001)
	})

	t.Run("FindersAreTenantScopedAndLiveOnly", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		first := mustCreate(t, s, model.Lead{TenantID: "t1", Phone: "5511988887777", Email: "X@Y.com", AdID: "ad-9"})
		mustCreate(t, s, model.Lead{TenantID: "t2", Phone: "5511988887777", Email: "x@y.com", AdID: "ad-9"})
		merged := mustCreate(t, s, model.Lead{TenantID: "t1", Phone: "5511988887777", Email: "x@y.com"})
		_, err := s.SupersedeLead(ctx, "t1", merged.ID, first.ID, "system", time.Now().UTC())
		require.NoError(t, err)

		byPhone, err := s.FindByPhone(ctx, "t1", "5511988887777")
		require.NoError(t, err)
		require.Len(t, byPhone, 1)
		assert.Equal(t, first.ID, byPhone[0].ID)

		byEmail, err := s.FindByEmail(ctx, "t1", "x@y.com")
		require.NoError(t, err)
		require.Len(t, byEmail, 1)
		assert.Equal(t, first.ID, byEmail[0].ID)

		byAd, err := s.FindByExternalID(ctx, "t1", model.ExternalAd, "ad-9")
		require.NoError(t, err)
		require.Len(t, byAd, 1)
		assert.Equal(t, "t1", byAd[0].TenantID)

		_, err = s.FindByExternalID(ctx, "t1", model.ExternalIDKind("phone; DROP TABLE leads"), "x")
		require.Error(t, err)
		assert.True(t, model.IsValidation(err))
	})

	t.Run("FindByEmailOrdersByCreation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		older := mustCreate(t, s, model.Lead{TenantID: "t1", Email: "dup@x.com", CreatedAt: time.Now().UTC().Add(-time.Hour)})
		newer := mustCreate(t, s, model.Lead{TenantID: "t1", Email: "dup@x.com"})

		got, err := s.FindByEmail(ctx, "t1", "DUP@x.com")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, older.ID, got[0].ID)
		assert.Equal(t, newer.ID, got[1].ID)
	})

	t.Run("ListCandidates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		lp := mustCreate(t, s, model.Lead{TenantID: "t1", LandingPage: "x.com/lp"})
		mustCreate(t, s, model.Lead{TenantID: "t1", LandingPage: "y.com/outra"})
		txt := mustCreate(t, s, model.Lead{TenantID: "t1", MatchText: "anuncio imovel"})
		mustCreate(t, s, model.Lead{TenantID: "t1", MatchText: "casa praia"})
		mustCreate(t, s, model.Lead{TenantID: "t1"})
		mustCreate(t, s, model.Lead{TenantID: "t2", LandingPage: "x.com/lp", MatchText: "imovel"})

		// Containment runs both ways.
		for _, want := range []string{"x.com/lp/vila-nova", "x.com"} {
			got, err := s.ListCandidates(ctx, "t1", CandidateFilter{LandingPage: want})
			require.NoError(t, err)
			require.Len(t, got, 1, want)
			assert.Equal(t, lp.ID, got[0].ID)
		}

		withText, err := s.ListCandidates(ctx, "t1", CandidateFilter{Words: []string{"imovel", "centro"}})
		require.NoError(t, err)
		require.Len(t, withText, 1)
		assert.Equal(t, txt.ID, withText[0].ID)

		none, err := s.ListCandidates(ctx, "t1", CandidateFilter{Words: []string{"fazenda"}})
		require.NoError(t, err)
		assert.Empty(t, none)

		all, err := s.ListCandidates(ctx, "t1", CandidateFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("ListCandidatesFiltersBeforeLimit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := 0; i < 12; i++ {
			mustCreate(t, s, model.Lead{
				TenantID:    "t1",
				LandingPage: fmt.Sprintf("site.com/p%02d", i),
				MatchText:   fmt.Sprintf("campanha generica numero%02d", i),
			})
		}
		newest := mustCreate(t, s, model.Lead{TenantID: "t1", LandingPage: "site.com/lancamento", MatchText: "apartamento vila nova"})

		byURL, err := s.ListCandidates(ctx, "t1", CandidateFilter{LandingPage: "site.com/lancamento/torre-b", Limit: 5})
		require.NoError(t, err)
		require.Len(t, byURL, 1)
		assert.Equal(t, newest.ID, byURL[0].ID)

		byText, err := s.ListCandidates(ctx, "t1", CandidateFilter{Words: []string{"apartamento", "vila"}, Limit: 5})
		require.NoError(t, err)
		require.Len(t, byText, 1)
		assert.Equal(t, newest.ID, byText[0].ID)

		// Every lead shares "campanha"; the one sharing more words ranks first.
		ranked, err := s.ListCandidates(ctx, "t1", CandidateFilter{Words: []string{"campanha", "numero11"}, Limit: 5})
		require.NoError(t, err)
		require.Len(t, ranked, 5)
		assert.Equal(t, "campanha generica numero11", ranked[0].MatchText)
		assert.Equal(t, "campanha generica numero00", ranked[1].MatchText)
	})

	t.Run("ExistingContacts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := mustCreate(t, s, model.Lead{TenantID: "t1", Phone: "5511988887777"})
		b := mustCreate(t, s, model.Lead{TenantID: "t1", Email: "b@x.com"})
		mustCreate(t, s, model.Lead{TenantID: "t2", Email: "c@x.com"})

		found, err := s.ExistingContacts(ctx, "t1",
			[]string{"5511988887777", "5511900000000"},
			[]string{"B@x.com", "c@x.com"},
		)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"5511988887777": a.ID, "b@x.com": b.ID}, found)

		empty, err := s.ExistingContacts(ctx, "t1", nil, nil)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("DuplicateGroupsAndListGroup", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := mustCreate(t, s, model.Lead{TenantID: "t1", Email: "x@y.com", CreatedAt: time.Now().UTC().Add(-time.Hour)})
		b := mustCreate(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})
		mustCreate(t, s, model.Lead{TenantID: "t1", Email: "solo@y.com"})
		mustCreate(t, s, model.Lead{TenantID: "t2", Email: "x@y.com"})

		groups, err := s.DuplicateGroups(ctx, "t1", model.GroupEmail, 10)
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.Equal(t, "x@y.com", groups[0].Key.Value)
		assert.Equal(t, 2, groups[0].Count)
		assert.Equal(t, []string{a.ID, b.ID}, groups[0].LeadIDs)

		members, err := s.ListGroup(ctx, "t1", model.GroupKey{Kind: model.GroupEmail, Value: "X@Y.COM"})
		require.NoError(t, err)
		require.Len(t, members, 2)
		assert.Equal(t, a.ID, members[0].ID)

		_, err = s.DuplicateGroups(ctx, "t1", model.GroupExternalID, 10)
		assert.True(t, model.IsValidation(err))
	})

	t.Run("SupersedeRepointsAndIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p := mustCreate(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})
		mid := mustCreate(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})
		old := mustCreate(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})
		now := time.Now().UTC()

		ok, err := s.SupersedeLead(ctx, "t1", old.ID, mid.ID, "u1", now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.SupersedeLead(ctx, "t1", mid.ID, p.ID, "u1", now)
		require.NoError(t, err)
		assert.True(t, ok)

		gotOld, err := s.GetLead(ctx, "t1", old.ID)
		require.NoError(t, err)
		require.NotNil(t, gotOld.MergedIntoID)
		assert.Equal(t, p.ID, *gotOld.MergedIntoID, "no merge chains")

		ok, err = s.SupersedeLead(ctx, "t1", mid.ID, p.ID, "u1", now)
		require.NoError(t, err)
		assert.False(t, ok, "re-marking is a no-op")

		ok, err = s.SupersedeLead(ctx, "t1", p.ID, p.ID, "u1", now)
		require.NoError(t, err)
		assert.False(t, ok, "a lead never supersedes itself")

		live := mustCreate(t, s, model.Lead{TenantID: "t1", Email: "x@y.com"})
		ok, err = s.SupersedeLead(ctx, "t1", live.ID, mid.ID, "u1", now)
		require.NoError(t, err)
		assert.False(t, ok, "never point at a merged principal")
		gotLive, err := s.GetLead(ctx, "t1", live.ID)
		require.NoError(t, err)
		assert.False(t, gotLive.Merged)
	})

	t.Run("UpdateFinancialsSkipsMerged", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p := mustCreate(t, s, model.Lead{TenantID: "t1"})
		sec := mustCreate(t, s, model.Lead{TenantID: "t1"})
		_, err := s.SupersedeLead(ctx, "t1", sec.ID, p.ID, "u1", time.Now().UTC())
		require.NoError(t, err)

		p.TotalInvested = 1000
		p.InvestmentCount = 2
		p.Investor = true
		p.Projects = []string{"Residencial Aurora"}
		ok, err := s.UpdateFinancials(ctx, p)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.GetLead(ctx, "t1", p.ID)
		require.NoError(t, err)
		assert.Equal(t, 1000.0, got.TotalInvested)
		assert.Equal(t, 2, got.InvestmentCount)
		assert.Equal(t, []string{"Residencial Aurora"}, got.Projects)

		sec.TotalInvested = 5
		ok, err = s.UpdateFinancials(ctx, sec)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("InvestmentsIncludeMergedOwners", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p := mustCreate(t, s, model.Lead{TenantID: "t1"})
		sec := mustCreate(t, s, model.Lead{TenantID: "t1"})
		at := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

		require.NoError(t, s.UpsertInvestment(ctx, &model.Investment{
			LeadID: p.ID, TenantID: "t1", ExternalID: "ord-1", Project: "A", Amount: 500, Status: model.InvestmentPaid, InvestedAt: at,
		}))
		require.NoError(t, s.UpsertInvestment(ctx, &model.Investment{
			LeadID: sec.ID, TenantID: "t1", ExternalID: "ord-2", Project: "B", Amount: 300, Status: model.InvestmentPending, InvestedAt: at.Add(time.Hour),
		}))
		// Same order reported again, now paid, against another lead.
		again := &model.Investment{
			LeadID: p.ID, TenantID: "t1", ExternalID: "ord-2", Project: "B", Amount: 300, Status: model.InvestmentPaid, InvestedAt: at.Add(time.Hour),
		}
		require.NoError(t, s.UpsertInvestment(ctx, again))
		assert.Equal(t, sec.ID, again.LeadID, "owner is kept on upsert")

		_, err := s.SupersedeLead(ctx, "t1", sec.ID, p.ID, "u1", time.Now().UTC())
		require.NoError(t, err)

		rows, err := s.ListInvestments(ctx, "t1", []string{p.ID})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "ord-1", rows[0].ExternalID)
		assert.Equal(t, model.InvestmentPaid, rows[1].Status)

		none, err := s.ListInvestments(ctx, "t1", nil)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("AppendAndListEvents", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		l := mustCreate(t, s, model.Lead{TenantID: "t1"})

		require.NoError(t, s.AppendEvents(ctx, []model.Event{
			{LeadID: l.ID, TenantID: "t1", Type: model.EventLeadNovo, CreatedAt: time.Now().UTC().Add(-time.Minute)},
			{LeadID: l.ID, TenantID: "t1", Type: model.EventMQL, Note: "score 40", Metadata: map[string]any{"source": "mautic"}},
		}))

		events, err := s.ListEvents(ctx, "t1", l.ID)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, model.EventLeadNovo, events[0].Type)
		assert.Equal(t, model.EventMQL, events[1].Type)
		assert.Equal(t, "mautic", events[1].Metadata["source"])
		assert.NotEmpty(t, events[1].ID)

		other, err := s.ListEvents(ctx, "t2", l.ID)
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("Destinations", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		tenant := "t1"

		d := &model.Destination{
			Name:    "crm",
			URL:     "https://hooks.example.com/crm",
			Enabled: true,
			Headers: map[string]string{"Authorization": "Bearer x"},
			Events:  []string{"LEAD_NOVO", "MQL"},
		}
		require.NoError(t, s.UpsertDestination(ctx, d))
		require.NoError(t, s.UpsertDestination(ctx, &model.Destination{
			Name: "off", URL: "https://off.example.com", TenantID: &tenant, Events: []string{"MQL"},
		}))

		// Upsert by name keeps the id.
		d2 := &model.Destination{Name: "crm", URL: "https://hooks.example.com/v2", Enabled: true, Events: []string{"VENDA"}}
		require.NoError(t, s.UpsertDestination(ctx, d2))
		assert.Equal(t, d.ID, d2.ID)

		got, err := s.GetDestination(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, "https://hooks.example.com/v2", got.URL)
		assert.Equal(t, []string{"VENDA"}, got.Events)
		assert.Nil(t, got.TenantID)
		assert.Nil(t, got.Headers)

		enabled, err := s.ListDestinations(ctx, true)
		require.NoError(t, err)
		require.Len(t, enabled, 1)

		all, err := s.ListDestinations(ctx, false)
		require.NoError(t, err)
		require.Len(t, all, 2)
		require.NotNil(t, all[1].TenantID)
		assert.Equal(t, "t1", *all[1].TenantID)

		missing, err := s.GetDestination(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("Deliveries", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		d := &model.Destination{Name: "crm", URL: "https://x", Enabled: true, Events: []string{"MQL"}}
		require.NoError(t, s.UpsertDestination(ctx, d))

		payload, _ := json.Marshal(map[string]any{"event": "MQL"})
		first := &model.Delivery{
			DestinationID: d.ID, TenantID: "t1", LeadID: "l1", Event: model.EventMQL,
			Payload: payload, StatusCode: 500, ResponseBody: "boom", Outcome: model.OutcomeError, ErrorKind: "transient",
		}
		require.NoError(t, s.InsertDelivery(ctx, first))

		replay := &model.Delivery{
			DestinationID: d.ID, TenantID: "t1", LeadID: "l1", Event: model.EventMQL,
			Payload: payload, StatusCode: 200, Outcome: model.OutcomeSuccess, ReplayOf: &first.ID,
		}
		require.NoError(t, s.InsertDelivery(ctx, replay))

		got, err := s.GetDelivery(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, 500, got.StatusCode)
		assert.JSONEq(t, `{"event":"MQL"}`, string(got.Payload))
		assert.Nil(t, got.ReplayOf)

		failed, err := s.ListDeliveries(ctx, DeliveryFilter{Outcome: model.OutcomeError})
		require.NoError(t, err)
		require.Len(t, failed, 1)

		byLead, err := s.ListDeliveries(ctx, DeliveryFilter{LeadID: "l1", DestinationID: d.ID})
		require.NoError(t, err)
		require.Len(t, byLead, 2)
	})

	t.Run("Batches", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		older := mustCreate(t, s, model.Lead{TenantID: "t1", Name: "l1", CreatedAt: time.Now().UTC().Add(-3 * time.Hour)})
		sent := mustCreate(t, s, model.Lead{TenantID: "t1", Name: "l2", CreatedAt: time.Now().UTC().Add(-2 * time.Hour)})
		draft := mustCreate(t, s, model.Lead{TenantID: "t1", Name: "l3", CreatedAt: time.Now().UTC().Add(-time.Hour)})
		newest := mustCreate(t, s, model.Lead{TenantID: "t1", Name: "l4"})

		b := &model.Batch{TenantID: "t1", Name: "quentes", LeadIDs: []string{newest.ID, sent.ID}}
		require.NoError(t, s.CreateBatch(ctx, b))
		require.NoError(t, s.CreateBatch(ctx, &model.Batch{TenantID: "t1", Name: "draft", LeadIDs: []string{draft.ID}}))

		unsent, err := s.ListLeads(ctx, LeadFilter{TenantID: "t1", ExcludeSent: true})
		require.NoError(t, err)
		assert.Len(t, unsent, 4, "unsent batches exclude nothing")

		require.NoError(t, s.MarkBatchSent(ctx, "t1", b.ID, time.Now().UTC()))

		// Paging runs over the unsent leads only.
		page1, err := s.ListLeads(ctx, LeadFilter{TenantID: "t1", ExcludeSent: true, Limit: 1})
		require.NoError(t, err)
		require.Len(t, page1, 1)
		assert.Equal(t, draft.ID, page1[0].ID)

		page2, err := s.ListLeads(ctx, LeadFilter{TenantID: "t1", ExcludeSent: true, Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page2, 1)
		assert.Equal(t, older.ID, page2[0].ID)

		all, err := s.ListLeads(ctx, LeadFilter{TenantID: "t1"})
		require.NoError(t, err)
		assert.Len(t, all, 4)

		err = s.MarkBatchSent(ctx, "t2", b.ID, time.Now().UTC())
		assert.True(t, model.IsNotFound(err))
	})

	t.Run("ListLeads", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustCreate(t, s, model.Lead{TenantID: "t1", Name: "a"})
		mustCreate(t, s, model.Lead{TenantID: "t1", Name: "b"})
		mustCreate(t, s, model.Lead{TenantID: "t2", Name: "c"})

		leads, err := s.ListLeads(ctx, LeadFilter{TenantID: "t1"})
		require.NoError(t, err)
		assert.Len(t, leads, 2)
	})
}
