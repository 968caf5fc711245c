package ingest

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-engine/internal/model"
)

// RecordInvestment stores one crowdfunding order for a lead and recomputes
// the lead's financial fields from all of its rows. Reporting the same
// external id again updates the row. An order for a merged lead is
// recorded on the lead it was merged into.
func (s *Service) RecordInvestment(ctx context.Context, tenantID, leadID string, inv model.Investment) (*model.Lead, error) {
	lead, err := s.store.GetLead(ctx, tenantID, leadID)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load lead")
	}
	if lead == nil {
		return nil, model.NewNotFoundError("lead", leadID)
	}
	if lead.Merged && lead.MergedIntoID != nil {
		principal, err := s.store.GetLead(ctx, tenantID, *lead.MergedIntoID)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: load principal")
		}
		if principal == nil {
			return nil, model.NewNotFoundError("lead", *lead.MergedIntoID)
		}
		lead = principal
	}

	events, err := s.recordInvestments(ctx, lead, []model.Investment{inv})
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, lead, events, map[string]any{
		"projeto": strings.TrimSpace(inv.Project),
		"valor":   inv.Amount,
		"status":  string(inv.Status),
	})
	return lead, nil
}

// recordInvestments upserts rows for lead, rewrites its financials and
// appends the resulting lifecycle events. The returned events are not yet
// dispatched.
func (s *Service) recordInvestments(ctx context.Context, lead *model.Lead, invs []model.Investment) ([]model.EventType, error) {
	for i := range invs {
		inv := invs[i]
		if err := validateInvestment(&inv); err != nil {
			return nil, err
		}
		inv.LeadID = lead.ID
		inv.TenantID = lead.TenantID
		if inv.InvestedAt.IsZero() {
			inv.InvestedAt = s.now()
		}
		if err := s.store.UpsertInvestment(ctx, &inv); err != nil {
			return nil, eris.Wrap(err, "ingest: upsert investment")
		}
	}

	rows, err := s.store.ListInvestments(ctx, lead.TenantID, []string{lead.ID})
	if err != nil {
		return nil, eris.Wrap(err, "ingest: list investments")
	}
	before := *lead
	model.AggregateInvestments(rows).ApplyTo(lead)

	ok, err := s.store.UpdateFinancials(ctx, lead)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: update financials")
	}
	if !ok {
		return nil, model.NewConflictError(lead.ID, "lead was merged while recording an investment")
	}

	var events []model.EventType
	if lead.InvestmentCount > before.InvestmentCount {
		events = append(events, model.EventInvestimento)
	}
	if lead.SaleClosed && !before.SaleClosed {
		events = append(events, model.EventVenda)
	}
	if lead.AbandonedCart && !before.AbandonedCart {
		events = append(events, model.EventCarrinhoAbandonado)
	}

	if err := s.appendEvents(ctx, lead, events, map[string]any{
		"total_investido":   lead.TotalInvested,
		"qtd_investimentos": lead.InvestmentCount,
	}); err != nil {
		return nil, err
	}
	zap.L().Debug("ingest: financials recomputed",
		zap.String("lead_id", lead.ID),
		zap.Int("investment_count", lead.InvestmentCount),
		zap.Float64("total_invested", lead.TotalInvested),
	)
	return events, nil
}

func validateInvestment(inv *model.Investment) error {
	switch inv.Status {
	case model.InvestmentPaid, model.InvestmentPending, model.InvestmentAbandoned:
	default:
		return model.NewValidationError("status", string(inv.Status), "expected paid, pending or abandoned")
	}
	if inv.Amount < 0 {
		return model.NewValidationError("valor", "", "amount must be >= 0")
	}
	return nil
}
