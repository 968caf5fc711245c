package model

import (
	"sort"
	"strings"
	"time"
)

// InvestmentStatus is the crowdfunding platform's state for one order.
type InvestmentStatus string

const (
	InvestmentPaid      InvestmentStatus = "paid"
	InvestmentPending   InvestmentStatus = "pending"
	InvestmentAbandoned InvestmentStatus = "abandoned"
)

// Investment is one crowdfunding order as reported by the source. Rows are
// the source of truth for every financial field on a lead.
type Investment struct {
	ID         string           `json:"id" db:"id"`
	LeadID     string           `json:"lead_id" db:"lead_id"`
	TenantID   string           `json:"empresa_id" db:"tenant_id"`
	ExternalID string           `json:"external_id,omitempty" db:"external_id"`
	Project    string           `json:"projeto" db:"project"`
	Amount     float64          `json:"valor" db:"amount"`
	Status     InvestmentStatus `json:"status" db:"status"`
	InvestedAt time.Time        `json:"data" db:"invested_at"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
}

// Financials is the aggregate of a set of investment rows.
type Financials struct {
	InvestmentCount    int
	TotalInvested      float64
	FirstInvestmentAt  *time.Time
	LastInvestmentAt   *time.Time
	AbandonedCart      bool
	AbandonedCartValue float64
	Projects           []string
	CurrentProject     string
}

// AggregateInvestments computes financial totals from investment rows.
// Rows sharing an external id are counted once. Abandoned carts only count
// when no paid order came after them.
func AggregateInvestments(rows []Investment) Financials {
	seen := make(map[string]bool, len(rows))
	unique := make([]Investment, 0, len(rows))
	for _, r := range rows {
		if r.ExternalID != "" {
			if seen[r.ExternalID] {
				continue
			}
			seen[r.ExternalID] = true
		}
		unique = append(unique, r)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].InvestedAt.Before(unique[j].InvestedAt)
	})

	var f Financials
	projectSeen := make(map[string]bool)
	for _, r := range unique {
		if r.Status != InvestmentPaid {
			continue
		}
		at := r.InvestedAt
		f.InvestmentCount++
		f.TotalInvested += r.Amount
		if f.FirstInvestmentAt == nil {
			f.FirstInvestmentAt = &at
		}
		f.LastInvestmentAt = &at

		project := strings.TrimSpace(r.Project)
		if project == "" {
			continue
		}
		f.CurrentProject = project
		key := strings.ToLower(project)
		if !projectSeen[key] {
			projectSeen[key] = true
			f.Projects = append(f.Projects, project)
		}
	}

	for _, r := range unique {
		if r.Status != InvestmentAbandoned {
			continue
		}
		if f.LastInvestmentAt != nil && !r.InvestedAt.After(*f.LastInvestmentAt) {
			continue
		}
		f.AbandonedCart = true
		f.AbandonedCartValue += r.Amount
	}

	return f
}

// ApplyTo writes the aggregate onto a lead. Sale fields follow the
// crowdfunding data when it has paid orders; a sale recorded by the CRM is
// kept when it has none.
func (f Financials) ApplyTo(l *Lead) {
	l.Investor = f.InvestmentCount > 0
	l.TotalInvested = f.TotalInvested
	l.InvestmentCount = f.InvestmentCount
	l.LastInvestmentAt = f.LastInvestmentAt
	l.AbandonedCart = f.AbandonedCart
	l.AbandonedCartValue = f.AbandonedCartValue
	l.Projects = f.Projects
	l.CurrentProject = f.CurrentProject

	if f.InvestmentCount > 0 {
		l.SaleClosed = true
		l.SaleAt = f.FirstInvestmentAt
		l.SaleValue = f.TotalInvested
	}
}
