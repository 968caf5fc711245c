package store

import (
	"fmt"
	"strings"

	"github.com/sells-group/lead-engine/internal/model"
)

// profileColumns are written by CreateLead and UpdateLead.
var profileColumns = []string{
	"name", "email", "phone", "source",
	"ticket_id", "ad_id", "mautic_contact_id", "external_lead_id",
	"landing_page", "match_text",
	"utm_source", "utm_medium", "utm_campaign", "utm_content", "utm_term", "stage", "crm_url",
	"is_mql", "mql_at", "levantou_mao", "levantou_mao_at",
	"tem_reuniao", "reuniao_at", "reuniao_realizada", "reuniao_realizada_at",
	"venda_realizada", "venda_at", "valor_venda",
	"engagement_score", "page_hits", "tags", "city", "state",
}

// financeColumns are derived from investment rows and only written by
// CreateLead and UpdateFinancials.
var financeColumns = []string{
	"investor", "total_invested", "investment_count", "last_investment_at",
	"abandoned_cart", "abandoned_cart_value", "projects", "current_project",
}

// saleColumns are rewritten with the financials when investments exist.
var saleColumns = []string{"venda_realizada", "venda_at", "valor_venda"}

var leadColumns = "id, tenant_id, " + strings.Join(profileColumns, ", ") + ", " +
	strings.Join(financeColumns, ", ") +
	", merged, merged_into_id, merged_at, merged_by, created_at, updated_at"

// listEncoder converts a string slice into the driver's column value.
type listEncoder func([]string) any

func profileValues(l *model.Lead, list listEncoder) []any {
	return []any{
		l.Name, l.Email, l.Phone, string(l.Source),
		l.TicketID, l.AdID, l.MauticContactID, l.ExternalLeadID,
		l.LandingPage, l.MatchText,
		l.UTMSource, l.UTMMedium, l.UTMCampaign, l.UTMContent, l.UTMTerm, l.Stage, l.CRMURL,
		l.IsMQL, l.MQLAt, l.RaisedHand, l.RaisedHandAt,
		l.HasMeeting, l.MeetingAt, l.MeetingHeld, l.MeetingHeldAt,
		l.SaleClosed, l.SaleAt, l.SaleValue,
		l.EngagementScore, l.PageHits, list(l.Tags), l.City, l.State,
	}
}

func financeValues(l *model.Lead, list listEncoder) []any {
	return []any{
		l.Investor, l.TotalInvested, l.InvestmentCount, l.LastInvestmentAt,
		l.AbandonedCart, l.AbandonedCartValue, list(l.Projects), l.CurrentProject,
	}
}

func saleValues(l *model.Lead) []any {
	return []any{l.SaleClosed, l.SaleAt, l.SaleValue}
}

// leadDests returns scan destinations matching leadColumns. tags and
// projects receive the list columns so each driver can decode its encoding.
func leadDests(l *model.Lead, tags, projects any) []any {
	return []any{
		&l.ID, &l.TenantID,
		&l.Name, &l.Email, &l.Phone, &l.Source,
		&l.TicketID, &l.AdID, &l.MauticContactID, &l.ExternalLeadID,
		&l.LandingPage, &l.MatchText,
		&l.UTMSource, &l.UTMMedium, &l.UTMCampaign, &l.UTMContent, &l.UTMTerm, &l.Stage, &l.CRMURL,
		&l.IsMQL, &l.MQLAt, &l.RaisedHand, &l.RaisedHandAt,
		&l.HasMeeting, &l.MeetingAt, &l.MeetingHeld, &l.MeetingHeldAt,
		&l.SaleClosed, &l.SaleAt, &l.SaleValue,
		&l.EngagementScore, &l.PageHits, tags, &l.City, &l.State,
		&l.Investor, &l.TotalInvested, &l.InvestmentCount, &l.LastInvestmentAt,
		&l.AbandonedCart, &l.AbandonedCartValue, projects, &l.CurrentProject,
		&l.Merged, &l.MergedIntoID, &l.MergedAt, &l.MergedBy, &l.CreatedAt, &l.UpdatedAt,
	}
}

// placeholder renders the n-th (1-based) bind parameter.
type placeholder func(n int) string

func dollar(n int) string   { return fmt.Sprintf("$%d", n) }
func question(_ int) string { return "?" }

// placeholders renders count parameters starting at start.
func placeholders(ph placeholder, start, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = ph(start + i)
	}
	return strings.Join(parts, ", ")
}

// setList renders "col = $n" pairs starting at start.
func setList(ph placeholder, cols []string, start int) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c + " = " + ph(start+i)
	}
	return strings.Join(parts, ", ")
}

func insertLeadSQL(ph placeholder) string {
	cols := "id, tenant_id, " + strings.Join(profileColumns, ", ") + ", " +
		strings.Join(financeColumns, ", ") + ", created_at, updated_at"
	n := 2 + len(profileColumns) + len(financeColumns) + 2
	return "INSERT INTO leads (" + cols + ") VALUES (" + placeholders(ph, 1, n) + ")"
}

func insertLeadArgs(l *model.Lead, list listEncoder) []any {
	args := []any{l.ID, l.TenantID}
	args = append(args, profileValues(l, list)...)
	args = append(args, financeValues(l, list)...)
	return append(args, l.CreatedAt, l.UpdatedAt)
}

// forwardOnly maps the profile columns UpdateLead may only move forward to
// their SET expression; %[1]s is the column and %[2]s the placeholder.
// Flags are never unset and stamps keep their first value. A sale value
// already recorded or backed by investments belongs to UpdateFinancials.
var forwardOnly = map[string]string{
	"is_mql":               "%[1]s = (%[1]s OR %[2]s)",
	"levantou_mao":         "%[1]s = (%[1]s OR %[2]s)",
	"tem_reuniao":          "%[1]s = (%[1]s OR %[2]s)",
	"reuniao_realizada":    "%[1]s = (%[1]s OR %[2]s)",
	"venda_realizada":      "%[1]s = (%[1]s OR %[2]s)",
	"mql_at":               "%[1]s = COALESCE(%[1]s, %[2]s)",
	"levantou_mao_at":      "%[1]s = COALESCE(%[1]s, %[2]s)",
	"reuniao_at":           "%[1]s = COALESCE(%[1]s, %[2]s)",
	"reuniao_realizada_at": "%[1]s = COALESCE(%[1]s, %[2]s)",
	"venda_at":             "%[1]s = COALESCE(%[1]s, %[2]s)",
	"valor_venda":          "%[1]s = CASE WHEN investment_count > 0 OR %[1]s > 0 THEN %[1]s ELSE %[2]s END",
}

// profileSetList is setList over profileColumns with forwardOnly applied.
func profileSetList(ph placeholder, start int) string {
	parts := make([]string, len(profileColumns))
	for i, c := range profileColumns {
		if expr, ok := forwardOnly[c]; ok {
			parts[i] = fmt.Sprintf(expr, c, ph(start+i))
			continue
		}
		parts[i] = c + " = " + ph(start+i)
	}
	return strings.Join(parts, ", ")
}

// updateLeadSQL is conditional on the lead being live. It runs against a
// row that may have changed since it was read, so funnel and sale columns
// only move forward.
func updateLeadSQL(ph placeholder) string {
	n := len(profileColumns)
	return "UPDATE leads SET " + profileSetList(ph, 1) +
		", updated_at = " + ph(n+1) +
		" WHERE id = " + ph(n+2) + " AND tenant_id = " + ph(n+3) + " AND merged = false"
}

func updateLeadArgs(l *model.Lead, list listEncoder) []any {
	args := profileValues(l, list)
	return append(args, l.UpdatedAt, l.ID, l.TenantID)
}

// updateFinancialsSQL is conditional on the lead being live.
func updateFinancialsSQL(ph placeholder) string {
	cols := append(append([]string{}, financeColumns...), saleColumns...)
	n := len(cols)
	return "UPDATE leads SET " + setList(ph, cols, 1) +
		", updated_at = " + ph(n+1) +
		" WHERE id = " + ph(n+2) + " AND tenant_id = " + ph(n+3) + " AND merged = false"
}

func updateFinancialsArgs(l *model.Lead, list listEncoder) []any {
	args := financeValues(l, list)
	args = append(args, saleValues(l)...)
	return append(args, l.UpdatedAt, l.ID, l.TenantID)
}

// maxCandidateWords caps the OR list the text prefilter renders.
const maxCandidateWords = 32

// containsFunc renders a substring test of needle within hay.
type containsFunc func(hay, needle string) string

// candidateClauses renders the ListCandidates predicates with placeholders
// starting at n, an ORDER BY prefix and the arguments of both. Text
// candidates sharing more words sort first so the limit drops the weakest.
func candidateClauses(f CandidateFilter, ph placeholder, n int, contains containsFunc) (where, order string, args []any) {
	var sql strings.Builder
	if f.LandingPage != "" {
		sql.WriteString(" AND landing_page <> '' AND (" +
			contains(ph(n), "landing_page") + " OR " + contains("landing_page", ph(n+1)) + ")")
		args = append(args, f.LandingPage, f.LandingPage)
		n += 2
	}
	if len(f.Words) == 0 {
		return sql.String(), "", args
	}

	words := f.Words
	if len(words) > maxCandidateWords {
		words = words[:maxCandidateWords]
	}
	hit := func(i int) string { return contains("lower(match_text)", ph(n+i)) }
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = hit(i)
		args = append(args, w)
	}
	sql.WriteString(" AND match_text <> '' AND (" + strings.Join(parts, " OR ") + ")")

	n += len(words)
	for i, w := range words {
		parts[i] = "(CASE WHEN " + hit(i) + " THEN 1 ELSE 0 END)"
		args = append(args, w)
	}
	return sql.String(), strings.Join(parts, " + ") + " DESC, ", args
}

// groupPredicate returns the WHERE fragment selecting a duplicate group's
// attribute. Its single parameter is the key value.
func groupPredicate(key model.GroupKey, ph placeholder, n int) (string, error) {
	switch key.Kind {
	case model.GroupEmail:
		return "lower(email) = lower(" + ph(n) + ")", nil
	case model.GroupPhone:
		return "phone = " + ph(n), nil
	case model.GroupExternalID:
		col := key.IDKind.Column()
		if col == "" {
			return "", model.NewValidationError("id_kind", string(key.IDKind), "unknown external id kind")
		}
		return col + " = " + ph(n), nil
	default:
		return "", model.NewValidationError("group kind", string(key.Kind), "unsupported")
	}
}

// groupColumn returns the column duplicate reports aggregate on.
func groupColumn(kind model.GroupKind) (string, error) {
	switch kind {
	case model.GroupEmail:
		return "email", nil
	case model.GroupPhone:
		return "phone", nil
	default:
		return "", model.NewValidationError("group kind", string(kind), "unsupported for duplicate reports")
	}
}
