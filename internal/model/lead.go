// Package model defines the lead record and the entities that hang off it.
package model

import (
	"time"
)

// Source identifies the system a lead signal came from.
type Source string

const (
	SourcePipedrive Source = "pipedrive"
	SourceMautic    Source = "mautic"
	SourceChatblue  Source = "chatblue"
	SourceTokeniza  Source = "tokeniza"
	SourceCSV       Source = "csv"
	SourceAds       Source = "ads"
)

// Lead is the canonical record for one real-world prospect within a tenant.
// Each source contributes optional columns to the same wide record. Empty
// strings mean "not known".
type Lead struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"empresa_id" db:"tenant_id"`
	Name     string `json:"nome,omitempty" db:"name"`
	Email    string `json:"email,omitempty" db:"email"`
	Phone    string `json:"telefone,omitempty" db:"phone"`
	Source   Source `json:"origem,omitempty" db:"source"`

	// Per-source external identifiers.
	TicketID        string `json:"ticket_id,omitempty" db:"ticket_id"`
	AdID            string `json:"ad_id,omitempty" db:"ad_id"`
	MauticContactID string `json:"mautic_contact_id,omitempty" db:"mautic_contact_id"`
	ExternalLeadID  string `json:"external_lead_id,omitempty" db:"external_lead_id"`

	// Matching context: landing page and the ad/ticket text the lead came from.
	LandingPage string `json:"landing_page,omitempty" db:"landing_page"`
	MatchText   string `json:"match_text,omitempty" db:"match_text"`

	// CRM attribution. Preserved from the principal on merge.
	UTMSource   string `json:"utm_source,omitempty" db:"utm_source"`
	UTMMedium   string `json:"utm_medium,omitempty" db:"utm_medium"`
	UTMCampaign string `json:"utm_campaign,omitempty" db:"utm_campaign"`
	UTMContent  string `json:"utm_content,omitempty" db:"utm_content"`
	UTMTerm     string `json:"utm_term,omitempty" db:"utm_term"`
	Stage       string `json:"stage,omitempty" db:"stage"`
	CRMURL      string `json:"crm_url,omitempty" db:"crm_url"`

	// Funnel flags.
	IsMQL         bool       `json:"is_mql" db:"is_mql"`
	MQLAt         *time.Time `json:"data_mql,omitempty" db:"mql_at"`
	RaisedHand    bool       `json:"levantou_mao" db:"levantou_mao"`
	RaisedHandAt  *time.Time `json:"data_levantou_mao,omitempty" db:"levantou_mao_at"`
	HasMeeting    bool       `json:"tem_reuniao" db:"tem_reuniao"`
	MeetingAt     *time.Time `json:"data_reuniao,omitempty" db:"reuniao_at"`
	MeetingHeld   bool       `json:"reuniao_realizada" db:"reuniao_realizada"`
	MeetingHeldAt *time.Time `json:"data_reuniao_realizada,omitempty" db:"reuniao_realizada_at"`
	SaleClosed    bool       `json:"venda_realizada" db:"venda_realizada"`
	SaleAt        *time.Time `json:"data_venda,omitempty" db:"venda_at"`
	SaleValue     float64    `json:"valor_venda,omitempty" db:"valor_venda"`

	// Crowdfunding financials. Always recomputed from investment rows.
	Investor           bool       `json:"investidor" db:"investor"`
	TotalInvested      float64    `json:"total_investido" db:"total_invested"`
	InvestmentCount    int        `json:"qtd_investimentos" db:"investment_count"`
	LastInvestmentAt   *time.Time `json:"data_ultimo_investimento,omitempty" db:"last_investment_at"`
	AbandonedCart      bool       `json:"carrinho_abandonado" db:"abandoned_cart"`
	AbandonedCartValue float64    `json:"valor_carrinho_abandonado,omitempty" db:"abandoned_cart_value"`
	Projects           []string   `json:"projetos,omitempty" db:"projects"`
	CurrentProject     string     `json:"projeto_atual,omitempty" db:"current_project"`

	// Marketing-automation engagement.
	EngagementScore int      `json:"mautic_score" db:"engagement_score"`
	PageHits        int      `json:"page_hits" db:"page_hits"`
	Tags            []string `json:"tags,omitempty" db:"tags"`
	City            string   `json:"cidade,omitempty" db:"city"`
	State           string   `json:"estado,omitempty" db:"state"`

	// Supersede markers. MergedIntoID always points at a live lead.
	Merged       bool       `json:"merged" db:"merged"`
	MergedIntoID *string    `json:"merged_into_id,omitempty" db:"merged_into_id"`
	MergedAt     *time.Time `json:"merged_at,omitempty" db:"merged_at"`
	MergedBy     string     `json:"merged_by,omitempty" db:"merged_by"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ExternalIDKind names one of the per-source identifier columns.
type ExternalIDKind string

const (
	ExternalTicket ExternalIDKind = "ticket_id"
	ExternalAd     ExternalIDKind = "ad_id"
	ExternalMautic ExternalIDKind = "mautic_contact_id"
	ExternalLead   ExternalIDKind = "external_lead_id"
)

// ExternalIDKinds lists the identifier columns in matching order.
func ExternalIDKinds() []ExternalIDKind {
	return []ExternalIDKind{ExternalTicket, ExternalAd, ExternalMautic, ExternalLead}
}

// Column returns the leads table column for the kind, or "" if unknown.
func (k ExternalIDKind) Column() string {
	switch k {
	case ExternalTicket, ExternalAd, ExternalMautic, ExternalLead:
		return string(k)
	default:
		return ""
	}
}

// ExternalID returns the lead's identifier for kind.
func (l *Lead) ExternalID(kind ExternalIDKind) string {
	switch kind {
	case ExternalTicket:
		return l.TicketID
	case ExternalAd:
		return l.AdID
	case ExternalMautic:
		return l.MauticContactID
	case ExternalLead:
		return l.ExternalLeadID
	default:
		return ""
	}
}

// SetExternalID sets the lead's identifier for kind.
func (l *Lead) SetExternalID(kind ExternalIDKind, v string) {
	switch kind {
	case ExternalTicket:
		l.TicketID = v
	case ExternalAd:
		l.AdID = v
	case ExternalMautic:
		l.MauticContactID = v
	case ExternalLead:
		l.ExternalLeadID = v
	}
}

// LastStageAt returns the most recent funnel transition time, falling back
// to CreatedAt when the lead never moved.
func (l *Lead) LastStageAt() time.Time {
	latest := l.CreatedAt
	for _, t := range []*time.Time{l.MQLAt, l.RaisedHandAt, l.MeetingAt, l.MeetingHeldAt, l.SaleAt, l.LastInvestmentAt} {
		if t != nil && t.After(latest) {
			latest = *t
		}
	}
	return latest
}

// Snapshot is the public view of a lead embedded in outbound webhooks.
type Snapshot struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"empresa_id"`
	Name          string     `json:"nome,omitempty"`
	Email         string     `json:"email,omitempty"`
	Phone         string     `json:"telefone,omitempty"`
	Source        Source     `json:"origem,omitempty"`
	Stage         string     `json:"stage,omitempty"`
	IsMQL         bool       `json:"is_mql"`
	RaisedHand    bool       `json:"levantou_mao"`
	HasMeeting    bool       `json:"tem_reuniao"`
	MeetingHeld   bool       `json:"reuniao_realizada"`
	SaleClosed    bool       `json:"venda_realizada"`
	Investor      bool       `json:"investidor"`
	TotalInvested float64    `json:"total_investido"`
	AbandonedCart bool       `json:"carrinho_abandonado"`
	UTMSource     string     `json:"utm_source,omitempty"`
	UTMCampaign   string     `json:"utm_campaign,omitempty"`
	TicketID      string     `json:"ticket_id,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	City          string     `json:"cidade,omitempty"`
	State         string     `json:"estado,omitempty"`
	LastStageAt   *time.Time `json:"data_ultimo_estagio,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Snapshot returns the public fields of the lead.
func (l *Lead) Snapshot() Snapshot {
	last := l.LastStageAt()
	return Snapshot{
		ID:            l.ID,
		TenantID:      l.TenantID,
		Name:          l.Name,
		Email:         l.Email,
		Phone:         l.Phone,
		Source:        l.Source,
		Stage:         l.Stage,
		IsMQL:         l.IsMQL,
		RaisedHand:    l.RaisedHand,
		HasMeeting:    l.HasMeeting,
		MeetingHeld:   l.MeetingHeld,
		SaleClosed:    l.SaleClosed,
		Investor:      l.Investor,
		TotalInvested: l.TotalInvested,
		AbandonedCart: l.AbandonedCart,
		UTMSource:     l.UTMSource,
		UTMCampaign:   l.UTMCampaign,
		TicketID:      l.TicketID,
		Tags:          l.Tags,
		City:          l.City,
		State:         l.State,
		LastStageAt:   &last,
		CreatedAt:     l.CreatedAt,
	}
}

// GroupKind names the attribute a duplicate group shares.
type GroupKind string

const (
	GroupEmail      GroupKind = "email"
	GroupPhone      GroupKind = "phone"
	GroupExternalID GroupKind = "external_id"
)

// GroupKey identifies one duplicate group within a tenant. For external-id
// groups, IDKind names the column.
type GroupKey struct {
	Kind   GroupKind      `json:"kind"`
	IDKind ExternalIDKind `json:"id_kind,omitempty"`
	Value  string         `json:"value"`
}

// String renders the key for locks and logs.
func (k GroupKey) String() string {
	if k.Kind == GroupExternalID {
		return string(k.Kind) + ":" + string(k.IDKind) + ":" + k.Value
	}
	return string(k.Kind) + ":" + k.Value
}

// DuplicateGroup is a set of live leads sharing one key.
type DuplicateGroup struct {
	Key     GroupKey `json:"key"`
	LeadIDs []string `json:"lead_ids"`
	Count   int      `json:"count"`
}
