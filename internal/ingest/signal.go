package ingest

import (
	"strings"
	"time"

	"github.com/sells-group/lead-engine/internal/merge"
	"github.com/sells-group/lead-engine/internal/model"
	"github.com/sells-group/lead-engine/internal/normalize"
)

// Signal is one observation of a lead sent by an ingestion source. Every
// field is optional except TenantID; empty means "not reported".
type Signal struct {
	TenantID    string                          `json:"empresa_id"`
	Source      model.Source                    `json:"origem,omitempty"`
	Name        string                          `json:"nome,omitempty"`
	Email       string                          `json:"email,omitempty"`
	Phone       string                          `json:"telefone,omitempty"`
	ExternalIDs map[model.ExternalIDKind]string `json:"external_ids,omitempty"`
	LandingPage string                          `json:"landing_page,omitempty"`
	Text        string                          `json:"texto,omitempty"`

	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
	Stage       string `json:"stage,omitempty"`
	CRMURL      string `json:"crm_url,omitempty"`
	City        string `json:"cidade,omitempty"`
	State       string `json:"estado,omitempty"`

	IsMQL       bool    `json:"is_mql,omitempty"`
	RaisedHand  bool    `json:"levantou_mao,omitempty"`
	HasMeeting  bool    `json:"tem_reuniao,omitempty"`
	MeetingHeld bool    `json:"reuniao_realizada,omitempty"`
	SaleClosed  bool    `json:"venda_realizada,omitempty"`
	SaleValue   float64 `json:"valor_venda,omitempty"`

	EngagementScore int      `json:"mautic_score,omitempty"`
	PageHits        int      `json:"page_hits,omitempty"`
	Tags            []string `json:"tags,omitempty"`

	// Crowdfunding orders reported with the signal.
	Investments []model.Investment `json:"investimentos,omitempty"`

	// OccurredAt stamps flag transitions. Defaults to the ingestion time.
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

// normalized returns a copy of sig with canonical identity fields. Invalid
// phones and emails are cleared and named in dropped.
func (sig Signal) normalized() (out Signal, dropped []error) {
	out = sig
	out.TenantID = strings.TrimSpace(sig.TenantID)

	if sig.Phone != "" {
		phone, err := normalize.Phone(sig.Phone)
		if err != nil {
			dropped = append(dropped, err)
		}
		out.Phone = phone
	}
	email, err := normalize.Email(sig.Email)
	if err != nil {
		dropped = append(dropped, err)
	}
	out.Email = email

	out.Name = normalize.Name(sig.Name)
	out.LandingPage = normalize.URL(sig.LandingPage)
	out.Text = strings.Join(normalize.Words(sig.Text), " ")

	out.ExternalIDs = make(map[model.ExternalIDKind]string, len(sig.ExternalIDs))
	for kind, v := range sig.ExternalIDs {
		if v = strings.TrimSpace(v); v != "" && kind.Column() != "" {
			out.ExternalIDs[kind] = v
		}
	}
	return out, dropped
}

// patch applies sig to l. Non-empty values only fill empty fields; funnel
// flags only move from false to true; engagement keeps the highest value
// seen; tags are unioned. It returns whether l changed and the lifecycle
// events the change produced, in funnel order.
func patch(l *model.Lead, sig *Signal, at time.Time) (changed bool, events []model.EventType) {
	set := func(dst *string, v string) {
		if v != "" && *dst == "" {
			*dst = v
			changed = true
		}
	}

	set(&l.Name, sig.Name)
	set(&l.Email, sig.Email)
	set(&l.Phone, sig.Phone)
	if l.Source == "" && sig.Source != "" {
		l.Source = sig.Source
		changed = true
	}

	hadTicket := l.TicketID != ""
	for _, kind := range model.ExternalIDKinds() {
		if v := sig.ExternalIDs[kind]; v != "" && l.ExternalID(kind) == "" {
			l.SetExternalID(kind, v)
			changed = true
		}
	}

	set(&l.LandingPage, sig.LandingPage)
	set(&l.MatchText, sig.Text)
	set(&l.UTMSource, sig.UTMSource)
	set(&l.UTMMedium, sig.UTMMedium)
	set(&l.UTMCampaign, sig.UTMCampaign)
	set(&l.UTMContent, sig.UTMContent)
	set(&l.UTMTerm, sig.UTMTerm)
	set(&l.CRMURL, sig.CRMURL)
	set(&l.City, sig.City)
	set(&l.State, sig.State)

	// Stage is the CRM's current pipeline stage, not an identity field.
	if sig.Stage != "" && sig.Stage != l.Stage {
		l.Stage = sig.Stage
		changed = true
	}

	flag := func(cur *bool, curAt **time.Time, incoming bool, ev model.EventType) {
		if incoming && !*cur {
			*cur = true
			t := at
			*curAt = &t
			changed = true
			events = append(events, ev)
		}
	}
	flag(&l.IsMQL, &l.MQLAt, sig.IsMQL, model.EventMQL)
	flag(&l.RaisedHand, &l.RaisedHandAt, sig.RaisedHand, model.EventLevantouMao)
	flag(&l.HasMeeting, &l.MeetingAt, sig.HasMeeting, model.EventReuniaoAgendada)
	flag(&l.MeetingHeld, &l.MeetingHeldAt, sig.MeetingHeld, model.EventReuniaoRealizada)
	flag(&l.SaleClosed, &l.SaleAt, sig.SaleClosed, model.EventVenda)
	if sig.SaleValue > 0 && l.SaleValue == 0 && l.InvestmentCount == 0 {
		l.SaleValue = sig.SaleValue
		changed = true
	}

	if sig.EngagementScore > l.EngagementScore {
		l.EngagementScore = sig.EngagementScore
		changed = true
	}
	if sig.PageHits > l.PageHits {
		l.PageHits = sig.PageHits
		changed = true
	}
	if tags := merge.UnionFold(l.Tags, sig.Tags); len(tags) != len(l.Tags) {
		l.Tags = tags
		changed = true
	}

	if ticket := sig.ExternalIDs[model.ExternalTicket]; ticket != "" {
		if hadTicket {
			events = append(events, model.EventAtendimentoAtualizado)
		} else {
			events = append(events, model.EventConversaIniciada)
		}
	}
	return changed, events
}
