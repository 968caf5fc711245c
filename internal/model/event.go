package model

import (
	"time"
)

// EventType names a lead lifecycle event. The same names are used in the
// lead event log and in webhook destination allow-lists.
type EventType string

const (
	EventLeadNovo              EventType = "LEAD_NOVO"
	EventMQL                   EventType = "MQL"
	EventLevantouMao           EventType = "LEVANTOU_MAO"
	EventReuniaoAgendada       EventType = "REUNIAO_AGENDADA"
	EventReuniaoRealizada      EventType = "REUNIAO_REALIZADA"
	EventVenda                 EventType = "VENDA"
	EventConversaIniciada      EventType = "CONVERSA_INICIADA"
	EventAtendimentoAtualizado EventType = "ATENDIMENTO_ATUALIZADO"
	EventInvestimento          EventType = "INVESTIMENTO"
	EventCarrinhoAbandonado    EventType = "CARRINHO_ABANDONADO"

	// Audit-only events; never sent to destinations.
	EventLeadAtualizado   EventType = "LEAD_ATUALIZADO"
	EventMergePrincipal   EventType = "MESCLA_PRINCIPAL"
	EventMerged           EventType = "LEAD_MESCLADO"
	EventDuplicateSuspect EventType = "DUPLICATE_SUSPECT"
)

// Dispatchable reports whether destinations may subscribe to the event.
func (e EventType) Dispatchable() bool {
	switch e {
	case EventLeadNovo, EventMQL, EventLevantouMao, EventReuniaoAgendada, EventReuniaoRealizada,
		EventVenda, EventConversaIniciada, EventAtendimentoAtualizado, EventInvestimento, EventCarrinhoAbandonado:
		return true
	default:
		return false
	}
}

// Event is an immutable entry in a lead's audit log.
type Event struct {
	ID        string         `json:"id" db:"id"`
	LeadID    string         `json:"lead_id" db:"lead_id"`
	TenantID  string         `json:"empresa_id" db:"tenant_id"`
	Type      EventType      `json:"event_type" db:"event_type"`
	Note      string         `json:"note,omitempty" db:"note"`
	Metadata  map[string]any `json:"metadata,omitempty" db:"metadata"` // JSONB
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}
