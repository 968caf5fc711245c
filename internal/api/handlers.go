package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/lead-engine/internal/importer"
	"github.com/sells-group/lead-engine/internal/ingest"
	"github.com/sells-group/lead-engine/internal/match"
	"github.com/sells-group/lead-engine/internal/merge"
	"github.com/sells-group/lead-engine/internal/model"
	"github.com/sells-group/lead-engine/internal/scoring"
	"github.com/sells-group/lead-engine/internal/store"
)

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) ingestSignal(w http.ResponseWriter, r *http.Request) {
	var sig ingest.Signal
	if !decodeJSON(w, r, &sig) {
		return
	}
	sig.TenantID = chi.URLParam(r, "tenant")

	out, err := h.Ingest.Ingest(r.Context(), sig)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	status := http.StatusOK
	if out.Created {
		status = http.StatusCreated
	}
	respondJSON(w, status, map[string]any{
		"lead_id":            out.Lead.ID,
		"created":            out.Created,
		"tier":               out.Tier,
		"score":              out.Score,
		"events":             out.Events,
		"merged":             out.Merged,
		"duplicate_suspects": out.Suspects,
		"dropped":            out.Dropped,
	})
}

func (h *Handlers) resolve(w http.ResponseWriter, r *http.Request) {
	var sig match.Signals
	if !decodeJSON(w, r, &sig) {
		return
	}
	m, err := h.Resolver.Resolve(r.Context(), chi.URLParam(r, "tenant"), sig)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if m == nil {
		respondJSON(w, http.StatusOK, map[string]any{"match": nil, "tier": match.Tier(0).String()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"match": m,
		"tier":  m.Tier.String(),
	})
}

func (h *Handlers) listLeads(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	leads, err := h.Store.ListLeads(r.Context(), store.LeadFilter{
		TenantID:    tenant,
		ExcludeSent: queryBool(r, "exclude_sent"),
		Limit:       queryInt(r, "limit", 100),
		Offset:      queryInt(r, "offset", 0),
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if leads == nil {
		leads = []model.Lead{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"leads": leads, "count": len(leads)})
}

func (h *Handlers) getLead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	l, err := h.Store.GetLead(r.Context(), chi.URLParam(r, "tenant"), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if l == nil {
		respondErr(w, r, model.NewNotFoundError("lead", id))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"lead":  l,
		"score": scoring.Score(l, time.Now().UTC(), h.Scoring),
	})
}

func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Store.ListEvents(r.Context(), chi.URLParam(r, "tenant"), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handlers) recordInvestment(w http.ResponseWriter, r *http.Request) {
	var inv model.Investment
	if !decodeJSON(w, r, &inv) {
		return
	}
	l, err := h.Ingest.RecordInvestment(r.Context(), chi.URLParam(r, "tenant"), chi.URLParam(r, "id"), inv)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"lead": l})
}

func (h *Handlers) duplicates(w http.ResponseWriter, r *http.Request) {
	kind := model.GroupKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = model.GroupEmail
	}
	groups, err := h.Store.DuplicateGroups(r.Context(), chi.URLParam(r, "tenant"), kind, queryInt(r, "limit", 100))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if groups == nil {
		groups = []model.DuplicateGroup{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

type mergeRequest struct {
	Email       string               `json:"email,omitempty"`
	Phone       string               `json:"phone,omitempty"`
	IDKind      model.ExternalIDKind `json:"id_kind,omitempty"`
	ExternalID  string               `json:"external_id,omitempty"`
	PrincipalID string               `json:"principal_id"`
}

func (req mergeRequest) key() model.GroupKey {
	switch {
	case req.Email != "":
		return model.GroupKey{Kind: model.GroupEmail, Value: strings.TrimSpace(req.Email)}
	case req.Phone != "":
		return model.GroupKey{Kind: model.GroupPhone, Value: strings.TrimSpace(req.Phone)}
	default:
		return model.GroupKey{Kind: model.GroupExternalID, IDKind: req.IDKind, Value: strings.TrimSpace(req.ExternalID)}
	}
}

func (h *Handlers) merge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor := merge.Actor{
		ID:   r.Header.Get(headerActorID),
		Role: strings.TrimSpace(r.Header.Get(headerActorRole)),
	}
	// The system role belongs to automatic merges run in-process.
	if strings.EqualFold(actor.Role, merge.ActorSystem) {
		respondErr(w, r, model.NewForbiddenError(actor.ID, actor.Role, "merge leads"))
		return
	}
	res, err := h.Merger.Merge(r.Context(), merge.Request{
		TenantID:    chi.URLParam(r, "tenant"),
		Key:         req.key(),
		PrincipalID: req.PrincipalID,
		Actor:       actor,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	status := http.StatusOK
	if len(res.Pending) > 0 {
		status = http.StatusAccepted
	}
	respondJSON(w, status, map[string]any{
		"principal_id":     res.Principal.ID,
		"superseded":       res.Superseded,
		"superseded_count": len(res.Superseded),
		"pending":          res.Pending,
		"total_investido":  res.Principal.TotalInvested,
	})
}

// importRowsFrom reads rows from a JSON {"rows": [...]} body or a raw CSV
// body.
func importRowsFrom(w http.ResponseWriter, r *http.Request) ([]importer.Row, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Rows []importer.Row `json:"rows"`
		}
		if !decodeJSON(w, r, &body) {
			return nil, false
		}
		for i := range body.Rows {
			if body.Rows[i].Line == 0 {
				body.Rows[i].Line = i + 2
			}
		}
		return body.Rows, true
	}

	rows, err := importer.ReadCSV(r.Context(), r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return rows, true
}

func (h *Handlers) importCheck(w http.ResponseWriter, r *http.Request) {
	rows, ok := importRowsFrom(w, r)
	if !ok {
		return
	}
	rep, err := h.Importer.CheckDuplicates(r.Context(), chi.URLParam(r, "tenant"), rows)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"novos":            rep.Novos,
		"existentes":       rep.Existentes,
		"invalidos":        rep.Invalidos,
		"total":            rep.Total,
		"total_novos":      len(rep.Novos),
		"total_existentes": len(rep.Existentes),
		"total_invalidos":  len(rep.Invalidos),
	})
}

func (h *Handlers) importRows(w http.ResponseWriter, r *http.Request) {
	mode, err := importer.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	rows, ok := importRowsFrom(w, r)
	if !ok {
		return
	}
	res, err := h.Importer.Import(r.Context(), chi.URLParam(r, "tenant"), rows, mode, queryBool(r, "dry_run"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handlers) createBatch(w http.ResponseWriter, r *http.Request) {
	var b model.Batch
	if !decodeJSON(w, r, &b) {
		return
	}
	b.TenantID = chi.URLParam(r, "tenant")
	b.ID = ""
	b.Sent = false
	b.SentAt = nil
	if b.Name == "" {
		respondErr(w, r, model.NewValidationError("nome", "", "batch name is required"))
		return
	}
	if err := h.Store.CreateBatch(r.Context(), &b); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, b)
}

func (h *Handlers) markBatchSent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Store.MarkBatchSent(r.Context(), chi.URLParam(r, "tenant"), id, time.Now().UTC()); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "sent": true})
}

func (h *Handlers) listDestinations(w http.ResponseWriter, r *http.Request) {
	dests, err := h.Store.ListDestinations(r.Context(), queryBool(r, "enabled"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if dests == nil {
		dests = []model.Destination{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"destinations": dests})
}

func (h *Handlers) upsertDestination(w http.ResponseWriter, r *http.Request) {
	var d model.Destination
	if !decodeJSON(w, r, &d) {
		return
	}
	if err := d.Validate(); err != nil {
		respondErr(w, r, err)
		return
	}
	if err := h.Store.UpsertDestination(r.Context(), &d); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (h *Handlers) listDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	logs, err := h.Store.ListDeliveries(r.Context(), store.DeliveryFilter{
		DestinationID: q.Get("destination_id"),
		LeadID:        q.Get("lead_id"),
		Outcome:       q.Get("outcome"),
		Limit:         queryInt(r, "limit", 100),
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if logs == nil {
		logs = []model.Delivery{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"deliveries": logs})
}

func (h *Handlers) replayDelivery(w http.ResponseWriter, r *http.Request) {
	res, err := h.Dispatcher.Replay(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
