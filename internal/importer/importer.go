package importer

import (
	"context"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-engine/internal/ingest"
	"github.com/sells-group/lead-engine/internal/model"
	"github.com/sells-group/lead-engine/internal/normalize"
)

// Mode selects which rows an import writes.
type Mode string

const (
	// ModeNovos creates leads for new contacts only.
	ModeNovos Mode = "novos"
	// ModeAtualizar also patches leads that already exist.
	ModeAtualizar Mode = "atualizar"
)

// ParseMode validates a mode name. Empty means ModeNovos.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeNovos:
		return ModeNovos, nil
	case ModeAtualizar:
		return ModeAtualizar, nil
	default:
		return "", model.NewValidationError("mode", s, "expected novos or atualizar")
	}
}

const lookupChunk = 500

// Store answers which contacts already exist in a tenant.
type Store interface {
	ExistingContacts(ctx context.Context, tenantID string, phones, emails []string) (map[string]string, error)
}

// Ingester writes one signal.
type Ingester interface {
	Ingest(ctx context.Context, sig ingest.Signal) (*ingest.Outcome, error)
}

// Existing is a row whose phone or email belongs to a live lead.
type Existing struct {
	Row    Row    `json:"row"`
	LeadID string `json:"lead_id"`
}

// Invalid is a row that cannot be imported.
type Invalid struct {
	Row    Row    `json:"row"`
	Reason string `json:"reason"`
}

// Report splits rows before an import.
type Report struct {
	Novos      []Row      `json:"novos"`
	Existentes []Existing `json:"existentes"`
	Invalidos  []Invalid  `json:"invalidos"`
	Total      int        `json:"total"`
}

// Result reports what an import wrote.
type Result struct {
	Report  *Report   `json:"report"`
	DryRun  bool      `json:"dry_run"`
	Created int       `json:"created"`
	Updated int       `json:"updated"`
	Failed  []Invalid `json:"failed,omitempty"`
}

// Importer checks and imports contact rows.
type Importer struct {
	store    Store
	ingester Ingester
	workers  int
}

// New creates an Importer.
func New(store Store, ingester Ingester) *Importer {
	return &Importer{store: store, ingester: ingester, workers: 4}
}

// normalized is a row with canonical contacts.
type normalized struct {
	row   Row
	phone string
	email string
}

// CheckDuplicates classifies rows as new, existing or invalid without
// writing anything. A row is invalid when neither its phone nor its email
// normalizes, or when an earlier row of the same file has the same contact.
func (im *Importer) CheckDuplicates(ctx context.Context, tenantID string, rows []Row) (*Report, error) {
	if tenantID == "" {
		return nil, model.NewValidationError("empresa_id", "", "tenant is required")
	}
	rep := &Report{Novos: []Row{}, Existentes: []Existing{}, Invalidos: []Invalid{}, Total: len(rows)}

	var valid []normalized
	firstLine := make(map[string]int)
	for _, r := range rows {
		n := normalized{row: r}
		if r.Phone != "" {
			n.phone, _ = normalize.Phone(r.Phone)
		}
		n.email, _ = normalize.Email(r.Email)
		if n.phone == "" && n.email == "" {
			rep.Invalidos = append(rep.Invalidos, Invalid{Row: r, Reason: "no valid phone or email"})
			continue
		}

		dupOf := 0
		for _, c := range []string{n.phone, n.email} {
			if c == "" {
				continue
			}
			if line, ok := firstLine[c]; ok && dupOf == 0 {
				dupOf = line
			}
		}
		if dupOf > 0 {
			rep.Invalidos = append(rep.Invalidos, Invalid{Row: r, Reason: fmt.Sprintf("duplicate of line %d", dupOf)})
			continue
		}
		for _, c := range []string{n.phone, n.email} {
			if c != "" {
				firstLine[c] = r.Line
			}
		}
		valid = append(valid, n)
	}

	found, err := im.lookup(ctx, tenantID, valid)
	if err != nil {
		return nil, err
	}
	for _, n := range valid {
		id := found[n.phone]
		if id == "" {
			id = found[n.email]
		}
		if id != "" {
			rep.Existentes = append(rep.Existentes, Existing{Row: n.row, LeadID: id})
		} else {
			rep.Novos = append(rep.Novos, n.row)
		}
	}
	return rep, nil
}

// lookup queries existing contacts in chunks, concurrently.
func (im *Importer) lookup(ctx context.Context, tenantID string, rows []normalized) (map[string]string, error) {
	found := make(map[string]string)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.workers)
	for start := 0; start < len(rows); start += lookupChunk {
		chunk := rows[start:min(start+lookupChunk, len(rows))]
		g.Go(func() error {
			var phones, emails []string
			for _, n := range chunk {
				if n.phone != "" {
					phones = append(phones, n.phone)
				}
				if n.email != "" {
					emails = append(emails, n.email)
				}
			}
			got, err := im.store.ExistingContacts(gctx, tenantID, phones, emails)
			if err != nil {
				return eris.Wrap(err, "importer: existing contacts")
			}
			mu.Lock()
			defer mu.Unlock()
			for k, v := range got {
				if _, ok := found[k]; !ok {
					found[k] = v
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return found, nil
}

// Import checks rows and, unless dryRun, ingests the new ones (and the
// existing ones in ModeAtualizar). A row that fails to ingest is reported
// and does not stop the others.
func (im *Importer) Import(ctx context.Context, tenantID string, rows []Row, mode Mode, dryRun bool) (*Result, error) {
	if mode != ModeNovos && mode != ModeAtualizar {
		return nil, model.NewValidationError("mode", string(mode), "expected novos or atualizar")
	}
	rep, err := im.CheckDuplicates(ctx, tenantID, rows)
	if err != nil {
		return nil, err
	}
	res := &Result{Report: rep, DryRun: dryRun}
	if dryRun {
		return res, nil
	}

	todo := append([]Row{}, rep.Novos...)
	if mode == ModeAtualizar {
		for _, e := range rep.Existentes {
			todo = append(todo, e.Row)
		}
	}

	outcomes := make([]*ingest.Outcome, len(todo))
	errs := make([]error, len(todo))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.workers)
	for i, r := range todo {
		g.Go(func() error {
			outcomes[i], errs[i] = im.ingester.Ingest(gctx, ingest.Signal{
				TenantID: tenantID,
				Source:   model.SourceCSV,
				Name:     r.Name,
				Email:    r.Email,
				Phone:    r.Phone,
				City:     r.City,
				State:    r.State,
				Tags:     r.Tags,
			})
			return nil
		})
	}
	_ = g.Wait()

	for i, r := range todo {
		switch {
		case errs[i] != nil:
			res.Failed = append(res.Failed, Invalid{Row: r, Reason: errs[i].Error()})
		case outcomes[i].Created:
			res.Created++
		default:
			res.Updated++
		}
	}

	zap.L().Info("importer: import complete",
		zap.String("tenant_id", tenantID),
		zap.String("mode", string(mode)),
		zap.Int("rows", len(rows)),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("failed", len(res.Failed)),
		zap.Int("invalid", len(rep.Invalidos)),
	)
	return res, nil
}
