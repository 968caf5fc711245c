package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lead-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// runs and the shared store test suite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                   TEXT PRIMARY KEY,
	tenant_id            TEXT NOT NULL,
	name                 TEXT NOT NULL DEFAULT '',
	email                TEXT NOT NULL DEFAULT '',
	phone                TEXT NOT NULL DEFAULT '',
	source               TEXT NOT NULL DEFAULT '',
	ticket_id            TEXT NOT NULL DEFAULT '',
	ad_id                TEXT NOT NULL DEFAULT '',
	mautic_contact_id    TEXT NOT NULL DEFAULT '',
	external_lead_id     TEXT NOT NULL DEFAULT '',
	landing_page         TEXT NOT NULL DEFAULT '',
	match_text           TEXT NOT NULL DEFAULT '',
	utm_source           TEXT NOT NULL DEFAULT '',
	utm_medium           TEXT NOT NULL DEFAULT '',
	utm_campaign         TEXT NOT NULL DEFAULT '',
	utm_content          TEXT NOT NULL DEFAULT '',
	utm_term             TEXT NOT NULL DEFAULT '',
	stage                TEXT NOT NULL DEFAULT '',
	crm_url              TEXT NOT NULL DEFAULT '',
	is_mql               INTEGER NOT NULL DEFAULT 0,
	mql_at               DATETIME,
	levantou_mao         INTEGER NOT NULL DEFAULT 0,
	levantou_mao_at      DATETIME,
	tem_reuniao          INTEGER NOT NULL DEFAULT 0,
	reuniao_at           DATETIME,
	reuniao_realizada    INTEGER NOT NULL DEFAULT 0,
	reuniao_realizada_at DATETIME,
	venda_realizada      INTEGER NOT NULL DEFAULT 0,
	venda_at             DATETIME,
	valor_venda          REAL NOT NULL DEFAULT 0,
	engagement_score     INTEGER NOT NULL DEFAULT 0,
	page_hits            INTEGER NOT NULL DEFAULT 0,
	tags                 TEXT NOT NULL DEFAULT '[]',
	city                 TEXT NOT NULL DEFAULT '',
	state                TEXT NOT NULL DEFAULT '',
	investor             INTEGER NOT NULL DEFAULT 0,
	total_invested       REAL NOT NULL DEFAULT 0,
	investment_count     INTEGER NOT NULL DEFAULT 0,
	last_investment_at   DATETIME,
	abandoned_cart       INTEGER NOT NULL DEFAULT 0,
	abandoned_cart_value REAL NOT NULL DEFAULT 0,
	projects             TEXT NOT NULL DEFAULT '[]',
	current_project      TEXT NOT NULL DEFAULT '',
	merged               INTEGER NOT NULL DEFAULT 0,
	merged_into_id       TEXT REFERENCES leads(id),
	merged_at            DATETIME,
	merged_by            TEXT NOT NULL DEFAULT '',
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	CHECK (merged = 0 OR merged_into_id IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_leads_tenant_phone ON leads(tenant_id, phone);
CREATE INDEX IF NOT EXISTS idx_leads_tenant_email ON leads(tenant_id, lower(email));
CREATE INDEX IF NOT EXISTS idx_leads_tenant_ticket ON leads(tenant_id, ticket_id);
CREATE INDEX IF NOT EXISTS idx_leads_tenant_ad ON leads(tenant_id, ad_id);
CREATE INDEX IF NOT EXISTS idx_leads_tenant_mautic ON leads(tenant_id, mautic_contact_id);
CREATE INDEX IF NOT EXISTS idx_leads_tenant_external ON leads(tenant_id, external_lead_id);
CREATE INDEX IF NOT EXISTS idx_leads_merged_into ON leads(merged_into_id);

CREATE TABLE IF NOT EXISTS lead_events (
	id         TEXT PRIMARY KEY,
	lead_id    TEXT NOT NULL REFERENCES leads(id),
	tenant_id  TEXT NOT NULL,
	event_type TEXT NOT NULL,
	note       TEXT NOT NULL DEFAULT '',
	metadata   TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_lead_events_lead ON lead_events(lead_id, created_at);

CREATE TABLE IF NOT EXISTS investments (
	id          TEXT PRIMARY KEY,
	lead_id     TEXT NOT NULL REFERENCES leads(id),
	tenant_id   TEXT NOT NULL,
	external_id TEXT NOT NULL DEFAULT '',
	project     TEXT NOT NULL DEFAULT '',
	amount      REAL NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	invested_at DATETIME NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_investments_external ON investments(tenant_id, external_id) WHERE external_id <> '';
CREATE INDEX IF NOT EXISTS idx_investments_lead ON investments(lead_id);

CREATE TABLE IF NOT EXISTS webhook_destinations (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT,
	name       TEXT NOT NULL UNIQUE,
	url        TEXT NOT NULL,
	enabled    INTEGER NOT NULL DEFAULT 1,
	headers    TEXT,
	events     TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id             TEXT PRIMARY KEY,
	destination_id TEXT NOT NULL REFERENCES webhook_destinations(id),
	tenant_id      TEXT NOT NULL DEFAULT '',
	lead_id        TEXT NOT NULL DEFAULT '',
	event          TEXT NOT NULL,
	payload        TEXT NOT NULL,
	status_code    INTEGER NOT NULL DEFAULT 0,
	response_body  TEXT NOT NULL DEFAULT '',
	outcome        TEXT NOT NULL,
	error_kind     TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL DEFAULT '',
	duration_ms    INTEGER NOT NULL DEFAULT 0,
	replay_of      TEXT,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_deliveries_destination ON webhook_deliveries(destination_id, created_at);
CREATE INDEX IF NOT EXISTS idx_deliveries_lead ON webhook_deliveries(lead_id);

CREATE TABLE IF NOT EXISTS dispatch_batches (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	name       TEXT NOT NULL,
	preset     TEXT NOT NULL DEFAULT '',
	lead_ids   TEXT NOT NULL DEFAULT '[]',
	sent       INTEGER NOT NULL DEFAULT 0,
	sent_at    DATETIME,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_batches_tenant ON dispatch_batches(tenant_id);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteList stores string slices as JSON arrays.
func sqliteList(v []string) any {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeList(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func scanSQLiteLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var tags, projects string
	if err := row.Scan(leadDests(&l, &tags, &projects)...); err != nil {
		return nil, err
	}
	var err error
	if l.Tags, err = decodeList(tags); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode tags")
	}
	if l.Projects, err = decodeList(projects); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode projects")
	}
	return &l, nil
}

func (s *SQLiteStore) queryLeads(ctx context.Context, op, query string, args ...any) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanSQLiteLead(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan lead (%s)", op)
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrapf(rows.Err(), "sqlite: %s iterate", op)
}

func (s *SQLiteStore) CreateLead(ctx context.Context, l *model.Lead) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, insertLeadSQL(question), insertLeadArgs(l, sqliteList)...)
	return eris.Wrapf(err, "sqlite: insert lead %s", l.ID)
}

func (s *SQLiteStore) UpdateLead(ctx context.Context, l *model.Lead) error {
	l.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, updateLeadSQL(question), updateLeadArgs(l, sqliteList)...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead %s", l.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return model.NewConflictError(l.ID, "lead is merged or missing")
	}
	return nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, tenantID, id string) (*model.Lead, error) {
	l, err := scanSQLiteLead(s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = ? AND tenant_id = ?`,
		id, tenantID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	return l, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + leadColumns + ` FROM leads WHERE tenant_id = ? AND merged = 0`
	args := []any{filter.TenantID}
	if filter.ExcludeSent {
		query += ` AND id NOT IN (
			SELECT j.value FROM dispatch_batches b, json_each(b.lead_ids) j
			 WHERE b.tenant_id = ? AND b.sent = 1)`
		args = append(args, filter.TenantID)
	}
	query += ` ORDER BY created_at DESC, rowid LIMIT ? OFFSET ?`
	return s.queryLeads(ctx, "list leads", query, append(args, limit, filter.Offset)...)
}

func (s *SQLiteStore) FindByExternalID(ctx context.Context, tenantID string, kind model.ExternalIDKind, value string) ([]model.Lead, error) {
	col := kind.Column()
	if col == "" {
		return nil, model.NewValidationError("id_kind", string(kind), "unknown external id kind")
	}
	return s.queryLeads(ctx, "find by "+col,
		`SELECT `+leadColumns+` FROM leads
		 WHERE tenant_id = ? AND `+col+` = ? AND merged = 0
		 ORDER BY created_at, rowid`,
		tenantID, value,
	)
}

func (s *SQLiteStore) FindByPhone(ctx context.Context, tenantID, phone string) ([]model.Lead, error) {
	return s.queryLeads(ctx, "find by phone",
		`SELECT `+leadColumns+` FROM leads
		 WHERE tenant_id = ? AND phone = ? AND merged = 0
		 ORDER BY created_at, rowid`,
		tenantID, phone,
	)
}

func (s *SQLiteStore) FindByEmail(ctx context.Context, tenantID, email string) ([]model.Lead, error) {
	return s.queryLeads(ctx, "find by email",
		`SELECT `+leadColumns+` FROM leads
		 WHERE tenant_id = ? AND lower(email) = lower(?) AND merged = 0
		 ORDER BY created_at, rowid`,
		tenantID, email,
	)
}

func (s *SQLiteStore) ListCandidates(ctx context.Context, tenantID string, filter CandidateFilter) ([]model.Lead, error) {
	where, order, args := candidateClauses(filter, question, 2, func(hay, needle string) string {
		return "instr(" + hay + ", " + needle + ") > 0"
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT ` + leadColumns + ` FROM leads WHERE tenant_id = ? AND merged = 0` + where +
		` ORDER BY ` + order + `created_at, rowid LIMIT ?`
	args = append(append([]any{tenantID}, args...), limit)
	return s.queryLeads(ctx, "list candidates", query, args...)
}

// inList renders "?, ?, ?" for n values; SQLite accepts an empty IN list.
func inList(n int) string {
	return placeholders(question, 1, n)
}

func stringArgs(vals []string) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}

func (s *SQLiteStore) ExistingContacts(ctx context.Context, tenantID string, phones, emails []string) (map[string]string, error) {
	found := make(map[string]string)
	if len(phones) == 0 && len(emails) == 0 {
		return found, nil
	}

	args := []any{tenantID}
	args = append(args, stringArgs(phones)...)
	args = append(args, stringArgs(lowerAll(emails))...)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, phone, lower(email) FROM leads
		 WHERE tenant_id = ? AND merged = 0
		   AND ((phone <> '' AND phone IN (`+inList(len(phones))+`))
		     OR (email <> '' AND lower(email) IN (`+inList(len(emails))+`)))
		 ORDER BY created_at, rowid`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: existing contacts")
	}
	defer rows.Close()

	for rows.Next() {
		var id, phone, email string
		if err := rows.Scan(&id, &phone, &email); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan existing contact")
		}
		addContact(found, id, phone, email)
	}
	return found, eris.Wrap(rows.Err(), "sqlite: existing contacts iterate")
}

func (s *SQLiteStore) ListGroup(ctx context.Context, tenantID string, key model.GroupKey) ([]model.Lead, error) {
	pred, err := groupPredicate(key, question, 2)
	if err != nil {
		return nil, err
	}
	return s.queryLeads(ctx, "list group",
		`SELECT `+leadColumns+` FROM leads
		 WHERE tenant_id = ? AND `+pred+` AND merged = 0
		 ORDER BY created_at, rowid`,
		tenantID, key.Value,
	)
}

func (s *SQLiteStore) DuplicateGroups(ctx context.Context, tenantID string, kind model.GroupKind, limit int) ([]model.DuplicateGroup, error) {
	col, err := groupColumn(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+col+`, group_concat(id, ','), count(*) FROM (
		   SELECT `+col+`, id FROM leads
		   WHERE tenant_id = ? AND merged = 0 AND `+col+` <> ''
		   ORDER BY created_at, rowid
		 )
		 GROUP BY `+col+` HAVING count(*) > 1
		 ORDER BY count(*) DESC, `+col+` LIMIT ?`,
		tenantID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: duplicate groups")
	}
	defer rows.Close()

	var groups []model.DuplicateGroup
	for rows.Next() {
		g := model.DuplicateGroup{Key: model.GroupKey{Kind: kind}}
		var ids string
		if err := rows.Scan(&g.Key.Value, &ids, &g.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan duplicate group")
		}
		g.LeadIDs = strings.Split(ids, ",")
		groups = append(groups, g)
	}
	return groups, eris.Wrap(rows.Err(), "sqlite: duplicate groups iterate")
}

func (s *SQLiteStore) UpdateFinancials(ctx context.Context, l *model.Lead) (bool, error) {
	l.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, updateFinancialsSQL(question), updateFinancialsArgs(l, sqliteList)...)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: update financials %s", l.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) SupersedeLead(ctx context.Context, tenantID, id, principalID, actor string, at time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE leads SET merged = 1, merged_into_id = ?, merged_at = ?, merged_by = ?, updated_at = ?
		 WHERE id = ? AND tenant_id = ? AND merged = 0 AND id <> ?
		   AND EXISTS (SELECT 1 FROM leads p WHERE p.id = ? AND p.tenant_id = ? AND p.merged = 0)`,
		principalID, at, actor, at, id, tenantID, principalID, principalID, tenantID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: supersede lead %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE leads SET merged_into_id = ?, updated_at = ? WHERE tenant_id = ? AND merged_into_id = ?`,
		principalID, at, tenantID, id,
	); err != nil {
		return false, eris.Wrapf(err, "sqlite: re-point leads merged into %s", id)
	}
	return true, eris.Wrap(tx.Commit(), "sqlite: commit supersede")
}

func (s *SQLiteStore) UpsertInvestment(ctx context.Context, inv *model.Investment) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	if inv.ExternalID == "" {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO investments (id, lead_id, tenant_id, external_id, project, amount, status, invested_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inv.ID, inv.LeadID, inv.TenantID, inv.ExternalID, inv.Project, inv.Amount, string(inv.Status), inv.InvestedAt, inv.CreatedAt,
		)
		return eris.Wrap(err, "sqlite: insert investment")
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO investments (id, lead_id, tenant_id, external_id, project, amount, status, invested_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, external_id) WHERE external_id <> ''
		 DO UPDATE SET project = excluded.project, amount = excluded.amount,
		               status = excluded.status, invested_at = excluded.invested_at
		 RETURNING id, lead_id`,
		inv.ID, inv.LeadID, inv.TenantID, inv.ExternalID, inv.Project, inv.Amount, string(inv.Status), inv.InvestedAt, inv.CreatedAt,
	).Scan(&inv.ID, &inv.LeadID)
	return eris.Wrapf(err, "sqlite: upsert investment %s", inv.ExternalID)
}

func (s *SQLiteStore) ListInvestments(ctx context.Context, tenantID string, leadIDs []string) ([]model.Investment, error) {
	if len(leadIDs) == 0 {
		return nil, nil
	}

	ids := stringArgs(leadIDs)
	args := append([]any{tenantID}, ids...)
	args = append(args, tenantID)
	args = append(args, ids...)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, tenant_id, external_id, project, amount, status, invested_at, created_at
		 FROM investments
		 WHERE tenant_id = ? AND (lead_id IN (`+inList(len(ids))+`)
		    OR lead_id IN (SELECT id FROM leads WHERE tenant_id = ? AND merged_into_id IN (`+inList(len(ids))+`)))
		 ORDER BY invested_at, rowid`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list investments")
	}
	defer rows.Close()

	var out []model.Investment
	for rows.Next() {
		var inv model.Investment
		if err := rows.Scan(&inv.ID, &inv.LeadID, &inv.TenantID, &inv.ExternalID, &inv.Project,
			&inv.Amount, &inv.Status, &inv.InvestedAt, &inv.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan investment")
		}
		out = append(out, inv)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list investments iterate")
}

func (s *SQLiteStore) AppendEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for i := range events {
		e := &events[i]
		stampEvent(e)
		meta, err := marshalMetadata(e.Metadata)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal event metadata %s", e.Type)
		}
		var metaArg any
		if meta != nil {
			metaArg = string(meta)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO lead_events (id, lead_id, tenant_id, event_type, note, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.LeadID, e.TenantID, string(e.Type), e.Note, metaArg, e.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert event %s", e.Type)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit events")
}

func (s *SQLiteStore) ListEvents(ctx context.Context, tenantID, leadID string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, tenant_id, event_type, note, metadata, created_at FROM lead_events
		 WHERE tenant_id = ? AND lead_id = ?
		 ORDER BY created_at, rowid`,
		tenantID, leadID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var meta sql.NullString
		if err := rows.Scan(&e.ID, &e.LeadID, &e.TenantID, &e.Type, &e.Note, &meta, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal event metadata")
			}
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

func scanSQLiteDestination(row scannable) (*model.Destination, error) {
	var d model.Destination
	var tenant, headers sql.NullString
	var events string
	if err := row.Scan(&d.ID, &tenant, &d.Name, &d.URL, &d.Enabled, &headers, &events, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if tenant.Valid {
		d.TenantID = &tenant.String
	}
	if headers.Valid && headers.String != "" && headers.String != "null" {
		if err := json.Unmarshal([]byte(headers.String), &d.Headers); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal destination headers")
		}
	}
	var err error
	if d.Events, err = decodeList(events); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode destination events")
	}
	return &d, nil
}

func (s *SQLiteStore) UpsertDestination(ctx context.Context, d *model.Destination) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	headers, err := json.Marshal(d.Headers)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal destination headers")
	}
	now := time.Now().UTC()

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO webhook_destinations (id, tenant_id, name, url, enabled, headers, events, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET tenant_id = excluded.tenant_id, url = excluded.url,
		     enabled = excluded.enabled, headers = excluded.headers, events = excluded.events,
		     updated_at = excluded.updated_at
		 RETURNING id`,
		d.ID, d.TenantID, d.Name, d.URL, d.Enabled, string(headers), sqliteList(d.Events), now, now,
	).Scan(&d.ID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert destination %s", d.Name)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) GetDestination(ctx context.Context, id string) (*model.Destination, error) {
	d, err := scanSQLiteDestination(s.db.QueryRowContext(ctx,
		`SELECT `+destinationColumns+` FROM webhook_destinations WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get destination %s", id)
	}
	return d, nil
}

func (s *SQLiteStore) ListDestinations(ctx context.Context, enabledOnly bool) ([]model.Destination, error) {
	query := `SELECT ` + destinationColumns + ` FROM webhook_destinations`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list destinations")
	}
	defer rows.Close()

	var out []model.Destination
	for rows.Next() {
		d, err := scanSQLiteDestination(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan destination")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list destinations iterate")
}

func scanSQLiteDelivery(row scannable) (*model.Delivery, error) {
	var d model.Delivery
	var payload string
	var replayOf sql.NullString
	if err := row.Scan(&d.ID, &d.DestinationID, &d.TenantID, &d.LeadID, &d.Event, &payload, &d.StatusCode,
		&d.ResponseBody, &d.Outcome, &d.ErrorKind, &d.Error, &d.DurationMs, &replayOf, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Payload = json.RawMessage(payload)
	if replayOf.Valid {
		d.ReplayOf = &replayOf.String
	}
	return &d, nil
}

func (s *SQLiteStore) InsertDelivery(ctx context.Context, d *model.Delivery) error {
	stampDelivery(d)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (`+deliveryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.DestinationID, d.TenantID, d.LeadID, string(d.Event), string(d.Payload), d.StatusCode,
		d.ResponseBody, d.Outcome, d.ErrorKind, d.Error, d.DurationMs, d.ReplayOf, d.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert delivery for destination %s", d.DestinationID)
}

func (s *SQLiteStore) GetDelivery(ctx context.Context, id string) (*model.Delivery, error) {
	d, err := scanSQLiteDelivery(s.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get delivery %s", id)
	}
	return d, nil
}

func (s *SQLiteStore) ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]model.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE 1 = 1`
	var args []any

	if filter.DestinationID != "" {
		query += ` AND destination_id = ?`
		args = append(args, filter.DestinationID)
	}
	if filter.LeadID != "" {
		query += ` AND lead_id = ?`
		args = append(args, filter.LeadID)
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, filter.Outcome)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list deliveries")
	}
	defer rows.Close()

	var out []model.Delivery
	for rows.Next() {
		d, err := scanSQLiteDelivery(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan delivery")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list deliveries iterate")
}

func (s *SQLiteStore) CreateBatch(ctx context.Context, b *model.Batch) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch_batches (id, tenant_id, name, preset, lead_ids, sent, sent_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.TenantID, b.Name, b.Preset, sqliteList(b.LeadIDs), b.Sent, b.SentAt, b.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert batch %s", b.Name)
}

func (s *SQLiteStore) MarkBatchSent(ctx context.Context, tenantID, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dispatch_batches SET sent = 1, sent_at = ? WHERE id = ? AND tenant_id = ?`,
		at, id, tenantID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark batch sent %s", id)
	}
	return checkRowsAffected(res, "batch", id)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return model.NewNotFoundError(entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}
