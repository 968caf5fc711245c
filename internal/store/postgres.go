package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-engine/internal/db"
	"github.com/sells-group/lead-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	pingFn  func(ctx context.Context) error
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, pingFn: pool.Ping}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct access (advisory locks).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
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
	is_mql               BOOLEAN NOT NULL DEFAULT false,
	mql_at               TIMESTAMPTZ,
	levantou_mao         BOOLEAN NOT NULL DEFAULT false,
	levantou_mao_at      TIMESTAMPTZ,
	tem_reuniao          BOOLEAN NOT NULL DEFAULT false,
	reuniao_at           TIMESTAMPTZ,
	reuniao_realizada    BOOLEAN NOT NULL DEFAULT false,
	reuniao_realizada_at TIMESTAMPTZ,
	venda_realizada      BOOLEAN NOT NULL DEFAULT false,
	venda_at             TIMESTAMPTZ,
	valor_venda          DOUBLE PRECISION NOT NULL DEFAULT 0,
	engagement_score     INTEGER NOT NULL DEFAULT 0,
	page_hits            INTEGER NOT NULL DEFAULT 0,
	tags                 TEXT[] NOT NULL DEFAULT '{}',
	city                 TEXT NOT NULL DEFAULT '',
	state                TEXT NOT NULL DEFAULT '',
	investor             BOOLEAN NOT NULL DEFAULT false,
	total_invested       DOUBLE PRECISION NOT NULL DEFAULT 0,
	investment_count     INTEGER NOT NULL DEFAULT 0,
	last_investment_at   TIMESTAMPTZ,
	abandoned_cart       BOOLEAN NOT NULL DEFAULT false,
	abandoned_cart_value DOUBLE PRECISION NOT NULL DEFAULT 0,
	projects             TEXT[] NOT NULL DEFAULT '{}',
	current_project      TEXT NOT NULL DEFAULT '',
	merged               BOOLEAN NOT NULL DEFAULT false,
	merged_into_id       TEXT REFERENCES leads(id),
	merged_at            TIMESTAMPTZ,
	merged_by            TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT leads_merged_has_target CHECK (NOT merged OR merged_into_id IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_leads_tenant_phone ON leads(tenant_id, phone) WHERE merged = false AND phone <> '';
CREATE INDEX IF NOT EXISTS idx_leads_tenant_email ON leads(tenant_id, lower(email)) WHERE merged = false AND email <> '';
CREATE INDEX IF NOT EXISTS idx_leads_tenant_ticket ON leads(tenant_id, ticket_id) WHERE ticket_id <> '';
CREATE INDEX IF NOT EXISTS idx_leads_tenant_ad ON leads(tenant_id, ad_id) WHERE ad_id <> '';
CREATE INDEX IF NOT EXISTS idx_leads_tenant_mautic ON leads(tenant_id, mautic_contact_id) WHERE mautic_contact_id <> '';
CREATE INDEX IF NOT EXISTS idx_leads_tenant_external ON leads(tenant_id, external_lead_id) WHERE external_lead_id <> '';
CREATE INDEX IF NOT EXISTS idx_leads_merged_into ON leads(merged_into_id) WHERE merged_into_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_leads_tenant_created ON leads(tenant_id, created_at);

CREATE TABLE IF NOT EXISTS lead_events (
	id         TEXT PRIMARY KEY,
	lead_id    TEXT NOT NULL REFERENCES leads(id),
	tenant_id  TEXT NOT NULL,
	event_type TEXT NOT NULL,
	note       TEXT NOT NULL DEFAULT '',
	metadata   JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_lead_events_lead ON lead_events(lead_id, created_at);

CREATE TABLE IF NOT EXISTS investments (
	id          TEXT PRIMARY KEY,
	lead_id     TEXT NOT NULL REFERENCES leads(id),
	tenant_id   TEXT NOT NULL,
	external_id TEXT NOT NULL DEFAULT '',
	project     TEXT NOT NULL DEFAULT '',
	amount      DOUBLE PRECISION NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	invested_at TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_investments_external ON investments(tenant_id, external_id) WHERE external_id <> '';
CREATE INDEX IF NOT EXISTS idx_investments_lead ON investments(lead_id);

CREATE TABLE IF NOT EXISTS webhook_destinations (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT,
	name       TEXT NOT NULL UNIQUE,
	url        TEXT NOT NULL,
	enabled    BOOLEAN NOT NULL DEFAULT true,
	headers    JSONB,
	events     TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id             TEXT PRIMARY KEY,
	destination_id TEXT NOT NULL REFERENCES webhook_destinations(id),
	tenant_id      TEXT NOT NULL DEFAULT '',
	lead_id        TEXT NOT NULL DEFAULT '',
	event          TEXT NOT NULL,
	payload        JSONB NOT NULL,
	status_code    INTEGER NOT NULL DEFAULT 0,
	response_body  TEXT NOT NULL DEFAULT '',
	outcome        TEXT NOT NULL,
	error_kind     TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL DEFAULT '',
	duration_ms    BIGINT NOT NULL DEFAULT 0,
	replay_of      TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_deliveries_destination ON webhook_deliveries(destination_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_deliveries_lead ON webhook_deliveries(lead_id) WHERE lead_id <> '';
CREATE INDEX IF NOT EXISTS idx_deliveries_outcome ON webhook_deliveries(outcome);

CREATE TABLE IF NOT EXISTS dispatch_batches (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	name       TEXT NOT NULL,
	preset     TEXT NOT NULL DEFAULT '',
	lead_ids   TEXT[] NOT NULL DEFAULT '{}',
	sent       BOOLEAN NOT NULL DEFAULT false,
	sent_at    TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_batches_tenant_sent ON dispatch_batches(tenant_id) WHERE sent;
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pingFn != nil {
		return eris.Wrap(s.pingFn(ctx), "postgres: ping")
	}
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// pgList keeps NOT NULL array columns non-null.
func pgList(v []string) any {
	if v == nil {
		return []string{}
	}
	return v
}

func scanPGLead(row pgx.Row) (*model.Lead, error) {
	var l model.Lead
	if err := row.Scan(leadDests(&l, &l.Tags, &l.Projects)...); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) queryLeads(ctx context.Context, op, query string, args ...any) ([]model.Lead, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanPGLead(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: scan lead (%s)", op)
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrapf(rows.Err(), "postgres: %s iterate", op)
}

func (s *PostgresStore) CreateLead(ctx context.Context, l *model.Lead) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now

	_, err := s.pool.Exec(ctx, insertLeadSQL(dollar), insertLeadArgs(l, pgList)...)
	return eris.Wrapf(err, "postgres: insert lead %s", l.ID)
}

func (s *PostgresStore) UpdateLead(ctx context.Context, l *model.Lead) error {
	l.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, updateLeadSQL(dollar), updateLeadArgs(l, pgList)...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead %s", l.ID)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(l.ID, "lead is merged or missing")
	}
	return nil
}

func (s *PostgresStore) GetLead(ctx context.Context, tenantID, id string) (*model.Lead, error) {
	l, err := scanPGLead(s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	return l, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + leadColumns + ` FROM leads WHERE tenant_id = $1 AND merged = false`
	if filter.ExcludeSent {
		query += ` AND NOT EXISTS (
			SELECT 1 FROM dispatch_batches b
			 WHERE b.tenant_id = $1 AND b.sent AND leads.id = ANY(b.lead_ids))`
	}
	query += ` ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`
	return s.queryLeads(ctx, "list leads", query, filter.TenantID, limit, filter.Offset)
}

func (s *PostgresStore) FindByExternalID(ctx context.Context, tenantID string, kind model.ExternalIDKind, value string) ([]model.Lead, error) {
	col := kind.Column()
	if col == "" {
		return nil, model.NewValidationError("id_kind", string(kind), "unknown external id kind")
	}
	return s.queryLeads(ctx, "find by "+col,
		`SELECT `+leadColumns+` FROM leads
		 WHERE tenant_id = $1 AND `+col+` = $2 AND merged = false
		 ORDER BY created_at, id`,
		tenantID, value,
	)
}

func (s *PostgresStore) FindByPhone(ctx context.Context, tenantID, phone string) ([]model.Lead, error) {
	return s.queryLeads(ctx, "find by phone",
		`SELECT `+leadColumns+` FROM leads
		 WHERE tenant_id = $1 AND phone = $2 AND merged = false
		 ORDER BY created_at, id`,
		tenantID, phone,
	)
}

func (s *PostgresStore) FindByEmail(ctx context.Context, tenantID, email string) ([]model.Lead, error) {
	return s.queryLeads(ctx, "find by email",
		`SELECT `+leadColumns+` FROM leads
		 WHERE tenant_id = $1 AND lower(email) = lower($2) AND merged = false
		 ORDER BY created_at, id`,
		tenantID, email,
	)
}

func (s *PostgresStore) ListCandidates(ctx context.Context, tenantID string, filter CandidateFilter) ([]model.Lead, error) {
	where, order, args := candidateClauses(filter, dollar, 2, func(hay, needle string) string {
		return "position(" + needle + " in " + hay + ") > 0"
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT ` + leadColumns + ` FROM leads WHERE tenant_id = $1 AND merged = false` + where +
		` ORDER BY ` + order + `created_at, id LIMIT ` + dollar(len(args)+2)
	args = append(append([]any{tenantID}, args...), limit)
	return s.queryLeads(ctx, "list candidates", query, args...)
}

func (s *PostgresStore) ExistingContacts(ctx context.Context, tenantID string, phones, emails []string) (map[string]string, error) {
	found := make(map[string]string)
	if len(phones) == 0 && len(emails) == 0 {
		return found, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, phone, lower(email) FROM leads
		 WHERE tenant_id = $1 AND merged = false
		   AND ((phone <> '' AND phone = ANY($2)) OR (email <> '' AND lower(email) = ANY($3)))
		 ORDER BY created_at, id`,
		tenantID, pgList(phones), pgList(lowerAll(emails)),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: existing contacts")
	}
	defer rows.Close()

	for rows.Next() {
		var id, phone, email string
		if err := rows.Scan(&id, &phone, &email); err != nil {
			return nil, eris.Wrap(err, "postgres: scan existing contact")
		}
		addContact(found, id, phone, email)
	}
	return found, eris.Wrap(rows.Err(), "postgres: existing contacts iterate")
}

func (s *PostgresStore) ListGroup(ctx context.Context, tenantID string, key model.GroupKey) ([]model.Lead, error) {
	pred, err := groupPredicate(key, dollar, 2)
	if err != nil {
		return nil, err
	}
	return s.queryLeads(ctx, "list group",
		`SELECT `+leadColumns+` FROM leads
		 WHERE tenant_id = $1 AND `+pred+` AND merged = false
		 ORDER BY created_at, id`,
		tenantID, key.Value,
	)
}

func (s *PostgresStore) DuplicateGroups(ctx context.Context, tenantID string, kind model.GroupKind, limit int) ([]model.DuplicateGroup, error) {
	col, err := groupColumn(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %[1]s, array_agg(id ORDER BY created_at, id), count(*) FROM leads
		 WHERE tenant_id = $1 AND merged = false AND %[1]s <> ''
		 GROUP BY %[1]s HAVING count(*) > 1
		 ORDER BY count(*) DESC, %[1]s LIMIT $2`, col),
		tenantID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: duplicate groups")
	}
	defer rows.Close()

	var groups []model.DuplicateGroup
	for rows.Next() {
		g := model.DuplicateGroup{Key: model.GroupKey{Kind: kind}}
		if err := rows.Scan(&g.Key.Value, &g.LeadIDs, &g.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan duplicate group")
		}
		groups = append(groups, g)
	}
	return groups, eris.Wrap(rows.Err(), "postgres: duplicate groups iterate")
}

func (s *PostgresStore) UpdateFinancials(ctx context.Context, l *model.Lead) (bool, error) {
	l.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, updateFinancialsSQL(dollar), updateFinancialsArgs(l, pgList)...)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: update financials %s", l.ID)
	}
	return tag.RowsAffected() == 1, nil
}

// SupersedeLead marks one lead as merged into principalID and re-points
// leads previously merged into it, in one transaction. It reports false
// when the lead was already merged or does not exist.
func (s *PostgresStore) SupersedeLead(ctx context.Context, tenantID, id, principalID, actor string, at time.Time) (bool, error) {
	var changed bool
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE leads SET merged = true, merged_into_id = $1, merged_at = $2, merged_by = $3, updated_at = $2
			 WHERE id = $4 AND tenant_id = $5 AND merged = false AND id <> $1
			   AND EXISTS (SELECT 1 FROM leads p WHERE p.id = $1 AND p.tenant_id = $5 AND p.merged = false)`,
			principalID, at, actor, id, tenantID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: supersede lead %s", id)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		changed = true

		_, err = tx.Exec(ctx,
			`UPDATE leads SET merged_into_id = $1, updated_at = $2
			 WHERE tenant_id = $3 AND merged_into_id = $4`,
			principalID, at, tenantID, id,
		)
		return eris.Wrapf(err, "postgres: re-point leads merged into %s", id)
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (s *PostgresStore) UpsertInvestment(ctx context.Context, inv *model.Investment) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	if inv.ExternalID == "" {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO investments (id, lead_id, tenant_id, external_id, project, amount, status, invested_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			inv.ID, inv.LeadID, inv.TenantID, inv.ExternalID, inv.Project, inv.Amount, string(inv.Status), inv.InvestedAt, inv.CreatedAt,
		)
		return eris.Wrap(err, "postgres: insert investment")
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO investments (id, lead_id, tenant_id, external_id, project, amount, status, invested_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (tenant_id, external_id) WHERE external_id <> ''
		 DO UPDATE SET project = EXCLUDED.project, amount = EXCLUDED.amount,
		               status = EXCLUDED.status, invested_at = EXCLUDED.invested_at
		 RETURNING id, lead_id, created_at`,
		inv.ID, inv.LeadID, inv.TenantID, inv.ExternalID, inv.Project, inv.Amount, string(inv.Status), inv.InvestedAt, inv.CreatedAt,
	).Scan(&inv.ID, &inv.LeadID, &inv.CreatedAt)
	return eris.Wrapf(err, "postgres: upsert investment %s", inv.ExternalID)
}

// ListInvestments returns the rows owned by leadIDs and by leads merged
// into them.
func (s *PostgresStore) ListInvestments(ctx context.Context, tenantID string, leadIDs []string) ([]model.Investment, error) {
	if len(leadIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, lead_id, tenant_id, external_id, project, amount, status, invested_at, created_at
		 FROM investments
		 WHERE tenant_id = $1 AND (lead_id = ANY($2)
		    OR lead_id IN (SELECT id FROM leads WHERE tenant_id = $1 AND merged_into_id = ANY($2)))
		 ORDER BY invested_at, id`,
		tenantID, leadIDs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list investments")
	}
	defer rows.Close()

	var out []model.Investment
	for rows.Next() {
		var inv model.Investment
		if err := rows.Scan(&inv.ID, &inv.LeadID, &inv.TenantID, &inv.ExternalID, &inv.Project,
			&inv.Amount, &inv.Status, &inv.InvestedAt, &inv.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan investment")
		}
		out = append(out, inv)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list investments iterate")
}

var eventColumns = []string{"id", "lead_id", "tenant_id", "event_type", "note", "metadata", "created_at"}

// AppendEvents bulk-inserts events with COPY.
func (s *PostgresStore) AppendEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(events))
	for i := range events {
		e := &events[i]
		stampEvent(e)
		meta, err := marshalMetadata(e.Metadata)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal event metadata %s", e.Type)
		}
		rows = append(rows, []any{e.ID, e.LeadID, e.TenantID, string(e.Type), e.Note, meta, e.CreatedAt})
	}

	_, err := db.CopyFrom(ctx, s.pool, "lead_events", eventColumns, rows)
	return eris.Wrap(err, "postgres: append events")
}

func (s *PostgresStore) ListEvents(ctx context.Context, tenantID, leadID string) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, lead_id, tenant_id, event_type, note, metadata, created_at FROM lead_events
		 WHERE tenant_id = $1 AND lead_id = $2
		 ORDER BY created_at, id`,
		tenantID, leadID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var meta []byte
		if err := rows.Scan(&e.ID, &e.LeadID, &e.TenantID, &e.Type, &e.Note, &meta, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal event metadata")
			}
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list events iterate")
}

const destinationColumns = `id, tenant_id, name, url, enabled, headers, events, created_at, updated_at`

func scanPGDestination(row pgx.Row) (*model.Destination, error) {
	var d model.Destination
	var headers []byte
	if err := row.Scan(&d.ID, &d.TenantID, &d.Name, &d.URL, &d.Enabled, &headers, &d.Events, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &d.Headers); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal destination headers")
		}
	}
	return &d, nil
}

// UpsertDestination inserts or updates a destination by name.
func (s *PostgresStore) UpsertDestination(ctx context.Context, d *model.Destination) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	headers, err := json.Marshal(d.Headers)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal destination headers")
	}
	now := time.Now().UTC()

	err = s.pool.QueryRow(ctx,
		`INSERT INTO webhook_destinations (id, tenant_id, name, url, enabled, headers, events, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		 ON CONFLICT (name) DO UPDATE SET tenant_id = EXCLUDED.tenant_id, url = EXCLUDED.url,
		     enabled = EXCLUDED.enabled, headers = EXCLUDED.headers, events = EXCLUDED.events,
		     updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at, updated_at`,
		d.ID, d.TenantID, d.Name, d.URL, d.Enabled, headers, pgList(d.Events), now,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	return eris.Wrapf(err, "postgres: upsert destination %s", d.Name)
}

func (s *PostgresStore) GetDestination(ctx context.Context, id string) (*model.Destination, error) {
	d, err := scanPGDestination(s.pool.QueryRow(ctx,
		`SELECT `+destinationColumns+` FROM webhook_destinations WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get destination %s", id)
	}
	return d, nil
}

func (s *PostgresStore) ListDestinations(ctx context.Context, enabledOnly bool) ([]model.Destination, error) {
	query := `SELECT ` + destinationColumns + ` FROM webhook_destinations`
	if enabledOnly {
		query += ` WHERE enabled`
	}
	query += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list destinations")
	}
	defer rows.Close()

	var out []model.Destination
	for rows.Next() {
		d, err := scanPGDestination(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan destination")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list destinations iterate")
}

const deliveryColumns = `id, destination_id, tenant_id, lead_id, event, payload, status_code, response_body, outcome, error_kind, error, duration_ms, replay_of, created_at`

func scanPGDelivery(row pgx.Row) (*model.Delivery, error) {
	var d model.Delivery
	var payload []byte
	if err := row.Scan(&d.ID, &d.DestinationID, &d.TenantID, &d.LeadID, &d.Event, &payload, &d.StatusCode,
		&d.ResponseBody, &d.Outcome, &d.ErrorKind, &d.Error, &d.DurationMs, &d.ReplayOf, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Payload = payload
	return &d, nil
}

func (s *PostgresStore) InsertDelivery(ctx context.Context, d *model.Delivery) error {
	stampDelivery(d)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_deliveries (`+deliveryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		d.ID, d.DestinationID, d.TenantID, d.LeadID, string(d.Event), []byte(d.Payload), d.StatusCode,
		d.ResponseBody, d.Outcome, d.ErrorKind, d.Error, d.DurationMs, d.ReplayOf, d.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert delivery for destination %s", d.DestinationID)
}

func (s *PostgresStore) GetDelivery(ctx context.Context, id string) (*model.Delivery, error) {
	d, err := scanPGDelivery(s.pool.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get delivery %s", id)
	}
	return d, nil
}

func (s *PostgresStore) ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]model.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE true`
	args := []any{}
	argIdx := 1

	if filter.DestinationID != "" {
		query += fmt.Sprintf(` AND destination_id = $%d`, argIdx)
		args = append(args, filter.DestinationID)
		argIdx++
	}
	if filter.LeadID != "" {
		query += fmt.Sprintf(` AND lead_id = $%d`, argIdx)
		args = append(args, filter.LeadID)
		argIdx++
	}
	if filter.Outcome != "" {
		query += fmt.Sprintf(` AND outcome = $%d`, argIdx)
		args = append(args, filter.Outcome)
		argIdx++
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list deliveries")
	}
	defer rows.Close()

	var out []model.Delivery
	for rows.Next() {
		d, err := scanPGDelivery(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan delivery")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list deliveries iterate")
}

func (s *PostgresStore) CreateBatch(ctx context.Context, b *model.Batch) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dispatch_batches (id, tenant_id, name, preset, lead_ids, sent, sent_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.TenantID, b.Name, b.Preset, pgList(b.LeadIDs), b.Sent, b.SentAt, b.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert batch %s", b.Name)
}

func (s *PostgresStore) MarkBatchSent(ctx context.Context, tenantID, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dispatch_batches SET sent = true, sent_at = $1 WHERE id = $2 AND tenant_id = $3`,
		at, id, tenantID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark batch sent %s", id)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError("batch", id)
	}
	return nil
}

