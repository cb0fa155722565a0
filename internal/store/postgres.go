package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadsync/internal/db"
	"github.com/sells-group/leadsync/internal/model"
)

// PostgresStore implements LeadStore using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
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
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	identity_id           TEXT PRIMARY KEY,
	lineage               TEXT NOT NULL DEFAULT 'synthetic',
	created_at            BIGINT NOT NULL,
	email                 TEXT,
	phone                 TEXT,
	first_name            TEXT,
	last_name             TEXT,
	city                  TEXT,
	state                 TEXT,
	zip_code              TEXT,
	birth_date            TEXT,
	ad_id                 TEXT,
	ad_name               TEXT,
	adset_id              TEXT,
	adset_name            TEXT,
	campaign_id           TEXT,
	campaign_name         TEXT,
	form_id               TEXT,
	form_name             TEXT,
	platform              TEXT,
	lead_status           TEXT,
	fbc                   TEXT,
	fbp                   TEXT,
	client_ip             TEXT,
	user_agent            TEXT,
	is_organic            BOOLEAN,
	last_dispatched_stage TEXT,
	updated_at            BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_email ON leads(email);
CREATE INDEX IF NOT EXISTS idx_leads_phone ON leads(phone);
CREATE INDEX IF NOT EXISTS idx_leads_created_at ON leads(created_at);
CREATE INDEX IF NOT EXISTS idx_leads_first_name ON leads(LOWER(first_name));
`

func (s *PostgresStore) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
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

func (s *PostgresStore) UpsertByIdentity(ctx context.Context, id string, lineage model.Lineage, fields LeadFields) (*model.Lead, error) {
	if id == "" {
		return nil, eris.New("postgres: upsert lead: empty identity id")
	}
	q, err := db.MergeUpsertSQL(db.MergeConfig{
		Table:       "leads",
		Columns:     insertColumns(),
		ConflictKey: "identity_id",
		MergeCols:   mergeColumns(),
		Overwrite:   []string{"updated_at"},
		Returning:   selectColumns(),
		Placeholder: db.Dollar,
	})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build upsert")
	}

	lead, err := scanLead(s.pool.QueryRow(ctx, q, upsertArgs(id, lineage, fields, s.clock())...))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert lead %s", id)
	}
	return lead, nil
}

func (s *PostgresStore) WriteDispatchedStage(ctx context.Context, id, stage string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET last_dispatched_stage = $1, updated_at = $2 WHERE identity_id = $3`,
		stage, s.clock().Unix(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: write dispatched stage %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrLeadNotFound, "postgres: write dispatched stage %s", id)
	}
	return nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	return s.queryOne(ctx, "get lead",
		`SELECT `+leadSelect+` FROM leads WHERE identity_id = $1`, id)
}

func (s *PostgresStore) FindCandidate(ctx context.Context, window time.Duration, email, phone string) (*model.Lead, error) {
	q, args, ok := candidateQuery(db.Dollar, cutoff(s.clock(), window), email, phone)
	if !ok {
		return nil, nil
	}
	return s.queryOne(ctx, "find candidate", q, args...)
}

func (s *PostgresStore) SearchByContact(ctx context.Context, email, phoneFull, phoneSuffix string) (*model.Lead, error) {
	q, args, ok := contactQuery(db.Dollar, email, phoneFull, phoneSuffix)
	if !ok {
		return nil, nil
	}
	return s.queryOne(ctx, "search by contact", q, args...)
}

func (s *PostgresStore) SearchByNameWindow(ctx context.Context, first, last string, window time.Duration) (*model.Lead, error) {
	q, args, ok := nameQuery(db.Dollar, cutoff(s.clock(), window), first, last)
	if !ok {
		return nil, nil
	}
	return s.queryOne(ctx, "search by name", q, args...)
}

// queryOne runs a single-row lookup, mapping no rows to (nil, nil).
func (s *PostgresStore) queryOne(ctx context.Context, op, q string, args ...any) (*model.Lead, error) {
	lead, err := scanLead(s.pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	return lead, nil
}
