package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadsync/internal/db"
	"github.com/sells-group/leadsync/internal/model"
)

// SQLiteStore implements LeadStore using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	identity_id           TEXT PRIMARY KEY,
	lineage               TEXT NOT NULL DEFAULT 'synthetic',
	created_at            INTEGER NOT NULL,
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
	is_organic            INTEGER,
	last_dispatched_stage TEXT,
	updated_at            INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_email ON leads(email);
CREATE INDEX IF NOT EXISTS idx_leads_phone ON leads(phone);
CREATE INDEX IF NOT EXISTS idx_leads_created_at ON leads(created_at);
`

func (s *SQLiteStore) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

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

func (s *SQLiteStore) UpsertByIdentity(ctx context.Context, id string, lineage model.Lineage, fields LeadFields) (*model.Lead, error) {
	if id == "" {
		return nil, eris.New("sqlite: upsert lead: empty identity id")
	}
	q, err := db.MergeUpsertSQL(db.MergeConfig{
		Table:       "leads",
		Columns:     insertColumns(),
		ConflictKey: "identity_id",
		MergeCols:   mergeColumns(),
		Overwrite:   []string{"updated_at"},
		Returning:   selectColumns(),
		Placeholder: db.Question,
	})
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build upsert")
	}

	lead, err := scanLead(s.db.QueryRowContext(ctx, q, upsertArgs(id, lineage, fields, s.clock())...))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert lead %s", id)
	}
	return lead, nil
}

func (s *SQLiteStore) WriteDispatchedStage(ctx context.Context, id, stage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET last_dispatched_stage = ?, updated_at = ? WHERE identity_id = ?`,
		stage, s.clock().Unix(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: write dispatched stage %s", id)
	}
	return checkRowsAffected(res, id)
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	return s.queryOne(ctx, "get lead",
		`SELECT `+leadSelect+` FROM leads WHERE identity_id = ?`, id)
}

func (s *SQLiteStore) FindCandidate(ctx context.Context, window time.Duration, email, phone string) (*model.Lead, error) {
	q, args, ok := candidateQuery(db.Question, cutoff(s.clock(), window), email, phone)
	if !ok {
		return nil, nil
	}
	return s.queryOne(ctx, "find candidate", q, args...)
}

func (s *SQLiteStore) SearchByContact(ctx context.Context, email, phoneFull, phoneSuffix string) (*model.Lead, error) {
	q, args, ok := contactQuery(db.Question, email, phoneFull, phoneSuffix)
	if !ok {
		return nil, nil
	}
	return s.queryOne(ctx, "search by contact", q, args...)
}

func (s *SQLiteStore) SearchByNameWindow(ctx context.Context, first, last string, window time.Duration) (*model.Lead, error) {
	q, args, ok := nameQuery(db.Question, cutoff(s.clock(), window), first, last)
	if !ok {
		return nil, nil
	}
	return s.queryOne(ctx, "search by name", q, args...)
}

func (s *SQLiteStore) queryOne(ctx context.Context, op, q string, args ...any) (*model.Lead, error) {
	lead, err := scanLead(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	return lead, nil
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrLeadNotFound, "sqlite: %s", id)
	}
	return nil
}
