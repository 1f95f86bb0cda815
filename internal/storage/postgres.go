package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Kxd395/DoseTap-sub000/internal"
)

type PostgresStorage struct {
	pool   *pgxpool.Pool
	logger internal.Logger
}

func NewPostgresStorage(dsn string, logger internal.Logger) (*PostgresStorage, error) {
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		logger.Errorf("failed to connect to postgres: %v", err)
		return nil, err
	}
	return &PostgresStorage{pool: pool, logger: logger}, nil
}

func (p *PostgresStorage) Close() error {
	p.pool.Close()
	return nil
}

// --- SessionRepository ---

// Session facts carry many optional fields, so the record is stored as a
// JSONB document under its key. The key column keeps lookups and recency
// listing on an index.
func (p *PostgresStorage) SaveSession(ctx context.Context, facts *internal.SessionFacts) error {
	doc, err := json.Marshal(facts)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO sessions (session_key, facts, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_key) DO UPDATE SET facts = $2, updated_at = $3`,
		facts.SessionKey, doc, facts.UpdatedAt)
	if err != nil {
		p.logger.Errorf("failed to upsert session %s: %v", facts.SessionKey, err)
		return err
	}
	return nil
}

func (p *PostgresStorage) LoadSession(ctx context.Context, sessionKey string) (*internal.SessionFacts, error) {
	row := p.pool.QueryRow(ctx, `SELECT facts FROM sessions WHERE session_key = $1`, sessionKey)
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		p.logger.Errorf("failed to load session %s: %v", sessionKey, err)
		return nil, err
	}
	var facts internal.SessionFacts
	if err := json.Unmarshal(doc, &facts); err != nil {
		return nil, err
	}
	return &facts, nil
}

func (p *PostgresStorage) DeleteSession(ctx context.Context, sessionKey string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE session_key = $1`, sessionKey)
	if err != nil {
		p.logger.Errorf("failed to delete session %s: %v", sessionKey, err)
		return err
	}
	return nil
}

func (p *PostgresStorage) ListRecentKeys(ctx context.Context, n int) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT session_key FROM sessions ORDER BY session_key DESC LIMIT $1`, n)
	if err != nil {
		p.logger.Errorf("failed to list session keys: %v", err)
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- MedicationRepository ---

func (p *PostgresStorage) SaveEntry(ctx context.Context, entry *internal.MedicationEntry) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO medication_entries (id, session_date, medication_id, dose_mg, taken_at, notes, confirmed_duplicate, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.SessionDate, entry.MedicationID, entry.DoseMg, entry.TakenAt,
		entry.Notes, entry.ConfirmedDuplicate, entry.CreatedAt)
	if err != nil {
		p.logger.Errorf("failed to insert medication entry: %v", err)
		return err
	}
	return nil
}

func (p *PostgresStorage) ListEntries(ctx context.Context, sessionDate string) ([]internal.MedicationEntry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, session_date, medication_id, dose_mg, taken_at, notes, confirmed_duplicate, created_at
		 FROM medication_entries WHERE session_date = $1 ORDER BY taken_at DESC`, sessionDate)
	if err != nil {
		p.logger.Errorf("failed to query medication entries: %v", err)
		return nil, err
	}
	defer rows.Close()

	var entries []internal.MedicationEntry
	for rows.Next() {
		var e internal.MedicationEntry
		if err := rows.Scan(&e.ID, &e.SessionDate, &e.MedicationID, &e.DoseMg, &e.TakenAt,
			&e.Notes, &e.ConfirmedDuplicate, &e.CreatedAt); err != nil {
			p.logger.Errorf("failed to scan medication entry: %v", err)
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Compile-time assertions ---
var _ SessionRepository = (*PostgresStorage)(nil)
var _ MedicationRepository = (*PostgresStorage)(nil)
