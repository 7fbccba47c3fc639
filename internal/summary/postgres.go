package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore writes the latest summary per patient to patient_summaries
// and appends every write to patient_summary_entries.
type PostgresStore struct {
	pool rowQuerier
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("summary: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

func newPostgresStoreWithExec(exec rowQuerier) *PostgresStore {
	if exec == nil {
		panic("summary: exec required")
	}
	return &PostgresStore{pool: exec}
}

// Save updates the patient's summary row, creating it when it does not exist
// yet, then records a timestamped entry. Entries are keyed by patient and
// CreatedAt, so saving the same record again adds no second entry.
func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	conversation, err := json.Marshal(rec.Conversation)
	if err != nil {
		return fmt.Errorf("summary: marshal conversation: %w", err)
	}
	at := rec.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	update := `
		UPDATE patient_summaries
		SET summary = $2, conversation = $3, updated_at = $4
		WHERE patient_id = $1
	`
	ct, err := s.pool.Exec(ctx, update, rec.PatientID, rec.Summary, conversation, at)
	if err != nil {
		return fmt.Errorf("summary: update summary: %w", err)
	}
	if ct.RowsAffected() == 0 {
		insert := `
			INSERT INTO patient_summaries (patient_id, summary, conversation, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (patient_id) DO UPDATE
			SET summary = EXCLUDED.summary, conversation = EXCLUDED.conversation, updated_at = EXCLUDED.updated_at
		`
		if _, err := s.pool.Exec(ctx, insert, rec.PatientID, rec.Summary, conversation, at); err != nil {
			return fmt.Errorf("summary: create summary: %w", err)
		}
	}

	entry := `
		INSERT INTO patient_summary_entries (patient_id, summary, conversation, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (patient_id, created_at) DO NOTHING
	`
	if _, err := s.pool.Exec(ctx, entry, rec.PatientID, rec.Summary, conversation, at); err != nil {
		return fmt.Errorf("summary: record entry: %w", err)
	}
	return nil
}

// Get loads the latest summary for a patient.
func (s *PostgresStore) Get(ctx context.Context, patientID string) (Record, error) {
	query := `SELECT summary, conversation, updated_at FROM patient_summaries WHERE patient_id = $1`
	var (
		rec          = Record{PatientID: patientID}
		conversation []byte
	)
	if err := s.pool.QueryRow(ctx, query, patientID).Scan(&rec.Summary, &conversation, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("summary: load summary: %w", err)
	}
	if len(conversation) > 0 {
		if err := json.Unmarshal(conversation, &rec.Conversation); err != nil {
			return Record{}, fmt.Errorf("summary: decode conversation: %w", err)
		}
	}
	return rec, nil
}
