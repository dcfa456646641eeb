package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/cadence/internal/reconciliation/domain"
	"github.com/felixgeelhaar/cadence/internal/shared/infrastructure/database"
	"github.com/google/uuid"
)

// SQLFailureRepository implements domain.FailureRepository on PostgreSQL or SQLite.
type SQLFailureRepository struct {
	conn database.Connection
}

// NewSQLFailureRepository creates a failure repository.
func NewSQLFailureRepository(conn database.Connection) *SQLFailureRepository {
	return &SQLFailureRepository{conn: conn}
}

const failureColumns = `id, provider, event_id, event_type, subscription_id, reason, attempts,
	payload, recorded_at, resolved_at, resolution_note`

func (r *SQLFailureRepository) Record(ctx context.Context, f *domain.Failure) error {
	d := r.conn.Driver()
	exec := database.ExecutorFromContext(ctx, r.conn)

	existing, err := r.one(ctx, `SELECT `+failureColumns+` FROM reconciliation_failures
		WHERE provider = ? AND event_id = ? AND resolved_at IS NULL`, f.Provider, f.EventID)
	switch {
	case err == nil:
		f.ID = existing.ID
		f.RecordedAt = existing.RecordedAt
		f.Attempts = existing.Attempts + 1
		if f.SubscriptionID == nil {
			f.SubscriptionID = existing.SubscriptionID
		}
		_, err = exec.Exec(ctx, database.Rebind(d, `UPDATE reconciliation_failures
			SET reason = ?, attempts = ?, subscription_id = ?, payload = ?, event_type = ?
			WHERE id = ?`),
			f.Reason, f.Attempts, nullUUID(f.SubscriptionID), string(f.Payload), f.EventType, f.ID.String())
		return err
	case !database.IsNoRows(err):
		return err
	}

	_, err = exec.Exec(ctx, database.Rebind(d, `INSERT INTO reconciliation_failures (`+failureColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		f.ID.String(), f.Provider, f.EventID, f.EventType, nullUUID(f.SubscriptionID), f.Reason, f.Attempts,
		string(f.Payload), database.TimeArg(d, f.RecordedAt), database.NullTimeArg(d, f.ResolvedAt), nullString(f.ResolutionNote))
	return err
}

func (r *SQLFailureRepository) Find(ctx context.Context, id uuid.UUID) (*domain.Failure, error) {
	f, err := r.one(ctx, `SELECT `+failureColumns+` FROM reconciliation_failures WHERE id = ?`, id.String())
	if database.IsNoRows(err) {
		return nil, fmt.Errorf("%w: %s", domain.ErrFailureNotFound, id)
	}
	return f, err
}

func (r *SQLFailureRepository) List(ctx context.Context, filter domain.FailureFilter) ([]*domain.Failure, error) {
	var (
		where []string
		args  []any
	)
	if !filter.IncludeResolved {
		where = append(where, "resolved_at IS NULL")
	}
	if filter.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, filter.Provider)
	}
	query := `SELECT ` + failureColumns + ` FROM reconciliation_failures`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY recorded_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := database.ExecutorFromContext(ctx, r.conn).Query(ctx, database.Rebind(r.conn.Driver(), query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Failure
	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *SQLFailureRepository) Save(ctx context.Context, f *domain.Failure) error {
	d := r.conn.Driver()
	result, err := database.ExecutorFromContext(ctx, r.conn).Exec(ctx, database.Rebind(d, `UPDATE reconciliation_failures
		SET reason = ?, attempts = ?, resolved_at = ?, resolution_note = ?
		WHERE id = ?`),
		f.Reason, f.Attempts, database.NullTimeArg(d, f.ResolvedAt), nullString(f.ResolutionNote), f.ID.String())
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrFailureNotFound, f.ID)
	}
	return nil
}

func (r *SQLFailureRepository) one(ctx context.Context, query string, args ...any) (*domain.Failure, error) {
	row := database.ExecutorFromContext(ctx, r.conn).QueryRow(ctx, database.Rebind(r.conn.Driver(), query), args...)
	return scanFailure(row)
}

func scanFailure(row database.Row) (*domain.Failure, error) {
	var (
		id, provider, eventID, eventType, reason, payload string
		subscriptionID, note                              *string
		attempts                                          int
		recordedAt, resolvedAt                            database.Timestamp
	)
	if err := row.Scan(&id, &provider, &eventID, &eventType, &subscriptionID, &reason, &attempts,
		&payload, &recordedAt, &resolvedAt, &note); err != nil {
		return nil, err
	}

	f := &domain.Failure{
		Provider:   provider,
		EventID:    eventID,
		EventType:  eventType,
		Reason:     reason,
		Attempts:   attempts,
		Payload:    []byte(payload),
		RecordedAt: recordedAt.Time,
		ResolvedAt: resolvedAt.Ptr(),
	}
	var err error
	if f.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse failure id: %w", err)
	}
	if subscriptionID != nil {
		sid, err := uuid.Parse(*subscriptionID)
		if err != nil {
			return nil, fmt.Errorf("parse subscription id of failure %s: %w", id, err)
		}
		f.SubscriptionID = &sid
	}
	if note != nil {
		f.ResolutionNote = *note
	}
	return f, nil
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
