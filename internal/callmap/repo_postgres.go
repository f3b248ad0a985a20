package callmap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"callmap-service/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresRepo persists mappings in the call_mapping table.
//
// All statements touch a single row (or a single call_id group) and rely on
// Postgres row-level isolation; there is no version column, so the conflict
// policy is last-writer-wins.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const mappingColumns = `id, agent_status, call_id, agent_id, sock_url, created_at, updated_at, end_time, transcribed_text`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMapping(s rowScanner) (Mapping, error) {
	var (
		m          Mapping
		callID     sql.NullString
		agentID    sql.NullString
		status     sql.NullString
		endTime    sql.NullTime
		transcript sql.NullString
	)
	err := s.Scan(&m.ID, &status, &callID, &agentID, &m.SockURL, &m.CreatedAt, &m.UpdatedAt, &endTime, &transcript)
	if err != nil {
		return Mapping{}, err
	}
	m.AgentStatus = status.String
	m.CallID = callID.String
	m.AgentID = agentID.String
	if endTime.Valid {
		t := endTime.Time
		m.EndTime = &t
	}
	m.TranscribedText = transcript.String
	return m, nil
}

// mapPgError translates the two schema-enforced failure modes into package
// sentinels; everything else passes through wrapped.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23502":
			return fmt.Errorf("%w: %s", ErrConstraintViolation, pgErr.ColumnName)
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicateKey, pgErr.ConstraintName)
		}
	}
	return err
}

func (r *PostgresRepo) Create(ctx context.Context, m Mapping) (Mapping, error) {
	// Empty strings become NULL so column defaults apply; an omitted
	// sock_url therefore hits the NOT NULL constraint as intended.
	const q = `
		INSERT INTO call_mapping (id, agent_status, call_id, agent_id, sock_url, created_at, updated_at, end_time, transcribed_text)
		VALUES (
			COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()),
			COALESCE(NULLIF($2, ''), 'READY'),
			NULLIF($3, ''),
			NULLIF($4, ''),
			NULLIF($5, ''),
			COALESCE($6, now()),
			COALESCE($7, now()),
			$8,
			NULLIF($9, '')
		)
		RETURNING ` + mappingColumns

	var createdAt, updatedAt *time.Time
	if !m.CreatedAt.IsZero() {
		createdAt = &m.CreatedAt
	}
	if !m.UpdatedAt.IsZero() {
		updatedAt = &m.UpdatedAt
	}

	out, err := scanMapping(r.db.QueryRowContext(ctx, q,
		m.ID, m.AgentStatus, m.CallID, m.AgentID, m.SockURL,
		createdAt, updatedAt, m.EndTime, m.TranscribedText,
	))
	if err != nil {
		return Mapping{}, mapPgError(err)
	}
	return out, nil
}

func (r *PostgresRepo) LookupByID(ctx context.Context, id string) (Mapping, error) {
	const q = `SELECT ` + mappingColumns + ` FROM call_mapping WHERE id = $1`
	m, err := scanMapping(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Mapping{}, ErrNotFound
	}
	if err != nil {
		return Mapping{}, err
	}
	return m, nil
}

func (r *PostgresRepo) LookupByCallID(ctx context.Context, callID string) ([]Mapping, error) {
	const q = `
		SELECT ` + mappingColumns + `
		FROM call_mapping
		WHERE call_id = $1
		ORDER BY updated_at DESC, created_at DESC`
	return r.queryMappings(ctx, q, callID)
}

func (r *PostgresRepo) LookupByAgentID(ctx context.Context, agentID string) ([]Mapping, error) {
	const q = `
		SELECT ` + mappingColumns + `
		FROM call_mapping
		WHERE agent_id = $1
		ORDER BY updated_at DESC, created_at DESC`
	return r.queryMappings(ctx, q, agentID)
}

func (r *PostgresRepo) RangeByCreatedAt(ctx context.Context, from, to time.Time) ([]Mapping, error) {
	const q = `
		SELECT ` + mappingColumns + `
		FROM call_mapping
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at ASC`
	return r.queryMappings(ctx, q, from, to)
}

func (r *PostgresRepo) RangeByUpdatedAt(ctx context.Context, from, to time.Time) ([]Mapping, error) {
	const q = `
		SELECT ` + mappingColumns + `
		FROM call_mapping
		WHERE updated_at >= $1 AND updated_at <= $2
		ORDER BY updated_at ASC`
	return r.queryMappings(ctx, q, from, to)
}

func (r *PostgresRepo) queryMappings(ctx context.Context, q string, args ...any) ([]Mapping, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Mapping, 0)
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Update(ctx context.Context, id string, u Update) (Mapping, error) {
	if u.Empty() {
		return r.LookupByID(ctx, id)
	}

	// updated_at is always bumped here; the schema has no auto-refresh
	// trigger, so the store owns that responsibility.
	sets := []string{"updated_at = now()"}
	args := []any{id}
	if u.AgentStatus != nil {
		args = append(args, *u.AgentStatus)
		sets = append(sets, fmt.Sprintf("agent_status = $%d", len(args)))
	}
	if u.EndTime != nil {
		args = append(args, *u.EndTime)
		sets = append(sets, fmt.Sprintf("end_time = $%d", len(args)))
	}
	if u.TranscribedText != nil {
		args = append(args, *u.TranscribedText)
		sets = append(sets, fmt.Sprintf("transcribed_text = $%d", len(args)))
	}

	q := `UPDATE call_mapping SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 RETURNING ` + mappingColumns

	m, err := scanMapping(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Mapping{}, ErrNotFound
	}
	if err != nil {
		return Mapping{}, mapPgError(err)
	}
	return m, nil
}

func (r *PostgresRepo) DeleteByID(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM call_mapping WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) AssignReadyAgent(ctx context.Context, callID string) (Assignment, error) {
	// Oldest READY row wins. SKIP LOCKED keeps concurrent assigners from
	// blocking on each other's candidate row.
	const q = `
		WITH picked AS (
			SELECT id
			FROM call_mapping
			WHERE agent_status = 'READY'
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE call_mapping c
		SET agent_status = 'INPROGRESS',
		    call_id      = $1,
		    updated_at   = now(),
		    end_time     = NULL
		FROM picked
		WHERE c.id = picked.id
		RETURNING c.agent_id, c.sock_url`

	var out Assignment
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		var agentID sql.NullString
		if err := tx.QueryRowContext(ctx, q, callID).Scan(&agentID, &out.SockURL); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		out.AgentID = agentID.String
		return nil
	})
	if err != nil {
		return Assignment{}, err
	}
	return out, nil
}

func (r *PostgresRepo) CompleteCall(ctx context.Context, callID string) (int64, error) {
	const q = `
		UPDATE call_mapping
		SET agent_status = 'COMPLETED',
		    end_time     = now(),
		    updated_at   = now()
		WHERE call_id = $1`
	res, err := r.db.ExecContext(ctx, q, callID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepo) AttachTranscript(ctx context.Context, callID, text string) (int64, error) {
	const q = `
		UPDATE call_mapping
		SET transcribed_text = $2,
		    updated_at       = now()
		WHERE call_id = $1`
	res, err := r.db.ExecContext(ctx, q, callID, text)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepo) SockURLForCall(ctx context.Context, callID string) (string, error) {
	const q = `
		SELECT sock_url
		FROM call_mapping
		WHERE call_id = $1
		ORDER BY updated_at DESC, created_at DESC
		LIMIT 1`
	var url string
	err := r.db.QueryRowContext(ctx, q, callID).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return url, nil
}

func (r *PostgresRepo) LatestForAgent(ctx context.Context, agentID string) (Endpoint, error) {
	const q = `
		SELECT agent_status, sock_url
		FROM call_mapping
		WHERE agent_id = $1
		ORDER BY created_at DESC, updated_at DESC
		LIMIT 1`
	var (
		ep     Endpoint
		status sql.NullString
	)
	err := r.db.QueryRowContext(ctx, q, agentID).Scan(&status, &ep.SockURL)
	if errors.Is(err, sql.ErrNoRows) {
		return Endpoint{}, ErrNotFound
	}
	if err != nil {
		return Endpoint{}, err
	}
	ep.AgentStatus = status.String
	return ep, nil
}

func (r *PostgresRepo) RemoveLatest(ctx context.Context, key string) (string, error) {
	// Delete only the newest row for the key; older rows stay for history.
	const q = `
		WITH latest AS (
			SELECT id
			FROM call_mapping
			WHERE agent_id = $1 OR call_id = $1
			ORDER BY updated_at DESC, created_at DESC
			LIMIT 1
		)
		DELETE FROM call_mapping
		WHERE id IN (SELECT id FROM latest)
		RETURNING sock_url`
	var url string
	err := r.db.QueryRowContext(ctx, q, key).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return url, nil
}
