package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/Weightage/internal/weighting"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const compositeColumns = `composite_id, identifier, name, description,
	account_id, org_identifier, project_identifier,
	selections, revision, created_at, updated_at`

func (s *PostgresStore) CreateComposite(ctx context.Context, c *CompositeSLO) error {
	selectionsJSON, err := marshalSelections(c)
	if err != nil {
		return err
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO composite_slos (identifier, name, description,
			account_id, org_identifier, project_identifier, selections)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING composite_id, revision, created_at, updated_at`,
		c.Identifier, c.Name, c.Description,
		c.AccountID, c.OrgIdentifier, c.ProjectIdentifier, selectionsJSON,
	).Scan(&c.ID, &c.Revision, &c.CreatedAt, &c.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateIdentifier, c.Identifier)
	}
	return err
}

func (s *PostgresStore) GetComposite(ctx context.Context, id uuid.UUID) (*CompositeSLO, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+compositeColumns+`
		FROM composite_slos WHERE composite_id = $1`, id)
	c, err := scanComposite(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PostgresStore) ListComposites(ctx context.Context, filter CompositeFilter) ([]*CompositeSLO, error) {
	query := `SELECT ` + compositeColumns + ` FROM composite_slos WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.AccountID != "" {
		n++
		query += fmt.Sprintf(" AND account_id = $%d", n)
		args = append(args, filter.AccountID)
	}
	if filter.OrgIdentifier != "" {
		n++
		query += fmt.Sprintf(" AND org_identifier = $%d", n)
		args = append(args, filter.OrgIdentifier)
	}
	if filter.ProjectIdentifier != "" {
		n++
		query += fmt.Sprintf(" AND project_identifier = $%d", n)
		args = append(args, filter.ProjectIdentifier)
	}

	query += " ORDER BY created_at ASC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	n++
	query += fmt.Sprintf(" LIMIT $%d", n)
	args = append(args, limit)

	if filter.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CompositeSLO
	for rows.Next() {
		c, err := scanComposite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateComposite writes c if its revision still matches the stored one and
// bumps c.Revision on success.
func (s *PostgresStore) UpdateComposite(ctx context.Context, c *CompositeSLO) error {
	selectionsJSON, err := marshalSelections(c)
	if err != nil {
		return err
	}

	err = s.pool.QueryRow(ctx, `
		UPDATE composite_slos SET
			name = $3, description = $4, selections = $5,
			revision = revision + 1, updated_at = NOW()
		WHERE composite_id = $1 AND revision = $2
		RETURNING revision, updated_at`,
		c.ID, c.Revision, c.Name, c.Description, selectionsJSON,
	).Scan(&c.Revision, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s at revision %d", ErrRevisionConflict, c.ID, c.Revision)
	}
	return err
}

func (s *PostgresStore) DeleteComposite(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM composite_slos WHERE composite_id = $1`, id)
	return err
}

func (s *PostgresStore) CreateCompositeEvent(ctx context.Context, e *CompositeEvent) error {
	payloadJSON, _ := json.Marshal(e.Payload)
	return s.pool.QueryRow(ctx, `
		INSERT INTO composite_slo_events (composite_id, event, actor, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		e.CompositeID, e.Event, e.Actor, payloadJSON,
	).Scan(&e.ID, &e.CreatedAt)
}

func (s *PostgresStore) GetCompositeEvents(ctx context.Context, compositeID uuid.UUID) ([]*CompositeEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, composite_id, event, actor, payload, created_at
		FROM composite_slo_events WHERE composite_id = $1
		ORDER BY created_at ASC`, compositeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*CompositeEvent
	for rows.Next() {
		e := &CompositeEvent{}
		var payloadJSON []byte
		if err := rows.Scan(&e.ID, &e.CompositeID, &e.Event, &e.Actor, &payloadJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if payloadJSON != nil {
			_ = json.Unmarshal(payloadJSON, &e.Payload)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) GetStats(ctx context.Context) (*CompositeStats, error) {
	stats := &CompositeStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(DISTINCT c.composite_id),
			COUNT(sel.value),
			COUNT(sel.value) FILTER (WHERE COALESCE(sel.value->>'error_state', '') <> '')
		FROM composite_slos c
		LEFT JOIN LATERAL jsonb_array_elements(c.selections) AS sel(value) ON true`,
	).Scan(&stats.TotalComposites, &stats.TotalSelections, &stats.StaleSelections)
	return stats, err
}

func scanComposite(row pgx.Row) (*CompositeSLO, error) {
	c := &CompositeSLO{}
	var selectionsJSON []byte
	if err := row.Scan(
		&c.ID, &c.Identifier, &c.Name, &c.Description,
		&c.AccountID, &c.OrgIdentifier, &c.ProjectIdentifier,
		&selectionsJSON, &c.Revision, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if selectionsJSON != nil {
		if err := json.Unmarshal(selectionsJSON, &c.Selections); err != nil {
			return nil, fmt.Errorf("decode selections for %s: %w", c.ID, err)
		}
	}
	return c, nil
}

// marshalSelections always yields a JSON array so the stats query can
// expand it.
func marshalSelections(c *CompositeSLO) ([]byte, error) {
	sel := c.Selections
	if sel == nil {
		sel = weighting.SelectionSet{}
	}
	data, err := json.Marshal(sel)
	if err != nil {
		return nil, fmt.Errorf("marshal selections: %w", err)
	}
	return data, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
