// Package postgres provides the PostgreSQL implementation of the
// postmortems repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/statusbeacon/statusbeacon/internal/domain"
	"github.com/statusbeacon/statusbeacon/internal/incidents"
	"github.com/statusbeacon/statusbeacon/internal/postmortems"
)

const uniqueViolation = "23505"

// Repository implements postmortems.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// tx adapts pgx.Tx to the narrow incidents.Tx contract.
type tx struct {
	pgx.Tx
}

func (t tx) Commit(ctx context.Context) error {
	return t.Tx.Commit(ctx)
}

func (t tx) Rollback(ctx context.Context) error {
	if err := t.Tx.Rollback(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return incidents.ErrTxClosed
		}
		return err
	}
	return nil
}

// BeginTx starts a database transaction.
func (r *Repository) BeginTx(ctx context.Context) (incidents.Tx, error) {
	pgxTx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return tx{Tx: pgxTx}, nil
}

const postmortemColumns = `id, incident_id, summary, impact, root_cause, detection, resolution, lessons_learned, published, published_at, created_at, updated_at`

// CreatePostmortem inserts a new draft postmortem.
func (r *Repository) CreatePostmortem(ctx context.Context, postmortem *domain.Postmortem) error {
	query := `
		INSERT INTO postmortems (incident_id, summary, impact, root_cause, detection, resolution, lessons_learned)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		postmortem.IncidentID,
		postmortem.Summary,
		postmortem.Impact,
		postmortem.RootCause,
		postmortem.Detection,
		postmortem.Resolution,
		postmortem.LessonsLearned,
	).Scan(&postmortem.ID, &postmortem.CreatedAt, &postmortem.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return postmortems.ErrPostmortemExists
		}
		return fmt.Errorf("create postmortem: %w", err)
	}
	return nil
}

// GetByIncident retrieves the postmortem attached to an incident.
func (r *Repository) GetByIncident(ctx context.Context, incidentID string) (*domain.Postmortem, error) {
	query := `SELECT ` + postmortemColumns + ` FROM postmortems WHERE incident_id = $1`

	var postmortem domain.Postmortem
	err := r.db.QueryRow(ctx, query, incidentID).Scan(
		&postmortem.ID,
		&postmortem.IncidentID,
		&postmortem.Summary,
		&postmortem.Impact,
		&postmortem.RootCause,
		&postmortem.Detection,
		&postmortem.Resolution,
		&postmortem.LessonsLearned,
		&postmortem.Published,
		&postmortem.PublishedAt,
		&postmortem.CreatedAt,
		&postmortem.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, postmortems.ErrPostmortemNotFound
		}
		return nil, fmt.Errorf("get postmortem: %w", err)
	}
	return &postmortem, nil
}

// UpdatePostmortem persists content changes.
func (r *Repository) UpdatePostmortem(ctx context.Context, postmortem *domain.Postmortem) error {
	query := `
		UPDATE postmortems
		SET summary = $2, impact = $3, root_cause = $4, detection = $5,
		    resolution = $6, lessons_learned = $7, updated_at = $8
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		postmortem.ID,
		postmortem.Summary,
		postmortem.Impact,
		postmortem.RootCause,
		postmortem.Detection,
		postmortem.Resolution,
		postmortem.LessonsLearned,
		postmortem.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update postmortem: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return postmortems.ErrPostmortemNotFound
	}
	return nil
}

// PublishTx marks the postmortem published inside a transaction.
func (r *Repository) PublishTx(ctx context.Context, t incidents.Tx, postmortem *domain.Postmortem) error {
	query := `
		UPDATE postmortems
		SET published = TRUE, published_at = $2
		WHERE id = $1
	`
	tag, err := t.(tx).Exec(ctx, query, postmortem.ID, postmortem.PublishedAt)
	if err != nil {
		return fmt.Errorf("publish postmortem: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return postmortems.ErrPostmortemNotFound
	}
	return nil
}

// CreateAuditEventTx appends an audit event inside a transaction.
func (r *Repository) CreateAuditEventTx(ctx context.Context, t incidents.Tx, event *domain.AuditEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	query := `
		INSERT INTO audit_events (actor_name, action, incident_id, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err = t.(tx).QueryRow(ctx, query,
		event.ActorName,
		event.Action,
		event.IncidentID,
		metadata,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("create audit event: %w", err)
	}
	return nil
}

const actionItemColumns = `id, postmortem_id, title, owner_name, due_date, status`

// CreateActionItem inserts a new followup task.
func (r *Repository) CreateActionItem(ctx context.Context, item *domain.ActionItem) error {
	query := `
		INSERT INTO action_items (postmortem_id, title, owner_name, due_date, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		item.PostmortemID,
		item.Title,
		item.OwnerName,
		item.DueDate,
		item.Status,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("create action item: %w", err)
	}
	return nil
}

// ListActionItems retrieves the followup tasks of a postmortem.
func (r *Repository) ListActionItems(ctx context.Context, postmortemID string) ([]*domain.ActionItem, error) {
	query := `SELECT ` + actionItemColumns + ` FROM action_items WHERE postmortem_id = $1 ORDER BY title`

	rows, err := r.db.Query(ctx, query, postmortemID)
	if err != nil {
		return nil, fmt.Errorf("list action items: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.ActionItem, 0)
	for rows.Next() {
		item, err := scanActionItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetActionItem retrieves one followup task scoped to its postmortem.
func (r *Repository) GetActionItem(ctx context.Context, postmortemID, id string) (*domain.ActionItem, error) {
	query := `SELECT ` + actionItemColumns + ` FROM action_items WHERE id = $1 AND postmortem_id = $2`

	item, err := scanActionItem(r.db.QueryRow(ctx, query, id, postmortemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, postmortems.ErrActionItemNotFound
		}
		return nil, err
	}
	return item, nil
}

// UpdateActionItem persists a followup task change.
func (r *Repository) UpdateActionItem(ctx context.Context, item *domain.ActionItem) error {
	query := `
		UPDATE action_items
		SET title = $2, owner_name = $3, due_date = $4, status = $5
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query,
		item.ID,
		item.Title,
		item.OwnerName,
		item.DueDate,
		item.Status,
	)
	if err != nil {
		return fmt.Errorf("update action item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return postmortems.ErrActionItemNotFound
	}
	return nil
}

func scanActionItem(row pgx.Row) (*domain.ActionItem, error) {
	var item domain.ActionItem
	err := row.Scan(
		&item.ID,
		&item.PostmortemID,
		&item.Title,
		&item.OwnerName,
		&item.DueDate,
		&item.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan action item: %w", err)
	}
	return &item, nil
}
