// Package postgres provides the PostgreSQL implementation of the incidents
// repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/statusbeacon/statusbeacon/internal/domain"
	"github.com/statusbeacon/statusbeacon/internal/incidents"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements incidents.Repository using PostgreSQL.
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

// q returns the transaction handle when present, the pool otherwise.
func (r *Repository) q(t incidents.Tx) querier {
	if t == nil {
		return r.db
	}
	return t.(tx).Tx
}

const incidentColumns = `id, title, summary, severity, status, is_public, created_by_name, created_at, updated_at, resolved_at`

// CreateIncidentTx inserts a new incident.
func (r *Repository) CreateIncidentTx(ctx context.Context, t incidents.Tx, incident *domain.Incident) error {
	query := `
		INSERT INTO incidents (title, summary, severity, status, is_public, created_by_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := r.q(t).QueryRow(ctx, query,
		incident.Title,
		incident.Summary,
		incident.Severity,
		incident.Status,
		incident.IsPublic,
		incident.CreatedBy,
	).Scan(&incident.ID, &incident.CreatedAt, &incident.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// UpdateIncidentTx persists the mutable incident fields.
func (r *Repository) UpdateIncidentTx(ctx context.Context, t incidents.Tx, incident *domain.Incident) error {
	query := `
		UPDATE incidents
		SET title = $2, summary = $3, severity = $4, status = $5,
		    is_public = $6, updated_at = $7, resolved_at = $8
		WHERE id = $1
	`
	tag, err := r.q(t).Exec(ctx, query,
		incident.ID,
		incident.Title,
		incident.Summary,
		incident.Severity,
		incident.Status,
		incident.IsPublic,
		incident.UpdatedAt,
		incident.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return incidents.ErrIncidentNotFound
	}
	return nil
}

// GetIncident retrieves an incident by ID.
func (r *Repository) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`

	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return incident, nil
}

// ListIncidents retrieves all incidents, newest first.
func (r *Repository) ListIncidents(ctx context.Context) ([]*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents ORDER BY created_at DESC`
	return r.queryIncidents(ctx, query)
}

// ListActivePublicIncidents retrieves unresolved public incidents. It backs
// the public status page payload.
func (r *Repository) ListActivePublicIncidents(ctx context.Context) ([]*domain.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE is_public AND status <> $1
		ORDER BY created_at DESC
	`
	return r.queryIncidents(ctx, query, domain.StatusResolved)
}

// GetPublicIncident retrieves a public incident by ID. Internal incidents
// are reported as not found.
func (r *Repository) GetPublicIncident(ctx context.Context, id string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1 AND is_public`

	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get public incident: %w", err)
	}
	return incident, nil
}

func (r *Repository) queryIncidents(ctx context.Context, query string, args ...any) ([]*domain.Incident, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		result = append(result, incident)
	}
	return result, rows.Err()
}

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var incident domain.Incident
	err := row.Scan(
		&incident.ID,
		&incident.Title,
		&incident.Summary,
		&incident.Severity,
		&incident.Status,
		&incident.IsPublic,
		&incident.CreatedBy,
		&incident.CreatedAt,
		&incident.UpdatedAt,
		&incident.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &incident, nil
}

// CreateUpdateTx inserts an incident timeline update.
func (r *Repository) CreateUpdateTx(ctx context.Context, t incidents.Tx, update *domain.IncidentUpdate) error {
	query := `
		INSERT INTO incident_updates (incident_id, message, status_at_time, created_by_name)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := r.q(t).QueryRow(ctx, query,
		update.IncidentID,
		update.Message,
		update.StatusAtTime,
		update.CreatedBy,
	).Scan(&update.ID, &update.CreatedAt)
	if err != nil {
		return fmt.Errorf("create incident update: %w", err)
	}
	return nil
}

// ListUpdates retrieves the updates of an incident, newest first.
func (r *Repository) ListUpdates(ctx context.Context, incidentID string) ([]*domain.IncidentUpdate, error) {
	query := `
		SELECT id, incident_id, message, status_at_time, created_by_name, created_at
		FROM incident_updates
		WHERE incident_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list incident updates: %w", err)
	}
	defer rows.Close()

	updates := make([]*domain.IncidentUpdate, 0)
	for rows.Next() {
		var update domain.IncidentUpdate
		err := rows.Scan(
			&update.ID,
			&update.IncidentID,
			&update.Message,
			&update.StatusAtTime,
			&update.CreatedBy,
			&update.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan incident update: %w", err)
		}
		updates = append(updates, &update)
	}
	return updates, rows.Err()
}

// CreateAuditEventTx appends an audit log entry.
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
	err = r.q(t).QueryRow(ctx, query,
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

// ListAuditEvents retrieves the most recent audit entries.
func (r *Repository) ListAuditEvents(ctx context.Context, limit int) ([]*domain.AuditEvent, error) {
	query := `
		SELECT id, actor_name, action, incident_id, metadata, created_at
		FROM audit_events
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*domain.AuditEvent, 0)
	for rows.Next() {
		var event domain.AuditEvent
		var metadata []byte
		err := rows.Scan(
			&event.ID,
			&event.ActorName,
			&event.Action,
			&event.IncidentID,
			&metadata,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

// AverageResolutionHours computes MTTR over resolved incidents, rounded to
// two decimals. Returns nil when nothing has been resolved yet.
func (r *Repository) AverageResolutionHours(ctx context.Context) (*float64, error) {
	query := `
		SELECT ROUND(AVG(EXTRACT(EPOCH FROM resolved_at - created_at) / 3600)::numeric, 2)
		FROM incidents
		WHERE resolved_at IS NOT NULL
	`
	var mttr *float64
	if err := r.db.QueryRow(ctx, query).Scan(&mttr); err != nil {
		return nil, fmt.Errorf("average resolution hours: %w", err)
	}
	return mttr, nil
}

// CountActive counts unresolved incidents.
func (r *Repository) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM incidents WHERE status <> $1`,
		domain.StatusResolved,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active incidents: %w", err)
	}
	return count, nil
}

// CountResolvedSince counts incidents resolved at or after the given time.
func (r *Repository) CountResolvedSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM incidents WHERE resolved_at IS NOT NULL AND resolved_at >= $1`,
		since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count resolved incidents: %w", err)
	}
	return count, nil
}

// CountBySeverity counts incidents per severity.
func (r *Repository) CountBySeverity(ctx context.Context) (map[domain.Severity]int, error) {
	rows, err := r.db.Query(ctx, `SELECT severity, COUNT(*) FROM incidents GROUP BY severity`)
	if err != nil {
		return nil, fmt.Errorf("count by severity: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Severity]int, len(domain.Severities))
	for rows.Next() {
		var severity domain.Severity
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("scan severity count: %w", err)
		}
		counts[severity] = count
	}
	return counts, rows.Err()
}
