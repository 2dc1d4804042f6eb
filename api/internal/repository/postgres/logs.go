package postgres

import (
	"context"

	"github.com/Sid-Lais/cloudara/api/internal/domain"
)

// AppendLog persists a log line.
func (r *Repository) AppendLog(ctx context.Context, event domain.LogEvent) error {
	const query = `INSERT INTO log_events (event_id, deployment_id, message, logged_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, event.EventID, event.DeploymentID, event.Message, event.Timestamp)
	return mapError(err)
}

// ListLogsByDeployment returns a deployment's log lines in insertion order.
func (r *Repository) ListLogsByDeployment(ctx context.Context, deploymentID string) ([]domain.LogEvent, error) {
	const query = `SELECT event_id, deployment_id, message, logged_at
		FROM log_events WHERE deployment_id = $1 ORDER BY seq`
	rows, err := r.pool.Query(ctx, query, deploymentID)
	if err != nil {
		return nil, mapLookupError(err)
	}
	defer rows.Close()

	events := make([]domain.LogEvent, 0)
	for rows.Next() {
		var e domain.LogEvent
		if err := rows.Scan(&e.EventID, &e.DeploymentID, &e.Message, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapLookupError(err)
	}
	return events, nil
}
