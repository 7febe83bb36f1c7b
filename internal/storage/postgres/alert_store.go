package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"qx-indexer/internal/domain"
	"qx-indexer/internal/storage"
)

// AlertStore implements storage.AlertStore using PostgreSQL.
// Conditions and actions are stored as JSONB.
type AlertStore struct {
	pool *Pool
}

// NewAlertStore creates a new AlertStore.
func NewAlertStore(pool *Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

var _ storage.AlertStore = (*AlertStore)(nil)

const alertColumns = `
	id, name, event_type, conditions, actions, active,
	last_triggered, trigger_count, created_at
`

// Create adds an alert definition.
func (s *AlertStore) Create(ctx context.Context, a *domain.Alert) error {
	if a == nil || a.ID == "" {
		return storage.ErrInvalidInput
	}

	conditions, actions, err := marshalAlertJSON(a)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO alerts (
			id, name, event_type, conditions, actions, active,
			last_triggered, trigger_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.pool.Exec(ctx, query,
		a.ID, a.Name, a.EventType, conditions, actions, a.Active,
		a.LastTriggered, a.TriggerCount, a.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// Get retrieves an alert by id.
func (s *AlertStore) Get(ctx context.Context, id string) (*domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	a, err := scanAlert(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

// Update replaces an alert definition.
func (s *AlertStore) Update(ctx context.Context, a *domain.Alert) error {
	if a == nil || a.ID == "" {
		return storage.ErrInvalidInput
	}

	conditions, actions, err := marshalAlertJSON(a)
	if err != nil {
		return err
	}

	query := `
		UPDATE alerts
		SET name = $2, event_type = $3, conditions = $4, actions = $5, active = $6
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, a.ID, a.Name, a.EventType, conditions, actions, a.Active)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete removes an alert.
func (s *AlertStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alerts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List retrieves all alerts ordered by creation time.
func (s *AlertStore) List(ctx context.Context) ([]*domain.Alert, error) {
	return s.list(ctx, `SELECT `+alertColumns+` FROM alerts ORDER BY created_at, id`)
}

// ListActive retrieves active alerts ordered by creation time.
func (s *AlertStore) ListActive(ctx context.Context) ([]*domain.Alert, error) {
	return s.list(ctx, `SELECT `+alertColumns+` FROM alerts WHERE active ORDER BY created_at, id`)
}

func (s *AlertStore) list(ctx context.Context, query string) ([]*domain.Alert, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert rows: %w", err)
	}
	return alerts, nil
}

// MarkTriggered sets last_triggered and increments trigger_count.
func (s *AlertStore) MarkTriggered(ctx context.Context, id string, at int64) error {
	query := `
		UPDATE alerts
		SET last_triggered = $2, trigger_count = trigger_count + 1
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("mark alert triggered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func marshalAlertJSON(a *domain.Alert) (conditions, actions []byte, err error) {
	conditions, err = json.Marshal(a.Conditions)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal alert conditions: %w", err)
	}
	actions, err = json.Marshal(a.Actions)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal alert actions: %w", err)
	}
	return conditions, actions, nil
}

func scanAlert(row pgx.Row) (*domain.Alert, error) {
	var a domain.Alert
	var conditions, actions []byte

	err := row.Scan(
		&a.ID, &a.Name, &a.EventType, &conditions, &actions, &a.Active,
		&a.LastTriggered, &a.TriggerCount, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(conditions, &a.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshal alert conditions: %w", err)
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &a.Actions); err != nil {
			return nil, fmt.Errorf("unmarshal alert actions: %w", err)
		}
	}
	return &a, nil
}
