package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"qx-indexer/internal/domain"
	"qx-indexer/internal/storage"
)

// WebhookStore implements storage.WebhookStore using PostgreSQL.
// The events set is stored as a text array.
type WebhookStore struct {
	pool *Pool
}

// NewWebhookStore creates a new WebhookStore.
func NewWebhookStore(pool *Pool) *WebhookStore {
	return &WebhookStore{pool: pool}
}

var _ storage.WebhookStore = (*WebhookStore)(nil)

const webhookColumns = `id, url, secret, events, active, created_at`

// Create adds a subscription.
func (s *WebhookStore) Create(ctx context.Context, w *domain.WebhookSubscription) error {
	if w == nil || w.ID == "" || w.URL == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO webhooks (id, url, secret, events, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.pool.Exec(ctx, query, w.ID, w.URL, w.Secret, w.Events, w.Active, w.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

// Get retrieves a subscription by id.
func (s *WebhookStore) Get(ctx context.Context, id string) (*domain.WebhookSubscription, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE id = $1`
	w, err := scanWebhook(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	return w, nil
}

// Update replaces a subscription.
func (s *WebhookStore) Update(ctx context.Context, w *domain.WebhookSubscription) error {
	if w == nil || w.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE webhooks
		SET url = $2, secret = $3, events = $4, active = $5
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, w.ID, w.URL, w.Secret, w.Events, w.Active)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete removes a subscription.
func (s *WebhookStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List retrieves all subscriptions ordered by creation time.
func (s *WebhookStore) List(ctx context.Context) ([]*domain.WebhookSubscription, error) {
	return s.list(ctx, `SELECT `+webhookColumns+` FROM webhooks ORDER BY created_at, id`)
}

// ActiveForEvent lists active subscriptions covering an event name.
func (s *WebhookStore) ActiveForEvent(ctx context.Context, event string) ([]*domain.WebhookSubscription, error) {
	query := `
		SELECT ` + webhookColumns + `
		FROM webhooks
		WHERE active AND $1 = ANY(events)
		ORDER BY created_at, id
	`
	rows, err := s.pool.Query(ctx, query, event)
	if err != nil {
		return nil, fmt.Errorf("list webhooks for event: %w", err)
	}
	defer rows.Close()
	return scanWebhooks(rows)
}

func (s *WebhookStore) list(ctx context.Context, query string) ([]*domain.WebhookSubscription, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()
	return scanWebhooks(rows)
}

func scanWebhook(row pgx.Row) (*domain.WebhookSubscription, error) {
	var w domain.WebhookSubscription
	if err := row.Scan(&w.ID, &w.URL, &w.Secret, &w.Events, &w.Active, &w.CreatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func scanWebhooks(rows pgx.Rows) ([]*domain.WebhookSubscription, error) {
	var hooks []*domain.WebhookSubscription
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook row: %w", err)
		}
		hooks = append(hooks, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook rows: %w", err)
	}
	return hooks, nil
}
