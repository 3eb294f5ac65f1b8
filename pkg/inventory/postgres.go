package inventory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/case-engine/pkg/models"
)

// PostgresSource reads the inventory from the inventory_entities table.
type PostgresSource struct {
	pool *pgxpool.Pool
}

var _ Source = (*PostgresSource)(nil)

// NewPostgresSource creates a source backed by pool.
func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

// Name implements Source.
func (s *PostgresSource) Name() string { return "postgres" }

// Fetch implements Source.
func (s *PostgresSource) Fetch(ctx context.Context, query models.InventoryQuery) ([]models.InventoryEntity, error) {
	sql := `
		SELECT entity_id, friendly_name, area, domain, position_in_group,
		       COALESCE(device_class, ''), COALESCE(description, '')
		FROM inventory_entities
		WHERE ($1 = '' OR lower(area) = lower($1))
		  AND ($2 = '' OR lower(domain) = lower($2))
		ORDER BY area, domain, position_in_group, entity_id`

	rows, err := s.pool.Query(ctx, sql, query.AreaHint, query.DomainHint)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", err)
	}

	entities, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.InventoryEntity, error) {
		var e models.InventoryEntity
		err := row.Scan(&e.EntityID, &e.FriendlyName, &e.Area, &e.Domain,
			&e.PositionInGroup, &e.DeviceClass, &e.Description)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan inventory: %w", err)
	}
	return entities, nil
}

// Upsert inserts or replaces inventory rows. Used to seed the table.
func (s *PostgresSource) Upsert(ctx context.Context, entities []models.InventoryEntity) error {
	batch := &pgx.Batch{}
	for _, e := range entities {
		batch.Queue(`
			INSERT INTO inventory_entities
				(entity_id, friendly_name, area, domain, position_in_group, device_class, description, updated_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), now())
			ON CONFLICT (entity_id) DO UPDATE SET
				friendly_name = EXCLUDED.friendly_name,
				area = EXCLUDED.area,
				domain = EXCLUDED.domain,
				position_in_group = EXCLUDED.position_in_group,
				device_class = EXCLUDED.device_class,
				description = EXCLUDED.description,
				updated_at = now()`,
			e.EntityID, e.FriendlyName, e.Area, e.Domain, e.PositionInGroup, e.DeviceClass, e.Description)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := range entities {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert inventory entity %d: %w", i, err)
		}
	}
	return nil
}
