package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/case-engine/pkg/apperrors"
	"github.com/ekaya-inc/case-engine/pkg/models"
)

// PostgresRegistry stores automations in the automations table.
type PostgresRegistry struct {
	pool   *pgxpool.Pool
	mint   Minter
	logger *zap.Logger
}

var _ Registry = (*PostgresRegistry)(nil)

// NewPostgresRegistry creates a registry backed by pool. A nil minter selects DefaultMinter.
func NewPostgresRegistry(pool *pgxpool.Pool, mint Minter, logger *zap.Logger) *PostgresRegistry {
	if mint == nil {
		mint = DefaultMinter
	}
	return &PostgresRegistry{pool: pool, mint: mint, logger: logger.Named("registry")}
}

// Create implements Registry.
func (r *PostgresRegistry) Create(ctx context.Context, draft *models.AutomationDraft, forceNew bool, existingID string) (*Result, error) {
	if err := validateDraft(draft); err != nil {
		return nil, err
	}
	doc, err := json.Marshal(draft)
	if err != nil {
		return nil, writeFailed("the draft could not be encoded", err)
	}
	entityIDs := draft.EntityIDs()
	if entityIDs == nil {
		entityIDs = []string{}
	}

	if !forceNew {
		return r.redeploy(ctx, draft, doc, entityIDs, existingID)
	}

	id := existingID
	if id == "" {
		id = r.mint(draft.Alias, time.Now())
	}
	for attempt := 0; ; attempt++ {
		var version int
		err := r.pool.QueryRow(ctx, `
			INSERT INTO automations (automation_id, alias, version, draft_id, draft, entity_ids, created_at, updated_at)
			VALUES ($1, $2, 1, $3, $4, $5, now(), now())
			ON CONFLICT (automation_id) DO NOTHING
			RETURNING version`,
			id, draft.Alias, draft.ID, doc, entityIDs,
		).Scan(&version)
		if err == nil {
			r.logger.Info("Automation created",
				zap.String("automation_id", id),
				zap.String("alias", draft.Alias))
			return &Result{AutomationID: id, Version: version}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			r.logger.Error("Registry insert failed", zap.String("automation_id", id), zap.Error(err))
			return nil, writeFailed("the automation could not be stored", err)
		}
		if attempt >= maxMintAttempts {
			return nil, writeFailed("could not mint a unique automation id", apperrors.ErrConflict)
		}
		r.logger.Warn("Automation id collision, minting a new one", zap.String("automation_id", id))
		id = r.mint(draft.Alias, time.Now())
	}
}

func (r *PostgresRegistry) redeploy(ctx context.Context, draft *models.AutomationDraft, doc []byte, entityIDs []string, existingID string) (*Result, error) {
	if err := redeployTarget(existingID); err != nil {
		return nil, err
	}

	var version int
	err := r.pool.QueryRow(ctx, `
		UPDATE automations
		SET version = version + 1, alias = $2, draft_id = $3, draft = $4, entity_ids = $5, updated_at = now()
		WHERE automation_id = $1
		RETURNING version`,
		existingID, draft.Alias, draft.ID, doc, entityIDs,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(existingID)
	}
	if err != nil {
		r.logger.Error("Registry update failed", zap.String("automation_id", existingID), zap.Error(err))
		return nil, writeFailed("the automation could not be redeployed", err)
	}

	r.logger.Info("Automation redeployed",
		zap.String("automation_id", existingID),
		zap.Int("version", version))
	return &Result{AutomationID: existingID, Version: version}, nil
}

const selectAutomations = `
	SELECT automation_id, alias, version, draft_id, draft, entity_ids, created_at, updated_at
	FROM automations`

// Get implements Registry.
func (r *PostgresRegistry) Get(ctx context.Context, automationID string) (*models.DeployedAutomation, error) {
	rows, err := r.pool.Query(ctx, selectAutomations+` WHERE automation_id = $1`, automationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query automation: %w", err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAutomation)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("automation %s: %w", automationID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan automation: %w", err)
	}
	return &a, nil
}

// List implements Registry. Automations are ordered by creation time.
func (r *PostgresRegistry) List(ctx context.Context) ([]models.DeployedAutomation, error) {
	rows, err := r.pool.Query(ctx, selectAutomations+` ORDER BY created_at, automation_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list automations: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanAutomation)
	if err != nil {
		return nil, fmt.Errorf("failed to scan automations: %w", err)
	}
	return out, nil
}

func scanAutomation(row pgx.CollectableRow) (models.DeployedAutomation, error) {
	var a models.DeployedAutomation
	var doc []byte
	if err := row.Scan(&a.AutomationID, &a.Alias, &a.Version, &a.DraftID, &doc, &a.EntityIDs, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return a, err
	}
	var draft models.AutomationDraft
	if err := json.Unmarshal(doc, &draft); err != nil {
		return a, fmt.Errorf("failed to decode draft of %s: %w", a.AutomationID, err)
	}
	a.Draft = &draft
	return a, nil
}
