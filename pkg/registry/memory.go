package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/case-engine/pkg/apperrors"
	"github.com/ekaya-inc/case-engine/pkg/models"
)

// MemoryRegistry keeps automations in process. It backs the engine when no
// database is configured.
type MemoryRegistry struct {
	mu          sync.RWMutex
	automations map[string]*models.DeployedAutomation
	mint        Minter
	now         func() time.Time
	logger      *zap.Logger
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates an empty registry. A nil minter selects DefaultMinter.
func NewMemoryRegistry(mint Minter, logger *zap.Logger) *MemoryRegistry {
	if mint == nil {
		mint = DefaultMinter
	}
	return &MemoryRegistry{
		automations: make(map[string]*models.DeployedAutomation),
		mint:        mint,
		now:         time.Now,
		logger:      logger.Named("registry"),
	}
}

// Create implements Registry.
func (r *MemoryRegistry) Create(ctx context.Context, draft *models.AutomationDraft, forceNew bool, existingID string) (*Result, error) {
	if err := validateDraft(draft); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, writeFailed("the registry write was cancelled", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	if !forceNew {
		if err := redeployTarget(existingID); err != nil {
			return nil, err
		}
		existing, ok := r.automations[existingID]
		if !ok {
			return nil, notFound(existingID)
		}
		existing.Version++
		existing.Alias = draft.Alias
		existing.DraftID = draft.ID
		existing.Draft = draft.Clone()
		existing.EntityIDs = draft.EntityIDs()
		existing.UpdatedAt = now
		r.logger.Info("Automation redeployed",
			zap.String("automation_id", existingID),
			zap.Int("version", existing.Version))
		return &Result{AutomationID: existingID, Version: existing.Version}, nil
	}

	id := existingID
	for attempt := 0; ; attempt++ {
		if id != "" {
			if _, taken := r.automations[id]; !taken {
				break
			}
		}
		if attempt >= maxMintAttempts {
			return nil, writeFailed("could not mint a unique automation id", apperrors.ErrConflict)
		}
		id = r.mint(draft.Alias, now)
	}

	r.automations[id] = &models.DeployedAutomation{
		AutomationID: id,
		Alias:        draft.Alias,
		Version:      1,
		DraftID:      draft.ID,
		Draft:        draft.Clone(),
		EntityIDs:    draft.EntityIDs(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.logger.Info("Automation created",
		zap.String("automation_id", id),
		zap.String("alias", draft.Alias))
	return &Result{AutomationID: id, Version: 1}, nil
}

// Get implements Registry.
func (r *MemoryRegistry) Get(_ context.Context, automationID string) (*models.DeployedAutomation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.automations[automationID]
	if !ok {
		return nil, fmt.Errorf("automation %s: %w", automationID, apperrors.ErrNotFound)
	}
	c := *a
	c.Draft = a.Draft.Clone()
	c.EntityIDs = append([]string(nil), a.EntityIDs...)
	return &c, nil
}

// List implements Registry. Automations are ordered by creation time.
func (r *MemoryRegistry) List(_ context.Context) ([]models.DeployedAutomation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.DeployedAutomation, 0, len(r.automations))
	for _, a := range r.automations {
		c := *a
		c.Draft = a.Draft.Clone()
		c.EntityIDs = append([]string(nil), a.EntityIDs...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].AutomationID < out[j].AutomationID
	})
	return out, nil
}
