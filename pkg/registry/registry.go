// Package registry creates and redeploys automations in the automation registry.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/ekaya-inc/case-engine/pkg/apperrors"
	"github.com/ekaya-inc/case-engine/pkg/models"
	"github.com/ekaya-inc/case-engine/pkg/preview"
)

// maxMintAttempts bounds re-minting after an identifier collision.
const maxMintAttempts = 3

// Result is the registry's answer to a create or redeploy.
type Result struct {
	AutomationID string `json:"automation_id"`
	Version      int    `json:"version"`
}

// Registry stores deployed automations.
//
// Create with forceNew=true always stores a new automation: existingID is
// only a candidate identifier and a fresh one is minted if it is taken.
// Create with forceNew=false redeploys existingID in place, bumping its version.
type Registry interface {
	Create(ctx context.Context, draft *models.AutomationDraft, forceNew bool, existingID string) (*Result, error)
	Get(ctx context.Context, automationID string) (*models.DeployedAutomation, error)
	List(ctx context.Context) ([]models.DeployedAutomation, error)
}

// Minter produces a new automation identifier for an alias.
type Minter func(alias string, now time.Time) string

// DefaultMinter is preview.NewAutomationID.
var DefaultMinter Minter = preview.NewAutomationID

func writeFailed(reason string, cause error) error {
	return apperrors.Wrap(apperrors.KindRegistryWriteFailed, reason, cause)
}

func validateDraft(draft *models.AutomationDraft) error {
	if draft == nil {
		return apperrors.New(apperrors.KindRegistryWriteFailed, "no draft to write")
	}
	return nil
}

func redeployTarget(existingID string) error {
	if existingID == "" {
		return apperrors.New(apperrors.KindRegistryWriteFailed, "an automation_id is required to redeploy")
	}
	return nil
}

func notFound(automationID string) error {
	return writeFailed(fmt.Sprintf("automation %s does not exist", automationID), apperrors.ErrNotFound)
}
