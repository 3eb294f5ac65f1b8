// Package validation runs automation drafts through an ordered chain of
// validator backends, ending with a local structural check that is always available.
package validation

import (
	"context"

	"github.com/ekaya-inc/case-engine/pkg/models"
)

// Request is one validation call for a single stage.
type Request struct {
	Draft            *models.AutomationDraft
	ValidateEntities bool
}

// Backend is one stage of the chain. An error means the stage could not
// produce a report (unreachable, timed out, circuit open); a draft that fails
// validation is reported with Valid=false and a nil error.
type Backend interface {
	Name() string
	Validate(ctx context.Context, req Request) (*models.ValidationReport, error)
}
