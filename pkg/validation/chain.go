package validation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/case-engine/pkg/config"
	"github.com/ekaya-inc/case-engine/pkg/models"
	"github.com/ekaya-inc/case-engine/pkg/retry"
)

// ChainStageName is the stage recorded on aggregated reports.
const ChainStageName = "chain"

// Chain runs backends in priority order and always finishes with the local
// structural check. Each stage sees the fixed draft of the stage before it.
type Chain struct {
	backends []Backend
	logger   *zap.Logger
}

// NewChain builds a chain from the given remote backends, in order. The
// local backend is appended as the final stage.
func NewChain(logger *zap.Logger, backends ...Backend) *Chain {
	stages := make([]Backend, 0, len(backends)+1)
	for _, b := range backends {
		if b != nil {
			stages = append(stages, b)
		}
	}
	stages = append(stages, NewLocalBackend())
	return &Chain{backends: stages, logger: logger.Named("validation")}
}

// NewChainFromConfig builds the chain semantic service → registry service →
// local. Backends without a URL are left out.
func NewChainFromConfig(cfg config.ValidationConfig, logger *zap.Logger) *Chain {
	var backends []Backend
	for _, stage := range []struct {
		name string
		cfg  config.BackendConfig
	}{
		{"semantic", cfg.Semantic},
		{"registry", cfg.Registry},
	} {
		if stage.cfg.URL == "" {
			continue
		}
		retryCfg := retry.DefaultConfig()
		retryCfg.MaxRetries = stage.cfg.MaxRetries
		backends = append(backends, NewHTTPBackend(HTTPBackendConfig{
			Name:    stage.name,
			URL:     stage.cfg.URL,
			Token:   stage.cfg.Token,
			Timeout: stage.cfg.Timeout,
			Retry:   retryCfg,
			Breaker: retry.BreakerConfig{
				Threshold:  stage.cfg.BreakerThreshold,
				ResetAfter: stage.cfg.BreakerReset,
			},
			RatePerSecond: stage.cfg.RatePerSecond,
		}, logger))
	}
	return NewChain(logger, backends...)
}

// Stages returns the stage names in execution order.
func (c *Chain) Stages() []string {
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.Name()
	}
	return names
}

// Backends returns the configured stages in execution order.
func (c *Chain) Backends() []Backend {
	return append([]Backend(nil), c.backends...)
}

// Validate runs every stage and aggregates their reports. It returns the
// aggregate report and the final draft (with every auto-fix applied and each
// stage report appended to its audit trail). It never returns without a report.
func (c *Chain) Validate(ctx context.Context, draft *models.AutomationDraft, validateEntities bool) (*models.ValidationReport, *models.AutomationDraft) {
	current := draft.Clone()
	agg := &aggregator{}

	for _, backend := range c.backends {
		start := time.Now()
		report, err := backend.Validate(ctx, Request{Draft: current, ValidateEntities: validateEntities})
		if err != nil || report == nil {
			c.logger.Warn("Validation stage skipped",
				zap.String("stage", backend.Name()),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
			agg.skip(backend.Name())
			continue
		}

		c.logger.Debug("Validation stage finished",
			zap.String("stage", backend.Name()),
			zap.Bool("valid", report.Valid),
			zap.Int("score", report.Score),
			zap.Int("errors", len(report.Errors)),
			zap.Bool("fixed", report.FixedDraft != nil),
			zap.Duration("elapsed", time.Since(start)))

		if report.FixedDraft != nil {
			current = report.FixedDraft.Clone()
		}
		agg.add(backend.Name(), report)
		if current != nil {
			trail := *report
			trail.FixedDraft = nil
			current.AuditTrail = append(current.AuditTrail, trail)
		}
	}

	final := agg.report()
	if current != nil {
		trail := *final
		current.AuditTrail = append(current.AuditTrail, trail)
	}
	if final.Degraded {
		c.logger.Warn("Validation ran degraded",
			zap.Strings("skipped", final.SkippedStages),
			zap.Strings("executed", final.ExecutedStages))
	}
	return final, current
}

// aggregator combines stage reports: validity is the AND and score the
// minimum of executed stages; warnings are unioned; errors are unioned and
// de-duplicated by normalized text.
type aggregator struct {
	executed    []string
	skipped     []string
	invalid     bool
	score       int
	errors      []string
	errorKeys   map[string]bool
	warnings    []string
	warningKeys map[string]bool
}

func (a *aggregator) skip(stage string) {
	a.skipped = append(a.skipped, stage)
}

func (a *aggregator) add(stage string, r *models.ValidationReport) {
	if len(a.executed) == 0 || r.Score < a.score {
		a.score = r.Score
	}
	a.executed = append(a.executed, stage)
	if !r.Valid {
		a.invalid = true
	}
	for _, e := range r.Errors {
		a.errors, a.errorKeys = appendUnique(a.errors, a.errorKeys, e)
	}
	for _, w := range r.Warnings {
		a.warnings, a.warningKeys = appendUnique(a.warnings, a.warningKeys, w)
	}
}

func (a *aggregator) report() *models.ValidationReport {
	r := &models.ValidationReport{
		Stage:          ChainStageName,
		Valid:          !a.invalid && len(a.executed) > 0,
		Errors:         a.errors,
		Warnings:       a.warnings,
		Score:          a.score,
		Degraded:       len(a.skipped) > 0,
		ExecutedStages: a.executed,
		SkippedStages:  a.skipped,
		CreatedAt:      time.Now().UTC(),
	}
	if r.Errors == nil {
		r.Errors = []string{}
	}
	for _, s := range a.skipped {
		r.Warnings = append(r.Warnings, fmt.Sprintf("validation stage %s was unavailable and skipped", s))
	}
	if r.Warnings == nil {
		r.Warnings = []string{}
	}
	return r
}

func appendUnique(list []string, keys map[string]bool, msg string) ([]string, map[string]bool) {
	if keys == nil {
		keys = make(map[string]bool)
	}
	key := normalizeMessage(msg)
	if key == "" || keys[key] {
		return list, keys
	}
	keys[key] = true
	return append(list, msg), keys
}

// normalizeMessage folds case, whitespace and trailing punctuation.
func normalizeMessage(msg string) string {
	return strings.TrimRight(strings.ToLower(strings.Join(strings.Fields(msg), " ")), ".!;:")
}
