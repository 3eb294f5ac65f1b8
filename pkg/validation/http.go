package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/case-engine/pkg/apperrors"
	"github.com/ekaya-inc/case-engine/pkg/inventory"
	"github.com/ekaya-inc/case-engine/pkg/models"
	"github.com/ekaya-inc/case-engine/pkg/retry"
)

// DefaultBackendTimeout bounds one stage, retries included.
const DefaultBackendTimeout = 15 * time.Second

// HTTPBackendConfig configures a remote validation service.
type HTTPBackendConfig struct {
	Name          string
	URL           string
	Token         string
	Timeout       time.Duration
	Retry         *retry.Config
	Breaker       retry.BreakerConfig
	RatePerSecond float64
}

// wireRequest is the body sent to a validation service. The draft travels as YAML.
type wireRequest struct {
	Draft            string `json:"draft"`
	ValidateEntities bool   `json:"validate_entities"`
}

type wireResponse struct {
	Valid      bool     `json:"valid"`
	Errors     []string `json:"errors"`
	Warnings   []string `json:"warnings"`
	Score      float64  `json:"score"`
	FixedDraft string   `json:"fixed_draft,omitempty"`
}

// HTTPBackend calls a remote validation service. Transient failures are
// retried; repeated failures trip a circuit breaker so the stage is skipped
// without waiting on a dead service.
type HTTPBackend struct {
	name       string
	url        string
	token      string
	timeout    time.Duration
	retry      *retry.Config
	breaker    *retry.CircuitBreaker
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     *zap.Logger
}

var _ Backend = (*HTTPBackend)(nil)

// NewHTTPBackend creates a remote backend.
func NewHTTPBackend(cfg HTTPBackendConfig, logger *zap.Logger) *HTTPBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBackendTimeout
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultConfig()
	}
	limit, burst := rate.Inf, 1
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		burst = int(math.Max(1, math.Ceil(cfg.RatePerSecond)))
	}
	return &HTTPBackend{
		name:       cfg.Name,
		url:        cfg.URL,
		token:      cfg.Token,
		timeout:    cfg.Timeout,
		retry:      cfg.Retry,
		breaker:    retry.NewCircuitBreaker(cfg.Name, cfg.Breaker),
		limiter:    rate.NewLimiter(limit, burst),
		httpClient: &http.Client{},
		logger:     logger.Named("validation-" + cfg.Name),
	}
}

// Name implements Backend.
func (b *HTTPBackend) Name() string { return b.name }

// Breaker exposes the backend's circuit breaker for health reporting.
func (b *HTTPBackend) Breaker() *retry.CircuitBreaker { return b.breaker }

// Validate implements Backend.
func (b *HTTPBackend) Validate(ctx context.Context, req Request) (*models.ValidationReport, error) {
	if ok, err := b.breaker.Allow(); !ok {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrStageUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	body, err := encodeRequest(req)
	if err != nil {
		// The draft could not be encoded; the service is not at fault.
		b.breaker.RecordSuccess()
		return nil, fmt.Errorf("%w: %w", apperrors.ErrStageUnavailable, err)
	}

	resp, err := retry.DoWithResultIfRetryable(ctx, b.retry, func() (*wireResponse, error) {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return b.call(ctx, body)
	})
	if err != nil {
		b.breaker.RecordFailure()
		b.logger.Warn("Validation service unavailable",
			zap.String("circuit", b.breaker.State().String()),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", apperrors.ErrStageUnavailable, b.name, err)
	}
	b.breaker.RecordSuccess()

	report := &models.ValidationReport{
		Stage:     b.name,
		Valid:     resp.Valid,
		Errors:    resp.Errors,
		Warnings:  resp.Warnings,
		Score:     clampScore(resp.Score),
		CreatedAt: time.Now().UTC(),
	}
	if resp.FixedDraft != "" {
		fixed, err := decodeFixedDraft(resp.FixedDraft, req.Draft)
		if err != nil {
			b.logger.Warn("Ignoring unparseable fixed draft", zap.Error(err))
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s returned a fixed draft that could not be parsed", b.name))
		} else {
			report.FixedDraft = fixed
		}
	}
	return report, nil
}

func (b *HTTPBackend) call(ctx context.Context, body []byte) (*wireResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if b.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", b.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &inventory.StatusError{Service: b.name, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var out wireResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", b.name, err)
	}
	return &out, nil
}

func encodeRequest(req Request) ([]byte, error) {
	draftYAML, err := yaml.Marshal(req.Draft)
	if err != nil {
		return nil, fmt.Errorf("failed to encode draft: %w", err)
	}
	return json.Marshal(wireRequest{Draft: string(draftYAML), ValidateEntities: req.ValidateEntities})
}

// decodeFixedDraft parses a fixed draft and carries over the fields that
// never travel on the wire.
func decodeFixedDraft(doc string, original *models.AutomationDraft) (*models.AutomationDraft, error) {
	var fixed models.AutomationDraft
	if err := yaml.Unmarshal([]byte(doc), &fixed); err != nil {
		return nil, fmt.Errorf("failed to parse fixed draft: %w", err)
	}
	if original != nil {
		fixed.ID = original.ID
		fixed.Entities = append([]models.ResolvedEntity(nil), original.Entities...)
		fixed.Confirmed = original.Confirmed
		fixed.AuditTrail = append([]models.ValidationReport(nil), original.AuditTrail...)
	}
	return &fixed, nil
}

func clampScore(score float64) int {
	return int(math.Round(math.Max(0, math.Min(100, score))))
}
