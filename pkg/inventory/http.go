package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/case-engine/pkg/models"
)

// DefaultHTTPTimeout bounds a single inventory request.
const DefaultHTTPTimeout = 10 * time.Second

// StatusError is a non-200 response from a remote service.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Body)
}

// IsRetryable implements retry.RetryableError: 429 and 5xx are transient.
func (e *StatusError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// HTTPSource queries a remote inventory service with POST {area_hint?, domain_hint?}.
type HTTPSource struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource creates a source for the inventory endpoint at url.
func NewHTTPSource(url, token string, logger *zap.Logger) *HTTPSource {
	return &HTTPSource{
		url:   url,
		token: token,
		httpClient: &http.Client{
			Timeout: DefaultHTTPTimeout,
		},
		logger: logger.Named("inventory-http"),
	}
}

// Name implements Source.
func (s *HTTPSource) Name() string { return "http" }

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context, query models.InventoryQuery) ([]models.InventoryEntity, error) {
	payload, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to encode inventory query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	s.logger.Debug("Querying inventory",
		zap.String("area_hint", query.AreaHint),
		zap.String("domain_hint", query.DomainHint))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call inventory service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		s.logger.Error("Inventory service returned error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return nil, &StatusError{Service: "inventory service", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var entities []models.InventoryEntity
	if err := json.Unmarshal(body, &entities); err != nil {
		return nil, fmt.Errorf("failed to parse inventory response: %w", err)
	}
	for i := range entities {
		if entities[i].Domain == "" {
			entities[i].Domain = domainOf(entities[i].EntityID)
		}
	}
	return entities, nil
}
