// Package telemetry fetches raw readings from the remote Zentry API instead
// of a database. It is a source-only adapter: persistence operations report
// an unsupported-operation AdapterIOError.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"zentry-anomalies/internal/domain"
	"zentry-anomalies/internal/ports"
)

// Client talks to the Zentry readings endpoint.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

var _ ports.Repository = (*Client)(nil)

// NewClient creates a reusable HTTP client. A zero timeout defaults to 30s.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type readingPayload struct {
	EntityID   string             `json:"entity_id"`
	Timestamp  time.Time          `json:"timestamp"`
	Quantities map[string]float64 `json:"quantities"`
	Source     string             `json:"source"`
}

type readingsResponse struct {
	Readings []readingPayload `json:"readings"`
}

// FetchRaw requests the ordered reading sequence for the selector. Rows
// missing an entity id or timestamp are skipped with a warning, matching the
// upstream feed's occasional incomplete records.
func (c *Client) FetchRaw(ctx context.Context, sel ports.Selector) ([]domain.RawReading, error) {
	endpoint, err := c.buildURL(sel)
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.AdapterIOError{Op: "fetch readings", Kind: domain.IOConnection, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &domain.AdapterIOError{
			Op: "fetch readings", Kind: domain.IOAuth,
			Err: fmt.Errorf("status %s", resp.Status),
		}
	case http.StatusTooManyRequests:
		return nil, &domain.AdapterIOError{
			Op: "fetch readings", Kind: domain.IORateLimit,
			Err: fmt.Errorf("status %s", resp.Status),
		}
	default:
		return nil, &domain.AdapterIOError{
			Op: "fetch readings", Kind: domain.IOConnection,
			Err: fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var payload readingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	readings := make([]domain.RawReading, 0, len(payload.Readings))
	for i, item := range payload.Readings {
		if item.EntityID == "" || item.Timestamp.IsZero() {
			c.warn("skipping incomplete reading", "index", i)
			continue
		}
		source := item.Source
		if source == "" {
			source = "zentry-api"
		}
		readings = append(readings, domain.RawReading{
			EntityID:   item.EntityID,
			Timestamp:  item.Timestamp,
			Quantities: item.Quantities,
			Source:     source,
			Seq:        int64(i), // response order is arrival order
		})
	}
	return readings, nil
}

// SaveModel is not supported by the API source.
func (c *Client) SaveModel(ctx context.Context, model domain.ClusterModel) (string, error) {
	return "", unsupported("save model")
}

// LoadLatestModel is not supported by the API source.
func (c *Client) LoadLatestModel(ctx context.Context) (domain.ClusterModel, error) {
	return domain.ClusterModel{}, unsupported("load model")
}

// SaveVerdicts is not supported by the API source.
func (c *Client) SaveVerdicts(ctx context.Context, verdicts []domain.AnomalyVerdict) (int, error) {
	return 0, unsupported("save verdicts")
}

func (c *Client) buildURL(sel ports.Selector) (string, error) {
	u, err := url.Parse(c.baseURL + "/readings")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("from", sel.From.UTC().Format(time.RFC3339))
	q.Set("to", sel.To.UTC().Format(time.RFC3339))
	if len(sel.EntityIDs) > 0 {
		q.Set("entities", strings.Join(sel.EntityIDs, ","))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func unsupported(op string) error {
	return &domain.AdapterIOError{
		Op: op, Kind: domain.IOUnsupported,
		Err: fmt.Errorf("telemetry API adapter is a read-only source"),
	}
}

func (c *Client) warn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
