package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/hookd/internal/model"
)

// HTTPClient implements AdminClient using the hookd HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Deliveries ---

func (c *HTTPClient) ListDeliveries(ctx context.Context, req *ListDeliveriesRequest) (*Page[model.DeliveryRow], error) {
	q := url.Values{}
	if req.SubscriptionID != "" {
		q.Set("subscription_id", req.SubscriptionID)
	}
	if len(req.Status) > 0 {
		parts := make([]string, len(req.Status))
		for i, s := range req.Status {
			parts[i] = string(s)
		}
		q.Set("status", strings.Join(parts, ","))
	}
	setInt(q, "delivery_id", req.DeliveryID)
	setInt(q, "cursor", req.Cursor)
	setInt(q, "limit", int64(req.Limit))

	var resp Page[model.DeliveryRow]
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/deliveries", q), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) GetDelivery(ctx context.Context, id int64) (*model.Delivery, error) {
	var d model.Delivery
	if err := c.doJSON(ctx, http.MethodGet, "/v1/deliveries/"+strconv.FormatInt(id, 10), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *HTTPClient) RetryDelivery(ctx context.Context, id int64) (*model.Delivery, error) {
	var d model.Delivery
	if err := c.doJSON(ctx, http.MethodPost, "/v1/deliveries/"+strconv.FormatInt(id, 10)+"/retry", nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *HTTPClient) ListAttempts(ctx context.Context, req *ListAttemptsRequest) (*Page[model.AttemptRow], error) {
	q := url.Values{}
	if req.SubscriptionID != "" {
		q.Set("subscription_id", req.SubscriptionID)
	}
	setInt(q, "delivery_id", req.DeliveryID)
	setInt(q, "cursor", req.Cursor)
	setInt(q, "limit", int64(req.Limit))

	var resp Page[model.AttemptRow]
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/attempts", q), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Subscriptions ---

func (c *HTTPClient) CreateSubscription(ctx context.Context, sub *model.WebhookSubscription) (*model.WebhookSubscription, error) {
	var out model.WebhookSubscription
	if err := c.doJSON(ctx, http.MethodPost, "/v1/subscriptions", sub, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetSubscription(ctx context.Context, id string) (*model.WebhookSubscription, error) {
	var out model.WebhookSubscription
	if err := c.doJSON(ctx, http.MethodGet, subscriptionPath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ListSubscriptions(ctx context.Context, req *ListSubscriptionsRequest) ([]*model.WebhookSubscription, error) {
	q := url.Values{}
	if req.AppID != "" {
		q.Set("app_id", req.AppID)
	}
	if req.EventType != "" {
		q.Set("event_type", string(req.EventType))
	}
	if req.Paused != nil {
		q.Set("paused", strconv.FormatBool(*req.Paused))
	}

	var resp struct {
		Items []*model.WebhookSubscription `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/subscriptions", q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// UpdateSubscription replaces the mutable fields of subscription id. A nil
// sub.Auth keeps the stored credentials.
func (c *HTTPClient) UpdateSubscription(ctx context.Context, id string, sub *model.WebhookSubscription) (*model.WebhookSubscription, error) {
	var body any = sub
	if sub.Auth == nil {
		b, err := json.Marshal(sub)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		delete(m, "auth")
		body = m
	}
	var out model.WebhookSubscription
	if err := c.doJSON(ctx, http.MethodPut, subscriptionPath(id), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) DeleteSubscription(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, subscriptionPath(id), nil, nil)
}

func (c *HTTPClient) PauseSubscription(ctx context.Context, id string) (*model.WebhookSubscription, error) {
	var out model.WebhookSubscription
	if err := c.doJSON(ctx, http.MethodPost, subscriptionPath(id)+"/pause", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ResumeSubscription(ctx context.Context, id string) (*model.WebhookSubscription, error) {
	var out model.WebhookSubscription
	if err := c.doJSON(ctx, http.MethodPost, subscriptionPath(id)+"/resume", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func subscriptionPath(id string) string {
	return "/v1/subscriptions/" + url.PathEscape(id)
}

// --- KPIs ---

func (c *HTTPClient) Summary(ctx context.Context, req *KPIRequest) (*model.Summary, error) {
	var out model.Summary
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/kpi/summary", req.values()), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) LatencyHistogram(ctx context.Context, req *KPIRequest, days int) (*model.LatencyHistogram, error) {
	q := req.values()
	setInt(q, "days", int64(days))
	var out model.LatencyHistogram
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/kpi/latency", q), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) VolumeOverTime(ctx context.Context, req *KPIRequest, bucket model.VolumeBucketSize) ([]model.VolumePoint, error) {
	q := req.values()
	if bucket != "" {
		q.Set("bucket", string(bucket))
	}
	var resp struct {
		Points []model.VolumePoint `json:"points"`
	}
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/v1/kpi/volume", q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Points, nil
}

func (r *KPIRequest) values() url.Values {
	q := url.Values{}
	if r == nil {
		return q
	}
	if r.AppID != "" {
		q.Set("app_id", r.AppID)
	}
	if r.WebhookID != "" {
		q.Set("webhook_id", r.WebhookID)
	}
	if !r.From.IsZero() {
		q.Set("from", r.From.UTC().Format(time.RFC3339))
	}
	if !r.To.IsZero() {
		q.Set("to", r.To.UTC().Format(time.RFC3339))
	}
	return q
}

// --- Events ---

func (c *HTTPClient) AppendEvent(ctx context.Context, e *model.Event) (*AppendEventResponse, error) {
	var resp AppendEventResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/events", e, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

func setInt(q url.Values, key string, v int64) {
	if v > 0 {
		q.Set(key, strconv.FormatInt(v, 10))
	}
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Fields     []model.FieldError
}

func (e *APIError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.Message, strings.Join(parts, "; "))
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded (for DELETE/204 responses).
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error  string             `json:"error"`
			Fields []model.FieldError `json:"fields"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error, Fields: errResp.Fields}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
