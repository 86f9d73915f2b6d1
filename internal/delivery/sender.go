package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/hookd/internal/model"
)

// Header names set on every webhook request.
const (
	HeaderEvent    = "X-Hookd-Event"
	HeaderDelivery = "X-Hookd-Delivery"
	HeaderAttempt  = "X-Hookd-Attempt"

	userAgent = "hookd/1"

	// maxDrain bounds how much of a response body is read before closing.
	maxDrain = 64 << 10
)

// DefaultTimeout bounds one attempt.
const DefaultTimeout = 5 * time.Second

// Payload is the JSON body posted to subscribers.
type Payload struct {
	Event       model.EventType `json:"event"`
	UID         string          `json:"uid"`
	Version     int             `json:"version"`
	Data        json.RawMessage `json:"data"`
	ChainID     *int64          `json:"chainId,omitempty"`
	BlockNumber *int64          `json:"blockNumber,omitempty"`
	LogIndex    *int            `json:"logIndex,omitempty"`
	TxHash      string          `json:"txHash,omitempty"`
	EntityID    string          `json:"entityId,omitempty"`
}

// NewPayload builds the wire body for e.
func NewPayload(e *model.Event) Payload {
	return Payload{
		Event:       e.EventType,
		UID:         e.UID,
		Version:     e.Version,
		Data:        e.Data,
		ChainID:     e.ChainID,
		BlockNumber: e.BlockNumber,
		LogIndex:    e.LogIndex,
		TxHash:      e.TxHash,
		EntityID:    e.EntityID,
	}
}

// Request is one webhook call.
type Request struct {
	URL        string
	Auth       model.Auth
	Event      *model.Event
	DeliveryID int64
	Attempt    int
}

// Result classifies a webhook call. Status is the HTTP status, or
// model.StatusTimeout / model.StatusNetworkError when no status line was
// received. Err describes every non-2xx outcome.
type Result struct {
	Status   int
	Duration time.Duration
	Err      error
}

// Sender performs webhook calls.
type Sender interface {
	Send(ctx context.Context, req Request) Result
}

// HTTPSender posts webhooks with a hard per-attempt timeout.
type HTTPSender struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPSender returns a sender using client, or a fresh client when nil.
// Redirects are not followed; a 3xx is recorded like any other status.
func NewHTTPSender(client *http.Client, timeout time.Duration) *HTTPSender {
	if client == nil {
		client = &http.Client{}
	}
	c := *client
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPSender{client: &c, timeout: timeout}
}

// Send posts req. Cancelling ctx aborts the in-flight request.
func (s *HTTPSender) Send(ctx context.Context, req Request) Result {
	start := time.Now()

	body, err := json.Marshal(NewPayload(req.Event))
	if err != nil {
		return Result{Status: model.StatusNetworkError, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Status: model.StatusNetworkError, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set(HeaderEvent, string(req.Event.EventType))
	httpReq.Header.Set(HeaderDelivery, strconv.FormatInt(req.DeliveryID, 10))
	httpReq.Header.Set(HeaderAttempt, strconv.Itoa(req.Attempt))
	if req.Auth != nil {
		req.Auth.Apply(httpReq.Header)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		res := Result{Duration: time.Since(start)}
		if isTimeout(attemptCtx, err) {
			res.Status = model.StatusTimeout
			res.Err = fmt.Errorf("timeout after %s", s.timeout)
		} else {
			res.Status = model.StatusNetworkError
			res.Err = err
		}
		return res
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	resp.Body.Close()

	res := Result{Status: resp.StatusCode, Duration: time.Since(start)}
	if !model.IsSuccessStatus(resp.StatusCode) {
		res.Err = fmt.Errorf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return res
}

func isTimeout(attemptCtx context.Context, err error) bool {
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
