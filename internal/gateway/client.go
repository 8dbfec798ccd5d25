package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/roach88/crewflow/internal/action"
)

// ErrNotConfigured is returned by a client whose base URL is empty.
var ErrNotConfigured = errors.New("service url not configured")

// StatusError is a non-2xx answer from a sibling service.
type StatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Service, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Service, e.Status, e.Body)
}

// service is a JSON-over-HTTP sibling service.
type service struct {
	name    string
	baseURL string
	http    action.HTTPDoer
}

func (s service) post(ctx context.Context, path string, headers map[string]string, in, out any) error {
	if s.baseURL == "" {
		return fmt.Errorf("%s: %w", s.name, ErrNotConfigured)
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", s.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.baseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", s.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Service: s.name, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", s.name, err)
	}
	return nil
}

// MessagingClient sends email and SMS through the messaging service.
//
//	POST {base}/v1/email  {to, from, subject, body, html} -> {id}
//	POST {base}/v1/sms    {to, message}                   -> {id}
type MessagingClient struct {
	svc service
}

// NewMessagingClient creates a messaging client over doer.
func NewMessagingClient(baseURL string, doer action.HTTPDoer) *MessagingClient {
	return &MessagingClient{svc: service{name: "messaging", baseURL: baseURL, http: doer}}
}

func (c *MessagingClient) SendEmail(ctx context.Context, msg action.Email) (action.Receipt, error) {
	var r action.Receipt
	err := c.svc.post(ctx, "/v1/email", nil, msg, &r)
	return r, err
}

func (c *MessagingClient) SendSMS(ctx context.Context, msg action.SMS) (action.Receipt, error) {
	var r action.Receipt
	err := c.svc.post(ctx, "/v1/sms", nil, msg, &r)
	return r, err
}

// SignatureClient requests envelopes from the e-signature service. The
// semantic key hash travels as Idempotency-Key so the service can drop a
// retried request.
//
//	POST {base}/v1/envelopes  EnvelopeRequest -> {id, status}
type SignatureClient struct {
	svc service
}

// NewSignatureClient creates an e-signature client over doer.
func NewSignatureClient(baseURL string, doer action.HTTPDoer) *SignatureClient {
	return &SignatureClient{svc: service{name: "signature", baseURL: baseURL, http: doer}}
}

func (c *SignatureClient) RequestEnvelope(ctx context.Context, req action.EnvelopeRequest) (action.Envelope, error) {
	var env action.Envelope
	headers := map[string]string{}
	if req.IdempotencyKey != "" {
		headers["Idempotency-Key"] = req.IdempotencyKey
	}
	err := c.svc.post(ctx, "/v1/envelopes", headers, req, &env)
	return env, err
}
