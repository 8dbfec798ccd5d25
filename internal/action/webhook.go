package action

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/roach88/crewflow/internal/model"
)

// maxWebhookResponse bounds how much of a response body is kept for the
// outcome detail.
const maxWebhookResponse = 4 << 10

// WebhookHandler implements WEBHOOK. Any 2xx/3xx status succeeds.
type WebhookHandler struct {
	HTTP HTTPDoer
}

func (h *WebhookHandler) Execute(ctx context.Context, req Request) (model.ActionOutcome, error) {
	cfg, err := configAs[model.WebhookConfig](req)
	if err != nil {
		return model.ActionOutcome{}, err
	}
	target := req.Context.Render(cfg.URL)
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return model.ActionOutcome{}, Configf("webhook url %q is not an absolute http(s) url", target)
	}

	var body io.Reader
	if cfg.Body != "" {
		body = strings.NewReader(req.Context.Render(cfg.Body))
	}
	method := cfg.EffectiveMethod()
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return model.ActionOutcome{}, Configf("webhook request: %v", err)
	}
	for name, value := range cfg.Headers {
		httpReq.Header.Set(name, req.Context.Render(value))
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.HTTP.Do(httpReq)
	if err != nil {
		return model.ActionOutcome{}, External(method+" "+u.Host, err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponse))
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return model.ActionOutcome{}, External(method+" "+u.Host, fmt.Errorf("status %d", resp.StatusCode))
	}
	detail := map[string]any{"status": resp.StatusCode, "url": u.String()}
	if len(snippet) > 0 {
		detail["response"] = string(snippet)
	}
	return model.Succeeded("", detail), nil
}
