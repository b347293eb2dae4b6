package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"flowrt.dev/errs"
	"flowrt.dev/flow"
	"flowrt.dev/variables"
)

// webhookClient wraps the stdlib http.Client the way the teacher's
// http.Execute does (URL check, timeout, response draining),
// simplified to this package's needs: one request, no retry. Callers
// report a failed request in their result map (webhook_executed or
// api_call_executed false) rather than as an error, and nothing
// retries it.
type webhookClient struct {
	client *http.Client
}

func newWebhookClient() *webhookClient {
	return &webhookClient{client: &http.Client{}}
}

// webhookResult is what do returns. ExecuteWebhook stores its fields
// under webhook_responses.<key> as status_code/response/timestamp, and
// apiCall under api_responses.<key> as status_code/data/timestamp,
// matching the original's content-type sniffing
// (node_processor_core.py execute_webhook_operation /
// _execute_api_call): parsed JSON when the response is
// application/json, raw text otherwise.
type webhookResult struct {
	StatusCode int         `json:"status_code"`
	Response   interface{} `json:"response"`
	Timestamp  string      `json:"timestamp"`
}

func (c *webhookClient) do(ctx context.Context, method, url string, headers map[string]string, payload interface{}, timeout time.Duration) (*webhookResult, error) {
	if url == "" {
		return nil, errs.New(errs.InvalidInput, "url is empty after variable resolution")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, errs.New(errs.InvalidInput, fmt.Sprintf("invalid url protocol: %s", url))
	}
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if payload != nil && (method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch) {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("webhook: marshal payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("webhook: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := c.client
	if timeout > 0 {
		cp := *c.client
		cp.Timeout = timeout
		client = &cp
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.WebhookFailed, "webhook request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("webhook: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.New(errs.WebhookFailed, fmt.Sprintf("%s %s: status %d", method, url, resp.StatusCode))
	}

	var parsed interface{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			parsed = string(raw)
		}
	} else {
		parsed = string(raw)
	}

	return &webhookResult{
		StatusCode: resp.StatusCode,
		Response:   parsed,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// ExecuteWebhook runs a WEBHOOK node's configured call (spec §4.3.1,
// §4.6 step 5), resolving its url/headers/payload through resolver
// first, then storing the response under
// webhook_responses.<response_key> if configured.
func (p *Processor) ExecuteWebhook(ctx context.Context, sessionID string, revision int64, cfg flow.WebhookContent, resolver *variables.Resolver) (map[string]interface{}, error) {
	report := ValidateWebhook(cfg)
	if !report.Valid() {
		var msgs []string
		for _, e := range report.Errors {
			msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field, e.Message))
		}
		return map[string]interface{}{"webhook_executed": false, "validation_errors": msgs}, nil
	}

	url := resolver.SubstituteVariables(cfg.URL, false)
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = resolver.SubstituteVariables(fmt.Sprintf("%v", v), false)
	}
	payload := resolver.SubstituteObject(cfg.Payload, false)

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	timeout := 30 * time.Second
	if cfg.TimeoutSecs > 0 {
		timeout = time.Duration(cfg.TimeoutSecs) * time.Second
	}

	result, err := p.HTTP.do(ctx, strings.ToUpper(method), url, headers, payload, timeout)
	if err != nil {
		return map[string]interface{}{"webhook_executed": false, "error": err.Error()}, nil
	}

	out := map[string]interface{}{
		"webhook_executed": true,
		"status_code":      result.StatusCode,
		"response_stored":  cfg.StoreResponse,
	}

	if cfg.StoreResponse {
		responseKey := cfg.ResponseKey
		if responseKey == "" {
			responseKey = "webhook_response"
		}
		update := map[string]interface{}{
			"webhook_responses": map[string]interface{}{
				responseKey: map[string]interface{}{
					"status_code": result.StatusCode,
					"response":    result.Response,
					"timestamp":   result.Timestamp,
				},
			},
		}
		if _, err := p.Sessions.UpdateState(ctx, sessionID, "", update, revision); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// apiCall implements the api_call ACTION operation, the synchronous
// sibling of ExecuteWebhook kept on Processor so it shares the CAS
// write path with the other ops in executeOne.
func (p *Processor) apiCall(ctx context.Context, sessionID string, revision int64, op flow.ActionOp) (map[string]interface{}, int64, error) {
	headers := make(map[string]string, len(op.Headers))
	for k, v := range op.Headers {
		headers[k] = fmt.Sprintf("%v", v)
	}
	method := op.Method
	if method == "" {
		method = http.MethodGet
	}

	result, err := p.HTTP.do(ctx, strings.ToUpper(method), op.URL, headers, op.Payload, 30*time.Second)
	if err != nil {
		return map[string]interface{}{"api_call_executed": false, "error": err.Error(), "url": op.URL}, 0, nil
	}

	out := map[string]interface{}{
		"api_call_executed": true,
		"status_code":       result.StatusCode,
		"url":               op.URL,
	}

	if !op.StoreResponse {
		return out, 0, nil
	}
	responseKey := op.ResponseKey
	if responseKey == "" {
		responseKey = "api_response"
	}
	update := map[string]interface{}{
		"api_responses": map[string]interface{}{
			responseKey: map[string]interface{}{
				"status_code": result.StatusCode,
				"data":        result.Response,
				"timestamp":   result.Timestamp,
			},
		},
	}
	updated, err := p.Sessions.UpdateState(ctx, sessionID, "", update, revision)
	if err != nil {
		return nil, 0, err
	}
	out["response_stored"] = true
	out["response_key"] = responseKey
	return out, updated.Revision, nil
}
