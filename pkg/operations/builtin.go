package operations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/spf13/cast"
)

const defaultHTTPTimeout = 30 * time.Second

var (
	ErrInvalidURL   = errors.New("invalid request url")
	ErrServerStatus = errors.New("server error during HTTP request")
)

// RegisterBuiltins adds the operations every deployment provides:
//
//	log           writes params to the worker log
//	http_get      GET request, retried on failure
//	http_request  any method, attempted once
func RegisterBuiltins(r *Registry, client *http.Client) {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}

	r.Register("log", logOperation(r.logger), true)
	r.Register("http_get", httpOperation(client, http.MethodGet), true)
	r.Register("http_request", httpOperation(client, ""), false)
}

func logOperation(logger *slog.Logger) Func {
	return func(ctx context.Context, tenant models.Tenant, params map[string]any) (any, error) {
		logger.InfoContext(ctx, cast.ToString(params["message"]), "project_id", tenant.ProjectID, "params", params)

		return map[string]any{"logged": true}, nil
	}
}

// httpOperation returns the response as {status_code, body, headers}. The body is decoded
// as JSON when possible. A 5xx response is an error so idempotent calls get retried.
func httpOperation(client *http.Client, fixedMethod string) Func {
	return func(ctx context.Context, _ models.Tenant, params map[string]any) (any, error) {
		method := fixedMethod
		if method == "" {
			method = strings.ToUpper(cast.ToString(params["method"]))
		}

		if method == "" {
			method = http.MethodGet
		}

		url := cast.ToString(params["url"])
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidURL, url)
		}

		body, err := requestBody(params["body"])
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, fmt.Errorf("failed to create http request: %w", err)
		}

		for key, value := range cast.ToStringMapString(params["headers"]) {
			req.Header.Set(key, value)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http request failed: %w", err)
		}

		defer func() {
			_ = resp.Body.Close()
		}()

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: status %d", ErrServerStatus, resp.StatusCode)
		}

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		var decoded any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			decoded = string(payload)
		}

		headers := make(map[string]any, len(resp.Header))
		for key := range resp.Header {
			headers[key] = resp.Header.Get(key)
		}

		return map[string]any{
			"status_code": resp.StatusCode,
			"body":        decoded,
			"headers":     headers,
		}, nil
	}
}

func requestBody(value any) (io.Reader, error) {
	switch body := value.(type) {
	case nil:
		return nil, nil
	case string:
		return strings.NewReader(body), nil
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}

		return strings.NewReader(string(encoded)), nil
	}
}
