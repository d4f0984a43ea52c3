package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/micromdm/nanorpa/rpa"
)

// maxResponseBody limits how much of an api_call response is read.
const maxResponseBody = 1 << 20

// apiCall performs an HTTP request.
// Config: "url" (required), "method" (default GET), "headers" map, and "body".
// A JSON response body is decoded. 4xx responses other than 408 and 429
// are validation errors and are not retried.
func (b *Builtins) apiCall(ctx context.Context, step *rpa.Step, ec *rpa.ExecutionContext) (map[string]interface{}, error) {
	url, err := requireStr(step, ec, "url")
	if err != nil {
		return nil, err
	}
	method := strings.ToUpper(str(step, ec, "method"))
	if method == "" {
		method = http.MethodGet
	}
	headers, err := stringMap(step, ec, "headers")
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if v, ok := value(step, ec, "body"); ok && v != nil {
		if s, ok := v.(string); ok {
			body = strings.NewReader(s)
		} else {
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("marshal body: %w", err)
			}
			body = bytes.NewReader(raw)
			if _, ok := headers["Content-Type"]; !ok {
				if headers == nil {
					headers = make(map[string]string)
				}
				headers["Content-Type"] = "application/json"
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, rpa.NewConfigurationError("step %s: %v", step.ID, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, rpa.NewValidationError("step %s: %s %s: status %d", step.ID, method, url, resp.StatusCode)
	}

	var decoded interface{} = string(raw)
	if len(raw) > 0 && json.Valid(raw) {
		if err = json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("decoding response: %w", err)
		}
	}
	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"response":    decoded,
	}, nil
}
